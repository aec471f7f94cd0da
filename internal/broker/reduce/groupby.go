package reduce

import (
	"sort"
	"strconv"
	"strings"

	"querybroker/internal/broker/model"
)

// reduceGroupBy implements the Group-by reduction path of spec 4.9: for
// each aggregation, per-group partials are merged keyed by the tuple of
// group-by expression values, then the merged groups are ordered
// descending by value (ties broken lexicographically by group-key) and
// truncated to top-N.
func reduceGroupBy(
	req *model.BrokerRequest,
	tables map[model.ServerInstance]*model.DataTable,
	servers []model.ServerInstance,
) []model.AggregationResult {
	groupCols := 0
	topN := 0
	if req.GroupBy != nil {
		groupCols = len(req.GroupBy.Expressions)
		topN = req.GroupBy.TopN
	}

	results := make([]model.AggregationResult, len(req.Aggregations))
	for i, agg := range req.Aggregations {
		results[i] = model.AggregationResult{Function: agg.Function, Column: agg.Column}

		valueCol := groupCols + i
		accs := make(map[string]accumulator)
		keys := make(map[string][]string)

		for _, s := range servers {
			t := tables[s]
			if t == nil {
				continue
			}
			for _, row := range t.Rows {
				if valueCol >= len(row) {
					continue
				}
				groupKey := rowGroupKey(row, groupCols)
				joined := strings.Join(groupKey, "\x00")
				acc, ok := accs[joined]
				if !ok {
					acc = newAccumulator(agg.Function)
					accs[joined] = acc
					keys[joined] = groupKey
				}
				acc.merge(row[valueCol])
			}
		}

		entries := make([]model.GroupByResult, 0, len(accs))
		for joined, acc := range accs {
			entries = append(entries, model.GroupByResult{GroupKey: keys[joined], Value: acc.finalize(agg.Arg)})
		}

		sort.Slice(entries, func(a, b int) bool {
			cmp := compareGroupValues(entries[a].Value, entries[b].Value)
			if cmp != 0 {
				return cmp > 0
			}
			return strings.Join(entries[a].GroupKey, "\x00") < strings.Join(entries[b].GroupKey, "\x00")
		})

		if topN > 0 && len(entries) > topN {
			entries = entries[:topN]
		}
		results[i].GroupByResults = entries
	}

	return results
}

func rowGroupKey(row []any, groupCols int) []string {
	key := make([]string, groupCols)
	for i := 0; i < groupCols && i < len(row); i++ {
		key[i] = formatCell(row[i])
	}
	return key
}

func formatCell(v any) string {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case string:
		return n
	default:
		return ""
	}
}

// compareGroupValues orders two finalized aggregation values descending by
// magnitude when both are numeric, falling back to formatted-string order
// (spec 4.9: "if an aggregation emits non-numeric values ... ordering is by
// the formatted string").
func compareGroupValues(a, b any) int {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(formatCell(a), formatCell(b))
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
