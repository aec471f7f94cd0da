package reduce

import (
	"encoding/json"

	"querybroker/internal/broker/model"
)

// avgPartial is the wire convention for an AVG shard's OBJECT cell: a
// (sum, count) pair, merged by adding both components (spec 4.9).
type avgPartial struct {
	Sum   float64 `json:"sum"`
	Count int64   `json:"count"`
}

// distinctPartial is the wire convention for a DISTINCTCOUNT shard's
// OBJECT cell: the exact set of distinct values it observed, carried as
// strings. Merging is set union; no probabilistic sketch library exists in
// this module's dependency stack, so DISTINCTCOUNT is exact rather than
// HLL-estimated.
type distinctPartial []string

// percentilePartial is the wire convention for a PERCENTILE shard's OBJECT
// cell: the raw sample values it observed. Merging is concatenation; the
// percentile is computed by sorting the merged samples, which is exact
// rather than digest-estimated for the same reason as DISTINCTCOUNT.
type percentilePartial []float64

// reduceAggregations implements the no-group-by Aggregation reduction path
// of spec 4.9: one scalar value per request aggregation, merged by that
// function's associative law across every table's single row.
func reduceAggregations(
	req *model.BrokerRequest,
	tables map[model.ServerInstance]*model.DataTable,
	servers []model.ServerInstance,
) []model.AggregationResult {
	results := make([]model.AggregationResult, len(req.Aggregations))

	for i, agg := range req.Aggregations {
		results[i] = model.AggregationResult{Function: agg.Function, Column: agg.Column}

		acc := newAccumulator(agg.Function)
		for _, s := range servers {
			t := tables[s]
			if t == nil || len(t.Rows) == 0 || i >= len(t.Rows[0]) {
				continue
			}
			acc.merge(t.Rows[0][i])
		}
		results[i].Value = acc.finalize(agg.Arg)
	}

	return results
}

// accumulator merges a stream of per-shard cell values under one
// aggregation function's combine law.
type accumulator interface {
	merge(cell any)
	finalize(arg string) any
}

func newAccumulator(fn model.AggregationFunction) accumulator {
	switch fn {
	case model.AggregationSum:
		return &sumAcc{}
	case model.AggregationMin:
		return &extremumAcc{pick: func(a, b float64) float64 {
			if a < b {
				return a
			}
			return b
		}, set: false}
	case model.AggregationMax:
		return &extremumAcc{pick: func(a, b float64) float64 {
			if a > b {
				return a
			}
			return b
		}, set: false}
	case model.AggregationCount:
		return &countAcc{}
	case model.AggregationAvg:
		return &avgAcc{}
	case model.AggregationDistinctCount:
		return &distinctAcc{seen: make(map[string]struct{})}
	case model.AggregationPercentile:
		return &percentileAcc{}
	default:
		return &sumAcc{}
	}
}

type sumAcc struct{ total float64 }

func (a *sumAcc) merge(cell any)      { a.total += toFloat(cell) }
func (a *sumAcc) finalize(string) any { return a.total }

type countAcc struct{ total int64 }

func (a *countAcc) merge(cell any)      { a.total += toInt(cell) }
func (a *countAcc) finalize(string) any { return a.total }

type extremumAcc struct {
	pick  func(a, b float64) float64
	value float64
	set   bool
}

func (a *extremumAcc) merge(cell any) {
	v := toFloat(cell)
	if !a.set {
		a.value, a.set = v, true
		return
	}
	a.value = a.pick(a.value, v)
}

func (a *extremumAcc) finalize(string) any { return a.value }

type avgAcc struct {
	sum   float64
	count int64
}

func (a *avgAcc) merge(cell any) {
	p, ok := decodeAvg(cell)
	if !ok {
		return
	}
	a.sum += p.Sum
	a.count += p.Count
}

func (a *avgAcc) finalize(string) any {
	if a.count == 0 {
		return 0.0
	}
	return a.sum / float64(a.count)
}

type distinctAcc struct{ seen map[string]struct{} }

func (a *distinctAcc) merge(cell any) {
	for _, v := range decodeDistinct(cell) {
		a.seen[v] = struct{}{}
	}
}

func (a *distinctAcc) finalize(string) any { return int64(len(a.seen)) }

type percentileAcc struct{ samples []float64 }

func (a *percentileAcc) merge(cell any) {
	a.samples = append(a.samples, decodePercentile(cell)...)
}

func (a *percentileAcc) finalize(arg string) any {
	return percentileOf(a.samples, arg)
}

func decodeAvg(cell any) (avgPartial, bool) {
	b, ok := cell.([]byte)
	if !ok {
		return avgPartial{}, false
	}
	var p avgPartial
	if err := json.Unmarshal(b, &p); err != nil {
		return avgPartial{}, false
	}
	return p, true
}

func decodeDistinct(cell any) distinctPartial {
	b, ok := cell.([]byte)
	if !ok {
		return nil
	}
	var p distinctPartial
	_ = json.Unmarshal(b, &p)
	return p
}

func decodePercentile(cell any) percentilePartial {
	b, ok := cell.([]byte)
	if !ok {
		return nil
	}
	var p percentilePartial
	_ = json.Unmarshal(b, &p)
	return p
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
