package model

// ResponseFormat selects which of the three C9 reduction paths a request
// takes: plain column selection, scalar aggregation, or grouped aggregation.
type ResponseFormat int

const (
	ResponseFormatSelection ResponseFormat = iota
	ResponseFormatAggregation
	ResponseFormatGroupBy
)

// SortColumn is one column of a selection's ORDER BY sequence.
type SortColumn struct {
	Column     string
	Descending bool
}

// Selection describes the columns, row limit and optional ordering of a
// plain selection query.
type Selection struct {
	Columns []string
	Size    int
	Sort    []SortColumn
}

// AggregationFunction names one of the associative reduction laws C9 knows
// how to merge.
type AggregationFunction string

const (
	AggregationSum           AggregationFunction = "SUM"
	AggregationMin           AggregationFunction = "MIN"
	AggregationMax           AggregationFunction = "MAX"
	AggregationCount         AggregationFunction = "COUNT"
	AggregationAvg           AggregationFunction = "AVG"
	AggregationDistinctCount AggregationFunction = "DISTINCTCOUNT"
	AggregationPercentile    AggregationFunction = "PERCENTILE"
)

// AggregationInfo describes one aggregation expression in a request.
type AggregationInfo struct {
	Function AggregationFunction
	Column   string
	// Arg carries the extra parameter percentile-family functions need
	// (e.g. "95" for PERCENTILE(95)). Empty for functions that take none.
	Arg string
}

// GroupByInfo describes the grouping expressions and truncation applied to
// a group-by query.
type GroupByInfo struct {
	Expressions []string
	TopN        int
}

// BrokerRequest is a single submitted query: a query-source (logical table
// name), exactly one of Selection/Aggregations+GroupBy populated per
// ResponseFormat, a filter tree, and the options that travel with it
// end-to-end (trace flag, debug options, bucket-hash key).
type BrokerRequest struct {
	RequestID int64

	Table  string
	Format ResponseFormat

	Selection    *Selection
	Aggregations []AggregationInfo
	GroupBy      *GroupByInfo

	Filter *FilterSubQueryMap

	Trace        bool
	DebugOptions map[string]string

	// HashKey is the opaque value handed to the replica selector. The
	// round-robin policy does not use it (its cursor is per segment
	// group); only the hash policy does, routing two requests with the
	// same HashKey to the same replica for a given segment group.
	HashKey string
}

// Clone returns a deep copy of the request, including its filter tree. C1's
// optimizer and C3's splitter both operate on clones so the original request
// tree is never mutated in place.
func (r *BrokerRequest) Clone() *BrokerRequest {
	clone := &BrokerRequest{
		RequestID: r.RequestID,
		Table:     r.Table,
		Format:    r.Format,
		Trace:     r.Trace,
		HashKey:   r.HashKey,
		Filter:    r.Filter.Clone(),
	}

	if r.Selection != nil {
		sel := *r.Selection
		sel.Columns = append([]string(nil), r.Selection.Columns...)
		sel.Sort = append([]SortColumn(nil), r.Selection.Sort...)
		clone.Selection = &sel
	}
	if r.Aggregations != nil {
		clone.Aggregations = append([]AggregationInfo(nil), r.Aggregations...)
	}
	if r.GroupBy != nil {
		gb := *r.GroupBy
		gb.Expressions = append([]string(nil), r.GroupBy.Expressions...)
		clone.GroupBy = &gb
	}
	if r.DebugOptions != nil {
		clone.DebugOptions = make(map[string]string, len(r.DebugOptions))
		for k, v := range r.DebugOptions {
			clone.DebugOptions[k] = v
		}
	}

	return clone
}

// ResponseLimit returns the size that C1 must validate against the
// configured limit: the group-by top-N when a group-by is present,
// otherwise the selection size.
func (r *BrokerRequest) ResponseLimit() int {
	if r.GroupBy != nil {
		return r.GroupBy.TopN
	}
	if r.Selection != nil {
		return r.Selection.Size
	}
	return 0
}

// RoutingOptions parses the comma-separated "routingOptions" debug option,
// returning nil if it was not set.
func (r *BrokerRequest) RoutingOptions() []string {
	raw, ok := r.DebugOptions["routingOptions"]
	if !ok || raw == "" {
		return nil
	}
	return splitNonEmpty(raw, ',')
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
