package api

import (
	"context"
	"encoding/json"
	"fmt"

	"querybroker/internal/broker/model"
	"querybroker/internal/broker/query"
	"querybroker/pkg/apperror"
)

// JSONCompiler is the broker's one concrete query.Compiler: the external
// query-language grammar (C0) is an out-of-scope collaborator (spec
// section 1, "no SQL parsing"), so this treats the inbound "pql" string as
// an already-structured JSON document describing the request tree rather
// than parsing a query language.
type JSONCompiler struct{}

// NewJSONCompiler builds the JSON-envelope Compiler.
func NewJSONCompiler() *JSONCompiler {
	return &JSONCompiler{}
}

var _ query.Compiler = (*JSONCompiler)(nil)

type wireSelection struct {
	Columns []string        `json:"columns"`
	Size    int             `json:"size"`
	Sort    []wireSortField `json:"sort,omitempty"`
}

type wireSortField struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
}

type wireAggregationInfo struct {
	Function string `json:"function"`
	Column   string `json:"column"`
	Arg      string `json:"arg,omitempty"`
}

type wireGroupBy struct {
	Expressions []string `json:"expressions"`
	TopN        int      `json:"topN"`
}

type wireFilterNode struct {
	ID       int32    `json:"id"`
	Operator string   `json:"operator"`
	Column   string   `json:"column,omitempty"`
	Values   []string `json:"values,omitempty"`
	ChildIDs []int32  `json:"childIds,omitempty"`
}

type wireFilter struct {
	RootID int32            `json:"rootId"`
	Nodes  []wireFilterNode `json:"nodes"`
}

type wireRequest struct {
	Table        string                `json:"table"`
	Format       string                `json:"format"`
	Selection    *wireSelection        `json:"selection,omitempty"`
	Aggregations []wireAggregationInfo `json:"aggregations,omitempty"`
	GroupBy      *wireGroupBy          `json:"groupBy,omitempty"`
	Filter       *wireFilter           `json:"filter,omitempty"`
	HashKey      string                `json:"hashKey,omitempty"`
}

var filterOperators = map[string]model.FilterOperator{
	"AND":    model.FilterOperatorAnd,
	"OR":     model.FilterOperatorOr,
	"EQ":     model.FilterOperatorEqual,
	"NEQ":    model.FilterOperatorNotEqual,
	"RANGE":  model.FilterOperatorRange,
	"IN":     model.FilterOperatorIn,
	"NOT_IN": model.FilterOperatorNotIn,
}

var responseFormats = map[string]model.ResponseFormat{
	"SELECTION":   model.ResponseFormatSelection,
	"AGGREGATION": model.ResponseFormatAggregation,
	"GROUP_BY":    model.ResponseFormatGroupBy,
}

// Compile decodes pql as a wireRequest JSON document and builds the
// equivalent model.BrokerRequest. An empty or malformed document is a
// PqlParsingError, matching the error taxonomy a real grammar's parse
// failure would report.
func (c *JSONCompiler) Compile(_ context.Context, pql string, trace bool, debugOptions map[string]string) (*model.BrokerRequest, error) {
	if pql == "" {
		return nil, apperror.New(apperror.CodePqlParsingError, "empty query")
	}

	var wr wireRequest
	if err := json.Unmarshal([]byte(pql), &wr); err != nil {
		return nil, apperror.Wrap(err, apperror.CodePqlParsingError, "malformed query document")
	}
	if wr.Table == "" {
		return nil, apperror.New(apperror.CodePqlParsingError, "query document is missing \"table\"")
	}

	format, ok := responseFormats[wr.Format]
	if !ok {
		return nil, apperror.New(apperror.CodePqlParsingError, fmt.Sprintf("unknown format %q", wr.Format))
	}

	req := &model.BrokerRequest{
		Table:        wr.Table,
		Format:       format,
		HashKey:      wr.HashKey,
		Trace:        trace,
		DebugOptions: debugOptions,
	}

	if wr.Selection != nil {
		sel := &model.Selection{Columns: wr.Selection.Columns, Size: wr.Selection.Size}
		for _, s := range wr.Selection.Sort {
			sel.Sort = append(sel.Sort, model.SortColumn{Column: s.Column, Descending: s.Descending})
		}
		req.Selection = sel
	}

	for _, a := range wr.Aggregations {
		req.Aggregations = append(req.Aggregations, model.AggregationInfo{
			Function: model.AggregationFunction(a.Function),
			Column:   a.Column,
			Arg:      a.Arg,
		})
	}

	if wr.GroupBy != nil {
		req.GroupBy = &model.GroupByInfo{Expressions: wr.GroupBy.Expressions, TopN: wr.GroupBy.TopN}
	}

	if wr.Filter != nil {
		filter := model.NewFilterSubQueryMap()
		filter.RootID = wr.Filter.RootID
		for _, n := range wr.Filter.Nodes {
			op, ok := filterOperators[n.Operator]
			if !ok {
				return nil, apperror.New(apperror.CodePqlParsingError, fmt.Sprintf("unknown filter operator %q", n.Operator))
			}
			filter.Add(&model.FilterQuery{ID: n.ID, Operator: op, Column: n.Column, Values: n.Values, ChildIDs: n.ChildIDs})
		}
		req.Filter = filter
	}

	return req, nil
}
