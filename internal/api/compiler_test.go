package api

import (
	"context"
	"testing"

	"querybroker/internal/broker/model"
)

func TestJSONCompiler_SelectionRequest(t *testing.T) {
	c := NewJSONCompiler()
	pql := `{"table":"events","format":"SELECTION","selection":{"columns":["a","b"],"size":10}}`

	req, err := c.Compile(context.Background(), pql, true, map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if req.Table != "events" {
		t.Errorf("Table = %q, want events", req.Table)
	}
	if req.Format != model.ResponseFormatSelection {
		t.Errorf("Format = %v, want Selection", req.Format)
	}
	if req.Selection == nil || req.Selection.Size != 10 || len(req.Selection.Columns) != 2 {
		t.Fatalf("Selection not decoded correctly: %+v", req.Selection)
	}
	if !req.Trace {
		t.Error("Trace should be true")
	}
	if req.DebugOptions["k"] != "v" {
		t.Errorf("DebugOptions not passed through: %v", req.DebugOptions)
	}
}

func TestJSONCompiler_AggregationWithFilter(t *testing.T) {
	c := NewJSONCompiler()
	pql := `{
		"table": "events",
		"format": "AGGREGATION",
		"aggregations": [{"function": "SUM", "column": "v"}],
		"filter": {
			"rootId": 1,
			"nodes": [
				{"id": 1, "operator": "EQ", "column": "status", "values": ["ok"]}
			]
		}
	}`

	req, err := c.Compile(context.Background(), pql, false, nil)
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if len(req.Aggregations) != 1 || req.Aggregations[0].Column != "v" {
		t.Fatalf("Aggregations not decoded: %+v", req.Aggregations)
	}
	if req.Filter == nil || req.Filter.RootID != 1 {
		t.Fatalf("Filter not decoded: %+v", req.Filter)
	}
	root := req.Filter.Root()
	if root == nil || root.Operator != model.FilterOperatorEqual {
		t.Fatalf("Filter root not resolved correctly: %+v", root)
	}
}

func TestJSONCompiler_EmptyPqlIsParsingError(t *testing.T) {
	c := NewJSONCompiler()
	if _, err := c.Compile(context.Background(), "", false, nil); err == nil {
		t.Fatal("expected error for empty pql")
	}
}

func TestJSONCompiler_MalformedJSONIsParsingError(t *testing.T) {
	c := NewJSONCompiler()
	if _, err := c.Compile(context.Background(), "{not json", false, nil); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestJSONCompiler_MissingTableIsParsingError(t *testing.T) {
	c := NewJSONCompiler()
	if _, err := c.Compile(context.Background(), `{"format":"SELECTION"}`, false, nil); err == nil {
		t.Fatal("expected error for missing table")
	}
}

func TestJSONCompiler_UnknownFormatIsParsingError(t *testing.T) {
	c := NewJSONCompiler()
	if _, err := c.Compile(context.Background(), `{"table":"events","format":"BOGUS"}`, false, nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestJSONCompiler_UnknownFilterOperatorIsParsingError(t *testing.T) {
	c := NewJSONCompiler()
	pql := `{"table":"events","format":"SELECTION","filter":{"rootId":1,"nodes":[{"id":1,"operator":"BOGUS"}]}}`
	if _, err := c.Compile(context.Background(), pql, false, nil); err == nil {
		t.Fatal("expected error for unknown filter operator")
	}
}
