package wire

import (
	"testing"

	"querybroker/internal/broker/model"
)

func TestInstanceRequest_RoundTrip(t *testing.T) {
	req := &model.InstanceRequest{
		RequestID:    42,
		BrokerID:     "broker-1",
		TraceEnabled: true,
		SegmentNames: []string{"seg0", "seg1"},
		Query: &model.BrokerRequest{
			Table:   "events_OFFLINE",
			Format:  model.ResponseFormatSelection,
			HashKey: "k1",
			Trace:   true,
			Selection: &model.Selection{
				Columns: []string{"a", "b"},
				Size:    10,
				Sort:    []model.SortColumn{{Column: "a", Descending: true}},
			},
			Filter: &model.FilterSubQueryMap{
				RootID: 1,
				Nodes: map[int32]*model.FilterQuery{
					1: {ID: 1, Operator: model.FilterOperatorAnd, ChildIDs: []int32{2, -1}},
					2: {ID: 2, Operator: model.FilterOperatorEqual, Column: "c", Values: []string{"v"}},
				},
			},
			DebugOptions: map[string]string{"routingOptions": "forceHLC"},
		},
	}

	encoded := EncodeInstanceRequest(req)
	decoded, err := DecodeInstanceRequest(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if decoded.RequestID != req.RequestID || decoded.BrokerID != req.BrokerID || decoded.TraceEnabled != req.TraceEnabled {
		t.Errorf("header mismatch: %+v", decoded)
	}
	if len(decoded.SegmentNames) != 2 || decoded.SegmentNames[1] != "seg1" {
		t.Errorf("segment names mismatch: %v", decoded.SegmentNames)
	}
	if decoded.Query.Table != "events_OFFLINE" || decoded.Query.Selection.Size != 10 {
		t.Errorf("query mismatch: %+v", decoded.Query)
	}
	if decoded.Query.Filter.Root().Operator != model.FilterOperatorAnd {
		t.Errorf("filter root mismatch: %+v", decoded.Query.Filter.Root())
	}
	if decoded.Query.DebugOptions["routingOptions"] != "forceHLC" {
		t.Errorf("debug options mismatch: %v", decoded.Query.DebugOptions)
	}
}

func TestInstanceRequest_NoFilterNoSelection(t *testing.T) {
	req := &model.InstanceRequest{
		Query: &model.BrokerRequest{
			Table: "events_OFFLINE",
			Aggregations: []model.AggregationInfo{
				{Function: model.AggregationCount, Column: "*"},
			},
		},
	}

	decoded, err := DecodeInstanceRequest(EncodeInstanceRequest(req))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Query.Filter != nil || decoded.Query.Selection != nil {
		t.Errorf("expected nil filter/selection to survive round trip, got %+v", decoded.Query)
	}
	if len(decoded.Query.Aggregations) != 1 || decoded.Query.Aggregations[0].Function != model.AggregationCount {
		t.Errorf("aggregations mismatch: %v", decoded.Query.Aggregations)
	}
}

func TestDecodeInstanceRequest_Truncated(t *testing.T) {
	if _, err := DecodeInstanceRequest([]byte{0, 0}); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestDataTable_RoundTrip(t *testing.T) {
	table := &model.DataTable{
		Schema: &model.DataSchema{
			ColumnNames: []string{"a", "b", "c"},
			ColumnTypes: []model.ColumnType{model.ColumnTypeLong, model.ColumnTypeDouble, model.ColumnTypeString},
		},
		Rows: [][]any{
			{int64(1), 2.5, "x"},
			{int64(2), 3.5, "y"},
		},
		Metadata: model.Metadata{
			NumDocsScanned: 2,
			TotalDocs:      2,
			Exceptions:     map[string]string{"Exception150": "boom"},
		},
	}

	decoded, err := DecodeDataTable(EncodeDataTable(table))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", decoded.NumRows())
	}
	if decoded.Rows[0][0].(int64) != 1 || decoded.Rows[1][2].(string) != "y" {
		t.Errorf("row values mismatch: %+v", decoded.Rows)
	}
	if decoded.Metadata.NumDocsScanned != 2 || decoded.Metadata.Exceptions["Exception150"] != "boom" {
		t.Errorf("metadata mismatch: %+v", decoded.Metadata)
	}
}

func TestDataTable_ObjectColumnRoundTrip(t *testing.T) {
	table := &model.DataTable{
		Schema: &model.DataSchema{
			ColumnNames: []string{"avg"},
			ColumnTypes: []model.ColumnType{model.ColumnTypeObject},
		},
		Rows: [][]any{{[]byte(`{"sum":10,"count":2}`)}},
	}

	decoded, err := DecodeDataTable(EncodeDataTable(table))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(decoded.Rows[0][0].([]byte)) != `{"sum":10,"count":2}` {
		t.Errorf("object cell mismatch: %v", decoded.Rows[0][0])
	}
}

func TestDecodeDataTable_Truncated(t *testing.T) {
	if _, err := DecodeDataTable([]byte{0, 0, 0, 100}); err != ErrTruncated {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}
