package api

import (
	"encoding/json"
	"net/http"

	"querybroker/internal/broker/model"
)

// wireSelectionResult mirrors model.SelectionResult under the external
// JSON names spec section 6 names.
type wireSelectionResult struct {
	Columns []string `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows"`
}

type wireGroupByResult struct {
	GroupKey []string `json:"groupKey"`
	Value    any      `json:"value"`
}

type wireAggregationResult struct {
	Function       string              `json:"function"`
	Column         string              `json:"column"`
	Value          any                 `json:"value,omitempty"`
	GroupByResults []wireGroupByResult `json:"groupByResults,omitempty"`
}

type wireException struct {
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message"`
}

// wireResponse is the external JSON shape returned from the query entry
// point (spec section 6): at most one of SelectionResults/
// AggregationResults is populated, as in model.BrokerResponse; a response
// built by model.Empty carries selectionResults whatever the format.
type wireResponse struct {
	SelectionResults            *wireSelectionResult    `json:"selectionResults,omitempty"`
	AggregationResults          []wireAggregationResult `json:"aggregationResults,omitempty"`
	Exceptions                  []wireException         `json:"exceptions"`
	NumDocsScanned              int64                   `json:"numDocsScanned"`
	NumEntriesScannedInFilter   int64                   `json:"numEntriesScannedInFilter"`
	NumEntriesScannedPostFilter int64                   `json:"numEntriesScannedPostFilter"`
	TotalDocs                   int64                   `json:"totalDocs"`
	TimeUsedMs                  int64                   `json:"timeUsedMs"`
	TraceInfo                   map[string]string       `json:"traceInfo,omitempty"`
}

func toWireResponse(resp *model.BrokerResponse) wireResponse {
	w := wireResponse{
		Exceptions:                  make([]wireException, 0, len(resp.Exceptions)),
		NumDocsScanned:              resp.NumDocsScanned,
		NumEntriesScannedInFilter:   resp.NumEntriesScannedInFilter,
		NumEntriesScannedPostFilter: resp.NumEntriesScannedPostFilter,
		TotalDocs:                   resp.TotalDocs,
		TimeUsedMs:                  resp.TimeUsedMs,
		TraceInfo:                   resp.TraceInfo,
	}

	for _, exc := range resp.Exceptions {
		w.Exceptions = append(w.Exceptions, wireException{ErrorCode: exc.ErrorCode, Message: exc.Message})
	}

	if resp.Selection != nil {
		w.SelectionResults = &wireSelectionResult{Columns: resp.Selection.Columns, Rows: resp.Selection.Rows}
	}
	if resp.Aggregations != nil {
		w.AggregationResults = make([]wireAggregationResult, 0, len(resp.Aggregations))
		for _, agg := range resp.Aggregations {
			wa := wireAggregationResult{Function: string(agg.Function), Column: agg.Column, Value: agg.Value}
			for _, gr := range agg.GroupByResults {
				wa.GroupByResults = append(wa.GroupByResults, wireGroupByResult{GroupKey: gr.GroupKey, Value: gr.Value})
			}
			w.AggregationResults = append(w.AggregationResults, wa)
		}
	}

	return w
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{
		Error: struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}{Code: code, Message: message},
	})
}
