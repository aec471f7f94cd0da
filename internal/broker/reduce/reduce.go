// Package reduce implements the broker's Reduce Service (C9): merging the
// partial DataTables gathered from every shard into one BrokerResponse, by
// whichever of the three reduction paths the request's shape selects.
package reduce

import (
	"sort"
	"strconv"
	"strings"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
)

// Reduce merges tables into the final response for req. trace, when true,
// collects each server's trace text into the response's TraceInfo map.
func Reduce(req *model.BrokerRequest, tables map[model.ServerInstance]*model.DataTable, trace bool) *model.BrokerResponse {
	servers := sortedServers(tables)
	tables = applyEmptyInputRule(tables, servers)
	servers = sortedServers(tables)

	resp := &model.BrokerResponse{}
	reduceMetadata(resp, tables, servers, trace)

	switch req.Format {
	case model.ResponseFormatAggregation:
		resp.Aggregations = reduceAggregations(req, tables, servers)
	case model.ResponseFormatGroupBy:
		resp.Aggregations = reduceGroupBy(req, tables, servers)
	default:
		resp.Selection = reduceSelection(req, tables, servers, resp)
	}

	return resp
}

// applyEmptyInputRule keeps exactly one table when every table has zero
// rows, preferring one that still carries a schema, so the reducer always
// has something to shape its empty result after (spec 4.9).
func applyEmptyInputRule(tables map[model.ServerInstance]*model.DataTable, servers []model.ServerInstance) map[model.ServerInstance]*model.DataTable {
	if len(tables) == 0 {
		return tables
	}

	for _, s := range servers {
		if tables[s].NumRows() > 0 {
			return tables
		}
	}

	for _, s := range servers {
		if tables[s] != nil && tables[s].Schema != nil {
			return map[model.ServerInstance]*model.DataTable{s: tables[s]}
		}
	}
	first := servers[0]
	return map[model.ServerInstance]*model.DataTable{first: tables[first]}
}

// reduceMetadata sums the execution counters, lifts each table's
// Exception<code> metadata entries into the response, and (when trace is
// enabled) collects per-server trace text.
func reduceMetadata(resp *model.BrokerResponse, tables map[model.ServerInstance]*model.DataTable, servers []model.ServerInstance, trace bool) {
	for _, s := range servers {
		t := tables[s]
		if t == nil {
			continue
		}
		resp.NumDocsScanned += t.Metadata.NumDocsScanned
		resp.NumEntriesScannedInFilter += t.Metadata.NumEntriesScannedInFilter
		resp.NumEntriesScannedPostFilter += t.Metadata.NumEntriesScannedPostFilter
		resp.TotalDocs += t.Metadata.TotalDocs

		for key, msg := range t.Metadata.Exceptions {
			if code, ok := parseExceptionCode(key); ok {
				resp.AddException(code, msg)
			}
		}

		if trace && t.Metadata.Trace != "" {
			if resp.TraceInfo == nil {
				resp.TraceInfo = make(map[string]string, len(tables))
			}
			resp.TraceInfo[s.String()] = t.Metadata.Trace
		}
	}
}

func parseExceptionCode(key string) (int, bool) {
	const prefix = "Exception"
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
	if err != nil {
		return 0, false
	}
	return code, true
}

// sortedServers returns tables' keys in a stable order, giving the reducer
// deterministic tie-breaking (serverId, rowIndex) without depending on Go's
// randomized map iteration.
func sortedServers(tables map[model.ServerInstance]*model.DataTable) []model.ServerInstance {
	servers := make([]model.ServerInstance, 0, len(tables))
	for s := range tables {
		servers = append(servers, s)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].String() < servers[j].String() })
	return servers
}

// chooseReferenceSchema picks the first table (in stable order) that
// carries a schema; selection and group-by reduction both need one
// reference shape to validate every other table against.
func chooseReferenceSchema(tables map[model.ServerInstance]*model.DataTable, servers []model.ServerInstance) *model.DataSchema {
	for _, s := range servers {
		if t := tables[s]; t != nil && t.Schema != nil {
			return t.Schema
		}
	}
	return nil
}

// dropMismatchedSchemas partitions tables into those matching reference and
// a MergeResponseError naming every dropped server, per spec 4.9.
func dropMismatchedSchemas(
	tables map[model.ServerInstance]*model.DataTable,
	servers []model.ServerInstance,
	reference *model.DataSchema,
	resp *model.BrokerResponse,
) []model.ServerInstance {
	var dropped []string
	var keptServers []model.ServerInstance

	for _, s := range servers {
		t := tables[s]
		if t == nil {
			continue
		}
		if t.Schema.Equal(reference) {
			keptServers = append(keptServers, s)
		} else {
			dropped = append(dropped, s.String())
		}
	}

	if len(dropped) > 0 {
		resp.AddException(apperror.CodeMergeResponseError.WireCode(), "dropped shards with mismatched schema: "+strings.Join(dropped, ", "))
	}

	return keptServers
}
