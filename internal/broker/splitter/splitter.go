// Package splitter implements the broker's Hybrid Request Splitter (C3): it
// turns one logical query against a hybrid table into an offline sub-request
// and a realtime sub-request, each filtered so the two never double-count
// rows at the time boundary.
package splitter

import (
	"context"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
)

// TimeBoundaryProvider is the subset of the time-boundary provider contract
// C3 needs. A nil TimeBoundaryInfo with a nil error means no boundary is
// published for this table; the caller degrades gracefully rather than
// failing the query.
type TimeBoundaryProvider interface {
	GetTimeBoundaryInfoFor(ctx context.Context, offlineTableName string) (*model.TimeBoundaryInfo, error)
}

// Bound encodes one half of the time-boundary range split onto a
// FilterQuery leaf: the comparison operator and the boundary value,
// carried as Values[0] and Values[1] since FilterQuery has no dedicated
// range-bound fields.
const (
	boundLess           = "<"
	boundGreaterOrEqual = ">="
)

// Result is one sub-request produced by Split, tagged with the physical
// table it targets and its zero-based index (used later by C8 to re-stamp
// server identity sequence numbers).
type Result struct {
	Request *model.BrokerRequest
	Index   int
}

// Split produces one sub-request per physical table. When physicalTables
// names both an offline and a realtime table, a time-boundary filter is
// AND-combined into each copy; if the provider has no boundary published,
// both copies are returned unfiltered and missingBoundary is true so the
// caller can record that the boundary was unavailable.
func Split(
	ctx context.Context,
	req *model.BrokerRequest,
	physicalTables []string,
	provider TimeBoundaryProvider,
) (results []Result, missingBoundary bool, err error) {
	if len(physicalTables) == 1 {
		single := req.Clone()
		single.Table = physicalTables[0]
		return []Result{{Request: single, Index: 0}}, false, nil
	}

	offlineTable, realtimeTable := physicalTables[0], physicalTables[1]

	boundary, err := provider.GetTimeBoundaryInfoFor(ctx, offlineTable)
	if err != nil {
		return nil, false, apperror.Wrap(err, apperror.CodeBrokerGatherError, "time boundary lookup failed")
	}

	offlineReq := req.Clone()
	offlineReq.Table = offlineTable
	realtimeReq := req.Clone()
	realtimeReq.Table = realtimeTable

	if boundary == nil {
		return []Result{
			{Request: offlineReq, Index: 0},
			{Request: realtimeReq, Index: 1},
		}, true, nil
	}

	attachTimeFilter(offlineReq, boundary.TimeColumn, boundLess, boundary.TimeValue)
	attachTimeFilter(realtimeReq, boundary.TimeColumn, boundGreaterOrEqual, boundary.TimeValue)

	return []Result{
		{Request: offlineReq, Index: 0},
		{Request: realtimeReq, Index: 1},
	}, false, nil
}

// attachTimeFilter AND-combines a time-boundary range leaf into req's
// filter tree in place. If req has no filter, the time leaf becomes the
// root; otherwise a synthetic AND node (negative id) is introduced as the
// new root with the original filter and the time leaf as its two children.
func attachTimeFilter(req *model.BrokerRequest, column, op, value string) {
	if req.Filter == nil {
		req.Filter = model.NewFilterSubQueryMap()
	}

	timeLeaf := &model.FilterQuery{
		ID:       req.Filter.NextSyntheticID(),
		Operator: model.FilterOperatorRange,
		Column:   column,
		Values:   []string{op, value},
	}
	req.Filter.Add(timeLeaf)

	existingRootID, hadRoot := req.Filter.RootID, req.Filter.Root() != nil
	if !hadRoot {
		req.Filter.RootID = timeLeaf.ID
		return
	}

	andNode := &model.FilterQuery{
		ID:       req.Filter.NextSyntheticID(),
		Operator: model.FilterOperatorAnd,
		ChildIDs: []int32{existingRootID, timeLeaf.ID},
	}
	req.Filter.Add(andNode)
	req.Filter.RootID = andNode.ID
}
