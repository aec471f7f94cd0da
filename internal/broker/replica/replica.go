// Package replica implements the broker's Replica Selector (C5): given the
// candidate replica servers the routing provider published for a segment
// group, it deterministically picks one to carry that group's segments for
// this request.
package replica

import (
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"querybroker/internal/broker/model"
	"querybroker/pkg/apperror"
)

// Policy selects which replica-choice law a Selector applies.
type Policy int

const (
	// PolicyRoundRobin advances a per-segment-group cursor on every call,
	// so repeated lookups for the same group cycle through its replicas.
	// This is the default per spec 4.5.
	PolicyRoundRobin Policy = iota
	// PolicyHash picks the replica at hash(key) % len(replicas); the same
	// key always maps to the same replica as long as the replica list is
	// unchanged.
	PolicyHash
)

// Selector chooses one replica from a segment group's candidate list.
type Selector interface {
	// Select returns the index into group.Replicas to use for this call.
	Select(group model.SegmentGroup, key string) int
}

// NewSelector builds the Selector for the given policy.
func NewSelector(policy Policy) Selector {
	switch policy {
	case PolicyHash:
		return &hashSelector{}
	default:
		return NewRoundRobinSelector()
	}
}

// RoundRobinSelector advances a global counter per segment group, keyed by
// the group's sorted segment names so the cursor is stable across calls for
// the same group. Per spec 9 ("Round-robin cursor"), the counters are
// sharded per key rather than behind one process-wide lock.
type RoundRobinSelector struct {
	cursors sync.Map // groupKey string -> *atomic.Uint64
}

// NewRoundRobinSelector builds a selector with no history; its counters
// start at zero and accumulate across the process lifetime.
func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

// Select returns the next replica index for group, advancing its cursor.
func (s *RoundRobinSelector) Select(group model.SegmentGroup, _ string) int {
	if len(group.Replicas) == 0 {
		return -1
	}

	key := groupKey(group)
	cursor, _ := s.cursors.LoadOrStore(key, new(atomic.Uint64))
	n := cursor.(*atomic.Uint64).Add(1) - 1
	return int(n % uint64(len(group.Replicas)))
}

// hashSelector picks the replica deterministically from key, independent of
// call history.
type hashSelector struct{}

func (hashSelector) Select(group model.SegmentGroup, key string) int {
	if len(group.Replicas) == 0 {
		return -1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(group.Replicas)))
}

// groupKey identifies a segment group by its sorted segment names: groups
// with the same membership always resolve to the same round-robin cursor,
// independent of map iteration order.
func groupKey(group model.SegmentGroup) string {
	names := group.Segments.Names()
	sort.Strings(names)

	var size int
	for _, n := range names {
		size += len(n) + 1
	}
	buf := make([]byte, 0, size)
	for _, n := range names {
		buf = append(buf, n...)
		buf = append(buf, ',')
	}
	return string(buf)
}

// Assign picks one replica per segment group and merges the result into the
// final server → segment-set mapping C6 dispatches against. hashKey is the
// request-derived key passed to Selector.Select; for PolicyRoundRobin it is
// ignored, for PolicyHash it determines the chosen replica.
func Assign(selector Selector, groups []model.SegmentGroup, hashKey string) (map[model.ServerInstance]model.SegmentIDSet, error) {
	assignment := make(map[model.ServerInstance]model.SegmentIDSet, len(groups))

	for i, group := range groups {
		if len(group.Replicas) == 0 {
			continue
		}

		idx := selector.Select(group, hashKey)
		if idx < 0 || idx >= len(group.Replicas) {
			return nil, apperror.New(apperror.CodeInternalError, "replica selector returned out-of-range index "+strconv.Itoa(idx)+" for group "+strconv.Itoa(i))
		}

		server := group.Replicas[idx]
		if existing, ok := assignment[server]; ok {
			for _, name := range group.Segments.Names() {
				existing.Add(name)
			}
		} else {
			assignment[server] = model.NewSegmentIDSet(group.Segments.Names()...)
		}
	}

	return assignment, nil
}
