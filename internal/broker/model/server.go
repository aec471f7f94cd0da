package model

import "fmt"

// ServerInstance identifies one data server. Sequence disambiguates two
// responses from the same physical server within one federated (hybrid)
// query — one slot for the offline sub-request, one for the realtime
// sub-request — and is 0 for non-federated queries.
type ServerInstance struct {
	Hostname string
	Port     int
	Sequence int
}

// String renders the instance the way it appears in logs, traces and the
// response's per-server trace map.
func (s ServerInstance) String() string {
	if s.Sequence == 0 {
		return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
	}
	return fmt.Sprintf("%s:%d#%d", s.Hostname, s.Port, s.Sequence)
}

// SegmentIDSet is the unordered set of segment names a server is asked to
// scan for one sub-request.
type SegmentIDSet map[string]struct{}

// NewSegmentIDSet builds a set from a slice of segment names.
func NewSegmentIDSet(names ...string) SegmentIDSet {
	set := make(SegmentIDSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Add inserts a segment name into the set.
func (s SegmentIDSet) Add(name string) {
	s[name] = struct{}{}
}

// Names returns the set's members as a slice. Order is unspecified.
func (s SegmentIDSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	return names
}

// SegmentGroup is one unit of replica selection: a set of segments that
// share the same list of candidate replica servers. The routing provider
// groups segments this way (default granularity: per-segment-id-set, per
// spec 4.5) so the replica selector's round-robin cursor advances once per
// group rather than once per segment.
type SegmentGroup struct {
	Replicas []ServerInstance
	Segments SegmentIDSet
}

// TimeBoundaryInfo is published by the routing provider for a hybrid table:
// it names the column whose value splits offline history from realtime
// data, and the value of the split itself.
type TimeBoundaryInfo struct {
	TimeColumn string
	TimeValue  string
}
