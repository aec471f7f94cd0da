package model

import "fmt"

// FilterOperator is the operator carried by one FilterQuery node.
type FilterOperator int

const (
	FilterOperatorUnspecified FilterOperator = iota
	FilterOperatorAnd
	FilterOperatorOr
	FilterOperatorEqual
	FilterOperatorNotEqual
	FilterOperatorRange
	FilterOperatorIn
	FilterOperatorNotIn
)

// String returns the textual form of the operator.
func (o FilterOperator) String() string {
	switch o {
	case FilterOperatorAnd:
		return "AND"
	case FilterOperatorOr:
		return "OR"
	case FilterOperatorEqual:
		return "EQ"
	case FilterOperatorNotEqual:
		return "NEQ"
	case FilterOperatorRange:
		return "RANGE"
	case FilterOperatorIn:
		return "IN"
	case FilterOperatorNotIn:
		return "NOT_IN"
	default:
		return "UNSPECIFIED"
	}
}

// FilterQuery is one node of the filter tree, addressed by Id rather than by
// pointer so the whole tree stays a flat, wire-serializable arena. Children
// are resolved by looking their Ids up in the owning FilterSubQueryMap.
type FilterQuery struct {
	ID       int32
	Operator FilterOperator
	Column   string
	Values   []string
	ChildIDs []int32
}

// Clone returns a deep copy of the node.
func (f *FilterQuery) Clone() *FilterQuery {
	clone := &FilterQuery{
		ID:       f.ID,
		Operator: f.Operator,
		Column:   f.Column,
	}
	if f.Values != nil {
		clone.Values = append([]string(nil), f.Values...)
	}
	if f.ChildIDs != nil {
		clone.ChildIDs = append([]int32(nil), f.ChildIDs...)
	}
	return clone
}

// FilterSubQueryMap is the flat id -> node arena backing a request's filter
// tree, plus the id of its root. Synthetic nodes introduced by the splitter
// (time-boundary filters, the AND node that attaches them) use negative ids
// so they never collide with parser-generated ids, which are non-negative.
type FilterSubQueryMap struct {
	RootID int32
	Nodes  map[int32]*FilterQuery

	nextSyntheticID int32
}

// NewFilterSubQueryMap returns an empty map with no root.
func NewFilterSubQueryMap() *FilterSubQueryMap {
	return &FilterSubQueryMap{
		Nodes:           make(map[int32]*FilterQuery),
		nextSyntheticID: -1,
	}
}

// Add registers node in the map, keyed by its Id.
func (m *FilterSubQueryMap) Add(node *FilterQuery) {
	m.Nodes[node.ID] = node
}

// NextSyntheticID returns a fresh negative id, reserved for broker-created
// nodes, and reserves it so a second call never repeats it.
func (m *FilterSubQueryMap) NextSyntheticID() int32 {
	id := m.nextSyntheticID
	m.nextSyntheticID--
	return id
}

// Root returns the root node, or nil if RootID is unset or dangling.
func (m *FilterSubQueryMap) Root() *FilterQuery {
	if m == nil {
		return nil
	}
	return m.Nodes[m.RootID]
}

// Clone returns a deep copy of the map, including a fresh node arena.
func (m *FilterSubQueryMap) Clone() *FilterSubQueryMap {
	if m == nil {
		return nil
	}
	clone := &FilterSubQueryMap{
		RootID:          m.RootID,
		Nodes:           make(map[int32]*FilterQuery, len(m.Nodes)),
		nextSyntheticID: m.nextSyntheticID,
	}
	for id, node := range m.Nodes {
		clone.Nodes[id] = node.Clone()
	}
	return clone
}

// Validate checks the three invariants every filter tree must hold: every id
// referenced by a node (including the root) exists in the map, and the
// reachable graph from the root contains no cycle. Ids being unique within
// the request is structural (the map is keyed by id) and needs no check.
func (m *FilterSubQueryMap) Validate() error {
	if m == nil || len(m.Nodes) == 0 {
		return nil
	}

	if _, ok := m.Nodes[m.RootID]; !ok {
		return fmt.Errorf("filter tree: root id %d not found in node map", m.RootID)
	}

	visiting := make(map[int32]bool)
	visited := make(map[int32]bool)

	var walk func(id int32) error
	walk = func(id int32) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("filter tree: cycle detected at node %d", id)
		}
		visiting[id] = true

		node, ok := m.Nodes[id]
		if !ok {
			return fmt.Errorf("filter tree: referenced node %d not found in node map", id)
		}
		for _, childID := range node.ChildIDs {
			if err := walk(childID); err != nil {
				return err
			}
		}

		visiting[id] = false
		visited[id] = true
		return nil
	}

	return walk(m.RootID)
}
