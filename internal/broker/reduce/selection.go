package reduce

import (
	"container/heap"

	"querybroker/internal/broker/model"
)

// reduceSelection implements the Selection reduction path of spec 4.9.
func reduceSelection(
	req *model.BrokerRequest,
	tables map[model.ServerInstance]*model.DataTable,
	servers []model.ServerInstance,
	resp *model.BrokerResponse,
) *model.SelectionResult {
	reference := chooseReferenceSchema(tables, servers)
	if reference == nil {
		return &model.SelectionResult{}
	}
	kept := dropMismatchedSchemas(tables, servers, reference, resp)

	size := 0
	var columns []string
	var sortCols []model.SortColumn
	if req.Selection != nil {
		size = req.Selection.Size
		columns = req.Selection.Columns
		sortCols = req.Selection.Sort
	}
	if len(columns) == 0 {
		columns = reference.ColumnNames
	}

	projection := make([]int, len(columns))
	for i, col := range columns {
		projection[i] = indexOf(reference.ColumnNames, col)
	}

	var rows [][]any
	if len(sortCols) > 0 {
		rows = orderedMerge(tables, kept, sortCols, reference, size)
	} else {
		rows = concatenate(tables, kept, size)
	}

	projected := make([][]any, len(rows))
	for i, row := range rows {
		out := make([]any, len(projection))
		for j, idx := range projection {
			if idx >= 0 && idx < len(row) {
				out[j] = row[idx]
			}
		}
		projected[i] = out
	}

	return &model.SelectionResult{Columns: columns, Rows: projected}
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// concatenate performs the unsorted path: tables in stable server order,
// rows in table order, truncated to size.
func concatenate(tables map[model.ServerInstance]*model.DataTable, servers []model.ServerInstance, size int) [][]any {
	var rows [][]any
	for _, s := range servers {
		for _, row := range tables[s].Rows {
			if size > 0 && len(rows) >= size {
				return rows
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// mergeCursor tracks one table's position in its own row order for the
// ordered merge's priority queue.
type mergeCursor struct {
	server   model.ServerInstance
	rows     [][]any
	rowIndex int
}

type cursorHeap struct {
	cursors []*mergeCursor
	sort    []model.SortColumn
	refCols []string
}

func (h *cursorHeap) Len() int { return len(h.cursors) }

func (h *cursorHeap) Less(i, j int) bool {
	a, b := h.cursors[i], h.cursors[j]
	less, _ := compareRows(a.rows[a.rowIndex], b.rows[b.rowIndex], h.sort, h.refCols)
	if less != 0 {
		return less < 0
	}
	if a.server.String() != b.server.String() {
		return a.server.String() < b.server.String()
	}
	return a.rowIndex < b.rowIndex
}

func (h *cursorHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }

func (h *cursorHeap) Push(x any) { h.cursors = append(h.cursors, x.(*mergeCursor)) }

func (h *cursorHeap) Pop() any {
	old := h.cursors
	n := len(old)
	item := old[n-1]
	h.cursors = old[:n-1]
	return item
}

// compareRows returns -1/0/1 comparing a and b by sort, resolving each
// sort column's name to its index in refCols.
func compareRows(a, b []any, sort []model.SortColumn, refCols []string) (int, error) {
	for _, s := range sort {
		idx := indexOf(refCols, s.Column)
		if idx < 0 || idx >= len(a) || idx >= len(b) {
			continue
		}
		cmp := compareValues(a[idx], b[idx])
		if s.Descending {
			cmp = -cmp
		}
		if cmp != 0 {
			return cmp, nil
		}
	}
	return 0, nil
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// orderedMerge does a k-way priority-queue merge of already-ordered
// per-table rows, keyed by sort, with ties broken by (serverId, rowIndex)
// for determinism, yielding the top size rows overall.
func orderedMerge(
	tables map[model.ServerInstance]*model.DataTable,
	servers []model.ServerInstance,
	sortCols []model.SortColumn,
	reference *model.DataSchema,
	size int,
) [][]any {
	h := &cursorHeap{sort: sortCols, refCols: reference.ColumnNames}
	for _, s := range servers {
		t := tables[s]
		if t == nil || len(t.Rows) == 0 {
			continue
		}
		h.cursors = append(h.cursors, &mergeCursor{server: s, rows: t.Rows})
	}
	heap.Init(h)

	var out [][]any
	for h.Len() > 0 && (size <= 0 || len(out) < size) {
		top := heap.Pop(h).(*mergeCursor)
		out = append(out, top.rows[top.rowIndex])
		top.rowIndex++
		if top.rowIndex < len(top.rows) {
			heap.Push(h, top)
		}
	}
	return out
}
