package model

import "strconv"

// ColumnType is the semantic type of one DataTable column.
type ColumnType int

const (
	ColumnTypeLong ColumnType = iota
	ColumnTypeDouble
	ColumnTypeString
	ColumnTypeObject
)

// String returns the wire name of the column type.
func (c ColumnType) String() string {
	switch c {
	case ColumnTypeLong:
		return "LONG"
	case ColumnTypeDouble:
		return "DOUBLE"
	case ColumnTypeString:
		return "STRING"
	case ColumnTypeObject:
		return "OBJECT"
	default:
		return "UNKNOWN"
	}
}

// DataSchema names and types the columns of a DataTable.
type DataSchema struct {
	ColumnNames []string
	ColumnTypes []ColumnType
}

// Equal reports whether two schemas describe the same ordered columns. C9
// uses this to decide whether a shard's table can be merged with the
// reference schema or must be dropped with a MergeResponseError.
func (s *DataSchema) Equal(other *DataSchema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.ColumnNames) != len(other.ColumnNames) {
		return false
	}
	for i := range s.ColumnNames {
		if s.ColumnNames[i] != other.ColumnNames[i] || s.ColumnTypes[i] != other.ColumnTypes[i] {
			return false
		}
	}
	return true
}

// Metadata carries the execution counters and any per-shard exceptions
// attached to a DataTable, keyed the way the wire format does:
// "Exception<code>" -> message.
type Metadata struct {
	NumDocsScanned              int64
	NumEntriesScannedInFilter   int64
	NumEntriesScannedPostFilter int64
	TotalDocs                   int64
	Trace                       string
	Exceptions                  map[string]string
}

// AddException records a per-shard exception under its wire key.
func (m *Metadata) AddException(code int, message string) {
	if m.Exceptions == nil {
		m.Exceptions = make(map[string]string)
	}
	m.Exceptions[exceptionKey(code)] = message
}

func exceptionKey(code int) string {
	return "Exception" + strconv.Itoa(code)
}

// DataTable is the wire-level partial result a single server returns for a
// single sub-request: a schema, zero or more rows (one []any per row, typed
// per-column according to Schema), and execution metadata.
type DataTable struct {
	Schema   *DataSchema
	Rows     [][]any
	Metadata Metadata
}

// NumRows returns the number of rows in the table.
func (t *DataTable) NumRows() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}
