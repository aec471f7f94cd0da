package model

import "testing"

func TestDataSchema_Equal(t *testing.T) {
	a := &DataSchema{ColumnNames: []string{"a", "b"}, ColumnTypes: []ColumnType{ColumnTypeLong, ColumnTypeString}}
	b := &DataSchema{ColumnNames: []string{"a", "b"}, ColumnTypes: []ColumnType{ColumnTypeLong, ColumnTypeString}}
	c := &DataSchema{ColumnNames: []string{"a", "b"}, ColumnTypes: []ColumnType{ColumnTypeLong, ColumnTypeDouble}}

	if !a.Equal(b) {
		t.Error("expected equal schemas to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected schemas with differing column types to compare unequal")
	}
}

func TestDataSchema_Equal_Nil(t *testing.T) {
	var a, b *DataSchema
	if !a.Equal(b) {
		t.Error("expected two nil schemas to compare equal")
	}

	c := &DataSchema{}
	if a.Equal(c) {
		t.Error("expected nil schema not to equal a non-nil schema")
	}
}

func TestMetadata_AddException(t *testing.T) {
	var m Metadata
	m.AddException(230, "shard timeout")

	if m.Exceptions["Exception230"] != "shard timeout" {
		t.Errorf("expected Exception230 entry, got %v", m.Exceptions)
	}
}

func TestDataTable_NumRows(t *testing.T) {
	var nilTable *DataTable
	if nilTable.NumRows() != 0 {
		t.Error("expected NumRows() == 0 for nil table")
	}

	table := &DataTable{Rows: [][]any{{1}, {2}, {3}}}
	if table.NumRows() != 3 {
		t.Errorf("NumRows() = %d, want 3", table.NumRows())
	}
}

func TestColumnType_String(t *testing.T) {
	tests := []struct {
		c    ColumnType
		want string
	}{
		{ColumnTypeLong, "LONG"},
		{ColumnTypeDouble, "DOUBLE"},
		{ColumnTypeString, "STRING"},
		{ColumnTypeObject, "OBJECT"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}
