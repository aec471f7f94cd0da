package wire

import (
	"fmt"

	"querybroker/internal/broker/model"
)

// EncodeDataTable serializes a server's partial result table. Used by C6's
// test doubles and by the deserializer's round-trip tests; the real
// per-server execution engine producing this frame is out of scope (spec
// section 1).
func EncodeDataTable(t *model.DataTable) []byte {
	e := newEncoder()

	e.putStringSlice(t.Schema.ColumnNames)
	e.putInt32(int32(len(t.Schema.ColumnTypes)))
	for _, ct := range t.Schema.ColumnTypes {
		e.putInt32(int32(ct))
	}

	e.putInt32(int32(len(t.Rows)))
	for _, row := range t.Rows {
		for i, v := range row {
			putCell(e, t.Schema.ColumnTypes[i], v)
		}
	}

	e.putInt64(t.Metadata.NumDocsScanned)
	e.putInt64(t.Metadata.NumEntriesScannedInFilter)
	e.putInt64(t.Metadata.NumEntriesScannedPostFilter)
	e.putInt64(t.Metadata.TotalDocs)
	e.putString(t.Metadata.Trace)
	e.putInt32(int32(len(t.Metadata.Exceptions)))
	for k, v := range t.Metadata.Exceptions {
		e.putString(k)
		e.putString(v)
	}

	return e.frame()
}

// DecodeDataTable is C8's Response Deserializer core: turning one server's
// binary payload into a typed DataTable.
func DecodeDataTable(data []byte) (*model.DataTable, error) {
	d, err := unframe(data)
	if err != nil {
		return nil, err
	}

	schema := &model.DataSchema{}
	if schema.ColumnNames, err = d.getStringSlice(); err != nil {
		return nil, err
	}
	typeCount, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	schema.ColumnTypes = make([]model.ColumnType, typeCount)
	for i := range schema.ColumnTypes {
		v, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		schema.ColumnTypes[i] = model.ColumnType(v)
	}

	rowCount, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	rows := make([][]any, rowCount)
	for r := range rows {
		row := make([]any, len(schema.ColumnTypes))
		for c, ct := range schema.ColumnTypes {
			v, err := getCell(d, ct)
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		rows[r] = row
	}

	table := &model.DataTable{Schema: schema, Rows: rows}
	if table.Metadata.NumDocsScanned, err = d.getInt64(); err != nil {
		return nil, err
	}
	if table.Metadata.NumEntriesScannedInFilter, err = d.getInt64(); err != nil {
		return nil, err
	}
	if table.Metadata.NumEntriesScannedPostFilter, err = d.getInt64(); err != nil {
		return nil, err
	}
	if table.Metadata.TotalDocs, err = d.getInt64(); err != nil {
		return nil, err
	}
	if table.Metadata.Trace, err = d.getString(); err != nil {
		return nil, err
	}
	excCount, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if excCount > 0 {
		table.Metadata.Exceptions = make(map[string]string, excCount)
		for i := int32(0); i < excCount; i++ {
			k, err := d.getString()
			if err != nil {
				return nil, err
			}
			v, err := d.getString()
			if err != nil {
				return nil, err
			}
			table.Metadata.Exceptions[k] = v
		}
	}

	return table, nil
}

// putCell writes one row's column value. OBJECT cells carry an opaque byte
// blob; aggregation sketches and (sum, count) pairs are interpreted by the
// reduce package, not here.
func putCell(e *encoder, ct model.ColumnType, v any) {
	switch ct {
	case model.ColumnTypeLong:
		n, _ := v.(int64)
		e.putInt64(n)
	case model.ColumnTypeDouble:
		f, _ := v.(float64)
		e.putFloat64(f)
	case model.ColumnTypeString:
		s, _ := v.(string)
		e.putString(s)
	case model.ColumnTypeObject:
		b, _ := v.([]byte)
		e.putBytes(b)
	default:
		e.putBytes(nil)
	}
}

func getCell(d *decoder, ct model.ColumnType) (any, error) {
	switch ct {
	case model.ColumnTypeLong:
		return d.getInt64()
	case model.ColumnTypeDouble:
		return d.getFloat64()
	case model.ColumnTypeString:
		return d.getString()
	case model.ColumnTypeObject:
		b, err := d.getBytes()
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	default:
		return nil, fmt.Errorf("wire: unknown column type %d", ct)
	}
}
