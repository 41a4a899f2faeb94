package tabular

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Head returns the first n rows of rec in their original order. A negative n
// returns every row except the last -n, and n == 0 returns all rows. The input
// is not released; the caller owns the returned record.
func Head(rec arrow.Record, n int) arrow.Record {
	rows := rec.NumRows()
	end := rows
	switch {
	case n > 0:
		end = min(int64(n), rows)
	case n < 0:
		end = max(rows+int64(n), 0)
	}
	return rec.NewSlice(0, end)
}

// Empty creates a record with the given schema and no rows.
func Empty(schema *arrow.Schema, mem memory.Allocator) arrow.Record {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	cols := make([]arrow.Array, schema.NumFields())
	for i, field := range schema.Fields() {
		b := array.NewBuilder(mem, field.Type)
		cols[i] = b.NewArray()
		b.Release()
	}
	rec := array.NewRecord(schema, cols, 0)
	for _, col := range cols {
		col.Release()
	}
	return rec
}

// Concat joins records that share schema into a single record.
// The inputs are not released.
func Concat(schema *arrow.Schema, records []arrow.Record, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	switch len(records) {
	case 0:
		return Empty(schema, mem), nil
	case 1:
		records[0].Retain()
		return records[0], nil
	}

	var rows int64
	for _, rec := range records {
		rows += rec.NumRows()
	}

	cols := make([]arrow.Array, schema.NumFields())
	chunks := make([]arrow.Array, len(records))
	for i := range cols {
		for j, rec := range records {
			chunks[j] = rec.Column(i)
		}
		col, err := array.Concatenate(chunks, mem)
		if err != nil {
			releaseAll(cols[:i])
			return nil, fmt.Errorf("failed to concatenate column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = col
	}

	rec := array.NewRecord(schema, cols, rows)
	releaseAll(cols)
	return rec, nil
}

// TableToRecord flattens the chunks of a table into one record.
// The table is not released.
func TableToRecord(tbl arrow.Table, mem memory.Allocator) (arrow.Record, error) {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	schema := tbl.Schema()
	cols := make([]arrow.Array, tbl.NumCols())
	for i := range cols {
		chunks := tbl.Column(i).Data().Chunks()
		var (
			col arrow.Array
			err error
		)
		switch len(chunks) {
		case 0:
			b := array.NewBuilder(mem, schema.Field(i).Type)
			col = b.NewArray()
			b.Release()
		case 1:
			col = chunks[0]
			col.Retain()
		default:
			col, err = array.Concatenate(chunks, mem)
		}
		if err != nil {
			releaseAll(cols[:i])
			return nil, fmt.Errorf("failed to concatenate column %q: %w", schema.Field(i).Name, err)
		}
		cols[i] = col
	}

	rec := array.NewRecord(schema, cols, tbl.NumRows())
	releaseAll(cols)
	return rec, nil
}

// Project keeps the named columns, in the requested order.
// The input is not released.
func Project(rec arrow.Record, names []string) (arrow.Record, error) {
	schema := rec.Schema()
	fields := make([]arrow.Field, len(names))
	cols := make([]arrow.Array, len(names))
	for i, name := range names {
		indices := schema.FieldIndices(name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
		fields[i] = schema.Field(indices[0])
		cols[i] = rec.Column(indices[0])
	}
	md := schema.Metadata()
	return array.NewRecord(arrow.NewSchema(fields, &md), cols, rec.NumRows()), nil
}

// Rows converts a record to one map per row, keyed by column name,
// with values in their JSON-friendly Go form.
func Rows(rec arrow.Record) []map[string]any {
	rows := make([]map[string]any, rec.NumRows())
	for i := range rows {
		row := make(map[string]any, rec.NumCols())
		for j, col := range rec.Columns() {
			var value any
			if !col.IsNull(i) {
				value = col.GetOneForMarshal(i)
			}
			row[rec.ColumnName(j)] = value
		}
		rows[i] = row
	}
	return rows
}

func releaseAll(arrs []arrow.Array) {
	for _, arr := range arrs {
		if arr != nil {
			arr.Release()
		}
	}
}
