package store

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/roach88/shapeq/internal/queryir"
	"github.com/roach88/shapeq/internal/querysql"
)

// readRows runs q and builds one item of elem per row. Columns not in the
// select keep their zero value.
func (s *Store) readRows(ctx context.Context, tbl *table, elem reflect.Type, q queryir.Select) (reflect.Value, error) {
	query, params, err := s.compiler.Compile(q)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("compile %s query: %w", tbl.name, err)
	}
	s.logger.Debug("store query", "table", tbl.name, "sql", query, "params", len(params))

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("query %s: %w", tbl.name, err)
	}
	defer rows.Close()

	cols := make([]*column, len(q.Columns))
	for i, name := range q.Columns {
		cols[i] = tbl.byName[name]
	}

	out := reflect.MakeSlice(reflect.SliceOf(elem), 0, 16)
	dest := make([]any, len(cols))
	raw := make([]any, len(cols))
	for i := range dest {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return reflect.Value{}, fmt.Errorf("scan %s: %w", tbl.name, err)
		}
		item, err := s.buildItem(tbl, elem, cols, raw)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("read %s row %d: %w", tbl.name, out.Len(), err)
		}
		out = reflect.Append(out, item)
	}
	if err := rows.Err(); err != nil {
		return reflect.Value{}, fmt.Errorf("iterate %s: %w", tbl.name, err)
	}
	return out, nil
}

func (s *Store) buildItem(tbl *table, elem reflect.Type, cols []*column, raw []any) (reflect.Value, error) {
	ptr := tbl.desc.New()
	for i, c := range cols {
		v, err := s.decodeColumn(c, raw[i])
		if err != nil {
			return reflect.Value{}, fmt.Errorf("column %s: %w", c.name, err)
		}
		c.prop.Set(ptr, v)
	}
	if elem.Kind() == reflect.Pointer {
		return ptr, nil
	}
	return ptr.Elem(), nil
}

func (s *Store) decodeColumn(c *column, src any) (reflect.Value, error) {
	if !c.json {
		return querysql.FromStorage(src, c.prop.Type)
	}
	var data []byte
	switch x := src.(type) {
	case nil:
		return reflect.Value{}, nil
	case string:
		data = []byte(x)
	case []byte:
		data = x
	default:
		return reflect.Value{}, fmt.Errorf("JSON column holds %T", src)
	}
	return s.reader.UnmarshalType(data, c.prop.Type)
}

// count runs a count query.
func (s *Store) count(ctx context.Context, tbl *table, q queryir.Select) (int64, error) {
	query, params, err := s.compiler.Compile(queryir.Count{Source: q})
	if err != nil {
		return 0, fmt.Errorf("compile %s count: %w", tbl.name, err)
	}
	s.logger.Debug("store count", "table", tbl.name, "sql", query, "params", len(params))

	var n int64
	if err := s.db.QueryRowContext(ctx, query, params...).Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("count %s: %w", tbl.name, err)
	}
	return n, nil
}
