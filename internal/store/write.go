package store

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/shapeq/internal/querysql"
)

// Insert appends items, a slice or array of a registered type (or of
// pointers to it), in order. All items are written in one transaction.
func (s *Store) Insert(ctx context.Context, items any) error {
	v := reflect.ValueOf(items)
	if k := v.Kind(); k != reflect.Slice && k != reflect.Array {
		return fmt.Errorf("insert: expected a slice, got %T", items)
	}
	tbl, err := s.table(v.Type().Elem())
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert %s: begin: %w", tbl.name, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, tbl.insertSQL())
	if err != nil {
		return fmt.Errorf("insert %s: prepare: %w", tbl.name, err)
	}
	defer stmt.Close()

	for i := 0; i < v.Len(); i++ {
		args, err := s.rowValues(tbl, v.Index(i))
		if err != nil {
			return fmt.Errorf("insert %s[%d]: %w", tbl.name, i, err)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert %s[%d]: %w", tbl.name, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert %s: commit: %w", tbl.name, err)
	}
	s.logger.Debug("rows inserted", "table", tbl.name, "rows", v.Len())
	return nil
}

func (s *Store) rowValues(tbl *table, item reflect.Value) ([]any, error) {
	for item.Kind() == reflect.Pointer || item.Kind() == reflect.Interface {
		if item.IsNil() {
			return nil, fmt.Errorf("nil item")
		}
		item = item.Elem()
	}
	if item.Type() != tbl.desc.Type {
		return nil, fmt.Errorf("item of type %s in a %s table", item.Type(), tbl.name)
	}

	args := make([]any, len(tbl.columns))
	for i, c := range tbl.columns {
		pv := c.prop.Get(item)
		if !c.json {
			val, err := querysql.StorageValue(pv)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.name, err)
			}
			args[i] = val
			continue
		}
		if isNil(pv) {
			args[i] = nil
			continue
		}
		data, err := s.writer.MarshalValue(pv, c.prop.Type, nil)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.name, err)
		}
		args[i] = string(data)
	}
	return args, nil
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return v.IsNil()
	}
	return false
}
