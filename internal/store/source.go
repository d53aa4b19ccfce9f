package store

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/queryable"
	"github.com/roach88/shapeq/internal/queryir"
	"github.com/roach88/shapeq/internal/querysql"
)

// Source returns a query source over the table of elem, a registered
// struct type or a pointer to one. Materialized items have type elem.
func (s *Store) Source(elem reflect.Type) (queryable.Source, error) {
	tbl, err := s.table(elem)
	if err != nil {
		return nil, err
	}
	return &source{
		store:   s,
		table:   tbl,
		elem:    elem,
		lowerer: querysql.NewLowerer(tbl.resolve),
	}, nil
}

// deferred is an operation that runs in memory over the SQL result.
type deferred func(queryable.Source) queryable.Source

// source folds operations into one SQL select until an operation cannot
// be expressed in SQL; from then on operations are deferred.
type source struct {
	store   *Store
	table   *table
	elem    reflect.Type
	lowerer *querysql.Lowerer

	filters []queryir.Predicate
	order   []queryir.OrderKey
	offset  int
	limit   *int

	rest      []deferred
	reshapers []queryable.Reshaper
}

func (s *source) clone() *source {
	c := *s
	c.filters = append([]queryir.Predicate(nil), s.filters...)
	c.order = append([]queryir.OrderKey(nil), s.order...)
	c.rest = append([]deferred(nil), s.rest...)
	c.reshapers = append([]queryable.Reshaper(nil), s.reshapers...)
	if s.limit != nil {
		n := *s.limit
		c.limit = &n
	}
	return &c
}

func (s *source) paged() bool {
	return s.offset > 0 || s.limit != nil
}

func (s *source) deferring() bool {
	return len(s.rest) > 0
}

func (s *source) ElemType() reflect.Type { return s.elem }

func (s *source) Where(f *clause.FilterClause) queryable.Source {
	if f == nil {
		return s
	}
	c := s.clone()
	if !c.deferring() && !c.paged() {
		pred, err := c.lowerer.Filter(f)
		if err == nil {
			c.filters = append(c.filters, pred)
			return c
		}
		c.store.logger.Debug("filter evaluated in memory", "table", c.table.name, "filter", f.String(), "reason", err)
	}
	c.rest = append(c.rest, func(src queryable.Source) queryable.Source { return src.Where(f) })
	return c
}

// OrderBy puts the new keys ahead of any earlier ones: a stable sort by
// the new keys keeps the earlier order among ties.
func (s *source) OrderBy(keys []*clause.OrderByClause) queryable.Source {
	if len(keys) == 0 {
		return s
	}
	c := s.clone()
	if !c.deferring() && !c.paged() {
		lowered, err := c.lowerer.OrderBy(keys)
		if err == nil {
			c.order = append(lowered, c.order...)
			return c
		}
		c.store.logger.Debug("ordering evaluated in memory", "table", c.table.name, "reason", err)
	}
	c.rest = append(c.rest, func(src queryable.Source) queryable.Source { return src.OrderBy(keys) })
	return c
}

func (s *source) Select(r queryable.Reshaper) queryable.Source {
	if r == nil {
		return s
	}
	c := s.clone()
	c.reshapers = append(c.reshapers, r)
	return c
}

func (s *source) Skip(n int) queryable.Source {
	if n <= 0 {
		return s
	}
	c := s.clone()
	if c.deferring() {
		c.rest = append(c.rest, func(src queryable.Source) queryable.Source { return src.Skip(n) })
		return c
	}
	c.offset += n
	if c.limit != nil {
		*c.limit = max(*c.limit-n, 0)
	}
	return c
}

func (s *source) Take(n int) queryable.Source {
	n = max(n, 0)
	c := s.clone()
	if c.deferring() {
		c.rest = append(c.rest, func(src queryable.Source) queryable.Source { return src.Take(n) })
		return c
	}
	if c.limit == nil || n < *c.limit {
		c.limit = &n
	}
	return c
}

// plan builds the SQL part of the chain reading the given columns.
func (s *source) plan(columns []string) queryir.Select {
	q := queryir.Select{
		From:    s.table.name,
		Columns: columns,
		OrderBy: s.order,
		Limit:   s.limit,
	}
	switch len(s.filters) {
	case 0:
	case 1:
		q.Filter = s.filters[0]
	default:
		q.Filter = queryir.And{Predicates: s.filters}
	}
	if s.offset > 0 {
		off := s.offset
		q.Offset = &off
	}
	return q
}

// columns lists the columns to read. Deferred operations may read any
// property, so everything is loaded for them; otherwise the first
// reshaper decides which navigation columns are needed.
func (s *source) columns() []string {
	var loader queryable.Loader
	if !s.deferring() && len(s.reshapers) > 0 {
		loader, _ = s.reshapers[0].(queryable.Loader)
	}
	cols := make([]string, 0, len(s.table.columns))
	for _, c := range s.table.columns {
		if loader != nil && !loader.Loads(c.prop) {
			continue
		}
		cols = append(cols, c.name)
	}
	if len(cols) == 0 {
		// A select needs at least one column.
		cols = append(cols, s.table.columns[0].name)
	}
	return cols
}

func (s *source) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !s.deferring() {
		return s.store.count(ctx, s.table, s.plan(nil))
	}
	mem, err := s.memory(ctx)
	if err != nil {
		return 0, err
	}
	return mem.Count(ctx)
}

func (s *source) Materialize(ctx context.Context) (reflect.Value, error) {
	if err := ctx.Err(); err != nil {
		return reflect.Value{}, err
	}
	if !s.deferring() && len(s.reshapers) == 0 {
		return s.store.readRows(ctx, s.table, s.elem, s.plan(s.columns()))
	}
	mem, err := s.memory(ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	for _, r := range s.reshapers {
		mem = mem.Select(r)
	}
	return mem.Materialize(ctx)
}

// memory runs the SQL part and wraps the rows in an in-memory source
// carrying the deferred operations.
func (s *source) memory(ctx context.Context) (queryable.Source, error) {
	if len(s.table.columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", s.table.name)
	}
	items, err := s.store.readRows(ctx, s.table, s.elem, s.plan(s.columns()))
	if err != nil {
		return nil, err
	}
	var mem queryable.Source = queryable.FromValue(items)
	for _, op := range s.rest {
		mem = op(mem)
	}
	return mem, nil
}
