package queryable

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/expr"
)

type opKind uint8

const (
	opWhere opKind = iota + 1
	opOrder
	opSelect
	opSkip
	opTake
)

type op struct {
	kind     opKind
	filter   *clause.FilterClause
	keys     []*clause.OrderByClause
	reshaper Reshaper
	n        int
}

// Memory is a Source over an in-memory slice.
type Memory struct {
	elem  reflect.Type
	items reflect.Value
	ops   []op
}

// From creates a source over items.
func From[T any](items []T) *Memory {
	return FromValue(reflect.ValueOf(items))
}

// FromValue creates a source over a slice or array value. It panics if
// items is neither.
func FromValue(items reflect.Value) *Memory {
	switch items.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		panic(fmt.Sprintf("queryable: FromValue of %s", items.Kind()))
	}
	return &Memory{elem: items.Type().Elem(), items: items}
}

func (m *Memory) with(o op) *Memory {
	ops := make([]op, len(m.ops), len(m.ops)+1)
	copy(ops, m.ops)
	return &Memory{elem: m.elem, items: m.items, ops: append(ops, o)}
}

func (m *Memory) ElemType() reflect.Type { return m.elem }

func (m *Memory) Where(f *clause.FilterClause) Source {
	if f == nil {
		return m
	}
	return m.with(op{kind: opWhere, filter: f})
}

func (m *Memory) OrderBy(keys []*clause.OrderByClause) Source {
	if len(keys) == 0 {
		return m
	}
	return m.with(op{kind: opOrder, keys: keys})
}

func (m *Memory) Select(r Reshaper) Source {
	if r == nil {
		return m
	}
	return m.with(op{kind: opSelect, reshaper: r})
}

func (m *Memory) Skip(n int) Source { return m.with(op{kind: opSkip, n: n}) }

func (m *Memory) Take(n int) Source { return m.with(op{kind: opTake, n: n}) }

func (m *Memory) Count(ctx context.Context) (int64, error) {
	rows, _, err := m.run(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (m *Memory) Materialize(ctx context.Context) (reflect.Value, error) {
	rows, reshapers, err := m.run(ctx)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.MakeSlice(reflect.SliceOf(m.elem), len(rows), len(rows))
	for i, v := range rows {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return reflect.Value{}, err
			}
		}
		for _, r := range reshapers {
			if v, err = r.Reshape(ctx, v); err != nil {
				return reflect.Value{}, err
			}
		}
		if v.IsValid() {
			out.Index(i).Set(v)
		}
	}
	return out, nil
}

// run executes every recorded operation except reshaping, which is
// returned for the caller to apply to the surviving items.
func (m *Memory) run(ctx context.Context) ([]reflect.Value, []Reshaper, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rows := make([]reflect.Value, m.items.Len())
	for i := range rows {
		rows[i] = m.items.Index(i)
	}

	var reshapers []Reshaper
	var err error
	for _, o := range m.ops {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		switch o.kind {
		case opWhere:
			rows, err = Filter(rows, o.filter)
		case opOrder:
			err = Sort(rows, o.keys)
		case opSelect:
			reshapers = append(reshapers, o.reshaper)
		case opSkip:
			rows = rows[min(max(o.n, 0), len(rows)):]
		case opTake:
			rows = rows[:min(max(o.n, 0), len(rows))]
		}
		if err != nil {
			return nil, nil, err
		}
	}
	return rows, reshapers, nil
}

// Filter keeps the items satisfying f.
func Filter(items []reflect.Value, f *clause.FilterClause) ([]reflect.Value, error) {
	if f == nil {
		return items, nil
	}
	pred, err := expr.CompilePredicate(f.Predicate())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	out := items[:0:0]
	for _, it := range items {
		ok, err := pred(it)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", f, err)
		}
		if ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// Sort orders items in place by keys, first key first. The sort is stable:
// items equal under every key keep their relative order.
func Sort(items []reflect.Value, keys []*clause.OrderByClause) error {
	if len(keys) == 0 || len(items) < 2 {
		return nil
	}
	selectors := make([]func(reflect.Value) (reflect.Value, error), len(keys))
	for i, k := range keys {
		sel, err := expr.CompileSelector(k.Key())
		if err != nil {
			return fmt.Errorf("compile order key %s: %w", k, err)
		}
		selectors[i] = sel
	}

	type decorated struct {
		item reflect.Value
		keys []reflect.Value
	}
	rows := make([]decorated, len(items))
	for i, it := range items {
		rows[i] = decorated{item: it, keys: make([]reflect.Value, len(keys))}
		for j, sel := range selectors {
			v, err := sel(it)
			if err != nil {
				return fmt.Errorf("order key %s: %w", keys[j], err)
			}
			rows[i].keys[j] = v
		}
	}

	var cmpErr error
	sort.SliceStable(rows, func(a, b int) bool {
		for j, k := range keys {
			c, err := expr.Compare(rows[a].keys[j], rows[b].keys[j])
			if err != nil {
				if cmpErr == nil {
					cmpErr = err
				}
				return false
			}
			if c == 0 {
				continue
			}
			if k.Descending() {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if cmpErr != nil {
		return cmpErr
	}
	for i := range rows {
		items[i] = rows[i].item
	}
	return nil
}
