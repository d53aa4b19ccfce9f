// Package projection builds reshape plans from select and expand trees.
//
// A Plan copies the selected properties of an item into a fresh value of
// the same type. Navigation properties are copied only when expanded;
// expanded collections are filtered, ordered and paged by their branch
// options before each element is reshaped in turn. Source items are never
// modified.
package projection

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/queryable"
)

// Plan reshapes values of one static type. Plans are safe for concurrent
// use; per-type work is memoized, so polymorphic items pay for planning
// once per concrete type.
type Plan struct {
	registry *meta.Registry
	itemType reflect.Type
	sel      *clause.SelectClause
	exp      *clause.ExpandClause

	structs sync.Map // reflect.Type -> *structPlan
}

var (
	_ queryable.Reshaper = (*Plan)(nil)
	_ queryable.Loader   = (*Plan)(nil)
)

type structPlan struct {
	desc    *meta.TypeDescriptor
	assigns []assignment
}

// assignment moves one property from source to result.
type assignment struct {
	prop *meta.Property
	// sub reshapes a partially selected complex value.
	sub *Plan
	// branch reshapes an expanded navigation.
	branch *branch
}

type branch struct {
	exp  *clause.ExpandClause
	item *Plan
}

// Build creates the plan for items of itemType. A nil select tree selects
// every property; a nil expand tree expands nothing.
func Build(registry *meta.Registry, itemType reflect.Type, sel *clause.SelectClause, exp *clause.ExpandClause) (*Plan, error) {
	p := &Plan{registry: registry, itemType: itemType, sel: sel, exp: exp}
	if meta.IsStructured(itemType) {
		if _, err := p.plan(derefType(itemType)); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ItemType returns the static type the plan applies to.
func (p *Plan) ItemType() reflect.Type { return p.itemType }

// Loads reports whether the plan reads property prop of a root item.
func (p *Plan) Loads(prop *meta.Property) bool {
	if !prop.Navigation {
		return true
	}
	_, ok := p.expanded(prop)
	return ok
}

func (p *Plan) expanded(prop *meta.Property) (*clause.ExpandClause, bool) {
	if e, ok := p.exp.Child(prop); ok {
		return e, true
	}
	// Concrete implementations of a polymorphic item type carry their own
	// property instances, so fall back to the name.
	return p.exp.ChildByName(prop.JSONName)
}

func (p *Plan) plan(t reflect.Type) (*structPlan, error) {
	if sp, ok := p.structs.Load(t); ok {
		return sp.(*structPlan), nil
	}
	desc, err := p.registry.Describe(t)
	if err != nil {
		return nil, err
	}
	sp := &structPlan{desc: desc}
	for _, prop := range desc.Properties {
		if prop.Navigation {
			e, ok := p.expanded(prop)
			if !ok {
				continue
			}
			item, err := Build(p.registry, e.ItemType(), clause.BranchSelect(p.sel, e), e)
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", prop.JSONName, err)
			}
			sp.assigns = append(sp.assigns, assignment{prop: prop, branch: &branch{exp: e, item: item}})
			continue
		}

		child, ok := p.sel.Lookup(prop)
		if !ok {
			continue
		}
		a := assignment{prop: prop}
		if child != nil && !child.IsOpen() && meta.IsStructured(prop.Type) {
			if a.sub, err = Build(p.registry, prop.Type, child, nil); err != nil {
				return nil, fmt.Errorf("select %s: %w", prop.JSONName, err)
			}
		}
		sp.assigns = append(sp.assigns, a)
	}
	actual, _ := p.structs.LoadOrStore(t, sp)
	return actual.(*structPlan), nil
}

// Reshape returns a reshaped copy of item, which has the plan's item type
// (or, for polymorphic items, any implementation of it). Null stays null.
func (p *Plan) Reshape(ctx context.Context, item reflect.Value) (reflect.Value, error) {
	switch item.Kind() {
	case reflect.Interface:
		if item.IsNil() {
			return item, nil
		}
		inner, err := p.Reshape(ctx, item.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(item.Type()).Elem()
		out.Set(inner)
		return out, nil
	case reflect.Pointer:
		if item.IsNil() || !meta.IsStructured(item.Type()) {
			return item, nil
		}
		inner, err := p.Reshape(ctx, item.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(inner.Type())
		out.Elem().Set(inner)
		return out, nil
	case reflect.Struct:
		if !meta.IsStructured(item.Type()) {
			return item, nil
		}
		sp, err := p.plan(item.Type())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(item.Type()).Elem()
		if err := sp.apply(ctx, item, out); err != nil {
			return reflect.Value{}, err
		}
		return out, nil
	}
	return item, nil
}

func (sp *structPlan) apply(ctx context.Context, src, dst reflect.Value) error {
	for _, a := range sp.assigns {
		v := a.prop.Get(src)
		if !v.IsValid() {
			continue
		}
		var err error
		switch {
		case a.branch != nil:
			v, err = a.branch.apply(ctx, v)
		case a.sub != nil:
			v, err = a.sub.Reshape(ctx, v)
		}
		if err != nil {
			return fmt.Errorf("%s.%s: %w", sp.desc.Name, a.prop.JSONName, err)
		}
		a.prop.Set(dst, v)
	}
	return nil
}

func (b *branch) apply(ctx context.Context, v reflect.Value) (reflect.Value, error) {
	switch {
	case v.Kind() == reflect.Pointer && !b.exp.IsCollection() && meta.IsStructured(v.Type()):
		return b.item.Reshape(ctx, v)
	case v.Kind() == reflect.Pointer:
		if v.IsNil() {
			return v, nil
		}
		inner, err := b.apply(ctx, v.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(inner.Type())
		out.Elem().Set(inner)
		return out, nil
	case v.Kind() == reflect.Slice || v.Kind() == reflect.Array:
		return b.collection(ctx, v)
	case v.Kind() == reflect.Map:
		return b.dictionary(ctx, v)
	}
	return b.item.Reshape(ctx, v)
}

// collection applies filter, ordering, skip and top, in that order, then
// reshapes each surviving element into a value of the declared type.
func (b *branch) collection(ctx context.Context, v reflect.Value) (reflect.Value, error) {
	if v.Kind() == reflect.Slice && v.IsNil() {
		return v, nil
	}
	var src queryable.Source = queryable.FromValue(v)
	src = src.Where(b.exp.Filter()).OrderBy(b.exp.OrderBy())
	if n, ok := b.exp.Skip(); ok {
		src = src.Skip(n)
	}
	if n, ok := b.exp.Top(); ok {
		src = src.Take(n)
	}
	items, err := src.Select(b.item).Materialize(ctx)
	if err != nil {
		return reflect.Value{}, err
	}

	if v.Kind() == reflect.Array {
		out := reflect.New(v.Type()).Elem()
		reflect.Copy(out, items)
		return out, nil
	}
	if items.Type() != v.Type() {
		items = items.Convert(v.Type())
	}
	return items, nil
}

func (b *branch) dictionary(ctx context.Context, v reflect.Value) (reflect.Value, error) {
	if v.IsNil() {
		return v, nil
	}
	out := reflect.MakeMapWithSize(v.Type(), v.Len())
	iter := v.MapRange()
	for iter.Next() {
		item, err := b.item.Reshape(ctx, iter.Value())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("key %v: %w", iter.Key(), err)
		}
		if !item.IsValid() {
			item = reflect.Zero(v.Type().Elem())
		}
		out.SetMapIndex(iter.Key(), item)
	}
	return out, nil
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
