// Package queryable defines the lazy query source the pipeline runs
// against, and an in-memory implementation.
//
// A Source records operations without executing them. Count and
// Materialize execute the recorded chain and are the only operations that
// accept a context.
package queryable

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
)

// Reshaper transforms an item into a new item of the same static type.
type Reshaper interface {
	Reshape(ctx context.Context, item reflect.Value) (reflect.Value, error)
}

// Loader is implemented by reshapers that know which properties they read.
// Sources backed by external storage use it to skip loading navigation
// properties that are not expanded.
type Loader interface {
	Loads(p *meta.Property) bool
}

// Source is a lazy, composable query over items of one static type.
//
// Every method except Count and Materialize returns a new Source and
// leaves the receiver unchanged. Filters and orderings always observe the
// source items; a Select reshapes only the items that survive.
type Source interface {
	// ElemType is the static item type.
	ElemType() reflect.Type

	Where(f *clause.FilterClause) Source
	// OrderBy sorts by keys in precedence order. Ties keep source order.
	OrderBy(keys []*clause.OrderByClause) Source
	Select(r Reshaper) Source
	Skip(n int) Source
	Take(n int) Source

	// Count executes the chain and returns the number of items.
	Count(ctx context.Context) (int64, error)
	// Materialize executes the chain and returns a slice of ElemType.
	Materialize(ctx context.Context) (reflect.Value, error)
}

// ToSlice materializes src into a typed slice.
func ToSlice[T any](ctx context.Context, src Source) ([]T, error) {
	v, err := src.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	out, ok := v.Interface().([]T)
	if !ok {
		return nil, fmt.Errorf("source yields %s, not []%s", v.Type(), reflect.TypeOf((*T)(nil)).Elem())
	}
	return out, nil
}

// First materializes src and returns its first item, reporting false when
// the source is empty.
func First[T any](ctx context.Context, src Source) (T, bool, error) {
	var zero T
	items, err := ToSlice[T](ctx, src.Take(1))
	if err != nil || len(items) == 0 {
		return zero, false, err
	}
	return items[0], true, nil
}
