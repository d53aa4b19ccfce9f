// Package clause holds the parsed query clauses and their sub-parsers.
//
// Clause trees are built in two phases. Sub-parsers populate mutable
// builders (SelectBuilder, ExpandBuilder); Build freezes a builder into an
// immutable clause. A built clause has no mutating methods and may be
// shared between goroutines.
//
// Select and expand trees are keyed by the same property reference
// (*meta.Property) so the projection builder and the codec can correlate
// branches.
package clause

import (
	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/syntax"
)

// FilterClause is one boolean predicate over the item type.
type FilterClause struct {
	predicate *expr.Lambda
}

// NewFilterClause wraps a boolean lambda.
func NewFilterClause(l *expr.Lambda) (*FilterClause, error) {
	if t := expr.Deref(l.Body.Type()); t != expr.BoolType {
		return nil, syntax.NewBindError("filter must be a boolean expression, got %s", expr.TypeName(l.Body.Type()))
	}
	return &FilterClause{predicate: l}, nil
}

// Predicate returns the filter lambda.
func (f *FilterClause) Predicate() *expr.Lambda { return f.predicate }

func (f *FilterClause) String() string { return expr.String(f.predicate.Body) }

// Direction is a sort direction.
type Direction uint8

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// OrderByClause is one sort key. In a list of clauses the first is the
// primary key and each subsequent clause breaks ties of the previous ones.
type OrderByClause struct {
	key       *expr.Lambda
	direction Direction
}

// NewOrderByClause creates a sort key. The key must be an ordered type.
func NewOrderByClause(key *expr.Lambda, dir Direction) (*OrderByClause, error) {
	t := expr.Deref(key.Body.Type())
	if !expr.Ordered(t) && t != expr.BoolType {
		return nil, syntax.NewBindError("cannot order by a value of type %s", expr.TypeName(key.Body.Type()))
	}
	return &OrderByClause{key: key, direction: dir}, nil
}

// Key returns the sort key lambda.
func (o *OrderByClause) Key() *expr.Lambda { return o.key }

// Direction returns the sort direction.
func (o *OrderByClause) Direction() Direction { return o.direction }

// Descending reports whether the key sorts descending.
func (o *OrderByClause) Descending() bool { return o.direction == Descending }

func (o *OrderByClause) String() string {
	return expr.String(o.key.Body) + " " + o.direction.String()
}
