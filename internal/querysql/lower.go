package querysql

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/queryir"
)

// ErrUnsupported is returned when an expression has no exact SQL
// counterpart. Callers evaluate such clauses in memory.
var ErrUnsupported = errors.New("no SQL translation")

// ColumnResolver maps a property name of the item type to a column.
type ColumnResolver func(name string) (column string, ok bool)

// Lowerer translates filter and order-by clauses into query plan nodes.
// Only members read directly off the clause item are lowered; they must
// resolve to a column and have a scalar storage form.
type Lowerer struct {
	columns ColumnResolver
}

// NewLowerer creates a lowerer resolving members through columns.
func NewLowerer(columns ColumnResolver) *Lowerer {
	return &Lowerer{columns: columns}
}

// Filter lowers a filter clause to a predicate.
func (l *Lowerer) Filter(f *clause.FilterClause) (queryir.Predicate, error) {
	lam := f.Predicate()
	s := scope{l: l, param: lam.Param}
	return s.predicate(lam.Body)
}

// OrderBy lowers sort keys in precedence order.
func (l *Lowerer) OrderBy(keys []*clause.OrderByClause) ([]queryir.OrderKey, error) {
	out := make([]queryir.OrderKey, 0, len(keys))
	for _, k := range keys {
		lam := k.Key()
		s := scope{l: l, param: lam.Param}
		o, err := s.operand(lam.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, queryir.OrderKey{Key: o, Descending: k.Descending()})
	}
	return out, nil
}

// scope lowers the body of one lambda.
type scope struct {
	l     *Lowerer
	param *expr.Parameter
}

func unsupported(e expr.Expr) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, expr.String(e))
}

var (
	always = queryir.And{}
	never  = queryir.Or{}
)

func (s scope) predicate(e expr.Expr) (queryir.Predicate, error) {
	switch n := e.(type) {
	case *expr.Constant:
		if b, ok := n.Value.(bool); ok && b {
			return always, nil
		}
		return never, nil
	case *expr.Member:
		col, err := s.column(n)
		if err != nil {
			return nil, err
		}
		return queryir.Truth{Operand: col}, nil
	case *expr.Convert:
		if expr.Deref(n.Typ) != expr.BoolType {
			return nil, unsupported(e)
		}
		return s.predicate(n.Operand)
	case *expr.Unary:
		if n.Op != expr.OpNot {
			return nil, unsupported(e)
		}
		return s.not(n.Operand)
	case *expr.Binary:
		return s.binary(n)
	case *expr.Call:
		return s.call(n)
	}
	return nil, unsupported(e)
}

// not negates e. Where e evaluates to null in memory its negation is null
// too, which a filter treats as false, so those rows are excluded
// explicitly.
func (s scope) not(e expr.Expr) (queryir.Predicate, error) {
	if isNull(e) {
		return never, nil
	}
	p, err := s.predicate(e)
	if err != nil {
		return nil, err
	}
	guards, err := s.nullable(e)
	if err != nil {
		return nil, err
	}
	if len(guards) == 0 {
		return queryir.Not{Predicate: p}, nil
	}
	parts := make([]queryir.Predicate, 0, len(guards)+1)
	for _, g := range guards {
		parts = append(parts, queryir.Not{Predicate: queryir.IsNull{Operand: g}})
	}
	return queryir.And{Predicates: append(parts, queryir.Not{Predicate: p})}, nil
}

// nullable returns the operands whose null makes the boolean e null.
func (s scope) nullable(e expr.Expr) ([]queryir.Operand, error) {
	switch n := e.(type) {
	case *expr.Member:
		col, err := s.column(n)
		if err != nil {
			return nil, err
		}
		return []queryir.Operand{col}, nil
	case *expr.Convert:
		return s.nullable(n.Operand)
	case *expr.Unary:
		return s.nullable(n.Operand)
	case *expr.Call:
		if n.Func.NullSafe {
			return nil, nil
		}
		var out []queryir.Operand
		for _, a := range n.Args {
			if _, ok := a.(*expr.Constant); ok {
				continue
			}
			if _, ok := a.(*expr.NewArray); ok {
				continue
			}
			o, err := s.operand(a)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
		return out, nil
	}
	return nil, nil
}

func (s scope) binary(b *expr.Binary) (queryir.Predicate, error) {
	switch {
	case b.Op.IsLogical():
		left, err := s.predicate(b.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.predicate(b.Right)
		if err != nil {
			return nil, err
		}
		if b.Op == expr.OpAnd {
			return queryir.And{Predicates: []queryir.Predicate{left, right}}, nil
		}
		return queryir.Or{Predicates: []queryir.Predicate{left, right}}, nil

	case b.Op == expr.OpHas:
		return s.has(b)

	case b.Op.IsComparison():
		if isNull(b.Right) || isNull(b.Left) {
			return s.nullComparison(b)
		}
		left, err := s.operand(b.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.operand(b.Right)
		if err != nil {
			return nil, err
		}
		return queryir.Compare{Op: compareOps[b.Op], Left: left, Right: right}, nil
	}
	return nil, unsupported(b)
}

var compareOps = map[expr.BinaryOp]queryir.CompareOp{
	expr.OpEq: queryir.Eq,
	expr.OpNe: queryir.Ne,
	expr.OpLt: queryir.Lt,
	expr.OpLe: queryir.Le,
	expr.OpGt: queryir.Gt,
	expr.OpGe: queryir.Ge,
}

// nullComparison lowers eq and ne against null. The parser accepts no
// other comparison with null.
func (s scope) nullComparison(b *expr.Binary) (queryir.Predicate, error) {
	if b.Op != expr.OpEq && b.Op != expr.OpNe {
		return nil, unsupported(b)
	}
	other := b.Left
	if isNull(b.Left) {
		other = b.Right
	}
	if isNull(other) {
		if b.Op == expr.OpEq {
			return always, nil
		}
		return never, nil
	}
	o, err := s.operand(other)
	if err != nil {
		return nil, err
	}
	p := queryir.Predicate(queryir.IsNull{Operand: o})
	if b.Op == expr.OpNe {
		p = queryir.Not{Predicate: p}
	}
	return p, nil
}

func (s scope) has(b *expr.Binary) (queryir.Predicate, error) {
	c, ok := b.Right.(*expr.Constant)
	if !ok {
		return nil, unsupported(b)
	}
	if isNull(c) {
		return never, nil
	}
	mask, err := StorageValue(reflect.ValueOf(c.Value))
	if err != nil {
		return nil, unsupported(b)
	}
	m, ok := mask.(int64)
	if !ok || m < 0 {
		return nil, unsupported(b)
	}
	o, err := s.operand(b.Left)
	if err != nil {
		return nil, err
	}
	return queryir.HasFlags{Operand: o, Mask: m}, nil
}

var matchKinds = map[string]queryir.MatchKind{
	"contains":   queryir.Contains,
	"startswith": queryir.StartsWith,
	"endswith":   queryir.EndsWith,
}

func (s scope) call(c *expr.Call) (queryir.Predicate, error) {
	kind, ok := matchKinds[c.Func.Name]
	if !ok || len(c.Args) != 2 {
		return nil, unsupported(c)
	}
	if c.Func.Name == "contains" {
		if arr, ok := c.Args[0].(*expr.NewArray); ok {
			return s.in(c, arr)
		}
	}
	if expr.Deref(c.Args[0].Type()).Kind() != reflect.String {
		return nil, unsupported(c)
	}
	pattern, ok := stringConstant(c.Args[1])
	if !ok {
		return nil, unsupported(c)
	}
	subject, err := s.operand(c.Args[0])
	if err != nil {
		return nil, err
	}
	return queryir.Match{Kind: kind, Subject: subject, Pattern: pattern}, nil
}

// in lowers a lookup of an item in a literal array. Null items never
// match because a null item makes the lookup null.
func (s scope) in(c *expr.Call, arr *expr.NewArray) (queryir.Predicate, error) {
	values := make([]any, 0, len(arr.Items))
	for _, it := range arr.Items {
		k, ok := it.(*expr.Constant)
		if !ok {
			return nil, unsupported(c)
		}
		if isNull(k) {
			continue
		}
		v, err := StorageValue(reflect.ValueOf(k.Value))
		if err != nil {
			return nil, unsupported(c)
		}
		values = append(values, v)
	}
	o, err := s.operand(c.Args[1])
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return never, nil
	}
	return queryir.In{Operand: o, Values: values}, nil
}

func (s scope) operand(e expr.Expr) (queryir.Operand, error) {
	switch n := e.(type) {
	case *expr.Constant:
		if isNull(n) {
			return queryir.Param{}, nil
		}
		v, err := StorageValue(reflect.ValueOf(n.Value))
		if err != nil {
			return nil, unsupported(e)
		}
		return queryir.Param{Value: v}, nil

	case *expr.Member:
		return s.column(n)

	case *expr.Convert:
		from, to := expr.Deref(n.Operand.Type()), expr.Deref(n.Typ)
		if from != to && !(expr.IsNumeric(from) && expr.IsNumeric(to)) {
			return nil, unsupported(e)
		}
		return s.operand(n.Operand)

	case *expr.Unary:
		if n.Op != expr.OpNegate || !exactInSQL(n.Type()) {
			return nil, unsupported(e)
		}
		o, err := s.operand(n.Operand)
		if err != nil {
			return nil, err
		}
		return queryir.Negate{Operand: o}, nil

	case *expr.Binary:
		op, ok := arithOps[n.Op]
		t := n.Type()
		if !ok || !exactInSQL(t) {
			return nil, unsupported(e)
		}
		left, err := s.operand(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.operand(n.Right)
		if err != nil {
			return nil, err
		}
		return queryir.Arith{Op: op, Left: left, Right: right}, nil

	case *expr.Call:
		return s.function(n)
	}
	return nil, unsupported(e)
}

var arithOps = map[expr.BinaryOp]queryir.ArithOp{
	expr.OpAdd: queryir.Add,
	expr.OpSub: queryir.Sub,
	expr.OpMul: queryir.Mul,
}

func (s scope) function(c *expr.Call) (queryir.Operand, error) {
	if len(c.Args) == 0 || expr.Deref(c.Args[0].Type()).Kind() != reflect.String {
		return nil, unsupported(c)
	}
	switch {
	case c.Func.Name == "length" && len(c.Args) == 1:
		o, err := s.operand(c.Args[0])
		if err != nil {
			return nil, err
		}
		return queryir.Length{Operand: o}, nil
	case c.Func.Name == "indexof" && len(c.Args) == 2:
		pattern, ok := stringConstant(c.Args[1])
		if !ok {
			return nil, unsupported(c)
		}
		o, err := s.operand(c.Args[0])
		if err != nil {
			return nil, err
		}
		return queryir.IndexOf{Operand: o, Pattern: pattern}, nil
	}
	return nil, unsupported(c)
}

func (s scope) column(m *expr.Member) (queryir.Operand, error) {
	if m.Target != expr.Expr(s.param) {
		return nil, unsupported(m)
	}
	if _, ok := Affinity(m.Typ); !ok {
		return nil, unsupported(m)
	}
	name, ok := s.l.columns(m.Name)
	if !ok {
		return nil, unsupported(m)
	}
	return queryir.Column{Name: name}, nil
}

// exactInSQL reports whether arithmetic producing t gives the same result
// in SQLite as in memory. Integer results are evaluated in memory: they
// wrap at their declared width there, where SQLite widens to 64 bits or to
// REAL on overflow. float32 results would round differently.
func exactInSQL(t reflect.Type) bool {
	return expr.Deref(t).Kind() == reflect.Float64
}

func isNull(e expr.Expr) bool {
	c, ok := e.(*expr.Constant)
	return ok && (c.IsNull() || c.Value == nil)
}

func stringConstant(e expr.Expr) (string, bool) {
	c, ok := e.(*expr.Constant)
	if !ok || c.IsNull() {
		return "", false
	}
	s, ok := c.Value.(string)
	return s, ok
}
