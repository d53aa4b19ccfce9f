package expr

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDivideByZero is returned when div or mod has a zero integer divisor.
var ErrDivideByZero = errors.New("division by zero")

// Env binds parameters to values during evaluation. Nested scopes (an
// expand branch's filter, for example) push a new binding on top of the
// outer one.
type Env struct {
	param  *Parameter
	value  reflect.Value
	parent *Env
}

// Bind returns a child environment binding p to v.
func (e *Env) Bind(p *Parameter, v reflect.Value) *Env {
	return &Env{param: p, value: v, parent: e}
}

func (e *Env) lookup(p *Parameter) (reflect.Value, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if cur.param == p {
			return cur.value, true
		}
	}
	return reflect.Value{}, false
}

// Evaluator computes an expression's value. An invalid reflect.Value is
// null.
type Evaluator func(env *Env) (reflect.Value, error)

// Compile turns an expression tree into a closure. Compilation resolves
// every node once; evaluating the closure performs no further lookups.
func Compile(e Expr) (Evaluator, error) {
	switch n := e.(type) {
	case *Constant:
		return compileConstant(n), nil
	case *Parameter:
		return func(env *Env) (reflect.Value, error) {
			v, ok := env.lookup(n)
			if !ok {
				return reflect.Value{}, fmt.Errorf("parameter %q is not bound", n.Name)
			}
			return v, nil
		}, nil
	case *Member:
		return compileMember(n)
	case *Unary:
		return compileUnary(n)
	case *Binary:
		return compileBinary(n)
	case *Call:
		return compileCall(n)
	case *NewArray:
		return compileNewArray(n)
	case *Convert:
		return compileConvert(n)
	case *Lambda:
		return nil, fmt.Errorf("lambda cannot be evaluated as a value")
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", e)
	}
}

// CompilePredicate compiles a boolean lambda. A null result is false.
func CompilePredicate(l *Lambda) (func(item reflect.Value) (bool, error), error) {
	if Deref(l.Body.Type()) != BoolType {
		return nil, fmt.Errorf("predicate must be boolean, got %s", TypeName(l.Body.Type()))
	}
	body, err := Compile(l.Body)
	if err != nil {
		return nil, err
	}
	return func(item reflect.Value) (bool, error) {
		v, err := body((*Env)(nil).Bind(l.Param, item))
		if err != nil {
			return false, err
		}
		v = Indirect(v)
		return v.IsValid() && v.Bool(), nil
	}, nil
}

// CompileSelector compiles a lambda into a per-item function.
func CompileSelector(l *Lambda) (func(item reflect.Value) (reflect.Value, error), error) {
	body, err := Compile(l.Body)
	if err != nil {
		return nil, err
	}
	return func(item reflect.Value) (reflect.Value, error) {
		return body((*Env)(nil).Bind(l.Param, item))
	}, nil
}

// Indirect follows pointers and interfaces. A nil pointer or interface
// yields the invalid (null) value.
func Indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func compileConstant(c *Constant) Evaluator {
	var v reflect.Value
	if !c.IsNull() && c.Value != nil {
		v = reflect.ValueOf(c.Value)
	}
	return func(*Env) (reflect.Value, error) {
		return v, nil
	}
}

func compileMember(m *Member) (Evaluator, error) {
	target, err := Compile(m.Target)
	if err != nil {
		return nil, err
	}
	index := m.Index
	return func(env *Env) (reflect.Value, error) {
		v, err := target(env)
		if err != nil {
			return reflect.Value{}, err
		}
		v = Indirect(v)
		if !v.IsValid() {
			return reflect.Value{}, nil
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("member %q: target is %s, not a struct", m.Name, v.Type())
		}
		f, err := v.FieldByIndexErr(index)
		if err != nil {
			// nil embedded pointer on the path
			return reflect.Value{}, nil
		}
		return f, nil
	}, nil
}

func compileUnary(u *Unary) (Evaluator, error) {
	operand, err := Compile(u.Operand)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case OpNot:
		return func(env *Env) (reflect.Value, error) {
			v, err := operand(env)
			if err != nil {
				return reflect.Value{}, err
			}
			v = Indirect(v)
			if !v.IsValid() {
				return reflect.Value{}, nil
			}
			return reflect.ValueOf(!v.Bool()), nil
		}, nil
	case OpNegate:
		t := u.Type()
		return func(env *Env) (reflect.Value, error) {
			v, err := operand(env)
			if err != nil {
				return reflect.Value{}, err
			}
			v = Indirect(v)
			if !v.IsValid() {
				return reflect.Value{}, nil
			}
			out := reflect.New(t).Elem()
			switch {
			case v.CanInt():
				out.SetInt(-v.Int())
			case v.CanFloat():
				out.SetFloat(-v.Float())
			default:
				return reflect.Value{}, fmt.Errorf("cannot negate %s", v.Type())
			}
			return out, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported unary operator %v", u.Op)
}

func compileBinary(b *Binary) (Evaluator, error) {
	left, err := Compile(b.Left)
	if err != nil {
		return nil, err
	}
	right, err := Compile(b.Right)
	if err != nil {
		return nil, err
	}

	if b.Op.IsLogical() {
		isAnd := b.Op == OpAnd
		return func(env *Env) (reflect.Value, error) {
			l, err := left(env)
			if err != nil {
				return reflect.Value{}, err
			}
			lb := truthy(l)
			if isAnd && !lb {
				return reflect.ValueOf(false), nil
			}
			if !isAnd && lb {
				return reflect.ValueOf(true), nil
			}
			r, err := right(env)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(truthy(r)), nil
		}, nil
	}

	op := b.Op
	resultType := b.Type()
	return func(env *Env) (reflect.Value, error) {
		l, err := left(env)
		if err != nil {
			return reflect.Value{}, err
		}
		r, err := right(env)
		if err != nil {
			return reflect.Value{}, err
		}
		l, r = Indirect(l), Indirect(r)

		switch op {
		case OpEq:
			eq, err := Equal(l, r)
			return reflect.ValueOf(eq), err
		case OpNe:
			eq, err := Equal(l, r)
			return reflect.ValueOf(!eq), err
		case OpGt, OpGe, OpLt, OpLe:
			if !l.IsValid() || !r.IsValid() {
				return reflect.ValueOf(false), nil
			}
			c, err := Compare(l, r)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(orderHolds(op, c)), nil
		case OpHas:
			if !l.IsValid() || !r.IsValid() {
				return reflect.ValueOf(false), nil
			}
			return reflect.ValueOf(hasFlag(l, r)), nil
		default:
			if !l.IsValid() || !r.IsValid() {
				return reflect.Value{}, nil
			}
			return arithmetic(op, l, r, resultType)
		}
	}, nil
}

func truthy(v reflect.Value) bool {
	v = Indirect(v)
	return v.IsValid() && v.Kind() == reflect.Bool && v.Bool()
}

func orderHolds(op BinaryOp, c int) bool {
	switch op {
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	case OpLt:
		return c < 0
	default:
		return c <= 0
	}
}

func hasFlag(l, r reflect.Value) bool {
	if l.CanUint() && r.CanUint() {
		return l.Uint()&r.Uint() == r.Uint()
	}
	if l.CanInt() && r.CanInt() {
		return l.Int()&r.Int() == r.Int()
	}
	return false
}

func arithmetic(op BinaryOp, l, r reflect.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case out.CanInt():
		a, b := l.Int(), r.Int()
		switch op {
		case OpAdd:
			out.SetInt(a + b)
		case OpSub:
			out.SetInt(a - b)
		case OpMul:
			out.SetInt(a * b)
		case OpDiv, OpMod:
			if b == 0 {
				return reflect.Value{}, ErrDivideByZero
			}
			if op == OpDiv {
				out.SetInt(a / b)
			} else {
				out.SetInt(a % b)
			}
		}
	case out.CanUint():
		a, b := l.Uint(), r.Uint()
		switch op {
		case OpAdd:
			out.SetUint(a + b)
		case OpSub:
			out.SetUint(a - b)
		case OpMul:
			out.SetUint(a * b)
		case OpDiv, OpMod:
			if b == 0 {
				return reflect.Value{}, ErrDivideByZero
			}
			if op == OpDiv {
				out.SetUint(a / b)
			} else {
				out.SetUint(a % b)
			}
		}
	case out.CanFloat():
		a, b := toFloat(l), toFloat(r)
		switch op {
		case OpAdd:
			out.SetFloat(a + b)
		case OpSub:
			out.SetFloat(a - b)
		case OpMul:
			out.SetFloat(a * b)
		case OpDiv:
			out.SetFloat(a / b)
		case OpMod:
			out.SetFloat(math.Mod(a, b))
		}
	default:
		return reflect.Value{}, fmt.Errorf("operator %s is not defined for %s", op, t)
	}
	return out, nil
}

func toFloat(v reflect.Value) float64 {
	switch {
	case v.CanFloat():
		return v.Float()
	case v.CanInt():
		return float64(v.Int())
	case v.CanUint():
		return float64(v.Uint())
	}
	return math.NaN()
}

// Equal compares two dereferenced values. Null equals only null.
func Equal(a, b reflect.Value) (bool, error) {
	a, b = Indirect(a), Indirect(b)
	if !a.IsValid() || !b.IsValid() {
		return !a.IsValid() && !b.IsValid(), nil
	}
	if isNumericValue(a) && isNumericValue(b) {
		c, err := Compare(a, b)
		return c == 0, err
	}
	if ta, ok := a.Interface().(time.Time); ok {
		if tb, ok := b.Interface().(time.Time); ok {
			return ta.Equal(tb), nil
		}
	}
	if a.Type().Comparable() && b.Type().Comparable() {
		return a.Interface() == b.Interface(), nil
	}
	return reflect.DeepEqual(a.Interface(), b.Interface()), nil
}

// Compare orders two values. Null sorts before every other value.
func Compare(a, b reflect.Value) (int, error) {
	a, b = Indirect(a), Indirect(b)
	switch {
	case !a.IsValid() && !b.IsValid():
		return 0, nil
	case !a.IsValid():
		return -1, nil
	case !b.IsValid():
		return 1, nil
	}

	switch {
	case a.CanInt() && b.CanInt():
		return cmp3(a.Int(), b.Int()), nil
	case a.CanUint() && b.CanUint():
		return cmp3(a.Uint(), b.Uint()), nil
	case isNumericValue(a) && isNumericValue(b):
		return cmp3(toFloat(a), toFloat(b)), nil
	case a.Kind() == reflect.String && b.Kind() == reflect.String:
		return strings.Compare(a.String(), b.String()), nil
	case a.Kind() == reflect.Bool && b.Kind() == reflect.Bool:
		return cmp3(boolRank(a.Bool()), boolRank(b.Bool())), nil
	}

	switch av := a.Interface().(type) {
	case time.Time:
		if bv, ok := b.Interface().(time.Time); ok {
			return av.Compare(bv), nil
		}
	case uuid.UUID:
		if bv, ok := b.Interface().(uuid.UUID); ok {
			return bytes.Compare(av[:], bv[:]), nil
		}
	}
	return 0, fmt.Errorf("values of type %s and %s are not ordered", a.Type(), b.Type())
}

func isNumericValue(v reflect.Value) bool {
	return v.CanInt() || v.CanUint() || v.CanFloat()
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

type ordered interface {
	~int | ~int64 | ~uint64 | ~float64
}

func cmp3[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compileCall(c *Call) (Evaluator, error) {
	args := make([]Evaluator, len(c.Args))
	for i, a := range c.Args {
		ev, err := Compile(a)
		if err != nil {
			return nil, err
		}
		args[i] = ev
	}
	fn := c.Func
	return func(env *Env) (reflect.Value, error) {
		vals := make([]reflect.Value, len(args))
		for i, ev := range args {
			v, err := ev(env)
			if err != nil {
				return reflect.Value{}, err
			}
			v = Indirect(v)
			if !v.IsValid() && !fn.NullSafe {
				return reflect.Value{}, nil
			}
			vals[i] = v
		}
		out, err := fn.Impl(vals)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("%s: %w", fn.Name, err)
		}
		return out, nil
	}, nil
}

func compileNewArray(a *NewArray) (Evaluator, error) {
	items := make([]Evaluator, len(a.Items))
	for i, it := range a.Items {
		ev, err := Compile(it)
		if err != nil {
			return nil, err
		}
		items[i] = ev
	}
	sliceType := a.Type()
	elem := a.Elem
	base := Deref(elem)
	return func(env *Env) (reflect.Value, error) {
		out := reflect.MakeSlice(sliceType, len(items), len(items))
		for i, ev := range items {
			v, err := ev(env)
			if err != nil {
				return reflect.Value{}, err
			}
			if elem.Kind() != reflect.Interface {
				v = Indirect(v)
			}
			// A null item stays the zero element: nil for nullable
			// element types.
			if !v.IsValid() {
				continue
			}
			if elem.Kind() != reflect.Interface {
				if v.Type() != base {
					v = v.Convert(base)
				}
				if elem.Kind() == reflect.Pointer {
					p := reflect.New(base)
					p.Elem().Set(v)
					v = p
				}
			}
			out.Index(i).Set(v)
		}
		return out, nil
	}, nil
}

func compileConvert(c *Convert) (Evaluator, error) {
	operand, err := Compile(c.Operand)
	if err != nil {
		return nil, err
	}
	target := Deref(c.Typ)
	return func(env *Env) (reflect.Value, error) {
		v, err := operand(env)
		if err != nil {
			return reflect.Value{}, err
		}
		if target.Kind() == reflect.Interface {
			return v, nil
		}
		v = Indirect(v)
		if !v.IsValid() {
			return reflect.Value{}, nil
		}
		if !v.Type().ConvertibleTo(target) {
			return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", v.Type(), target)
		}
		return v.Convert(target), nil
	}, nil
}
