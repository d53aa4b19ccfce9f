package expr

import (
	"fmt"
	"reflect"
	"strconv"
)

// Expr is a typed expression node.
//
// This is a sealed interface - only types in this package implement it.
// Nodes are immutable once built; later stages compose them into larger
// trees (the projection builder wraps filter bodies in lambdas bound to a
// fresh parameter, for example) but never mutate them.
//
// Node types:
//   - Constant: literal value
//   - Parameter: the current item of a scope
//   - Member: field access on a struct-typed target
//   - Unary: not, negate
//   - Binary: logical, comparison, arithmetic, has
//   - Call: bound function call
//   - NewArray: array literal
//   - Convert: numeric or text conversion
//   - Lambda: single-parameter function
type Expr interface {
	Type() reflect.Type
	exprNode() // Marker method - seals interface to this package
}

// Constant is a literal value.
//
// Text carries the literal's source text when it came from the query
// string; conversions re-parse it so that a float32 literal widened to
// float64 keeps its decimal value.
type Constant struct {
	Value any
	Typ   reflect.Type
	Text  string
}

func (c *Constant) Type() reflect.Type { return c.Typ }
func (*Constant) exprNode()            {}

// NewConstant creates a constant typed after v. A nil v is the null literal.
func NewConstant(v any) *Constant {
	if v == nil {
		return &Constant{Typ: NullType}
	}
	return &Constant{Value: v, Typ: reflect.TypeOf(v)}
}

// IsNull reports whether c is the null literal.
func (c *Constant) IsNull() bool {
	return c.Typ == NullType
}

// Parameter is the item bound by a scope (the element of the collection a
// clause applies to).
type Parameter struct {
	Name string
	Typ  reflect.Type
}

func (p *Parameter) Type() reflect.Type { return p.Typ }
func (*Parameter) exprNode()            {}

// NewParameter creates a parameter of type t.
func NewParameter(name string, t reflect.Type) *Parameter {
	return &Parameter{Name: name, Typ: t}
}

// Member is a struct field access. Index is the field index path as used
// by reflect.Value.FieldByIndex; Name is the API-visible name.
type Member struct {
	Target Expr
	Name   string
	Field  string
	Index  []int
	Typ    reflect.Type
}

func (m *Member) Type() reflect.Type { return m.Typ }
func (*Member) exprNode()            {}

// UnaryOp enumerates unary operators.
type UnaryOp uint8

const (
	OpNot UnaryOp = iota + 1
	OpNegate
)

func (op UnaryOp) String() string {
	switch op {
	case OpNot:
		return "not"
	case OpNegate:
		return "-"
	}
	return "?"
}

// Unary applies a unary operator.
type Unary struct {
	Op      UnaryOp
	Operand Expr
}

func (u *Unary) Type() reflect.Type { return Deref(u.Operand.Type()) }
func (*Unary) exprNode()            {}

// BinaryOp enumerates binary operators.
type BinaryOp uint8

const (
	OpOr BinaryOp = iota + 1
	OpAnd
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpHas
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
)

var binaryOpNames = map[BinaryOp]string{
	OpOr: "or", OpAnd: "and",
	OpEq: "eq", OpNe: "ne", OpGt: "gt", OpGe: "ge", OpLt: "lt", OpLe: "le",
	OpHas: "has",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpNames[op]; ok {
		return s
	}
	return "?"
}

// IsComparison reports whether op yields a boolean from two values.
func (op BinaryOp) IsComparison() bool {
	return op >= OpEq && op <= OpHas
}

// IsLogical reports whether op combines two booleans.
func (op BinaryOp) IsLogical() bool {
	return op == OpOr || op == OpAnd
}

// IsArithmetic reports whether op is add/sub/mul/div/mod.
func (op BinaryOp) IsArithmetic() bool {
	return op >= OpAdd && op <= OpMod
}

// Binary applies a binary operator. Operands are already promoted to a
// common type for comparison and arithmetic operators.
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (b *Binary) Type() reflect.Type {
	if b.Op.IsArithmetic() {
		return Deref(b.Left.Type())
	}
	return BoolType
}
func (*Binary) exprNode() {}

// Function is a resolved function implementation. Impl receives argument
// values with pointers already dereferenced; an invalid reflect.Value is
// null. Unless NullSafe is set, a null argument short-circuits the call to
// null.
type Function struct {
	Name     string
	Result   reflect.Type
	NullSafe bool
	Impl     func(args []reflect.Value) (reflect.Value, error)
}

// Call is a bound function call.
type Call struct {
	Func *Function
	Args []Expr
}

func (c *Call) Type() reflect.Type { return c.Func.Result }
func (*Call) exprNode()            {}

// NewArray is an array literal whose items are converted to Elem.
type NewArray struct {
	Elem  reflect.Type
	Items []Expr
}

func (a *NewArray) Type() reflect.Type { return reflect.SliceOf(a.Elem) }
func (*NewArray) exprNode()            {}

// Convert converts Operand to Typ.
type Convert struct {
	Operand Expr
	Typ     reflect.Type
}

func (c *Convert) Type() reflect.Type { return c.Typ }
func (*Convert) exprNode()            {}

// Lambda is a single-parameter function used for predicates, ordering keys
// and selectors.
type Lambda struct {
	Param *Parameter
	Body  Expr
}

func (l *Lambda) Type() reflect.Type {
	return reflect.FuncOf([]reflect.Type{l.Param.Typ}, []reflect.Type{l.Body.Type()}, false)
}
func (*Lambda) exprNode() {}

// NewLambda binds body to param.
func NewLambda(param *Parameter, body Expr) *Lambda {
	return &Lambda{Param: param, Body: body}
}

// ConvertTo converts e to t. Constants are folded; other expressions are
// wrapped in a Convert node. Converting to the expression's own type is a
// no-op.
func ConvertTo(e Expr, t reflect.Type) (Expr, error) {
	if e.Type() == t {
		return e, nil
	}
	if c, ok := e.(*Constant); ok {
		return convertConstant(c, t)
	}
	if Deref(e.Type()) == t {
		return &Convert{Operand: e, Typ: t}, nil
	}
	if IsNumeric(e.Type()) && IsNumeric(t) {
		return &Convert{Operand: e, Typ: t}, nil
	}
	if t == AnyType {
		return &Convert{Operand: e, Typ: t}, nil
	}
	return nil, fmt.Errorf("cannot convert %s to %s", TypeName(e.Type()), TypeName(t))
}

func convertConstant(c *Constant, t reflect.Type) (*Constant, error) {
	if c.IsNull() {
		if !IsNullable(t) {
			return nil, fmt.Errorf("null is not a valid %s", TypeName(t))
		}
		return &Constant{Typ: t}, nil
	}
	if t == AnyType {
		return &Constant{Value: c.Value, Typ: t, Text: c.Text}, nil
	}

	if s, ok := c.Value.(string); ok && Deref(t).Kind() != reflect.String && UnmarshalsText(t) {
		ptr := reflect.New(Deref(t))
		if err := ptr.Interface().(interface{ UnmarshalText([]byte) error }).UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("cannot convert %q to %s: %w", s, TypeName(t), err)
		}
		return &Constant{Value: ptr.Elem().Interface(), Typ: Deref(t), Text: c.Text}, nil
	}

	target := Deref(t)
	if IsNumeric(c.Typ) && IsNumeric(target) {
		if (target.Kind() == reflect.Float32 || target.Kind() == reflect.Float64) && c.Text != "" {
			if f, err := strconv.ParseFloat(c.Text, target.Bits()); err == nil {
				v := reflect.ValueOf(f).Convert(target)
				return &Constant{Value: v.Interface(), Typ: target, Text: c.Text}, nil
			}
		}
		v := reflect.ValueOf(c.Value).Convert(target)
		return &Constant{Value: v.Interface(), Typ: target, Text: c.Text}, nil
	}

	v := reflect.ValueOf(c.Value)
	if v.Type().ConvertibleTo(target) && v.Kind() == target.Kind() {
		return &Constant{Value: v.Convert(target).Interface(), Typ: target, Text: c.Text}, nil
	}
	return nil, fmt.Errorf("cannot convert %s literal to %s", TypeName(c.Typ), TypeName(t))
}

// TypeName renders t for error messages.
func TypeName(t reflect.Type) string {
	switch t {
	case nil:
		return "<nil>"
	case NullType:
		return "null"
	case AnyType:
		return "any"
	}
	return t.String()
}
