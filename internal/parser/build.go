package parser

import (
	"reflect"

	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/syntax"
)

func bindError(pos int, format string, args ...any) error {
	return syntax.WithPosition(syntax.NewBindError(format, args...), pos)
}

func literal(tok syntax.Token) expr.Expr {
	if tok.Is(syntax.NullLiteral) {
		return expr.NewConstant(nil)
	}
	c := expr.NewConstant(tok.Value)
	switch tok.Kind {
	case syntax.IntegerLiteral, syntax.LongLiteral, syntax.SingleLiteral, syntax.DoubleLiteral:
		c.Text = tok.Text
	}
	return c
}

func logical(op expr.BinaryOp, left, right expr.Expr, pos int) (expr.Expr, error) {
	for _, e := range []expr.Expr{left, right} {
		if t := expr.Deref(e.Type()); t != expr.BoolType && t != expr.NullType {
			return nil, bindError(pos, "%s requires boolean operands, got %s", op, expr.TypeName(e.Type()))
		}
	}
	return &expr.Binary{Op: op, Left: left, Right: right}, nil
}

func comparison(op expr.BinaryOp, left, right expr.Expr, pos int) (expr.Expr, error) {
	if left.Type() == expr.NullType || right.Type() == expr.NullType {
		if op != expr.OpEq && op != expr.OpNe {
			return nil, bindError(pos, "null can only be compared with eq or ne")
		}
		return &expr.Binary{Op: op, Left: left, Right: right}, nil
	}

	l, r, err := expr.Promote(left, right)
	if err != nil {
		return nil, bindError(pos, "%s: %v", op, err)
	}
	if op != expr.OpEq && op != expr.OpNe {
		t := expr.Deref(l.Type())
		if !expr.Ordered(t) && t != expr.BoolType && t != expr.AnyType {
			return nil, bindError(pos, "%s is not defined for %s", op, expr.TypeName(t))
		}
	}
	return &expr.Binary{Op: op, Left: l, Right: r}, nil
}

// hasFlag builds an enum flag test. The right operand is converted to the
// left operand's enum type: an integer literal numerically, a string
// literal through the type's text unmarshaling.
func hasFlag(left, right expr.Expr, pos int) (expr.Expr, error) {
	enum := expr.Deref(left.Type())
	if !expr.IsInteger(enum) {
		return nil, bindError(pos, "has requires an enumeration operand, got %s", expr.TypeName(left.Type()))
	}
	if c, ok := right.(*expr.Constant); ok {
		converted, err := expr.ConvertTo(c, enum)
		if err != nil {
			return nil, bindError(pos, "has: %v", err)
		}
		right = converted
	} else if expr.Deref(right.Type()) != enum {
		return nil, bindError(pos, "has: flag must be a %s, got %s", expr.TypeName(enum), expr.TypeName(right.Type()))
	}
	return &expr.Binary{Op: expr.OpHas, Left: left, Right: right}, nil
}

func arithmetic(op expr.BinaryOp, left, right expr.Expr, pos int) (expr.Expr, error) {
	if !expr.IsNumeric(left.Type()) || !expr.IsNumeric(right.Type()) {
		return nil, bindError(pos, "%s requires numeric operands, got %s and %s",
			op, expr.TypeName(left.Type()), expr.TypeName(right.Type()))
	}
	l, r, err := expr.Promote(left, right)
	if err != nil {
		return nil, bindError(pos, "%s: %v", op, err)
	}
	return &expr.Binary{Op: op, Left: l, Right: r}, nil
}

// negate folds negation into numeric literals so that "-5" stays a
// constant.
func negate(operand expr.Expr, pos int) (expr.Expr, error) {
	if !expr.IsNumeric(operand.Type()) {
		return nil, bindError(pos, "cannot negate %s", expr.TypeName(operand.Type()))
	}
	c, ok := operand.(*expr.Constant)
	if !ok || c.Value == nil {
		return &expr.Unary{Op: expr.OpNegate, Operand: operand}, nil
	}
	v := reflect.ValueOf(c.Value)
	out := reflect.New(v.Type()).Elem()
	switch {
	case v.CanInt():
		out.SetInt(-v.Int())
	case v.CanFloat():
		out.SetFloat(-v.Float())
	default:
		return &expr.Unary{Op: expr.OpNegate, Operand: operand}, nil
	}
	text := c.Text
	if text != "" {
		text = "-" + text
	}
	return &expr.Constant{Value: out.Interface(), Typ: c.Typ, Text: text}, nil
}
