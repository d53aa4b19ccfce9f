package expr

import (
	"fmt"
	"reflect"
)

// Promote brings two operands to a common type for comparison or
// arithmetic.
//
// Numeric operands follow the widening lattice (see PromoteTypes). A
// constant next to a differently-named type of the same kind (an enum
// member compared with an integer literal) is converted to that type, as is
// a string constant next to a type that unmarshals text (GUIDs, enums).
// The null literal is left untouched; callers check nullability.
func Promote(left, right Expr) (Expr, Expr, error) {
	lt, rt := left.Type(), right.Type()
	if lt == NullType || rt == NullType {
		return left, right, nil
	}
	if Deref(lt) == Deref(rt) {
		return left, right, nil
	}

	if IsNumeric(lt) && IsNumeric(rt) {
		if Deref(lt).Kind() == Deref(rt).Kind() {
			return alignSameKind(left, right)
		}
		target, ok := PromoteTypes(lt, rt)
		if !ok {
			return nil, nil, fmt.Errorf("no common numeric type for %s and %s", TypeName(lt), TypeName(rt))
		}
		l, err := widenTo(left, target)
		if err != nil {
			return nil, nil, err
		}
		r, err := widenTo(right, target)
		if err != nil {
			return nil, nil, err
		}
		return l, r, nil
	}

	if c, ok := right.(*Constant); ok && c.Typ == StringType && UnmarshalsText(lt) {
		r, err := ConvertTo(c, Deref(lt))
		return left, r, err
	}
	if c, ok := left.(*Constant); ok && c.Typ == StringType && UnmarshalsText(rt) {
		l, err := ConvertTo(c, Deref(rt))
		return l, right, err
	}
	if Deref(lt) == AnyType || Deref(rt) == AnyType {
		return left, right, nil
	}
	return nil, nil, fmt.Errorf("incompatible operand types %s and %s", TypeName(lt), TypeName(rt))
}

// widenTo converts e to target unless it already has that type after
// dereferencing. Pointer operands keep their indirection at runtime; the
// evaluator treats a nil pointer as null.
func widenTo(e Expr, target reflect.Type) (Expr, error) {
	if Deref(e.Type()) == target {
		return e, nil
	}
	return ConvertTo(e, target)
}

func alignSameKind(left, right Expr) (Expr, Expr, error) {
	if c, ok := right.(*Constant); ok {
		r, err := ConvertTo(c, Deref(left.Type()))
		return left, r, err
	}
	if c, ok := left.(*Constant); ok {
		l, err := ConvertTo(c, Deref(right.Type()))
		return l, right, err
	}
	r, err := ConvertTo(right, Deref(left.Type()))
	return left, r, err
}

// PromoteAll converts every expression to the first one's type, falling
// back to any when the list is heterogeneous. It returns the chosen
// element type, a pointer type when an item may be null.
func PromoteAll(items []Expr) ([]Expr, reflect.Type) {
	if len(items) == 0 {
		return items, AnyType
	}
	elem := Deref(items[0].Type())
	if elem == NullType {
		elem = AnyType
	}
	out := make([]Expr, len(items))
	nullable := false
	for i, it := range items {
		if elem == AnyType {
			break
		}
		if c, ok := it.(*Constant); ok && c.IsNull() {
			out[i] = it
			nullable = true
			continue
		}
		converted, err := convertItem(it, elem)
		if err != nil {
			elem = AnyType
			break
		}
		if it.Type().Kind() == reflect.Pointer {
			nullable = true
		}
		out[i] = converted
	}
	if elem == AnyType {
		for i, it := range items {
			out[i] = it
		}
		return out, elem
	}
	if nullable && !IsNullable(elem) {
		elem = reflect.PointerTo(elem)
	}
	return out, elem
}

func convertItem(e Expr, elem reflect.Type) (Expr, error) {
	t := Deref(e.Type())
	if t == elem {
		return e, nil
	}
	if IsNumeric(t) && IsNumeric(elem) {
		if !Widens(t, elem) {
			return nil, fmt.Errorf("%s does not widen to %s", TypeName(t), TypeName(elem))
		}
		return ConvertTo(e, elem)
	}
	if c, ok := e.(*Constant); ok && (c.IsNull() && IsNullable(elem) || c.Typ == StringType && UnmarshalsText(elem)) {
		return ConvertTo(c, elem)
	}
	return nil, fmt.Errorf("%s is not a %s", TypeName(t), TypeName(elem))
}
