package expr

import (
	"encoding"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// null is the static type of the null literal.
type null struct{}

// Well-known static types.
var (
	NullType     = reflect.TypeOf(null{})
	BoolType     = reflect.TypeOf(false)
	StringType   = reflect.TypeOf("")
	Int32Type    = reflect.TypeOf(int32(0))
	Int64Type    = reflect.TypeOf(int64(0))
	Float32Type  = reflect.TypeOf(float32(0))
	Float64Type  = reflect.TypeOf(float64(0))
	TimeType     = reflect.TypeOf(time.Time{})
	DurationType = reflect.TypeOf(time.Duration(0))
	GUIDType     = reflect.TypeOf(uuid.UUID{})
	AnyType      = reflect.TypeOf((*any)(nil)).Elem()

	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

// numericOrder is the promotion lattice, narrowest first.
var numericOrder = []reflect.Kind{
	reflect.Int8, reflect.Uint8,
	reflect.Int16, reflect.Uint16,
	reflect.Int32, reflect.Uint32,
	reflect.Int64, reflect.Uint64,
	reflect.Float32, reflect.Float64,
}

// widening lists the kinds each numeric kind converts to without loss of
// sign. Signed kinds never widen into unsigned ones; unsigned kinds widen
// into the next larger signed kind as well.
var widening = map[reflect.Kind][]reflect.Kind{
	reflect.Int8:    {reflect.Int16, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64},
	reflect.Uint8:   {reflect.Int16, reflect.Uint16, reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64, reflect.Float32, reflect.Float64},
	reflect.Int16:   {reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64},
	reflect.Uint16:  {reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64, reflect.Float32, reflect.Float64},
	reflect.Int32:   {reflect.Int64, reflect.Float32, reflect.Float64},
	reflect.Uint32:  {reflect.Int64, reflect.Uint64, reflect.Float32, reflect.Float64},
	reflect.Int64:   {reflect.Float32, reflect.Float64},
	reflect.Uint64:  {reflect.Float32, reflect.Float64},
	reflect.Float32: {reflect.Float64},
}

var kindTypes = map[reflect.Kind]reflect.Type{
	reflect.Int8:    reflect.TypeOf(int8(0)),
	reflect.Uint8:   reflect.TypeOf(uint8(0)),
	reflect.Int16:   reflect.TypeOf(int16(0)),
	reflect.Uint16:  reflect.TypeOf(uint16(0)),
	reflect.Int32:   Int32Type,
	reflect.Uint32:  reflect.TypeOf(uint32(0)),
	reflect.Int64:   Int64Type,
	reflect.Uint64:  reflect.TypeOf(uint64(0)),
	reflect.Float32: Float32Type,
	reflect.Float64: Float64Type,
}

// Deref strips pointer indirections from t. A nil pointer at runtime is
// treated as null.
func Deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// numericKind returns the lattice kind for t. The platform-sized int and
// uint kinds rank as their 64-bit counterparts.
func numericKind(t reflect.Type) (reflect.Kind, bool) {
	t = Deref(t)
	if t == nil {
		return reflect.Invalid, false
	}
	switch k := t.Kind(); k {
	case reflect.Int:
		return reflect.Int64, true
	case reflect.Uint, reflect.Uintptr:
		return reflect.Uint64, true
	case reflect.Int8, reflect.Uint8, reflect.Int16, reflect.Uint16,
		reflect.Int32, reflect.Uint32, reflect.Int64, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if t == DurationType {
			return reflect.Invalid, false
		}
		return k, true
	default:
		return reflect.Invalid, false
	}
}

// IsNumeric reports whether t (after dereferencing) is a numeric type.
func IsNumeric(t reflect.Type) bool {
	_, ok := numericKind(t)
	return ok
}

// IsInteger reports whether t is an integer type.
func IsInteger(t reflect.Type) bool {
	k, ok := numericKind(t)
	return ok && k != reflect.Float32 && k != reflect.Float64
}

// IsNullable reports whether values of t can be null.
func IsNullable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return t == NullType
}

// Widens reports whether from converts to to along the lattice.
func Widens(from, to reflect.Type) bool {
	kf, ok1 := numericKind(from)
	kt, ok2 := numericKind(to)
	if !ok1 || !ok2 {
		return false
	}
	return widensKind(kf, kt)
}

func widensKind(from, to reflect.Kind) bool {
	if from == to {
		return true
	}
	for _, k := range widening[from] {
		if k == to {
			return true
		}
	}
	return false
}

// PromoteTypes returns the type two numeric operands are promoted to.
//
// The narrower operand widens to the wider one. When neither widens into
// the other (int32 and uint32, for example) the narrowest lattice type both
// widen to is chosen. Promotion never narrows.
func PromoteTypes(a, b reflect.Type) (reflect.Type, bool) {
	ka, ok1 := numericKind(a)
	kb, ok2 := numericKind(b)
	if !ok1 || !ok2 {
		return nil, false
	}
	da, db := Deref(a), Deref(b)
	switch {
	case ka == kb:
		return da, true
	case widensKind(ka, kb):
		return db, true
	case widensKind(kb, ka):
		return da, true
	}
	for _, k := range numericOrder {
		if widensKind(ka, k) && widensKind(kb, k) {
			return kindTypes[k], true
		}
	}
	return nil, false
}

// SequenceElem returns the element type if t is a sequence (slice or array,
// strings and byte slices excluded).
func SequenceElem(t reflect.Type) (reflect.Type, bool) {
	t = Deref(t)
	if t == nil {
		return nil, false
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
		return t.Elem(), true
	}
	return nil, false
}

// UnmarshalsText reports whether a string constant can be converted to t
// through encoding.TextUnmarshaler.
func UnmarshalsText(t reflect.Type) bool {
	t = Deref(t)
	return t != nil && reflect.PointerTo(t).Implements(textUnmarshalerType)
}

// Comparable reports whether values of a and b can be compared with eq/ne
// without conversion.
func Comparable(a, b reflect.Type) bool {
	da, db := Deref(a), Deref(b)
	if da == db {
		return true
	}
	if a == NullType {
		return IsNullable(b) || b == NullType
	}
	if b == NullType {
		return IsNullable(a)
	}
	if da == AnyType || db == AnyType {
		return true
	}
	return false
}

// Ordered reports whether values of t support gt/ge/lt/le.
func Ordered(t reflect.Type) bool {
	t = Deref(t)
	if t == nil {
		return false
	}
	if IsNumeric(t) || t == TimeType || t == DurationType || t == GUIDType {
		return true
	}
	return t.Kind() == reflect.String
}
