package meta

import (
	"encoding"
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	timeType          = reflect.TypeOf(time.Time{})
	guidType          = reflect.TypeOf(uuid.UUID{})
)

// Property describes one API-visible property of a type.
type Property struct {
	// Name is the Go field name.
	Name string
	// JSONName is the wire name (json tag, or Name when untagged).
	JSONName string
	// Type is the declared value type.
	Type reflect.Type
	// Index is the field path for reflect.Value.FieldByIndex.
	Index []int
	// OmitEmpty mirrors the json tag option.
	OmitEmpty bool

	// Navigation is true when the property references another modeled
	// entity (single, collection or dictionary). Navigation properties are
	// never loaded unless expanded.
	Navigation bool
	// Collection is true for slice/array navigation properties.
	Collection bool
	// Dictionary is true for map navigation properties.
	Dictionary bool
	// ItemType is the entity type behind a navigation property: the element
	// type for collections and dictionaries, the (possibly pointer) type
	// itself for single references.
	ItemType reflect.Type

	// Owner is the type declaring the property.
	Owner reflect.Type

	folded string
}

// Get returns the property value of v, which must be a struct value (or a
// pointer to one). It returns the invalid value when v is nil or an
// embedded pointer on the field path is nil.
func (p *Property) Get(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}
	}
	f, err := v.FieldByIndexErr(p.Index)
	if err != nil {
		return reflect.Value{}
	}
	return f
}

// Set assigns x to the property of v, which must be an addressable struct
// or a non-nil pointer to one. Nil embedded pointers on the path are
// allocated. An invalid x resets the property to its zero value.
func (p *Property) Set(v reflect.Value, x reflect.Value) {
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	for i, idx := range p.Index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(idx)
	}
	if !x.IsValid() {
		v.Set(reflect.Zero(v.Type()))
		return
	}
	if x.Type() != v.Type() && x.Type().ConvertibleTo(v.Type()) && x.Kind() != reflect.Interface {
		x = x.Convert(v.Type())
	}
	v.Set(x)
}

// TypeDescriptor is the API-visible shape of a struct type.
type TypeDescriptor struct {
	// Type is the struct type (never a pointer).
	Type reflect.Type
	// Name is the stable JSON-visible type name, used as the type tag.
	Name string
	// Properties are in declaration order.
	Properties []*Property

	byName map[string]*Property
}

// Property looks up a property by JSON name or Go field name,
// case-insensitively.
func (d *TypeDescriptor) Property(name string) (*Property, bool) {
	p, ok := d.byName[FoldName(name)]
	return p, ok
}

// New allocates a zero instance and returns a pointer to it.
func (d *TypeDescriptor) New() reflect.Value {
	return reflect.New(d.Type)
}

// FoldName returns the case-folded form used for case-insensitive name
// lookups.
func FoldName(s string) string {
	// A Caser is stateful, so one is created per call.
	return cases.Fold().String(s)
}

// IsAtomic reports whether t is serialized as a single value even though
// it may be a struct (time, GUID, or anything with its own JSON or text
// marshaling).
func IsAtomic(t reflect.Type) bool {
	t = deref(t)
	if t == nil {
		return true
	}
	if t == timeType || t == guidType {
		return true
	}
	if t.Implements(jsonMarshalerType) || reflect.PointerTo(t).Implements(jsonMarshalerType) {
		return true
	}
	if t.Implements(textMarshalerType) || reflect.PointerTo(t).Implements(textMarshalerType) {
		return true
	}
	return false
}

// IsStructured reports whether t has a type descriptor: a struct that is
// not atomic.
func IsStructured(t reflect.Type) bool {
	t = deref(t)
	return t != nil && t.Kind() == reflect.Struct && !IsAtomic(t)
}

// IsEntity reports whether values of t are modeled entities: structured
// types and non-empty interfaces (polymorphic references).
func IsEntity(t reflect.Type) bool {
	t = deref(t)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Interface {
		return t.NumMethod() > 0
	}
	return IsStructured(t)
}

// NavigationShape classifies t as a navigation type. It reports whether t
// is a navigation type, whether it is a collection or dictionary, and the
// entity item type.
//
// Single references are pointers to structured types and non-empty
// interfaces. Slices, arrays and maps are collections and dictionaries
// when their elements are entities. A struct held by value is a complex
// value, not a navigation.
func NavigationShape(t reflect.Type) (nav, collection, dictionary bool, item reflect.Type) {
	d := deref(t)
	if d == nil {
		return false, false, false, nil
	}
	switch d.Kind() {
	case reflect.Slice, reflect.Array:
		if IsEntity(d.Elem()) {
			return true, true, false, d.Elem()
		}
	case reflect.Map:
		if IsEntity(d.Elem()) {
			return true, false, true, d.Elem()
		}
	case reflect.Interface:
		if d.NumMethod() > 0 {
			return true, false, false, t
		}
	case reflect.Struct:
		if t.Kind() == reflect.Pointer && IsStructured(d) {
			return true, false, false, t
		}
	}
	return false, false, false, nil
}

func deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
