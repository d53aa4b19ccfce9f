// Package codec writes and reads JSON guided by select trees and type
// metadata.
//
// The writer emits exactly the properties a select tree includes, and tags
// an object with "@type" when its runtime type differs from the declared
// type. The reader resolves tagged objects through the registry, skips
// unknown properties, and can record which properties a payload carried as
// a Delta.
package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
)

// Reserved JSON member names.
const (
	TypeTag  = "@type"
	CountKey = "@count"
	ValueKey = "value"
)

// Writer serializes values. It is safe for concurrent use.
type Writer struct {
	registry *meta.Registry
	nfc      bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithNFC normalizes every written string value to Unicode NFC.
func WithNFC() WriterOption {
	return func(w *Writer) { w.nfc = true }
}

// NewWriter creates a writer resolving type tags through registry.
func NewWriter(registry *meta.Registry, opts ...WriterOption) *Writer {
	w := &Writer{registry: registry}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Marshal writes v, declared as its own dynamic type, restricted to shape.
// A nil shape writes every property.
func (w *Writer) Marshal(v any, shape *clause.SelectClause) ([]byte, error) {
	rv := reflect.ValueOf(v)
	var declared reflect.Type
	if rv.IsValid() {
		declared = rv.Type()
	}
	return w.MarshalValue(rv, declared, shape)
}

// MarshalValue writes v as a value of the declared type. Objects whose
// runtime type differs from declared carry a type tag.
func (w *Writer) MarshalValue(v reflect.Value, declared reflect.Type, shape *clause.SelectClause) ([]byte, error) {
	e := &encoder{w: w}
	if err := e.value(v, declared, shape, "$"); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// WriteEnvelope writes a result page as {"@count":n,"value":[...]}. The
// count member is omitted when count is nil. items must be a slice or
// array; its element type is the declared type of each item.
func (w *Writer) WriteEnvelope(out io.Writer, items reflect.Value, count *int64, shape *clause.SelectClause) error {
	if k := items.Kind(); k != reflect.Slice && k != reflect.Array {
		return newError(ErrCodeUnsupportedValue, "$", nil, "envelope items must be a slice, got %s", k)
	}
	e := &encoder{w: w}
	e.buf.WriteByte('{')
	if count != nil {
		e.key(CountKey)
		e.buf.WriteString(strconv.FormatInt(*count, 10))
		e.buf.WriteByte(',')
	}
	e.key(ValueKey)
	if err := e.array(items, shape, "$."+ValueKey); err != nil {
		return err
	}
	e.buf.WriteByte('}')
	_, err := out.Write(e.buf.Bytes())
	return err
}

type encoder struct {
	w   *Writer
	buf bytes.Buffer
}

func (e *encoder) value(v reflect.Value, declared reflect.Type, shape *clause.SelectClause, path string) error {
	for {
		if !v.IsValid() {
			e.buf.WriteString("null")
			return nil
		}
		switch v.Kind() {
		case reflect.Interface:
			if v.IsNil() {
				e.buf.WriteString("null")
				return nil
			}
			v = v.Elem()
			continue
		case reflect.Pointer:
			if v.IsNil() {
				e.buf.WriteString("null")
				return nil
			}
			if !meta.IsAtomic(v.Type()) {
				v = v.Elem()
				continue
			}
		}
		break
	}

	if v.Type() == deltaType {
		d := v.Interface().(Delta)
		return e.delta(&d, declared, shape, path)
	}
	if meta.IsAtomic(v.Type()) {
		return e.leaf(v, path)
	}
	switch v.Kind() {
	case reflect.Struct:
		return e.object(v, declared, shape, path)
	case reflect.Slice:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return e.leaf(v, path)
		}
		return e.array(v, shape, path)
	case reflect.Array:
		return e.array(v, shape, path)
	case reflect.Map:
		if v.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.dictionary(v, shape, path)
	}
	return e.leaf(v, path)
}

func (e *encoder) object(v reflect.Value, declared reflect.Type, shape *clause.SelectClause, path string) error {
	desc, err := e.w.registry.Describe(v.Type())
	if err != nil {
		return newError(ErrCodeUnsupportedValue, path, err, "cannot describe %s", v.Type())
	}

	e.buf.WriteByte('{')
	first := true
	if declared == nil || derefType(declared) != v.Type() {
		e.key(TypeTag)
		e.str(desc.Name)
		first = false
	}
	for _, p := range desc.Properties {
		child, ok := shape.Lookup(p)
		if !ok {
			continue
		}
		pv := p.Get(v)
		if p.OmitEmpty && isEmpty(pv) {
			continue
		}
		if !first {
			e.buf.WriteByte(',')
		}
		first = false
		e.key(p.JSONName)
		if err := e.value(pv, p.Type, child, path+"."+p.JSONName); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

var deltaType = reflect.TypeOf(Delta{})

// delta writes the properties the payload carried, restricted to shape.
// Nested deltas write only their own present properties.
func (e *encoder) delta(d *Delta, declared reflect.Type, shape *clause.SelectClause, path string) error {
	e.buf.WriteByte('{')
	first := true
	if declared != nil {
		if dt := derefType(declared); dt != deltaType && dt != d.desc.Type {
			e.key(TypeTag)
			e.str(d.desc.Name)
			first = false
		}
	}
	for _, p := range d.present {
		child, ok := shape.Lookup(p)
		if !ok {
			continue
		}
		if !first {
			e.buf.WriteByte(',')
		}
		first = false
		e.key(p.JSONName)
		var err error
		if nd, ok := d.nested[p]; ok {
			err = e.delta(nd, p.Type, child, path+"."+p.JSONName)
		} else {
			err = e.value(p.Get(d.value), p.Type, child, path+"."+p.JSONName)
		}
		if err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) array(v reflect.Value, shape *clause.SelectClause, path string) error {
	elem := v.Type().Elem()
	e.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.value(v.Index(i), elem, shape, path+"["+strconv.Itoa(i)+"]"); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) dictionary(v reflect.Value, shape *clause.SelectClause, path string) error {
	type entry struct {
		key   string
		value reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		k, err := mapKey(iter.Key())
		if err != nil {
			return newError(ErrCodeUnsupportedValue, path, err, "unsupported map key")
		}
		entries = append(entries, entry{k, iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	elem := v.Type().Elem()
	e.buf.WriteByte('{')
	for i, en := range entries {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.key(en.key)
		if err := e.value(en.value, elem, shape, path+"."+en.key); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) leaf(v reflect.Value, path string) error {
	if e.w.nfc && v.Kind() == reflect.String && !meta.IsAtomic(v.Type()) {
		e.str(norm.NFC.String(v.String()))
		return nil
	}
	b, err := marshalLeaf(v.Interface())
	if err != nil {
		return newError(ErrCodeUnsupportedValue, path, err, "cannot write %s", v.Type())
	}
	e.buf.Write(b)
	return nil
}

func (e *encoder) key(k string) {
	e.str(k)
	e.buf.WriteByte(':')
}

func (e *encoder) str(s string) {
	b, _ := marshalLeaf(s)
	e.buf.Write(b)
}

// marshalLeaf encodes a single value without HTML escaping.
func marshalLeaf(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

func mapKey(k reflect.Value) (string, error) {
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		b, err := tm.MarshalText()
		return string(b), err
	}
	switch {
	case k.CanInt():
		return strconv.FormatInt(k.Int(), 10), nil
	case k.CanUint():
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", fmt.Errorf("key of type %s", k.Type())
}

// isEmpty follows the omitempty rules of encoding/json.
func isEmpty(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func derefType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
