package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strconv"

	"github.com/roach88/shapeq/internal/meta"
)

// Reader deserializes values. It is safe for concurrent use.
type Reader struct {
	registry *meta.Registry
}

// NewReader creates a reader resolving type tags through registry.
func NewReader(registry *meta.Registry) *Reader {
	return &Reader{registry: registry}
}

// Unmarshal decodes data into target, which must be a non-nil pointer.
func (r *Reader) Unmarshal(data []byte, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return newError(ErrCodeUnsupportedValue, "$", nil, "target must be a non-nil pointer, got %T", target)
	}
	v, err := r.UnmarshalType(data, rv.Type().Elem())
	if err != nil {
		return err
	}
	rv.Elem().Set(v)
	return nil
}

// UnmarshalType decodes data as a value of type t.
func (r *Reader) UnmarshalType(data []byte, t reflect.Type) (reflect.Value, error) {
	if err := checkJSON(data); err != nil {
		return reflect.Value{}, err
	}
	return (&decoder{r: r}).value(data, t, "$")
}

// ReadEnvelope decodes a result page written by Writer.WriteEnvelope into
// a slice of elem. The count is nil when the page carries none.
func (r *Reader) ReadEnvelope(data []byte, elem reflect.Type) (reflect.Value, *int64, error) {
	if err := checkJSON(data); err != nil {
		return reflect.Value{}, nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return reflect.Value{}, nil, newError(ErrCodeUnsupportedValue, "$", err, "expected an envelope object, got %s", jsonKind(bytes.TrimSpace(data)))
	}

	var count *int64
	if raw, ok := fields[CountKey]; ok && !isNull(raw) {
		n, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
		if err != nil {
			return reflect.Value{}, nil, newError(ErrCodeUnsupportedValue, "$."+CountKey, err, "expected an integer")
		}
		count = &n
	}
	raw, ok := fields[ValueKey]
	if !ok {
		return reflect.Value{}, nil, newError(ErrCodeUnsupportedValue, "$", nil, "envelope has no %q member", ValueKey)
	}
	items, err := (&decoder{r: r}).value(raw, reflect.SliceOf(elem), "$."+ValueKey)
	if err != nil {
		return reflect.Value{}, nil, err
	}
	return items, count, nil
}

func checkJSON(data []byte) error {
	if json.Valid(data) {
		return nil
	}
	var x any
	err := json.Unmarshal(data, &x)
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return newError(ErrCodeMalformedJSON, "", err, "invalid JSON at offset %d", syn.Offset)
	}
	return newError(ErrCodeMalformedJSON, "", err, "invalid JSON")
}

type decoder struct {
	r *Reader
}

func (d *decoder) value(raw []byte, t reflect.Type, path string) (reflect.Value, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return reflect.Zero(t), nil
	}

	if t.Kind() == reflect.Interface {
		return d.polymorphic(raw, t, path)
	}
	if meta.IsAtomic(t) {
		return d.leaf(raw, t, path)
	}
	switch t.Kind() {
	case reflect.Pointer:
		inner, err := d.value(raw, t.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	case reflect.Struct:
		if meta.IsStructured(t) {
			v, _, err := d.object(raw, t, path)
			return v, err
		}
	case reflect.Slice:
		if t.Elem().Kind() != reflect.Uint8 {
			return d.array(raw, t, path)
		}
	case reflect.Array:
		return d.array(raw, t, path)
	case reflect.Map:
		return d.dictionary(raw, t, path)
	}
	return d.leaf(raw, t, path)
}

func (d *decoder) leaf(raw []byte, t reflect.Type, path string) (reflect.Value, error) {
	p := reflect.New(t)
	if err := json.Unmarshal(raw, p.Interface()); err != nil {
		return reflect.Value{}, newError(ErrCodeUnsupportedValue, path, err, "cannot read %s", t)
	}
	return p.Elem(), nil
}

// fields holds the members of one JSON object.
type fields map[string]json.RawMessage

// sortedKeys orders members so that failures are reported
// deterministically.
func (f fields) sortedKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// jsonKind names the kind of the JSON value starting raw.
func jsonKind(raw []byte) string {
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '{':
		return "an object"
	case '[':
		return "an array"
	case '"':
		return "a string"
	case 't', 'f':
		return "a boolean"
	case 'n':
		return "null"
	}
	return "a number"
}

func (d *decoder) members(raw []byte, path string) (fields, error) {
	if raw[0] != '{' {
		return nil, newError(ErrCodeUnsupportedValue, path, nil, "expected an object, got %s", jsonKind(raw))
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, newError(ErrCodeUnsupportedValue, path, err, "cannot read object")
	}
	return f, nil
}

func (d *decoder) tag(f fields, path string) (string, bool, error) {
	raw, ok := f[TypeTag]
	if !ok {
		return "", false, nil
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return "", false, newError(ErrCodeUnresolvedType, path+"."+TypeTag, err, "type tag must be a string")
	}
	return name, true, nil
}

// object decodes a structured value of type t and reports the properties
// present in the payload, in declaration order.
func (d *decoder) object(raw []byte, t reflect.Type, path string) (reflect.Value, []*meta.Property, error) {
	f, err := d.members(raw, path)
	if err != nil {
		return reflect.Value{}, nil, err
	}
	desc, err := d.r.registry.Describe(t)
	if err != nil {
		return reflect.Value{}, nil, newError(ErrCodeUnsupportedValue, path, err, "cannot describe %s", t)
	}
	if name, ok, err := d.tag(f, path); err != nil {
		return reflect.Value{}, nil, err
	} else if ok {
		tagged, err := d.r.registry.Lookup(name)
		if err != nil {
			return reflect.Value{}, nil, newError(ErrCodeUnresolvedType, path, err, "unknown type tag %q", name)
		}
		if tagged.Type != t {
			return reflect.Value{}, nil, newError(ErrCodeUnresolvedType, path, nil, "type tag %q does not match %s", name, desc.Name)
		}
	}

	out := reflect.New(t).Elem()
	seen := make(map[*meta.Property]bool, len(f))
	for _, k := range f.sortedKeys() {
		if k == TypeTag {
			continue
		}
		p, ok := desc.Property(k)
		if !ok {
			continue
		}
		v, err := d.value(f[k], p.Type, path+"."+p.JSONName)
		if err != nil {
			return reflect.Value{}, nil, err
		}
		p.Set(out, v)
		seen[p] = true
	}

	present := make([]*meta.Property, 0, len(seen))
	for _, p := range desc.Properties {
		if seen[p] {
			present = append(present, p)
		}
	}
	return out, present, nil
}

// polymorphic decodes a value declared as an interface type. Objects are
// resolved by their type tag; an untagged object is accepted when exactly
// one registered type implements the interface.
func (d *decoder) polymorphic(raw []byte, t reflect.Type, path string) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	if raw[0] != '{' {
		if t.NumMethod() > 0 {
			return reflect.Value{}, newError(ErrCodeUnsupportedValue, path, nil, "expected an object for %s, got %s", t, jsonKind(raw))
		}
		v, err := d.leaf(raw, t, path)
		return v, err
	}

	f, err := d.members(raw, path)
	if err != nil {
		return reflect.Value{}, err
	}
	name, tagged, err := d.tag(f, path)
	if err != nil {
		return reflect.Value{}, err
	}

	var desc *meta.TypeDescriptor
	switch {
	case tagged:
		if desc, err = d.r.registry.Lookup(name); err != nil {
			return reflect.Value{}, newError(ErrCodeUnresolvedType, path, err, "unknown type tag %q", name)
		}
	case t.NumMethod() == 0:
		return d.leaf(raw, t, path)
	default:
		impls := d.r.registry.Implementations(t)
		if len(impls) != 1 {
			return reflect.Value{}, newError(ErrCodeUnresolvedType, path, nil,
				"missing type tag for %s (%d registered implementations)", t, len(impls))
		}
		desc = impls[0]
	}

	v, _, err := d.object(raw, desc.Type, path)
	if err != nil {
		return reflect.Value{}, err
	}
	switch {
	case v.Type().AssignableTo(t):
	case reflect.PointerTo(v.Type()).AssignableTo(t):
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		v = p
	default:
		return reflect.Value{}, newError(ErrCodeUnresolvedType, path, nil, "type %q does not implement %s", desc.Name, t)
	}
	out.Set(v)
	return out, nil
}

func (d *decoder) array(raw []byte, t reflect.Type, path string) (reflect.Value, error) {
	if raw[0] != '[' {
		return reflect.Value{}, newError(ErrCodeUnsupportedValue, path, nil, "expected an array for %s, got %s", t, jsonKind(raw))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return reflect.Value{}, newError(ErrCodeUnsupportedValue, path, err, "cannot read array")
	}

	var out reflect.Value
	if t.Kind() == reflect.Array {
		if len(items) > t.Len() {
			return reflect.Value{}, newError(ErrCodeUnsupportedValue, path, nil, "%d items do not fit %s", len(items), t)
		}
		out = reflect.New(t).Elem()
	} else {
		out = reflect.MakeSlice(t, len(items), len(items))
	}
	for i, item := range items {
		v, err := d.value(item, t.Elem(), path+"["+strconv.Itoa(i)+"]")
		if err != nil {
			return reflect.Value{}, err
		}
		out.Index(i).Set(v)
	}
	return out, nil
}

func (d *decoder) dictionary(raw []byte, t reflect.Type, path string) (reflect.Value, error) {
	f, err := d.members(raw, path)
	if err != nil {
		return reflect.Value{}, err
	}
	out := reflect.MakeMapWithSize(t, len(f))
	for _, k := range f.sortedKeys() {
		key, err := parseMapKey(k, t.Key())
		if err != nil {
			return reflect.Value{}, newError(ErrCodeUnsupportedValue, path, err, "unsupported map key %q", k)
		}
		v, err := d.value(f[k], t.Elem(), path+"."+k)
		if err != nil {
			return reflect.Value{}, err
		}
		out.SetMapIndex(key, v)
	}
	return out, nil
}

func parseMapKey(s string, t reflect.Type) (reflect.Value, error) {
	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		p := reflect.New(t)
		if err := p.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return reflect.Value{}, err
		}
		return p.Elem(), nil
	}
	k := reflect.New(t).Elem()
	switch {
	case t.Kind() == reflect.String:
		k.SetString(s)
	case k.CanInt():
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		k.SetInt(n)
	case k.CanUint():
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, err
		}
		k.SetUint(n)
	default:
		return reflect.Value{}, errors.New("key type " + t.String())
	}
	return k, nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
