package codec

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/roach88/shapeq/internal/meta"
)

// Delta is a partial object: the decoded value plus the set of properties
// the payload carried. Complex-valued properties given as objects are
// themselves deltas, so patching one member of an address leaves the
// others alone.
type Delta struct {
	desc    *meta.TypeDescriptor
	value   reflect.Value // addressable struct
	present []*meta.Property
	nested  map[*meta.Property]*Delta
}

// ReadDelta decodes data as a partial object of type t (a struct or a
// pointer to one).
func (r *Reader) ReadDelta(data []byte, t reflect.Type) (*Delta, error) {
	if err := checkJSON(data); err != nil {
		return nil, err
	}
	t = derefType(t)
	if !meta.IsStructured(t) {
		return nil, newError(ErrCodeUnsupportedValue, "$", nil, "a delta needs a structured type, got %s", t)
	}
	return (&decoder{r: r}).delta(bytes.TrimSpace(data), t, "$")
}

func (d *decoder) delta(raw []byte, t reflect.Type, path string) (*Delta, error) {
	v, present, err := d.object(raw, t, path)
	if err != nil {
		return nil, err
	}
	desc, err := d.r.registry.Describe(t)
	if err != nil {
		return nil, err
	}
	out := &Delta{desc: desc, value: reflect.New(t).Elem(), present: present}
	out.value.Set(v)

	f, err := d.members(raw, path)
	if err != nil {
		return nil, err
	}
	for k, sub := range f {
		p, ok := desc.Property(k)
		if !ok || p.Navigation || p.Type.Kind() != reflect.Struct || !meta.IsStructured(p.Type) {
			continue
		}
		if sub = json.RawMessage(bytes.TrimSpace(sub)); len(sub) == 0 || sub[0] != '{' {
			continue
		}
		nd, err := d.delta(sub, p.Type, path+"."+p.JSONName)
		if err != nil {
			return nil, err
		}
		if out.nested == nil {
			out.nested = make(map[*meta.Property]*Delta)
		}
		out.nested[p] = nd
	}
	return out, nil
}

// Type returns the struct type of the delta.
func (d *Delta) Type() reflect.Type { return d.desc.Type }

// Value returns a pointer to the decoded instance. Absent properties hold
// zero values.
func (d *Delta) Value() any { return d.value.Addr().Interface() }

// Changed returns the JSON names of the properties present in the payload,
// in declaration order.
func (d *Delta) Changed() []string {
	names := make([]string, len(d.present))
	for i, p := range d.present {
		names[i] = p.JSONName
	}
	return names
}

// Has reports whether the payload carried the named property
// (case-insensitive).
func (d *Delta) Has(name string) bool {
	p, ok := d.desc.Property(name)
	if !ok {
		return false
	}
	for _, q := range d.present {
		if q == p {
			return true
		}
	}
	return false
}

// Nested returns the delta of a complex-valued property given as an
// object.
func (d *Delta) Nested(name string) (*Delta, bool) {
	p, ok := d.desc.Property(name)
	if !ok {
		return nil, false
	}
	nd, ok := d.nested[p]
	return nd, ok
}

// Apply copies the present properties onto target, a non-nil pointer to
// the delta's type. Absent properties are left unchanged.
func (d *Delta) Apply(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != d.desc.Type {
		return newError(ErrCodeUnsupportedValue, "$", nil, "apply %s delta to %T", d.desc.Name, target)
	}
	d.apply(rv.Elem())
	return nil
}

func (d *Delta) apply(dst reflect.Value) {
	for _, p := range d.present {
		if nd, ok := d.nested[p]; ok {
			if field := p.Get(dst); field.IsValid() && field.CanSet() {
				nd.apply(field)
				continue
			}
		}
		p.Set(dst, p.Get(d.value))
	}
}
