// Package meta holds per-type metadata: API-visible properties, JSON
// names, navigation classification and the registry of concrete types
// that polymorphic JSON values may name.
//
// Descriptors are computed once per type and memoized for the lifetime of
// the registry. Concurrent first access to the same type builds the
// descriptor exactly once.
package meta

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// ErrNotStructured is returned when a descriptor is requested for a type
// that is serialized as a single value.
var ErrNotStructured = errors.New("type has no properties")

// ErrUnknownType is returned when a type name is not registered.
var ErrUnknownType = errors.New("unknown type name")

type entry struct {
	once sync.Once
	desc *TypeDescriptor
	err  error
}

// Registry memoizes type descriptors and maps type-tag names to
// registered concrete types.
type Registry struct {
	entries sync.Map // reflect.Type -> *entry

	mu    sync.RWMutex
	names map[string]reflect.Type // folded name -> struct type
	tags  map[reflect.Type]string // struct type -> registered name
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]reflect.Type),
		tags:  make(map[reflect.Type]string),
	}
}

// Register makes the type of sample resolvable by name. An empty name
// registers the Go type name. Registering is idempotent for the same name
// and type; a name registered for another type is an error.
//
// Types must be registered before their descriptor is first built for the
// name to become the type tag.
func (r *Registry) Register(name string, sample any) error {
	t := deref(reflect.TypeOf(sample))
	if !IsStructured(t) {
		return fmt.Errorf("register %v: %w", t, ErrNotStructured)
	}
	if name == "" {
		name = t.Name()
	}
	key := FoldName(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.names[key]; ok && prev != t {
		return fmt.Errorf("type name %q already registered for %v", name, prev)
	}
	r.names[key] = t
	r.tags[t] = name
	return nil
}

// MustRegister is Register that panics on error. It is intended for
// package initialization.
func (r *Registry) MustRegister(name string, sample any) {
	if err := r.Register(name, sample); err != nil {
		panic(err)
	}
}

// Describe returns the descriptor of t (pointers are dereferenced).
func (r *Registry) Describe(t reflect.Type) (*TypeDescriptor, error) {
	t = deref(t)
	if !IsStructured(t) {
		return nil, fmt.Errorf("describe %v: %w", t, ErrNotStructured)
	}
	v, _ := r.entries.LoadOrStore(t, &entry{})
	e := v.(*entry)
	e.once.Do(func() {
		e.desc, e.err = r.build(t)
	})
	return e.desc, e.err
}

// DescribeValue returns the descriptor of the runtime type of v, following
// pointers and interfaces. It reports false for null and for values that
// are not structured.
func (r *Registry) DescribeValue(v reflect.Value) (*TypeDescriptor, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil, false
	}
	d, err := r.Describe(v.Type())
	if err != nil {
		return nil, false
	}
	return d, true
}

// Lookup resolves a registered type name, case-insensitively.
func (r *Registry) Lookup(name string) (*TypeDescriptor, error) {
	r.mu.RLock()
	t, ok := r.names[FoldName(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, name)
	}
	return r.Describe(t)
}

// Implementations returns the registered types assignable to iface,
// ordered by name.
func (r *Registry) Implementations(iface reflect.Type) []*TypeDescriptor {
	r.mu.RLock()
	var matches []reflect.Type
	for t := range r.tags {
		if t.AssignableTo(iface) || reflect.PointerTo(t).AssignableTo(iface) {
			matches = append(matches, t)
		}
	}
	r.mu.RUnlock()

	out := make([]*TypeDescriptor, 0, len(matches))
	for _, t := range matches {
		if d, err := r.Describe(t); err == nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) typeName(t reflect.Type) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n, ok := r.tags[t]; ok {
		return n
	}
	return t.Name()
}

func (r *Registry) build(t reflect.Type) (*TypeDescriptor, error) {
	d := &TypeDescriptor{
		Type:   t,
		Name:   r.typeName(t),
		byName: make(map[string]*Property),
	}
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && IsStructured(f.Type) {
			// promoted fields are listed separately
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		p := &Property{
			Name:      f.Name,
			JSONName:  name,
			Type:      f.Type,
			Index:     f.Index,
			OmitEmpty: hasOption(opts, "omitempty"),
			Owner:     t,
			folded:    FoldName(name),
		}
		p.Navigation, p.Collection, p.Dictionary, p.ItemType = NavigationShape(f.Type)

		if prev, ok := d.byName[p.folded]; ok {
			return nil, fmt.Errorf("type %s: properties %s and %s share the name %q", t, prev.Name, p.Name, name)
		}
		d.byName[p.folded] = p
		d.Properties = append(d.Properties, p)
	}
	// Go field names resolve too, unless they collide with a JSON name.
	for _, p := range d.Properties {
		k := FoldName(p.Name)
		if _, ok := d.byName[k]; !ok {
			d.byName[k] = p
		}
	}
	return d, nil
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}
