// Package binder resolves member names and function calls to typed
// expressions.
//
// The parser never looks at Go types itself: every identifier it meets is
// handed to a Binder, which either produces a typed expression or a BIND
// error. The default binder resolves members through the type metadata
// registry and functions through a table of overloads registered at
// startup.
package binder

import (
	"reflect"
	"strings"

	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/syntax"
)

// Binder resolves identifiers encountered by the parser.
type Binder interface {
	// BindMember resolves name (case-insensitive) as a property of target.
	BindMember(target expr.Expr, name string) (expr.Expr, error)

	// BindCall resolves a function call by name and argument types.
	BindCall(name string, args []expr.Expr) (expr.Expr, error)
}

// Overload builds a call for one argument shape. Match reports whether the
// overload accepts args; Build constructs the call once matched.
type Overload struct {
	Arity int
	Match func(args []expr.Expr) bool
	Build func(args []expr.Expr) (expr.Expr, error)
}

// Default is the default binder. The zero value is not usable; use New.
type Default struct {
	registry  *meta.Registry
	functions map[string][]Overload
}

// New creates a binder over registry with the built-in function table.
func New(registry *meta.Registry) *Default {
	b := &Default{
		registry:  registry,
		functions: make(map[string][]Overload),
	}
	registerStringFunctions(b)
	registerSequenceFunctions(b)
	registerDateFunctions(b)
	return b
}

// Register adds an overload for name. Overloads are tried in registration
// order.
func (b *Default) Register(name string, o Overload) {
	key := strings.ToLower(name)
	b.functions[key] = append(b.functions[key], o)
}

// Registry returns the metadata registry used for member resolution.
func (b *Default) Registry() *meta.Registry {
	return b.registry
}

// BindMember resolves name against target's static type.
func (b *Default) BindMember(target expr.Expr, name string) (expr.Expr, error) {
	t := expr.Deref(target.Type())
	if t == nil || t.Kind() != reflect.Struct {
		return nil, syntax.NewBindError("type %s has no member %q", expr.TypeName(target.Type()), name)
	}
	d, err := b.registry.Describe(t)
	if err != nil {
		return nil, syntax.NewBindError("type %s has no member %q", t, name)
	}
	p, ok := d.Property(name)
	if !ok {
		return nil, syntax.NewBindError("type %s has no member %q", d.Name, name)
	}
	return &expr.Member{
		Target: target,
		Name:   p.JSONName,
		Field:  p.Name,
		Index:  p.Index,
		Typ:    p.Type,
	}, nil
}

// BindCall resolves name (case-insensitive) to the first overload with a
// matching arity and argument shape.
func (b *Default) BindCall(name string, args []expr.Expr) (expr.Expr, error) {
	key := strings.ToLower(name)
	switch key {
	case "cast", "isof":
		return nil, syntax.NewBindError("function %s is not supported", key)
	}
	overloads, ok := b.functions[key]
	if !ok {
		return nil, syntax.NewBindError("unknown function %q", name)
	}
	arityMatched := false
	for _, o := range overloads {
		if o.Arity != len(args) {
			continue
		}
		arityMatched = true
		if o.Match == nil || o.Match(args) {
			return o.Build(args)
		}
	}
	if !arityMatched {
		return nil, syntax.NewBindError("function %s does not take %d argument(s)", key, len(args))
	}
	return nil, syntax.NewBindError("function %s does not accept arguments of type %s", key, argTypes(args))
}

func argTypes(args []expr.Expr) string {
	names := make([]string, len(args))
	for i, a := range args {
		names[i] = expr.TypeName(a.Type())
	}
	return "(" + strings.Join(names, ", ") + ")"
}
