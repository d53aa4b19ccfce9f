package clause

import (
	"reflect"

	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/syntax"
)

// ExpandClause is one node of the expand tree. The root describes the
// queried item type and carries only children; every other node is an
// expanded navigation property with its optional per-branch options.
type ExpandClause struct {
	member     *meta.Property
	itemType   reflect.Type
	collection bool
	filter     *FilterClause
	orderBy    []*OrderByClause
	skip       *int
	top        *int
	sel        *SelectClause
	children   []*ExpandClause
	byMember   map[*meta.Property]*ExpandClause
	byName     map[string]*ExpandClause
}

// Member returns the expanded property (nil at the root).
func (e *ExpandClause) Member() *meta.Property { return e.member }

// ItemType returns the entity type of the branch (the element type for
// collections).
func (e *ExpandClause) ItemType() reflect.Type { return e.itemType }

// IsCollection reports whether the branch is a collection navigation.
func (e *ExpandClause) IsCollection() bool { return e.collection }

// Filter returns the branch filter, or nil.
func (e *ExpandClause) Filter() *FilterClause { return e.filter }

// OrderBy returns the branch sort keys.
func (e *ExpandClause) OrderBy() []*OrderByClause { return e.orderBy }

// Skip returns the branch skip count, if set.
func (e *ExpandClause) Skip() (int, bool) {
	if e.skip == nil {
		return 0, false
	}
	return *e.skip, true
}

// Top returns the branch page size, if set.
func (e *ExpandClause) Top() (int, bool) {
	if e.top == nil {
		return 0, false
	}
	return *e.top, true
}

// Select returns the branch's own select tree, or nil.
func (e *ExpandClause) Select() *SelectClause { return e.sel }

// Children returns the expanded child branches in expansion order.
func (e *ExpandClause) Children() []*ExpandClause {
	if e == nil {
		return nil
	}
	return e.children
}

// Child returns the branch for p.
func (e *ExpandClause) Child(p *meta.Property) (*ExpandClause, bool) {
	if e == nil {
		return nil, false
	}
	c, ok := e.byMember[p]
	return c, ok
}

// ChildByName returns the branch for a JSON property name
// (case-insensitive).
func (e *ExpandClause) ChildByName(name string) (*ExpandClause, bool) {
	if e == nil {
		return nil, false
	}
	c, ok := e.byName[meta.FoldName(name)]
	return c, ok
}

// Depth returns the nesting depth below this node (0 when nothing is
// expanded).
func (e *ExpandClause) Depth() int {
	if e == nil {
		return 0
	}
	d := 0
	for _, c := range e.children {
		d = max(d, 1+c.Depth())
	}
	return d
}

// ExpandBuilder accumulates an expand tree during parsing.
type ExpandBuilder struct {
	member     *meta.Property
	itemType   reflect.Type
	collection bool
	filter     *FilterClause
	orderBy    []*OrderByClause
	skip       *int
	top        *int
	sel        *SelectBuilder
	options    map[string]bool
	children   []*ExpandBuilder
	byMember   map[*meta.Property]*ExpandBuilder
}

// NewExpandBuilder creates an empty root builder for itemType.
func NewExpandBuilder(itemType reflect.Type) *ExpandBuilder {
	return &ExpandBuilder{itemType: itemType}
}

// ItemType returns the entity type of the branch.
func (b *ExpandBuilder) ItemType() reflect.Type { return b.itemType }

// expand adds a branch for navigation property p. Each property may be
// expanded at most once per node.
func (b *ExpandBuilder) expand(p *meta.Property) (*ExpandBuilder, error) {
	if !p.Navigation {
		return nil, syntax.NewBindError("property %s is not a navigation property", p.JSONName)
	}
	if _, ok := b.byMember[p]; ok {
		return nil, syntax.NewBindError("property %s is expanded more than once", p.JSONName)
	}
	if b.byMember == nil {
		b.byMember = make(map[*meta.Property]*ExpandBuilder)
	}
	c := &ExpandBuilder{
		member:     p,
		itemType:   p.ItemType,
		collection: p.Collection,
	}
	b.byMember[p] = c
	b.children = append(b.children, c)
	return c, nil
}

// claim records that option name was set on the branch.
func (b *ExpandBuilder) claim(name string) error {
	if b.options[name] {
		return syntax.NewBindError("option %s is given more than once for %s", name, b.member.JSONName)
	}
	if b.options == nil {
		b.options = make(map[string]bool)
	}
	b.options[name] = true
	return nil
}

// Build freezes the builder into an immutable tree.
func (b *ExpandBuilder) Build() *ExpandClause {
	e := &ExpandClause{
		member:     b.member,
		itemType:   b.itemType,
		collection: b.collection,
		filter:     b.filter,
		orderBy:    b.orderBy,
		skip:       b.skip,
		top:        b.top,
	}
	if b.sel != nil {
		e.sel = b.sel.Build()
	}
	if len(b.children) > 0 {
		e.children = make([]*ExpandClause, len(b.children))
		e.byMember = make(map[*meta.Property]*ExpandClause, len(b.children))
		e.byName = make(map[string]*ExpandClause, len(b.children))
		for i, c := range b.children {
			built := c.Build()
			e.children[i] = built
			e.byMember[c.member] = built
			e.byName[meta.FoldName(c.member.JSONName)] = built
		}
	}
	return e
}
