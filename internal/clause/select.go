package clause

import (
	"reflect"

	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/syntax"
)

// SelectClause is one node of the select tree.
//
// A node with neither star nor children carries no select information and
// is treated like a star node: every property is emitted. The root has no
// member.
type SelectClause struct {
	member   *meta.Property
	itemType reflect.Type
	star     bool
	children []*SelectClause
	byMember map[*meta.Property]*SelectClause
	byName   map[string]*SelectClause
}

// Member returns the property this node selects (nil at the root).
func (s *SelectClause) Member() *meta.Property { return s.member }

// ItemType returns the type whose properties this node selects.
func (s *SelectClause) ItemType() reflect.Type { return s.itemType }

// IsStar reports whether all properties of the node are selected.
func (s *SelectClause) IsStar() bool { return s.star }

// IsOpen reports whether the node selects every property: a nil node, a
// star node, or a node with no select information.
func (s *SelectClause) IsOpen() bool {
	return s == nil || s.star || len(s.children) == 0
}

// Children returns the explicit child nodes in selection order.
func (s *SelectClause) Children() []*SelectClause {
	if s == nil {
		return nil
	}
	return s.children
}

// Child returns the child node for p.
func (s *SelectClause) Child(p *meta.Property) (*SelectClause, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.byMember[p]
	return c, ok
}

// ChildByName returns the child node for a JSON property name
// (case-insensitive). The codec uses it for runtime subtypes whose
// descriptors differ from the declared type's.
func (s *SelectClause) ChildByName(name string) (*SelectClause, bool) {
	if s == nil {
		return nil, false
	}
	c, ok := s.byName[meta.FoldName(name)]
	return c, ok
}

// Lookup reports whether p is selected at this node and returns the child
// node that further restricts it, if any. The child is matched by property
// first and by name second.
func (s *SelectClause) Lookup(p *meta.Property) (*SelectClause, bool) {
	if c, ok := s.Child(p); ok {
		return c, true
	}
	if c, ok := s.ChildByName(p.JSONName); ok {
		return c, true
	}
	return nil, s.IsOpen()
}

// Includes reports whether p is emitted at this node.
func (s *SelectClause) Includes(p *meta.Property) bool {
	if s.IsOpen() {
		return true
	}
	_, ok := s.byMember[p]
	return ok
}

// StarSelect returns a star node for itemType.
func StarSelect(itemType reflect.Type) *SelectClause {
	return &SelectClause{itemType: itemType, star: true}
}

// SelectBuilder accumulates a select tree during parsing.
type SelectBuilder struct {
	member   *meta.Property
	itemType reflect.Type
	star     bool
	leaf     bool // selected by a bare member
	children []*SelectBuilder
	byMember map[*meta.Property]*SelectBuilder
}

// NewSelectBuilder creates an empty root builder for itemType.
func NewSelectBuilder(itemType reflect.Type) *SelectBuilder {
	return &SelectBuilder{itemType: itemType}
}

// ItemType returns the type whose properties the node selects.
func (b *SelectBuilder) ItemType() reflect.Type { return b.itemType }

// SetStar marks every property of the node selected.
func (b *SelectBuilder) SetStar() { b.star = true }

// child returns the node for p, creating it when absent.
func (b *SelectBuilder) child(p *meta.Property, itemType reflect.Type) *SelectBuilder {
	if c, ok := b.byMember[p]; ok {
		return c
	}
	if b.byMember == nil {
		b.byMember = make(map[*meta.Property]*SelectBuilder)
	}
	c := &SelectBuilder{member: p, itemType: itemType}
	b.byMember[p] = c
	b.children = append(b.children, c)
	return c
}

// selectLeaf records a bare member selection, which selects the member
// fully. Selecting the same member twice at one node is an error.
func (b *SelectBuilder) selectLeaf(p *meta.Property, itemType reflect.Type) error {
	c := b.child(p, itemType)
	if c.leaf {
		return syntax.NewBindError("property %s is selected more than once", p.JSONName)
	}
	c.leaf = true
	c.star = true
	return nil
}

// Build freezes the builder into an immutable tree.
func (b *SelectBuilder) Build() *SelectClause {
	s := &SelectClause{
		member:   b.member,
		itemType: b.itemType,
		star:     b.star,
	}
	if len(b.children) > 0 {
		s.children = make([]*SelectClause, len(b.children))
		s.byMember = make(map[*meta.Property]*SelectClause, len(b.children))
		s.byName = make(map[string]*SelectClause, len(b.children))
		for i, c := range b.children {
			built := c.Build()
			s.children[i] = built
			s.byMember[c.member] = built
			s.byName[meta.FoldName(c.member.JSONName)] = built
		}
	}
	return s
}
