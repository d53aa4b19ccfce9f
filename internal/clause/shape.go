package clause

import (
	"reflect"

	"github.com/roach88/shapeq/internal/meta"
)

// BranchSelect returns the select tree applied to expanded branch e whose
// parent select node is sel: the branch's own select option, else the
// parent's child node for the same property, else a star select.
func BranchSelect(sel *SelectClause, e *ExpandClause) *SelectClause {
	if s := e.Select(); s != nil {
		return s
	}
	if c, ok := sel.Child(e.Member()); ok {
		return c
	}
	return StarSelect(e.ItemType())
}

// Shape merges a select tree and an expand tree for the same item type into
// the single tree the codec walks. Expanded branches are always present,
// with their own select tree merged in; a nil select is treated as star.
func Shape(sel *SelectClause, exp *ExpandClause) *SelectClause {
	if exp == nil || len(exp.children) == 0 {
		return sel
	}
	itemType := exp.itemType
	if sel != nil {
		itemType = sel.itemType
	}
	return shape(nil, itemType, sel, exp)
}

func shape(member *meta.Property, itemType reflect.Type, sel *SelectClause, exp *ExpandClause) *SelectClause {
	out := &SelectClause{
		member:   member,
		itemType: itemType,
		star:     sel.IsOpen(),
	}
	add := func(c *SelectClause) {
		if out.byMember == nil {
			out.byMember = make(map[*meta.Property]*SelectClause)
			out.byName = make(map[string]*SelectClause)
		}
		out.children = append(out.children, c)
		out.byMember[c.member] = c
		out.byName[meta.FoldName(c.member.JSONName)] = c
	}

	for _, c := range sel.Children() {
		if e, ok := exp.Child(c.member); ok {
			add(shape(c.member, e.ItemType(), BranchSelect(sel, e), e))
			continue
		}
		add(c)
	}
	for _, e := range exp.Children() {
		if _, ok := out.byMember[e.member]; ok {
			continue
		}
		add(shape(e.member, e.ItemType(), BranchSelect(sel, e), e))
	}
	return out
}
