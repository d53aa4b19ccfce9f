package clause

import (
	"reflect"
	"strings"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/parser"
	"github.com/roach88/shapeq/internal/syntax"
)

// Parser holds the sub-parsers for filter, order-by, select and expand
// text. Each sub-parser drives the expression parser's lexer directly, so
// nested options (an expand branch's filter, say) are parsed in one pass.
type Parser struct {
	registry *meta.Registry
	binder   binder.Binder
}

// NewParser creates clause sub-parsers resolving properties through
// registry and expressions through b.
func NewParser(registry *meta.Registry, b binder.Binder) *Parser {
	return &Parser{registry: registry, binder: b}
}

// ParseFilter parses a complete filter expression over itemType.
func (cp *Parser) ParseFilter(input string, itemType reflect.Type) (*FilterClause, error) {
	l, err := parser.Parse(input, cp.binder, itemType)
	if err != nil {
		return nil, err
	}
	return NewFilterClause(l)
}

// ParseOrderBy parses `expr [asc|desc] {, expr [asc|desc]}` over itemType.
func (cp *Parser) ParseOrderBy(input string, itemType reflect.Type) ([]*OrderByClause, error) {
	param := expr.NewParameter(parser.ItName, itemType)
	p, err := parser.New(input, cp.binder, param)
	if err != nil {
		return nil, err
	}
	list, err := cp.orderByList(p, param)
	if err != nil {
		return nil, err
	}
	return list, p.ExpectEnd()
}

// ParseSelect parses a select list into the builder.
func (cp *Parser) ParseSelect(input string, into *SelectBuilder) error {
	p, err := parser.New(input, cp.binder, expr.NewParameter(parser.ItName, into.ItemType()))
	if err != nil {
		return err
	}
	if err := cp.selectList(p, into); err != nil {
		return err
	}
	return p.ExpectEnd()
}

// ParseExpand parses an expand list into the builder.
func (cp *Parser) ParseExpand(input string, into *ExpandBuilder) error {
	p, err := parser.New(input, cp.binder, expr.NewParameter(parser.ItName, into.ItemType()))
	if err != nil {
		return err
	}
	if err := cp.expandList(p, into); err != nil {
		return err
	}
	return p.ExpectEnd()
}

// property resolves name on t and returns the type a nested select or
// expand under it applies to (nil when the property has no members).
func (cp *Parser) property(t reflect.Type, name string) (*meta.Property, reflect.Type, error) {
	if t == nil || !meta.IsStructured(t) {
		return nil, nil, syntax.NewBindError("type %s has no property %q", expr.TypeName(t), name)
	}
	d, err := cp.registry.Describe(t)
	if err != nil {
		return nil, nil, syntax.NewBindError("type %s: %v", t, err)
	}
	p, ok := d.Property(name)
	if !ok {
		return nil, nil, syntax.NewBindError("type %s has no property %q", d.Name, name)
	}
	switch {
	case p.Navigation:
		return p, p.ItemType, nil
	case meta.IsStructured(p.Type):
		return p, p.Type, nil
	}
	return p, nil, nil
}

// selectList parses `item {, item}` where item is `*` or a member path
// `m1/m2/.../(mN | *)`.
func (cp *Parser) selectList(p *parser.Parser, b *SelectBuilder) error {
	for {
		if ok, err := p.Accept(syntax.Star); err != nil {
			return err
		} else if ok {
			b.SetStar()
		} else if err := cp.selectPath(p, b); err != nil {
			return err
		}

		if ok, err := p.Accept(syntax.Comma); err != nil || !ok {
			return err
		}
	}
}

func (cp *Parser) selectPath(p *parser.Parser, node *SelectBuilder) error {
	for {
		tok, err := p.Expect(syntax.Identifier)
		if err != nil {
			return err
		}
		prop, childType, err := cp.property(node.itemType, tok.Text)
		if err != nil {
			return syntax.WithPosition(err, tok.End)
		}

		if !p.Current().Is(syntax.Slash) {
			return syntax.WithPosition(node.selectLeaf(prop, childType), tok.End)
		}
		if err := p.Advance(); err != nil {
			return err
		}
		if childType == nil {
			return syntax.WithPosition(syntax.NewBindError("property %s has no members to select", prop.JSONName), tok.End)
		}
		node = node.child(prop, childType)
		if ok, err := p.Accept(syntax.Star); err != nil {
			return err
		} else if ok {
			node.SetStar()
			return nil
		}
	}
}

// expandList parses `member[(option=value{;option=value})] {, ...}`.
func (cp *Parser) expandList(p *parser.Parser, b *ExpandBuilder) error {
	for {
		tok, err := p.Expect(syntax.Identifier)
		if err != nil {
			return err
		}
		prop, _, err := cp.property(b.itemType, tok.Text)
		if err != nil {
			return syntax.WithPosition(err, tok.End)
		}
		child, err := b.expand(prop)
		if err != nil {
			return syntax.WithPosition(err, tok.End)
		}

		if ok, err := p.Accept(syntax.OpenParen); err != nil {
			return err
		} else if ok {
			if err := cp.expandOptions(p, child); err != nil {
				return err
			}
			if _, err := p.Expect(syntax.CloseParen); err != nil {
				return err
			}
		}

		if ok, err := p.Accept(syntax.Comma); err != nil || !ok {
			return err
		}
	}
}

// OptionName normalizes a query option name: the "$" prefix is optional
// and names are case-insensitive.
func OptionName(name string) string {
	return strings.ToLower(strings.TrimPrefix(name, "$"))
}

func (cp *Parser) expandOptions(p *parser.Parser, b *ExpandBuilder) error {
	param := expr.NewParameter(parser.ItName, b.itemType)
	for {
		tok, err := p.Expect(syntax.Identifier)
		if err != nil {
			return err
		}
		name := OptionName(tok.Text)
		if err := b.claim(name); err != nil {
			return syntax.WithPosition(err, tok.End)
		}
		if _, err := p.Expect(syntax.Equals); err != nil {
			return err
		}

		switch name {
		case "select":
			b.sel = NewSelectBuilder(b.itemType)
			err = cp.selectList(p, b.sel)
		case "expand":
			err = cp.expandList(p, b)
		case "filter":
			if err = requireCollection(b, name, tok.End); err == nil {
				b.filter, err = cp.branchFilter(p, param)
			}
		case "orderby":
			if err = requireCollection(b, name, tok.End); err == nil {
				b.orderBy, err = cp.orderByList(p, param)
			}
		case "top":
			if err = requireCollection(b, name, tok.End); err == nil {
				b.top, err = nonNegative(p)
			}
		case "skip":
			if err = requireCollection(b, name, tok.End); err == nil {
				b.skip, err = nonNegative(p)
			}
		default:
			err = syntax.WithPosition(syntax.NewBindError("unknown expand option %q", tok.Text), tok.End)
		}
		if err != nil {
			return err
		}

		if ok, err := p.Accept(syntax.Semicolon); err != nil || !ok {
			return err
		}
	}
}

func requireCollection(b *ExpandBuilder, option string, pos int) error {
	if b.collection {
		return nil
	}
	return syntax.WithPosition(syntax.NewBindError("option %s requires a collection, %s is not one", option, b.member.JSONName), pos)
}

func (cp *Parser) branchFilter(p *parser.Parser, param *expr.Parameter) (*FilterClause, error) {
	p.PushContext(param)
	defer p.PopContext()
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	f, err := NewFilterClause(expr.NewLambda(param, body))
	if err != nil {
		return nil, syntax.WithPosition(err, p.Pos())
	}
	return f, nil
}

func (cp *Parser) orderByList(p *parser.Parser, param *expr.Parameter) ([]*OrderByClause, error) {
	p.PushContext(param)
	defer p.PopContext()

	var list []*OrderByClause
	for {
		body, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		dir := Ascending
		switch {
		case p.Current().Is(syntax.Asc):
			err = p.Advance()
		case p.Current().Is(syntax.Desc):
			dir = Descending
			err = p.Advance()
		}
		if err != nil {
			return nil, err
		}
		ob, err := NewOrderByClause(expr.NewLambda(param, body), dir)
		if err != nil {
			return nil, syntax.WithPosition(err, p.Pos())
		}
		list = append(list, ob)

		if ok, err := p.Accept(syntax.Comma); err != nil {
			return nil, err
		} else if !ok {
			return list, nil
		}
	}
}

func nonNegative(p *parser.Parser) (*int, error) {
	tok := p.Current()
	n, ok := tok.Value.(int32)
	if !tok.Is(syntax.IntegerLiteral) || !ok || n < 0 {
		return nil, syntax.NewSyntaxError(p.Pos(), "expected a non-negative integer")
	}
	v := int(n)
	return &v, p.Advance()
}
