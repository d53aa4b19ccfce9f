// Package parser implements the recursive-descent expression parser.
//
// Grammar, lowest precedence first:
//
//	Or             = And { "or" And }
//	And            = Comparison { "and" Comparison }
//	Comparison     = Additive { ("eq"|"ne"|"gt"|"ge"|"lt"|"le") Additive
//	                          | "has" Additive
//	                          | "in" ( ArrayLiteral | Additive ) }
//	Additive       = Multiplicative { ("add"|"sub") Multiplicative }
//	Multiplicative = Unary { ("mul"|"div"|"mod") Unary }
//	Unary          = "-" Unary | "not" Unary | Primary
//	Primary        = Literal | "(" Or ")" | ArrayLiteral
//	               | Identifier "(" [ Or { "," Or } ] ")"
//	               | Identifier { "/" Identifier }
//	ArrayLiteral   = "[" [ Or { "," Or } ] "]"
//
// Member access binds against the expression on top of the context stack.
// Clause sub-parsers share the parser's lexer and push a fresh context
// when they descend into a nested scope.
package parser

import (
	"reflect"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/syntax"
)

// ItName is the name of the parameter bound to the current item.
const ItName = "$it"

// Parser parses expressions from a shared lexer.
type Parser struct {
	lex      *syntax.Lexer
	binder   binder.Binder
	contexts []expr.Expr
}

// New creates a parser over input whose member access binds against it.
// Lexical errors in the first token are returned immediately.
func New(input string, b binder.Binder, it expr.Expr) (*Parser, error) {
	lex, err := syntax.NewLexer(input)
	if err != nil {
		return nil, err
	}
	return &Parser{lex: lex, binder: b, contexts: []expr.Expr{it}}, nil
}

// Binder returns the binder used for member and function resolution.
func (p *Parser) Binder() binder.Binder { return p.binder }

// PushContext makes e the target of unqualified member access.
func (p *Parser) PushContext(e expr.Expr) {
	p.contexts = append(p.contexts, e)
}

// PopContext restores the previous member access target.
func (p *Parser) PopContext() {
	if len(p.contexts) > 1 {
		p.contexts = p.contexts[:len(p.contexts)-1]
	}
}

// Context returns the current member access target.
func (p *Parser) Context() expr.Expr {
	return p.contexts[len(p.contexts)-1]
}

// Current returns the current token.
func (p *Parser) Current() syntax.Token { return p.lex.Current() }

// Pos returns the offset of the next unread character.
func (p *Parser) Pos() int { return p.lex.Pos() }

// Advance moves to the next token.
func (p *Parser) Advance() error { return p.lex.Advance() }

// Accept consumes the current token if it has kind k.
func (p *Parser) Accept(k syntax.Kind) (bool, error) {
	if !p.Current().Is(k) {
		return false, nil
	}
	return true, p.Advance()
}

// Expect consumes a token of kind k or fails with a syntax error.
func (p *Parser) Expect(k syntax.Kind) (syntax.Token, error) {
	tok := p.Current()
	if !tok.Is(k) {
		return tok, p.unexpected("expected %s", k)
	}
	return tok, p.Advance()
}

// ExpectEnd fails unless the whole input has been consumed.
func (p *Parser) ExpectEnd() error {
	if !p.Current().Is(syntax.EOF) {
		return p.unexpected("expected end of input")
	}
	return nil
}

func (p *Parser) unexpected(format string, args ...any) error {
	tok := p.Current()
	msg := syntax.NewSyntaxError(p.Pos(), format, args...)
	if tok.Is(syntax.EOF) {
		msg.Message += ", found end of input"
	} else {
		msg.Message += ", found " + quote(tok)
	}
	return msg
}

func quote(tok syntax.Token) string {
	if tok.Text != "" {
		return "'" + tok.Text + "'"
	}
	return tok.Kind.String()
}

// Parse parses input as a complete expression over a parameter of type
// itemType and returns it as a lambda.
func Parse(input string, b binder.Binder, itemType reflect.Type) (*expr.Lambda, error) {
	param := expr.NewParameter(ItName, itemType)
	p, err := New(input, b, param)
	if err != nil {
		return nil, err
	}
	body, err := p.ParseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.ExpectEnd(); err != nil {
		return nil, err
	}
	return expr.NewLambda(param, body), nil
}

// ParseExpression parses one expression starting at the current token and
// stops at the first token that cannot continue it.
func (p *Parser) ParseExpression() (expr.Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (expr.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.Current().Is(syntax.Or) {
		pos := p.Pos()
		if err := p.Advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if left, err = logical(expr.OpOr, left, right, pos); err != nil {
			return nil, err
		}
	}
	return left, nil
}

func (p *Parser) parseAnd() (expr.Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.Current().Is(syntax.And) {
		pos := p.Pos()
		if err := p.Advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if left, err = logical(expr.OpAnd, left, right, pos); err != nil {
			return nil, err
		}
	}
	return left, nil
}

var comparisonOps = map[syntax.Kind]expr.BinaryOp{
	syntax.Eq: expr.OpEq,
	syntax.Ne: expr.OpNe,
	syntax.Gt: expr.OpGt,
	syntax.Ge: expr.OpGe,
	syntax.Lt: expr.OpLt,
	syntax.Le: expr.OpLe,
}

func (p *Parser) parseComparison() (expr.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		kind := p.Current().Kind
		pos := p.Pos()
		switch kind {
		case syntax.Has:
			if err := p.Advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if left, err = hasFlag(left, right, pos); err != nil {
				return nil, err
			}
		case syntax.In:
			if err := p.Advance(); err != nil {
				return nil, err
			}
			if left, err = p.parseIn(left, pos); err != nil {
				return nil, err
			}
		default:
			op, ok := comparisonOps[kind]
			if !ok {
				return left, nil
			}
			if err := p.Advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			if left, err = comparison(op, left, right, pos); err != nil {
				return nil, err
			}
		}
	}
}

// parseIn handles the right operand of "in": a bracketed list converted to
// the left operand's type, or any sequence-typed expression.
func (p *Parser) parseIn(left expr.Expr, pos int) (expr.Expr, error) {
	var seq expr.Expr
	if p.Current().Is(syntax.OpenBracket) {
		items, err := p.parseList(syntax.OpenBracket, syntax.CloseBracket)
		if err != nil {
			return nil, err
		}
		elem := expr.Deref(left.Type())
		arrElem := elem
		for i, it := range items {
			target := elem
			if c, ok := it.(*expr.Constant); ok && c.IsNull() && expr.IsNullable(left.Type()) {
				target, arrElem = left.Type(), left.Type()
			}
			converted, err := expr.ConvertTo(it, target)
			if err != nil {
				return nil, syntax.WithPosition(syntax.NewBindError("in: %v", err), pos)
			}
			items[i] = converted
		}
		seq = &expr.NewArray{Elem: arrElem, Items: items}
	} else {
		var err error
		if seq, err = p.parseAdditive(); err != nil {
			return nil, err
		}
	}
	e, err := p.binder.BindCall("contains", []expr.Expr{seq, left})
	if err != nil {
		return nil, syntax.WithPosition(err, pos)
	}
	return e, nil
}

var additiveOps = map[syntax.Kind]expr.BinaryOp{
	syntax.Add: expr.OpAdd,
	syntax.Sub: expr.OpSub,
}

var multiplicativeOps = map[syntax.Kind]expr.BinaryOp{
	syntax.Mul: expr.OpMul,
	syntax.Div: expr.OpDiv,
	syntax.Mod: expr.OpMod,
}

func (p *Parser) parseAdditive() (expr.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := additiveOps[p.Current().Kind]
		if !ok {
			return left, nil
		}
		pos := p.Pos()
		if err := p.Advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		if left, err = arithmetic(op, left, right, pos); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseMultiplicative() (expr.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := multiplicativeOps[p.Current().Kind]
		if !ok {
			return left, nil
		}
		pos := p.Pos()
		if err := p.Advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if left, err = arithmetic(op, left, right, pos); err != nil {
			return nil, err
		}
	}
}

func (p *Parser) parseUnary() (expr.Expr, error) {
	switch p.Current().Kind {
	case syntax.Minus:
		pos := p.Pos()
		if err := p.Advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negate(operand, pos)
	case syntax.Not:
		pos := p.Pos()
		if err := p.Advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if expr.Deref(operand.Type()) != expr.BoolType {
			return nil, syntax.WithPosition(syntax.NewBindError("not requires a boolean operand, got %s", expr.TypeName(operand.Type())), pos)
		}
		return &expr.Unary{Op: expr.OpNot, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (expr.Expr, error) {
	tok := p.Current()
	switch {
	case tok.Kind.IsLiteral():
		if err := p.Advance(); err != nil {
			return nil, err
		}
		return literal(tok), nil

	case tok.Is(syntax.OpenParen):
		if err := p.Advance(); err != nil {
			return nil, err
		}
		e, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.Expect(syntax.CloseParen); err != nil {
			return nil, err
		}
		return e, nil

	case tok.Is(syntax.OpenBracket):
		items, err := p.parseList(syntax.OpenBracket, syntax.CloseBracket)
		if err != nil {
			return nil, err
		}
		items, elem := expr.PromoteAll(items)
		return &expr.NewArray{Elem: elem, Items: items}, nil

	case tok.Is(syntax.Identifier):
		return p.parseIdentifier()
	}
	return nil, p.unexpected("expected an expression")
}

func (p *Parser) parseIdentifier() (expr.Expr, error) {
	tok := p.Current()
	if err := p.Advance(); err != nil {
		return nil, err
	}

	if p.Current().Is(syntax.OpenParen) {
		args, err := p.parseList(syntax.OpenParen, syntax.CloseParen)
		if err != nil {
			return nil, err
		}
		e, err := p.binder.BindCall(tok.Text, args)
		if err != nil {
			return nil, syntax.WithPosition(err, tok.End)
		}
		return e, nil
	}

	var cur expr.Expr
	if tok.Text == ItName {
		cur = p.Context()
	} else {
		e, err := p.binder.BindMember(p.Context(), tok.Text)
		if err != nil {
			return nil, syntax.WithPosition(err, tok.End)
		}
		cur = e
	}

	for p.Current().Is(syntax.Slash) {
		if err := p.Advance(); err != nil {
			return nil, err
		}
		seg, err := p.Expect(syntax.Identifier)
		if err != nil {
			return nil, err
		}
		e, err := p.binder.BindMember(cur, seg.Text)
		if err != nil {
			return nil, syntax.WithPosition(err, seg.End)
		}
		cur = e
	}
	return cur, nil
}

// parseList parses open [expr {"," expr}] close.
func (p *Parser) parseList(open, close syntax.Kind) ([]expr.Expr, error) {
	if _, err := p.Expect(open); err != nil {
		return nil, err
	}
	var items []expr.Expr
	if ok, err := p.Accept(close); err != nil || ok {
		return items, err
	}
	for {
		e, err := p.ParseExpression()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		if ok, err := p.Accept(syntax.Comma); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if _, err := p.Expect(close); err != nil {
			return nil, err
		}
		return items, nil
	}
}
