package syntax

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const eof = -1

// Lexer converts a query string into a stream of tokens with one token of
// lookahead. The current token is available through Current; Advance moves
// to the next one.
type Lexer struct {
	input string
	pos   int // offset of the next unread character
	tok   Token
}

// NewLexer creates a lexer positioned on the first token of input.
func NewLexer(input string) (*Lexer, error) {
	l := &Lexer{input: input}
	if err := l.Advance(); err != nil {
		return nil, err
	}
	return l, nil
}

// Current returns the current token.
func (l *Lexer) Current() Token {
	return l.tok
}

// Pos returns the offset of the next unread character.
func (l *Lexer) Pos() int {
	return l.pos
}

// Input returns the text being scanned.
func (l *Lexer) Input() string {
	return l.input
}

// Advance scans the next token. Once the end of input is reached, every
// subsequent call yields an EOF token.
func (l *Lexer) Advance() error {
	l.skipWhitespace()

	start := l.pos
	ch := l.peek()
	if ch == eof {
		l.tok = Token{Kind: EOF, Pos: start, End: start}
		return nil
	}

	switch {
	case ch == '\'' || ch == '"':
		return l.scanString(rune(ch))
	case isHexDigit(ch) && l.scanGUID():
		return nil
	case isDigit(ch):
		if l.looksLikeDate() {
			return l.scanDateTime()
		}
		return l.scanNumber()
	case isIdentStart(ch):
		return l.scanWord()
	}

	r, w := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += w
	if k, ok := punctuation[r]; ok {
		l.tok = Token{Kind: k, Text: string(r), Pos: start, End: l.pos}
		return nil
	}
	return NewLexicalError(l.pos, "unexpected character %q", r)
}

// Tokenize scans input to the end and returns every token, EOF excluded.
func Tokenize(input string) ([]Token, error) {
	l, err := NewLexer(input)
	if err != nil {
		return nil, err
	}
	var out []Token
	for !l.tok.Is(EOF) {
		out = append(out, l.tok)
		if err := l.Advance(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, w := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += w
	}
}

func (l *Lexer) peek() int {
	return l.peekAt(l.pos)
}

func (l *Lexer) peekAt(i int) int {
	if i >= len(l.input) {
		return eof
	}
	return int(l.input[i])
}

// scanWord reads a run of identifier characters and classifies it as a
// boolean, null, keyword or identifier.
func (l *Lexer) scanWord() error {
	start := l.pos
	for isIdentPart(l.peek()) {
		l.pos++
	}
	text := l.input[start:l.pos]
	tok := Token{Text: text, Pos: start, End: l.pos}

	switch text {
	case "true", "false":
		tok.Kind = BooleanLiteral
		tok.Value = text == "true"
	case "null":
		tok.Kind = NullLiteral
	default:
		if k, ok := keywords[text]; ok {
			tok.Kind = k
		} else {
			tok.Kind = Identifier
		}
	}
	l.tok = tok
	return nil
}

// scanString reads a quoted literal. A backslash escapes the next
// character, and a doubled quote stands for one quote character.
func (l *Lexer) scanString(quote rune) error {
	start := l.pos
	l.pos++ // opening quote

	var sb strings.Builder
	for {
		ch := l.peek()
		switch {
		case ch == eof:
			l.pos = len(l.input)
			return NewLexicalError(l.pos, "unterminated string literal")
		case ch == '\\':
			l.pos++
			next := l.peek()
			if next == eof {
				l.pos = len(l.input)
				return NewLexicalError(l.pos, "unterminated string literal")
			}
			r, w := utf8.DecodeRuneInString(l.input[l.pos:])
			sb.WriteRune(unescape(r))
			l.pos += w
		case rune(ch) == quote:
			l.pos++
			if rune(l.peek()) == quote {
				sb.WriteRune(quote)
				l.pos++
				continue
			}
			l.tok = Token{
				Kind:  StringLiteral,
				Text:  l.input[start:l.pos],
				Value: sb.String(),
				Pos:   start,
				End:   l.pos,
			}
			return nil
		default:
			r, w := utf8.DecodeRuneInString(l.input[l.pos:])
			sb.WriteRune(r)
			l.pos += w
		}
	}
}

func unescape(r rune) rune {
	switch r {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return r
	}
}

// scanNumber reads an integer or floating literal.
//
// Integers that fit 32 bits are IntegerLiteral, otherwise LongLiteral.
// Integers beyond 64 bits and all fractional/exponent forms are floating:
// SingleLiteral when the magnitude fits float32, DoubleLiteral otherwise.
func (l *Lexer) scanNumber() error {
	start := l.pos
	floating := false
	l.acceptDigits()
	if l.peek() == '.' && isDigit(l.peekAt(l.pos+1)) {
		floating = true
		l.pos++
		l.acceptDigits()
	}
	if c := l.peek(); c == 'e' || c == 'E' {
		i := l.pos + 1
		if s := l.peekAt(i); s == '+' || s == '-' {
			i++
		}
		if isDigit(l.peekAt(i)) {
			floating = true
			l.pos = i
			l.acceptDigits()
		}
	}
	if isIdentPart(l.peek()) {
		for isIdentPart(l.peek()) {
			l.pos++
		}
		return NewLexicalError(l.pos, "invalid numeric literal %q", l.input[start:l.pos])
	}

	text := l.input[start:l.pos]
	tok := Token{Text: text, Pos: start, End: l.pos}
	if !floating {
		if n, err := strconv.ParseInt(text, 10, 32); err == nil {
			tok.Kind, tok.Value = IntegerLiteral, int32(n)
			l.tok = tok
			return nil
		}
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			tok.Kind, tok.Value = LongLiteral, n
			l.tok = tok
			return nil
		}
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil && !isRangeError(err) {
		return NewLexicalError(l.pos, "invalid numeric literal %q", text)
	}
	if !math.IsInf(f, 0) && math.Abs(f) <= math.MaxFloat32 {
		tok.Kind, tok.Value = SingleLiteral, float32(f)
	} else {
		tok.Kind, tok.Value = DoubleLiteral, f
	}
	l.tok = tok
	return nil
}

func isRangeError(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}

func (l *Lexer) acceptDigits() {
	for isDigit(l.peek()) {
		l.pos++
	}
}

// scanGUID consumes a 36-character hyphenated GUID at the current position
// if one is present.
func (l *Lexer) scanGUID() bool {
	const n = 36
	end := l.pos + n
	if end > len(l.input) || isIdentPart(l.peekAt(end)) {
		return false
	}
	text := l.input[l.pos:end]
	for i, c := range []byte(text) {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHexDigit(int(c)) {
				return false
			}
		}
	}
	id, err := uuid.Parse(text)
	if err != nil {
		return false
	}
	l.tok = Token{Kind: GUIDLiteral, Text: text, Value: id, Pos: l.pos, End: end}
	l.pos = end
	return true
}

func (l *Lexer) looksLikeDate() bool {
	s := l.input[l.pos:]
	if len(s) < 10 {
		return false
	}
	for i := 0; i < 10; i++ {
		switch i {
		case 4, 7:
			if s[i] != '-' {
				return false
			}
		default:
			if !isDigit(int(s[i])) {
				return false
			}
		}
	}
	return true
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// scanDateTime reads an ISO-8601 date with optional time, fractional
// seconds and offset. A missing offset means UTC.
func (l *Lexer) scanDateTime() error {
	start := l.pos
	for {
		c := l.peek()
		if isDigit(c) || c == '-' || c == ':' || c == '.' || c == '+' || c == 'T' || c == 'Z' {
			l.pos++
			continue
		}
		break
	}
	text := l.input[start:l.pos]
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			l.tok = Token{Kind: DateTimeOffsetLiteral, Text: text, Value: t, Pos: start, End: l.pos}
			return nil
		}
	}
	return NewLexicalError(l.pos, "invalid date-time literal %q", text)
}

func isDigit(c int) bool {
	return c >= '0' && c <= '9'
}

func isHexDigit(c int) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c int) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c int) bool {
	return isIdentStart(c) || isDigit(c)
}
