package syntax

// Kind classifies a token.
type Kind uint8

const (
	EOF Kind = iota
	Identifier

	// Keywords
	And
	Or
	Not
	Eq
	Ne
	Gt
	Ge
	Lt
	Le
	Has
	In
	Add
	Sub
	Mul
	Div
	Mod
	Asc
	Desc

	// Punctuation
	Comma        // ,
	Semicolon    // ;
	Equals       // =
	Slash        // /
	OpenParen    // (
	CloseParen   // )
	OpenBracket  // [
	CloseBracket // ]
	Minus        // -
	Star         // *

	// Literals
	BooleanLiteral
	IntegerLiteral // fits in 32 bits
	LongLiteral
	SingleLiteral
	DoubleLiteral
	StringLiteral
	DateTimeOffsetLiteral
	GUIDLiteral
	NullLiteral
)

var kindNames = [...]string{
	EOF:                   "(eof)",
	Identifier:            "(identifier)",
	And:                   "and",
	Or:                    "or",
	Not:                   "not",
	Eq:                    "eq",
	Ne:                    "ne",
	Gt:                    "gt",
	Ge:                    "ge",
	Lt:                    "lt",
	Le:                    "le",
	Has:                   "has",
	In:                    "in",
	Add:                   "add",
	Sub:                   "sub",
	Mul:                   "mul",
	Div:                   "div",
	Mod:                   "mod",
	Asc:                   "asc",
	Desc:                  "desc",
	Comma:                 ",",
	Semicolon:             ";",
	Equals:                "=",
	Slash:                 "/",
	OpenParen:             "(",
	CloseParen:            ")",
	OpenBracket:           "[",
	CloseBracket:          "]",
	Minus:                 "-",
	Star:                  "*",
	BooleanLiteral:        "(boolean)",
	IntegerLiteral:        "(integer)",
	LongLiteral:           "(long)",
	SingleLiteral:         "(single)",
	DoubleLiteral:         "(double)",
	StringLiteral:         "(string)",
	DateTimeOffsetLiteral: "(datetimeoffset)",
	GUIDLiteral:           "(guid)",
	NullLiteral:           "(null)",
}

// String returns a readable name for the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "(unknown)"
}

// IsKeyword reports whether k is a reserved word.
func (k Kind) IsKeyword() bool {
	return k >= And && k <= Desc
}

// IsLiteral reports whether k is a literal kind.
func (k Kind) IsLiteral() bool {
	return k >= BooleanLiteral && k <= NullLiteral
}

var keywords = map[string]Kind{
	"and":  And,
	"or":   Or,
	"not":  Not,
	"eq":   Eq,
	"ne":   Ne,
	"gt":   Gt,
	"ge":   Ge,
	"lt":   Lt,
	"le":   Le,
	"has":  Has,
	"in":   In,
	"add":  Add,
	"sub":  Sub,
	"mul":  Mul,
	"div":  Div,
	"mod":  Mod,
	"asc":  Asc,
	"desc": Desc,
}

var punctuation = map[rune]Kind{
	',': Comma,
	';': Semicolon,
	'=': Equals,
	'/': Slash,
	'(': OpenParen,
	')': CloseParen,
	'[': OpenBracket,
	']': CloseBracket,
	'-': Minus,
	'*': Star,
}

// Token is an immutable lexical unit.
//
// Pos is the offset of the first character of the token and End the offset
// of the next unread character after it. Value holds the decoded literal:
// bool, int32, int64, float32, float64, string, time.Time, uuid.UUID, or nil.
type Token struct {
	Kind  Kind
	Text  string
	Value any
	Pos   int
	End   int
}

// Is reports whether the token has kind k.
func (t Token) Is(k Kind) bool {
	return t.Kind == k
}
