package queryir

// Query is a statement against one table.
//
// This is a sealed interface - only types in this package implement it.
//
// Query types:
//   - Select: filtered, ordered, paged rows
//   - Count: number of rows a Select yields
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate is a two-valued row condition.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Compare: binary comparison of two operands
//   - IsNull: operand is null
//   - And, Or, Not: boolean connectives
//   - Truth: boolean operand is true
//   - HasFlags: integer operand has all bits of a mask set
//   - In: operand equals one of a list of values
//   - Match: string containment, prefix or suffix test
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Operand is a scalar value inside a predicate or ordering key.
//
// This is a sealed interface - only types in this package implement it.
//
// Operand types:
//   - Column: a column of the current row
//   - Param: a bound value
//   - Arith: add, sub or mul of two operands
//   - Negate: arithmetic negation
//   - Length: character length of a string
//   - IndexOf: zero-based position of a substring, -1 when absent
type Operand interface {
	operandNode() // Marker method - seals interface to this package
}

// Select reads rows of one table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <keys> LIMIT <limit> OFFSET <offset>
//
// Rows that tie on every key keep insertion order; backends append a
// stable tie-breaker after OrderBy.
type Select struct {
	From    string     // table name
	Columns []string   // columns to read, in result order
	Filter  Predicate  // nil = every row
	OrderBy []OrderKey // may be empty
	Limit   *int       // nil = unbounded
	Offset  *int       // nil = 0
}

func (Select) queryNode() {}

// Count counts the rows Source yields. Source columns are ignored.
type Count struct {
	Source Select
}

func (Count) queryNode() {}

// OrderKey is one ordering term. Null sorts before every other value in
// ascending order.
type OrderKey struct {
	Key        Operand
	Descending bool
}

// CompareOp enumerates comparison operators.
type CompareOp uint8

const (
	Eq CompareOp = iota + 1
	Ne
	Lt
	Le
	Gt
	Ge
)

func (op CompareOp) String() string {
	switch op {
	case Eq:
		return "eq"
	case Ne:
		return "ne"
	case Lt:
		return "lt"
	case Le:
		return "le"
	case Gt:
		return "gt"
	case Ge:
		return "ge"
	}
	return "?"
}

// IsOrdering reports whether op is one of lt, le, gt, ge.
func (op CompareOp) IsOrdering() bool {
	return op >= Lt && op <= Ge
}

// Compare compares two operands. Eq and Ne treat null as a value equal
// only to itself; the ordering operators are false when either side is
// null.
type Compare struct {
	Op    CompareOp
	Left  Operand
	Right Operand
}

func (Compare) predicateNode() {}

// IsNull holds when Operand is null.
type IsNull struct {
	Operand Operand
}

func (IsNull) predicateNode() {}

// And holds when every predicate holds. An empty And holds.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Or holds when any predicate holds. An empty Or does not hold.
type Or struct {
	Predicates []Predicate
}

func (Or) predicateNode() {}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

func (Not) predicateNode() {}

// Truth holds when a boolean operand is true. Null is not true.
type Truth struct {
	Operand Operand
}

func (Truth) predicateNode() {}

// HasFlags holds when every bit of Mask is set in Operand. False on null.
type HasFlags struct {
	Operand Operand
	Mask    int64
}

func (HasFlags) predicateNode() {}

// In holds when Operand equals one of Values. False on null.
type In struct {
	Operand Operand
	Values  []any
}

func (In) predicateNode() {}

// MatchKind enumerates string tests.
type MatchKind uint8

const (
	Contains MatchKind = iota + 1
	StartsWith
	EndsWith
)

func (k MatchKind) String() string {
	switch k {
	case Contains:
		return "contains"
	case StartsWith:
		return "startswith"
	case EndsWith:
		return "endswith"
	}
	return "?"
}

// Match tests Subject against a literal pattern. False when Subject is
// null. Comparison is case-sensitive.
type Match struct {
	Kind    MatchKind
	Subject Operand
	Pattern string
}

func (Match) predicateNode() {}

// Column references a column of the current row.
type Column struct {
	Name string
}

func (Column) operandNode() {}

// Param is a bound value. Value must already be in its storage form
// (int64, float64, string, bool, []byte or nil).
type Param struct {
	Value any
}

func (Param) operandNode() {}

// ArithOp enumerates arithmetic operators with exact SQL counterparts.
type ArithOp uint8

const (
	Add ArithOp = iota + 1
	Sub
	Mul
)

func (op ArithOp) String() string {
	switch op {
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "mul"
	}
	return "?"
}

// Arith applies an arithmetic operator. Null when either side is null.
type Arith struct {
	Op    ArithOp
	Left  Operand
	Right Operand
}

func (Arith) operandNode() {}

// Negate is arithmetic negation. Null on null.
type Negate struct {
	Operand Operand
}

func (Negate) operandNode() {}

// Length is the character length of a string operand. Null on null.
type Length struct {
	Operand Operand
}

func (Length) operandNode() {}

// IndexOf is the zero-based character position of Pattern in Operand, or
// -1 when absent. Null on null.
type IndexOf struct {
	Operand Operand
	Pattern string
}

func (IndexOf) operandNode() {}
