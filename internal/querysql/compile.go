// Package querysql lowers typed query clauses to the query plan and
// compiles plans to parameterized SQLite SQL.
package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/shapeq/internal/queryir"
)

// TieBreaker is the final ordering term of every select. Rows are
// inserted in source order, so ties keep source order.
const TieBreaker = "rowid ASC"

// SQLCompiler compiles query plans to parameterized SQL for SQLite.
//
// Every select ends with ORDER BY ... rowid ASC, so results are
// deterministic. Values are always bound as ? parameters, never
// interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile converts a query to SQL and its parameters, in placeholder
// order.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q).Error(); err != nil {
		return "", nil, err
	}

	b := &builder{}
	switch query := q.(type) {
	case queryir.Select:
		b.selectStmt(query, query.Columns)
	case *queryir.Select:
		b.selectStmt(*query, query.Columns)
	case queryir.Count:
		b.count(query.Source)
	case *queryir.Count:
		b.count(query.Source)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
	if b.err != nil {
		return "", nil, b.err
	}
	return b.sql.String(), b.params, nil
}

// QuoteIdent quotes a table or column name.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type builder struct {
	sql    strings.Builder
	params []any
	err    error
}

func (b *builder) write(parts ...string) {
	for _, p := range parts {
		b.sql.WriteString(p)
	}
}

func (b *builder) bind(v any) {
	b.sql.WriteByte('?')
	b.params = append(b.params, v)
}

func (b *builder) selectStmt(q queryir.Select, columns []string) {
	b.write("SELECT ")
	if len(columns) == 0 {
		b.write("1")
	}
	for i, col := range columns {
		if i > 0 {
			b.write(", ")
		}
		b.write(QuoteIdent(col))
	}
	b.write(" FROM ", QuoteIdent(q.From))

	if q.Filter != nil {
		b.write(" WHERE ")
		b.predicate(q.Filter)
	}

	b.write(" ORDER BY ")
	for _, k := range q.OrderBy {
		b.operand(k.Key)
		if k.Descending {
			b.write(" DESC, ")
		} else {
			b.write(" ASC, ")
		}
	}
	b.write(TieBreaker)

	switch {
	case q.Limit != nil:
		b.write(" LIMIT ", strconv.Itoa(*q.Limit))
	case q.Offset != nil:
		// SQLite needs a LIMIT before OFFSET.
		b.write(" LIMIT -1")
	}
	if q.Offset != nil {
		b.write(" OFFSET ", strconv.Itoa(*q.Offset))
	}
}

// count wraps the select so that paging applies before counting.
func (b *builder) count(q queryir.Select) {
	b.write("SELECT COUNT(*) FROM (")
	b.selectStmt(q, nil)
	b.write(")")
}

func (b *builder) predicate(p queryir.Predicate) {
	switch pred := p.(type) {
	case queryir.Compare:
		b.compare(pred)
	case queryir.IsNull:
		b.write("(")
		b.operand(pred.Operand)
		b.write(" IS NULL)")
	case queryir.And:
		b.connective(pred.Predicates, " AND ", "1")
	case queryir.Or:
		b.connective(pred.Predicates, " OR ", "0")
	case queryir.Not:
		b.write("(NOT ")
		b.predicate(pred.Predicate)
		b.write(")")
	case queryir.Truth:
		b.write("(")
		b.operand(pred.Operand)
		b.write(" IS TRUE)")
	case queryir.HasFlags:
		b.write("(((")
		b.operand(pred.Operand)
		b.write(" & ")
		b.bind(pred.Mask)
		b.write(") = ")
		b.bind(pred.Mask)
		b.write(") IS TRUE)")
	case queryir.In:
		b.in(pred)
	case queryir.Match:
		b.match(pred)
	default:
		b.err = fmt.Errorf("unsupported predicate type: %T", p)
	}
}

var compareSQL = map[queryir.CompareOp]string{
	queryir.Eq: " IS ",
	queryir.Ne: " IS NOT ",
	queryir.Lt: " < ",
	queryir.Le: " <= ",
	queryir.Gt: " > ",
	queryir.Ge: " >= ",
}

// compare renders eq/ne with IS so null equals null, and the ordering
// operators with IS TRUE so a null operand yields false.
func (b *builder) compare(c queryir.Compare) {
	if c.Op.IsOrdering() {
		b.write("((")
	} else {
		b.write("(")
	}
	b.operand(c.Left)
	b.write(compareSQL[c.Op])
	b.operand(c.Right)
	if c.Op.IsOrdering() {
		b.write(") IS TRUE)")
	} else {
		b.write(")")
	}
}

func (b *builder) connective(preds []queryir.Predicate, sep, empty string) {
	if len(preds) == 0 {
		b.write(empty)
		return
	}
	b.write("(")
	for i, p := range preds {
		if i > 0 {
			b.write(sep)
		}
		b.predicate(p)
	}
	b.write(")")
}

func (b *builder) in(p queryir.In) {
	if len(p.Values) == 0 {
		b.write("0")
		return
	}
	b.write("((")
	b.operand(p.Operand)
	b.write(" IN (")
	for i, v := range p.Values {
		if i > 0 {
			b.write(", ")
		}
		b.bind(v)
	}
	b.write(")) IS TRUE)")
}

// match tests text by character position; instr, substr and length count
// characters, not bytes.
func (b *builder) match(m queryir.Match) {
	b.write("(")
	b.operand(m.Subject)
	b.write(" IS NOT NULL AND ")
	switch m.Kind {
	case queryir.Contains:
		b.write("instr(")
		b.operand(m.Subject)
		b.write(", ")
		b.bind(m.Pattern)
		b.write(") > 0")
	case queryir.StartsWith:
		b.write("substr(")
		b.operand(m.Subject)
		b.write(", 1, length(")
		b.bind(m.Pattern)
		b.write(")) = ")
		b.bind(m.Pattern)
	case queryir.EndsWith:
		// substr(x, -0) is the whole string, so the empty suffix is
		// handled on its own.
		b.write("(length(")
		b.bind(m.Pattern)
		b.write(") = 0 OR substr(")
		b.operand(m.Subject)
		b.write(", -length(")
		b.bind(m.Pattern)
		b.write(")) = ")
		b.bind(m.Pattern)
		b.write(")")
	default:
		b.err = fmt.Errorf("unsupported match kind: %v", m.Kind)
	}
	b.write(")")
}

func (b *builder) operand(o queryir.Operand) {
	switch op := o.(type) {
	case queryir.Column:
		b.write(QuoteIdent(op.Name))
	case queryir.Param:
		b.bind(op.Value)
	case queryir.Arith:
		b.write("(")
		b.operand(op.Left)
		b.write(arithSQL[op.Op])
		b.operand(op.Right)
		b.write(")")
	case queryir.Negate:
		b.write("(-")
		b.operand(op.Operand)
		b.write(")")
	case queryir.Length:
		b.write("length(")
		b.operand(op.Operand)
		b.write(")")
	case queryir.IndexOf:
		b.write("(instr(")
		b.operand(op.Operand)
		b.write(", ")
		b.bind(op.Pattern)
		b.write(") - 1)")
	default:
		b.err = fmt.Errorf("unsupported operand type: %T", o)
	}
}

var arithSQL = map[queryir.ArithOp]string{
	queryir.Add: " + ",
	queryir.Sub: " - ",
	queryir.Mul: " * ",
}
