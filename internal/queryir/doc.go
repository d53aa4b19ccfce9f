// Package queryir provides the query plan handed to SQL backends.
//
// A plan is produced by lowering typed filter and order-by expressions
// (internal/querysql) and consumed by a backend compiler:
//
//	[typed expr] → [Query IR] → [SQLite SQL]
//
// The IR covers the part of the expression language that has an exact
// relational counterpart. Anything outside it (navigation paths, lambdas,
// functions whose semantics differ between Go and SQL) is not lowered at
// all, and the caller evaluates that part in memory instead.
//
// # Null semantics
//
// Every Predicate is two-valued: it is either true or false, never
// unknown. Compare with Eq/Ne is null-safe (null equals only null); the
// ordering operators are false when either side is null. Backends must
// preserve this, so a predicate placed under Not keeps the meaning it has
// in memory.
//
// # Sealed interfaces
//
// Query, Predicate and Operand are sealed with marker methods. Backends
// switch over them exhaustively:
//
//	switch q := query.(type) {
//	case *Select:
//	    // rows
//	case *Count:
//	    // row count of a select
//	}
package queryir
