// Package store provides a SQLite-backed query source.
//
// Each registered type gets one table. Properties with a scalar storage
// form (numbers, strings, bools, times, GUIDs, enums) are plain columns;
// everything else, navigation properties included, is a JSON text column
// written and read by the codec.
//
// # Query execution
//
// A Source folds filter, order-by, skip and take into one SQL statement
// for as long as each clause lowers to the query plan. The first clause
// that does not lower, and every operation after it, runs in memory over
// the rows SQL returned. Results are identical either way; only the
// amount of work pushed to SQLite differs.
//
// When the whole chain runs in SQL and the projection reports which
// properties it reads, navigation columns that are not expanded are never
// selected or decoded.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every select ends with ORDER BY ..., rowid ASC. Rows are inserted in
// source order, so ties keep source order as they do in memory.
package store
