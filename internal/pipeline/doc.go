// Package pipeline applies bound query options to a query source.
//
// The applier always runs the clauses in one order: projection, ordering,
// filtering, an optional count, skip, top and finally materialization.
// Sources may execute the chain differently (the SQLite store folds
// filters and orderings into SQL) as long as the observable result is the
// same. The count observes the filtered items before paging.
package pipeline
