// Package harness runs query conformance scenarios.
//
// A scenario is a YAML file listing query strings and what they must
// produce over a users fixture. Every case runs against both query
// backends, the in-memory source and the SQLite store, and the two must
// write byte-identical result envelopes. Expectations then check the item
// ids, the count, rejected parameters and which navigation properties were
// loaded.
//
//	name: paging
//	cases:
//	  - name: count ignores paging
//	    query: $count=true&$top=3
//	    expect: {ids: [1, 2, 3], count: 10}
//
// Cases marked golden are also snapshotted with goldie under
// testdata/golden.
package harness
