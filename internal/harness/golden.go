package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the golden cases of a result: for each, a header line,
// the query and the envelope written by the first backend.
func Snapshot(r *Result) []byte {
	var buf bytes.Buffer
	for _, cr := range r.Cases {
		if !cr.Case.Golden {
			continue
		}
		fmt.Fprintf(&buf, "== %s\n%s\n%s\n", cr.Case.Name, cr.Case.Query, cr.Outcomes[0].Envelope)
	}
	return buf.Bytes()
}

// RunWithGolden runs a scenario, fails t for every unmet expectation and
// compares the golden cases against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("run scenario %s: %v", scenario.Name, err)
	}
	for _, err := range result.Errors {
		t.Error(err)
	}

	snapshot := Snapshot(result)
	if len(snapshot) == 0 {
		return
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, snapshot)
}
