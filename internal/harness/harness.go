package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/config"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/options"
	"github.com/roach88/shapeq/internal/pipeline"
	"github.com/roach88/shapeq/internal/queryable"
	"github.com/roach88/shapeq/internal/sample"
	"github.com/roach88/shapeq/internal/store"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Backends lists every backend a case runs against, in run order.
var Backends = []string{BackendMemory, BackendSQLite}

var userType = reflect.TypeOf(&sample.User{})

// Outcome is what one case produced on one backend.
type Outcome struct {
	Backend string
	// Envelope is the written result page. Empty when the query was
	// rejected.
	Envelope []byte
	Users    []*sample.User
	Count    *int64
	// ErrorCode is the first option error code of a rejected query.
	ErrorCode string
}

// CaseResult holds the outcomes of one case.
type CaseResult struct {
	Case     Case
	Outcomes []Outcome
}

// Result is the outcome of a scenario run.
type Result struct {
	Pass   bool
	Cases  []CaseResult
	Errors []error
}

func (r *Result) fail(err error) {
	r.Pass = false
	r.Errors = append(r.Errors, err)
}

// Harness runs cases against the backends of one scenario.
type Harness struct {
	registry *meta.Registry
	options  *options.Parser
	applier  *pipeline.Applier
	sources  map[string]queryable.Source
}

// Run executes a scenario. Each run loads the fixture into a fresh
// in-memory SQLite database.
//
// The returned error reports a scenario that could not be run; failed
// expectations are recorded in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	users := sample.Users()
	if scenario.Fixture != "" {
		var err error
		users, err = sample.LoadFixtureFile(filepath.Join(scenario.dir, scenario.Fixture))
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
	}

	settings := config.Default()
	if scenario.Settings != "" {
		var err error
		settings, err = config.Parse([]byte(scenario.Settings), scenario.Name+".cue")
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
	}

	reg := sample.NewRegistry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(":memory:", reg, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()
	if err := st.Register(ctx, userType); err != nil {
		return nil, err
	}
	if err := st.Insert(ctx, users); err != nil {
		return nil, err
	}
	sqlSrc, err := st.Source(userType)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		registry: reg,
		options:  options.NewParser(clause.NewParser(reg, binder.New(reg)), settings.Limits()),
		applier:  pipeline.New(reg, pipeline.WithLogger(logger)),
		sources: map[string]queryable.Source{
			BackendMemory: queryable.From(users),
			BackendSQLite: sqlSrc,
		},
	}

	result := &Result{Pass: true, Cases: make([]CaseResult, 0, len(scenario.Cases))}
	byName := make(map[string]*CaseResult, len(scenario.Cases))
	for _, c := range scenario.Cases {
		cr := CaseResult{Case: c}
		for _, backend := range Backends {
			out, err := h.runCase(ctx, backend, c.Query)
			if err != nil {
				return nil, fmt.Errorf("case %q on %s: %w", c.Name, backend, err)
			}
			cr.Outcomes = append(cr.Outcomes, *out)
		}
		for _, err := range h.check(&cr, byName) {
			result.fail(err)
		}
		result.Cases = append(result.Cases, cr)
		byName[c.Name] = &result.Cases[len(result.Cases)-1]
	}
	return result, nil
}

// runCase runs one query. A rejected query is an outcome, not an error.
func (h *Harness) runCase(ctx context.Context, backend, query string) (*Outcome, error) {
	out := &Outcome{Backend: backend}
	o, err := h.options.ParseQuery(query, userType)
	if err != nil {
		var errs options.Errors
		if !errors.As(err, &errs) || len(errs) == 0 {
			return nil, err
		}
		out.ErrorCode = string(errs[0].Code)
		return out, nil
	}

	res, err := h.applier.Apply(ctx, h.sources[backend], o)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := h.applier.Write(&buf, res, o); err != nil {
		return nil, err
	}
	out.Envelope = buf.Bytes()
	out.Users = res.Items.Interface().([]*sample.User)
	out.Count = res.Count
	return out, nil
}
