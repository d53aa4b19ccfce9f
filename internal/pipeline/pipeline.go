package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"time"

	"github.com/roach88/shapeq/internal/codec"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/options"
	"github.com/roach88/shapeq/internal/projection"
	"github.com/roach88/shapeq/internal/queryable"
)

// Pipeline stages, used in errors and metrics.
const (
	StageProject     = "project"
	StageCount       = "count"
	StageMaterialize = "materialize"
)

// Result is one page of a query.
type Result struct {
	// Items is a slice of the source element type.
	Items reflect.Value
	// Count is the number of items matching the filter before paging. It
	// is nil unless the options requested a count.
	Count *int64
}

// Len returns the number of items on the page.
func (r *Result) Len() int {
	if !r.Items.IsValid() {
		return 0
	}
	return r.Items.Len()
}

// StageError reports the pipeline stage a query failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Applier runs query options against sources. It is safe for concurrent
// use.
type Applier struct {
	registry *meta.Registry
	writer   *codec.Writer
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures an Applier.
type Option func(*Applier)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) {
		a.logger = l
	}
}

// WithMetrics records every applied query in m.
func WithMetrics(m *Metrics) Option {
	return func(a *Applier) {
		a.metrics = m
	}
}

// WithWriter sets the codec used by Write. The default writes every
// string as given.
func WithWriter(w *codec.Writer) Option {
	return func(a *Applier) {
		a.writer = w
	}
}

// New creates an Applier resolving types through registry.
func New(registry *meta.Registry, opts ...Option) *Applier {
	a := &Applier{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.writer == nil {
		a.writer = codec.NewWriter(registry)
	}
	return a
}

// Apply runs o against src and returns the resulting page.
func (a *Applier) Apply(ctx context.Context, src queryable.Source, o *options.QueryOptions) (*Result, error) {
	if o == nil {
		return nil, fmt.Errorf("apply: nil query options")
	}
	if src.ElemType() != o.ItemType() {
		return nil, fmt.Errorf("apply: options for %s cannot run against a source of %s", o.ItemType(), src.ElemType())
	}

	start := time.Now()
	res, stage, err := a.run(ctx, src, o)
	elapsed := time.Since(start)
	typeName := o.ItemType().String()

	if err != nil {
		a.metrics.observe(typeName, elapsed.Seconds(), 0, stage)
		a.logger.Warn("query failed", "type", typeName, "stage", stage, "error", err)
		return nil, &StageError{Stage: stage, Err: err}
	}
	a.metrics.observe(typeName, elapsed.Seconds(), res.Len(), "")
	a.logger.Debug("query applied",
		"type", typeName,
		"rows", res.Len(),
		"counted", res.Count != nil,
		"duration", elapsed,
	)
	return res, nil
}

func (a *Applier) run(ctx context.Context, src queryable.Source, o *options.QueryOptions) (*Result, string, error) {
	plan, err := projection.Build(a.registry, o.ItemType(), o.Select(), o.Expand())
	if err != nil {
		return nil, StageProject, err
	}
	src = src.Select(plan)

	if keys := o.OrderBy(); len(keys) > 0 {
		src = src.OrderBy(keys)
	}
	if f := o.Filter(); f != nil {
		src = src.Where(f)
	}

	res := &Result{}
	if o.Count() {
		n, err := src.Count(ctx)
		if err != nil {
			return nil, StageCount, err
		}
		res.Count = &n
	}

	if n, ok := o.Skip(); ok {
		src = src.Skip(n)
	}
	if n, ok := o.Top(); ok {
		src = src.Take(n)
	}

	items, err := src.Materialize(ctx)
	if err != nil {
		return nil, StageMaterialize, err
	}
	res.Items = items
	return res, "", nil
}

// Write writes r as a result envelope shaped by o's select and expand
// trees.
func (a *Applier) Write(out io.Writer, r *Result, o *options.QueryOptions) error {
	return a.writer.WriteEnvelope(out, r.Items, r.Count, o.Shape())
}
