package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/options"
	"github.com/roach88/shapeq/internal/queryable"
	"github.com/roach88/shapeq/internal/sample"
	"github.com/roach88/shapeq/internal/store"
)

var userType = reflect.TypeOf(&sample.User{})

type fixture struct {
	reg     *meta.Registry
	parser  *options.Parser
	applier *Applier
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := sample.NewRegistry()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return &fixture{
		reg:     reg,
		parser:  options.NewParser(clause.NewParser(reg, binder.New(reg)), options.Limits{}),
		applier: New(reg, opts...),
	}
}

func (f *fixture) options(t *testing.T, query string) *options.QueryOptions {
	t.Helper()
	o, err := f.parser.ParseQuery(query, userType)
	require.NoError(t, err, query)
	return o
}

func (f *fixture) apply(t *testing.T, src queryable.Source, query string) ([]*sample.User, *int64) {
	t.Helper()
	res, err := f.applier.Apply(context.Background(), src, f.options(t, query))
	require.NoError(t, err, query)
	users, ok := res.Items.Interface().([]*sample.User)
	require.True(t, ok, "items are %s", res.Items.Type())
	return users, res.Count
}

func userIDs(users []*sample.User) []int32 {
	out := make([]int32, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

// sources returns the in-memory and SQLite sources over the sample users.
func sources(t *testing.T) map[string]queryable.Source {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "users.db"), sample.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Register(ctx, userType))
	require.NoError(t, db.Insert(ctx, sample.Users()))
	sqlSrc, err := db.Source(userType)
	require.NoError(t, err)

	return map[string]queryable.Source{
		"memory": queryable.From(sample.Users()),
		"sqlite": sqlSrc,
	}
}

func TestApply_Clauses(t *testing.T) {
	testCases := []struct {
		name      string
		query     string
		wantIDs   []int32
		wantCount *int64
	}{
		{
			name:      "count ignores paging",
			query:     "$count=true&$top=3",
			wantIDs:   []int32{1, 2, 3},
			wantCount: ptr(10),
		},
		{
			name:      "count after filter",
			query:     "$filter=Id le 5&$count=true",
			wantIDs:   []int32{1, 2, 3, 4, 5},
			wantCount: ptr(5),
		},
		{
			name:    "ties broken by the next key",
			query:   "$orderby=firstName,username",
			wantIDs: []int32{1, 4, 3, 5, 7, 6, 8, 2, 9, 10},
		},
		{
			name:    "descending",
			query:   "$orderby=score desc&$top=3",
			wantIDs: []int32{7, 3, 5},
		},
		{
			name:      "skip then top",
			query:     "$filter=score gt 85&$orderby=score&$skip=2&$top=2&$count=true",
			wantIDs:   []int32{6, 1},
			wantCount: ptr(7),
		},
		{
			name:    "skip past the end",
			query:   "$skip=50",
			wantIDs: []int32{},
		},
		{
			name:    "filter on an unselected member",
			query:   "$select=username&$filter=address/city eq 'London'",
			wantIDs: []int32{0},
		},
		{
			name:    "filter on a navigation",
			query:   "$filter=manager/id eq 2&$orderby=id desc",
			wantIDs: []int32{5, 4},
		},
		{
			name:    "enum flags",
			query:   "$filter=role has 'Admin'&$orderby=id",
			wantIDs: []int32{1, 2, 5, 10},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for backend, src := range sources(t) {
				t.Run(backend, func(t *testing.T) {
					f := newFixture(t)
					users, count := f.apply(t, src, tc.query)
					assert.Equal(t, tc.wantIDs, userIDs(users))
					assert.Equal(t, tc.wantCount, count)
				})
			}
		})
	}
}

func ptr(n int64) *int64 { return &n }

func TestApply_ExpandedBranch(t *testing.T) {
	for backend, src := range sources(t) {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t)
			users, _ := f.apply(t, src,
				"$filter=id eq 1&$expand=blogs($filter=startswith(name, 'Match');$orderby=name desc;$skip=1;$top=2)")
			require.Len(t, users, 1)
			require.Len(t, users[0].Blogs, 2)
			assert.Equal(t, "Match2", users[0].Blogs[0].Name)
			assert.Equal(t, "Match1", users[0].Blogs[1].Name)
			assert.Nil(t, users[0].Blogs[1].Posts, "nested navigation was not expanded")
		})
	}
}

func TestApply_UnexpandedNavigationsAreNil(t *testing.T) {
	for backend, src := range sources(t) {
		t.Run(backend, func(t *testing.T) {
			f := newFixture(t)
			for _, query := range []string{"", "$select=*", "$select=blogs,manager", "$select=id,pets"} {
				users, _ := f.apply(t, src, query)
				require.Len(t, users, 10, query)
				for _, u := range users {
					assert.Nil(t, u.Blogs, query)
					assert.Nil(t, u.Pets, query)
					assert.Nil(t, u.Manager, query)
				}
			}
		})
	}
}

func TestApply_StarIsIdempotent(t *testing.T) {
	f := newFixture(t)
	src := queryable.From(sample.Users())
	star, _ := f.apply(t, src, "$select=*")
	twice, _ := f.apply(t, src, "$select=*,*")
	withMember, _ := f.apply(t, src, "$select=*,firstName")
	assert.Equal(t, star, twice)
	assert.Equal(t, star, withMember)
}

func TestApply_SourceUnchanged(t *testing.T) {
	f := newFixture(t)
	users := sample.Users()
	_, _ = f.apply(t, queryable.From(users), "$select=id&$expand=manager")
	assert.Equal(t, sample.Users(), users)
}

func TestApply_DuplicateCount(t *testing.T) {
	f := newFixture(t)
	_, err := f.parser.ParseQuery("$count=true&$count=false", userType)
	require.Error(t, err)
	assert.True(t, options.IsDuplicateParameter(err))
}

func TestApply_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.applier.Apply(ctx, queryable.From(sample.Users()), nil)
	assert.ErrorContains(t, err, "nil query options")

	_, err = f.applier.Apply(ctx, queryable.From([]*sample.Blog{}), f.options(t, "$top=1"))
	assert.ErrorContains(t, err, "cannot run against a source")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.applier.Apply(canceled, queryable.From(sample.Users()), f.options(t, "$count=true"))
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageCount, stageErr.Stage)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestApply_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := newFixture(t, WithMetrics(m))
	src := queryable.From(sample.Users())

	_, _ = f.apply(t, src, "$top=4")
	_, _ = f.apply(t, src, "$filter=id gt 8")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.applier.Apply(canceled, src, f.options(t, ""))
	require.Error(t, err)

	typeName := userType.String()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Queries.WithLabelValues(typeName, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues(typeName, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(StageMaterialize)))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.Rows))

	count, err := testutil.GatherAndCount(reg, "shapeq_queries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	families, err := reg.Gather()
	require.NoError(t, err)
	var observed uint64
	for _, mf := range families {
		if mf.GetName() == "shapeq_query_duration_seconds" {
			observed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(3), observed)
}

func TestWrite_Envelope(t *testing.T) {
	f := newFixture(t)
	o := f.options(t, "$filter=id le 2&$select=id,username&$expand=blogs($select=name;$top=1)&$count=true")
	res, err := f.applier.Apply(context.Background(), queryable.From(sample.Users()), o)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.applier.Write(&buf, res, o))
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "envelope_expanded", buf.Bytes())
}
