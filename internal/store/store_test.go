package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/projection"
	"github.com/roach88/shapeq/internal/queryable"
	"github.com/roach88/shapeq/internal/sample"
)

var userType = reflect.TypeOf(&sample.User{})

// createTestStore opens a store in a temp dir holding the sample users.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, sample.NewRegistry(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Register(ctx, userType))
	require.NoError(t, s.Insert(ctx, sample.Users()))
	return s
}

func userSource(t *testing.T, s *Store) queryable.Source {
	t.Helper()
	src, err := s.Source(userType)
	require.NoError(t, err)
	return src
}

func ids(t *testing.T, src queryable.Source) []int32 {
	t.Helper()
	users, err := queryable.ToSlice[*sample.User](context.Background(), src)
	require.NoError(t, err)
	out := make([]int32, len(users))
	for i, u := range users {
		out[i] = u.ID
	}
	return out
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path, sample.NewRegistry())
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path, sample.NewRegistry())
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Register(context.Background(), userType))
		require.NoError(t, s.Close())
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, sample.NewRegistry())
	require.NoError(t, err)
	_, err = s.DB().Exec("PRAGMA user_version = 9")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path, sample.NewRegistry())
	assert.ErrorContains(t, err, "newer than supported")
}

func TestRegister_LayoutMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, sample.NewRegistry())
	require.NoError(t, err)
	require.NoError(t, s.Register(context.Background(), userType))
	require.NoError(t, s.Close())

	type slimUser struct {
		ID int32 `json:"id"`
	}
	reg := meta.NewRegistry()
	reg.MustRegister("User", slimUser{})
	s, err = Open(path, reg)
	require.NoError(t, err)
	defer s.Close()

	err = s.Register(context.Background(), reflect.TypeOf(slimUser{}))
	assert.ErrorContains(t, err, "table exists with columns")
}

func TestTable_Layout(t *testing.T) {
	s, err := Open(":memory:", sample.NewRegistry())
	require.NoError(t, err)
	defer s.Close()

	tbl, err := s.newTable(userType)
	require.NoError(t, err)
	assert.Equal(t, "User", tbl.name)
	assert.Equal(t, "id INTEGER, firstName TEXT, username TEXT, email TEXT, score REAL, key TEXT, "+
		"joined TEXT, role INTEGER, tags JSON, address JSON, blogs JSON, pets JSON, manager JSON", tbl.layout())

	col, ok := tbl.resolve("firstName")
	assert.True(t, ok)
	assert.Equal(t, "firstName", col)
	_, ok = tbl.resolve("address")
	assert.False(t, ok)
}

func TestInsert_RoundTrip(t *testing.T) {
	s := createTestStore(t)

	users, err := queryable.ToSlice[*sample.User](context.Background(), userSource(t, s))
	require.NoError(t, err)
	assert.Equal(t, sample.Users(), users)
}

func TestInsert_ValueItems(t *testing.T) {
	s, err := Open(":memory:", sample.NewRegistry())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	blogType := reflect.TypeOf(sample.Blog{})
	require.NoError(t, s.Register(ctx, blogType))
	require.NoError(t, s.Insert(ctx, []sample.Blog{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}))

	src, err := s.Source(blogType)
	require.NoError(t, err)
	blogs, err := queryable.ToSlice[sample.Blog](ctx, src.Skip(1))
	require.NoError(t, err)
	assert.Equal(t, []sample.Blog{{ID: 2, Name: "b"}}, blogs)
}

func TestInsert_Errors(t *testing.T) {
	s, err := Open(":memory:", sample.NewRegistry())
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	assert.ErrorContains(t, s.Insert(ctx, sample.Users()), "not registered")
	assert.ErrorContains(t, s.Insert(ctx, 42), "expected a slice")

	require.NoError(t, s.Register(ctx, userType))
	assert.ErrorContains(t, s.Insert(ctx, []*sample.User{nil}), "nil item")

	_, err = s.Source(reflect.TypeOf(sample.Post{}))
	assert.ErrorContains(t, err, "not registered")
}

func TestSource_MatchesMemory(t *testing.T) {
	s := createTestStore(t)
	reg := sample.NewRegistry()
	cp := clause.NewParser(reg, binder.New(reg))

	filter := func(text string) func(queryable.Source) queryable.Source {
		f, err := cp.ParseFilter(text, userType)
		require.NoError(t, err, text)
		return func(src queryable.Source) queryable.Source { return src.Where(f) }
	}
	orderBy := func(text string) func(queryable.Source) queryable.Source {
		keys, err := cp.ParseOrderBy(text, userType)
		require.NoError(t, err, text)
		return func(src queryable.Source) queryable.Source { return src.OrderBy(keys) }
	}
	skip := func(n int) func(queryable.Source) queryable.Source {
		return func(src queryable.Source) queryable.Source { return src.Skip(n) }
	}
	take := func(n int) func(queryable.Source) queryable.Source {
		return func(src queryable.Source) queryable.Source { return src.Take(n) }
	}
	type step = func(queryable.Source) queryable.Source

	testCases := []struct {
		name  string
		steps []step
		want  []int32
	}{
		{"id le 5", []step{filter("id le 5")}, []int32{1, 2, 3, 4, 5}},
		{"email is null", []step{filter("email eq null")}, nil},
		{"not startswith", []step{filter("not startswith(email, 'g')")}, nil},
		{"has flag", []step{filter("role has 'Admin'")}, nil},
		{"has flag negated", []step{filter("not (role has 'Writer')")}, nil},
		{"in list", []step{filter("id in [2, 4, 42]")}, []int32{2, 4}},
		{"ordering null operand", []step{filter("not (length(email) gt 15)")}, nil},
		{"time", []step{filter("joined ge 2020-01-01T00:00:00Z")}, nil},
		{"guid", []step{filter("key ne 1b2c3d4e-5f60-4718-9a2b-3c4d5e6f7081")}, nil},
		{"arithmetic", []step{filter("score mul 2 sub id gt 180")}, nil},
		{"indexof", []step{filter("indexof(username, 'n') eq 1")}, nil},
		{"endswith empty", []step{filter("endswith(email, '')")}, nil},
		{"complex member in memory", []step{filter("address/city eq 'London'")}, []int32{1}},
		{"navigation in memory", []step{filter("manager/id eq 2")}, []int32{4, 5}},
		{"order with ties", []step{orderBy("firstName, username")}, nil},
		{"order desc", []step{orderBy("email desc, id")}, nil},
		{"order twice", []step{orderBy("username"), orderBy("firstName")}, nil},
		{"order by function", []step{orderBy("length(username) desc")}, nil},
		{"order in memory", []step{orderBy("address/city")}, nil},
		{"skip take", []step{skip(1), take(3)}, []int32{2, 3, 4}},
		{"take skip", []step{take(3), skip(1)}, []int32{2, 3}},
		{"take take", []step{take(5), take(2)}, []int32{1, 2}},
		{"skip past end", []step{skip(20)}, nil},
		{"filter after paging", []step{take(4), filter("score gt 90")}, []int32{1, 3}},
		{"order after paging", []step{skip(6), orderBy("id desc")}, []int32{10, 9, 8, 7}},
		{"memory filter then paging", []step{filter("address/city ne 'London'"), orderBy("score desc"), skip(1), take(2)}, nil},
		{"mixed", []step{filter("score gt 85"), orderBy("firstName desc"), take(4), skip(1)}, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var mem queryable.Source = queryable.From(sample.Users())
			sql := userSource(t, s)
			for _, st := range tc.steps {
				mem, sql = st(mem), st(sql)
			}
			want := ids(t, mem)
			if tc.want != nil {
				require.Equal(t, tc.want, want, "in-memory reference")
			}
			assert.Equal(t, want, ids(t, sql))

			ctx := context.Background()
			wantCount, err := mem.Count(ctx)
			require.NoError(t, err)
			gotCount, err := sql.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, wantCount, gotCount)
		})
	}
}

func TestSource_LoadsOnlyExpandedNavigations(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := createTestStore(t, WithLogger(logger))
	reg := sample.NewRegistry()
	cp := clause.NewParser(reg, binder.New(reg))

	eb := clause.NewExpandBuilder(userType)
	require.NoError(t, cp.ParseExpand("blogs", eb))
	plan, err := projection.Build(reg, userType, clause.StarSelect(userType), eb.Build())
	require.NoError(t, err)

	logs.Reset()
	users, err := queryable.ToSlice[*sample.User](context.Background(), userSource(t, s).Select(plan).Take(1))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Len(t, users[0].Blogs, 5)
	assert.Nil(t, users[0].Pets)
	assert.Nil(t, users[0].Manager)
	assert.Equal(t, "London", users[0].Address.City)

	assert.Contains(t, logs.String(), `\"blogs\"`)
	assert.NotContains(t, logs.String(), `\"pets\"`)
	assert.NotContains(t, logs.String(), `\"manager\"`)
}

func TestSource_LogsMemoryFallback(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := createTestStore(t, WithLogger(logger))
	reg := sample.NewRegistry()

	f, err := clause.NewParser(reg, binder.New(reg)).ParseFilter("tolower(firstName) eq 'ada'", userType)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, ids(t, userSource(t, s).Where(f)))
	assert.Contains(t, logs.String(), "filter evaluated in memory")
}

func TestSource_Immutable(t *testing.T) {
	s := createTestStore(t)
	base := userSource(t, s).Take(5)
	_ = base.Skip(2)
	_ = base.Take(1)
	assert.Equal(t, []int32{1, 2, 3, 4, 5}, ids(t, base))
}

func TestSource_Canceled(t *testing.T) {
	s := createTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := userSource(t, s).Materialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = userSource(t, s).Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
