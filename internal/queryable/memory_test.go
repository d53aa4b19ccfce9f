package queryable

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/meta"
)

type person struct {
	ID        int32  `json:"id"`
	FirstName string `json:"firstName"`
	Username  string `json:"username"`
}

var personType = reflect.TypeOf(&person{})

func people() []*person {
	return []*person{
		{ID: 1, FirstName: "b", Username: "z"},
		{ID: 2, FirstName: "a", Username: "y"},
		{ID: 3, FirstName: "b", Username: "x"},
		{ID: 4, FirstName: "a", Username: "w"},
	}
}

func clauses() *clause.Parser {
	reg := meta.NewRegistry()
	return clause.NewParser(reg, binder.New(reg))
}

func filter(t *testing.T, input string) *clause.FilterClause {
	t.Helper()
	f, err := clauses().ParseFilter(input, personType)
	require.NoError(t, err)
	return f
}

func orderBy(t *testing.T, input string) []*clause.OrderByClause {
	t.Helper()
	list, err := clauses().ParseOrderBy(input, personType)
	require.NoError(t, err)
	return list
}

func ids(items []*person) []int32 {
	out := make([]int32, len(items))
	for i, p := range items {
		out[i] = p.ID
	}
	return out
}

// renamer upper-cases names and counts the items it sees.
type renamer struct{ calls int }

func (r *renamer) Reshape(_ context.Context, item reflect.Value) (reflect.Value, error) {
	r.calls++
	p := *item.Interface().(*person)
	p.FirstName = "<" + p.FirstName + ">"
	return reflect.ValueOf(&p), nil
}

func TestMemory_Chain(t *testing.T) {
	ctx := context.Background()
	src := From(people())
	assert.Equal(t, personType, src.ElemType())

	testCases := []struct {
		name  string
		build func(Source) Source
		want  []int32
	}{
		{"identity", func(s Source) Source { return s }, []int32{1, 2, 3, 4}},
		{"where", func(s Source) Source { return s.Where(filter(t, "id gt 2")) }, []int32{3, 4}},
		{"order with ties", func(s Source) Source { return s.OrderBy(orderBy(t, "firstName")) }, []int32{2, 4, 1, 3}},
		{"then by", func(s Source) Source { return s.OrderBy(orderBy(t, "firstName, username")) }, []int32{4, 2, 3, 1}},
		{"descending", func(s Source) Source { return s.OrderBy(orderBy(t, "id desc")) }, []int32{4, 3, 2, 1}},
		{"skip and take", func(s Source) Source { return s.Skip(1).Take(2) }, []int32{2, 3}},
		{"skip past end", func(s Source) Source { return s.Skip(9) }, []int32{}},
		{"take zero", func(s Source) Source { return s.Take(0) }, []int32{}},
		{"filter then page", func(s Source) Source {
			return s.Where(filter(t, "firstName eq 'b'")).OrderBy(orderBy(t, "username")).Take(1)
		}, []int32{3}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			items, err := ToSlice[*person](ctx, tc.build(src))
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(items))
		})
	}
}

func TestMemory_IsImmutable(t *testing.T) {
	ctx := context.Background()
	base := From(people())
	_ = base.Where(filter(t, "id eq 1")).Take(1)

	n, err := base.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestMemory_CountIgnoresLaterPaging(t *testing.T) {
	ctx := context.Background()
	filtered := From(people()).Where(filter(t, "id le 3"))

	n, err := filtered.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = filtered.Skip(1).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemory_SelectReshapesSurvivorsOnly(t *testing.T) {
	ctx := context.Background()
	r := &renamer{}
	src := From(people()).Select(r).Where(filter(t, "firstName eq 'a'")).OrderBy(orderBy(t, "username"))

	items, err := ToSlice[*person](ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 2}, ids(items))
	assert.Equal(t, "<a>", items[0].FirstName)
	assert.Equal(t, 2, r.calls, "filtered items are not reshaped")
}

func TestFirst(t *testing.T) {
	ctx := context.Background()
	p, ok, err := First[*person](ctx, From(people()).OrderBy(orderBy(t, "id desc")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(4), p.ID)

	_, ok, err = First[*person](ctx, From(people()).Where(filter(t, "id gt 10")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestToSlice_WrongType(t *testing.T) {
	_, err := ToSlice[person](context.Background(), From(people()))
	assert.Error(t, err)
}

func TestMemory_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := From(people()).Where(filter(t, "id gt 1")).Materialize(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = From(people()).Count(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_ArraySource(t *testing.T) {
	arr := [3]int32{3, 1, 2}
	v, err := FromValue(reflect.ValueOf(arr)).Skip(1).Materialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, v.Interface())
}

func TestSort_StableWithNullKeys(t *testing.T) {
	type row struct {
		N *int32 `json:"n"`
	}
	one, two := int32(1), int32(2)
	rows := []*row{{N: &two}, {N: nil}, {N: &one}, {N: nil}}
	reg := meta.NewRegistry()
	keys, err := clause.NewParser(reg, binder.New(reg)).ParseOrderBy("n", reflect.TypeOf(&row{}))
	require.NoError(t, err)

	items, err := ToSlice[*row](context.Background(), From(rows).OrderBy(keys))
	require.NoError(t, err)
	assert.Same(t, rows[1], items[0], "null sorts first")
	assert.Same(t, rows[3], items[1])
	assert.Same(t, rows[2], items[2])
	assert.Same(t, rows[0], items[3])
}
