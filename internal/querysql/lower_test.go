package querysql

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/clause"
	"github.com/roach88/shapeq/internal/queryir"
	"github.com/roach88/shapeq/internal/sample"
)

var userType = reflect.TypeOf(&sample.User{})

func newLowerer() *Lowerer {
	return NewLowerer(func(name string) (string, bool) {
		switch name {
		case "tags", "address", "blogs", "pets", "manager":
			return "", false
		}
		return name, true
	})
}

func parser() *clause.Parser {
	reg := sample.NewRegistry()
	return clause.NewParser(reg, binder.New(reg))
}

// where lowers filter and compiles it, returning the WHERE text.
func where(t *testing.T, filter string) (string, []any, error) {
	t.Helper()
	f, err := parser().ParseFilter(filter, userType)
	require.NoError(t, err)
	pred, err := newLowerer().Filter(f)
	if err != nil {
		return "", nil, err
	}
	sql, params, err := NewSQLCompiler().Compile(queryir.Count{Source: queryir.Select{From: "User", Filter: pred}})
	require.NoError(t, err)
	const prefix = `SELECT COUNT(*) FROM (SELECT 1 FROM "User" WHERE `
	const suffix = ` ORDER BY rowid ASC)`
	require.True(t, len(sql) > len(prefix)+len(suffix), sql)
	return sql[len(prefix) : len(sql)-len(suffix)], params, nil
}

func TestLowerer_Filter(t *testing.T) {
	testCases := []struct {
		filter string
		where  string
		params []any
	}{
		{"id le 5", `(("id" <= ?) IS TRUE)`, []any{int64(5)}},
		{"firstName eq 'Alan'", `("firstName" IS ?)`, []any{"Alan"}},
		{"email eq null", `("email" IS NULL)`, nil},
		{"null ne email", `(NOT ("email" IS NULL))`, nil},
		{"score ge 90 and id ne 3", `((("score" >= ?) IS TRUE) AND ("id" IS NOT ?))`, []any{90.0, int64(3)}},
		{"id eq 1 or id eq 2", `(("id" IS ?) OR ("id" IS ?))`, []any{int64(1), int64(2)}},
		{"role has 4", `((("role" & ?) = ?) IS TRUE)`, []any{int64(4), int64(4)}},
		{"role has 'Admin'", `((("role" & ?) = ?) IS TRUE)`, []any{int64(4), int64(4)}},
		{"id in [1, 2]", `(("id" IN (?, ?)) IS TRUE)`, []any{int64(1), int64(2)}},
		{"startswith(username, 'gr')", `("username" IS NOT NULL AND substr("username", 1, length(?)) = ?)`, []any{"gr", "gr"}},
		{"contains(email, '@')", `("email" IS NOT NULL AND instr("email", ?) > 0)`, []any{"@"}},
		{"joined lt 2022-01-01T00:00:00Z", `(("joined" < ?) IS TRUE)`, []any{"2022-01-01T00:00:00.000000000Z"}},
		{"key eq 1b2c3d4e-5f60-4718-9a2b-3c4d5e6f7081", `("key" IS ?)`, []any{"1b2c3d4e-5f60-4718-9a2b-3c4d5e6f7081"}},
		{"-score lt -95", `(((-"score") < ?) IS TRUE)`, []any{-95.0}},
		{"true", `1`, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.filter, func(t *testing.T) {
			got, params, err := where(t, tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.where, got)
			if tc.params == nil {
				assert.Empty(t, params)
			} else {
				assert.Equal(t, tc.params, params)
			}
		})
	}
}

func TestLowerer_Arithmetic(t *testing.T) {
	got, params, err := where(t, "score add 1 gt 4")
	require.NoError(t, err)
	assert.Equal(t, `((("score" + ?) > ?) IS TRUE)`, got)
	assert.Equal(t, []any{1.0, 4.0}, params)

	got, _, err = where(t, "score mul 2 sub 1 le 100")
	require.NoError(t, err)
	assert.Equal(t, `(((("score" * ?) - ?) <= ?) IS TRUE)`, got)
}

func TestLowerer_IntegerArithmeticStaysInMemory(t *testing.T) {
	for _, filter := range []string{
		"id add 2147483647 gt 0",
		"id mul 2147483647 gt 0",
		"length(firstName) sub 1 gt 4",
		"-id lt -8",
	} {
		t.Run(filter, func(t *testing.T) {
			_, _, err := where(t, filter)
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestLowerer_NotExcludesNullOperands(t *testing.T) {
	got, params, err := where(t, "not endswith(email, '.org')")
	require.NoError(t, err)
	assert.Equal(t, `((NOT ("email" IS NULL)) AND (NOT ("email" IS NOT NULL AND `+
		`(length(?) = 0 OR substr("email", -length(?)) = ?))))`, got)
	assert.Equal(t, []any{".org", ".org", ".org"}, params)

	got, _, err = where(t, "not (id gt 3)")
	require.NoError(t, err)
	assert.Equal(t, `(NOT (("id" > ?) IS TRUE))`, got)

	got, _, err = where(t, "not (id in [1, 2])")
	require.NoError(t, err)
	assert.Equal(t, `((NOT ("id" IS NULL)) AND (NOT (("id" IN (?, ?)) IS TRUE)))`, got)
}

func TestLowerer_Unsupported(t *testing.T) {
	testCases := []string{
		"address/city eq 'Oslo'",
		"manager/id eq 1",
		"tolower(firstName) eq 'ada'",
		"id div 2 eq 1",
		"id mod 2 eq 0",
		"contains(tags, 'x')",
		"year(joined) eq 2021",
	}
	for _, filter := range testCases {
		t.Run(filter, func(t *testing.T) {
			_, _, err := where(t, filter)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestLowerer_OrderBy(t *testing.T) {
	keys, err := parser().ParseOrderBy("firstName, score desc, length(username)", userType)
	require.NoError(t, err)

	got, err := newLowerer().OrderBy(keys)
	require.NoError(t, err)
	assert.Equal(t, []queryir.OrderKey{
		{Key: col("firstName")},
		{Key: col("score"), Descending: true},
		{Key: queryir.Length{Operand: col("username")}},
	}, got)

	keys, err = parser().ParseOrderBy("address/city", userType)
	require.NoError(t, err)
	_, err = newLowerer().OrderBy(keys)
	assert.ErrorIs(t, err, ErrUnsupported)
}
