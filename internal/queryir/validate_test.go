package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestValidate_ValidQueries(t *testing.T) {
	sel := Select{
		From:    "User",
		Columns: []string{"id", "firstName"},
		Filter: And{Predicates: []Predicate{
			Compare{Op: Le, Left: Column{Name: "id"}, Right: Param{Value: int64(5)}},
			Not{Predicate: IsNull{Operand: Column{Name: "email"}}},
			Match{Kind: StartsWith, Subject: Column{Name: "firstName"}, Pattern: "A"},
			In{Operand: Column{Name: "id"}, Values: []any{int64(1), int64(2)}},
			HasFlags{Operand: Column{Name: "role"}, Mask: 4},
		}},
		OrderBy: []OrderKey{
			{Key: Length{Operand: Column{Name: "username"}}, Descending: true},
			{Key: Arith{Op: Add, Left: Column{Name: "score"}, Right: Param{Value: 1.5}}},
		},
		Limit:  intPtr(3),
		Offset: intPtr(1),
	}

	testCases := []struct {
		name  string
		query Query
	}{
		{"select", sel},
		{"select pointer", &sel},
		{"count", Count{Source: Select{From: "User"}}},
		{"count pointer", &Count{Source: sel}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Validate(tc.query)
			assert.True(t, result.IsValid)
			assert.Empty(t, result.Warnings)
			assert.NoError(t, result.Error())
		})
	}
}

func TestValidate_Problems(t *testing.T) {
	testCases := []struct {
		name    string
		query   Query
		warning string
	}{
		{"nil query", nil, "nil query"},
		{"no table", Select{Columns: []string{"id"}}, "select has no table"},
		{"no columns", Select{From: "User"}, `select of "User" reads no columns`},
		{"blank column", Select{From: "User", Columns: []string{""}}, "column 0 has no name"},
		{"negative limit", Select{From: "User", Columns: []string{"id"}, Limit: intPtr(-1)}, "negative limit -1"},
		{"negative offset", Count{Source: Select{From: "User", Offset: intPtr(-2)}}, "negative offset -2"},
		{"nil operand", Count{Source: Select{From: "User", Filter: Truth{}}}, "nil operand"},
		{"unnamed column", Count{Source: Select{From: "User", Filter: IsNull{Operand: Column{}}}}, "column reference has no name"},
		{"raw int parameter", Count{Source: Select{From: "User",
			Filter: Compare{Op: Eq, Left: Column{Name: "id"}, Right: Param{Value: 5}}}}, "parameter of type int is not a storage value"},
		{"bad operator", Count{Source: Select{From: "User",
			Filter: Compare{Left: Column{Name: "id"}, Right: Param{}}}}, "unknown comparison operator 0"},
		{"bad order key", Count{Source: Select{From: "User",
			OrderBy: []OrderKey{{Key: Negate{}}}}}, "nil operand"},
		{"nil inside and", Count{Source: Select{From: "User",
			Filter: And{Predicates: []Predicate{nil}}}}, "nil predicate"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := Validate(tc.query)
			assert.False(t, result.IsValid)
			require.NotEmpty(t, result.Warnings)
			assert.Equal(t, tc.warning, result.Warnings[0])
			assert.ErrorContains(t, result.Error(), tc.warning)
		})
	}
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	result := Validate(Select{
		Filter: Or{Predicates: []Predicate{
			Truth{},
			In{Operand: Column{Name: "id"}, Values: []any{uint8(1)}},
		}},
	})
	assert.Equal(t, []string{
		"select has no table",
		`select of "" reads no columns`,
		"nil operand",
		"parameter of type uint8 is not a storage value",
	}, result.Warnings)
}

func TestCompareOp(t *testing.T) {
	assert.Equal(t, "le", Le.String())
	assert.True(t, Gt.IsOrdering())
	assert.False(t, Ne.IsOrdering())
	assert.Equal(t, "endswith", EndsWith.String())
	assert.Equal(t, "mul", Mul.String())
}
