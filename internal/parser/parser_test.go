package parser

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/binder"
	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/syntax"
)

type perm uint8

func (p *perm) UnmarshalText(b []byte) error {
	switch string(b) {
	case "read":
		*p = 1
	case "write":
		*p = 2
	default:
		return fmt.Errorf("unknown permission %q", b)
	}
	return nil
}

type account struct {
	Name string `json:"name"`
}

type person struct {
	ID      int32
	Name    string
	Score   float64
	Age     *int16
	Tags    []string
	Born    time.Time
	Key     uuid.UUID
	Perm    perm
	Account *account
}

var personType = reflect.TypeOf(person{})

func parse(t *testing.T, input string) *expr.Lambda {
	t.Helper()
	l, err := Parse(input, binder.New(meta.NewRegistry()), personType)
	require.NoError(t, err)
	return l
}

func match(t *testing.T, input string, p person) bool {
	t.Helper()
	pred, err := expr.CompilePredicate(parse(t, input))
	require.NoError(t, err)
	ok, err := pred(reflect.ValueOf(p))
	require.NoError(t, err)
	return ok
}

func eval(t *testing.T, input string) reflect.Value {
	t.Helper()
	sel, err := expr.CompileSelector(parse(t, input))
	require.NoError(t, err)
	v, err := sel(reflect.ValueOf(person{}))
	require.NoError(t, err)
	return v
}

func TestParse_Comparison(t *testing.T) {
	l := parse(t, "id le 5")
	assert.Equal(t, "(ID le 5)", expr.String(l.Body))
	assert.Equal(t, expr.BoolType, l.Body.Type())

	assert.True(t, match(t, "ID le 5", person{ID: 5}))
	assert.False(t, match(t, "ID le 5", person{ID: 6}))
}

func TestParse_Precedence(t *testing.T) {
	l := parse(t, "ID eq 1 or ID eq 2 and Name eq 'x'")
	assert.Equal(t, "((ID eq 1) or ((ID eq 2) and (Name eq 'x')))", expr.String(l.Body))

	l = parse(t, "(ID eq 1 or ID eq 2) and Name eq 'x'")
	assert.Equal(t, "(((ID eq 1) or (ID eq 2)) and (Name eq 'x'))", expr.String(l.Body))

	l = parse(t, "ID add 2 mul 3 eq 7")
	assert.Equal(t, "((ID add (2 mul 3)) eq 7)", expr.String(l.Body))
}

func TestParse_NumericPromotion(t *testing.T) {
	l := parse(t, "Score gt 1")
	b := l.Body.(*expr.Binary)
	assert.Equal(t, expr.Float64Type, b.Right.Type())

	l = parse(t, "ID lt 5000000000")
	b = l.Body.(*expr.Binary)
	assert.Equal(t, expr.Int64Type, b.Left.Type(), "int32 member widens to the long literal")

	assert.True(t, match(t, "Score ge 1.5", person{Score: 1.5}))
}

func TestParse_Concat(t *testing.T) {
	l := parse(t, "concat('A','B')")
	call, ok := l.Body.(*expr.Call)
	require.True(t, ok)
	assert.Equal(t, expr.StringType, call.Type())
	assert.Equal(t, "AB", eval(t, "concat('A','B')").Interface())

	l = parse(t, "concat([1,2],[3,4])")
	assert.Equal(t, reflect.TypeOf([]int32{}), l.Body.Type())
	assert.Equal(t, []int32{1, 2, 3, 4}, eval(t, "concat([1,2],[3,4])").Interface())
}

func TestParse_StringFunctions(t *testing.T) {
	p := person{Name: "  Match1  "}
	testCases := []struct {
		input string
		want  bool
	}{
		{"startswith(trim(Name), 'Match')", true},
		{"endswith(trim(Name), '1')", true},
		{"contains(Name, 'atch')", true},
		{"indexof(Name, 'M') eq 2", true},
		{"length(trim(Name)) eq 6", true},
		{"substring(trim(Name), 1) eq 'atch1'", true},
		{"substring(trim(Name), 1, 2) eq 'at'", true},
		{"tolower(trim(Name)) eq 'match1'", true},
		{"toupper(trim(Name)) eq 'MATCH1'", true},
		{"startswith(Name, 'x')", false},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, match(t, tc.input, p))
		})
	}
}

func TestParse_DateFunctions(t *testing.T) {
	born := time.Date(1990, 7, 4, 13, 45, 30, 500_000_000, time.FixedZone("", 2*3600))
	p := person{Born: born}
	testCases := []string{
		"year(Born) eq 1990",
		"month(Born) eq 7",
		"day(Born) eq 4",
		"hour(Born) eq 13",
		"minute(Born) eq 45",
		"second(Born) eq 30",
		"fractionalseconds(Born) eq 0.5",
		"totaloffsetminutes(Born) eq 120",
		"Born gt 1990-07-04T00:00:00Z",
		"Born lt now()",
		"Born gt mindatetime() and Born lt maxdatetime()",
		"date(Born) eq 1990-07-04T00:00:00+02:00",
	}
	for _, input := range testCases {
		t.Run(input, func(t *testing.T) {
			assert.True(t, match(t, input, p))
		})
	}
}

func TestParse_In(t *testing.T) {
	assert.True(t, match(t, "ID in [1, 2, 3]", person{ID: 2}))
	assert.False(t, match(t, "ID in [1, 2, 3]", person{ID: 4}))
	assert.True(t, match(t, "'b' in Tags", person{Tags: []string{"a", "b"}}))
	assert.True(t, match(t, "contains(Tags, 'a')", person{Tags: []string{"a"}}))
}

func TestParse_NullableArrays(t *testing.T) {
	age := int16(30)
	young := int16(5)

	assert.False(t, match(t, "contains([Age], 30)", person{}))
	assert.True(t, match(t, "contains([Age], 30)", person{Age: &age}))
	assert.Equal(t, []*int16{nil, nil}, eval(t, "[Age, null]").Interface())

	assert.True(t, match(t, "Age in [30, null]", person{Age: &age}))
	assert.False(t, match(t, "Age in [30, null]", person{Age: &young}))
	assert.False(t, match(t, "Age in [30, null]", person{}))

	_, err := Parse("ID in [1, null]", binder.New(meta.NewRegistry()), personType)
	require.Error(t, err)
	assert.True(t, syntax.IsBindError(err))
}

func TestParse_Has(t *testing.T) {
	assert.True(t, match(t, "Perm has 2", person{Perm: 3}))
	assert.True(t, match(t, "Perm has 'write'", person{Perm: 2}))
	assert.False(t, match(t, "Perm has 'write'", person{Perm: 1}))
}

func TestParse_NullAndNot(t *testing.T) {
	age := int16(30)
	assert.True(t, match(t, "Age eq null", person{}))
	assert.True(t, match(t, "Age ne null", person{Age: &age}))
	assert.True(t, match(t, "Age gt 18", person{Age: &age}))
	assert.False(t, match(t, "Age gt 18", person{}))
	assert.True(t, match(t, "not (ID eq 1)", person{ID: 2}))
	assert.True(t, match(t, "Account/name eq 'acme'", person{Account: &account{Name: "acme"}}))
	assert.False(t, match(t, "Account/name eq 'acme'", person{}))
}

func TestParse_Literals(t *testing.T) {
	key := uuid.MustParse("8e7a4ef4-1d5f-4a46-9f57-4b5e0f2e8c11")
	assert.True(t, match(t, "Key eq 8e7a4ef4-1d5f-4a46-9f57-4b5e0f2e8c11", person{Key: key}))
	assert.True(t, match(t, "ID eq -3", person{ID: -3}))
	assert.True(t, match(t, "-ID eq 3", person{ID: -3}))
	assert.True(t, match(t, "true", person{}))
}

func TestParse_ContextStack(t *testing.T) {
	b := binder.New(meta.NewRegistry())
	outer := expr.NewParameter(ItName, personType)
	p, err := New("name", b, outer)
	require.NoError(t, err)

	inner := expr.NewParameter("a", reflect.TypeOf(account{}))
	p.PushContext(inner)
	e, err := p.ParseExpression()
	require.NoError(t, err)
	m := e.(*expr.Member)
	assert.Same(t, inner, m.Target)

	p.PopContext()
	assert.Same(t, outer, p.Context())
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		check func(error) bool
		pos   int
	}{
		{"unknown member", "Foo eq 1", syntax.IsBindError, 3},
		{"missing close paren", "(ID le 5", syntax.IsSyntaxError, 8},
		{"missing operand", "ID le", syntax.IsSyntaxError, 5},
		{"trailing tokens", "ID le 5 5", syntax.IsSyntaxError, 9},
		{"unknown function", "frob(Name)", syntax.IsBindError, 4},
		{"wrong arity", "startswith(Name)", syntax.IsBindError, 10},
		{"cast is unsupported", "cast(ID, 'Edm.String')", syntax.IsBindError, 4},
		{"incompatible types", "Name eq 1", syntax.IsBindError, 7},
		{"unterminated string", "Name eq 'abc", syntax.IsLexicalError, 12},
		{"logical on non-boolean", "ID and true", syntax.IsBindError, 6},
		{"null ordering", "Age gt null", syntax.IsBindError, 6},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input, binder.New(meta.NewRegistry()), personType)
			require.Error(t, err)
			assert.True(t, tc.check(err), "unexpected error kind: %v", err)
			pos, ok := syntax.Position(err)
			require.True(t, ok)
			assert.Equal(t, tc.pos, pos)
		})
	}
}
