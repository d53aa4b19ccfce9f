package expr

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	ID    int32
	Score float64
	Name  string
	Age   *int16
}

func TestPromoteTypes_NeverNarrows(t *testing.T) {
	testCases := []struct {
		name string
		a, b reflect.Type
		want reflect.Type
	}{
		{"int32 and int64", Int32Type, Int64Type, Int64Type},
		{"int64 and int32", Int64Type, Int32Type, Int64Type},
		{"float32 and float64", Float32Type, Float64Type, Float64Type},
		{"int32 and float32", Int32Type, Float32Type, Float32Type},
		{"uint8 and int16", reflect.TypeOf(uint8(0)), reflect.TypeOf(int16(0)), reflect.TypeOf(int16(0))},
		{"int32 and uint32 meet at int64", Int32Type, reflect.TypeOf(uint32(0)), Int64Type},
		{"int8 and uint8 meet at int16", reflect.TypeOf(int8(0)), reflect.TypeOf(uint8(0)), reflect.TypeOf(int16(0))},
		{"platform int ranks as int64", reflect.TypeOf(0), Int32Type, reflect.TypeOf(0)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PromoteTypes(tc.a, tc.b)
			require.True(t, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPromoteTypes_NonNumeric(t *testing.T) {
	_, ok := PromoteTypes(StringType, Int32Type)
	assert.False(t, ok)
}

func TestPromote_WidensNarrowerOperand(t *testing.T) {
	l := NewConstant(int32(1))
	r := NewConstant(int64(2))

	pl, pr, err := Promote(l, r)
	require.NoError(t, err)
	assert.Equal(t, Int64Type, pl.Type())
	assert.Equal(t, Int64Type, pr.Type())
}

func TestPromote_FloatLiteralKeepsDecimalValue(t *testing.T) {
	p := NewParameter("$it", reflect.TypeOf(row{}))
	score := &Member{Target: p, Name: "Score", Field: "Score", Index: []int{1}, Typ: Float64Type}
	lit := &Constant{Value: float32(1.1), Typ: Float32Type, Text: "1.1"}

	_, r, err := Promote(score, lit)
	require.NoError(t, err)
	c, ok := r.(*Constant)
	require.True(t, ok)
	assert.Equal(t, 1.1, c.Value)
}

func TestPromote_Incompatible(t *testing.T) {
	_, _, err := Promote(NewConstant("a"), NewConstant(int32(1)))
	require.Error(t, err)
}

func TestPromoteAll(t *testing.T) {
	items, elem := PromoteAll([]Expr{NewConstant(int32(1)), NewConstant(int32(2))})
	assert.Equal(t, Int32Type, elem)
	assert.Len(t, items, 2)

	_, elem = PromoteAll([]Expr{NewConstant(int64(1)), NewConstant(int32(2))})
	assert.Equal(t, Int64Type, elem)

	_, elem = PromoteAll([]Expr{NewConstant(int32(1)), NewConstant("x")})
	assert.Equal(t, AnyType, elem)
}

func evalPredicate(t *testing.T, body Expr, p *Parameter, item any) bool {
	t.Helper()
	pred, err := CompilePredicate(NewLambda(p, body))
	require.NoError(t, err)
	ok, err := pred(reflect.ValueOf(item))
	require.NoError(t, err)
	return ok
}

func TestCompile_ComparisonAndLogic(t *testing.T) {
	p := NewParameter("$it", reflect.TypeOf(row{}))
	id := &Member{Target: p, Name: "ID", Field: "ID", Index: []int{0}, Typ: Int32Type}
	name := &Member{Target: p, Name: "Name", Field: "Name", Index: []int{2}, Typ: StringType}

	body := &Binary{
		Op:    OpAnd,
		Left:  &Binary{Op: OpLe, Left: id, Right: NewConstant(int32(5))},
		Right: &Binary{Op: OpNe, Left: name, Right: NewConstant("x")},
	}

	assert.True(t, evalPredicate(t, body, p, row{ID: 3, Name: "a"}))
	assert.False(t, evalPredicate(t, body, p, row{ID: 6, Name: "a"}))
	assert.False(t, evalPredicate(t, body, p, row{ID: 3, Name: "x"}))
}

func TestCompile_NullPointerMember(t *testing.T) {
	p := NewParameter("$it", reflect.TypeOf(row{}))
	age := &Member{Target: p, Name: "Age", Field: "Age", Index: []int{3}, Typ: reflect.TypeOf((*int16)(nil))}

	isNull := &Binary{Op: OpEq, Left: age, Right: NewConstant(nil)}
	assert.True(t, evalPredicate(t, isNull, p, row{}))

	lit, err := ConvertTo(NewConstant(int32(10)), Int32Type)
	require.NoError(t, err)
	widened, err := ConvertTo(age, Int32Type)
	require.NoError(t, err)
	gt := &Binary{Op: OpGt, Left: widened, Right: lit}
	assert.False(t, evalPredicate(t, gt, p, row{}), "null never satisfies an ordering comparison")

	n := int16(12)
	assert.True(t, evalPredicate(t, gt, p, row{Age: &n}))
}

func TestCompile_Arithmetic(t *testing.T) {
	testCases := []struct {
		op   BinaryOp
		l, r int64
		want int64
	}{
		{OpAdd, 7, 2, 9},
		{OpSub, 7, 2, 5},
		{OpMul, 7, 2, 14},
		{OpDiv, 7, 2, 3},
		{OpMod, 7, 2, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.op.String(), func(t *testing.T) {
			ev, err := Compile(&Binary{Op: tc.op, Left: NewConstant(tc.l), Right: NewConstant(tc.r)})
			require.NoError(t, err)
			v, err := ev(nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, v.Int())
		})
	}

	ev, err := Compile(&Binary{Op: OpDiv, Left: NewConstant(int64(1)), Right: NewConstant(int64(0))})
	require.NoError(t, err)
	_, err = ev(nil)
	assert.ErrorIs(t, err, ErrDivideByZero)
}

func TestCompile_NewArray(t *testing.T) {
	items, elem := PromoteAll([]Expr{NewConstant(int32(1)), NewConstant(int32(2))})
	ev, err := Compile(&NewArray{Elem: elem, Items: items})
	require.NoError(t, err)

	v, err := ev(nil)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, v.Interface())
}

func TestCompare_OrdersNullFirst(t *testing.T) {
	c, err := Compare(reflect.Value{}, reflect.ValueOf(1))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c, err = Compare(reflect.ValueOf(a), reflect.ValueOf(a.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(reflect.ValueOf("b"), reflect.ValueOf("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, c)
}

func TestString(t *testing.T) {
	p := NewParameter("$it", reflect.TypeOf(row{}))
	id := &Member{Target: p, Name: "ID", Field: "ID", Index: []int{0}, Typ: Int32Type}
	body := &Binary{Op: OpLe, Left: id, Right: &Constant{Value: int32(5), Typ: Int32Type, Text: "5"}}

	assert.Equal(t, "(ID le 5)", String(body))
}
