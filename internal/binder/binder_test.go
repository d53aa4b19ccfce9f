package binder

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/meta"
	"github.com/roach88/shapeq/internal/syntax"
)

type owner struct {
	Name string
}

type item struct {
	Title string `json:"title"`
	Count int32
	Owner *owner
}

func newItem() *expr.Parameter {
	return expr.NewParameter("it", reflect.TypeOf(item{}))
}

func TestBindMember(t *testing.T) {
	b := New(meta.NewRegistry())

	for _, name := range []string{"title", "TITLE", "Title"} {
		e, err := b.BindMember(newItem(), name)
		require.NoError(t, err, name)
		m := e.(*expr.Member)
		assert.Equal(t, "title", m.Name)
		assert.Equal(t, "Title", m.Field)
		assert.Equal(t, expr.StringType, m.Typ)
	}

	owner, err := b.BindMember(newItem(), "owner")
	require.NoError(t, err)
	name, err := b.BindMember(owner, "name")
	require.NoError(t, err)
	assert.Equal(t, expr.StringType, name.Type())
}

func TestBindMember_Errors(t *testing.T) {
	b := New(meta.NewRegistry())

	_, err := b.BindMember(newItem(), "missing")
	require.Error(t, err)
	assert.True(t, syntax.IsBindError(err))
	assert.Contains(t, err.Error(), `has no member "missing"`)

	title, err := b.BindMember(newItem(), "title")
	require.NoError(t, err)
	_, err = b.BindMember(title, "length")
	require.Error(t, err)
	assert.True(t, syntax.IsBindError(err))
}

func TestBindCall(t *testing.T) {
	b := New(meta.NewRegistry())
	s := expr.NewConstant("abc")

	tests := []struct {
		name string
		args []expr.Expr
		want reflect.Type
	}{
		{"tolower", []expr.Expr{s}, expr.StringType},
		{"LENGTH", []expr.Expr{s}, expr.Int32Type},
		{"startswith", []expr.Expr{s, s}, expr.BoolType},
		{"substring", []expr.Expr{s, expr.NewConstant(int32(1))}, expr.StringType},
		{"substring", []expr.Expr{s, expr.NewConstant(int32(1)), expr.NewConstant(int32(1))}, expr.StringType},
		{"concat", []expr.Expr{s, s}, expr.StringType},
		{"now", nil, expr.TimeType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := b.BindCall(tt.name, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.Type())
		})
	}
}

func TestBindCall_Errors(t *testing.T) {
	b := New(meta.NewRegistry())
	s := expr.NewConstant("abc")

	tests := []struct {
		name string
		args []expr.Expr
		want string
	}{
		{"nope", []expr.Expr{s}, `unknown function "nope"`},
		{"tolower", []expr.Expr{s, s}, "does not take 2 argument(s)"},
		{"tolower", []expr.Expr{expr.NewConstant(int32(1))}, "does not accept arguments of type"},
		{"cast", []expr.Expr{s}, "function cast is not supported"},
		{"isof", []expr.Expr{s}, "function isof is not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			_, err := b.BindCall(tt.name, tt.args)
			require.Error(t, err)
			assert.True(t, syntax.IsBindError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegister(t *testing.T) {
	b := New(meta.NewRegistry())
	b.Register("Double", Overload{
		Arity: 1,
		Match: all(isInteger),
		Build: func(args []expr.Expr) (expr.Expr, error) {
			return call("double", expr.Int32Type, func(vals []reflect.Value) (reflect.Value, error) {
				return reflect.ValueOf(int32(vals[0].Int() * 2)), nil
			}, args), nil
		},
	})

	e, err := b.BindCall("double", []expr.Expr{expr.NewConstant(int32(21))})
	require.NoError(t, err)
	c := e.(*expr.Call)
	v, err := c.Func.Impl([]reflect.Value{reflect.ValueOf(int32(21))})
	require.NoError(t, err)
	assert.Equal(t, int32(42), v.Interface())
}
