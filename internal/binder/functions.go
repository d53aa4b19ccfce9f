package binder

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/roach88/shapeq/internal/expr"
	"github.com/roach88/shapeq/internal/syntax"
)

// MaxDateTime is the value of maxdatetime().
var MaxDateTime = time.Date(9999, 12, 31, 23, 59, 59, 999999900, time.UTC)

// MinDateTime is the value of mindatetime().
var MinDateTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)

func isString(e expr.Expr) bool {
	return expr.Deref(e.Type()) == expr.StringType || e.Type() == expr.NullType
}

func isTime(e expr.Expr) bool {
	return expr.Deref(e.Type()) == expr.TimeType || e.Type() == expr.NullType
}

func isInteger(e expr.Expr) bool {
	return expr.IsInteger(e.Type())
}

func isSequence(e expr.Expr) bool {
	_, ok := expr.SequenceElem(e.Type())
	return ok
}

func all(preds ...func(expr.Expr) bool) func([]expr.Expr) bool {
	return func(args []expr.Expr) bool {
		for i, p := range preds {
			if !p(args[i]) {
				return false
			}
		}
		return true
	}
}

func call(name string, result reflect.Type, impl func([]reflect.Value) (reflect.Value, error), args []expr.Expr) *expr.Call {
	return &expr.Call{
		Func: &expr.Function{Name: name, Result: result, Impl: impl},
		Args: args,
	}
}

func intArg(v reflect.Value) int {
	switch {
	case v.CanInt():
		return int(v.Int())
	case v.CanUint():
		return int(v.Uint())
	}
	return 0
}

// stringFunc registers a function over string arguments only.
func stringFunc(b *Default, name string, arity int, result reflect.Type, fn func(s []string) reflect.Value) {
	preds := make([]func(expr.Expr) bool, arity)
	for i := range preds {
		preds[i] = isString
	}
	b.Register(name, Overload{
		Arity: arity,
		Match: all(preds...),
		Build: func(args []expr.Expr) (expr.Expr, error) {
			return call(name, result, func(vals []reflect.Value) (reflect.Value, error) {
				s := make([]string, len(vals))
				for i, v := range vals {
					s[i] = v.String()
				}
				return fn(s), nil
			}, args), nil
		},
	})
}

func registerStringFunctions(b *Default) {
	stringFunc(b, "concat", 2, expr.StringType, func(s []string) reflect.Value {
		return reflect.ValueOf(s[0] + s[1])
	})
	stringFunc(b, "contains", 2, expr.BoolType, func(s []string) reflect.Value {
		return reflect.ValueOf(strings.Contains(s[0], s[1]))
	})
	stringFunc(b, "endswith", 2, expr.BoolType, func(s []string) reflect.Value {
		return reflect.ValueOf(strings.HasSuffix(s[0], s[1]))
	})
	stringFunc(b, "startswith", 2, expr.BoolType, func(s []string) reflect.Value {
		return reflect.ValueOf(strings.HasPrefix(s[0], s[1]))
	})
	stringFunc(b, "indexof", 2, expr.Int32Type, func(s []string) reflect.Value {
		i := strings.Index(s[0], s[1])
		if i > 0 {
			i = utf8.RuneCountInString(s[0][:i])
		}
		return reflect.ValueOf(int32(i))
	})
	stringFunc(b, "length", 1, expr.Int32Type, func(s []string) reflect.Value {
		return reflect.ValueOf(int32(utf8.RuneCountInString(s[0])))
	})
	stringFunc(b, "tolower", 1, expr.StringType, func(s []string) reflect.Value {
		return reflect.ValueOf(strings.ToLower(s[0]))
	})
	stringFunc(b, "toupper", 1, expr.StringType, func(s []string) reflect.Value {
		return reflect.ValueOf(strings.ToUpper(s[0]))
	})
	stringFunc(b, "trim", 1, expr.StringType, func(s []string) reflect.Value {
		return reflect.ValueOf(strings.TrimSpace(s[0]))
	})

	substring := func(vals []reflect.Value) (reflect.Value, error) {
		r := []rune(vals[0].String())
		start := min(max(intArg(vals[1]), 0), len(r))
		end := len(r)
		if len(vals) == 3 {
			end = min(start+max(intArg(vals[2]), 0), len(r))
		}
		return reflect.ValueOf(string(r[start:end])), nil
	}
	b.Register("substring", Overload{
		Arity: 2,
		Match: all(isString, isInteger),
		Build: func(args []expr.Expr) (expr.Expr, error) {
			return call("substring", expr.StringType, substring, args), nil
		},
	})
	b.Register("substring", Overload{
		Arity: 3,
		Match: all(isString, isInteger, isInteger),
		Build: func(args []expr.Expr) (expr.Expr, error) {
			return call("substring", expr.StringType, substring, args), nil
		},
	})
}

func registerSequenceFunctions(b *Default) {
	b.Register("concat", Overload{
		Arity: 2,
		Match: all(isSequence, isSequence),
		Build: buildSequenceConcat,
	})
	b.Register("contains", Overload{
		Arity: 2,
		Match: func(args []expr.Expr) bool { return isSequence(args[0]) },
		Build: buildSequenceContains,
	})
	b.Register("length", Overload{
		Arity: 1,
		Match: all(isSequence),
		Build: func(args []expr.Expr) (expr.Expr, error) {
			return call("length", expr.Int32Type, func(vals []reflect.Value) (reflect.Value, error) {
				return reflect.ValueOf(int32(vals[0].Len())), nil
			}, args), nil
		},
	})
}

func buildSequenceConcat(args []expr.Expr) (expr.Expr, error) {
	ea, _ := expr.SequenceElem(args[0].Type())
	eb, _ := expr.SequenceElem(args[1].Type())

	elem := expr.AnyType
	switch {
	case ea == eb:
		elem = ea
	case expr.IsNumeric(ea) && expr.IsNumeric(eb):
		if t, ok := expr.PromoteTypes(ea, eb); ok {
			elem = t
		}
	}
	out := reflect.SliceOf(elem)

	return call("concat", out, func(vals []reflect.Value) (reflect.Value, error) {
		res := reflect.MakeSlice(out, 0, vals[0].Len()+vals[1].Len())
		for _, seq := range vals {
			for i := 0; i < seq.Len(); i++ {
				res = reflect.Append(res, coerce(seq.Index(i), elem))
			}
		}
		return res, nil
	}, args), nil
}

func coerce(v reflect.Value, t reflect.Type) reflect.Value {
	if v.Type() == t || t.Kind() == reflect.Interface {
		return v
	}
	if inner := expr.Indirect(v); inner.IsValid() && inner.Type().ConvertibleTo(t) {
		return inner.Convert(t)
	}
	return reflect.Zero(t)
}

func buildSequenceContains(args []expr.Expr) (expr.Expr, error) {
	elem, _ := expr.SequenceElem(args[0].Type())
	item := args[1]

	switch it := item.Type(); {
	case expr.IsNumeric(elem) && expr.IsNumeric(it):
	case expr.Comparable(elem, it):
	default:
		c, ok := item.(*expr.Constant)
		if !ok {
			return nil, syntax.NewBindError("cannot look up %s in a sequence of %s", expr.TypeName(it), expr.TypeName(elem))
		}
		converted, err := expr.ConvertTo(c, expr.Deref(elem))
		if err != nil {
			return nil, syntax.NewBindError("cannot look up %s in a sequence of %s: %v", expr.TypeName(it), expr.TypeName(elem), err)
		}
		item = converted
	}

	return call("contains", expr.BoolType, func(vals []reflect.Value) (reflect.Value, error) {
		seq, needle := vals[0], vals[1]
		for i := 0; i < seq.Len(); i++ {
			eq, err := expr.Equal(seq.Index(i), needle)
			if err != nil {
				return reflect.Value{}, err
			}
			if eq {
				return reflect.ValueOf(true), nil
			}
		}
		return reflect.ValueOf(false), nil
	}, []expr.Expr{args[0], item}), nil
}

// timeFunc registers a single-argument accessor over time values.
func timeFunc(b *Default, name string, result reflect.Type, fn func(t time.Time) any) {
	b.Register(name, Overload{
		Arity: 1,
		Match: all(isTime),
		Build: func(args []expr.Expr) (expr.Expr, error) {
			return call(name, result, func(vals []reflect.Value) (reflect.Value, error) {
				t, ok := vals[0].Interface().(time.Time)
				if !ok {
					return reflect.Value{}, fmt.Errorf("expected a date-time value, got %s", vals[0].Type())
				}
				return reflect.ValueOf(fn(t)), nil
			}, args), nil
		},
	})
}

// constFunc registers a niladic function.
func constFunc(b *Default, name string, fn func() time.Time) {
	b.Register(name, Overload{
		Arity: 0,
		Build: func(args []expr.Expr) (expr.Expr, error) {
			c := call(name, expr.TimeType, func([]reflect.Value) (reflect.Value, error) {
				return reflect.ValueOf(fn()), nil
			}, args)
			c.Func.NullSafe = true
			return c, nil
		},
	})
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func registerDateFunctions(b *Default) {
	timeFunc(b, "date", expr.TimeType, func(t time.Time) any { return midnight(t) })
	timeFunc(b, "time", expr.DurationType, func(t time.Time) any { return t.Sub(midnight(t)) })
	timeFunc(b, "year", expr.Int32Type, func(t time.Time) any { return int32(t.Year()) })
	timeFunc(b, "month", expr.Int32Type, func(t time.Time) any { return int32(t.Month()) })
	timeFunc(b, "day", expr.Int32Type, func(t time.Time) any { return int32(t.Day()) })
	timeFunc(b, "hour", expr.Int32Type, func(t time.Time) any { return int32(t.Hour()) })
	timeFunc(b, "minute", expr.Int32Type, func(t time.Time) any { return int32(t.Minute()) })
	timeFunc(b, "second", expr.Int32Type, func(t time.Time) any { return int32(t.Second()) })
	timeFunc(b, "fractionalseconds", expr.Float64Type, func(t time.Time) any {
		return float64(t.Nanosecond()) / float64(time.Second)
	})
	timeFunc(b, "totaloffsetminutes", expr.Int32Type, func(t time.Time) any {
		_, offset := t.Zone()
		return int32(offset / 60)
	})

	constFunc(b, "now", func() time.Time { return time.Now().UTC() })
	constFunc(b, "mindatetime", func() time.Time { return MinDateTime })
	constFunc(b, "maxdatetime", func() time.Time { return MaxDateTime })
}
