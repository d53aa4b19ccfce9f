package querysql

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the storage form of time values: UTC with a fixed-width
// fraction, so text order is time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	timeType = reflect.TypeOf(time.Time{})
	guidType = reflect.TypeOf(uuid.UUID{})
)

// Affinity returns the SQLite column type for values of t, and false when
// t has no scalar storage form. One pointer level is allowed; a nil
// pointer is stored as NULL.
func Affinity(t reflect.Type) (string, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case timeType, guidType:
		return "TEXT", true
	}
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER", true
	case reflect.Float32, reflect.Float64:
		return "REAL", true
	case reflect.String:
		return "TEXT", true
	}
	return "", false
}

// StorageValue converts v to the value stored for it: int64, float64,
// string, bool or nil. Named types store their underlying kind, so an
// enum compares as its integer value.
func StorageValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}
	if v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	switch v.Type() {
	case timeType:
		ts := v.Interface().(time.Time).UTC()
		if y := ts.Year(); y < 0 || y > 9999 {
			return nil, fmt.Errorf("time %s is outside the storable range", ts)
		}
		return ts.Format(TimeLayout), nil
	case guidType:
		return v.Interface().(uuid.UUID).String(), nil
	}
	switch {
	case v.Kind() == reflect.Bool:
		return v.Bool(), nil
	case v.CanInt():
		return v.Int(), nil
	case v.CanUint():
		n := v.Uint()
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows a 64-bit integer column", n)
		}
		return int64(n), nil
	case v.CanFloat():
		f := v.Float()
		if math.IsNaN(f) {
			return nil, fmt.Errorf("NaN cannot be stored")
		}
		return f, nil
	case v.Kind() == reflect.String:
		return v.String(), nil
	}
	return nil, fmt.Errorf("no storage form for %s", v.Type())
}

// FromStorage converts a scanned column value back to type t. A NULL
// becomes the zero value of t.
func FromStorage(src any, t reflect.Type) (reflect.Value, error) {
	if src == nil {
		return reflect.Zero(t), nil
	}
	if t.Kind() == reflect.Pointer {
		inner, err := FromStorage(src, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if b, ok := src.([]byte); ok {
		src = string(b)
	}

	out := reflect.New(t).Elem()
	switch t {
	case timeType:
		s, ok := src.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("time column holds %T", src)
		}
		ts, err := time.Parse(TimeLayout, s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Set(reflect.ValueOf(ts))
		return out, nil
	case guidType:
		s, ok := src.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("GUID column holds %T", src)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return reflect.Value{}, err
		}
		out.Set(reflect.ValueOf(id))
		return out, nil
	}

	switch {
	case t.Kind() == reflect.Bool:
		switch x := src.(type) {
		case int64:
			out.SetBool(x != 0)
		case bool:
			out.SetBool(x)
		default:
			return reflect.Value{}, fmt.Errorf("bool column holds %T", src)
		}
	case out.CanInt():
		n, ok := src.(int64)
		if !ok || out.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("cannot store %v in %s", src, t)
		}
		out.SetInt(n)
	case out.CanUint():
		n, ok := src.(int64)
		if !ok || n < 0 || out.OverflowUint(uint64(n)) {
			return reflect.Value{}, fmt.Errorf("cannot store %v in %s", src, t)
		}
		out.SetUint(uint64(n))
	case out.CanFloat():
		switch x := src.(type) {
		case float64:
			out.SetFloat(x)
		case int64:
			out.SetFloat(float64(x))
		default:
			return reflect.Value{}, fmt.Errorf("float column holds %T", src)
		}
	case t.Kind() == reflect.String:
		s, ok := src.(string)
		if !ok {
			return reflect.Value{}, fmt.Errorf("text column holds %T", src)
		}
		out.SetString(s)
	default:
		return reflect.Value{}, fmt.Errorf("no storage form for %s", t)
	}
	return out, nil
}
