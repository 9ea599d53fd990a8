package docdb

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Document is a schema-free record. Values are normalized on insert, see
// Normalize.
type Document = map[string]any

// Kind enumerates the variants a document value can take.
type Kind uint8

const (
	// KindAbsent is the value of a promoted column that was never written
	// for a row. It never appears inside a document.
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindObjectId
	KindArray
	KindMap
)

var kindNames = [...]string{
	KindAbsent:   "absent",
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindBytes:    "bytes",
	KindTime:     "time",
	KindObjectId: "objectid",
	KindArray:    "array",
	KindMap:      "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) isNumeric() bool {
	return k == KindInt || k == KindFloat
}

// Value is a normalized document value tagged with its kind.
type Value struct {
	kind Kind
	raw  any
}

var absentValue = Value{}

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsAbsent() bool   { return v.kind == KindAbsent }
func (v Value) Interface() any   { return v.raw }
func (v Value) String() string   { return fmt.Sprintf("%s(%v)", v.kind, v.raw) }
func (v Value) int() int64       { return v.raw.(int64) }
func (v Value) float() float64   { return v.raw.(float64) }
func (v Value) str() string      { return v.raw.(string) }
func (v Value) bytes() []byte    { return v.raw.([]byte) }
func (v Value) time() time.Time  { return v.raw.(time.Time) }
func (v Value) oid() ObjectId    { return v.raw.(ObjectId) }
func (v Value) array() []any     { return v.raw.([]any) }
func (v Value) dict() Document   { return v.raw.(Document) }
func (v Value) boolean() bool    { return v.raw.(bool) }
func (v Value) asFloat() float64 { return toFloat(v.raw) }

func toFloat(raw any) float64 {
	switch n := raw.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		panic(fmt.Errorf("not a number: %T", raw))
	}
}

// ValueOf normalizes v and wraps it in a Value.
func ValueOf(v any) (Value, error) {
	n, err := normalizeValue(v)
	if err != nil {
		return absentValue, err
	}
	return valueOfNormalized(n), nil
}

func valueOfNormalized(v any) Value {
	switch v := v.(type) {
	case nil:
		return Value{KindNull, nil}
	case bool:
		return Value{KindBool, v}
	case int64:
		return Value{KindInt, v}
	case float64:
		return Value{KindFloat, v}
	case string:
		return Value{KindString, v}
	case []byte:
		return Value{KindBytes, v}
	case time.Time:
		return Value{KindTime, v}
	case ObjectId:
		return Value{KindObjectId, v}
	case []any:
		return Value{KindArray, v}
	case Document:
		return Value{KindMap, v}
	default:
		panic(fmt.Errorf("value not normalized: %T", v))
	}
}

// Normalize returns a deep copy of doc with every value converted to its
// canonical Go type: int64, float64, UTC time.Time, []any and
// map[string]any.
func Normalize(doc Document) (Document, error) {
	out := make(Document, len(doc))
	for k, v := range doc {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "field %q", k)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Round(0)
}

func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return normalizeUint(uint64(v))
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return normalizeUint(v)
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return v, nil
	case []byte:
		return append([]byte{}, v...), nil
	case time.Time:
		return normalizeTime(v), nil
	case ObjectId:
		return v, nil
	case *ObjectId:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, errors.WithMessagef(err, "[%d]", i)
			}
			out[i] = n
		}
		return out, nil
	case Document:
		return Normalize(v)
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeUint(v uint64) (any, error) {
	if v > math.MaxInt64 {
		return nil, errors.WithMessagef(ErrUnsupportedValue, "%d overflows int64", v)
	}
	return int64(v), nil
}

func normalizeReflect(rv reflect.Value) (any, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return normalizeUint(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 && rv.Kind() == reflect.Slice {
			return append([]byte{}, rv.Bytes()...), nil
		}
		n := rv.Len()
		out := make([]any, n)
		for i := 0; i < n; i++ {
			e, err := normalizeValue(rv.Index(i).Interface())
			if err != nil {
				return nil, errors.WithMessagef(err, "[%d]", i)
			}
			out[i] = e
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, errors.WithMessagef(ErrUnsupportedValue, "map key type %v", rv.Type().Key())
		}
		out := make(Document, rv.Len())
		for it := rv.MapRange(); it.Next(); {
			k := it.Key().String()
			e, err := normalizeValue(it.Value().Interface())
			if err != nil {
				return nil, errors.WithMessagef(err, "field %q", k)
			}
			out[k] = e
		}
		return out, nil
	}
	if !rv.IsValid() {
		return nil, nil
	}
	return nil, errors.WithMessagef(ErrUnsupportedValue, "%v", rv.Type())
}

// Compare orders two values. Numbers compare numerically regardless of int or
// float representation; strings, byte strings, booleans, times and ObjectIds
// use their natural order; arrays compare element-wise. Every other pairing
// fails with ErrTypeMismatch.
func Compare(a, b Value) (int, error) {
	if a.kind.isNumeric() && b.kind.isNumeric() {
		return compareNumbers(a, b), nil
	}
	if a.kind != b.kind {
		return 0, errors.WithMessagef(ErrTypeMismatch, "cannot compare %s with %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindString:
		return strings.Compare(a.str(), b.str()), nil
	case KindBytes:
		return bytes.Compare(a.bytes(), b.bytes()), nil
	case KindBool:
		return compareBools(a.boolean(), b.boolean()), nil
	case KindTime:
		return a.time().Compare(b.time()), nil
	case KindObjectId:
		return a.oid().Compare(b.oid()), nil
	case KindArray:
		x, y := a.array(), b.array()
		for i := 0; i < len(x) && i < len(y); i++ {
			c, err := Compare(valueOfNormalized(x[i]), valueOfNormalized(y[i]))
			if err != nil || c != 0 {
				return c, err
			}
		}
		return cmp.Compare(len(x), len(y)), nil
	default:
		return 0, errors.WithMessagef(ErrTypeMismatch, "%s values are not ordered", a.kind)
	}
}

func compareNumbers(a, b Value) int {
	if a.kind == KindInt && b.kind == KindInt {
		return cmp.Compare(a.int(), b.int())
	}
	return cmp.Compare(a.asFloat(), b.asFloat())
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// Equal reports whether two values are equal. Values of different kinds are
// unequal, except that an int and a float are compared numerically.
func Equal(a, b Value) bool {
	if a.kind.isNumeric() && b.kind.isNumeric() {
		return compareNumbers(a, b) == 0
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindAbsent, KindNull:
		return true
	case KindArray:
		x, y := a.array(), b.array()
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(valueOfNormalized(x[i]), valueOfNormalized(y[i])) {
				return false
			}
		}
		return true
	case KindMap:
		x, y := a.dict(), b.dict()
		if len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(valueOfNormalized(xv), valueOfNormalized(yv)) {
				return false
			}
		}
		return true
	case KindBytes:
		return bytes.Equal(a.bytes(), b.bytes())
	case KindTime:
		return a.time().Equal(b.time())
	default:
		return a.raw == b.raw
	}
}
