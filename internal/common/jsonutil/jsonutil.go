// Package jsonutil decodes generic JSON values without losing integer
// precision and compares them structurally.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"
)

// comparePrec is wide enough to hold any int64, any float64 and integers far
// beyond both exactly.
const comparePrec = 256

// Decode unmarshals data into a generic value. Integers that fit an int64
// decode as int64, larger integers stay json.Number and every other number
// is a float64.
func Decode(data []byte) (any, error) {
	v, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	return Normalize(v), nil
}

// DecodeObject is Decode for JSON objects. A JSON null yields a nil map.
func DecodeObject(data []byte) (map[string]any, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}

// Normalize replaces every json.Number inside v with the Go number Decode
// would produce for it.
func Normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		return number(t)
	case map[string]any:
		for k, el := range t {
			t[k] = Normalize(el)
		}
		return t
	case []any:
		for i, el := range t {
			t[i] = Normalize(el)
		}
		return t
	}
	return v
}

func number(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if !strings.ContainsAny(string(n), ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// Canonical returns an encoding of v in which object keys are sorted and
// numbers are written in one form per value, so 1, 1.0 and int64(1) encode
// alike while 2^53 and 2^53+1 do not.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	generic, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(canonicalNumbers(generic))
}

// Equal reports whether a and b have the same canonical encoding. Values
// that cannot be encoded are never equal.
func Equal(a, b any) bool {
	ab, err := Canonical(a)
	if err != nil {
		return false
	}
	bb, err := Canonical(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// IsNumber reports whether v is a Go or JSON number.
func IsNumber(v any) bool {
	_, ok := toBig(v)
	return ok
}

// CompareNumbers orders two numbers exactly. ok is false when either side is
// not a number or is NaN.
func CompareNumbers(a, b any) (int, bool) {
	x, ok := toBig(a)
	if !ok {
		return 0, false
	}
	y, ok := toBig(b)
	if !ok {
		return 0, false
	}
	return x.Cmp(y), true
}

func decodeRaw(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return v, nil
}

func canonicalNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		f, _, err := big.ParseFloat(string(t), 10, comparePrec, big.ToNearestEven)
		if err != nil {
			return t
		}
		if f.Sign() == 0 {
			return json.Number("0")
		}
		return json.Number(f.Text('g', -1))
	case map[string]any:
		for k, el := range t {
			t[k] = canonicalNumbers(el)
		}
		return t
	case []any:
		for i, el := range t {
			t[i] = canonicalNumbers(el)
		}
		return t
	}
	return v
}

func toBig(v any) (*big.Float, bool) {
	f := new(big.Float).SetPrec(comparePrec)
	switch n := v.(type) {
	case int:
		return f.SetInt64(int64(n)), true
	case int8:
		return f.SetInt64(int64(n)), true
	case int16:
		return f.SetInt64(int64(n)), true
	case int32:
		return f.SetInt64(int64(n)), true
	case int64:
		return f.SetInt64(n), true
	case uint:
		return f.SetUint64(uint64(n)), true
	case uint8:
		return f.SetUint64(uint64(n)), true
	case uint16:
		return f.SetUint64(uint64(n)), true
	case uint32:
		return f.SetUint64(uint64(n)), true
	case uint64:
		return f.SetUint64(n), true
	case float32:
		return floatOK(f, float64(n))
	case float64:
		return floatOK(f, n)
	case json.Number:
		parsed, _, err := big.ParseFloat(string(n), 10, comparePrec, big.ToNearestEven)
		if err != nil {
			return nil, false
		}
		return parsed, true
	}
	return nil, false
}

func floatOK(f *big.Float, x float64) (*big.Float, bool) {
	if math.IsNaN(x) {
		return nil, false
	}
	return f.SetFloat64(x), true
}
