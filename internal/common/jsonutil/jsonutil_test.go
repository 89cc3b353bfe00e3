package jsonutil

import (
	"encoding/json"
	"testing"
)

func TestDecode_Numbers(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{"small int", `1`, int64(1)},
		{"beyond float64 precision", `9007199254740993`, int64(9007199254740993)},
		{"beyond int64", `123456789012345678901234567890`, json.Number("123456789012345678901234567890")},
		{"fraction", `1.5`, 1.5},
		{"exponent", `1e3`, float64(1000)},
		{"string", `"x"`, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode(%s) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDecode_Nested(t *testing.T) {
	got, err := DecodeObject([]byte(`{"a":{"b":[9007199254740993,2.5]}}`))
	if err != nil {
		t.Fatalf("DecodeObject failed: %v", err)
	}
	arr := got["a"].(map[string]any)["b"].([]any)
	if arr[0] != int64(9007199254740993) || arr[1] != 2.5 {
		t.Errorf("nested values = %#v", arr)
	}
}

func TestDecode_Invalid(t *testing.T) {
	for _, input := range []string{`{`, `{} {}`, `[1]`} {
		if _, err := DecodeObject([]byte(input)); err == nil {
			t.Errorf("DecodeObject(%s) should fail", input)
		}
	}
	got, err := DecodeObject([]byte(`null`))
	if err != nil || got != nil {
		t.Errorf("DecodeObject(null) = %v, %v", got, err)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int and float", 1, 1.0, true},
		{"int64 and json number", int64(7), json.Number("7.0"), true},
		{"large ints differ", int64(9007199254740993), int64(9007199254740992), false},
		{"large ints equal", int64(9007199254740993), json.Number("9007199254740993"), true},
		{"map key order", map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2, "a": 1}, true},
		{"nested large ints", []any{int64(1 << 62)}, []any{int64(1<<62 + 1)}, false},
		{"zero signs", 0.0, -0.0, true},
		{"type mismatch", "1", 1, false},
		{"unencodable", make(chan int), make(chan int), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCompareNumbers(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want int
		ok   bool
	}{
		{"less", int64(1), 2.5, -1, true},
		{"equal across types", int32(3), 3.0, 0, true},
		{"exact above 2^53", int64(9007199254740993), int64(9007199254740992), 1, true},
		{"json number", json.Number("123456789012345678901234567890"), int64(1), 1, true},
		{"not a number", "1", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CompareNumbers(tt.a, tt.b)
			if ok != tt.ok || got != tt.want {
				t.Errorf("CompareNumbers(%v, %v) = %d, %v, want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.ok)
			}
		})
	}
}
