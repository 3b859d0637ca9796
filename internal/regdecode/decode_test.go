package regdecode

import (
	"errors"
	"math"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		dt    DataType
		words []uint16
		want  float64
	}{
		{"uint16", Uint16, []uint16{0xFFFF}, 65535},
		{"uint16 zero", Uint16, []uint16{0}, 0},
		{"int16 negative", Int16, []uint16{0xFFFF}, -1},
		{"int16 min", Int16, []uint16{0x8000}, -32768},
		{"int16 positive", Int16, []uint16{0x7FFF}, 32767},
		{"uint32 big-endian words", Uint32, []uint16{0x0001, 0x86A0}, 100000},
		{"uint32 max", Uint32, []uint16{0xFFFF, 0xFFFF}, 4294967295},
		{"float32", Float32, []uint16{0x4348, 0x0000}, 200.0},
		{"float32 negative", Float32, []uint16{0xC348, 0x0000}, -200.0},
		{"float64", Float64, []uint16{0x4069, 0x0000, 0x0000, 0x0000}, 200.0},
		{"float64 negative", Float64, []uint16{0xBFF8, 0x0000, 0x0000, 0x0000}, -1.5},
		{"float64 fractional", Float64, []uint16{0x3FF0, 0x0000, 0x0000, 0x0001}, math.Float64frombits(0x3FF0000000000001)},
		{"pf lagging", PF, []uint16{0x0384}, 0.9},
		{"pf leading", PF, []uint16{0xFC7C}, -0.9},
		{"pf unity", PF, []uint16{0x03E8}, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.dt, tt.words)
			if err != nil {
				t.Fatalf("Decode(%s, %v) error = %v", tt.dt, tt.words, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Decode(%s, %v) = %v, want %v", tt.dt, tt.words, got, tt.want)
			}
		})
	}
}

func TestDecode_WordCountMismatch(t *testing.T) {
	tests := []struct {
		dt    DataType
		words []uint16
	}{
		{Uint16, []uint16{1, 2}},
		{Int16, nil},
		{Uint32, []uint16{1}},
		{Float32, []uint16{1, 2, 3}},
		{Float64, []uint16{1, 2}},
		{PF, []uint16{}},
	}
	for _, tt := range tests {
		if _, err := Decode(tt.dt, tt.words); !errors.Is(err, ErrWordCount) {
			t.Errorf("Decode(%s, %v) error = %v, want ErrWordCount", tt.dt, tt.words, err)
		}
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := Decode(DataType("double"), []uint16{1, 2, 3, 4}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestDecode_StringNotNumeric(t *testing.T) {
	if _, err := Decode(String, []uint16{0x4142}); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("error = %v, want ErrNotNumeric", err)
	}
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name  string
		words []uint16
		want  string
	}{
		{"ascii", []uint16{0x4142, 0x4344}, "ABCD"},
		{"nul truncation", []uint16{0x4142, 0x0043}, "AB"},
		{"trailing nuls", []uint16{0x4F4B, 0x0000, 0x0000}, "OK"},
		{"invalid utf8 dropped", []uint16{0x41FF, 0x4200}, "AB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeString(tt.words)
			if err != nil {
				t.Fatalf("DecodeString(%v) error = %v", tt.words, err)
			}
			if got != tt.want {
				t.Errorf("DecodeString(%v) = %q, want %q", tt.words, got, tt.want)
			}
		})
	}
}

func TestDecodeString_Empty(t *testing.T) {
	if _, err := DecodeString(nil); !errors.Is(err, ErrWordCount) {
		t.Errorf("error = %v, want ErrWordCount", err)
	}
}

func TestRegisterCount(t *testing.T) {
	tests := []struct {
		dt   DataType
		want int
	}{
		{Uint16, 1}, {Int16, 1}, {PF, 1},
		{Uint32, 2}, {Float32, 2},
		{Float64, 4},
		{String, 0},
	}
	for _, tt := range tests {
		if got := tt.dt.RegisterCount(); got != tt.want {
			t.Errorf("%s.RegisterCount() = %d, want %d", tt.dt, got, tt.want)
		}
	}
}

func TestDecodeByMap(t *testing.T) {
	mappings := []Mapping{
		{Name: "p_total", DataType: Float32},
		{Name: "pf_avg", DataType: PF},
		{Name: "freq", DataType: Uint16},
		{Name: "serial", DataType: String, Count: 4},
	}

	got, err := DecodeByMap(mappings, map[string][]uint16{
		"p_total": {0x4348, 0x0000},
		"pf_avg":  {0x0384},
	})
	if err != nil {
		t.Fatalf("DecodeByMap() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("DecodeByMap() returned %d values, want 2", len(got))
	}
	if math.Abs(got["p_total"]-200.0) > 1e-9 {
		t.Errorf("p_total = %v, want 200.0", got["p_total"])
	}
	if math.Abs(got["pf_avg"]-0.9) > 1e-9 {
		t.Errorf("pf_avg = %v, want 0.9", got["pf_avg"])
	}

	if _, err := DecodeByMap(mappings, map[string][]uint16{"bogus": {1}}); err == nil {
		t.Error("unmapped parameter should be rejected")
	}
	if _, err := DecodeByMap(mappings, map[string][]uint16{"serial": {0x4142, 0x4344, 0x0000, 0x0000}}); !errors.Is(err, ErrNotNumeric) {
		t.Errorf("string parameter error = %v, want ErrNotNumeric", err)
	}
	if _, err := DecodeByMap(mappings, map[string][]uint16{"p_total": {0x4348}}); !errors.Is(err, ErrWordCount) {
		t.Errorf("short words error = %v, want ErrWordCount", err)
	}
}
