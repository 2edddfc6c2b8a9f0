package units

import (
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{"1000", 6, "1000000000", false},
		{"1000.5", 6, "1000500000", false},
		{"0.000001", 6, "1", false},
		{"0.0000001", 6, "", true},
		{"1", 18, "1000000000000000000", false},
		{"-1", 6, "", true},
		{"abc", 6, "", true},
		{"", 6, "", true},
	}
	for _, tc := range cases {
		got, err := Parse(tc.in, tc.decimals)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("Parse(%q) expected error, got %s", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("Parse(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(big.NewInt(1_000_500_000), 6); got != "1000.5" {
		t.Fatalf("Format = %s", got)
	}
	if got := Format(nil, 6); got != "0" {
		t.Fatalf("Format(nil) = %s", got)
	}
	if got := FormatFixed(big.NewInt(1_234_567), 6, 2); got != "1.23" {
		t.Fatalf("FormatFixed = %s", got)
	}
}

func TestParseBaseUnits(t *testing.T) {
	if v, err := ParseBaseUnits(" 42 "); err != nil || v.Int64() != 42 {
		t.Fatalf("ParseBaseUnits = %v, %v", v, err)
	}
	if _, err := ParseBaseUnits("1.5"); err == nil {
		t.Fatalf("expected error for fractional base units")
	}
	if _, err := ParseBaseUnits("-3"); err == nil {
		t.Fatalf("expected error for negative base units")
	}
}
