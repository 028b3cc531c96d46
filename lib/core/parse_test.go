package core

import (
	"math"
	"testing"
)

// TestParseHumanReadableBytes covers plain numbers, units and sign
func TestParseHumanReadableBytes(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"128", 128, true},
		{"0", 0, true},
		{"1b", 1, true},
		{"1K", 1024, true},
		{"1kb", 1024, true},
		{"512mb", 512 << 20, true},
		{"1G", 1 << 30, true},
		{"1GiB", 1 << 30, true},
		{"1Gigabytes", 1 << 30, true},
		{"2T", 2 << 40, true},
		{"1P", 1 << 50, true},
		{"1E", 1 << 60, true},
		{"1.5K", 1536, true},
		{"-2G", -(2 << 30), true},
		{"", 0, false},
		{"abc", 0, false},
		{"1X", 0, false},
		{"1.2.3K", 0, false},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseHumanReadableBytes(tc.in)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if got != tc.want {
				t.Errorf("got %d, expected %d", got, tc.want)
			}
		})
	}
}

// TestParseDouble covers infinities and the NaN rejection
func TestParseDouble(t *testing.T) {
	if v, err := ParseDouble("3.25"); err != nil || v != 3.25 {
		t.Errorf("got %v / %v", v, err)
	}
	if v, err := ParseDouble("-inf"); err != nil || !math.IsInf(v, -1) {
		t.Errorf("got %v / %v", v, err)
	}
	if v, err := ParseDouble("+INF"); err != nil || !math.IsInf(v, 1) {
		t.Errorf("got %v / %v", v, err)
	}
	if v, err := ParseDouble("inf"); err != nil || !math.IsInf(v, 1) {
		t.Errorf("got %v / %v", v, err)
	}
	if _, err := ParseDouble("nan"); err == nil {
		t.Error("NaN must be rejected")
	}
	if _, err := ParseDouble(""); err == nil {
		t.Error("empty string must be rejected")
	}
	if _, err := ParseDouble("zzz"); err == nil {
		t.Error("garbage must be rejected")
	}
}
