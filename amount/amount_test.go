// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package amount

import "testing"

func TestNewFromFloatQuantizes(t *testing.T) {
	tests := []struct {
		in   float64
		want Amount
	}{
		{1.0, 100000000},
		{0.00000001, 1},
		{0.123456789, 12345679}, // rounds to nearest 1e-8
		{0, 0},
	}
	for _, tt := range tests {
		if got := NewFromFloat(tt.in); got != tt.want {
			t.Errorf("NewFromFloat(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	a := NewFromFloat(42.5)
	if got, want := a.String(), "42.50000000"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	back, err := ParseString(a.String())
	if err != nil {
		t.Fatalf("ParseString(%q): %v", a.String(), err)
	}
	if back != a {
		t.Errorf("round trip: got %v, want %v", back, a)
	}
}

func TestSumExact(t *testing.T) {
	amounts := []Amount{NewFromFloat(0.1), NewFromFloat(0.2), NewFromFloat(0.3)}
	if got, want := Sum(amounts), NewFromFloat(0.6); got != want {
		t.Errorf("Sum = %v, want %v (float drift would give 0.00000001 off)", got, want)
	}
}

func TestAddSub(t *testing.T) {
	a, b := NewFromFloat(5), NewFromFloat(3)
	if got, want := a.Add(b), NewFromFloat(8); got != want {
		t.Errorf("Add = %v, want %v", got, want)
	}
	if got, want := a.Sub(b), NewFromFloat(2); got != want {
		t.Errorf("Sub = %v, want %v", got, want)
	}
}
