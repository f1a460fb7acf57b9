// Copyright (c) 2025 The vaultd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package amount implements a fixed-point money type quantized to
// 10⁻⁸, the unit every value field in spec.md §3 is denominated in
// (output values, fees, block rewards). Representing money as an
// int64 count of "satoshis" (1e-8 units) rather than a float keeps
// every sum and comparison exact, matching spec.md §4.1's "Numeric
// semantics: all value arithmetic is performed on decimals quantized
// to 10⁻⁸; comparisons use the quantized form to avoid floating-point
// drift."
package amount

import (
	"fmt"
	"math"
	"strconv"
)

// SatoshiPerCoin is the number of quantized units in one whole coin.
const SatoshiPerCoin = 1e8

// Amount is a quantity of coin, represented as an integer count of
// 10⁻⁸ units.
type Amount int64

// NewFromFloat quantizes a floating point coin value to the nearest
// 10⁻⁸ unit. Source data (wire JSON, RPC params) arrives as JSON
// numbers; this is the single point where it is quantized before
// entering any arithmetic path.
func NewFromFloat(f float64) Amount {
	return Amount(math.Round(f * SatoshiPerCoin))
}

// ToFloat returns the amount as a float64 number of whole coins, for
// JSON serialization only; no arithmetic should ever be performed on
// this value.
func (a Amount) ToFloat() float64 {
	return float64(a) / SatoshiPerCoin
}

// String renders the amount with exactly eight decimal places.
func (a Amount) String() string {
	neg := ""
	v := int64(a)
	if v < 0 {
		neg = "-"
		v = -v
	}
	whole := v / SatoshiPerCoin
	frac := v % SatoshiPerCoin
	return fmt.Sprintf("%s%d.%08d", neg, whole, frac)
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount { return a + b }

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount { return a - b }

// Sum totals a slice of amounts.
func Sum(amounts []Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// ParseString parses a decimal string with up to eight fractional
// digits, quantizing any additional precision away rather than
// erroring, matching the source's permissive `Decimal(...).quantize`
// behavior.
func ParseString(s string) (Amount, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("amount: invalid decimal %q: %w", s, err)
	}
	return NewFromFloat(f), nil
}
