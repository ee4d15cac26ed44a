/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package escrow translates engine-level escrow intents into signed chain
// transactions and parses the ledger back into user-facing transactions.
package escrow

import (
	"fmt"
	"strings"

	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/defaults"
)

// AmountCodec converts between decimal currency strings and the chain's
// integer unit. The default scale is 100 units per currency unit, so units
// are cents.
type AmountCodec struct {
	scale      int64
	fracDigits int
}

// NewAmountCodec returns a codec for the given unit scale. The scale must be
// a power of ten.
func NewAmountCodec(scale int64) (AmountCodec, error) {
	if scale < 1 {
		return AmountCodec{}, trace.BadParameter("unit scale must be positive, got %v", scale)
	}
	digits := 0
	for v := scale; v > 1; v /= 10 {
		if v%10 != 0 {
			return AmountCodec{}, trace.BadParameter("unit scale must be a power of ten, got %v", scale)
		}
		digits++
	}
	return AmountCodec{scale: scale, fracDigits: digits}, nil
}

// DefaultAmountCodec is the cents codec used across the system.
var DefaultAmountCodec = AmountCodec{scale: defaults.EscrowUnitScale, fracDigits: 2}

// ToUnits converts a decimal string to chain units, rounding half to even at
// the last representable digit. Negative and malformed inputs convert to
// zero; rejecting them is the operation layer's job, the codec only has to
// never produce garbage units.
func (c AmountCodec) ToUnits(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "-") {
		return 0
	}
	s = strings.TrimPrefix(s, "+")

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0
	}

	units, ok := parseScaled(whole, c.scale)
	if !ok {
		return 0
	}

	// take the representable fraction digits, then round half-even on the
	// remainder
	kept := frac
	if len(kept) > c.fracDigits {
		kept = frac[:c.fracDigits]
	}
	for len(kept) < c.fracDigits {
		kept += "0"
	}
	fracUnits, ok := parseScaled(kept, 1)
	if !ok {
		return 0
	}
	units += fracUnits

	rest := ""
	if len(frac) > c.fracDigits {
		rest = frac[c.fracDigits:]
	}
	switch compareToHalf(rest) {
	case 1:
		units++
	case 0:
		if units%2 != 0 {
			units++
		}
	}
	return units
}

// FromUnits converts chain units back to the canonical decimal string with
// exactly fracDigits fraction digits.
func (c AmountCodec) FromUnits(units int64) string {
	neg := units < 0
	if neg {
		units = -units
	}
	whole := units / c.scale
	frac := units % c.scale
	out := fmt.Sprintf("%d", whole)
	if c.fracDigits > 0 {
		out += fmt.Sprintf(".%0*d", c.fracDigits, frac)
	}
	if neg {
		out = "-" + out
	}
	return out
}

func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseScaled parses a digit string and multiplies by scale, refusing
// overflow.
func parseScaled(s string, scale int64) (int64, bool) {
	var v int64
	for _, r := range s {
		d := int64(r - '0')
		if v > (1<<62)/10 {
			return 0, false
		}
		v = v*10 + d
	}
	if scale > 1 && v > (1<<62)/scale {
		return 0, false
	}
	return v * scale, true
}

// compareToHalf compares the dropped fraction digits to one half of the last
// kept unit: "5" or "50" is exactly half, "51" is above, "49" below.
func compareToHalf(rest string) int {
	if rest == "" {
		return -1
	}
	first := rest[0]
	switch {
	case first > '5':
		return 1
	case first < '5':
		return -1
	}
	for _, r := range rest[1:] {
		if r != '0' {
			return 1
		}
	}
	return 0
}
