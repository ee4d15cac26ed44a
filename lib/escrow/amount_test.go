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

package escrow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"1", 100},
		{"5.00", 500},
		{"7.5", 750},
		{"123.45", 12345},
		{".99", 99},
		{"0.99", 99},
		{"+2.50", 250},
		{" 3.10 ", 310},

		// round half to even at the cent
		{"0.005", 0},
		{"0.015", 2},
		{"0.025", 2},
		{"0.035", 4},
		{"0.0251", 3},
		{"0.0250000", 2},
		{"1.005", 100},
		{"1.0051", 101},

		// negative and malformed convert to zero
		{"-1.00", 0},
		{"", 0},
		{"abc", 0},
		{"1.2.3", 0},
		{"12a.00", 0},
		{"1,50", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, DefaultAmountCodec.ToUnits(tt.in))
		})
	}
}

func TestFromUnits(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.00"},
		{1, "0.01"},
		{99, "0.99"},
		{100, "1.00"},
		{12345, "123.45"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, DefaultAmountCodec.FromUnits(tt.in))
		})
	}
}

// For any decimal with at most two fraction digits the round trip is exact
// up to canonical formatting.
func TestAmountRoundTrip(t *testing.T) {
	tests := []struct {
		in        string
		canonical string
	}{
		{"0", "0.00"},
		{"7.5", "7.50"},
		{"500", "500.00"},
		{"123.45", "123.45"},
		{".07", "0.07"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.canonical, DefaultAmountCodec.FromUnits(DefaultAmountCodec.ToUnits(tt.in)))
		})
	}
}

func TestNewAmountCodec(t *testing.T) {
	codec, err := NewAmountCodec(1000)
	require.NoError(t, err)
	require.Equal(t, int64(7500), codec.ToUnits("7.5"))
	require.Equal(t, "7.500", codec.FromUnits(7500))

	_, err = NewAmountCodec(250)
	require.Error(t, err)
	_, err = NewAmountCodec(0)
	require.Error(t, err)
}
