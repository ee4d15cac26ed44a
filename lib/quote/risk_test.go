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

package quote

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
)

func TestFlightRisk(t *testing.T) {
	delay := 45
	tests := []struct {
		desc   string
		flight canonical.Flight
		want   float64
	}{
		{
			desc:   "scheduled flight is neutral",
			flight: canonical.Flight{Status: canonical.FlightStatusScheduled},
			want:   1.0,
		},
		{
			desc:   "delayed status is strongly loaded",
			flight: canonical.Flight{Status: canonical.FlightStatusDelayed},
			want:   1.8,
		},
		{
			desc: "reported delay adds its bucket",
			flight: canonical.Flight{
				Status:                canonical.FlightStatusActive,
				DepartureDelayMinutes: &delay,
			},
			want: 1.35,
		},
		{
			desc: "punctual carrier discounts",
			flight: canonical.Flight{
				Status:      canonical.FlightStatusScheduled,
				AirlineICAO: "BTI",
			},
			want: 0.95,
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			require.InDelta(t, tt.want, flightRisk(&tt.flight), 1e-9)
		})
	}
}

func TestWeatherRisk(t *testing.T) {
	lowVis := 1.5
	storm := &canonical.Weather{Condition: canonical.ConditionStorm}
	clear := &canonical.Weather{Condition: canonical.ConditionClear}
	foggy := &canonical.Weather{Condition: canonical.ConditionFog, VisibilityKM: &lowVis}

	// missing weather is neutral
	require.InDelta(t, 1.0, weatherRisk(nil, nil), 1e-9)
	// the worse endpoint dominates
	require.InDelta(t, 1.8, weatherRisk(clear, storm), 1e-9)
	// visibility threshold stacks on the condition class
	require.InDelta(t, 1.5, weatherRisk(foggy, nil), 1e-9)
}

func TestClampMultiplier(t *testing.T) {
	require.Equal(t, MinRiskMultiplier, clampMultiplier(0.1))
	require.Equal(t, MaxRiskMultiplier, clampMultiplier(50))
	require.Equal(t, 1.7, clampMultiplier(1.7))
}
