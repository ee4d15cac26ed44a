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

package canonical

import (
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// ConditionType buckets provider condition codes into the coarse classes the
// risk model consumes.
type ConditionType string

const (
	ConditionClear  ConditionType = "CLEAR"
	ConditionCloudy ConditionType = "CLOUDY"
	ConditionRain   ConditionType = "RAIN"
	ConditionSnow   ConditionType = "SNOW"
	ConditionStorm  ConditionType = "STORM"
	ConditionFog    ConditionType = "FOG"
)

// ForecastPeriod distinguishes an observation from a forecast bucket.
type ForecastPeriod string

const (
	PeriodCurrent ForecastPeriod = "current"
	PeriodDaily   ForecastPeriod = "daily"
	PeriodHourly  ForecastPeriod = "hourly"
)

// Weather is the provider-independent weather record, keyed by airport,
// observation time and forecast period.
type Weather struct {
	// AirportIATA is the airport the observation applies to.
	AirportIATA string `json:"airport_iata"`
	// ObservationTime is the UTC time of the observation or forecast slot.
	ObservationTime time.Time `json:"observation_time"`
	// Period distinguishes current conditions from forecast buckets.
	Period ForecastPeriod `json:"period"`

	// TemperatureC is the air temperature in degrees Celsius.
	TemperatureC *float64 `json:"temperature_c,omitempty"`
	// ConditionCode is the provider's raw condition code, kept for display.
	ConditionCode string `json:"condition_code,omitempty"`
	// ConditionText is a human readable condition description.
	ConditionText string `json:"condition_text,omitempty"`
	// Condition is the canonical coarse condition class.
	Condition ConditionType `json:"condition"`

	// WindSpeedKts is the sustained wind speed in knots.
	WindSpeedKts *float64 `json:"wind_speed_kts,omitempty"`
	// WindDirection is the cardinal wind direction, e.g. "NNW".
	WindDirection string `json:"wind_direction,omitempty"`

	// PrecipitationMM is accumulated precipitation in millimetres.
	PrecipitationMM *float64 `json:"precipitation_mm,omitempty"`
	// VisibilityKM is horizontal visibility in kilometres.
	VisibilityKM *float64 `json:"visibility_km,omitempty"`
	// HumidityPct is relative humidity in percent.
	HumidityPct *float64 `json:"humidity_pct,omitempty"`
	// PressureHPa is sea-level pressure in hectopascals.
	PressureHPa *float64 `json:"pressure_hpa,omitempty"`

	Contributions    []SourceContribution `json:"contributions"`
	DataQualityScore float64              `json:"data_quality_score"`
	LastUpdated      time.Time            `json:"last_updated"`
}

// Check verifies the record invariants.
func (w *Weather) Check() error {
	if w.AirportIATA == "" {
		return trace.BadParameter("weather record is missing an airport")
	}
	if w.ObservationTime.IsZero() {
		return trace.BadParameter("weather record for %v is missing an observation time", w.AirportIATA)
	}
	if len(w.Contributions) == 0 {
		return trace.BadParameter("weather record for %v has no source contributions", w.AirportIATA)
	}
	return nil
}

// SortContributions orders the provenance list by confidence descending,
// breaking ties by timestamp descending.
func (w *Weather) SortContributions() {
	slices.SortStableFunc(w.Contributions, func(a, b SourceContribution) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return b.Timestamp.Compare(a.Timestamp)
	})
}

// Clone returns a deep copy of the weather record.
func (w *Weather) Clone() *Weather {
	out := *w
	out.TemperatureC = cloneFloat(w.TemperatureC)
	out.WindSpeedKts = cloneFloat(w.WindSpeedKts)
	out.PrecipitationMM = cloneFloat(w.PrecipitationMM)
	out.VisibilityKM = cloneFloat(w.VisibilityKM)
	out.HumidityPct = cloneFloat(w.HumidityPct)
	out.PressureHPa = cloneFloat(w.PressureHPa)
	out.Contributions = make([]SourceContribution, len(w.Contributions))
	for i, c := range w.Contributions {
		out.Contributions[i] = c
		out.Contributions[i].Fields = slices.Clone(c.Fields)
	}
	return &out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
