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
	"github.com/e3o8o/triggerr-sub002/lib/canonical"
)

// Risk multiplier envelope. The product of all multipliers is clamped into
// this range before pricing.
const (
	MinRiskMultiplier = 0.8
	MaxRiskMultiplier = 3.5
)

// RiskSnapshot is the factor breakdown persisted with every quote so a
// premium can be explained after the fact.
type RiskSnapshot struct {
	// FlightRisk is the multiplier derived from the canonical flight state.
	FlightRisk float64 `json:"flight_risk"`
	// WeatherRisk is the multiplier derived from endpoint airport weather.
	WeatherRisk float64 `json:"weather_risk"`
	// DataConfidenceRisk is the surcharge applied when aggregation quality
	// is below the surcharge floor.
	DataConfidenceRisk float64 `json:"data_confidence_risk"`
	// Combined is the clamped product of the three factors.
	Combined float64 `json:"combined"`
	// QualityScore is the bundle quality the factors were computed from.
	QualityScore float64 `json:"quality_score"`
}

// computeRisk derives the full snapshot for one flight/weather bundle.
func computeRisk(flight *canonical.Flight, origin, destination *canonical.Weather, quality, surchargeFloor float64) RiskSnapshot {
	s := RiskSnapshot{
		FlightRisk:         flightRisk(flight),
		WeatherRisk:        weatherRisk(origin, destination),
		DataConfidenceRisk: dataConfidenceRisk(quality, surchargeFloor),
		QualityScore:       quality,
	}
	s.Combined = clampMultiplier(s.FlightRisk * s.WeatherRisk * s.DataConfidenceRisk)
	return s
}

func clampMultiplier(v float64) float64 {
	if v < MinRiskMultiplier {
		return MinRiskMultiplier
	}
	if v > MaxRiskMultiplier {
		return MaxRiskMultiplier
	}
	return v
}

// flightRisk prices the canonical flight state: a flight already slipping is
// far more likely to breach the payout threshold.
func flightRisk(f *canonical.Flight) float64 {
	risk := 1.0

	switch f.Status {
	case canonical.FlightStatusDelayed:
		risk = 1.8
	case canonical.FlightStatusActive, canonical.FlightStatusDeparted:
		risk = 1.1
	case canonical.FlightStatusUnknown:
		risk = 1.2
	}

	risk += delayBucket(f.DepartureDelayMinutes)
	risk += delayBucket(f.ArrivalDelayMinutes)
	risk *= carrierFactor(f.AirlineICAO)
	return risk
}

// delayBucket maps an already-reported delay into a risk increment.
func delayBucket(minutes *int) float64 {
	if minutes == nil {
		return 0
	}
	switch m := *minutes; {
	case m >= 60:
		return 0.5
	case m >= 30:
		return 0.25
	case m >= 15:
		return 0.1
	}
	return 0
}

// carrierFactor adjusts for carrier punctuality. Unknown carriers are
// neutral.
func carrierFactor(icao string) float64 {
	switch icao {
	case "BTI", "DLH", "KLM", "SAS":
		return 0.95
	case "RYR", "WZZ":
		return 1.05
	}
	return 1.0
}

// weatherRisk prices the endpoint airport conditions. The worse endpoint
// dominates; a missing weather record is neutral.
func weatherRisk(origin, destination *canonical.Weather) float64 {
	return max(airportWeatherRisk(origin), airportWeatherRisk(destination))
}

const (
	// lowVisibilityKM is the visibility below which approaches slow down.
	lowVisibilityKM = 2.0
	// highWindKts is the sustained wind above which operations degrade.
	highWindKts = 35.0
)

func airportWeatherRisk(w *canonical.Weather) float64 {
	if w == nil {
		return 1.0
	}
	risk := 1.0
	switch w.Condition {
	case canonical.ConditionCloudy:
		risk = 1.05
	case canonical.ConditionRain:
		risk = 1.2
	case canonical.ConditionFog:
		risk = 1.3
	case canonical.ConditionSnow:
		risk = 1.5
	case canonical.ConditionStorm:
		risk = 1.8
	}
	if w.VisibilityKM != nil && *w.VisibilityKM < lowVisibilityKM {
		risk += 0.2
	}
	if w.WindSpeedKts != nil && *w.WindSpeedKts > highWindKts {
		risk += 0.15
	}
	return risk
}

// dataConfidenceRisk surcharges quotes priced from below-floor data. Refusal
// below the hard floor happens before this is consulted.
func dataConfidenceRisk(quality, surchargeFloor float64) float64 {
	if quality < surchargeFloor {
		return 1.1
	}
	return 1.0
}
