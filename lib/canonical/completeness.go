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

const (
	requiredFieldWeight  = 2.0
	importantFieldWeight = 1.0
	// reliabilityWeight is the share of the score contributed by the static
	// source reliability rather than field presence.
	reliabilityWeight = 0.1
)

// FlightCompleteness returns a weighted presence score for a single-source
// flight record in [0, 1]. Required fields (flight number, origin and
// destination IATA, scheduled departure) weigh double; important fields
// (status, actual timestamps, airline ICAO) weigh single. A small fraction of
// the source's static reliability is added on top, and the result is capped
// at 1.
func FlightCompleteness(f *Flight, reliability float64) float64 {
	var got, max float64

	required := []bool{
		f.FlightNumber != "",
		f.Origin.IATA != "",
		f.Destination.IATA != "",
		!f.ScheduledDeparture.IsZero(),
	}
	for _, present := range required {
		max += requiredFieldWeight
		if present {
			got += requiredFieldWeight
		}
	}

	important := []bool{
		f.Status != "" && f.Status != FlightStatusUnknown,
		f.ActualDeparture != nil,
		f.ActualArrival != nil,
		f.AirlineICAO != "",
	}
	for _, present := range important {
		max += importantFieldWeight
		if present {
			got += importantFieldWeight
		}
	}

	score := (got/max)*(1-reliabilityWeight) + clamp01(reliability)*reliabilityWeight
	return clamp01(score)
}

// WeatherCompleteness is the weather analogue of FlightCompleteness. The
// airport, observation time and condition class are required; the numeric
// measurements are important.
func WeatherCompleteness(w *Weather, reliability float64) float64 {
	var got, max float64

	required := []bool{
		w.AirportIATA != "",
		!w.ObservationTime.IsZero(),
		w.Condition != "",
	}
	for _, present := range required {
		max += requiredFieldWeight
		if present {
			got += requiredFieldWeight
		}
	}

	important := []bool{
		w.TemperatureC != nil,
		w.WindSpeedKts != nil,
		w.VisibilityKM != nil,
		w.PrecipitationMM != nil,
		w.HumidityPct != nil,
	}
	for _, present := range important {
		max += importantFieldWeight
		if present {
			got += importantFieldWeight
		}
	}

	score := (got/max)*(1-reliabilityWeight) + clamp01(reliability)*reliabilityWeight
	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
