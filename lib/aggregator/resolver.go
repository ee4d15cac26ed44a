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

// Package aggregator produces one canonical record per query: it routes to
// healthy sources, fans out in parallel, resolves conflicts between the
// records that come back, and caches the merged result.
package aggregator

import (
	"fmt"
	"slices"
	"time"

	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
)

// Candidate is one source's value for a contested field.
type Candidate struct {
	// Source is the adapter that supplied the value.
	Source string `json:"source"`
	// Value is a string rendering of the supplied value.
	Value string `json:"value"`
	// Confidence is the source record's confidence.
	Confidence float64 `json:"confidence"`
	// Timestamp is when the source produced the record.
	Timestamp time.Time `json:"timestamp"`
}

// Conflict describes a field for which two or more sources supplied
// different non-null values.
type Conflict struct {
	// Field is the canonical field name.
	Field string `json:"field"`
	// Winner is the candidate that was selected.
	Winner Candidate `json:"winner"`
	// Candidates are all values that were considered, winner included,
	// in selection order.
	Candidates []Candidate `json:"candidates"`
}

// FlightResolution is the output of merging N flight records.
type FlightResolution struct {
	Flight       *canonical.Flight
	Conflicts    []Conflict
	QualityScore float64
}

// WeatherResolution is the output of merging N weather records.
type WeatherResolution struct {
	Weather      *canonical.Weather
	Conflicts    []Conflict
	QualityScore float64
}

const (
	conflictPenaltyStep = 0.05
	conflictPenaltyCap  = 0.3
	diversityBonusStep  = 0.02
	diversityBonusCap   = 0.1
)

// ResolveFlights merges a non-empty list of canonical flight records for the
// same flight-day into one, deterministically: for every critical field the
// highest-confidence source wins, ties broken by most recent timestamp.
// Non-critical fields are filled with the first non-null value in the same
// order. The result does not depend on input order.
func ResolveFlights(records []*canonical.Flight, now time.Time) (*FlightResolution, error) {
	if len(records) == 0 {
		return nil, trace.BadParameter("cannot resolve an empty record set")
	}
	if len(records) == 1 {
		out := records[0].Clone()
		out.LastUpdated = now.UTC()
		return &FlightResolution{
			Flight:       out,
			QualityScore: out.DataQualityScore,
		}, nil
	}

	ordered := orderFlights(records)
	merged := ordered[0].Clone()
	var conflicts []Conflict

	// critical fields: pick by confidence, record disagreements
	fields := []struct {
		name string
		get  func(*canonical.Flight) (string, bool)
		set  func(*canonical.Flight, *canonical.Flight)
	}{
		{
			name: "status",
			get: func(f *canonical.Flight) (string, bool) {
				return string(f.Status), f.Status != "" && f.Status != canonical.FlightStatusUnknown
			},
			set: func(dst, src *canonical.Flight) { dst.Status = src.Status },
		},
		{
			name: "actual_departure",
			get: func(f *canonical.Flight) (string, bool) {
				if f.ActualDeparture == nil {
					return "", false
				}
				return f.ActualDeparture.UTC().Format(time.RFC3339), true
			},
			set: func(dst, src *canonical.Flight) { dst.ActualDeparture = src.ActualDeparture },
		},
		{
			name: "actual_arrival",
			get: func(f *canonical.Flight) (string, bool) {
				if f.ActualArrival == nil {
					return "", false
				}
				return f.ActualArrival.UTC().Format(time.RFC3339), true
			},
			set: func(dst, src *canonical.Flight) { dst.ActualArrival = src.ActualArrival },
		},
		{
			name: "departure_delay_minutes",
			get: func(f *canonical.Flight) (string, bool) {
				if f.DepartureDelayMinutes == nil {
					return "", false
				}
				return fmt.Sprintf("%d", *f.DepartureDelayMinutes), true
			},
			set: func(dst, src *canonical.Flight) { dst.DepartureDelayMinutes = src.DepartureDelayMinutes },
		},
		{
			name: "arrival_delay_minutes",
			get: func(f *canonical.Flight) (string, bool) {
				if f.ArrivalDelayMinutes == nil {
					return "", false
				}
				return fmt.Sprintf("%d", *f.ArrivalDelayMinutes), true
			},
			set: func(dst, src *canonical.Flight) { dst.ArrivalDelayMinutes = src.ArrivalDelayMinutes },
		},
		{
			name: "cancelled",
			get: func(f *canonical.Flight) (string, bool) {
				// absence of a cancellation marker is only meaningful
				// when the source committed to some status
				if f.Status == "" || f.Status == canonical.FlightStatusUnknown {
					return "", false
				}
				return fmt.Sprintf("%t", f.Cancelled), true
			},
			set: func(dst, src *canonical.Flight) { dst.Cancelled = src.Cancelled },
		},
		{
			name: "diverted_to",
			get: func(f *canonical.Flight) (string, bool) {
				return f.DivertedTo, f.DivertedTo != ""
			},
			set: func(dst, src *canonical.Flight) { dst.DivertedTo = src.DivertedTo },
		},
	}

	for _, field := range fields {
		winner, conflict := pickFlightValue(ordered, field.name, field.get)
		if winner == nil {
			continue
		}
		field.set(merged, winner)
		if conflict != nil {
			conflicts = append(conflicts, *conflict)
		}
	}

	// non-critical fields: first non-null in priority order, no conflict
	// recorded
	for _, src := range ordered {
		if merged.AirlineIATA == "" {
			merged.AirlineIATA = src.AirlineIATA
		}
		if merged.AirlineICAO == "" {
			merged.AirlineICAO = src.AirlineICAO
		}
		if merged.Origin.ICAO == "" {
			merged.Origin.ICAO = src.Origin.ICAO
		}
		if merged.Destination.ICAO == "" {
			merged.Destination.ICAO = src.Destination.ICAO
		}
		if merged.EstimatedDeparture == nil {
			merged.EstimatedDeparture = src.EstimatedDeparture
		}
		if merged.ScheduledArrival == nil {
			merged.ScheduledArrival = src.ScheduledArrival
		}
		if merged.EstimatedArrival == nil {
			merged.EstimatedArrival = src.EstimatedArrival
		}
		if merged.Gate == "" {
			merged.Gate = src.Gate
		}
		if merged.Terminal == "" {
			merged.Terminal = src.Terminal
		}
		if merged.AircraftType == "" {
			merged.AircraftType = src.AircraftType
		}
	}

	merged.Contributions = mergeContributions(collectFlightContributions(ordered))
	merged.LastUpdated = now.UTC()

	var completenessSum float64
	for _, r := range records {
		completenessSum += r.DataQualityScore
	}
	merged.DataQualityScore = qualityScore(completenessSum/float64(len(records)), len(records), len(conflicts))

	return &FlightResolution{
		Flight:       merged,
		Conflicts:    conflicts,
		QualityScore: merged.DataQualityScore,
	}, nil
}

// ResolveWeather merges a non-empty list of canonical weather records for
// the same airport slot. The condition class is the only critical field;
// measurements are filled first-non-null in priority order.
func ResolveWeather(records []*canonical.Weather, now time.Time) (*WeatherResolution, error) {
	if len(records) == 0 {
		return nil, trace.BadParameter("cannot resolve an empty record set")
	}
	if len(records) == 1 {
		out := records[0].Clone()
		out.LastUpdated = now.UTC()
		return &WeatherResolution{
			Weather:      out,
			QualityScore: out.DataQualityScore,
		}, nil
	}

	ordered := orderWeather(records)
	merged := ordered[0].Clone()
	var conflicts []Conflict

	candidates := make([]Candidate, 0, len(ordered))
	distinct := make(map[string]struct{})
	for _, r := range ordered {
		if r.Condition == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Source:     topSource(r.Contributions),
			Value:      string(r.Condition),
			Confidence: topConfidence(r.Contributions),
			Timestamp:  topTimestamp(r.Contributions),
		})
		distinct[string(r.Condition)] = struct{}{}
	}
	if len(distinct) > 1 {
		conflicts = append(conflicts, Conflict{
			Field:      "condition",
			Winner:     candidates[0],
			Candidates: candidates,
		})
	}

	for _, src := range ordered {
		if merged.TemperatureC == nil {
			merged.TemperatureC = src.TemperatureC
		}
		if merged.WindSpeedKts == nil {
			merged.WindSpeedKts = src.WindSpeedKts
		}
		if merged.WindDirection == "" {
			merged.WindDirection = src.WindDirection
		}
		if merged.PrecipitationMM == nil {
			merged.PrecipitationMM = src.PrecipitationMM
		}
		if merged.VisibilityKM == nil {
			merged.VisibilityKM = src.VisibilityKM
		}
		if merged.HumidityPct == nil {
			merged.HumidityPct = src.HumidityPct
		}
		if merged.PressureHPa == nil {
			merged.PressureHPa = src.PressureHPa
		}
	}

	merged.Contributions = mergeContributions(collectWeatherContributions(ordered))
	merged.LastUpdated = now.UTC()

	var completenessSum float64
	for _, r := range records {
		completenessSum += r.DataQualityScore
	}
	merged.DataQualityScore = qualityScore(completenessSum/float64(len(records)), len(records), len(conflicts))

	return &WeatherResolution{
		Weather:      merged,
		Conflicts:    conflicts,
		QualityScore: merged.DataQualityScore,
	}, nil
}

// qualityScore is the mean completeness minus a conflict penalty plus a
// source-diversity bonus, clamped to [0, 1].
func qualityScore(meanCompleteness float64, records, conflicts int) float64 {
	penalty := min(conflictPenaltyCap, conflictPenaltyStep*float64(conflicts))
	bonus := min(diversityBonusCap, diversityBonusStep*float64(records-1))
	score := meanCompleteness - penalty + bonus
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// pickFlightValue gathers the non-null values for one critical field and
// selects a winner. It returns nil when no record has the field, and a
// Conflict when at least two records disagree.
func pickFlightValue(ordered []*canonical.Flight, name string, get func(*canonical.Flight) (string, bool)) (*canonical.Flight, *Conflict) {
	var winner *canonical.Flight
	var candidates []Candidate
	distinct := make(map[string]struct{})
	for _, r := range ordered {
		value, ok := get(r)
		if !ok {
			continue
		}
		if winner == nil {
			winner = r
		}
		candidates = append(candidates, Candidate{
			Source:     topSource(r.Contributions),
			Value:      value,
			Confidence: topConfidence(r.Contributions),
			Timestamp:  topTimestamp(r.Contributions),
		})
		distinct[value] = struct{}{}
	}
	if winner == nil {
		return nil, nil
	}
	if len(distinct) < 2 {
		return winner, nil
	}
	return winner, &Conflict{
		Field:      name,
		Winner:     candidates[0],
		Candidates: candidates,
	}
}

// orderFlights sorts records by confidence descending, breaking ties by
// contribution timestamp descending (most recent wins) and finally by source
// name so the result is stable under input shuffling.
func orderFlights(records []*canonical.Flight) []*canonical.Flight {
	out := make([]*canonical.Flight, len(records))
	copy(out, records)
	slices.SortStableFunc(out, func(a, b *canonical.Flight) int {
		return compareProvenance(
			topConfidence(a.Contributions), topTimestamp(a.Contributions), topSource(a.Contributions),
			topConfidence(b.Contributions), topTimestamp(b.Contributions), topSource(b.Contributions),
		)
	})
	return out
}

func orderWeather(records []*canonical.Weather) []*canonical.Weather {
	out := make([]*canonical.Weather, len(records))
	copy(out, records)
	slices.SortStableFunc(out, func(a, b *canonical.Weather) int {
		return compareProvenance(
			topConfidence(a.Contributions), topTimestamp(a.Contributions), topSource(a.Contributions),
			topConfidence(b.Contributions), topTimestamp(b.Contributions), topSource(b.Contributions),
		)
	})
	return out
}

func compareProvenance(confA float64, tsA time.Time, srcA string, confB float64, tsB time.Time, srcB string) int {
	switch {
	case confA > confB:
		return -1
	case confA < confB:
		return 1
	}
	if c := tsB.Compare(tsA); c != 0 {
		return c
	}
	switch {
	case srcA < srcB:
		return -1
	case srcA > srcB:
		return 1
	}
	return 0
}

func topSource(contribs []canonical.SourceContribution) string {
	if len(contribs) == 0 {
		return ""
	}
	return contribs[0].SourceName
}

func topConfidence(contribs []canonical.SourceContribution) float64 {
	if len(contribs) == 0 {
		return 0
	}
	return contribs[0].Confidence
}

func topTimestamp(contribs []canonical.SourceContribution) time.Time {
	if len(contribs) == 0 {
		return time.Time{}
	}
	return contribs[0].Timestamp
}

func collectFlightContributions(records []*canonical.Flight) []canonical.SourceContribution {
	var out []canonical.SourceContribution
	for _, r := range records {
		out = append(out, r.Contributions...)
	}
	return out
}

func collectWeatherContributions(records []*canonical.Weather) []canonical.SourceContribution {
	var out []canonical.SourceContribution
	for _, r := range records {
		out = append(out, r.Contributions...)
	}
	return out
}

// mergeContributions keeps, for each source, the contribution with the
// higher confidence, and sorts the result by confidence descending.
func mergeContributions(contribs []canonical.SourceContribution) []canonical.SourceContribution {
	bySource := make(map[string]canonical.SourceContribution)
	for _, c := range contribs {
		if prev, ok := bySource[c.SourceName]; !ok || c.Confidence > prev.Confidence {
			bySource[c.SourceName] = c
		}
	}
	out := make([]canonical.SourceContribution, 0, len(bySource))
	for _, c := range bySource {
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b canonical.SourceContribution) int {
		return compareProvenance(a.Confidence, a.Timestamp, a.SourceName, b.Confidence, b.Timestamp, b.SourceName)
	})
	return out
}
