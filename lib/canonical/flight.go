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

// Package canonical defines the provider-independent flight and weather
// records that every source adapter normalizes into, along with their
// provenance and completeness scoring.
package canonical

import (
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// FlightStatus is the canonical flight status vocabulary. Every provider
// status maps into one of these at the adapter boundary.
type FlightStatus string

const (
	FlightStatusScheduled FlightStatus = "SCHEDULED"
	FlightStatusActive    FlightStatus = "ACTIVE"
	FlightStatusDeparted  FlightStatus = "DEPARTED"
	FlightStatusLanded    FlightStatus = "LANDED"
	FlightStatusCancelled FlightStatus = "CANCELLED"
	FlightStatusDiverted  FlightStatus = "DIVERTED"
	FlightStatusDelayed   FlightStatus = "DELAYED"
	FlightStatusUnknown   FlightStatus = "UNKNOWN"
)

// Disruptive reports whether the status already represents a disruptive
// terminal or near-terminal event from an underwriting point of view.
func (s FlightStatus) Disruptive() bool {
	switch s {
	case FlightStatusDelayed, FlightStatusCancelled, FlightStatusDiverted:
		return true
	}
	return false
}

// SourceContribution records which provider filled which fields of a
// canonical record, at what time and with what confidence.
type SourceContribution struct {
	// SourceName is the adapter name, e.g. "aeroapi".
	SourceName string `json:"source_name"`
	// Fields lists exactly the canonical field names the source filled.
	Fields []string `json:"fields"`
	// Timestamp is when the source produced the record.
	Timestamp time.Time `json:"timestamp"`
	// Confidence is the adapter's per-record completeness score combined
	// with its static reliability, in [0, 1].
	Confidence float64 `json:"confidence"`
	// SourceID is the provider's own identifier for the record, if any.
	SourceID string `json:"source_id,omitempty"`
	// APIVersion is the provider API version the record came from.
	APIVersion string `json:"api_version,omitempty"`
}

// Airport identifies an airport by IATA code with an optional ICAO code.
type Airport struct {
	IATA string `json:"iata"`
	ICAO string `json:"icao,omitempty"`
}

// Flight is the provider-independent flight record. Identity is the
// flight number plus the scheduled departure; everything else is attribute
// data merged from one or more sources.
type Flight struct {
	// FlightNumber is the marketing flight number, e.g. "BT318".
	FlightNumber string `json:"flight_number"`
	// AirlineIATA and AirlineICAO are the operating carrier codes.
	AirlineIATA string `json:"airline_iata,omitempty"`
	AirlineICAO string `json:"airline_icao,omitempty"`

	Origin      Airport `json:"origin"`
	Destination Airport `json:"destination"`

	ScheduledDeparture time.Time  `json:"scheduled_departure"`
	EstimatedDeparture *time.Time `json:"estimated_departure,omitempty"`
	ActualDeparture    *time.Time `json:"actual_departure,omitempty"`
	ScheduledArrival   *time.Time `json:"scheduled_arrival,omitempty"`
	EstimatedArrival   *time.Time `json:"estimated_arrival,omitempty"`
	ActualArrival      *time.Time `json:"actual_arrival,omitempty"`

	Status FlightStatus `json:"status"`

	// DepartureDelayMinutes and ArrivalDelayMinutes are provider-reported
	// delays; nil means the provider did not report one.
	DepartureDelayMinutes *int `json:"departure_delay_minutes,omitempty"`
	ArrivalDelayMinutes   *int `json:"arrival_delay_minutes,omitempty"`

	Cancelled bool `json:"cancelled"`
	// DivertedTo is the IATA code of the diversion airport, when diverted.
	DivertedTo string `json:"diverted_to,omitempty"`

	Gate         string `json:"gate,omitempty"`
	Terminal     string `json:"terminal,omitempty"`
	AircraftType string `json:"aircraft_type,omitempty"`

	// Contributions is the provenance list, sorted by confidence descending.
	Contributions []SourceContribution `json:"contributions"`
	// DataQualityScore is the merged record quality in [0, 1].
	DataQualityScore float64 `json:"data_quality_score"`
	// LastUpdated is when the record was last assembled or merged.
	LastUpdated time.Time `json:"last_updated"`
}

// Check verifies the record invariants: at least one contribution, arrival
// not before departure, and status consistent with the timestamps present.
func (f *Flight) Check() error {
	if f.FlightNumber == "" {
		return trace.BadParameter("flight record is missing a flight number")
	}
	if f.ScheduledDeparture.IsZero() {
		return trace.BadParameter("flight %v is missing a scheduled departure", f.FlightNumber)
	}
	if len(f.Contributions) == 0 {
		return trace.BadParameter("flight %v has no source contributions", f.FlightNumber)
	}
	if f.ActualArrival != nil && f.ActualDeparture != nil && f.ActualArrival.Before(*f.ActualDeparture) {
		return trace.BadParameter("flight %v arrives before it departs", f.FlightNumber)
	}
	if f.Status == FlightStatusLanded && f.ActualArrival == nil {
		return trace.BadParameter("flight %v is LANDED without an actual arrival", f.FlightNumber)
	}
	if !slices.IsSortedFunc(f.Contributions, func(a, b SourceContribution) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	}) {
		return trace.BadParameter("flight %v contributions are not sorted by confidence", f.FlightNumber)
	}
	return nil
}

// SortContributions orders the provenance list by confidence descending,
// breaking ties by timestamp descending.
func (f *Flight) SortContributions() {
	slices.SortStableFunc(f.Contributions, func(a, b SourceContribution) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return b.Timestamp.Compare(a.Timestamp)
	})
}

// DepartureDate returns the UTC date component of the scheduled departure,
// which together with the flight number forms the record identity.
func (f *Flight) DepartureDate() string {
	return f.ScheduledDeparture.UTC().Format(time.DateOnly)
}

// Clone returns a deep copy of the flight record.
func (f *Flight) Clone() *Flight {
	out := *f
	out.EstimatedDeparture = cloneTime(f.EstimatedDeparture)
	out.ActualDeparture = cloneTime(f.ActualDeparture)
	out.ScheduledArrival = cloneTime(f.ScheduledArrival)
	out.EstimatedArrival = cloneTime(f.EstimatedArrival)
	out.ActualArrival = cloneTime(f.ActualArrival)
	out.DepartureDelayMinutes = cloneInt(f.DepartureDelayMinutes)
	out.ArrivalDelayMinutes = cloneInt(f.ArrivalDelayMinutes)
	out.Contributions = make([]SourceContribution, len(f.Contributions))
	for i, c := range f.Contributions {
		out.Contributions[i] = c
		out.Contributions[i].Fields = slices.Clone(c.Fields)
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
