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

package sources

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/defaults"
)

const (
	aviStackName        = "avistack"
	aviStackPriority    = 85
	aviStackReliability = 0.88
	aviStackVersion     = "v1"
)

// AviStackConfig configures the AviStack flight source. AviStack
// authenticates with the API key as a query parameter.
type AviStackConfig struct {
	// APIKey is sent as the access_key query parameter.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient is optional; a timeout-bounded default is used otherwise.
	HTTPClient *http.Client
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *AviStackConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("missing parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.avistack.net/v1"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewAviStack returns the mid-priority flight source.
func NewAviStack(cfg AviStackConfig) (*AviStack, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AviStack{cfg: cfg}, nil
}

// AviStack translates AviStack flight responses into canonical records.
type AviStack struct {
	cfg AviStackConfig
}

func (a *AviStack) Name() string         { return aviStackName }
func (a *AviStack) Priority() int        { return aviStackPriority }
func (a *AviStack) Reliability() float64 { return aviStackReliability }

// CheckAvailability issues a minimal flights query; the provider has no
// dedicated health endpoint.
func (a *AviStack) CheckAvailability(ctx context.Context) error {
	var out struct{}
	query := url.Values{"access_key": []string{a.cfg.APIKey}, "limit": []string{"1"}}
	err := getJSON(ctx, a.cfg.HTTPClient, a.cfg.BaseURL, "/flights", query, nil, &out)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

type aviStackResponse struct {
	Data []aviStackFlight `json:"data"`
}

type aviStackFlight struct {
	FlightDate   string            `json:"flight_date"`
	FlightStatus string            `json:"flight_status"`
	Departure    aviStackEndpoint  `json:"departure"`
	Arrival      aviStackEndpoint  `json:"arrival"`
	Airline      aviStackAirline   `json:"airline"`
	Flight       aviStackFlightRef `json:"flight"`
	Aircraft     *aviStackAircraft `json:"aircraft"`
}

type aviStackEndpoint struct {
	IATA      string `json:"iata"`
	ICAO      string `json:"icao"`
	Terminal  string `json:"terminal"`
	Gate      string `json:"gate"`
	Delay     *int   `json:"delay"`
	Scheduled string `json:"scheduled"`
	Estimated string `json:"estimated"`
	Actual    string `json:"actual"`
}

type aviStackAirline struct {
	IATA string `json:"iata"`
	ICAO string `json:"icao"`
}

type aviStackFlightRef struct {
	IATA   string `json:"iata"`
	Number string `json:"number"`
}

type aviStackAircraft struct {
	IATA string `json:"iata"`
}

// FetchFlight fetches one flight-day and normalizes it.
func (a *AviStack) FetchFlight(ctx context.Context, q FlightQuery) (*canonical.Flight, error) {
	day := q.Date.UTC().Format(time.DateOnly)
	query := url.Values{
		"access_key":  []string{a.cfg.APIKey},
		"flight_iata": []string{q.FlightNumber},
		"flight_date": []string{day},
	}
	var resp aviStackResponse
	err := getJSON(ctx, a.cfg.HTTPClient, a.cfg.BaseURL, "/flights", query, nil, &resp)
	if err != nil {
		providerRequestsCounter.WithLabelValues(aviStackName, requestResult(err)).Inc()
		return nil, trace.Wrap(err)
	}
	providerRequestsCounter.WithLabelValues(aviStackName, "ok").Inc()
	if len(resp.Data) == 0 {
		return nil, trace.NotFound("avistack has no data for %v on %v", q.FlightNumber, day)
	}
	flight, err := a.toCanonical(resp.Data[0])
	return flight, trace.Wrap(err)
}

func (a *AviStack) toCanonical(in aviStackFlight) (*canonical.Flight, error) {
	out := &canonical.Flight{
		FlightNumber: in.Flight.IATA,
		AirlineIATA:  in.Airline.IATA,
		AirlineICAO:  in.Airline.ICAO,
		Origin:       canonical.Airport{IATA: in.Departure.IATA, ICAO: in.Departure.ICAO},
		Destination:  canonical.Airport{IATA: in.Arrival.IATA, ICAO: in.Arrival.ICAO},
		Gate:         in.Departure.Gate,
		Terminal:     in.Departure.Terminal,
	}
	if in.Aircraft != nil {
		out.AircraftType = in.Aircraft.IATA
	}

	fields := []string{"flight_number", "origin", "destination"}

	var err error
	if out.ScheduledDeparture, err = parseProviderTime(in.Departure.Scheduled); err != nil {
		return nil, trace.Wrap(err)
	}
	fields = append(fields, "scheduled_departure")

	for _, ts := range []struct {
		raw   string
		dst   **time.Time
		field string
	}{
		{in.Departure.Estimated, &out.EstimatedDeparture, "estimated_departure"},
		{in.Departure.Actual, &out.ActualDeparture, "actual_departure"},
		{in.Arrival.Scheduled, &out.ScheduledArrival, "scheduled_arrival"},
		{in.Arrival.Estimated, &out.EstimatedArrival, "estimated_arrival"},
		{in.Arrival.Actual, &out.ActualArrival, "actual_arrival"},
	} {
		t, err := parseProviderTime(ts.raw)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !t.IsZero() {
			*ts.dst = &t
			fields = append(fields, ts.field)
		}
	}

	out.Status = aviStackStatus(in.FlightStatus)
	if out.Status == canonical.FlightStatusCancelled {
		out.Cancelled = true
	}
	fields = append(fields, "status")

	if in.Departure.Delay != nil {
		out.DepartureDelayMinutes = cloneIntValue(*in.Departure.Delay)
		fields = append(fields, "departure_delay_minutes")
	}
	if in.Arrival.Delay != nil {
		out.ArrivalDelayMinutes = cloneIntValue(*in.Arrival.Delay)
		fields = append(fields, "arrival_delay_minutes")
	}

	now := a.cfg.Clock.Now().UTC()
	completeness := canonical.FlightCompleteness(out, aviStackReliability)
	out.Contributions = []canonical.SourceContribution{{
		SourceName: aviStackName,
		Fields:     fields,
		Timestamp:  now,
		Confidence: confidence(completeness, aviStackReliability),
		APIVersion: aviStackVersion,
	}}
	out.DataQualityScore = completeness
	out.LastUpdated = now
	return out, nil
}

func aviStackStatus(s string) canonical.FlightStatus {
	switch s {
	case "scheduled":
		return canonical.FlightStatusScheduled
	case "active":
		return canonical.FlightStatusActive
	case "landed":
		return canonical.FlightStatusLanded
	case "cancelled":
		return canonical.FlightStatusCancelled
	case "diverted":
		return canonical.FlightStatusDiverted
	case "delayed", "incident":
		return canonical.FlightStatusDelayed
	default:
		return canonical.FlightStatusUnknown
	}
}

func cloneIntValue(v int) *int { return &v }
