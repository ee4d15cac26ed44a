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
	aeroAPIName        = "aeroapi"
	aeroAPIPriority    = 95
	aeroAPIReliability = 0.92
	aeroAPIVersion     = "v4"
)

// AeroAPIConfig configures the AeroAPI flight source. AeroAPI authenticates
// with the API key in a request header.
type AeroAPIConfig struct {
	// APIKey is sent as the x-apikey header.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient is optional; a timeout-bounded default is used otherwise.
	HTTPClient *http.Client
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *AeroAPIConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("missing parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://aeroapi.flightaware.com/aeroapi"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewAeroAPI returns the highest-priority flight source.
func NewAeroAPI(cfg AeroAPIConfig) (*AeroAPI, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AeroAPI{cfg: cfg}, nil
}

// AeroAPI translates AeroAPI flight responses into canonical records.
type AeroAPI struct {
	cfg AeroAPIConfig
}

func (a *AeroAPI) Name() string         { return aeroAPIName }
func (a *AeroAPI) Priority() int        { return aeroAPIPriority }
func (a *AeroAPI) Reliability() float64 { return aeroAPIReliability }

// CheckAvailability hits the account usage endpoint, which is cheap and
// exercises authentication.
func (a *AeroAPI) CheckAvailability(ctx context.Context) error {
	var out struct{}
	err := getJSON(ctx, a.cfg.HTTPClient, a.cfg.BaseURL, "/account/usage", nil, a.auth, &out)
	// NotFound still proves the provider is up and the key works.
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

func (a *AeroAPI) auth(req *http.Request) {
	req.Header.Set("x-apikey", a.cfg.APIKey)
}

type aeroAPIResponse struct {
	Flights []aeroAPIFlight `json:"flights"`
}

type aeroAPIFlight struct {
	FaFlightID     string `json:"fa_flight_id"`
	Ident          string `json:"ident"`
	OperatorIATA   string `json:"operator_iata"`
	OperatorICAO   string `json:"operator_icao"`
	Origin         aeroAPIAirport
	Destination    aeroAPIAirport
	ScheduledOut   string `json:"scheduled_out"`
	EstimatedOut   string `json:"estimated_out"`
	ActualOut      string `json:"actual_out"`
	ScheduledIn    string `json:"scheduled_in"`
	EstimatedIn    string `json:"estimated_in"`
	ActualIn       string `json:"actual_in"`
	Status         string `json:"status"`
	Cancelled      bool   `json:"cancelled"`
	Diverted       bool   `json:"diverted"`
	DivertedTo     string `json:"diverted_to"`
	DepartureDelay int    `json:"departure_delay"`
	ArrivalDelay   int    `json:"arrival_delay"`
	Gate           string `json:"gate_origin"`
	Terminal       string `json:"terminal_origin"`
	AircraftType   string `json:"aircraft_type"`
}

type aeroAPIAirport struct {
	CodeIATA string `json:"code_iata"`
	CodeICAO string `json:"code_icao"`
}

// FetchFlight fetches one flight-day and normalizes it.
func (a *AeroAPI) FetchFlight(ctx context.Context, q FlightQuery) (*canonical.Flight, error) {
	day := q.Date.UTC().Format(time.DateOnly)
	query := url.Values{
		"start": []string{day},
		"end":   []string{q.Date.UTC().Add(24 * time.Hour).Format(time.DateOnly)},
	}
	var resp aeroAPIResponse
	err := getJSON(ctx, a.cfg.HTTPClient, a.cfg.BaseURL, "/flights/"+q.FlightNumber, query, a.auth, &resp)
	if err != nil {
		providerRequestsCounter.WithLabelValues(aeroAPIName, requestResult(err)).Inc()
		return nil, trace.Wrap(err)
	}
	providerRequestsCounter.WithLabelValues(aeroAPIName, "ok").Inc()
	if len(resp.Flights) == 0 {
		return nil, trace.NotFound("aeroapi has no data for %v on %v", q.FlightNumber, day)
	}
	flight, err := a.toCanonical(resp.Flights[0])
	return flight, trace.Wrap(err)
}

func (a *AeroAPI) toCanonical(in aeroAPIFlight) (*canonical.Flight, error) {
	out := &canonical.Flight{
		FlightNumber: in.Ident,
		AirlineIATA:  in.OperatorIATA,
		AirlineICAO:  in.OperatorICAO,
		Origin:       canonical.Airport{IATA: in.Origin.CodeIATA, ICAO: in.Origin.CodeICAO},
		Destination:  canonical.Airport{IATA: in.Destination.CodeIATA, ICAO: in.Destination.CodeICAO},
		Cancelled:    in.Cancelled,
		Gate:         in.Gate,
		Terminal:     in.Terminal,
		AircraftType: in.AircraftType,
	}
	if in.Diverted {
		out.DivertedTo = in.DivertedTo
	}

	fields := []string{"flight_number", "origin", "destination"}

	var err error
	if out.ScheduledDeparture, err = parseProviderTime(in.ScheduledOut); err != nil {
		return nil, trace.Wrap(err)
	}
	fields = append(fields, "scheduled_departure")

	for _, ts := range []struct {
		raw   string
		dst   **time.Time
		field string
	}{
		{in.EstimatedOut, &out.EstimatedDeparture, "estimated_departure"},
		{in.ActualOut, &out.ActualDeparture, "actual_departure"},
		{in.ScheduledIn, &out.ScheduledArrival, "scheduled_arrival"},
		{in.EstimatedIn, &out.EstimatedArrival, "estimated_arrival"},
		{in.ActualIn, &out.ActualArrival, "actual_arrival"},
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

	out.Status = aeroAPIStatus(in)
	fields = append(fields, "status")

	// AeroAPI reports delays in seconds.
	if in.DepartureDelay != 0 {
		m := in.DepartureDelay / 60
		out.DepartureDelayMinutes = &m
		fields = append(fields, "departure_delay_minutes")
	}
	if in.ArrivalDelay != 0 {
		m := in.ArrivalDelay / 60
		out.ArrivalDelayMinutes = &m
		fields = append(fields, "arrival_delay_minutes")
	}

	now := a.cfg.Clock.Now().UTC()
	completeness := canonical.FlightCompleteness(out, aeroAPIReliability)
	out.Contributions = []canonical.SourceContribution{{
		SourceName: aeroAPIName,
		Fields:     fields,
		Timestamp:  now,
		Confidence: confidence(completeness, aeroAPIReliability),
		SourceID:   in.FaFlightID,
		APIVersion: aeroAPIVersion,
	}}
	out.DataQualityScore = completeness
	out.LastUpdated = now
	return out, nil
}

func aeroAPIStatus(in aeroAPIFlight) canonical.FlightStatus {
	switch {
	case in.Cancelled:
		return canonical.FlightStatusCancelled
	case in.Diverted:
		return canonical.FlightStatusDiverted
	}
	switch in.Status {
	case "Scheduled":
		return canonical.FlightStatusScheduled
	case "En Route", "In Air":
		return canonical.FlightStatusActive
	case "Taxiing", "Departed":
		return canonical.FlightStatusDeparted
	case "Arrived", "Landed":
		return canonical.FlightStatusLanded
	case "Delayed":
		return canonical.FlightStatusDelayed
	default:
		if in.ArrivalDelay >= 900 || in.DepartureDelay >= 900 {
			return canonical.FlightStatusDelayed
		}
		return canonical.FlightStatusUnknown
	}
}

func requestResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case trace.IsNotFound(err):
		return "no_data"
	case trace.IsAccessDenied(err):
		return "auth"
	default:
		return "error"
	}
}
