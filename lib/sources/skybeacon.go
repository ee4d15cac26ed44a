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
	skyBeaconName        = "skybeacon"
	skyBeaconPriority    = 75
	skyBeaconReliability = 0.80
	skyBeaconVersion     = "v2"
)

// SkyBeaconConfig configures the SkyBeacon flight source. SkyBeacon uses
// HTTP basic authentication.
type SkyBeaconConfig struct {
	// Username and Password are the basic auth credentials.
	Username string
	Password string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient is optional; a timeout-bounded default is used otherwise.
	HTTPClient *http.Client
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets defaults.
func (c *SkyBeaconConfig) CheckAndSetDefaults() error {
	if c.Username == "" {
		return trace.BadParameter("missing parameter Username")
	}
	if c.Password == "" {
		return trace.BadParameter("missing parameter Password")
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://data.skybeacon.io/api/v2"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaults.ProviderRequestTimeout}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// NewSkyBeacon returns the lowest-priority flight source. It reports fewer
// fields than the others but tracks ADS-B positions directly, which makes
// its actual departure and arrival times trustworthy.
func NewSkyBeacon(cfg SkyBeaconConfig) (*SkyBeacon, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &SkyBeacon{cfg: cfg}, nil
}

// SkyBeacon translates SkyBeacon flight responses into canonical records.
type SkyBeacon struct {
	cfg SkyBeaconConfig
}

func (s *SkyBeacon) Name() string         { return skyBeaconName }
func (s *SkyBeacon) Priority() int        { return skyBeaconPriority }
func (s *SkyBeacon) Reliability() float64 { return skyBeaconReliability }

// CheckAvailability hits the status endpoint.
func (s *SkyBeacon) CheckAvailability(ctx context.Context) error {
	var out struct{}
	err := getJSON(ctx, s.cfg.HTTPClient, s.cfg.BaseURL, "/status", nil, s.auth, &out)
	if err != nil && !trace.IsNotFound(err) {
		return trace.Wrap(err)
	}
	return nil
}

func (s *SkyBeacon) auth(req *http.Request) {
	req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
}

type skyBeaconFlight struct {
	Callsign      string `json:"callsign"`
	AirlineICAO   string `json:"airline_icao"`
	OriginIATA    string `json:"origin"`
	DestIATA      string `json:"destination"`
	ScheduledDep  string `json:"scheduled_departure"`
	ActualDep     string `json:"actual_departure"`
	ScheduledArr  string `json:"scheduled_arrival"`
	ActualArr     string `json:"actual_arrival"`
	State         string `json:"state"`
	DelayMinutes  *int   `json:"delay_minutes"`
	DivertedToIATA string `json:"diverted_to"`
}

// FetchFlight fetches one flight-day and normalizes it.
func (s *SkyBeacon) FetchFlight(ctx context.Context, q FlightQuery) (*canonical.Flight, error) {
	day := q.Date.UTC().Format(time.DateOnly)
	query := url.Values{"date": []string{day}}
	var resp skyBeaconFlight
	err := getJSON(ctx, s.cfg.HTTPClient, s.cfg.BaseURL, "/flights/"+q.FlightNumber, query, s.auth, &resp)
	if err != nil {
		providerRequestsCounter.WithLabelValues(skyBeaconName, requestResult(err)).Inc()
		return nil, trace.Wrap(err)
	}
	providerRequestsCounter.WithLabelValues(skyBeaconName, "ok").Inc()
	if resp.Callsign == "" {
		return nil, trace.NotFound("skybeacon has no data for %v on %v", q.FlightNumber, day)
	}
	flight, err := s.toCanonical(q.FlightNumber, resp)
	return flight, trace.Wrap(err)
}

func (s *SkyBeacon) toCanonical(flightNumber string, in skyBeaconFlight) (*canonical.Flight, error) {
	out := &canonical.Flight{
		FlightNumber: flightNumber,
		AirlineICAO:  in.AirlineICAO,
		Origin:       canonical.Airport{IATA: in.OriginIATA},
		Destination:  canonical.Airport{IATA: in.DestIATA},
		DivertedTo:   in.DivertedToIATA,
	}

	fields := []string{"flight_number", "origin", "destination"}

	var err error
	if out.ScheduledDeparture, err = parseProviderTime(in.ScheduledDep); err != nil {
		return nil, trace.Wrap(err)
	}
	fields = append(fields, "scheduled_departure")

	for _, ts := range []struct {
		raw   string
		dst   **time.Time
		field string
	}{
		{in.ActualDep, &out.ActualDeparture, "actual_departure"},
		{in.ScheduledArr, &out.ScheduledArrival, "scheduled_arrival"},
		{in.ActualArr, &out.ActualArrival, "actual_arrival"},
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

	out.Status = skyBeaconStatus(in.State)
	if out.Status == canonical.FlightStatusCancelled {
		out.Cancelled = true
	}
	fields = append(fields, "status")

	if in.DelayMinutes != nil {
		out.ArrivalDelayMinutes = cloneIntValue(*in.DelayMinutes)
		fields = append(fields, "arrival_delay_minutes")
	} else if out.ActualArrival != nil && out.ScheduledArrival != nil {
		// derive the arrival delay from tracked times when the provider
		// does not report one
		m := minutesBetween(*out.ScheduledArrival, *out.ActualArrival)
		if m < 0 {
			m = 0
		}
		out.ArrivalDelayMinutes = &m
		fields = append(fields, "arrival_delay_minutes")
	}

	now := s.cfg.Clock.Now().UTC()
	completeness := canonical.FlightCompleteness(out, skyBeaconReliability)
	out.Contributions = []canonical.SourceContribution{{
		SourceName: skyBeaconName,
		Fields:     fields,
		Timestamp:  now,
		Confidence: confidence(completeness, skyBeaconReliability),
		APIVersion: skyBeaconVersion,
	}}
	out.DataQualityScore = completeness
	out.LastUpdated = now
	return out, nil
}

func skyBeaconStatus(s string) canonical.FlightStatus {
	switch s {
	case "scheduled":
		return canonical.FlightStatusScheduled
	case "airborne", "enroute":
		return canonical.FlightStatusActive
	case "departed", "taxi":
		return canonical.FlightStatusDeparted
	case "landed", "arrived":
		return canonical.FlightStatusLanded
	case "cancelled":
		return canonical.FlightStatusCancelled
	case "diverted":
		return canonical.FlightStatusDiverted
	case "delayed":
		return canonical.FlightStatusDelayed
	default:
		return canonical.FlightStatusUnknown
	}
}
