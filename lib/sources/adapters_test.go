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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
)

func TestAeroAPIFetchFlight(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-apikey")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"flights": [{
			"fa_flight_id": "BTI318-1751234567-airline-0500",
			"ident": "BT318",
			"operator_iata": "BT",
			"operator_icao": "BTI",
			"origin": {"code_iata": "RIX", "code_icao": "EVRA"},
			"destination": {"code_iata": "TLL", "code_icao": "EETN"},
			"scheduled_out": "2025-07-01T10:00:00Z",
			"actual_out": "2025-07-01T11:15:00Z",
			"scheduled_in": "2025-07-01T11:00:00Z",
			"status": "Delayed",
			"departure_delay": 4500,
			"arrival_delay": 4500,
			"aircraft_type": "A220"
		}]}`))
	}))
	defer srv.Close()

	src, err := NewAeroAPI(AeroAPIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	flight, err := src.FetchFlight(context.Background(), FlightQuery{
		FlightNumber: "BT318",
		Date:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, "test-key", gotKey)

	require.Equal(t, "BT318", flight.FlightNumber)
	require.Equal(t, canonical.FlightStatusDelayed, flight.Status)
	require.Equal(t, "RIX", flight.Origin.IATA)
	require.Equal(t, "EETN", flight.Destination.ICAO)
	require.NotNil(t, flight.ArrivalDelayMinutes)
	require.Equal(t, 75, *flight.ArrivalDelayMinutes)
	require.Len(t, flight.Contributions, 1)
	require.Equal(t, "aeroapi", flight.Contributions[0].SourceName)
	require.Contains(t, flight.Contributions[0].Fields, "actual_departure")
	require.NotContains(t, flight.Contributions[0].Fields, "actual_arrival")
	require.Positive(t, flight.Contributions[0].Confidence)
	require.NoError(t, flight.Check())
}

func TestAeroAPINoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"flights": []}`))
	}))
	defer srv.Close()

	src, err := NewAeroAPI(AeroAPIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = src.FetchFlight(context.Background(), FlightQuery{FlightNumber: "XX000", Date: time.Now()})
	require.True(t, trace.IsNotFound(err))
}

func TestAeroAPIAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	src, err := NewAeroAPI(AeroAPIConfig{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = src.FetchFlight(context.Background(), FlightQuery{FlightNumber: "BT318", Date: time.Now()})
	require.True(t, trace.IsAccessDenied(err))
}

func TestAviStackFetchFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.URL.Query().Get("access_key"))
		require.Equal(t, "BT318", r.URL.Query().Get("flight_iata"))
		w.Write([]byte(`{"data": [{
			"flight_date": "2025-07-01",
			"flight_status": "active",
			"departure": {"iata": "RIX", "icao": "EVRA", "scheduled": "2025-07-01T10:00:00+00:00", "actual": "2025-07-01T10:05:00+00:00", "delay": 5},
			"arrival": {"iata": "TLL", "icao": "EETN", "scheduled": "2025-07-01T11:00:00+00:00"},
			"airline": {"iata": "BT", "icao": "BTI"},
			"flight": {"iata": "BT318", "number": "318"}
		}]}`))
	}))
	defer srv.Close()

	src, err := NewAviStack(AviStackConfig{APIKey: "secret", BaseURL: srv.URL})
	require.NoError(t, err)

	flight, err := src.FetchFlight(context.Background(), FlightQuery{
		FlightNumber: "BT318",
		Date:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, canonical.FlightStatusActive, flight.Status)
	require.Equal(t, "BTI", flight.AirlineICAO)
	require.NotNil(t, flight.DepartureDelayMinutes)
	require.Equal(t, 5, *flight.DepartureDelayMinutes)
	require.Nil(t, flight.ArrivalDelayMinutes)
	require.NoError(t, flight.Check())
}

func TestSkyBeaconFetchFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "user", user)
		require.Equal(t, "pass", pass)
		w.Write([]byte(`{
			"callsign": "BTI318",
			"airline_icao": "BTI",
			"origin": "RIX",
			"destination": "TLL",
			"scheduled_departure": "2025-07-01T10:00:00Z",
			"actual_departure": "2025-07-01T10:02:00Z",
			"scheduled_arrival": "2025-07-01T11:00:00Z",
			"actual_arrival": "2025-07-01T12:30:00Z",
			"state": "landed"
		}`))
	}))
	defer srv.Close()

	src, err := NewSkyBeacon(SkyBeaconConfig{Username: "user", Password: "pass", BaseURL: srv.URL})
	require.NoError(t, err)

	flight, err := src.FetchFlight(context.Background(), FlightQuery{
		FlightNumber: "BT318",
		Date:         time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Equal(t, canonical.FlightStatusLanded, flight.Status)
	// delay derived from tracked times when the provider reports none
	require.NotNil(t, flight.ArrivalDelayMinutes)
	require.Equal(t, 90, *flight.ArrivalDelayMinutes)
	require.NoError(t, flight.Check())
}

func TestMeteoStreamFetchWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "wx-key", r.URL.Query().Get("key"))
		w.Write([]byte(`{
			"station": "RIX",
			"observed_at": "2025-07-01T09:50:00Z",
			"temp_c": 18.5,
			"condition": "Light rain showers",
			"condition_id": "RA-L",
			"wind_kts": 12,
			"wind_dir": "NNW",
			"precip_mm": 0.4,
			"vis_km": 9.5,
			"humidity_pct": 78,
			"pressure_hpa": 1012
		}`))
	}))
	defer srv.Close()

	src, err := NewMeteoStream(MeteoStreamConfig{APIKey: "wx-key", BaseURL: srv.URL})
	require.NoError(t, err)

	wx, err := src.FetchWeather(context.Background(), WeatherQuery{
		AirportIATA: "RIX",
		Date:        time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Period:      canonical.PeriodCurrent,
	})
	require.NoError(t, err)
	require.Equal(t, canonical.ConditionRain, wx.Condition)
	require.Equal(t, "RIX", wx.AirportIATA)
	require.NotNil(t, wx.VisibilityKM)
	require.NoError(t, wx.Check())
}

func TestWxVaneFetchWeather(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "vane-key", r.Header.Get("X-Api-Key"))
		w.Write([]byte(`{
			"airport": "TLL",
			"time": "2025-07-01T10:00:00Z",
			"summary": "Thunderstorm",
			"code": "TS",
			"metrics": {"temp_c": 21, "wind_kts": 25, "visibility_km": 3}
		}`))
	}))
	defer srv.Close()

	src, err := NewWxVane(WxVaneConfig{APIKey: "vane-key", BaseURL: srv.URL})
	require.NoError(t, err)

	wx, err := src.FetchWeather(context.Background(), WeatherQuery{
		AirportIATA: "TLL",
		Date:        time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Period:      canonical.PeriodCurrent,
	})
	require.NoError(t, err)
	require.Equal(t, canonical.ConditionStorm, wx.Condition)
	require.NoError(t, wx.Check())
}

func TestConditionClass(t *testing.T) {
	tests := map[string]canonical.ConditionType{
		"Clear skies":        canonical.ConditionClear,
		"Partly cloudy":      canonical.ConditionCloudy,
		"Heavy rain":         canonical.ConditionRain,
		"Snow showers":       canonical.ConditionSnow,
		"Freezing drizzle":   canonical.ConditionSnow,
		"Thunderstorms":      canonical.ConditionStorm,
		"Mist":               canonical.ConditionFog,
	}
	for text, want := range tests {
		require.Equal(t, want, conditionClass(text), "condition %q", text)
	}
}
