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

// Package sources contains the provider adapters and the health-aware router
// that orders them. Adapters are pure translators: they build the provider
// request, normalize the response into a canonical record, and report which
// fields they filled. They never retry, cache or merge.
package sources

import (
	"context"
	"time"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
)

// FlightQuery identifies one flight-day.
type FlightQuery struct {
	// FlightNumber is the marketing flight number, e.g. "BT318".
	FlightNumber string
	// Date is the scheduled departure date, UTC.
	Date time.Time
}

// WeatherQuery identifies one airport weather slot.
type WeatherQuery struct {
	// AirportIATA is the airport to observe.
	AirportIATA string
	// Date is the UTC date of interest.
	Date time.Time
	// Period selects current conditions or a forecast bucket.
	Period canonical.ForecastPeriod
}

// Source is the capability every provider adapter exposes to the router.
type Source interface {
	// Name returns the adapter identifier, e.g. "aeroapi".
	Name() string
	// Priority orders adapters; higher goes first.
	Priority() int
	// Reliability is the static source reliability in [0, 1], folded into
	// contribution confidence.
	Reliability() float64
	// CheckAvailability performs a lightweight health call, distinct from
	// the main data call. A nil error means the provider is usable.
	CheckAvailability(ctx context.Context) error
}

// FlightSource fetches canonical flight records. FetchFlight returns a
// NotFound error when the provider has no data for the query; that is not a
// failure and must not trip health tracking.
type FlightSource interface {
	Source
	FetchFlight(ctx context.Context, q FlightQuery) (*canonical.Flight, error)
}

// WeatherSource is the weather analogue of FlightSource.
type WeatherSource interface {
	Source
	FetchWeather(ctx context.Context, q WeatherQuery) (*canonical.Weather, error)
}

// confidence combines a record completeness score with the static source
// reliability. Completeness dominates; reliability is the tie-breaker
// between sources reporting equally complete records.
func confidence(completeness, reliability float64) float64 {
	c := completeness*0.7 + reliability*0.3
	if c > 1 {
		return 1
	}
	return c
}
