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

package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/sources"
)

// PolicyDataQuery describes one policy-quoting data request.
type PolicyDataQuery struct {
	// FlightNumber and Date identify the flight-day.
	FlightNumber string
	Date         time.Time
	// Airports are the airports to fetch weather for, typically origin and
	// destination.
	Airports []string
	// IncludeWeather enables the weather sub-queries.
	IncludeWeather bool
}

// PolicyDataBundle is the composite the quote engine consumes: one flight
// plus zero or more weather records with aggregation metadata.
type PolicyDataBundle struct {
	// Flight is the mandatory flight result.
	Flight *FlightResult
	// Weather maps airport IATA to its result. Airports whose aggregation
	// failed are absent here and recorded in WeatherErrors.
	Weather map[string]*WeatherResult
	// WeatherErrors maps airport IATA to the failure reason.
	WeatherErrors map[string]string
	// TotalTime is the wall time of the whole bundle assembly.
	TotalTime time.Duration
}

// QualityScore returns the bundle-level quality: the flight quality averaged
// with the weather results that arrived.
func (b *PolicyDataBundle) QualityScore() float64 {
	sum := b.Flight.QualityScore
	n := 1.0
	for _, wx := range b.Weather {
		sum += wx.QualityScore
		n++
	}
	return sum / n
}

// WeatherFor returns the weather record for an airport, or nil.
func (b *PolicyDataBundle) WeatherFor(airportIATA string) *canonical.Weather {
	if wx, ok := b.Weather[airportIATA]; ok {
		return wx.Weather
	}
	return nil
}

// DataRouterConfig configures a DataRouter.
type DataRouterConfig struct {
	// Flights aggregates flight data.
	Flights *Flight
	// Weather aggregates weather data.
	Weather *Weather
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the router's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *DataRouterConfig) CheckAndSetDefaults() error {
	if c.Flights == nil {
		return trace.BadParameter("missing parameter Flights")
	}
	if c.Weather == nil {
		return trace.BadParameter("missing parameter Weather")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "data-router")
	return nil
}

// NewDataRouter returns a DataRouter.
func NewDataRouter(cfg DataRouterConfig) (*DataRouter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &DataRouter{cfg: cfg}, nil
}

// DataRouter is the one-shot orchestrator for policy-quoting requests: one
// flight fetch plus weather fetches for each relevant airport, in parallel.
type DataRouter struct {
	cfg DataRouterConfig
}

// GetDataForPolicy assembles a PolicyDataBundle. The flight result is
// mandatory; a weather failure does not fail the request and is reflected in
// the bundle metadata instead.
func (r *DataRouter) GetDataForPolicy(ctx context.Context, q PolicyDataQuery) (*PolicyDataBundle, error) {
	start := r.cfg.Clock.Now()

	bundle := &PolicyDataBundle{
		Weather:       make(map[string]*WeatherResult),
		WeatherErrors: make(map[string]string),
	}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		flight, err := r.cfg.Flights.GetFlightStatus(groupCtx, sources.FlightQuery{
			FlightNumber: q.FlightNumber,
			Date:         q.Date,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		mu.Lock()
		bundle.Flight = flight
		mu.Unlock()
		return nil
	})

	if q.IncludeWeather {
		for _, airport := range q.Airports {
			group.Go(func() error {
				wx, err := r.cfg.Weather.GetWeather(groupCtx, sources.WeatherQuery{
					AirportIATA: airport,
					Date:        q.Date,
					Period:      canonical.PeriodCurrent,
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					// tolerable: the quote engine prices without weather,
					// reflected in the bundle quality
					r.cfg.Log.WarnContext(groupCtx, "Weather aggregation failed for bundle.",
						"airport", airport,
						"error", err,
					)
					bundle.WeatherErrors[airport] = err.Error()
					return nil
				}
				bundle.Weather[airport] = wx
				return nil
			})
		}
	}

	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}

	bundle.TotalTime = r.cfg.Clock.Since(start)
	bundleDuration.Observe(bundle.TotalTime.Seconds())
	return bundle, nil
}
