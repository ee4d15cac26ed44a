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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/e3o8o/triggerr-sub002/lib/cache"
	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/defaults"
	"github.com/e3o8o/triggerr-sub002/lib/sources"
	"github.com/e3o8o/triggerr-sub002/lib/utils"
)

// WeatherResult is the outcome of one weather aggregation.
type WeatherResult struct {
	Weather        *canonical.Weather
	QualityScore   float64
	SourcesUsed    []string
	Conflicts      []Conflict
	FromCache      bool
	ProcessingTime time.Duration
}

// WeatherConfig configures a Weather aggregator.
type WeatherConfig struct {
	// Router supplies the ordered healthy adapter list. Every routed source
	// must implement sources.WeatherSource.
	Router *sources.Router
	// Cache stores merged records between aggregations.
	Cache cache.Cache
	// Executor wraps every adapter call with bounded retries.
	Executor *utils.Executor
	// CacheTTL bounds how long a merged record is served from cache.
	// Weather moves slower than flight state, so this is longer.
	CacheTTL time.Duration
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the aggregator's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *WeatherConfig) CheckAndSetDefaults() error {
	if c.Router == nil {
		return trace.BadParameter("missing parameter Router")
	}
	if c.Cache == nil {
		return trace.BadParameter("missing parameter Cache")
	}
	if c.Executor == nil {
		executor, err := utils.NewExecutor(utils.ExecutorConfig{
			MaxAttempts:   defaults.ExecutorMaxAttempts,
			InitialDelay:  defaults.ExecutorInitialDelay,
			BackoffFactor: defaults.ExecutorBackoffFactor,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		c.Executor = executor
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaults.WeatherCacheTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "weather-aggregator")
	return nil
}

// NewWeather returns a Weather aggregator.
func NewWeather(cfg WeatherConfig) (*Weather, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Weather{cfg: cfg}, nil
}

// Weather aggregates weather records the same way Flight aggregates flight
// records.
type Weather struct {
	cfg         WeatherConfig
	flightGroup singleflight.Group
}

// WeatherCacheKey derives the cache key for a weather query.
func WeatherCacheKey(q sources.WeatherQuery) string {
	return fmt.Sprintf("wx:%s:%s:%s", q.AirportIATA, q.Date.UTC().Format(time.DateOnly), q.Period)
}

// WeatherCacheTag tags all cache entries for one airport.
func WeatherCacheTag(airportIATA string) string {
	return "airport:" + airportIATA
}

// cachedWeatherResult recovers a result from a cache value, pointer or JSON.
func cachedWeatherResult(v any) (*WeatherResult, bool) {
	switch v := v.(type) {
	case *WeatherResult:
		return v, true
	case json.RawMessage:
		var res WeatherResult
		if err := json.Unmarshal(v, &res); err != nil || res.Weather == nil {
			return nil, false
		}
		return &res, true
	}
	return nil, false
}

// GetWeather produces one canonical weather record for the query.
func (a *Weather) GetWeather(ctx context.Context, q sources.WeatherQuery) (*WeatherResult, error) {
	start := a.cfg.Clock.Now()
	key := WeatherCacheKey(q)

	if cached, err := a.cfg.Cache.Get(ctx, key); err == nil {
		if res, ok := cachedWeatherResult(cached); ok {
			aggregationsCounter.WithLabelValues("weather", "cache_hit").Inc()
			out := *res
			out.FromCache = true
			out.ProcessingTime = a.cfg.Clock.Since(start)
			return &out, nil
		}
	}

	built, err, _ := a.flightGroup.Do(key, func() (any, error) {
		if cached, err := a.cfg.Cache.Get(ctx, key); err == nil {
			if res, ok := cachedWeatherResult(cached); ok {
				return res, nil
			}
		}
		res, err := a.build(ctx, q, key)
		return res, trace.Wrap(err)
	})
	if err != nil {
		aggregationsCounter.WithLabelValues("weather", "error").Inc()
		return nil, trace.Wrap(err)
	}
	aggregationsCounter.WithLabelValues("weather", "ok").Inc()

	out := *built.(*WeatherResult)
	out.ProcessingTime = a.cfg.Clock.Since(start)
	return &out, nil
}

func (a *Weather) build(ctx context.Context, q sources.WeatherQuery, key string) (*WeatherResult, error) {
	srcs, err := a.cfg.Router.GetSources(ctx)
	if err != nil {
		return nil, trace.NotFound("NO_DATA_AVAILABLE: no sources for airport %v: %v", q.AirportIATA, err)
	}

	var mu sync.Mutex
	var records []*canonical.Weather

	group, groupCtx := errgroup.WithContext(ctx)
	for _, src := range srcs {
		wxSrc, ok := src.(sources.WeatherSource)
		if !ok {
			a.cfg.Log.WarnContext(ctx, "Routed source does not serve weather data.", "source", src.Name())
			continue
		}
		group.Go(func() error {
			record, fetchErr := a.fetch(groupCtx, wxSrc, q)
			if fetchErr != nil {
				return nil
			}
			if record != nil {
				mu.Lock()
				records = append(records, record)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	if len(records) == 0 {
		return nil, trace.NotFound("NO_DATA_AVAILABLE: no source returned weather for %v", q.AirportIATA)
	}

	resolution, err := ResolveWeather(records, a.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result := &WeatherResult{
		Weather:      resolution.Weather,
		QualityScore: resolution.QualityScore,
		Conflicts:    resolution.Conflicts,
		SourcesUsed:  contributionSources(resolution.Weather.Contributions),
	}
	if err := a.cfg.Cache.Put(ctx, key, result, a.cfg.CacheTTL, WeatherCacheTag(q.AirportIATA)); err != nil {
		a.cfg.Log.WarnContext(ctx, "Failed to cache merged weather record.", "key", key, "error", err)
	}
	return result, nil
}

func (a *Weather) fetch(ctx context.Context, src sources.WeatherSource, q sources.WeatherQuery) (*canonical.Weather, error) {
	var record *canonical.Weather
	err := a.cfg.Executor.Do(ctx, func(ctx context.Context) error {
		fetched, err := src.FetchWeather(ctx, q)
		if err != nil {
			if trace.IsNotFound(err) {
				record = nil
				return nil
			}
			return trace.Wrap(err)
		}
		record = fetched
		return nil
	})
	if err != nil {
		if ctx.Err() == nil {
			a.cfg.Router.MarkUnhealthy(src.Name())
		}
		a.cfg.Log.WarnContext(ctx, "Weather source failed after retries.",
			"source", src.Name(),
			"airport", q.AirportIATA,
			"error", err,
		)
		return nil, trace.Wrap(err)
	}
	return record, nil
}
