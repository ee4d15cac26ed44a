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

// FlightResult is the outcome of one flight aggregation.
type FlightResult struct {
	// Flight is the merged canonical record.
	Flight *canonical.Flight
	// QualityScore is the merged record quality in [0, 1].
	QualityScore float64
	// SourcesUsed lists the adapters that contributed, in merge order.
	SourcesUsed []string
	// Conflicts lists the per-field disagreements the resolver saw.
	Conflicts []Conflict
	// FromCache is true when the result was served without touching any
	// source.
	FromCache bool
	// ProcessingTime is the wall time of the aggregation.
	ProcessingTime time.Duration
}

// FlightConfig configures a Flight aggregator.
type FlightConfig struct {
	// Router supplies the ordered healthy adapter list. Every routed source
	// must implement sources.FlightSource.
	Router *sources.Router
	// Cache stores merged records between aggregations.
	Cache cache.Cache
	// Executor wraps every adapter call with bounded retries.
	Executor *utils.Executor
	// CacheTTL bounds how long a merged record is served from cache.
	CacheTTL time.Duration
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the aggregator's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *FlightConfig) CheckAndSetDefaults() error {
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
		c.CacheTTL = defaults.FlightCacheTTL
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "flight-aggregator")
	return nil
}

// NewFlight returns a Flight aggregator.
func NewFlight(cfg FlightConfig) (*Flight, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Flight{cfg: cfg}, nil
}

// Flight aggregates flight records: cache-checked, router-directed parallel
// fan-out with per-adapter retries, merged by the conflict resolver.
type Flight struct {
	cfg         FlightConfig
	flightGroup singleflight.Group
}

// FlightCacheKey derives the cache key for a flight query.
func FlightCacheKey(q sources.FlightQuery) string {
	return fmt.Sprintf("flight:%s:%s", q.FlightNumber, q.Date.UTC().Format(time.DateOnly))
}

// FlightCacheTag tags all cache entries for one flight number.
func FlightCacheTag(flightNumber string) string {
	return "flight:" + flightNumber
}

// cachedFlightResult recovers a result from a cache value. The in-memory
// cache hands back the stored pointer; durable caches hand back JSON.
func cachedFlightResult(v any) (*FlightResult, bool) {
	switch v := v.(type) {
	case *FlightResult:
		return v, true
	case json.RawMessage:
		var res FlightResult
		if err := json.Unmarshal(v, &res); err != nil || res.Flight == nil {
			return nil, false
		}
		return &res, true
	}
	return nil, false
}

// GetFlightStatus produces one canonical record for the query, at minimum
// cost: a cache hit short-circuits; concurrent misses for the same key share
// one build. Caller cancellation aborts all outstanding adapter calls.
func (a *Flight) GetFlightStatus(ctx context.Context, q sources.FlightQuery) (*FlightResult, error) {
	start := a.cfg.Clock.Now()
	key := FlightCacheKey(q)

	if cached, err := a.cfg.Cache.Get(ctx, key); err == nil {
		if res, ok := cachedFlightResult(cached); ok {
			aggregationsCounter.WithLabelValues("flight", "cache_hit").Inc()
			out := *res
			out.FromCache = true
			out.ProcessingTime = a.cfg.Clock.Since(start)
			return &out, nil
		}
	}

	built, err, _ := a.flightGroup.Do(key, func() (any, error) {
		// re-check under the flight: the build that just finished may have
		// populated the cache while we waited
		if cached, err := a.cfg.Cache.Get(ctx, key); err == nil {
			if res, ok := cachedFlightResult(cached); ok {
				return res, nil
			}
		}
		res, err := a.build(ctx, q, key)
		return res, trace.Wrap(err)
	})
	if err != nil {
		aggregationsCounter.WithLabelValues("flight", "error").Inc()
		return nil, trace.Wrap(err)
	}
	aggregationsCounter.WithLabelValues("flight", "ok").Inc()

	out := *built.(*FlightResult)
	out.ProcessingTime = a.cfg.Clock.Since(start)
	return &out, nil
}

func (a *Flight) build(ctx context.Context, q sources.FlightQuery, key string) (*FlightResult, error) {
	srcs, err := a.cfg.Router.GetSources(ctx)
	if err != nil {
		return nil, trace.NotFound("NO_DATA_AVAILABLE: no sources for flight %v: %v", q.FlightNumber, err)
	}

	var mu sync.Mutex
	var records []*canonical.Flight

	group, groupCtx := errgroup.WithContext(ctx)
	for _, src := range srcs {
		flightSrc, ok := src.(sources.FlightSource)
		if !ok {
			a.cfg.Log.WarnContext(ctx, "Routed source does not serve flight data.", "source", src.Name())
			continue
		}
		group.Go(func() error {
			record, fetchErr := a.fetch(groupCtx, flightSrc, q)
			if fetchErr != nil {
				// a failed source is not fatal while others may succeed
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
		return nil, trace.NotFound("NO_DATA_AVAILABLE: no source returned data for flight %v on %v",
			q.FlightNumber, q.Date.UTC().Format(time.DateOnly))
	}

	resolution, err := ResolveFlights(records, a.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}

	result := &FlightResult{
		Flight:       resolution.Flight,
		QualityScore: resolution.QualityScore,
		Conflicts:    resolution.Conflicts,
		SourcesUsed:  contributionSources(resolution.Flight.Contributions),
	}
	if err := a.cfg.Cache.Put(ctx, key, result, a.cfg.CacheTTL, FlightCacheTag(q.FlightNumber)); err != nil {
		a.cfg.Log.WarnContext(ctx, "Failed to cache merged flight record.", "key", key, "error", err)
	}
	return result, nil
}

// fetch wraps one adapter with the retry executor. A NotFound from the
// provider means "no data" and is not retried; transport and auth errors are
// retried and, on exhaustion, demote the adapter.
func (a *Flight) fetch(ctx context.Context, src sources.FlightSource, q sources.FlightQuery) (*canonical.Flight, error) {
	var record *canonical.Flight
	err := a.cfg.Executor.Do(ctx, func(ctx context.Context) error {
		fetched, err := src.FetchFlight(ctx, q)
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
		a.cfg.Log.WarnContext(ctx, "Flight source failed after retries.",
			"source", src.Name(),
			"flight", q.FlightNumber,
			"error", err,
		)
		return nil, trace.Wrap(err)
	}
	return record, nil
}

func contributionSources(contribs []canonical.SourceContribution) []string {
	out := make([]string, len(contribs))
	for i, c := range contribs {
		out[i] = c.SourceName
	}
	return out
}
