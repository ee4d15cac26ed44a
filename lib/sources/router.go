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
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/e3o8o/triggerr-sub002/lib/defaults"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Sources is the adapter set to route over.
	Sources []Source
	// HealthTTL is how long a health verdict is trusted before the next
	// GetSources call re-probes the adapter.
	HealthTTL time.Duration
	// ProbeTimeout caps a single availability probe.
	ProbeTimeout time.Duration
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the router's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults. An empty source set is
// allowed; GetSources then reports no sources available.
func (c *RouterConfig) CheckAndSetDefaults() error {
	if c.HealthTTL == 0 {
		c.HealthTTL = defaults.SourceHealthTTL
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = defaults.ProviderRequestTimeout
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "source-router")
	return nil
}

// NewRouter returns a Router over the given adapter set, ordered by priority
// descending.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	ordered := make([]Source, len(cfg.Sources))
	copy(ordered, cfg.Sources)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Priority() > ordered[j-1].Priority(); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return &Router{
		cfg:     cfg,
		ordered: ordered,
		health:  make(map[string]healthVerdict),
	}, nil
}

type healthVerdict struct {
	healthy     bool
	lastChecked time.Time
}

// Router maintains the ordered, health-filtered adapter list. Health probes
// are single-flight per adapter and their verdicts are trusted for
// HealthTTL. Adapters that were never probed are optimistically healthy.
type Router struct {
	cfg     RouterConfig
	ordered []Source

	mu     sync.RWMutex
	health map[string]healthVerdict
	probes singleflight.Group
}

// GetSources returns the currently usable subset of adapters in priority
// order. Stale verdicts are refreshed by probing the adapter; concurrent
// callers share one probe per adapter.
func (r *Router) GetSources(ctx context.Context) ([]Source, error) {
	now := r.cfg.Clock.Now()
	var usable []Source
	for _, src := range r.ordered {
		r.mu.RLock()
		verdict, probed := r.health[src.Name()]
		r.mu.RUnlock()

		if probed && now.Sub(verdict.lastChecked) <= r.cfg.HealthTTL {
			if verdict.healthy {
				usable = append(usable, src)
			}
			continue
		}

		if r.probe(ctx, src) {
			usable = append(usable, src)
		}
	}
	if len(usable) == 0 {
		return nil, trace.NotFound("no healthy sources available")
	}
	return usable, nil
}

// MarkUnhealthy immediately demotes an adapter that just failed mid-call.
// The next re-probe is deferred by the normal HealthTTL interval.
func (r *Router) MarkUnhealthy(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.health[name] = healthVerdict{healthy: false, lastChecked: r.cfg.Clock.Now()}
	healthySourcesGauge.Set(float64(r.countHealthyLocked()))
	r.cfg.Log.Warn("Source marked unhealthy.", "source", name)
}

// Healthy reports the last known verdict for an adapter; adapters that were
// never probed count as healthy.
func (r *Router) Healthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	verdict, ok := r.health[name]
	return !ok || verdict.healthy
}

func (r *Router) probe(ctx context.Context, src Source) bool {
	healthy, err, _ := r.probes.Do(src.Name(), func() (any, error) {
		// re-check under the flight: another caller may have just
		// refreshed the verdict while we waited.
		now := r.cfg.Clock.Now()
		r.mu.RLock()
		verdict, probed := r.health[src.Name()]
		r.mu.RUnlock()
		if probed && now.Sub(verdict.lastChecked) <= r.cfg.HealthTTL {
			return verdict.healthy, nil
		}

		probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		defer cancel()
		probeErr := src.CheckAvailability(probeCtx)
		if probeErr != nil {
			r.cfg.Log.WarnContext(ctx, "Source availability probe failed.",
				"source", src.Name(),
				"error", probeErr,
			)
		}

		r.mu.Lock()
		r.health[src.Name()] = healthVerdict{
			healthy:     probeErr == nil,
			lastChecked: r.cfg.Clock.Now(),
		}
		healthySourcesGauge.Set(float64(r.countHealthyLocked()))
		r.mu.Unlock()
		return probeErr == nil, nil
	})
	if err != nil {
		return false
	}
	return healthy.(bool)
}

// countHealthyLocked counts adapters whose last verdict was healthy or that
// were never probed. Callers must hold r.mu.
func (r *Router) countHealthyLocked() int {
	var n int
	for _, src := range r.ordered {
		verdict, ok := r.health[src.Name()]
		if !ok || verdict.healthy {
			n++
		}
	}
	return n
}
