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

// Package service assembles the insurance core from its parts: storage,
// provider adapters, aggregators, the quote engine, the escrow adapter and
// the policy lifecycle monitor, plus the scheduler that drives the periodic
// sweeps.
package service

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/aggregator"
	"github.com/e3o8o/triggerr-sub002/lib/cache"
	"github.com/e3o8o/triggerr-sub002/lib/escrow"
	"github.com/e3o8o/triggerr-sub002/lib/policy"
	"github.com/e3o8o/triggerr-sub002/lib/quote"
	"github.com/e3o8o/triggerr-sub002/lib/scheduler"
	"github.com/e3o8o/triggerr-sub002/lib/sources"
	"github.com/e3o8o/triggerr-sub002/lib/storage"
	"github.com/e3o8o/triggerr-sub002/lib/utils"
)

// Periodic task names, visible in the scheduler's execution records.
const (
	// TaskMonitorSweep re-checks active policies against live flight data.
	TaskMonitorSweep = "policy-monitor-sweep"
	// TaskQuoteExpiry marks pending quotes past their validity expired.
	TaskQuoteExpiry = "quote-expiry-sweep"
)

// Store is the persistence surface the service composes over. Both storage
// backends implement it.
type Store interface {
	quote.Store
	policy.Store
	escrow.Store
	scheduler.Store
	storage.WalletStore
	Close() error
}

// Service wires the insurance core together and owns the component
// lifecycles. The exported fields are the operation surface the callers
// (CLI, API handlers) talk to.
type Service struct {
	// Quotes prices and issues quotes.
	Quotes *quote.Engine
	// Policies purchases, monitors and settles policies.
	Policies *policy.Monitor
	// Escrow is the chain-agnostic escrow operation surface.
	Escrow *escrow.Adapter
	// Chain is the underlying PayGo node client.
	Chain *escrow.PayGoClient
	// Router assembles flight/weather bundles on demand.
	Router *aggregator.DataRouter
	// Amounts converts between decimal currency strings and chain units.
	Amounts escrow.AmountCodec

	cfg       Config
	store     Store
	scheduler *scheduler.Scheduler
}

// New builds a Service from the resolved configuration. Nothing runs until
// Start.
func New(cfg Config) (*Service, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	svc, err := newWithStore(cfg, store)
	if err != nil {
		store.Close()
		return nil, trace.Wrap(err)
	}
	return svc, nil
}

func newStore(cfg Config) (Store, error) {
	switch cfg.Storage.Backend {
	case BackendSQLite:
		store, err := storage.NewSQLite(storage.SQLiteConfig{
			Path:  cfg.Storage.Path,
			Clock: cfg.Clock,
		})
		return store, trace.Wrap(err)
	default:
		return storage.NewMemory(), nil
	}
}

// newCaches picks the aggregator caches. The SQLite backend doubles as a
// durable cache, so merged records survive restarts; the memory backend
// pairs with in-process caches.
func newCaches(cfg Config, store Store) (flight, weather cache.Cache, err error) {
	if durable, ok := store.(cache.Cache); ok {
		return durable, durable, nil
	}
	flightCache, err := cache.NewMemory(cache.MemoryConfig{Clock: cfg.Clock})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	weatherCache, err := cache.NewMemory(cache.MemoryConfig{Clock: cfg.Clock})
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return flightCache, weatherCache, nil
}

func newWithStore(cfg Config, store Store) (*Service, error) {
	flightSources, weatherSources, err := newSources(cfg)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	flightRouter, err := sources.NewRouter(sources.RouterConfig{
		Sources:   flightSources,
		HealthTTL: cfg.Aggregator.HealthTTL,
		Clock:     cfg.Clock,
		Log:       cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	weatherRouter, err := sources.NewRouter(sources.RouterConfig{
		Sources:   weatherSources,
		HealthTTL: cfg.Aggregator.HealthTTL,
		Clock:     cfg.Clock,
		Log:       cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	providerExecutor, err := utils.NewExecutor(cfg.Executor)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	flightCache, weatherCache, err := newCaches(cfg, store)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	flights, err := aggregator.NewFlight(aggregator.FlightConfig{
		Router:   flightRouter,
		Cache:    flightCache,
		Executor: providerExecutor,
		CacheTTL: cfg.Aggregator.FlightCacheTTL,
		Clock:    cfg.Clock,
		Log:      cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	weather, err := aggregator.NewWeather(aggregator.WeatherConfig{
		Router:   weatherRouter,
		Cache:    weatherCache,
		Executor: providerExecutor,
		CacheTTL: cfg.Aggregator.WeatherCacheTTL,
		Clock:    cfg.Clock,
		Log:      cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	dataRouter, err := aggregator.NewDataRouter(aggregator.DataRouterConfig{
		Flights: flights,
		Weather: weather,
		Clock:   cfg.Clock,
		Log:     cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	engine, err := quote.NewEngine(quote.EngineConfig{
		Router:         dataRouter,
		Store:          store,
		ProviderRef:    cfg.Quote.ProviderRef,
		ValidityWindow: cfg.Quote.ValidityWindow,
		RefusalFloor:   cfg.Quote.RefusalFloor,
		SurchargeFloor: cfg.Quote.SurchargeFloor,
		Clock:          cfg.Clock,
		Log:            cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	chain, err := escrow.NewPayGoClient(escrow.PayGoConfig{
		Addr:      cfg.Chain.Addr,
		SignerKey: cfg.Chain.SignerKey,
		Clock:     cfg.Clock,
		Log:       cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	adapter, err := escrow.NewAdapter(escrow.AdapterConfig{
		Chain:                chain,
		Store:                store,
		DisableHashSynthesis: cfg.Escrow.DisableHashSynthesis,
		Clock:                cfg.Clock,
		Log:                  cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	codec, err := escrow.NewAmountCodec(cfg.Escrow.UnitScale)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	settlementExecutor, err := utils.NewExecutor(utils.ExecutorConfig{
		MaxAttempts:   cfg.Policy.SettlementMaxAttempts,
		InitialDelay:  cfg.Executor.InitialDelay,
		BackoffFactor: cfg.Executor.BackoffFactor,
		Clock:         cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	monitor, err := policy.NewMonitor(policy.MonitorConfig{
		Store:          store,
		Quotes:         store,
		Flights:        flights,
		Escrow:         adapter,
		Executor:       settlementExecutor,
		DelayThreshold: cfg.Policy.DelayThreshold,
		GraceWindow:    cfg.Policy.GraceWindow,
		Clock:          cfg.Clock,
		Log:            cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Store: store,
		Clock: cfg.Clock,
		Log:   cfg.Log,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := sched.Add(scheduler.Task{
		Name:     TaskMonitorSweep,
		Interval: cfg.Policy.MonitorInterval,
		Run:      monitor.CheckPolicies,
	}); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := sched.Add(scheduler.Task{
		Name:     TaskQuoteExpiry,
		Interval: cfg.Quote.ValidityWindow,
		Run: func(ctx context.Context) error {
			_, err := engine.ExpireDueQuotes(ctx)
			return trace.Wrap(err)
		},
	}); err != nil {
		return nil, trace.Wrap(err)
	}

	return &Service{
		Quotes:    engine,
		Policies:  monitor,
		Escrow:    adapter,
		Chain:     chain,
		Router:    dataRouter,
		Amounts:   codec,
		cfg:       cfg,
		store:     store,
		scheduler: sched,
	}, nil
}

func newSources(cfg Config) (flight, weather []sources.Source, err error) {
	if p := cfg.Providers.AeroAPI; p.Enabled() {
		src, err := sources.NewAeroAPI(sources.AeroAPIConfig{
			APIKey:  p.APIKey,
			BaseURL: p.Addr,
			Clock:   cfg.Clock,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		flight = append(flight, src)
	}
	if p := cfg.Providers.AviStack; p.Enabled() {
		src, err := sources.NewAviStack(sources.AviStackConfig{
			APIKey:  p.APIKey,
			BaseURL: p.Addr,
			Clock:   cfg.Clock,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		flight = append(flight, src)
	}
	if p := cfg.Providers.SkyBeacon; p.Enabled() {
		src, err := sources.NewSkyBeacon(sources.SkyBeaconConfig{
			Username: p.Username,
			Password: p.Password,
			BaseURL:  p.Addr,
			Clock:    cfg.Clock,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		flight = append(flight, src)
	}
	if p := cfg.Providers.MeteoStream; p.Enabled() {
		src, err := sources.NewMeteoStream(sources.MeteoStreamConfig{
			APIKey:  p.APIKey,
			BaseURL: p.Addr,
			Clock:   cfg.Clock,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		weather = append(weather, src)
	}
	if p := cfg.Providers.WxVane; p.Enabled() {
		src, err := sources.NewWxVane(sources.WxVaneConfig{
			APIKey:  p.APIKey,
			BaseURL: p.Addr,
			Clock:   cfg.Clock,
		})
		if err != nil {
			return nil, nil, trace.Wrap(err)
		}
		weather = append(weather, src)
	}
	return flight, weather, nil
}

// Start launches the periodic sweeps. It returns immediately; the sweeps
// run until ctx is cancelled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	return trace.Wrap(s.scheduler.Start(ctx))
}

// Store exposes the persistence layer, mainly for status queries.
func (s *Service) Store() Store {
	return s.store
}

// Close stops the sweeps and releases the storage backend.
func (s *Service) Close() error {
	var errs []error
	if err := s.scheduler.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return trace.NewAggregate(errs...)
}
