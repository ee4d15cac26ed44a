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

package service

import (
	"crypto/ed25519"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/defaults"
	"github.com/e3o8o/triggerr-sub002/lib/utils"
)

// Storage backends.
const (
	// BackendMemory keeps all state in process memory. Restarts lose
	// everything; only suitable for tests and demos.
	BackendMemory = "memory"
	// BackendSQLite persists state to a local SQLite database.
	BackendSQLite = "sqlite"
)

// Config is the resolved service configuration. lib/config translates the
// on-disk YAML into this struct; tests build it directly.
type Config struct {
	// Storage selects and locates the persistence backend.
	Storage StorageConfig
	// Providers carries the upstream data provider credentials. A provider
	// without credentials is left out of the routing set.
	Providers ProvidersConfig
	// Aggregator tunes source health tracking and result caching.
	Aggregator AggregatorConfig
	// Executor is the retry policy for provider calls.
	Executor utils.ExecutorConfig
	// Quote tunes the quoting engine.
	Quote QuoteConfig
	// Policy tunes the lifecycle monitor.
	Policy PolicyConfig
	// Chain locates the PayGo node and the settlement signing key.
	Chain ChainConfig
	// Escrow tunes the chain-agnostic escrow adapter.
	Escrow EscrowConfig
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the root log; components attach their own names under it.
	Log *slog.Logger
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is BackendMemory or BackendSQLite.
	Backend string
	// Path is the SQLite database file, required for BackendSQLite.
	Path string
}

// ProviderCredentials holds one provider's endpoint and credentials. Which
// fields apply depends on the provider's auth scheme.
type ProviderCredentials struct {
	// Addr overrides the provider's production endpoint.
	Addr string
	// APIKey authenticates key-based providers.
	APIKey string
	// Username and Password authenticate basic-auth providers.
	Username string
	Password string
}

// Enabled reports whether credentials were supplied at all.
func (c ProviderCredentials) Enabled() bool {
	return c.APIKey != "" || c.Username != ""
}

// ProvidersConfig enumerates the supported providers.
type ProvidersConfig struct {
	// Flight data providers.
	AeroAPI   ProviderCredentials
	AviStack  ProviderCredentials
	SkyBeacon ProviderCredentials
	// Weather data providers.
	MeteoStream ProviderCredentials
	WxVane      ProviderCredentials
}

// AggregatorConfig tunes routing and caching.
type AggregatorConfig struct {
	// HealthTTL is how long a source health verdict is trusted.
	HealthTTL time.Duration
	// FlightCacheTTL bounds how long a merged flight record is served from
	// cache.
	FlightCacheTTL time.Duration
	// WeatherCacheTTL is the weather analogue of FlightCacheTTL.
	WeatherCacheTTL time.Duration
}

// QuoteConfig tunes the quoting engine.
type QuoteConfig struct {
	// ProviderRef names the underwriting provider on issued quotes.
	ProviderRef string
	// ValidityWindow is the time between quote issue and expiry.
	ValidityWindow time.Duration
	// RefusalFloor is the bundle quality below which the engine refuses.
	RefusalFloor float64
	// SurchargeFloor is the bundle quality below which the data-confidence
	// surcharge applies.
	SurchargeFloor float64
}

// PolicyConfig tunes the lifecycle monitor.
type PolicyConfig struct {
	// DelayThreshold is the default arrival delay that triggers a payout.
	DelayThreshold time.Duration
	// GraceWindow is how long past the scheduled arrival the monitor keeps
	// waiting for an actual arrival.
	GraceWindow time.Duration
	// MonitorInterval is how often active policies are re-checked.
	MonitorInterval time.Duration
	// SettlementMaxAttempts bounds payout retries before a policy fails.
	SettlementMaxAttempts int
}

// ChainConfig locates the chain node.
type ChainConfig struct {
	// Addr is the PayGo node address, e.g. "https://node.paygo.example:8080".
	Addr string
	// SignerKey signs settlement transactions. Optional at startup; the
	// read-only chain operations work without it.
	SignerKey ed25519.PrivateKey
}

// EscrowConfig tunes the escrow adapter.
type EscrowConfig struct {
	// DisableHashSynthesis turns the transaction hash fallback off.
	DisableHashSynthesis bool
	// UnitScale is the number of chain units per currency unit.
	UnitScale int64
}

// CheckAndSetDefaults checks and sets defaults.
func (c *Config) CheckAndSetDefaults() error {
	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = BackendMemory
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.Path == "" {
			return trace.BadParameter("storage backend %q requires a path", BackendSQLite)
		}
	default:
		return trace.BadParameter("unsupported storage backend %q", c.Storage.Backend)
	}
	if !c.Providers.AeroAPI.Enabled() && !c.Providers.AviStack.Enabled() && !c.Providers.SkyBeacon.Enabled() {
		return trace.BadParameter("at least one flight data provider must be configured")
	}
	if c.Chain.Addr == "" {
		return trace.BadParameter("missing parameter Chain.Addr")
	}
	if c.Chain.SignerKey != nil && len(c.Chain.SignerKey) != ed25519.PrivateKeySize {
		return trace.BadParameter("chain signer key has wrong size %v", len(c.Chain.SignerKey))
	}
	if c.Aggregator.HealthTTL == 0 {
		c.Aggregator.HealthTTL = defaults.SourceHealthTTL
	}
	if c.Aggregator.FlightCacheTTL == 0 {
		c.Aggregator.FlightCacheTTL = defaults.FlightCacheTTL
	}
	if c.Aggregator.WeatherCacheTTL == 0 {
		c.Aggregator.WeatherCacheTTL = defaults.WeatherCacheTTL
	}
	if c.Quote.ValidityWindow == 0 {
		c.Quote.ValidityWindow = defaults.QuoteValidityWindow
	}
	if c.Policy.DelayThreshold == 0 {
		c.Policy.DelayThreshold = defaults.DefaultDelayThreshold
	}
	if c.Policy.GraceWindow == 0 {
		c.Policy.GraceWindow = defaults.ArrivalGraceWindow
	}
	if c.Policy.MonitorInterval == 0 {
		c.Policy.MonitorInterval = defaults.MonitorInterval
	}
	if c.Policy.SettlementMaxAttempts == 0 {
		c.Policy.SettlementMaxAttempts = defaults.SettlementMaxAttempts
	}
	if c.Escrow.UnitScale == 0 {
		c.Escrow.UnitScale = defaults.EscrowUnitScale
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return nil
}
