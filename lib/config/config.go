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

// Package config reads the YAML configuration file and translates it into
// the resolved service configuration. Durations are written as Go duration
// strings ("5m", "200ms"); omitted values fall back to the built-in
// defaults.
package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/service"
)

// FileConfig mirrors the on-disk YAML layout.
type FileConfig struct {
	Log        Log        `json:"log,omitempty"`
	Storage    Storage    `json:"storage,omitempty"`
	Providers  Providers  `json:"providers,omitempty"`
	Aggregator Aggregator `json:"aggregator,omitempty"`
	Executor   Executor   `json:"executor,omitempty"`
	Quote      Quote      `json:"quote,omitempty"`
	Policy     Policy     `json:"policy,omitempty"`
	Chain      Chain      `json:"chain,omitempty"`
	Escrow     Escrow     `json:"escrow,omitempty"`
}

// Log configures logging.
type Log struct {
	// Severity is the minimum level that gets logged: debug, info, warning
	// or error.
	Severity string `json:"severity,omitempty"`
	// Output is "stderr" (the default) or "stdout".
	Output string `json:"output,omitempty"`
}

// Storage selects the persistence backend.
type Storage struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend,omitempty"`
	// Path is the SQLite database file.
	Path string `json:"path,omitempty"`
}

// Provider is one upstream data provider's endpoint and credentials.
type Provider struct {
	// Addr overrides the provider's production endpoint.
	Addr string `json:"addr,omitempty"`
	// APIKey authenticates key-based providers.
	APIKey string `json:"api_key,omitempty"`
	// Username and Password authenticate basic-auth providers.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Providers enumerates the supported providers. A provider with no
// credentials is left out of the routing set.
type Providers struct {
	AeroAPI     Provider `json:"aeroapi,omitempty"`
	AviStack    Provider `json:"avistack,omitempty"`
	SkyBeacon   Provider `json:"skybeacon,omitempty"`
	MeteoStream Provider `json:"meteostream,omitempty"`
	WxVane      Provider `json:"wxvane,omitempty"`
}

// Aggregator tunes source health tracking and result caching.
type Aggregator struct {
	HealthTTL       string `json:"health_ttl,omitempty"`
	FlightCacheTTL  string `json:"flight_cache_ttl,omitempty"`
	WeatherCacheTTL string `json:"weather_cache_ttl,omitempty"`
}

// Executor is the retry policy for provider calls.
type Executor struct {
	MaxAttempts   int    `json:"max_attempts,omitempty"`
	InitialDelay  string `json:"initial_delay,omitempty"`
	BackoffFactor int    `json:"backoff_factor,omitempty"`
}

// Quote tunes the quoting engine.
type Quote struct {
	ProviderRef           string  `json:"provider_ref,omitempty"`
	ValidityWindow        string  `json:"validity_window,omitempty"`
	RefusalQualityFloor   float64 `json:"refusal_quality_floor,omitempty"`
	SurchargeQualityFloor float64 `json:"surcharge_quality_floor,omitempty"`
}

// Policy tunes the lifecycle monitor.
type Policy struct {
	DelayThreshold        string `json:"delay_threshold,omitempty"`
	GraceWindow           string `json:"grace_window,omitempty"`
	MonitorInterval       string `json:"monitor_interval,omitempty"`
	SettlementMaxAttempts int    `json:"settlement_max_attempts,omitempty"`
}

// Chain locates the PayGo node and the settlement signing key.
type Chain struct {
	// Addr is the node address, e.g. "https://node.paygo.example:8080".
	Addr string `json:"addr,omitempty"`
	// SignerKeyFile is a file holding the hex-encoded ed25519 signing key,
	// either the 32-byte seed or the full 64-byte private key.
	SignerKeyFile string `json:"signer_key_file,omitempty"`
}

// Escrow tunes the escrow adapter.
type Escrow struct {
	DisableHashSynthesis bool  `json:"disable_hash_synthesis,omitempty"`
	UnitScale            int64 `json:"unit_scale,omitempty"`
}

// ReadFromFile reads the YAML configuration from path.
func ReadFromFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	fc, err := ReadConfig(f)
	if err != nil {
		return nil, trace.BadParameter("failed to parse config file %v: %v", path, err)
	}
	return fc, nil
}

// ReadConfig parses the YAML configuration from reader.
func ReadConfig(reader io.Reader) (*FileConfig, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, trace.BadParameter("invalid YAML: %v", err)
	}
	return &fc, nil
}

// ApplyFileConfig maps the file configuration onto the resolved service
// configuration. Only values present in the file are applied; the service
// fills the remaining defaults itself.
func ApplyFileConfig(fc *FileConfig, cfg *service.Config) error {
	if fc == nil {
		return trace.BadParameter("missing file configuration")
	}

	log, err := newLog(fc.Log)
	if err != nil {
		return trace.Wrap(err)
	}
	cfg.Log = log

	cfg.Storage.Backend = fc.Storage.Backend
	cfg.Storage.Path = fc.Storage.Path

	cfg.Providers.AeroAPI = credentials(fc.Providers.AeroAPI)
	cfg.Providers.AviStack = credentials(fc.Providers.AviStack)
	cfg.Providers.SkyBeacon = credentials(fc.Providers.SkyBeacon)
	cfg.Providers.MeteoStream = credentials(fc.Providers.MeteoStream)
	cfg.Providers.WxVane = credentials(fc.Providers.WxVane)

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"aggregator.health_ttl", fc.Aggregator.HealthTTL, &cfg.Aggregator.HealthTTL},
		{"aggregator.flight_cache_ttl", fc.Aggregator.FlightCacheTTL, &cfg.Aggregator.FlightCacheTTL},
		{"aggregator.weather_cache_ttl", fc.Aggregator.WeatherCacheTTL, &cfg.Aggregator.WeatherCacheTTL},
		{"executor.initial_delay", fc.Executor.InitialDelay, &cfg.Executor.InitialDelay},
		{"quote.validity_window", fc.Quote.ValidityWindow, &cfg.Quote.ValidityWindow},
		{"policy.delay_threshold", fc.Policy.DelayThreshold, &cfg.Policy.DelayThreshold},
		{"policy.grace_window", fc.Policy.GraceWindow, &cfg.Policy.GraceWindow},
		{"policy.monitor_interval", fc.Policy.MonitorInterval, &cfg.Policy.MonitorInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return trace.BadParameter("invalid duration %q for %v", d.raw, d.field)
		}
		*d.dst = parsed
	}

	cfg.Executor.MaxAttempts = fc.Executor.MaxAttempts
	cfg.Executor.BackoffFactor = fc.Executor.BackoffFactor

	cfg.Quote.ProviderRef = fc.Quote.ProviderRef
	cfg.Quote.RefusalFloor = fc.Quote.RefusalQualityFloor
	cfg.Quote.SurchargeFloor = fc.Quote.SurchargeQualityFloor

	cfg.Policy.SettlementMaxAttempts = fc.Policy.SettlementMaxAttempts

	cfg.Chain.Addr = fc.Chain.Addr
	if fc.Chain.SignerKeyFile != "" {
		key, err := ReadSignerKey(fc.Chain.SignerKeyFile)
		if err != nil {
			return trace.Wrap(err)
		}
		cfg.Chain.SignerKey = key
	}

	cfg.Escrow.DisableHashSynthesis = fc.Escrow.DisableHashSynthesis
	cfg.Escrow.UnitScale = fc.Escrow.UnitScale

	return nil
}

func credentials(p Provider) service.ProviderCredentials {
	return service.ProviderCredentials{
		Addr:     p.Addr,
		APIKey:   p.APIKey,
		Username: p.Username,
		Password: p.Password,
	}
}

// ReadSignerKey loads a hex-encoded ed25519 key from a file. Both the
// 32-byte seed and the full 64-byte private key forms are accepted.
func ReadSignerKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, trace.BadParameter("signer key file %v is not hex encoded", path)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, trace.BadParameter("signer key file %v holds %v bytes, expected %v or %v",
			path, len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)
	}
}

func newLog(lc Log) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(lc.Severity) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, trace.BadParameter("unsupported log severity %q", lc.Severity)
	}

	var w io.Writer
	switch lc.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		return nil, trace.BadParameter("unsupported log output %q", lc.Output)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
