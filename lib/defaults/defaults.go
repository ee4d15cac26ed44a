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

// Package defaults contains default constants used across the insurance core.
package defaults

import "time"

const (
	// SourceHealthTTL is how long an adapter health verdict is trusted
	// before the router re-probes it.
	SourceHealthTTL = 5 * time.Minute

	// FlightCacheTTL is the TTL for a cached merged flight record. Live
	// flight data goes stale quickly, so this is minutes-scale.
	FlightCacheTTL = 5 * time.Minute

	// WeatherCacheTTL is the TTL for a cached merged weather record.
	WeatherCacheTTL = 30 * time.Minute

	// ExecutorMaxAttempts is the number of attempts the retry executor
	// makes against a single source before giving up.
	ExecutorMaxAttempts = 3

	// ExecutorInitialDelay is the delay after the first failed attempt.
	ExecutorInitialDelay = 200 * time.Millisecond

	// ExecutorBackoffFactor multiplies the delay after every failed attempt.
	ExecutorBackoffFactor = 2

	// QuoteValidityWindow is the time between quote issue and expiry.
	QuoteValidityWindow = 15 * time.Minute

	// QuoteRefusalQualityFloor is the aggregation quality below which the
	// engine refuses to quote at all.
	QuoteRefusalQualityFloor = 0.4

	// QuoteSurchargeQualityFloor is the aggregation quality below which the
	// engine applies the data-confidence surcharge.
	QuoteSurchargeQualityFloor = 0.7

	// DefaultDelayThreshold is the arrival delay at which a FLIGHT_DELAY
	// policy pays out.
	DefaultDelayThreshold = 60 * time.Minute

	// ArrivalGraceWindow is how long past the scheduled arrival the monitor
	// keeps waiting for an actual arrival before evaluating the flight on
	// the reported delay alone.
	ArrivalGraceWindow = 45 * time.Minute

	// EscrowUnitScale is the number of chain units per one currency unit.
	// The chain counts in cents: 100 units = $1.00.
	EscrowUnitScale = 100

	// SettlementMaxAttempts bounds payout retries before a policy is moved
	// to FAILED.
	SettlementMaxAttempts = 5

	// MonitorInterval is how often the lifecycle monitor re-checks active
	// policies against the aggregator.
	MonitorInterval = 2 * time.Minute

	// ProviderRequestTimeout caps a single outbound provider call.
	ProviderRequestTimeout = 10 * time.Second

	// ChainRequestTimeout caps a single chain node call.
	ChainRequestTimeout = 30 * time.Second
)
