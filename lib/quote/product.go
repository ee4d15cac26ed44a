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

// Package quote prices parametric flight insurance from aggregated flight and
// weather data.
package quote

import (
	"github.com/gravitational/trace"
)

// CoverageType identifies an insurance product.
type CoverageType string

const (
	// CoverageFlightDelay pays out when the arrival delay reaches the
	// policy threshold.
	CoverageFlightDelay CoverageType = "FLIGHT_DELAY"
	// CoverageFlightCancellation pays out on cancellation or diversion.
	CoverageFlightCancellation CoverageType = "FLIGHT_CANCELLATION"
	// CoverageWeatherDisruption pays out on severe weather disruption at
	// either endpoint airport.
	CoverageWeatherDisruption CoverageType = "WEATHER_DISRUPTION"
)

// Product is one sellable insurance product with its pricing envelope.
// All monetary values are minor units (cents).
type Product struct {
	// Coverage identifies the product.
	Coverage CoverageType
	// BaseRate is the premium as a fraction of coverage before risk
	// multipliers, e.g. 0.025 for 2.5%.
	BaseRate float64
	// MinCoverage and MaxCoverage bound the coverage a customer may request.
	MinCoverage int64
	MaxCoverage int64
	// MinPremium and MaxPremium bound the computed premium.
	MinPremium int64
	MaxPremium int64
}

// CheckCoverage verifies a requested coverage amount against the product
// envelope.
func (p Product) CheckCoverage(amount int64) error {
	if amount < p.MinCoverage || amount > p.MaxCoverage {
		return trace.BadParameter("coverage amount %v is outside the %v product range [%v, %v]",
			amount, p.Coverage, p.MinCoverage, p.MaxCoverage)
	}
	return nil
}

// DefaultProducts returns the product table the engine sells by default.
func DefaultProducts() []Product {
	return []Product{
		{
			Coverage:    CoverageFlightDelay,
			BaseRate:    0.025,
			MinCoverage: 5_000,     // $50
			MaxCoverage: 1_000_000, // $10,000
			MinPremium:  100,
			MaxPremium:  250_000,
		},
		{
			Coverage:    CoverageFlightCancellation,
			BaseRate:    0.035,
			MinCoverage: 5_000,
			MaxCoverage: 1_000_000,
			MinPremium:  150,
			MaxPremium:  350_000,
		},
		{
			Coverage:    CoverageWeatherDisruption,
			BaseRate:    0.040,
			MinCoverage: 5_000,
			MaxCoverage: 500_000,
			MinPremium:  200,
			MaxPremium:  200_000,
		},
	}
}

// ProductFor finds a product by coverage type.
func ProductFor(products []Product, coverage CoverageType) (Product, error) {
	for _, p := range products {
		if p.Coverage == coverage {
			return p, nil
		}
	}
	return Product{}, trace.NotFound("no product for coverage type %q", coverage)
}
