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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aggregationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triggerr_aggregations_total",
		Help: "Aggregations by kind and outcome (ok, cache_hit, error)",
	}, []string{"kind", "outcome"})

	bundleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triggerr_policy_bundle_seconds",
		Help:    "Wall time of assembling one policy data bundle",
		Buckets: prometheus.DefBuckets,
	})
)
