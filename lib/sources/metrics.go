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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healthySourcesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triggerr_sources_healthy",
		Help: "Number of source adapters with a healthy (or unprobed) verdict",
	})

	providerRequestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triggerr_provider_requests_total",
		Help: "Outbound provider requests by source and result",
	}, []string{"source", "result"})
)
