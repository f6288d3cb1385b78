/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FetchSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Duration of completed page requests by transport and status class.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"via", "status_class"})
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FetchSubsystem,
			Name:      "outcomes_total",
			Help:      "Terminal fetch outcomes by classification.",
		},
		[]string{"outcome"})
	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FetchSubsystem,
			Name:      "retries_total",
			Help:      "Fetch attempts beyond the first.",
		})
	cooldownsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FetchSubsystem,
			Name:      "blocked_cooldowns_total",
			Help:      "Origins placed into the blocked cooldown.",
		})
	timeoutPins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FetchSubsystem,
			Name:      "timeout_pins_total",
			Help:      "Origins pinned to the ceiling timeout after consecutive timeouts.",
		})
	suppressionEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FetchSubsystem,
			Name:      "suppression_entries",
			Help:      "Entries in the active suppression list.",
		})
)

func init() {
	metrics.MustRegister(requestDuration, outcomesTotal, retriesTotal, cooldownsStarted, timeoutPins, suppressionEntries)
}

func observeRequest(via string, status int, d time.Duration) {
	requestDuration.WithLabelValues(via, strconv.Itoa(status/100)+"xx").Observe(d.Seconds())
}
