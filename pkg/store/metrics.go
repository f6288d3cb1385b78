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

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	opDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.StoreSubsystem,
		Name:      "op_duration_seconds",
		Help:      "Wall time of store operations by name and result.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"op", "result"})
	txConflicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.StoreSubsystem,
		Name:      "tx_conflicts_total",
		Help:      "Serialization conflicts retried, by operation.",
	}, []string{"op"})
	claimedDioceses = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.StoreSubsystem,
		Name:      "claimed_dioceses",
		Help:      "Dioceses returned per claim call.",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})
	sweptWorkers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.StoreSubsystem,
		Name:      "swept_workers_total",
		Help:      "Workers marked inactive by sweeps.",
	})
)

func init() {
	metrics.MustRegister(opDuration, txConflicts, claimedDioceses, sweptWorkers)
}

func observeOp(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	opDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
