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

package ai

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	gateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AISubsystem,
		Name:      "gate_decisions_total",
		Help:      "Gate verdicts by fact type and outcome (accepted, rejected, none).",
	}, []string{"fact_type", "outcome"})
	thresholdApplied = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AISubsystem,
		Name:      "threshold_applied",
		Help:      "Adaptive acceptance thresholds computed per evaluation.",
		Buckets:   prometheus.LinearBuckets(0, 10, 7),
	})
	confidenceReported = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AISubsystem,
		Name:      "confidence_reported",
		Help:      "Confidence scores reported by the analyzer.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})
	callDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AISubsystem,
		Name:      "call_duration_seconds",
		Help:      "Wall time of individual model calls.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
	})
	quotaBackoffs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AISubsystem,
		Name:      "quota_backoffs_total",
		Help:      "Backoff sleeps taken after quota exhaustion.",
	})
	repairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.AISubsystem,
		Name:      "repairs_total",
		Help:      "Repair prompts issued after undecodable output.",
	})
)

func init() {
	metrics.MustRegister(gateDecisions, thresholdApplied, confidenceReported, callDuration, quotaBackoffs, repairsTotal)
}
