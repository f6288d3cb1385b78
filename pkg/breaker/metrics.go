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

package breaker

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BreakerSubsystem,
			Name:      "requests_total",
			Help:      "Calls attempted through a breaker, including rejected ones.",
		},
		[]string{"breaker"})
	rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BreakerSubsystem,
			Name:      "rejections_total",
			Help:      "Calls rejected without execution because the breaker was open.",
		},
		[]string{"breaker"})
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BreakerSubsystem,
			Name:      "transitions_total",
			Help:      "State transitions by target state.",
		},
		[]string{"breaker", "to"})
	stateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BreakerSubsystem,
			Name:      "state",
			Help:      "Current breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"breaker"})
)

func init() {
	metrics.MustRegister(requestsTotal, rejectionsTotal, transitionsTotal, stateGauge)
}
