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

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.TelemetrySubsystem,
			Name:      "events_total",
			Help:      "Events emitted by the tracker, by type.",
		},
		[]string{"type"})
	pushed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.TelemetrySubsystem,
			Name:      "pushed_events_total",
			Help:      "Events delivered to the monitoring endpoint.",
		})
	pushDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.TelemetrySubsystem,
			Name:      "push_dropped_total",
			Help:      "Events evicted from the push queue because it was full.",
		})
	pushErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.TelemetrySubsystem,
			Name:      "push_errors_total",
			Help:      "Failed deliveries to the monitoring endpoint.",
		})
	wsClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.TelemetrySubsystem,
			Name:      "websocket_clients",
			Help:      "Connected event stream clients.",
		})
)

func init() {
	metrics.MustRegister(eventsEmitted, pushed, pushDropped, pushErrors, wsClients)
}
