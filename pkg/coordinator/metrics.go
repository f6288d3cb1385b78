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

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.CoordinatorSubsystem,
		Name:      "heartbeats_total",
		Help:      "Heartbeat attempts by result.",
	}, []string{"result"})
	heartbeatLosses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.CoordinatorSubsystem,
		Name:      "heartbeat_losses_total",
		Help:      "Times the worker gave up its identity after consecutive heartbeat failures.",
	})
	leadStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: metrics.CoordinatorSubsystem,
		Name:      "is_lead",
		Help:      "1 while this worker holds the lead.",
	})
)

func init() {
	metrics.MustRegister(heartbeats, heartbeatLosses, leadStatus)
}
