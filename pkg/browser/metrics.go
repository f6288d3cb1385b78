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

package browser

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BrowserSubsystem,
			Name:      "pool_size",
			Help:      "Configured number of leasable browser tabs.",
		})
	leasesInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BrowserSubsystem,
			Name:      "leases_in_use",
			Help:      "Tabs currently leased to a caller.",
		})
	leaseTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BrowserSubsystem,
			Name:      "lease_timeouts_total",
			Help:      "Lease requests refused because no tab freed up in time.",
		})
	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BrowserSubsystem,
			Name:      "renders_total",
			Help:      "Page renders by result.",
		},
		[]string{"result"})
	tabReplacements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.BrowserSubsystem,
			Name:      "tab_replacements_total",
			Help:      "Tabs destroyed and respawned after a failed run.",
		})
)

func init() {
	metrics.MustRegister(poolSize, leasesInUse, leaseTimeouts, rendersTotal, tabReplacements)
}
