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

// Package metrics holds the shared prometheus registry and naming constants.
// Component packages declare their collectors in a metrics.go file and
// register them in init().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	Namespace = "diocesan_vitality"

	FetchSubsystem       = "fetch"
	BreakerSubsystem     = "breaker"
	FrontierSubsystem    = "frontier"
	AISubsystem          = "ai"
	StoreSubsystem       = "store"
	CoordinatorSubsystem = "coordinator"
	TelemetrySubsystem   = "telemetry"
	BrowserSubsystem     = "browser"
	PipelineSubsystem    = "pipeline"
)

// Registry is the process-wide registry served on /metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// MustRegister registers collectors with the project registry.
func MustRegister(cs ...prometheus.Collector) {
	Registry.MustRegister(cs...)
}
