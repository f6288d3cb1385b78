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

package discovery

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	diocesesSeeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "dioceses_seeded_total",
			Help:      "Dioceses upserted from registry pages.",
		})
	directoriesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "directories_detected_total",
			Help:      "Directory detection verdicts, by method (none means no directory).",
		},
		[]string{"method"})
	detectionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "directory_detection_failures_total",
			Help:      "Dioceses whose detection pass failed outright.",
		})
)

func init() {
	metrics.MustRegister(diocesesSeeded, directoriesDetected, detectionFailures)
}
