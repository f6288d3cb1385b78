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

package schedule

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	parishesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "schedule_parishes_total",
			Help:      "Parishes worked by the schedule role, by outcome.",
		},
		[]string{"outcome"})
	candidateVisits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "schedule_candidate_visits_total",
			Help:      "Candidate page visits, by fetch outcome.",
		},
		[]string{"outcome"})
	factsExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "schedule_facts_total",
			Help:      "Schedule facts persisted, by fact type and extraction method.",
		},
		[]string{"fact_type", "method"})
	keywordFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "schedule_keyword_fallbacks_total",
			Help:      "Times the analyzer was unreachable and keyword extraction took over.",
		})
)

func init() {
	metrics.MustRegister(parishesProcessed, candidateVisits, factsExtracted, keywordFallbacks)
}
