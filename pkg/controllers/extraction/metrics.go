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

package extraction

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	diocesesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "dioceses_processed_total",
			Help:      "Diocese assignments finished, by outcome.",
		},
		[]string{"outcome"})
	parishesExtracted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "parishes_extracted_total",
			Help:      "Parish rows upserted from directory pages.",
		})
	parishesEnriched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "parishes_enriched_total",
			Help:      "Parishes whose detail page added missing fields.",
		})
	parsersUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "directory_parsers_total",
			Help:      "Directory pages parsed, by platform strategy.",
		},
		[]string{"parser"})
)

func init() {
	metrics.MustRegister(diocesesProcessed, parishesExtracted, parishesEnriched, parsersUsed)
}
