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

package controllers

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	iterations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "iterations_total",
			Help:      "Role loop iterations, by loop and result.",
		},
		[]string{"loop", "result"})
	sweepsRun = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.PipelineSubsystem,
			Name:      "swept_workers_total",
			Help:      "Dead workers reclaimed by this worker while leading.",
		})
)

func init() {
	metrics.MustRegister(iterations, sweepsRun)
}
