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

package frontier

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

var (
	candidatesDiscovered = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FrontierSubsystem,
			Name:      "candidates_per_parish",
			Help:      "Candidate URLs surviving the relevance filter per parish.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		})
	sitemapsWalked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FrontierSubsystem,
			Name:      "sitemaps_walked_total",
			Help:      "Sitemap documents parsed, by discovery source.",
		},
		[]string{"source"})
	prioritizedBatch = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metrics.Namespace,
			Subsystem: metrics.FrontierSubsystem,
			Name:      "prioritized_batch_size",
			Help:      "Parishes returned per prioritizer batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		})
)

func init() {
	metrics.MustRegister(candidatesDiscovered, sitemapsWalked, prioritizedBatch)
}
