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

package fetch

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/ringbuffer"
)

const (
	// TimeoutFloor and TimeoutCeiling clamp the adaptive request timeout.
	TimeoutFloor   = 5 * time.Second
	TimeoutCeiling = 45 * time.Second

	// timeoutPinTTL is how long an origin stays pinned to the ceiling after
	// three consecutive timeouts.
	timeoutPinTTL = 10 * time.Minute

	timeoutSampleWindow = 50
)

type originLatency struct {
	samples             *ringbuffer.RingBuffer[time.Duration]
	consecutiveTimeouts int
}

// TimeoutTracker derives per-origin request timeouts from observed latency:
// clamp(max(floor, 3*P90), floor, ceiling). Origins that time out three times
// in a row are pinned to the ceiling for a while so a single slow page does
// not thrash the estimate.
type TimeoutTracker struct {
	mu      sync.Mutex
	origins map[string]*originLatency
	pinned  *cache.Cache
}

func NewTimeoutTracker() *TimeoutTracker {
	return &TimeoutTracker{
		origins: map[string]*originLatency{},
		pinned:  cache.New(timeoutPinTTL, time.Minute),
	}
}

// TimeoutFor returns the timeout to apply to the next request to host.
func (t *TimeoutTracker) TimeoutFor(host string) time.Duration {
	if _, ok := t.pinned.Get(host); ok {
		return TimeoutCeiling
	}
	t.mu.Lock()
	o, ok := t.origins[host]
	var samples []time.Duration
	if ok {
		samples = o.samples.Items()
	}
	t.mu.Unlock()
	if len(samples) == 0 {
		return TimeoutFloor
	}
	p90 := percentile(samples, 0.90)
	timeout := 3 * p90
	if timeout < TimeoutFloor {
		timeout = TimeoutFloor
	}
	if timeout > TimeoutCeiling {
		timeout = TimeoutCeiling
	}
	return timeout
}

// Observe records a completed request's duration for host.
func (t *TimeoutTracker) Observe(host string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.origin(host)
	o.samples.Insert(d)
	o.consecutiveTimeouts = 0
}

// ObserveTimeout records a timed-out request. Three in a row pin the origin
// to the ceiling.
func (t *TimeoutTracker) ObserveTimeout(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o := t.origin(host)
	o.consecutiveTimeouts++
	if o.consecutiveTimeouts >= 3 {
		t.pinned.SetDefault(host, time.Now())
		o.consecutiveTimeouts = 0
		timeoutPins.Inc()
	}
}

// Stats exposes the current latency profile of a host for telemetry.
func (t *TimeoutTracker) Stats(host string) (mean, p90 time.Duration, n int) {
	t.mu.Lock()
	o, ok := t.origins[host]
	var samples []time.Duration
	if ok {
		samples = o.samples.Items()
	}
	t.mu.Unlock()
	if len(samples) == 0 {
		return 0, 0, 0
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	return total / time.Duration(len(samples)), percentile(samples, 0.90), len(samples)
}

func (t *TimeoutTracker) origin(host string) *originLatency {
	o, ok := t.origins[host]
	if !ok {
		o = &originLatency{samples: ringbuffer.New[time.Duration](timeoutSampleWindow)}
		t.origins[host] = o
	}
	return o
}

// percentile returns the nearest-rank percentile of samples.
func percentile(samples []time.Duration, q float64) time.Duration {
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}
