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

package fetch_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
)

var _ = Describe("TimeoutTracker", func() {
	var tracker *fetch.TimeoutTracker

	BeforeEach(func() {
		tracker = fetch.NewTimeoutTracker()
	})

	It("should start at the floor with no history", func() {
		Expect(tracker.TimeoutFor("fresh.example.org")).To(Equal(fetch.TimeoutFloor))
	})

	It("should stay at the floor for fast origins", func() {
		for i := 0; i < 20; i++ {
			tracker.Observe("fast.example.org", 200*time.Millisecond)
		}
		// 3 * P90 of 200ms is well under the floor.
		Expect(tracker.TimeoutFor("fast.example.org")).To(Equal(fetch.TimeoutFloor))
	})

	It("should scale with the P90 of slow origins", func() {
		for i := 0; i < 20; i++ {
			tracker.Observe("slow.example.org", 4*time.Second)
		}
		Expect(tracker.TimeoutFor("slow.example.org")).To(Equal(12 * time.Second))
	})

	It("should clamp at the ceiling", func() {
		for i := 0; i < 20; i++ {
			tracker.Observe("glacial.example.org", 30*time.Second)
		}
		Expect(tracker.TimeoutFor("glacial.example.org")).To(Equal(fetch.TimeoutCeiling))
	})

	It("should pin to the ceiling after three consecutive timeouts", func() {
		host := "flappy.example.org"
		tracker.Observe(host, time.Second)
		tracker.ObserveTimeout(host)
		tracker.ObserveTimeout(host)
		Expect(tracker.TimeoutFor(host)).ToNot(Equal(fetch.TimeoutCeiling))

		tracker.ObserveTimeout(host)
		Expect(tracker.TimeoutFor(host)).To(Equal(fetch.TimeoutCeiling))
	})

	It("should reset the consecutive counter on success", func() {
		host := "steady.example.org"
		tracker.ObserveTimeout(host)
		tracker.ObserveTimeout(host)
		tracker.Observe(host, time.Second)
		tracker.ObserveTimeout(host)
		tracker.ObserveTimeout(host)
		Expect(tracker.TimeoutFor(host)).ToNot(Equal(fetch.TimeoutCeiling))
	})

	It("should report latency stats for telemetry", func() {
		host := "stats.example.org"
		tracker.Observe(host, time.Second)
		tracker.Observe(host, 3*time.Second)
		mean, p90, n := tracker.Stats(host)
		Expect(n).To(Equal(2))
		Expect(mean).To(Equal(2 * time.Second))
		Expect(p90).To(Equal(3 * time.Second))
	})
})
