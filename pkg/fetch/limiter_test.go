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
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
)

func policiesFromYAML(doc string) *fetch.Policies {
	dir, err := os.MkdirTemp("", "limiter-policies")
	Expect(err).ToNot(HaveOccurred())
	DeferCleanup(func() { _ = os.RemoveAll(dir) })
	path := filepath.Join(dir, "origins.yaml")
	Expect(os.WriteFile(path, []byte(doc), 0o600)).To(Succeed())
	p := fetch.NewPolicies(logr.Discard())
	Expect(p.Load(path)).To(Succeed())
	return p
}

var _ = Describe("Limiters", func() {
	It("should hold sequential requests to the configured rate", func() {
		// 50 rps with burst 1: 10 acquisitions need at least 9 refills.
		p := policiesFromYAML(`
default:
  requests_per_second: 50
  burst: 1
  max_concurrent: 4
  base_delay: 1ms
`)
		limiters := fetch.NewLimiters(p)
		start := time.Now()
		for i := 0; i < 10; i++ {
			release, err := limiters.Acquire(context.Background(), "origin.example.org")
			Expect(err).ToNot(HaveOccurred())
			release()
		}
		Expect(time.Since(start)).To(BeNumerically(">=", 170*time.Millisecond))
	})

	It("should cap in-flight requests per origin", func() {
		p := policiesFromYAML(`
default:
  requests_per_second: 1000
  burst: 100
  max_concurrent: 2
  base_delay: 1ms
`)
		limiters := fetch.NewLimiters(p)

		var inFlight, peak atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := limiters.Acquire(context.Background(), "busy.example.org")
				Expect(err).ToNot(HaveOccurred())
				defer release()
				now := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					old := peak.Load()
					if now <= old || peak.CompareAndSwap(old, now) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
			}()
		}
		wg.Wait()
		Expect(peak.Load()).To(BeNumerically("<=", 2))
	})

	It("should give up cleanly when the context ends while queued", func() {
		p := policiesFromYAML(`
default:
  requests_per_second: 0.1
  burst: 1
  max_concurrent: 1
  base_delay: 1ms
`)
		limiters := fetch.NewLimiters(p)
		release, err := limiters.Acquire(context.Background(), "tight.example.org")
		Expect(err).ToNot(HaveOccurred())
		defer release()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = limiters.Acquire(ctx, "tight.example.org")
		Expect(dverrors.IsCancelled(err)).To(BeTrue())
	})

	It("should track origins independently", func() {
		p := policiesFromYAML(`
default:
  requests_per_second: 1
  burst: 1
  max_concurrent: 1
  base_delay: 1ms
`)
		limiters := fetch.NewLimiters(p)
		releaseA, err := limiters.Acquire(context.Background(), "a.example.org")
		Expect(err).ToNot(HaveOccurred())
		defer releaseA()

		// A saturated slot on one origin must not delay another.
		done := make(chan struct{})
		go func() {
			defer GinkgoRecover()
			releaseB, err := limiters.Acquire(context.Background(), "b.example.org")
			Expect(err).ToNot(HaveOccurred())
			releaseB()
			close(done)
		}()
		Eventually(done, time.Second).Should(BeClosed())
	})
})
