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

package breaker_test

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

var _ = Describe("Breaker Registry", func() {
	var ctx context.Context
	var reg *breaker.Registry
	var boom error

	BeforeEach(func() {
		ctx = context.Background()
		reg = breaker.NewRegistry(logr.Discard())
		boom = dverrors.New(dverrors.KindServerError, "upstream returned 503")
	})

	It("should pass through successful calls", func() {
		invoked := 0
		Expect(reg.Guard(ctx, breaker.DiocesePageLoad, func() error {
			invoked++
			return nil
		})).To(Succeed())
		Expect(invoked).To(Equal(1))
	})

	It("should open on the configured failure threshold and reject without invoking", func() {
		// diocese_page_load trips at 3 failures inside its window
		for i := 0; i < 2; i++ {
			Expect(reg.Guard(ctx, breaker.DiocesePageLoad, func() error { return boom })).To(MatchError(boom))
			Expect(reg.State(breaker.DiocesePageLoad).State).To(Equal("closed"))
		}
		Expect(reg.Guard(ctx, breaker.DiocesePageLoad, func() error { return boom })).To(MatchError(boom))
		Expect(reg.State(breaker.DiocesePageLoad).State).To(Equal("open"))

		invoked := false
		err := reg.Guard(ctx, breaker.DiocesePageLoad, func() error {
			invoked = true
			return nil
		})
		Expect(dverrors.IsCircuitOpen(err)).To(BeTrue())
		Expect(invoked).To(BeFalse())
	})

	It("should not count client errors or cancellation against the breaker", func() {
		clientErr := dverrors.New(dverrors.KindClientError, "404 not found")
		cancelErr := dverrors.Wrap(dverrors.KindCancelled, context.Canceled)
		for i := 0; i < 10; i++ {
			Expect(reg.Guard(ctx, breaker.DiocesePageLoad, func() error { return clientErr })).To(MatchError(clientErr))
			Expect(reg.Guard(ctx, breaker.DiocesePageLoad, func() error { return cancelErr })).To(MatchError(cancelErr))
		}
		Expect(reg.State(breaker.DiocesePageLoad).State).To(Equal("closed"))
	})

	It("should transition open -> half-open -> closed on a successful probe", func() {
		reg.Configure("probe", breaker.Config{FailureThreshold: 1, FailureWindow: time.Minute, RecoveryTimeout: 50 * time.Millisecond})
		Expect(reg.Guard(ctx, "probe", func() error { return boom })).To(HaveOccurred())
		Expect(reg.State("probe").State).To(Equal("open"))

		Eventually(func() string {
			return reg.State("probe").State
		}, time.Second, 10*time.Millisecond).Should(Equal("half_open"))

		Expect(reg.Guard(ctx, "probe", func() error { return nil })).To(Succeed())
		Expect(reg.State("probe").State).To(Equal("closed"))
	})

	It("should transition half-open back to open when the probe fails", func() {
		reg.Configure("probe", breaker.Config{FailureThreshold: 1, FailureWindow: time.Minute, RecoveryTimeout: 50 * time.Millisecond})
		Expect(reg.Guard(ctx, "probe", func() error { return boom })).To(HaveOccurred())
		Eventually(func() string {
			return reg.State("probe").State
		}, time.Second, 10*time.Millisecond).Should(Equal("half_open"))

		Expect(reg.Guard(ctx, "probe", func() error { return boom })).To(MatchError(boom))
		Expect(reg.State("probe").State).To(Equal("open"))
	})

	It("should track request and rejection counters in snapshots", func() {
		reg.Configure("counted", breaker.Config{FailureThreshold: 1, FailureWindow: time.Minute, RecoveryTimeout: time.Minute})
		Expect(reg.Guard(ctx, "counted", func() error { return nil })).To(Succeed())
		Expect(reg.Guard(ctx, "counted", func() error { return boom })).To(HaveOccurred())
		Expect(dverrors.IsCircuitOpen(reg.Guard(ctx, "counted", func() error { return nil }))).To(BeTrue())

		snap := reg.State("counted")
		Expect(snap.TotalRequests).To(Equal(uint64(3)))
		Expect(snap.TotalBlocked).To(Equal(uint64(1)))
		Expect(snap.LastFailureAt).ToNot(BeNil())
		Expect(snap.OpenedAt).ToNot(BeNil())
	})

	It("should list snapshots sorted by name", func() {
		Expect(reg.Guard(ctx, breaker.ForOrigin("zeta.example.org"), func() error { return nil })).To(Succeed())
		Expect(reg.Guard(ctx, breaker.AIContentAnalysis, func() error { return nil })).To(Succeed())
		Expect(reg.Guard(ctx, breaker.ForOrigin("alpha.example.org"), func() error { return nil })).To(Succeed())

		snaps := reg.SnapshotAll()
		Expect(snaps).To(HaveLen(3))
		Expect(snaps[0].Name).To(Equal(breaker.AIContentAnalysis))
		Expect(snaps[1].Name).To(Equal(breaker.ForOrigin("alpha.example.org")))
		Expect(snaps[2].Name).To(Equal(breaker.ForOrigin("zeta.example.org")))
	})

	It("should return the cancellation instead of invoking when the context is done", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		invoked := false
		err := reg.Guard(cancelled, breaker.DiocesePageLoad, func() error {
			invoked = true
			return nil
		})
		Expect(dverrors.IsCancelled(err)).To(BeTrue())
		Expect(invoked).To(BeFalse())
	})

	It("should pass typed results through Do", func() {
		got, err := breaker.Do(ctx, reg, breaker.AIContentAnalysis, func() (int, error) { return 42, nil })
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(42))

		_, err = breaker.Do(ctx, reg, breaker.AIContentAnalysis, func() (int, error) { return 0, boom })
		Expect(err).To(MatchError(boom))
	})

	It("should use the default configuration for unnamed breakers", func() {
		cfg := breaker.ConfigFor("origin:parish.example.org")
		Expect(cfg.FailureThreshold).To(Equal(uint32(5)))
		Expect(cfg.FailureWindow).To(Equal(60 * time.Second))
		Expect(cfg.RecoveryTimeout).To(Equal(60 * time.Second))
	})

	It("should map sentinel kinds through wrapped chains", func() {
		wrapped := errors.Join(errors.New("outer"), dverrors.New(dverrors.KindBlocked, "403 from origin"))
		Expect(dverrors.IsBlocked(wrapped)).To(BeTrue())
	})
})
