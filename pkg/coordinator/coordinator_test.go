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

package coordinator_test

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sync/errgroup"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/coordinator"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fake"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("Coordinator", func() {
	var (
		ctx context.Context
		st  *fake.Store
	)

	newWorker := func(id string) *coordinator.Coordinator {
		c := coordinator.New(st, id, "pod-"+id, types.WorkerExtraction, logr.Discard())
		Expect(c.Register(ctx)).To(Succeed())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		st = fake.NewStore()
	})

	Describe("Heartbeat", func() {
		It("reports UnknownWorker before registration", func() {
			c := coordinator.New(st, "worker-x", "pod", types.WorkerSchedule, logr.Discard())
			err := c.Heartbeat(ctx)
			Expect(dverrors.KindOf(err)).To(Equal(dverrors.KindUnknownWorker))
		})

		It("succeeds after registration", func() {
			c := newWorker("worker-x")
			Expect(c.Heartbeat(ctx)).To(Succeed())
		})
	})

	Describe("ClaimNext", func() {
		It("gives one contested diocese to exactly one of two workers", func() {
			Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 101, Name: "Diocese of Mobile", Website: "https://mobarch.example"})).To(Succeed())
			w1 := newWorker("worker-0001")
			w2 := newWorker("worker-0002")

			results := make([][]int64, 2)
			var g errgroup.Group
			g.Go(func() error {
				claimed, err := w1.ClaimNext(ctx, 5)
				results[0] = claimed
				return err
			})
			g.Go(func() error {
				claimed, err := w2.ClaimNext(ctx, 5)
				results[1] = claimed
				return err
			})
			Expect(g.Wait()).To(Succeed())

			Expect(len(results[0]) + len(results[1])).To(Equal(1))
			Expect(append(results[0], results[1]...)).To(ConsistOf(int64(101)))

			assignments := st.Assignments()
			Expect(assignments).To(HaveLen(1))
			Expect(assignments[0].Status).To(Equal(types.AssignmentProcessing))
			Expect(assignments[0].EstimatedCompletion).NotTo(BeNil())
		})

		It("prefers dioceses that still have no directory", func() {
			Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 1, Name: "Charted", Website: "https://charted.example"})).To(Succeed())
			Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 2, Name: "Uncharted", Website: "https://uncharted.example"})).To(Succeed())
			Expect(st.UpsertParishDirectory(ctx, &types.ParishDirectory{
				DioceseID: 1, URL: "https://charted.example/parishes", Found: true, DetectedBy: types.DetectedByHeuristic,
			})).To(Succeed())

			w := newWorker("worker-0001")
			claimed, err := w.ClaimNext(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(Equal([]int64{2}))
		})

		It("rejects claims from an unregistered worker", func() {
			c := coordinator.New(st, "worker-ghost", "pod", types.WorkerExtraction, logr.Discard())
			_, err := c.ClaimNext(ctx, 1)
			Expect(dverrors.KindOf(err)).To(Equal(dverrors.KindUnknownWorker))
		})
	})

	Describe("Sweep", func() {
		It("reclaims the dioceses of a worker that stopped heartbeating", func() {
			Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 42, Name: "Diocese of Silence", Website: "https://silence.example"})).To(Succeed())
			w1 := newWorker("worker-0001")
			w2 := newWorker("worker-0002")

			claimed, err := w1.ClaimNext(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(Equal([]int64{42}))

			st.SetHeartbeat("worker-0001", time.Now().Add(-100*time.Second))

			swept, err := w2.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(swept).To(Equal(1))

			dead := st.Worker("worker-0001")
			Expect(dead.Status).To(Equal(types.WorkerInactive))
			Expect(dead.AssignedDioceses).To(BeEmpty())

			assignments := st.Assignments()
			Expect(assignments).To(HaveLen(1))
			Expect(assignments[0].Status).To(Equal(types.AssignmentFailed))
			Expect(assignments[0].CompletedAt).NotTo(BeNil())

			reclaimed, err := w2.ClaimNext(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(reclaimed).To(Equal([]int64{42}))
		})

		It("sweeps nothing while everyone heartbeats", func() {
			newWorker("worker-0001")
			w2 := newWorker("worker-0002")
			swept, err := w2.Sweep(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(swept).To(BeZero())
		})
	})

	Describe("IsLead", func() {
		It("elects the smallest active worker id and moves on when it leaves", func() {
			w1 := newWorker("worker-0001")
			w2 := newWorker("worker-0002")

			lead, err := w1.IsLead(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(lead).To(BeTrue())

			lead, err = w2.IsLead(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(lead).To(BeFalse())

			Expect(w1.Shutdown(ctx)).To(Succeed())

			lead, err = w2.IsLead(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(lead).To(BeTrue())
		})
	})

	Describe("Shutdown", func() {
		It("fails open assignments and deactivates the worker row", func() {
			Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 7, Name: "Diocese of Exits", Website: "https://exits.example"})).To(Succeed())
			w := newWorker("worker-0001")
			claimed, err := w.ClaimNext(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(HaveLen(1))

			Expect(w.Shutdown(ctx)).To(Succeed())

			row := st.Worker("worker-0001")
			Expect(row.Status).To(Equal(types.WorkerInactive))
			Expect(row.AssignedDioceses).To(BeEmpty())
			assignments := st.Assignments()
			Expect(assignments).To(HaveLen(1))
			Expect(assignments[0].Status).To(Equal(types.AssignmentFailed))
		})
	})

	Describe("Run", func() {
		It("returns ErrHeartbeatLost after sustained heartbeat failures", func() {
			c := coordinator.New(st, "worker-0001", "pod", types.WorkerSchedule, logr.Discard(),
				coordinator.WithHeartbeatInterval(time.Millisecond))
			Expect(c.Register(ctx)).To(Succeed())
			st.HeartbeatError.Set(errors.New("connection refused"), fake.MaxCalls(0))

			runCtx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			err := c.Run(runCtx)
			Expect(errors.Is(err, coordinator.ErrHeartbeatLost)).To(BeTrue())
		})

		It("recovers when failures stop before the limit", func() {
			c := coordinator.New(st, "worker-0001", "pod", types.WorkerSchedule, logr.Discard(),
				coordinator.WithHeartbeatInterval(time.Millisecond))
			Expect(c.Register(ctx)).To(Succeed())
			st.HeartbeatError.Set(errors.New("transient"), fake.MaxCalls(2))

			runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			err := c.Run(runCtx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("stops promptly on cancellation", func() {
			c := coordinator.New(st, "worker-0001", "pod", types.WorkerSchedule, logr.Discard(),
				coordinator.WithHeartbeatInterval(50*time.Millisecond))
			Expect(c.Register(ctx)).To(Succeed())

			runCtx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- c.Run(runCtx) }()
			cancel()
			Eventually(done, time.Second).Should(Receive(MatchError(context.Canceled)))
		})
	})
})
