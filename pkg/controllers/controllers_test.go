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

package controllers_test

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/controllers"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/coordinator"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fake"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("Router", func() {
	var ctx context.Context
	var st *fake.Store
	var sink *eventSink
	var tracker *telemetry.Tracker
	var coord *coordinator.Coordinator

	BeforeEach(func() {
		ctx = context.Background()
		st = fake.NewStore()
		sink = &eventSink{}
		tracker = telemetry.NewTracker("worker-1", types.WorkerAll, nil, sink)
		coord = coordinator.New(st, "worker-1", "pod-1", types.WorkerAll, logr.Discard())
	})

	It("should register the worker and run each loop on its own cadence", func() {
		fast := &countingLoop{name: "fast", wait: 0}
		slow := &countingLoop{name: "slow", wait: time.Hour}
		router := controllers.NewRouter(coord, tracker, logr.Discard(), []controllers.Loop{fast, slow})

		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- router.Run(runCtx) }()

		Eventually(fast.Count, "2s").Should(BeNumerically(">=", 3))
		Expect(slow.Count()).To(Equal(1))
		worker := st.Worker("worker-1")
		Expect(worker).ToNot(BeNil())
		Expect(worker.Status).To(Equal(types.WorkerActive))
		Expect(sink.byType(telemetry.EventWorkerStarted)).To(HaveLen(1))

		stop()
		Eventually(done, "2s").Should(Receive(MatchError(context.Canceled)))
	})

	It("should fail open assignments and deactivate the worker on shutdown", func() {
		Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 61, Name: "Diocese of Savannah", Website: "https://savannah.example"})).To(Succeed())
		router := controllers.NewRouter(coord, tracker, logr.Discard(), []controllers.Loop{&claimLoop{coord: coord}})

		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- router.Run(runCtx) }()

		Eventually(func() int { return len(st.Assignments()) }, "2s").Should(Equal(1))
		stop()
		Eventually(done, "2s").Should(Receive())

		worker := st.Worker("worker-1")
		Expect(worker.Status).To(Equal(types.WorkerInactive))
		Expect(worker.AssignedDioceses).To(BeEmpty())
		assignments := st.Assignments()
		Expect(assignments).To(HaveLen(1))
		Expect(assignments[0].Status).To(Equal(types.AssignmentFailed))

		stopped := sink.byType(telemetry.EventWorkerStopped)
		Expect(stopped).To(HaveLen(1))
		Expect(stopped[0].Message).To(Equal("shutdown requested"))
	})

	It("should keep the other loops running when one iteration fails", func() {
		flaky := &countingLoop{name: "flaky", wait: time.Hour, err: errors.New("directory fetch failed")}
		healthy := &countingLoop{name: "healthy", wait: 0}
		router := controllers.NewRouter(coord, tracker, logr.Discard(), []controllers.Loop{flaky, healthy})

		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- router.Run(runCtx) }()

		Eventually(healthy.Count, "2s").Should(BeNumerically(">=", 2))
		Expect(flaky.Count()).To(Equal(1))
		Eventually(func() []telemetry.Event { return sink.byType(telemetry.EventError) }, "2s").ShouldNot(BeEmpty())

		stop()
		Eventually(done, "2s").Should(Receive())
	})

	It("should stop with ErrHeartbeatLost when the store stops answering", func() {
		coord = coordinator.New(st, "worker-1", "pod-1", types.WorkerAll, logr.Discard(),
			coordinator.WithHeartbeatInterval(5*time.Millisecond))
		st.HeartbeatError.Set(errors.New("connection refused"), fake.MaxCalls(0))
		router := controllers.NewRouter(coord, tracker, logr.Discard(),
			[]controllers.Loop{&countingLoop{name: "idle", wait: time.Hour}})

		done := make(chan error, 1)
		go func() { done <- router.Run(ctx) }()

		var err error
		Eventually(done, "3s").Should(Receive(&err))
		Expect(errors.Is(err, coordinator.ErrHeartbeatLost)).To(BeTrue())

		stopped := sink.byType(telemetry.EventWorkerStopped)
		Expect(stopped).To(HaveLen(1))
		Expect(stopped[0].Message).To(Equal("heartbeat lost"))
	})

	It("should reclaim a dead worker's dioceses while leading", func() {
		Expect(st.UpsertDiocese(ctx, &types.Diocese{ID: 7, Name: "Diocese of Fairbanks", Website: "https://cbna.example"})).To(Succeed())
		other := coordinator.New(st, "worker-9", "pod-9", types.WorkerExtraction, logr.Discard())
		Expect(other.Register(ctx)).To(Succeed())
		claimed, err := other.ClaimNext(ctx, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(claimed).To(Equal([]int64{7}))
		st.SetHeartbeat("worker-9", time.Now().Add(-2*time.Minute))

		router := controllers.NewRouter(coord, tracker, logr.Discard(),
			[]controllers.Loop{&countingLoop{name: "idle", wait: time.Hour}},
			controllers.WithSweepInterval(10*time.Millisecond))

		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- router.Run(runCtx) }()

		Eventually(func() types.WorkerStatus {
			if w := st.Worker("worker-9"); w != nil {
				return w.Status
			}
			return ""
		}, "2s").Should(Equal(types.WorkerInactive))

		assignments := st.Assignments()
		Expect(assignments).To(HaveLen(1))
		Expect(assignments[0].Status).To(Equal(types.AssignmentFailed))

		stop()
		Eventually(done, "2s").Should(Receive())
	})
})
