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

package telemetry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
)

type eventRecorder struct {
	mu           sync.Mutex
	events       []telemetry.Event
	contentTypes []string
	paths        []string
}

func (r *eventRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	r.contentTypes = append(r.contentTypes, req.Header.Get("Content-Type"))
	r.paths = append(r.paths, req.URL.Path)
	r.mu.Unlock()
	dec := json.NewDecoder(req.Body)
	for {
		var ev telemetry.Event
		if err := dec.Decode(&ev); err != nil {
			break
		}
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *eventRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) Events() []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Event(nil), r.events...)
}

func (r *eventRecorder) ContentTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.contentTypes...)
}

func (r *eventRecorder) Paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

var _ = Describe("Pusher", func() {
	var (
		rec *eventRecorder
		srv *httptest.Server
	)

	BeforeEach(func() {
		rec = &eventRecorder{}
		srv = httptest.NewServer(rec)
		DeferCleanup(srv.Close)
	})

	It("delivers offered events as NDJSON to the events endpoint", func() {
		p := telemetry.NewPusher(srv.URL+"/", logr.Discard(), telemetry.WithPushInterval(10*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		p.Offer(telemetry.Event{Type: telemetry.EventParishCompleted, WorkerID: "worker-1", ParishID: 5, Message: "3 facts"})
		p.Offer(telemetry.Event{Type: telemetry.EventError, WorkerID: "worker-1", Message: "fetch refused"})

		Eventually(rec.Count).Should(Equal(2))
		evs := rec.Events()
		Expect(evs[0].Type).To(Equal(telemetry.EventParishCompleted))
		Expect(evs[0].ParishID).To(Equal(int64(5)))
		Expect(evs[1].Message).To(Equal("fetch refused"))
		Expect(rec.ContentTypes()).To(ContainElement("application/x-ndjson"))
		Expect(rec.Paths()).To(ContainElement("/events"))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})

	It("flushes whatever is queued on shutdown", func() {
		p := telemetry.NewPusher(srv.URL, logr.Discard(), telemetry.WithPushInterval(time.Hour))
		for i := 0; i < 10; i++ {
			p.Offer(telemetry.Event{Type: telemetry.EventError, Message: strconv.Itoa(i)})
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(p.Run(ctx)).To(MatchError(context.Canceled))
		Expect(rec.Count()).To(Equal(10))
	})

	It("evicts the oldest events once the queue is full", func() {
		p := telemetry.NewPusher(srv.URL, logr.Discard(), telemetry.WithPushInterval(time.Hour))
		total := 1024 + 6
		for i := 0; i < total; i++ {
			p.Offer(telemetry.Event{Type: telemetry.EventError, Message: strconv.Itoa(i)})
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()

		Eventually(rec.Count).Should(Equal(1024))
		evs := rec.Events()
		Expect(evs[0].Message).To(Equal("6"))
		Expect(evs[len(evs)-1].Message).To(Equal(strconv.Itoa(total - 1)))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})

	It("never blocks when the monitoring endpoint is unreachable", func() {
		p := telemetry.NewPusher("http://127.0.0.1:1", logr.Discard(), telemetry.WithPushInterval(5*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		for i := 0; i < 200; i++ {
			p.Offer(telemetry.Event{Type: telemetry.EventError, Message: "unreachable"})
		}
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})
