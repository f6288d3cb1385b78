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
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("Server", func() {
	var (
		tr  *telemetry.Tracker
		srv *httptest.Server
	)

	BeforeEach(func() {
		tr = telemetry.NewTracker("worker-1", types.WorkerExtraction, nil)
		srv = httptest.NewServer(telemetry.NewServer(0, tr, logr.Discard()).Handler())
		DeferCleanup(srv.Close)
	})

	It("reports health", func() {
		resp, err := http.Get(srv.URL + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("serves the status snapshot with process stats", func() {
		tr.DioceseStarted(7, "Diocese of Raleigh")
		tr.RecordError(errors.New("fetch refused"), 7, 0)

		resp, err := http.Get(srv.URL + "/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

		var got struct {
			telemetry.Status
			Process telemetry.ProcessStats `json:"process"`
		}
		Expect(json.NewDecoder(resp.Body).Decode(&got)).To(Succeed())
		Expect(got.WorkerID).To(Equal("worker-1"))
		Expect(got.WorkerType).To(Equal(string(types.WorkerExtraction)))
		Expect(got.CurrentDiocese).To(Equal(int64(7)))
		Expect(got.Errors).To(Equal(uint64(1)))
		Expect(got.RecentErrors).To(HaveLen(1))
		Expect(got.Process.Goroutines).To(BeNumerically(">", 0))
	})

	It("serves prometheus metrics", func() {
		tr.WorkerStarted()
		resp, err := http.Get(srv.URL + "/metrics")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("diocesan_vitality_telemetry_events_total"))
	})

	It("streams events over the websocket", func() {
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		// Emit until the subscription inside the handler picks one up.
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(10 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					tr.ReportGenerated("fleet summary")
				}
			}
		}()

		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
		var ev telemetry.Event
		Expect(conn.ReadJSON(&ev)).To(Succeed())
		Expect(ev.Type).To(Equal(telemetry.EventReportGenerated))
		Expect(ev.WorkerID).To(Equal("worker-1"))
		Expect(ev.Message).To(Equal("fleet summary"))
	})

	It("shuts down cleanly when the context ends", func() {
		s := telemetry.NewServer(0, tr, logr.Discard())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()
		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})
