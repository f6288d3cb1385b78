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

package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/metrics"
)

const (
	wsWriteTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// ProcessStats is the OS-level view of this worker served under /status.
type ProcessStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Goroutines int     `json:"goroutines"`
}

type statusResponse struct {
	Status
	Process ProcessStats `json:"process"`
}

// Server exposes the worker's status, health, metrics and event stream on a
// local port. It carries no state of its own; everything comes from the
// tracker and the metrics registry.
type Server struct {
	log      logr.Logger
	tracker  *Tracker
	port     int
	proc     *process.Process
	upgrader websocket.Upgrader
}

// NewServer serves tracker on the given port once Run is called.
func NewServer(port int, tracker *Tracker, log logr.Logger) *Server {
	// Process lookup only fails for a PID that does not exist; our own
	// always does, but a nil proc just zeroes the stats.
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Server{
		log:     log,
		tracker: tracker,
		port:    port,
		proc:    proc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the routed HTTP surface, exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/events/ws", s.handleEventsWS)
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listening on status port, %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("status server listening", "address", ln.Addr().String())
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("stopping status server, %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("status server exited, %w", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Status: s.tracker.Status(),
		Process: ProcessStats{
			Goroutines: runtime.NumGoroutine(),
		},
	}
	if s.proc != nil {
		if cpu, err := s.proc.CPUPercent(); err == nil {
			resp.Process.CPUPercent = cpu
		}
		if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
			resp.Process.RSSBytes = mem.RSS
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.V(1).Info("writing status response", "error", err)
	}
}

// handleEventsWS streams tracker events to one websocket client until the
// client goes away or the server stops.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.V(1).Info("websocket upgrade refused", "error", err)
		return
	}
	defer conn.Close()
	events, cancel := s.tracker.Subscribe()
	defer cancel()
	wsClients.Inc()
	defer wsClients.Dec()

	// The read pump discards client frames and reports the peer closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
