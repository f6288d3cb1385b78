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

// Package breaker is the circuit-breaker fabric. All remote interaction
// classes run under a named breaker owned by a single Registry; callers use
// Guard and never construct breakers directly.
package breaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

// Well-known breaker names. Origin breakers are derived with ForOrigin.
const (
	DiocesePageLoad     = "diocese_page_load"
	ParishDetailLoad    = "parish_detail_load"
	WebDriverRequests   = "webdriver_requests"
	JavascriptExecution = "javascript_execution"
	AIContentAnalysis   = "ai_content_analysis"
)

// ForOrigin returns the breaker name guarding one origin host.
func ForOrigin(host string) string {
	return "origin:" + host
}

// Config holds the tunables of one breaker.
type Config struct {
	// FailureThreshold is the failure count within FailureWindow that trips
	// the breaker open.
	FailureThreshold uint32
	// FailureWindow is the rolling accounting interval while closed.
	FailureWindow time.Duration
	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration
}

var namedConfigs = map[string]Config{
	DiocesePageLoad:     {FailureThreshold: 3, FailureWindow: 60 * time.Second, RecoveryTimeout: 60 * time.Second},
	ParishDetailLoad:    {FailureThreshold: 5, FailureWindow: 60 * time.Second, RecoveryTimeout: 30 * time.Second},
	WebDriverRequests:   {FailureThreshold: 5, FailureWindow: 60 * time.Second, RecoveryTimeout: 30 * time.Second},
	JavascriptExecution: {FailureThreshold: 5, FailureWindow: 60 * time.Second, RecoveryTimeout: 60 * time.Second},
	AIContentAnalysis:   {FailureThreshold: 5, FailureWindow: 120 * time.Second, RecoveryTimeout: 60 * time.Second},
}

var defaultConfig = Config{FailureThreshold: 5, FailureWindow: 60 * time.Second, RecoveryTimeout: 60 * time.Second}

// ConfigFor returns the configuration a breaker of the given name gets when
// created on demand.
func ConfigFor(name string) Config {
	if cfg, ok := namedConfigs[name]; ok {
		return cfg
	}
	return defaultConfig
}

// Snapshot is the externally visible state of one breaker.
type Snapshot struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	FailureCount  uint32     `json:"failure_count"`
	SuccessCount  uint32     `json:"success_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	TotalRequests uint64     `json:"total_requests"`
	TotalBlocked  uint64     `json:"total_blocked"`
}

type breaker struct {
	cb            *gobreaker.CircuitBreaker
	totalRequests atomic.Uint64
	totalBlocked  atomic.Uint64

	mu            sync.Mutex
	lastFailureAt time.Time
	openedAt      time.Time
}

// Registry owns every named breaker in the process. Breakers are created on
// first use with ConfigFor defaults and live for the process lifetime.
type Registry struct {
	log      logr.Logger
	mu       sync.RWMutex
	breakers map[string]*breaker
}

func NewRegistry(log logr.Logger) *Registry {
	return &Registry{
		log:      log,
		breakers: map[string]*breaker{},
	}
}

func (r *Registry) get(name string) *breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[name]; ok {
		return b
	}
	b = r.newBreaker(name, ConfigFor(name))
	r.breakers[name] = b
	return b
}

// Configure installs a breaker with explicit settings, replacing any existing
// breaker of the same name. Call before the breaker takes traffic; replacing a
// live breaker discards its counters.
func (r *Registry) Configure(name string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[name] = r.newBreaker(name, cfg)
}

func (r *Registry) newBreaker(name string, cfg Config) *breaker {
	b := &breaker{}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// A single successful probe closes the breaker again.
		MaxRequests: 1,
		Interval:    cfg.FailureWindow,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.mu.Lock()
			if to == gobreaker.StateOpen {
				b.openedAt = time.Now()
			} else {
				b.openedAt = time.Time{}
			}
			b.mu.Unlock()
			transitionsTotal.WithLabelValues(name, stateString(to)).Inc()
			stateGauge.WithLabelValues(name).Set(stateValue(to))
			r.log.Info("circuit breaker state change", "breaker", name, "from", stateString(from), "to", stateString(to))
		},
	})
	stateGauge.WithLabelValues(name).Set(stateValue(gobreaker.StateClosed))
	return b
}

// countsAsFailure decides which classified errors move the breaker. Client
// errors, caller cancellation, and rejections from a nested breaker say
// nothing about the guarded dependency.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch dverrors.KindOf(err) {
	case dverrors.KindClientError, dverrors.KindCancelled, dverrors.KindSuppressed,
		dverrors.KindRobotsDisallowed, dverrors.KindCircuitOpen:
		return false
	}
	return true
}

// Guard runs fn under the named breaker. When the breaker is open the call is
// rejected with KindCircuitOpen and fn is never invoked. fn's error is
// returned unchanged otherwise.
func (r *Registry) Guard(ctx context.Context, name string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return dverrors.Wrap(dverrors.KindCancelled, err)
	}
	b := r.get(name)
	b.totalRequests.Add(1)
	requestsTotal.WithLabelValues(name).Inc()
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.totalBlocked.Add(1)
		rejectionsTotal.WithLabelValues(name).Inc()
		return dverrors.New(dverrors.KindCircuitOpen, "circuit %q is open", name)
	}
	if countsAsFailure(err) {
		b.mu.Lock()
		b.lastFailureAt = time.Now()
		b.mu.Unlock()
	}
	return err
}

// Do runs fn under the named breaker of reg and passes its typed result
// through. The zero value of T is returned on rejection or failure.
func Do[T any](ctx context.Context, reg *Registry, name string, fn func() (T, error)) (T, error) {
	var out T
	err := reg.Guard(ctx, name, func() error {
		var innerErr error
		out, innerErr = fn()
		return innerErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// State returns the snapshot of one breaker, creating it if absent.
func (r *Registry) State(name string) Snapshot {
	return r.snapshot(name, r.get(name))
}

// SnapshotAll returns snapshots of every breaker, sorted by name.
func (r *Registry) SnapshotAll() []Snapshot {
	r.mu.RLock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		out = append(out, r.State(name))
	}
	return out
}

func (r *Registry) snapshot(name string, b *breaker) Snapshot {
	counts := b.cb.Counts()
	s := Snapshot{
		Name:          name,
		State:         stateString(b.cb.State()),
		FailureCount:  counts.TotalFailures,
		SuccessCount:  counts.TotalSuccesses,
		TotalRequests: b.totalRequests.Load(),
		TotalBlocked:  b.totalBlocked.Load(),
	}
	b.mu.Lock()
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		s.LastFailureAt = &t
	}
	if !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	b.mu.Unlock()
	return s
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
