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

// Package controllers assembles the worker's role loops under one supervisor.
// The router only schedules: it heartbeats, runs each loop on its own
// cadence, keeps the fleet swept while this worker leads, and tears the
// worker registration down on the way out. All extraction intelligence lives
// in the role packages.
package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/coordinator"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
)

const (
	// sweepInterval is how often the lead reclaims dead workers' dioceses.
	sweepInterval = 30 * time.Second
	// errorBackoff spaces out retries after an iteration fails without
	// suggesting its own wait.
	errorBackoff = 10 * time.Second
	// maxIdlePause caps one scheduler sleep so long loop cadences never
	// leave the router unresponsive for hours.
	maxIdlePause = time.Minute
	// shutdownTimeout bounds the final release of assignments once the
	// run context is gone.
	shutdownTimeout = 10 * time.Second
)

// Loop is one role's unit of work. RunOnce performs a single iteration and
// returns how long the router should wait before the next one; zero means
// run again immediately. Loops return an error only for failures worth
// logging at the router level; cancellation must be surfaced, everything
// else should already be handled (and recorded) inside the loop.
type Loop interface {
	Name() string
	RunOnce(ctx context.Context) (time.Duration, error)
}

// Router supervises one worker process.
type Router struct {
	coord   *coordinator.Coordinator
	tracker *telemetry.Tracker
	log     logr.Logger
	loops   []Loop

	sweepEvery time.Duration
}

// Option tunes a Router at construction.
type Option func(*Router)

// WithSweepInterval shortens the lead sweep period, for tests.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Router) { r.sweepEvery = d }
}

func NewRouter(coord *coordinator.Coordinator, tracker *telemetry.Tracker, log logr.Logger, loops []Loop, opts ...Option) *Router {
	r := &Router{
		coord:      coord,
		tracker:    tracker,
		log:        log,
		loops:      loops,
		sweepEvery: sweepInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run registers the worker and drives its loops until ctx ends or the
// heartbeat is lost. Whatever the reason for stopping, open assignments are
// failed and the worker row goes inactive before Run returns.
func (r *Router) Run(ctx context.Context) error {
	if err := r.coord.Register(ctx); err != nil {
		return err
	}
	r.tracker.WorkerStarted()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.coord.Run(gctx) })
	g.Go(func() error { return r.runLoops(gctx) })
	g.Go(func() error { return r.runSweeps(gctx) })
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	r.tracker.WorkerStopped(stopReason(err))
	if serr := r.coord.Shutdown(shutdownCtx); serr != nil {
		r.log.Error(serr, "shutdown left state behind; the sweep will reclaim it")
	}
	r.log.Info("worker stopped", "reason", stopReason(err))
	return err
}

// runLoops schedules the role loops sequentially, each on the cadence it
// asked for. Every iteration starts with a heartbeat.
func (r *Router) runLoops(ctx context.Context) error {
	next := make([]time.Time, len(r.loops))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		wake := now.Add(maxIdlePause)
		for i, loop := range r.loops {
			if now.Before(next[i]) {
				if next[i].Before(wake) {
					wake = next[i]
				}
				continue
			}
			if err := r.coord.Heartbeat(ctx); err != nil && !dverrors.IsCancelled(err) {
				// Not fatal here; the liveness loop decides when the
				// worker is truly lost.
				r.log.V(1).Info("heartbeat before iteration failed", "loop", loop.Name(), "error", err.Error())
			}
			wait, err := loop.RunOnce(ctx)
			iterations.WithLabelValues(loop.Name(), resultLabel(err)).Inc()
			if err != nil {
				if isCancelled(err) {
					return err
				}
				r.tracker.RecordError(err, 0, 0)
				r.log.Error(err, "iteration failed", "loop", loop.Name())
				if wait <= 0 {
					wait = errorBackoff
				}
			}
			next[i] = time.Now().Add(wait)
			if next[i].Before(wake) {
				wake = next[i]
			}
		}
		if pause := time.Until(wake); pause > 0 {
			timer := time.NewTimer(pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// runSweeps reclaims dead workers' dioceses while this worker leads. Every
// active worker runs the ticker; only the current lead acts.
func (r *Router) runSweeps(ctx context.Context) error {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		lead, err := r.coord.IsLead(ctx)
		if err != nil {
			if isCancelled(err) {
				return err
			}
			r.log.V(1).Info("lead check failed", "error", err.Error())
			continue
		}
		if !lead {
			continue
		}
		if swept, err := r.coord.Sweep(ctx); err != nil {
			if isCancelled(err) {
				return err
			}
			r.log.Error(err, "sweep failed")
		} else if swept > 0 {
			sweepsRun.Add(float64(swept))
		}
	}
}

func isCancelled(err error) bool {
	return dverrors.IsCancelled(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func stopReason(err error) string {
	switch {
	case err == nil:
		return "done"
	case errors.Is(err, coordinator.ErrHeartbeatLost):
		return "heartbeat lost"
	case isCancelled(err):
		return "shutdown requested"
	default:
		return err.Error()
	}
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
