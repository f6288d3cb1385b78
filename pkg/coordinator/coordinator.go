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

// Package coordinator gives one worker process its fleet identity: a
// registered row, a heartbeat, exclusive diocese claims and lead election.
// All coordination state lives in the store; this package holds none.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

const (
	// HeartbeatInterval is how often the worker proves liveness.
	HeartbeatInterval = 15 * time.Second
	// DeadAfter is how long a worker may stay silent before the sweep
	// reclaims its dioceses.
	DeadAfter = 90 * time.Second

	heartbeatFailureLimit = 3
)

// ErrHeartbeatLost means the worker could not prove liveness for long enough
// that the fleet may have reclaimed its dioceses. The process must exit
// rather than keep writing against assignments it may no longer hold.
var ErrHeartbeatLost = errors.New("heartbeat lost")

// Store is the slice of the persistence surface coordination needs.
type Store interface {
	RegisterWorker(ctx context.Context, workerID, podName string, role types.WorkerType) error
	HeartbeatWorker(ctx context.Context, workerID string) error
	ClaimDioceses(ctx context.Context, workerID string, n int) ([]int64, error)
	CompleteAssignment(ctx context.Context, workerID string, dioceseID int64, outcome types.AssignmentStatus) error
	SweepExpiredWorkers(ctx context.Context, deadAfter time.Duration) (int, error)
	DeactivateWorker(ctx context.Context, workerID string) error
	ActiveWorkers(ctx context.Context) ([]types.PipelineWorker, error)
	ProcessingAssignments(ctx context.Context, workerID string) ([]types.DioceseWorkAssignment, error)
}

// Coordinator binds one worker identity to the coordination operations.
type Coordinator struct {
	store    Store
	workerID string
	podName  string
	role     types.WorkerType
	log      logr.Logger

	interval  time.Duration
	minOutage time.Duration
}

type Option func(*Coordinator)

// WithHeartbeatInterval shortens the heartbeat period, for tests.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

func New(store Store, workerID, podName string, role types.WorkerType, log logr.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		workerID: workerID,
		podName:  podName,
		role:     role,
		log:      log,
		interval: HeartbeatInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Three failures one interval apart span two intervals; requiring that
	// much wall time keeps a burst of instant errors from killing the worker.
	c.minOutage = 2 * c.interval
	return c
}

// WorkerID returns this worker's fleet identity.
func (c *Coordinator) WorkerID() string {
	return c.workerID
}

// Register upserts the worker row. Idempotent, and also how a swept worker
// rejoins the fleet.
func (c *Coordinator) Register(ctx context.Context) error {
	if err := c.store.RegisterWorker(ctx, c.workerID, c.podName, c.role); err != nil {
		return fmt.Errorf("registering with fleet, %w", err)
	}
	c.log.Info("registered with fleet", "worker", c.workerID, "role", c.role)
	return nil
}

// Heartbeat proves liveness once.
func (c *Coordinator) Heartbeat(ctx context.Context) error {
	err := c.store.HeartbeatWorker(ctx, c.workerID)
	heartbeats.WithLabelValues(outcomeLabel(err)).Inc()
	return err
}

// ClaimNext leases up to n dioceses exclusively to this worker. Under
// contention it returns fewer, possibly none.
func (c *Coordinator) ClaimNext(ctx context.Context, n int) ([]int64, error) {
	claimed, err := c.store.ClaimDioceses(ctx, c.workerID, n)
	if err != nil {
		return nil, fmt.Errorf("claiming dioceses, %w", err)
	}
	if len(claimed) > 0 {
		c.log.Info("claimed dioceses", "dioceses", claimed)
	}
	return claimed, nil
}

// Complete releases one diocese with a terminal outcome.
func (c *Coordinator) Complete(ctx context.Context, dioceseID int64, outcome types.AssignmentStatus) error {
	return c.store.CompleteAssignment(ctx, c.workerID, dioceseID, outcome)
}

// Sweep reclaims dioceses from workers silent longer than DeadAfter.
// Lead-only by convention; safe to run from anyone.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	return c.store.SweepExpiredWorkers(ctx, DeadAfter)
}

// IsLead reports whether this worker holds the lead: the smallest worker_id
// among active rows. The registration table is the whole electorate, so
// leadership follows automatically when workers join or die.
func (c *Coordinator) IsLead(ctx context.Context) (bool, error) {
	workers, err := c.store.ActiveWorkers(ctx)
	if err != nil {
		return false, fmt.Errorf("listing active workers, %w", err)
	}
	lead := len(workers) > 0 && workers[0].WorkerID == c.workerID
	if lead {
		leadStatus.Set(1)
	} else {
		leadStatus.Set(0)
	}
	return lead, nil
}

// ReleaseAll fails every assignment this worker still holds so the dioceses
// return to the pool immediately instead of waiting out a sweep.
func (c *Coordinator) ReleaseAll(ctx context.Context, outcome types.AssignmentStatus) error {
	assignments, err := c.store.ProcessingAssignments(ctx, c.workerID)
	if err != nil {
		return fmt.Errorf("listing open assignments, %w", err)
	}
	var errs error
	for _, a := range assignments {
		errs = multierr.Append(errs, c.store.CompleteAssignment(ctx, c.workerID, a.DioceseID, outcome))
	}
	return errs
}

// Shutdown releases open assignments as failed and marks the worker row
// inactive. Called on the way out regardless of why the process is exiting.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return multierr.Append(
		c.ReleaseAll(ctx, types.AssignmentFailed),
		c.store.DeactivateWorker(ctx, c.workerID),
	)
}

// Run heartbeats until ctx is cancelled. It returns ErrHeartbeatLost after
// heartbeatFailureLimit consecutive failures spanning at least two intervals,
// at which point the sweep may already have reassigned this worker's
// dioceses and continuing would double-process them.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	failures := 0
	var firstFailure time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		err := c.Heartbeat(ctx)
		if err == nil {
			failures = 0
			continue
		}
		if failures == 0 {
			firstFailure = time.Now()
		}
		failures++
		c.log.Error(err, "heartbeat failed", "consecutive", failures)
		if failures >= heartbeatFailureLimit && time.Since(firstFailure) >= c.minOutage {
			heartbeatLosses.Inc()
			return fmt.Errorf("%w, %d consecutive failures over %s",
				ErrHeartbeatLost, failures, time.Since(firstFailure).Round(time.Millisecond))
		}
	}
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
