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

// Package reporting is the lead-only role that periodically rolls up fleet
// coverage and publishes it as a telemetry event. Non-lead workers keep
// polling for leadership cheaply so a report is never more than one recheck
// late after the lead changes.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/store"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
)

const (
	// DefaultInterval spaces reports while leading.
	DefaultInterval = 6 * time.Hour
	// leadRecheck is how often a non-lead asks whether it leads now.
	leadRecheck = 5 * time.Minute
)

// Store produces the coverage rollup.
type Store interface {
	Summarize(ctx context.Context) (*store.Summary, error)
}

// Leader answers whether this worker currently leads the fleet. Implemented
// by the coordinator.
type Leader interface {
	IsLead(ctx context.Context) (bool, error)
}

// Controller is the reporting role loop.
type Controller struct {
	store   Store
	leader  Leader
	tracker *telemetry.Tracker
	log     logr.Logger

	interval time.Duration
	lastRun  time.Time
}

// Option tunes a Controller at construction.
type Option func(*Controller)

// WithInterval overrides the report cadence.
func WithInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

func NewController(store Store, leader Leader, tracker *telemetry.Tracker, log logr.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:    store,
		leader:   leader,
		tracker:  tracker,
		log:      log.WithName("reporting"),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string { return "reporting" }

// RunOnce produces one report when this worker leads and a report is due.
// Everything else is a cheap wait: non-leads recheck leadership, and a lead
// that reported recently sleeps out the remainder of the interval.
func (c *Controller) RunOnce(ctx context.Context) (time.Duration, error) {
	lead, err := c.leader.IsLead(ctx)
	if err != nil {
		return leadRecheck, fmt.Errorf("checking leadership, %w", err)
	}
	if !lead {
		return leadRecheck, nil
	}
	if !c.lastRun.IsZero() {
		if remaining := c.interval - time.Since(c.lastRun); remaining > 0 {
			return minDuration(remaining, leadRecheck), nil
		}
	}

	summary, err := c.store.Summarize(ctx)
	if err != nil {
		return leadRecheck, fmt.Errorf("generating report, %w", err)
	}
	c.lastRun = time.Now()
	reportsGenerated.Inc()

	payload, err := json.Marshal(summary)
	if err != nil {
		payload = []byte(fmt.Sprintf("%+v", summary))
	}
	c.tracker.ReportGenerated(string(payload))
	c.log.Info("coverage report generated",
		"dioceses", summary.Dioceses,
		"directories", summary.DirectoriesFound,
		"parishes", summary.Parishes,
		"facts", summary.Facts,
		"aiFacts", summary.AIFacts,
		"visitedURLs", summary.VisitedURLs,
		"activeWorkers", summary.ActiveWorkers)
	return minDuration(c.interval, leadRecheck), nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
