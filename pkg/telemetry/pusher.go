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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

const (
	pushQueueSize = 1024
	pushBatchMax  = 64
	pushInterval  = 2 * time.Second
	pushTimeout   = 10 * time.Second
)

// Pusher delivers events to the monitoring endpoint as NDJSON, best effort.
// Offer never blocks and Run never fails the worker; monitoring being down
// must cost nothing but the events themselves.
type Pusher struct {
	log      logr.Logger
	client   *http.Client
	endpoint string
	queue    chan Event
	interval time.Duration
}

type PusherOption func(*Pusher)

// WithPushInterval shortens the flush period, for tests.
func WithPushInterval(d time.Duration) PusherOption {
	return func(p *Pusher) {
		p.interval = d
	}
}

// NewPusher targets monitoringURL's /events endpoint.
func NewPusher(monitoringURL string, log logr.Logger, opts ...PusherOption) *Pusher {
	p := &Pusher{
		log:      log,
		client:   &http.Client{Timeout: pushTimeout},
		endpoint: strings.TrimRight(monitoringURL, "/") + "/events",
		queue:    make(chan Event, pushQueueSize),
		interval: pushInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Offer enqueues ev for delivery. When the queue is full the oldest queued
// event is evicted so emitters never wait on a slow monitor.
func (p *Pusher) Offer(ev Event) {
	for {
		select {
		case p.queue <- ev:
			return
		default:
		}
		select {
		case <-p.queue:
			pushDropped.Inc()
		default:
		}
	}
}

// Run drains the queue in batches until ctx ends, then flushes whatever is
// still queued with a short grace period.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	batch := make([]Event, 0, pushBatchMax)
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
			p.flush(flushCtx, p.drain(batch))
			cancel()
			return ctx.Err()
		case ev := <-p.queue:
			batch = append(batch, ev)
			if len(batch) >= pushBatchMax {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// drain appends everything currently queued to batch.
func (p *Pusher) drain(batch []Event) []Event {
	for {
		select {
		case ev := <-p.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (p *Pusher) flush(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			p.log.V(1).Info("encoding telemetry event", "error", err)
			return
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, &body)
	if err != nil {
		p.log.V(1).Info("building telemetry request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	resp, err := p.client.Do(req)
	if err != nil {
		pushErrors.Inc()
		p.log.V(1).Info("pushing telemetry events", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pushErrors.Inc()
		p.log.V(1).Info("monitoring endpoint refused events", "status", resp.StatusCode)
		return
	}
	pushed.Add(float64(len(events)))
}
