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

// Package telemetry is the worker-local observability surface: an in-process
// tracker of extraction progress, a fire-and-forget NDJSON pusher toward the
// monitoring endpoint, and a small status server. Nothing in the extraction
// path ever blocks on telemetry.
package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/ringbuffer"
)

const (
	errorBufferSize  = 20
	logBufferSize    = 100
	subscriberBuffer = 32
)

// BreakerSource supplies circuit snapshots for the status surface.
type BreakerSource interface {
	SnapshotAll() []breaker.Snapshot
}

// Sink receives every event the tracker emits. Implementations must not
// block; the tracker calls them inline from extraction goroutines.
type Sink interface {
	Offer(Event)
}

// Status is the point-in-time view served by GET /status.
type Status struct {
	WorkerID       string             `json:"worker_id"`
	WorkerType     string             `json:"worker_type"`
	StartedAt      time.Time          `json:"started_at"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	CurrentDiocese int64              `json:"current_diocese,omitempty"`
	CurrentParish  string             `json:"current_parish,omitempty"`
	Processed      uint64             `json:"processed"`
	Errors         uint64             `json:"errors"`
	Breakers       []breaker.Snapshot `json:"breakers"`
	RecentErrors   []Event            `json:"recent_errors"`
	RecentLogs     []LogLine          `json:"recent_logs"`
}

// Tracker records what one worker is doing right now and what it did
// recently. All methods are safe for concurrent use and none of them block.
type Tracker struct {
	workerID string
	role     types.WorkerType
	breakers BreakerSource
	sinks    []Sink

	mu             sync.RWMutex
	startedAt      time.Time
	currentDiocese int64
	currentParish  string
	processed      uint64
	errors         uint64

	errorEvents *ringbuffer.RingBuffer[Event]
	logLines    *ringbuffer.RingBuffer[LogLine]

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// NewTracker builds a tracker for one worker. breakers may be nil when no
// breaker registry exists (tests); sinks receive every emitted event.
func NewTracker(workerID string, role types.WorkerType, breakers BreakerSource, sinks ...Sink) *Tracker {
	return &Tracker{
		workerID:    workerID,
		role:        role,
		breakers:    breakers,
		sinks:       sinks,
		startedAt:   time.Now().UTC(),
		errorEvents: ringbuffer.New[Event](errorBufferSize),
		logLines:    ringbuffer.New[LogLine](logBufferSize),
		subs:        map[int]chan Event{},
	}
}

// WorkerStarted announces the worker joining the fleet.
func (t *Tracker) WorkerStarted() {
	t.emit(Event{Type: EventWorkerStarted, Message: string(t.role)})
}

// WorkerStopped announces the worker leaving, with the reason it stopped.
func (t *Tracker) WorkerStopped(reason string) {
	t.emit(Event{Type: EventWorkerStopped, Message: reason})
}

// DioceseStarted marks dioceseID as the worker's current unit of work.
func (t *Tracker) DioceseStarted(dioceseID int64, name string) {
	t.mu.Lock()
	t.currentDiocese = dioceseID
	t.currentParish = ""
	t.mu.Unlock()
	t.emit(Event{Type: EventDioceseStarted, DioceseID: dioceseID, Message: name})
}

// DioceseCompleted clears the current diocese and reports its outcome.
func (t *Tracker) DioceseCompleted(dioceseID int64, failed bool) {
	t.mu.Lock()
	if t.currentDiocese == dioceseID {
		t.currentDiocese = 0
		t.currentParish = ""
	}
	t.mu.Unlock()
	typ := EventDioceseCompleted
	if failed {
		typ = EventDioceseFailed
	}
	t.emit(Event{Type: typ, DioceseID: dioceseID})
}

// DirectoryFound reports a parish directory located for dioceseID.
func (t *Tracker) DirectoryFound(dioceseID int64, url string) {
	t.emit(Event{Type: EventDirectoryFound, DioceseID: dioceseID, Message: url})
}

// ParishStarted marks the parish currently being extracted.
func (t *Tracker) ParishStarted(parishID int64, name string) {
	t.mu.Lock()
	t.currentParish = name
	t.mu.Unlock()
	t.emit(Event{Type: EventParishStarted, ParishID: parishID, Message: name})
}

// ParishCompleted counts one finished parish and the facts it yielded.
func (t *Tracker) ParishCompleted(parishID int64, facts int) {
	t.mu.Lock()
	t.processed++
	t.currentParish = ""
	t.mu.Unlock()
	t.emit(Event{Type: EventParishCompleted, ParishID: parishID, Message: fmt.Sprintf("%d facts", facts)})
}

// ReportGenerated announces a fleet report from the reporting role.
func (t *Tracker) ReportGenerated(message string) {
	t.emit(Event{Type: EventReportGenerated, Message: message})
}

// RecordError counts an extraction error, keeps it in the bounded error
// buffer and emits it as an event. Zero diocese/parish IDs are omitted.
func (t *Tracker) RecordError(err error, dioceseID, parishID int64) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.errors++
	t.mu.Unlock()
	ev := Event{
		Time:      time.Now().UTC(),
		WorkerID:  t.workerID,
		Type:      EventError,
		DioceseID: dioceseID,
		ParishID:  parishID,
		Message:   err.Error(),
	}
	t.errorEvents.Insert(ev)
	t.emit(ev)
}

// RecordLog keeps one log line in the bounded log buffer.
func (t *Tracker) RecordLog(line LogLine) {
	if line.Time.IsZero() {
		line.Time = time.Now().UTC()
	}
	t.logLines.Insert(line)
}

// Status snapshots the tracker, including breaker states and the recent
// error and log buffers.
func (t *Tracker) Status() Status {
	t.mu.RLock()
	st := Status{
		WorkerID:       t.workerID,
		WorkerType:     string(t.role),
		StartedAt:      t.startedAt,
		UptimeSeconds:  time.Since(t.startedAt).Seconds(),
		CurrentDiocese: t.currentDiocese,
		CurrentParish:  t.currentParish,
		Processed:      t.processed,
		Errors:         t.errors,
	}
	t.mu.RUnlock()
	st.RecentErrors = t.errorEvents.Items()
	st.RecentLogs = t.logLines.Items()
	if t.breakers != nil {
		st.Breakers = t.breakers.SnapshotAll()
	}
	if st.Breakers == nil {
		st.Breakers = []breaker.Snapshot{}
	}
	return st
}

// Subscribe returns a channel fed with every event emitted after the call
// and a cancel func that must run when the consumer is done. Slow consumers
// lose events rather than stalling emitters.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, subscriberBuffer)
	t.subs[id] = ch
	return ch, func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

func (t *Tracker) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.WorkerID == "" {
		ev.WorkerID = t.workerID
	}
	eventsEmitted.WithLabelValues(ev.Type).Inc()
	for _, s := range t.sinks {
		s.Offer(ev)
	}
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
