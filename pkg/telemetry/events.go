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

import "time"

// Event types emitted by the tracker. Consumers key off Type; the remaining
// fields are populated where they apply.
const (
	EventWorkerStarted    = "worker_started"
	EventWorkerStopped    = "worker_stopped"
	EventDioceseStarted   = "diocese_started"
	EventDioceseCompleted = "diocese_completed"
	EventDioceseFailed    = "diocese_failed"
	EventDirectoryFound   = "directory_found"
	EventParishStarted    = "parish_started"
	EventParishCompleted  = "parish_completed"
	EventReportGenerated  = "report_generated"
	EventError            = "error"
)

// Event is one telemetry record. Events cross process boundaries as NDJSON
// and websocket frames, so the shape is append-only.
type Event struct {
	Time      time.Time `json:"time"`
	WorkerID  string    `json:"worker_id"`
	Type      string    `json:"type"`
	DioceseID int64     `json:"diocese_id,omitempty"`
	ParishID  int64     `json:"parish_id,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// LogLine is one captured log entry, kept in the tracker's bounded buffer so
// the status surface can show recent worker output without log storage.
type LogLine struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Logger  string    `json:"logger,omitempty"`
	Message string    `json:"message"`
}
