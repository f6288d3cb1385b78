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

// Package types declares the entities shared across the pipeline: dioceses,
// parishes, extracted facts, the visit ledger, and the worker coordination
// rows backing distributed claims.
package types

import (
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

// FactType identifies the kind of schedule fact extracted for a parish.
type FactType string

const (
	FactReconciliation FactType = "ReconciliationSchedule"
	FactAdoration      FactType = "AdorationSchedule"
	FactMass           FactType = "MassSchedule"
)

// AllFactTypes lists every extractable fact type in extraction order.
func AllFactTypes() []FactType {
	return []FactType{FactReconciliation, FactAdoration, FactMass}
}

// ExtractionMethod records which extraction path produced a fact.
type ExtractionMethod string

const (
	MethodKeyword       ExtractionMethod = "keyword_based"
	MethodKeywordSimple ExtractionMethod = "keyword_based_simple"
	MethodAIGemini      ExtractionMethod = "ai_gemini"
)

// DetectionMethod records how a parish directory URL was found.
type DetectionMethod string

const (
	DetectedByHeuristic      DetectionMethod = "heuristic"
	DetectedByAI             DetectionMethod = "ai"
	DetectedBySearchFallback DetectionMethod = "search_fallback"
	DetectedByManualOverride DetectionMethod = "manual_override"
)

// WorkerType selects which role loops a worker process runs.
type WorkerType string

const (
	WorkerDiscovery  WorkerType = "discovery"
	WorkerExtraction WorkerType = "extraction"
	WorkerSchedule   WorkerType = "schedule"
	WorkerReporting  WorkerType = "reporting"
	WorkerAll        WorkerType = "all"
)

// Valid reports whether the worker type is one of the recognized roles.
func (w WorkerType) Valid() bool {
	switch w {
	case WorkerDiscovery, WorkerExtraction, WorkerSchedule, WorkerReporting, WorkerAll:
		return true
	}
	return false
}

// WorkerStatus is the lifecycle state of a pipeline worker row.
type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "active"
	WorkerInactive WorkerStatus = "inactive"
	WorkerFailed   WorkerStatus = "failed"
)

// AssignmentStatus is the lifecycle state of a diocese work assignment.
type AssignmentStatus string

const (
	AssignmentProcessing AssignmentStatus = "processing"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentFailed     AssignmentStatus = "failed"
)

// Diocese is a seed row describing one diocese to harvest.
type Diocese struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Website   string    `db:"website" json:"website"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ParishDirectory is the detected parish listing page for a diocese. At most
// one row exists per diocese; re-detection overwrites it. Found false records
// that detection ran and concluded the diocese publishes no directory.
type ParishDirectory struct {
	ID         int64           `db:"id" json:"id"`
	DioceseID  int64           `db:"diocese_id" json:"diocese_id"`
	URL        string          `db:"url" json:"url"`
	Found      bool            `db:"found" json:"found"`
	DetectedBy DetectionMethod `db:"detected_by" json:"detected_by"`
	FoundAt    time.Time       `db:"found_at" json:"found_at"`
}

// Parish is one parish inside a diocese. Identity is
// (diocese_id, normalized_name, normalized_street); upserts merge fields.
type Parish struct {
	ID               int64     `db:"id" json:"id"`
	DioceseID        int64     `db:"diocese_id" json:"diocese_id"`
	Name             string    `db:"name" json:"name"`
	Street           string    `db:"street" json:"street"`
	City             string    `db:"city" json:"city"`
	State            string    `db:"state" json:"state"`
	Zip              string    `db:"zip" json:"zip"`
	Phone            string    `db:"phone" json:"phone"`
	Website          string    `db:"website" json:"website"`
	NormalizedName   string    `db:"normalized_name" json:"normalized_name"`
	NormalizedStreet string    `db:"normalized_street" json:"normalized_street"`
	IsCathedral      bool      `db:"is_cathedral" json:"is_cathedral"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Normalize fills the identity key fields from the display fields.
func (p *Parish) Normalize() {
	p.NormalizedName = urlx.NormalizeName(p.Name)
	p.NormalizedStreet = urlx.NormalizeStreet(p.Street)
}

// ParishData is one extracted schedule fact. Rows are append-only; history is
// preserved across repeated extractions.
type ParishData struct {
	ID               int64            `db:"id" json:"id"`
	ParishID         int64            `db:"parish_id" json:"parish_id"`
	FactType         FactType         `db:"fact_type" json:"fact_type"`
	FactValue        string           `db:"fact_value" json:"fact_value"`
	ExtractionMethod ExtractionMethod `db:"extraction_method" json:"extraction_method"`
	// ConfidenceScore is set only for AI extractions.
	ConfidenceScore  *int            `db:"confidence_score" json:"confidence_score,omitempty"`
	AIStructuredData json.RawMessage `db:"ai_structured_data" json:"ai_structured_data,omitempty"`
	SourceURL        string          `db:"source_url" json:"source_url"`
	ExtractedAt      time.Time       `db:"extracted_at" json:"extracted_at"`
}

// DiscoveredURL is the visit ledger row for one candidate URL of a parish.
// visit_count only grows; last_successful_visit never exceeds visited_at.
type DiscoveredURL struct {
	ID                    int64      `db:"id" json:"id"`
	ParishID              int64      `db:"parish_id" json:"parish_id"`
	URL                   string     `db:"url" json:"url"`
	Score                 int        `db:"score" json:"score"`
	DiscoveredAt          time.Time  `db:"discovered_at" json:"discovered_at"`
	VisitedAt             *time.Time `db:"visited_at" json:"visited_at,omitempty"`
	HTTPStatus            *int       `db:"http_status" json:"http_status,omitempty"`
	ResponseTimeMs        *int64     `db:"response_time_ms" json:"response_time_ms,omitempty"`
	ContentType           string     `db:"content_type" json:"content_type,omitempty"`
	ContentSizeBytes      *int64     `db:"content_size_bytes" json:"content_size_bytes,omitempty"`
	ExtractionSuccess     bool       `db:"extraction_success" json:"extraction_success"`
	ScheduleDataFound     bool       `db:"schedule_data_found" json:"schedule_data_found"`
	ScheduleKeywordsCount int        `db:"schedule_keywords_count" json:"schedule_keywords_count"`
	ErrorType             string     `db:"error_type" json:"error_type,omitempty"`
	ErrorMessage          string     `db:"error_message" json:"error_message,omitempty"`
	QualityScore          float64    `db:"quality_score" json:"quality_score"`
	VisitCount            int        `db:"visit_count" json:"visit_count"`
	LastSuccessfulVisit   *time.Time `db:"last_successful_visit" json:"last_successful_visit,omitempty"`
}

// VisitOutcome describes the terminal result of one fetch for ledger purposes.
// Usable means the fetch succeeded with content worth parsing; the extraction
// fields stay zero when the caller records the outcome before any parsing.
type VisitOutcome struct {
	Usable       bool
	Label        string
	HTTPStatus   int
	ResponseTime time.Duration
	ContentType  string
	ContentBytes int64
	ErrorMessage string
	// Filled by the schedule role after the page has been analyzed.
	ExtractionSuccess     bool
	ScheduleDataFound     bool
	ScheduleKeywordsCount int
	// QualityScore grades the visit 0.00-1.00 for prioritization.
	QualityScore float64
}

// SuppressionURL is an operator-maintained do-not-fetch entry. Value is either
// an exact URL or a bare host, matched against both forms.
type SuppressionURL struct {
	ID        int64     `db:"id" json:"id"`
	URL       string    `db:"url" json:"url"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PipelineWorker is the registration row for one worker process.
type PipelineWorker struct {
	WorkerID         string        `db:"worker_id" json:"worker_id"`
	PodName          string        `db:"pod_name" json:"pod_name"`
	WorkerType       WorkerType    `db:"worker_type" json:"worker_type"`
	Status           WorkerStatus  `db:"status" json:"status"`
	LastHeartbeat    time.Time     `db:"last_heartbeat" json:"last_heartbeat"`
	AssignedDioceses pq.Int64Array `db:"assigned_dioceses" json:"assigned_dioceses"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// DioceseWorkAssignment tracks one claim of a diocese by a worker. At most one
// processing row may exist per diocese at any time.
type DioceseWorkAssignment struct {
	ID                  int64            `db:"id" json:"id"`
	DioceseID           int64            `db:"diocese_id" json:"diocese_id"`
	WorkerID            string           `db:"worker_id" json:"worker_id"`
	Status              AssignmentStatus `db:"status" json:"status"`
	ClaimedAt           time.Time        `db:"claimed_at" json:"claimed_at"`
	CompletedAt         *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	EstimatedCompletion *time.Time       `db:"estimated_completion" json:"estimated_completion,omitempty"`
}

// ScheduleKeyword is one token of the operator-tunable keyword table driving
// URL relevance and keyword extraction. Negative keywords veto a match.
type ScheduleKeyword struct {
	ID           int64    `db:"id" json:"id"`
	ScheduleType FactType `db:"schedule_type" json:"schedule_type"`
	Keyword      string   `db:"keyword" json:"keyword"`
	IsNegative   bool     `db:"is_negative" json:"is_negative"`
}
