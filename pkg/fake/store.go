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

// Package fake provides in-memory test doubles for the pipeline's external
// surfaces: the persistence store and the AI analyzer.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lib/pq"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/store"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// StoreBehavior injects failures into individual store operations.
// Must be reset between tests otherwise tests will pollute each other.
type StoreBehavior struct {
	RegisterError  AtomicError
	HeartbeatError AtomicError
	ClaimError     AtomicError
	CompleteError  AtomicError
	SweepError     AtomicError
}

// Store is an in-memory store.Interface with real claim and ledger semantics,
// backing coordination and controller tests without PostgreSQL. A single
// mutex guards all state, which is what makes concurrent claims exclusive.
type Store struct {
	StoreBehavior

	mu           sync.Mutex
	dioceses     map[int64]types.Diocese
	directories  map[int64]types.ParishDirectory
	nextDirID    int64
	parishes     map[int64]types.Parish
	parishKeys   map[string]int64
	nextParishID int64
	facts        []types.ParishData
	nextFactID   int64
	ledger       map[int64]map[string]types.DiscoveredURL
	nextURLID    int64
	suppressions []types.SuppressionURL
	keywords     []types.ScheduleKeyword
	workers      map[string]types.PipelineWorker
	assignments  []types.DioceseWorkAssignment
	nextAssignID int64
}

var _ store.Interface = (*Store)(nil)

func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

// Reset must be called between tests when the store is shared across specs.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.RegisterError.Reset()
	s.HeartbeatError.Reset()
	s.ClaimError.Reset()
	s.CompleteError.Reset()
	s.SweepError.Reset()
}

func (s *Store) reset() {
	s.dioceses = map[int64]types.Diocese{}
	s.directories = map[int64]types.ParishDirectory{}
	s.parishes = map[int64]types.Parish{}
	s.parishKeys = map[string]int64{}
	s.facts = nil
	s.ledger = map[int64]map[string]types.DiscoveredURL{}
	s.suppressions = nil
	s.keywords = nil
	s.workers = map[string]types.PipelineWorker{}
	s.assignments = nil
	s.nextDirID, s.nextParishID, s.nextFactID, s.nextURLID, s.nextAssignID = 0, 0, 0, 0, 0
}

func (s *Store) UpsertDiocese(_ context.Context, d *types.Diocese) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dioceses[d.ID]; ok {
		return nil
	}
	now := time.Now()
	cp := *d
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.dioceses[d.ID] = cp
	return nil
}

func (s *Store) GetDiocese(_ context.Context, id int64) (*types.Diocese, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dioceses[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) ListDioceses(_ context.Context) ([]types.Diocese, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Diocese, 0, len(s.dioceses))
	for _, d := range s.dioceses {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListDiocesesMissingDirectory(_ context.Context, limit int) ([]types.Diocese, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Diocese
	for id, d := range s.dioceses {
		if _, ok := s.directories[id]; !ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return capped(out, limit), nil
}

func (s *Store) UpsertParishDirectory(_ context.Context, dir *types.ParishDirectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *dir
	if existing, ok := s.directories[dir.DioceseID]; ok {
		cp.ID = existing.ID
	} else {
		s.nextDirID++
		cp.ID = s.nextDirID
	}
	cp.FoundAt = time.Now()
	s.directories[dir.DioceseID] = cp
	return nil
}

func (s *Store) GetParishDirectory(_ context.Context, dioceseID int64) (*types.ParishDirectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir, ok := s.directories[dioceseID]
	if !ok {
		return nil, nil
	}
	return &dir, nil
}

func (s *Store) UpsertParish(_ context.Context, p *types.Parish) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Normalize()
	key := fmt.Sprintf("%d|%s|%s", p.DioceseID, p.NormalizedName, p.NormalizedStreet)
	now := time.Now()
	if id, ok := s.parishKeys[key]; ok {
		existing := s.parishes[id]
		existing.Name = firstNonEmpty(p.Name, existing.Name)
		existing.Street = firstNonEmpty(p.Street, existing.Street)
		existing.City = firstNonEmpty(p.City, existing.City)
		existing.State = firstNonEmpty(p.State, existing.State)
		existing.Zip = firstNonEmpty(p.Zip, existing.Zip)
		existing.Phone = firstNonEmpty(p.Phone, existing.Phone)
		existing.Website = firstNonEmpty(p.Website, existing.Website)
		existing.IsCathedral = existing.IsCathedral || p.IsCathedral
		existing.UpdatedAt = now
		s.parishes[id] = existing
		p.ID = id
		return nil
	}
	s.nextParishID++
	p.ID = s.nextParishID
	cp := *p
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.parishes[cp.ID] = cp
	s.parishKeys[key] = cp.ID
	return nil
}

func (s *Store) ListParishes(_ context.Context, dioceseID int64) ([]types.Parish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Parish
	for _, p := range s.parishes {
		if p.DioceseID == dioceseID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendParishData(_ context.Context, row *types.ParishData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFactID++
	row.ID = s.nextFactID
	if row.ExtractedAt.IsZero() {
		row.ExtractedAt = time.Now()
	}
	s.facts = append(s.facts, *row)
	return nil
}

func (s *Store) UpsertDiscoveredURL(_ context.Context, parishID int64, url string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.parishLedger(parishID)
	if _, ok := rows[url]; ok {
		return nil
	}
	s.nextURLID++
	rows[url] = types.DiscoveredURL{
		ID:           s.nextURLID,
		ParishID:     parishID,
		URL:          url,
		Score:        score,
		DiscoveredAt: time.Now(),
	}
	return nil
}

func (s *Store) RecordVisit(_ context.Context, parishID int64, url string, outcome types.VisitOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.parishLedger(parishID)
	now := time.Now()
	row, ok := rows[url]
	if !ok {
		s.nextURLID++
		row = types.DiscoveredURL{ID: s.nextURLID, ParishID: parishID, URL: url, DiscoveredAt: now}
	}
	errorType := outcome.Label
	if errorType == "ok" {
		errorType = ""
	}
	row.VisitedAt = &now
	row.HTTPStatus = nil
	if outcome.HTTPStatus != 0 {
		status := outcome.HTTPStatus
		row.HTTPStatus = &status
	}
	ms := outcome.ResponseTime.Milliseconds()
	row.ResponseTimeMs = &ms
	row.ContentType = outcome.ContentType
	size := outcome.ContentBytes
	row.ContentSizeBytes = &size
	row.ExtractionSuccess = outcome.ExtractionSuccess
	row.ScheduleDataFound = outcome.ScheduleDataFound
	row.ScheduleKeywordsCount = outcome.ScheduleKeywordsCount
	row.ErrorType = errorType
	row.ErrorMessage = outcome.ErrorMessage
	row.QualityScore = outcome.QualityScore
	row.VisitCount++
	if outcome.Usable {
		row.LastSuccessfulVisit = &now
	}
	rows[url] = row
	return nil
}

func (s *Store) ListDiscoveredURLs(_ context.Context, parishID int64) ([]types.DiscoveredURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.DiscoveredURL
	for _, row := range s.ledger[parishID] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if len(out[i].URL) != len(out[j].URL) {
			return len(out[i].URL) < len(out[j].URL)
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}

func (s *Store) ListSuppressions(_ context.Context) ([]types.SuppressionURL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SuppressionURL(nil), s.suppressions...), nil
}

func (s *Store) ListScheduleKeywords(_ context.Context) ([]types.ScheduleKeyword, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ScheduleKeyword(nil), s.keywords...), nil
}

// AddSuppression seeds one do-not-fetch entry.
func (s *Store) AddSuppression(url, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppressions = append(s.suppressions, types.SuppressionURL{
		ID:        int64(len(s.suppressions) + 1),
		URL:       url,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}

// AddScheduleKeyword seeds one keyword row.
func (s *Store) AddScheduleKeyword(scheduleType types.FactType, keyword string, negative bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keywords = append(s.keywords, types.ScheduleKeyword{
		ID:           int64(len(s.keywords) + 1),
		ScheduleType: scheduleType,
		Keyword:      keyword,
		IsNegative:   negative,
	})
}

func (s *Store) ListUnvisitedParishes(_ context.Context, limit int) ([]types.Parish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	withFacts := s.parishesWithFacts()
	var out []types.Parish
	for id, p := range s.parishes {
		if _, ok := withFacts[id]; ok {
			continue
		}
		if len(s.ledger[id]) > 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return capped(out, limit), nil
}

func (s *Store) ListStaleParishes(_ context.Context, cutoff time.Time, limit int) ([]types.Parish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newest := s.parishesWithFacts()
	var out []types.Parish
	for id, at := range newest {
		if at.Before(cutoff) {
			out = append(out, s.parishes[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return newest[out[i].ID].Before(newest[out[j].ID]) })
	return capped(out, limit), nil
}

func (s *Store) ListRetryParishes(_ context.Context, since time.Time, limit int) ([]types.Parish, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		parish  types.Parish
		visited *time.Time
	}
	var entries []entry
	for id, rows := range s.ledger {
		if len(rows) == 0 {
			continue
		}
		var newest *time.Time
		succeeded := false
		for _, row := range rows {
			if row.LastSuccessfulVisit != nil {
				succeeded = true
				break
			}
			if row.VisitedAt != nil && (newest == nil || row.VisitedAt.After(*newest)) {
				newest = row.VisitedAt
			}
		}
		if succeeded {
			continue
		}
		entries = append(entries, entry{parish: s.parishes[id], visited: newest})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].parish.ID < entries[j].parish.ID })
	rank := func(e entry) int {
		switch {
		case e.visited == nil:
			return 0
		case e.visited.Before(since):
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := rank(entries[i]), rank(entries[j])
		if ri != rj {
			return ri < rj
		}
		if entries[i].visited != nil && entries[j].visited != nil {
			return entries[i].visited.Before(*entries[j].visited)
		}
		return false
	})
	out := make([]types.Parish, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.parish)
	}
	return capped(out, limit), nil
}

func (s *Store) RegisterWorker(_ context.Context, workerID, podName string, role types.WorkerType) error {
	if err := s.RegisterError.Get(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	w, ok := s.workers[workerID]
	if !ok {
		w = types.PipelineWorker{WorkerID: workerID, CreatedAt: now, AssignedDioceses: pq.Int64Array{}}
	}
	w.PodName = podName
	w.WorkerType = role
	w.Status = types.WorkerActive
	w.LastHeartbeat = now
	w.UpdatedAt = now
	s.workers[workerID] = w
	return nil
}

func (s *Store) HeartbeatWorker(_ context.Context, workerID string) error {
	if err := s.HeartbeatError.Get(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok || w.Status != types.WorkerActive {
		return dverrors.New(dverrors.KindUnknownWorker, "worker %s has no active registration", workerID)
	}
	w.LastHeartbeat = time.Now()
	w.UpdatedAt = w.LastHeartbeat
	s.workers[workerID] = w
	return nil
}

func (s *Store) ClaimDioceses(_ context.Context, workerID string, n int) ([]int64, error) {
	if err := s.ClaimError.Get(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok || w.Status != types.WorkerActive {
		return nil, dverrors.New(dverrors.KindUnknownWorker, "worker %s has no active registration", workerID)
	}

	processing := map[int64]bool{}
	for _, a := range s.assignments {
		if a.Status == types.AssignmentProcessing {
			processing[a.DioceseID] = true
		}
	}
	factsByDiocese := map[int64]int{}
	for _, f := range s.facts {
		factsByDiocese[s.parishes[f.ParishID].DioceseID]++
	}
	var eligible []int64
	for id := range s.dioceses {
		if !processing[id] {
			eligible = append(eligible, id)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		_, iHasDir := s.directories[eligible[i]]
		_, jHasDir := s.directories[eligible[j]]
		if iHasDir != jHasDir {
			return !iHasDir
		}
		if factsByDiocese[eligible[i]] != factsByDiocese[eligible[j]] {
			return factsByDiocese[eligible[i]] < factsByDiocese[eligible[j]]
		}
		return eligible[i] < eligible[j]
	})
	claimed := capped(eligible, n)
	if len(claimed) == 0 {
		return nil, nil
	}

	now := time.Now()
	estimated := now.Add(time.Duration(len(claimed)) * 15 * time.Minute)
	for _, dioceseID := range claimed {
		s.nextAssignID++
		est := estimated
		s.assignments = append(s.assignments, types.DioceseWorkAssignment{
			ID:                  s.nextAssignID,
			DioceseID:           dioceseID,
			WorkerID:            workerID,
			Status:              types.AssignmentProcessing,
			ClaimedAt:           now,
			EstimatedCompletion: &est,
		})
	}
	w.AssignedDioceses = append(w.AssignedDioceses, claimed...)
	w.UpdatedAt = now
	s.workers[workerID] = w
	return claimed, nil
}

func (s *Store) CompleteAssignment(_ context.Context, workerID string, dioceseID int64, outcome types.AssignmentStatus) error {
	if err := s.CompleteError.Get(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assignments {
		a := &s.assignments[i]
		if a.DioceseID != dioceseID || a.WorkerID != workerID || a.Status != types.AssignmentProcessing {
			continue
		}
		now := time.Now()
		a.Status = outcome
		a.CompletedAt = &now
		if w, ok := s.workers[workerID]; ok {
			w.AssignedDioceses = removeID(w.AssignedDioceses, dioceseID)
			w.UpdatedAt = now
			s.workers[workerID] = w
		}
		return nil
	}
	return nil
}

func (s *Store) SweepExpiredWorkers(_ context.Context, deadAfter time.Duration) (int, error) {
	if err := s.SweepError.Get(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-deadAfter)
	swept := 0
	for id, w := range s.workers {
		if w.Status != types.WorkerActive || !w.LastHeartbeat.Before(cutoff) {
			continue
		}
		w.Status = types.WorkerInactive
		w.AssignedDioceses = pq.Int64Array{}
		w.UpdatedAt = now
		s.workers[id] = w
		for i := range s.assignments {
			a := &s.assignments[i]
			if a.WorkerID == id && a.Status == types.AssignmentProcessing {
				completedAt := now
				a.Status = types.AssignmentFailed
				a.CompletedAt = &completedAt
			}
		}
		swept++
	}
	return swept, nil
}

func (s *Store) DeactivateWorker(_ context.Context, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return nil
	}
	w.Status = types.WorkerInactive
	w.AssignedDioceses = pq.Int64Array{}
	w.UpdatedAt = time.Now()
	s.workers[workerID] = w
	return nil
}

func (s *Store) ActiveWorkers(_ context.Context) ([]types.PipelineWorker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PipelineWorker
	for _, w := range s.workers {
		if w.Status == types.WorkerActive {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (s *Store) ProcessingAssignments(_ context.Context, workerID string) ([]types.DioceseWorkAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.DioceseWorkAssignment
	for _, a := range s.assignments {
		if a.WorkerID == workerID && a.Status == types.AssignmentProcessing {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Summarize(_ context.Context) (*store.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &store.Summary{GeneratedAt: time.Now().UTC(), Dioceses: int64(len(s.dioceses)), Parishes: int64(len(s.parishes)), Facts: int64(len(s.facts))}
	for _, dir := range s.directories {
		if dir.Found {
			sum.DirectoriesFound++
		}
	}
	for _, f := range s.facts {
		if f.ExtractionMethod == types.MethodAIGemini {
			sum.AIFacts++
		}
	}
	for _, rows := range s.ledger {
		for _, row := range rows {
			if row.VisitedAt != nil {
				sum.VisitedURLs++
			}
		}
	}
	for _, w := range s.workers {
		if w.Status == types.WorkerActive {
			sum.ActiveWorkers++
		}
	}
	return sum, nil
}

// SetHeartbeat backdates a worker's heartbeat so sweep paths can be tested
// without waiting.
func (s *Store) SetHeartbeat(workerID string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[workerID]; ok {
		w.LastHeartbeat = t
		s.workers[workerID] = w
	}
}

// Worker returns a snapshot of one worker row, nil when absent.
func (s *Store) Worker(workerID string) *types.PipelineWorker {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerID]
	if !ok {
		return nil
	}
	return &w
}

// Assignments returns a snapshot of every assignment row.
func (s *Store) Assignments() []types.DioceseWorkAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.DioceseWorkAssignment(nil), s.assignments...)
}

// Facts returns a snapshot of every persisted fact row.
func (s *Store) Facts() []types.ParishData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ParishData(nil), s.facts...)
}

// parishesWithFacts maps parish id to its newest fact time.
func (s *Store) parishesWithFacts() map[int64]time.Time {
	newest := map[int64]time.Time{}
	for _, f := range s.facts {
		if f.ExtractedAt.After(newest[f.ParishID]) {
			newest[f.ParishID] = f.ExtractedAt
		}
	}
	return newest
}

func (s *Store) parishLedger(parishID int64) map[string]types.DiscoveredURL {
	rows, ok := s.ledger[parishID]
	if !ok {
		rows = map[string]types.DiscoveredURL{}
		s.ledger[parishID] = rows
	}
	return rows
}

func capped[T any](in []T, limit int) []T {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}

func removeID(in pq.Int64Array, id int64) pq.Int64Array {
	out := make(pq.Int64Array, 0, len(in))
	for _, v := range in {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
