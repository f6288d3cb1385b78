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

// Package schedule is the role that harvests schedule facts from parish
// websites. Each iteration takes a prioritized batch of parishes, discovers
// and ranks candidate URLs per parish, and visits them in score order until
// every fact type has a row or the candidates run out. The AI gate is the
// primary extractor; when the analyzer is unreachable the traditional keyword
// extractor keeps the parish from coming up empty. Every visit lands in the
// ledger, successful or not.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/ai"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/frontier"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

const (
	// defaultBatchSize is how many parishes one iteration works through.
	defaultBatchSize = 100
	// defaultConcurrency is how many parishes are processed at once. Candidate
	// visits inside a parish stay sequential so the ledger sees them in score
	// order; the fetcher's per-origin caps throttle everything underneath.
	defaultConcurrency = 4
	// defaultMaxVisits caps candidate visits per parish per cycle so one
	// sprawling site cannot starve the rest of the batch.
	defaultMaxVisits = 12
	// defaultIdlePause is the sleep when the prioritizer has nothing to offer.
	defaultIdlePause = time.Minute
)

// Source supplies the next batch of parishes needing schedule extraction.
// Implemented by frontier.Prioritizer.
type Source interface {
	Next(ctx context.Context, limit int) ([]types.Parish, error)
}

// Discoverer produces the scored candidate URLs of one parish, most promising
// first. Implemented by frontier.Frontier.
type Discoverer interface {
	Discover(ctx context.Context, parish types.Parish) ([]frontier.Candidate, error)
}

// Fetcher retrieves pages through the shared respectful client.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// Gate evaluates one page for one fact type through the AI analyzer. A nil
// Gate puts the role on the keyword path permanently.
type Gate interface {
	Evaluate(ctx context.Context, sourceURL, cleaned string, parish types.Parish, factType types.FactType) (*ai.Evaluation, error)
}

// Store is the slice of persistence the schedule role writes through.
type Store interface {
	AppendParishData(ctx context.Context, row *types.ParishData) error
	RecordVisit(ctx context.Context, parishID int64, url string, outcome types.VisitOutcome) error
}

// Controller is the schedule role loop.
type Controller struct {
	source    Source
	discover  Discoverer
	fetcher   Fetcher
	gate      Gate
	extractor *extract.Extractor
	keywords  *extract.KeywordSet
	store     Store
	tracker   *telemetry.Tracker
	log       logr.Logger

	batchSize   int
	concurrency int
	maxVisits   int
	idlePause   time.Duration
}

// Option tunes a Controller at construction.
type Option func(*Controller)

// WithBatchSize sets how many parishes one iteration takes on.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithConcurrency sets how many parishes are worked at once.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithMaxVisits caps candidate visits per parish per cycle.
func WithMaxVisits(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxVisits = n
		}
	}
}

// WithIdlePause overrides the sleep used when the batch comes back empty.
func WithIdlePause(d time.Duration) Option {
	return func(c *Controller) { c.idlePause = d }
}

// WithGate enables the AI extraction path.
func WithGate(g Gate) Option {
	return func(c *Controller) { c.gate = g }
}

func NewController(source Source, discover Discoverer, fetcher Fetcher, keywords *extract.KeywordSet,
	store Store, tracker *telemetry.Tracker, log logr.Logger, opts ...Option) *Controller {
	c := &Controller{
		source:      source,
		discover:    discover,
		fetcher:     fetcher,
		extractor:   extract.NewExtractor(keywords),
		keywords:    keywords,
		store:       store,
		tracker:     tracker,
		log:         log.WithName("schedule"),
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		maxVisits:   defaultMaxVisits,
		idlePause:   defaultIdlePause,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string { return "schedule" }

// RunOnce processes one prioritized batch of parishes. An empty batch asks
// for the idle pause; otherwise the loop runs again immediately.
func (c *Controller) RunOnce(ctx context.Context) (time.Duration, error) {
	parishes, err := c.source.Next(ctx, c.batchSize)
	if err != nil {
		return c.idlePause, fmt.Errorf("prioritizing parishes, %w", err)
	}
	if len(parishes) == 0 {
		return c.idlePause, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range parishes {
		parish := parishes[i]
		g.Go(func() error { return c.processParish(gctx, parish) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return 0, nil
}

// processParish visits one parish's candidates in score order until every
// fact type has a row or the budget runs out. It returns an error only on
// cancellation; anything else is recorded and the batch moves on.
func (c *Controller) processParish(ctx context.Context, parish types.Parish) error {
	c.tracker.ParishStarted(parish.ID, parish.Name)

	candidates, err := c.discover.Discover(ctx, parish)
	if err != nil {
		if dverrors.IsCancelled(err) {
			return err
		}
		c.tracker.RecordError(err, parish.DioceseID, parish.ID)
		c.log.Error(err, "candidate discovery failed", "parish", parish.Name)
		parishesProcessed.WithLabelValues("failed").Inc()
		c.tracker.ParishCompleted(parish.ID, 0)
		return nil
	}

	pending := map[types.FactType]struct{}{}
	for _, ft := range types.AllFactTypes() {
		pending[ft] = struct{}{}
	}

	// The analyzer being down is a page-spanning condition; once one page
	// hits it the rest of this parish stays on the keyword path.
	aiDown := c.gate == nil
	facts := 0
	visited := 0
	for _, cand := range candidates {
		if len(pending) == 0 || visited >= c.maxVisits {
			break
		}
		visited++
		wrote, err := c.visit(ctx, parish, cand, pending, &aiDown)
		if err != nil {
			return err
		}
		facts += wrote
	}

	switch {
	case facts > 0:
		parishesProcessed.WithLabelValues("facts").Inc()
	case visited == 0:
		parishesProcessed.WithLabelValues("no_candidates").Inc()
		c.tracker.RecordError(dverrors.New(dverrors.KindClientError,
			"parish %d has no candidate urls", parish.ID), parish.DioceseID, parish.ID)
	default:
		parishesProcessed.WithLabelValues("empty").Inc()
		c.tracker.RecordError(dverrors.New(dverrors.KindInvalidOutput,
			"parish %d exhausted %d candidates without a schedule", parish.ID, visited), parish.DioceseID, parish.ID)
	}
	c.tracker.ParishCompleted(parish.ID, facts)
	c.log.V(1).Info("parish processed", "parish", parish.Name, "visited", visited, "facts", facts)
	return nil
}

// visit fetches one candidate, extracts whatever fact types are still
// pending, and records the visit with its extraction outcome. The ledger
// write happens exactly once per visit, here, with the post-analysis fields
// filled in.
func (c *Controller) visit(ctx context.Context, parish types.Parish, cand frontier.Candidate,
	pending map[types.FactType]struct{}, aiDown *bool) (int, error) {
	res, err := c.fetcher.Fetch(ctx, fetch.Request{URL: cand.URL, Breaker: breaker.ParishDetailLoad})
	outcome := fetch.Outcome(res, err)
	if err != nil || !res.Usable() {
		if dverrors.IsCancelled(err) {
			return 0, err
		}
		label := fetch.OutcomeLabel(err)
		if err == nil {
			label = "unusable"
		}
		candidateVisits.WithLabelValues(label).Inc()
		c.recordVisit(ctx, parish.ID, cand.URL, outcome)
		return 0, nil
	}
	candidateVisits.WithLabelValues("ok").Inc()

	cleaned := extract.CleanHTML(string(res.Body))
	keywordCount := c.keywords.CountMatches(cleaned)
	facts := 0
	for _, ft := range types.AllFactTypes() {
		if _, want := pending[ft]; !want {
			continue
		}
		row, err := c.extractFact(ctx, parish, cand.URL, cleaned, ft, aiDown)
		if err != nil {
			if dverrors.IsCancelled(err) {
				return facts, err
			}
			c.tracker.RecordError(err, parish.DioceseID, parish.ID)
			continue
		}
		if row == nil {
			continue
		}
		if err := c.store.AppendParishData(ctx, row); err != nil {
			if dverrors.IsCancelled(err) {
				return facts, err
			}
			c.tracker.RecordError(err, parish.DioceseID, parish.ID)
			c.log.Error(err, "persisting fact", "parish", parish.Name, "factType", ft)
			continue
		}
		factsExtracted.WithLabelValues(string(ft), string(row.ExtractionMethod)).Inc()
		delete(pending, ft)
		facts++
	}

	outcome.ExtractionSuccess = facts > 0
	outcome.ScheduleDataFound = facts > 0 || (keywordCount > 0 && extract.HasTimePattern(cleaned))
	outcome.ScheduleKeywordsCount = keywordCount
	outcome.QualityScore = visitQuality(keywordCount, facts)
	c.recordVisit(ctx, parish.ID, cand.URL, outcome)
	return facts, nil
}

// extractFact produces at most one fact row for one fact type from one page.
// The AI gate runs first; when it is down or unreachable the keyword
// extractor takes over for the rest of the parish.
func (c *Controller) extractFact(ctx context.Context, parish types.Parish, sourceURL, cleaned string,
	ft types.FactType, aiDown *bool) (*types.ParishData, error) {
	if !*aiDown {
		eval, err := c.gate.Evaluate(ctx, sourceURL, cleaned, parish, ft)
		if err != nil {
			if dverrors.IsCancelled(err) {
				return nil, err
			}
			*aiDown = true
			keywordFallbacks.Inc()
			c.log.V(1).Info("analyzer unreachable, falling back to keywords",
				"parish", parish.ID, "error", err.Error())
		} else {
			return eval.Row(parish.ID, ft, sourceURL), nil
		}
	}
	if ex, ok := c.extractor.Extract(cleaned, ft); ok {
		return ex.Row(parish.ID, sourceURL), nil
	}
	if ex, ok := c.extractor.ExtractSimple(cleaned, ft); ok {
		return ex.Row(parish.ID, sourceURL), nil
	}
	return nil, nil
}

// recordVisit writes the ledger row. Shutdown must not lose it, so the write
// survives cancellation of the parish context.
func (c *Controller) recordVisit(ctx context.Context, parishID int64, url string, outcome types.VisitOutcome) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.store.RecordVisit(recordCtx, parishID, url, outcome); err != nil {
		c.log.Error(err, "recording visit", "url", url)
	}
}

// visitQuality grades one visit 0.00-1.00 for the prioritizer. Extracted
// facts max the grade; otherwise schedule keywords raise a usable page above
// the floor.
func visitQuality(keywordCount, facts int) float64 {
	if facts > 0 {
		return 1.0
	}
	q := 0.2 + 0.1*float64(keywordCount)
	if q > 0.6 {
		q = 0.6
	}
	return q
}
