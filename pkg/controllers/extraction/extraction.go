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

// Package extraction is the role that turns claimed dioceses into parish
// rows. Each claimed diocese is processed end to end: load its directory
// page, parse the parish list with a platform-aware strategy, upsert the
// parishes, then enrich them from their own sites. Failures complete the
// assignment as failed so a later cycle retries; only cancellation stops a
// diocese mid-flight.
package extraction

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/frontier"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

const (
	// defaultPoolSize is how many dioceses are claimed and processed
	// concurrently per iteration.
	defaultPoolSize = 4
	// defaultBatchSize caps concurrent parish detail fetches per diocese.
	defaultBatchSize = 8
	// defaultIdlePause is the sleep when nothing could be claimed.
	defaultIdlePause = 30 * time.Second
	// directoryAttempts is how many times the directory page may fail
	// before the whole assignment is failed.
	directoryAttempts = 3
	// defaultDirectoryRetryDelay spaces those attempts.
	defaultDirectoryRetryDelay = 30 * time.Second
)

// Store is the slice of persistence extraction needs.
type Store interface {
	GetDiocese(ctx context.Context, id int64) (*types.Diocese, error)
	GetParishDirectory(ctx context.Context, dioceseID int64) (*types.ParishDirectory, error)
	UpsertParish(ctx context.Context, p *types.Parish) error
}

// Claims leases dioceses to this worker. Implemented by the coordinator.
type Claims interface {
	ClaimNext(ctx context.Context, n int) ([]int64, error)
	Complete(ctx context.Context, dioceseID int64, outcome types.AssignmentStatus) error
}

// Fetcher retrieves pages through the shared respectful client.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// Controller is the extraction role loop.
type Controller struct {
	claims  Claims
	store   Store
	fetcher Fetcher
	tracker *telemetry.Tracker
	log     logr.Logger

	poolSize      int
	batchSize     int
	maxParishes   int
	idlePause     time.Duration
	directoryWait time.Duration
}

// Option tunes a Controller at construction.
type Option func(*Controller)

// WithPoolSize sets how many dioceses are claimed and worked concurrently.
func WithPoolSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.poolSize = n
		}
	}
}

// WithBatchSize caps concurrent parish detail fetches per diocese.
func WithBatchSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithMaxParishes caps parishes taken per diocese. Zero means unlimited.
func WithMaxParishes(n int) Option {
	return func(c *Controller) { c.maxParishes = n }
}

// WithIdlePause overrides the sleep used when nothing could be claimed.
func WithIdlePause(d time.Duration) Option {
	return func(c *Controller) { c.idlePause = d }
}

// WithDirectoryRetryDelay shortens the spacing between directory attempts,
// for tests.
func WithDirectoryRetryDelay(d time.Duration) Option {
	return func(c *Controller) { c.directoryWait = d }
}

func NewController(claims Claims, store Store, fetcher Fetcher, tracker *telemetry.Tracker, log logr.Logger, opts ...Option) *Controller {
	c := &Controller{
		claims:        claims,
		store:         store,
		fetcher:       fetcher,
		tracker:       tracker,
		log:           log.WithName("extraction"),
		poolSize:      defaultPoolSize,
		batchSize:     defaultBatchSize,
		idlePause:     defaultIdlePause,
		directoryWait: defaultDirectoryRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string { return "extraction" }

// RunOnce claims up to poolSize dioceses and processes them concurrently.
// With nothing to claim it asks for the idle pause; after real work it asks
// to run again immediately.
func (c *Controller) RunOnce(ctx context.Context) (time.Duration, error) {
	claimed, err := c.claims.ClaimNext(ctx, c.poolSize)
	if err != nil {
		return c.idlePause, fmt.Errorf("claiming dioceses, %w", err)
	}
	if len(claimed) == 0 {
		return c.idlePause, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.poolSize)
	for _, dioceseID := range claimed {
		dioceseID := dioceseID
		g.Go(func() error { return c.processDiocese(gctx, dioceseID) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return 0, nil
}

// processDiocese works one claimed diocese end to end. It returns an error
// only on cancellation; any other failure completes the assignment as failed
// and lets the rest of the claim batch continue.
func (c *Controller) processDiocese(ctx context.Context, dioceseID int64) error {
	diocese, err := c.store.GetDiocese(ctx, dioceseID)
	if err != nil {
		return c.fail(ctx, dioceseID, fmt.Errorf("loading diocese %d, %w", dioceseID, err))
	}
	if diocese == nil {
		return c.fail(ctx, dioceseID, dverrors.New(dverrors.KindClientError, "claimed diocese %d does not exist", dioceseID))
	}
	c.tracker.DioceseStarted(dioceseID, diocese.Name)

	dir, err := c.store.GetParishDirectory(ctx, dioceseID)
	if err != nil {
		return c.fail(ctx, dioceseID, fmt.Errorf("loading directory of diocese %d, %w", dioceseID, err))
	}
	if dir == nil || !dir.Found || dir.URL == "" {
		return c.fail(ctx, dioceseID, dverrors.New(dverrors.KindClientError, "diocese %d has no usable parish directory", dioceseID))
	}

	res, err := c.fetchDirectory(ctx, dir.URL)
	if err != nil {
		if dverrors.IsCancelled(err) {
			return err
		}
		return c.fail(ctx, dioceseID, fmt.Errorf("directory page failed %d attempts, %w", directoryAttempts, err))
	}

	parishes, parserName, err := parseDirectory(string(res.Body), res.URL)
	if err != nil {
		return c.fail(ctx, dioceseID, fmt.Errorf("parsing directory %s, %w", dir.URL, err))
	}
	parsersUsed.WithLabelValues(parserName).Inc()
	if len(parishes) == 0 {
		return c.fail(ctx, dioceseID, dverrors.New(dverrors.KindInvalidOutput, "no parishes recognized on %s", dir.URL))
	}
	if c.maxParishes > 0 && len(parishes) > c.maxParishes {
		c.log.V(1).Info("capping parish list", "diocese", diocese.Name, "parsed", len(parishes), "cap", c.maxParishes)
		parishes = parishes[:c.maxParishes]
	}

	stored := make([]*types.Parish, 0, len(parishes))
	for i := range parishes {
		p := &parishes[i]
		p.DioceseID = dioceseID
		p.IsCathedral = p.IsCathedral || isCathedralName(p.Name)
		if err := c.store.UpsertParish(ctx, p); err != nil {
			if dverrors.IsCancelled(err) {
				return err
			}
			c.tracker.RecordError(err, dioceseID, 0)
			c.log.Error(err, "parish upsert failed", "diocese", diocese.Name, "parish", p.Name)
			continue
		}
		parishesExtracted.Inc()
		stored = append(stored, p)
	}
	if len(stored) == 0 {
		return c.fail(ctx, dioceseID, dverrors.New(dverrors.KindServerError, "no parish rows written for diocese %d", dioceseID))
	}

	if err := c.enrich(ctx, stored); err != nil {
		return err
	}

	if err := c.claims.Complete(ctx, dioceseID, types.AssignmentCompleted); err != nil {
		if dverrors.IsCancelled(err) {
			return err
		}
		c.log.Error(err, "completing assignment", "diocese", dioceseID)
	}
	diocesesProcessed.WithLabelValues("completed").Inc()
	c.tracker.DioceseCompleted(dioceseID, false)
	c.log.Info("diocese extracted", "diocese", diocese.Name, "parser", parserName, "parishes", len(stored))
	return nil
}

// fail records the cause, completes the assignment as failed and swallows
// the error so sibling dioceses in the claim batch keep going.
func (c *Controller) fail(ctx context.Context, dioceseID int64, cause error) error {
	if dverrors.IsCancelled(cause) {
		return cause
	}
	c.tracker.RecordError(cause, dioceseID, 0)
	c.log.Error(cause, "diocese extraction failed", "diocese", dioceseID)
	if err := c.claims.Complete(ctx, dioceseID, types.AssignmentFailed); err != nil && !dverrors.IsCancelled(err) {
		c.log.Error(err, "failing assignment", "diocese", dioceseID)
	}
	diocesesProcessed.WithLabelValues("failed").Inc()
	c.tracker.DioceseCompleted(dioceseID, true)
	return nil
}

// fetchDirectory tries the directory page up to directoryAttempts times.
// Each attempt is a full fetch with the fetcher's own short retries inside;
// this outer loop spans the longer outages those cannot.
func (c *Controller) fetchDirectory(ctx context.Context, pageURL string) (*fetch.Result, error) {
	var lastErr error
	for attempt := 0; attempt < directoryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
			case <-time.After(c.directoryWait):
			}
		}
		res, err := c.fetcher.Fetch(ctx, fetch.Request{URL: pageURL, Breaker: breaker.DiocesePageLoad})
		if err == nil && res.Usable() {
			return res, nil
		}
		if err == nil {
			err = dverrors.New(dverrors.KindInvalidOutput, "directory page %s had no usable content", pageURL)
		}
		if dverrors.IsCancelled(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// parseDirectory chooses a platform strategy and runs it, falling back to
// the generic parser when a branded one recognizes nothing.
func parseDirectory(html, pageURL string) ([]types.Parish, string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, "", dverrors.Wrap(dverrors.KindInvalidOutput, err)
	}
	parser := ChooseParser(html)
	parishes, err := parser.ParseParishList(html, base)
	if err != nil {
		return nil, parser.Name(), err
	}
	if generic := (genericParser{}); len(parishes) == 0 && parser.Name() != generic.Name() {
		parishes, err = generic.ParseParishList(html, base)
		return parishes, generic.Name(), err
	}
	return parishes, parser.Name(), nil
}

// enrich fills parish details from each parish's own site, capped at
// batchSize concurrent fetches on top of the fetcher's per-origin limits.
// Failures are per-parish and logged; only cancellation aborts the batch.
func (c *Controller) enrich(ctx context.Context, parishes []*types.Parish) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchSize)
	for _, p := range parishes {
		p := p
		if p.Website == "" || (p.City != "" && p.Phone != "") {
			continue
		}
		g.Go(func() error {
			if err := c.enrichParish(gctx, p); err != nil {
				if dverrors.IsCancelled(err) {
					return err
				}
				c.log.V(1).Info("parish detail fetch failed", "parish", p.Name, "error", err.Error())
			}
			return nil
		})
	}
	return g.Wait()
}

// enrichParish reads the parish home page and fills in fields the directory
// left empty. Street is part of the parish identity key and is never
// rewritten here.
func (c *Controller) enrichParish(ctx context.Context, p *types.Parish) error {
	res, err := c.fetcher.Fetch(ctx, fetch.Request{URL: p.Website, Breaker: breaker.ParishDetailLoad, ParishID: p.ID})
	if err != nil {
		return err
	}
	if !res.Usable() {
		return nil
	}
	doc, err := res.Document()
	if err != nil {
		return nil
	}

	var found types.Parish
	fillAddress(&found, doc.Text())
	changed := false
	if p.City == "" && found.City != "" {
		p.City, p.State, p.Zip = found.City, found.State, found.Zip
		changed = true
	}
	if p.Phone == "" && found.Phone != "" {
		p.Phone = found.Phone
		changed = true
	}
	if !changed {
		return nil
	}
	if err := c.store.UpsertParish(ctx, p); err != nil {
		return err
	}
	parishesEnriched.Inc()
	return nil
}

func isCathedralName(name string) bool {
	lower := strings.ToLower(name)
	for _, tok := range frontier.CathedralTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
