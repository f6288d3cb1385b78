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

// Package discovery seeds the diocese table from curated registry pages and
// finds each diocese's parish directory page. Detection tries the cheap
// things first: links on the home page and well-known paths, then an AI pick
// over the home page's internal links, then a web search. A diocese that
// answers every probe without producing a directory is recorded as having
// none; a diocese that never answers is left for the next sweep.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/pretty"
)

// SweepInterval spaces discovery passes. The loop does all its work in one
// burst and sleeps the rest of the interval.
const SweepInterval = 5 * time.Minute

const (
	// defaultBatch caps how many directory-less dioceses one sweep takes on.
	defaultBatch = 20
	// maxAssistLinks caps the link menu handed to the AI finder.
	maxAssistLinks = 60
)

// Store is the slice of persistence discovery writes through.
type Store interface {
	UpsertDiocese(ctx context.Context, d *types.Diocese) error
	ListDiocesesMissingDirectory(ctx context.Context, limit int) ([]types.Diocese, error)
	UpsertParishDirectory(ctx context.Context, dir *types.ParishDirectory) error
}

// Fetcher retrieves pages through the shared respectful client.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
}

// DirectoryFinder picks a directory URL from a diocese's internal links.
// Implemented by ai.DirectoryFinder; nil disables the assist.
type DirectoryFinder interface {
	FindDirectory(ctx context.Context, dioceseName string, links []string) (string, error)
}

// DirectorySearcher finds a directory URL through an external web search.
// Nil disables the fallback.
type DirectorySearcher interface {
	FindDirectory(ctx context.Context, diocese types.Diocese) (string, error)
}

// Controller is the discovery role loop.
type Controller struct {
	store   Store
	fetcher Fetcher
	finder  DirectoryFinder
	search  DirectorySearcher
	tracker *telemetry.Tracker
	monitor *pretty.ChangeMonitor
	log     logr.Logger

	registry []string
	batch    int
}

// Option tunes a Controller at construction.
type Option func(*Controller)

// WithRegistryPages sets the curated pages scanned for diocese sites.
func WithRegistryPages(urls ...string) Option {
	return func(c *Controller) { c.registry = urls }
}

// WithBatch overrides how many dioceses one sweep works through.
func WithBatch(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.batch = n
		}
	}
}

// WithFinder enables the AI directory assist.
func WithFinder(f DirectoryFinder) Option {
	return func(c *Controller) { c.finder = f }
}

// WithSearcher enables the web search fallback.
func WithSearcher(s DirectorySearcher) Option {
	return func(c *Controller) { c.search = s }
}

func NewController(store Store, fetcher Fetcher, tracker *telemetry.Tracker, log logr.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:   store,
		fetcher: fetcher,
		tracker: tracker,
		monitor: pretty.NewChangeMonitor(),
		log:     log.WithName("discovery"),
		batch:   defaultBatch,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Name() string { return "discovery" }

// RunOnce seeds new dioceses from the registry pages, then runs directory
// detection for a batch of dioceses that have no directory row yet.
func (c *Controller) RunOnce(ctx context.Context) (time.Duration, error) {
	if err := c.seedDioceses(ctx); err != nil {
		return 0, err
	}

	dioceses, err := c.store.ListDiocesesMissingDirectory(ctx, c.batch)
	if err != nil {
		return SweepInterval, fmt.Errorf("listing dioceses without a directory, %w", err)
	}
	if c.monitor.HasChanged("missing-directories", len(dioceses)) {
		c.log.Info("dioceses awaiting directory detection", "count", len(dioceses))
	}

	for i := range dioceses {
		d := dioceses[i]
		if err := c.detect(ctx, d); err != nil {
			if dverrors.IsCancelled(err) {
				return 0, err
			}
			detectionFailures.Inc()
			c.tracker.RecordError(err, d.ID, 0)
			c.log.Error(err, "directory detection failed", "diocese", d.Name)
		}
	}
	return SweepInterval, nil
}

// seedDioceses scans each registry page for diocese links and upserts what it
// finds. Rows are immutable once written, so re-seeding is idempotent and
// concurrent workers race harmlessly.
func (c *Controller) seedDioceses(ctx context.Context) error {
	for _, page := range c.registry {
		res, err := c.fetcher.Fetch(ctx, fetch.Request{URL: page})
		if err != nil {
			if dverrors.IsCancelled(err) {
				return err
			}
			c.log.V(1).Info("registry page fetch failed", "url", page, "error", err.Error())
			continue
		}
		doc, err := res.Document()
		if err != nil {
			c.log.V(1).Info("registry page did not parse", "url", page, "error", err.Error())
			continue
		}
		entries := registryEntries(doc)
		seeded := 0
		for _, e := range entries {
			id := dioceseID(e.Website)
			if id == 0 {
				continue
			}
			d := &types.Diocese{ID: id, Name: e.Name, Website: e.Website}
			if err := c.store.UpsertDiocese(ctx, d); err != nil {
				if dverrors.IsCancelled(err) {
					return err
				}
				c.log.V(1).Info("diocese upsert failed", "name", e.Name, "error", err.Error())
				continue
			}
			seeded++
		}
		diocesesSeeded.Add(float64(seeded))
		if c.monitor.HasChanged("registry:"+page, len(entries)) {
			c.log.Info("diocese registry scanned", "url", page, "dioceses", len(entries))
		}
	}
	return nil
}

// detect finds the parish directory for one diocese, or records that it has
// none. A found=false row is written only when at least one probe got a real
// answer; a site that never responded stays unresolved for the next sweep.
func (c *Controller) detect(ctx context.Context, d types.Diocese) error {
	base, ok := siteBase(d.Website)
	if !ok {
		// No usable website at all; nothing will ever answer here.
		return c.recordNotFound(ctx, d)
	}

	answered := 0
	var doc *goquery.Document
	res, err := c.fetcher.Fetch(ctx, fetch.Request{URL: base.String(), Breaker: breaker.DiocesePageLoad})
	switch {
	case err == nil && res.Usable():
		if doc, err = res.Document(); err != nil {
			doc = nil
		}
		answered++
	case err != nil && dverrors.IsCancelled(err):
		return err
	case err != nil && dverrors.KindOf(err) == dverrors.KindClientError:
		answered++
	}

	candidates := make([]string, 0, len(DirectoryPaths)+8)
	if doc != nil {
		candidates = append(candidates, navCandidates(doc, base)...)
	}
	for _, p := range DirectoryPaths {
		u := *base
		u.Path = p
		candidates = append(candidates, u.String())
	}

	for _, cand := range lo.Uniq(candidates) {
		isDir, conclusive, err := c.probe(ctx, cand)
		if err != nil {
			return err
		}
		if conclusive {
			answered++
		}
		if isDir {
			return c.record(ctx, d, cand, types.DetectedByHeuristic)
		}
	}

	if c.finder != nil && doc != nil {
		picked, err := c.finder.FindDirectory(ctx, d.Name, internalLinks(doc, base, maxAssistLinks))
		switch {
		case err != nil:
			if dverrors.IsCancelled(err) {
				return err
			}
			c.log.V(1).Info("ai directory assist failed", "diocese", d.Name, "error", err.Error())
		case picked != "":
			isDir, _, err := c.probe(ctx, picked)
			if err != nil {
				return err
			}
			if isDir {
				return c.record(ctx, d, picked, types.DetectedByAI)
			}
		}
	}

	if c.search != nil {
		found, err := c.search.FindDirectory(ctx, d)
		switch {
		case err != nil:
			if dverrors.IsCancelled(err) {
				return err
			}
			c.log.V(1).Info("directory search fallback failed", "diocese", d.Name, "error", err.Error())
		case found != "":
			isDir, _, err := c.probe(ctx, found)
			if err != nil {
				return err
			}
			if isDir {
				return c.record(ctx, d, found, types.DetectedBySearchFallback)
			}
		}
	}

	if answered == 0 {
		return dverrors.New(dverrors.KindTransportError, "diocese site %s never answered, leaving detection open", d.Website)
	}
	return c.recordNotFound(ctx, d)
}

// probe fetches one candidate URL and reports whether it is a directory and
// whether the answer was conclusive. A 404 is conclusive; transport errors,
// blocks and open breakers are not. Only cancellation comes back as error.
func (c *Controller) probe(ctx context.Context, rawURL string) (isDir, conclusive bool, err error) {
	res, err := c.fetcher.Fetch(ctx, fetch.Request{URL: rawURL, Breaker: breaker.DiocesePageLoad})
	if err != nil {
		if dverrors.IsCancelled(err) {
			return false, false, err
		}
		return false, dverrors.KindOf(err) == dverrors.KindClientError, nil
	}
	if !res.Usable() {
		return false, true, nil
	}
	doc, err := res.Document()
	if err != nil {
		return false, true, nil
	}
	return looksLikeDirectory(doc), true, nil
}

func (c *Controller) record(ctx context.Context, d types.Diocese, dirURL string, method types.DetectionMethod) error {
	dir := &types.ParishDirectory{
		DioceseID:  d.ID,
		URL:        dirURL,
		Found:      true,
		DetectedBy: method,
		FoundAt:    time.Now().UTC(),
	}
	if err := c.store.UpsertParishDirectory(ctx, dir); err != nil {
		return fmt.Errorf("recording parish directory for diocese %d, %w", d.ID, err)
	}
	directoriesDetected.WithLabelValues(string(method)).Inc()
	c.tracker.DirectoryFound(d.ID, dirURL)
	c.log.Info("parish directory detected", "diocese", d.Name, "url", dirURL, "method", method)
	return nil
}

func (c *Controller) recordNotFound(ctx context.Context, d types.Diocese) error {
	dir := &types.ParishDirectory{
		DioceseID:  d.ID,
		Found:      false,
		DetectedBy: types.DetectedByHeuristic,
		FoundAt:    time.Now().UTC(),
	}
	if err := c.store.UpsertParishDirectory(ctx, dir); err != nil {
		return fmt.Errorf("recording missing directory for diocese %d, %w", d.ID, err)
	}
	directoriesDetected.WithLabelValues("none").Inc()
	c.log.Info("no parish directory found", "diocese", d.Name)
	return nil
}

// siteBase parses a diocese website into a probe-able base URL.
func siteBase(website string) (*url.URL, bool) {
	website = strings.TrimSpace(website)
	if website == "" {
		return nil, false
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil || u.Host == "" {
		return nil, false
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, true
}
