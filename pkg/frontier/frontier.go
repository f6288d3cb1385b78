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

// Package frontier discovers and ranks the candidate URLs of a parish website
// that are likely to carry schedule content. Discovery walks the origin's
// sitemaps, robots.txt sitemap hints, and root-page links, filters to
// schedule-adjacent URLs, scores each candidate, and persists scores into the
// visit ledger on first sight.
package frontier

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-logr/logr"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

// Fetcher is the slice of the fetch layer the frontier needs: page retrieval
// and access to cached robots.txt sitemap hints.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request) (*fetch.Result, error)
	Robots() *fetch.Robots
}

// ScoreRecorder persists first-sight discovery scores.
type ScoreRecorder interface {
	UpsertDiscoveredURL(ctx context.Context, parishID int64, url string, score int) error
}

// Candidate is one scored URL pending a visit.
type Candidate struct {
	URL    string
	Score  int
	Anchor string
	// Source records where the candidate came from: root, sitemap, robots,
	// or link.
	Source string
}

// Frontier builds the candidate set for one parish at a time. It is stateless
// across parishes; all durable state lives in the ledger.
type Frontier struct {
	fetcher  Fetcher
	keywords *extract.KeywordSet
	scorer   Scorer
	recorder ScoreRecorder
	log      logr.Logger
}

func New(fetcher Fetcher, keywords *extract.KeywordSet, scorer Scorer, recorder ScoreRecorder, log logr.Logger) *Frontier {
	return &Frontier{
		fetcher:  fetcher,
		keywords: keywords,
		scorer:   scorer,
		recorder: recorder,
		log:      log,
	}
}

// Discover assembles, filters, scores and orders the candidate URLs of a
// parish. The parish root is always a candidate. Failures probing individual
// sitemaps degrade discovery instead of failing it; only an unusable website
// URL or cancellation surface as errors.
func (f *Frontier) Discover(ctx context.Context, parish types.Parish) ([]Candidate, error) {
	root, err := url.Parse(strings.TrimSpace(parish.Website))
	if err != nil || root.Host == "" {
		return nil, dverrors.New(dverrors.KindClientError, "parish %d has no usable website url %q", parish.ID, parish.Website)
	}
	if root.Scheme == "" {
		root.Scheme = "https"
	}

	type found struct {
		anchor string
		source string
	}
	seen := map[string]found{}
	add := func(raw, anchor, source string) {
		u, ok := urlx.Resolve(root, raw)
		if !ok || !urlx.SameOrigin(root, u) {
			return
		}
		key := u.String()
		if prev, dup := seen[key]; dup {
			// Keep the richer anchor text for scoring.
			if prev.anchor == "" && anchor != "" {
				seen[key] = found{anchor: anchor, source: prev.source}
			}
			return
		}
		seen[key] = found{anchor: anchor, source: source}
	}

	add(root.String(), "", "root")
	for _, loc := range f.sitemapLocations(ctx, root) {
		for _, page := range f.walkSitemap(ctx, loc.url, loc.source, 0) {
			add(page, "", loc.source)
		}
	}
	f.collectLinks(ctx, root, add)

	candidates := make([]Candidate, 0, len(seen))
	for raw, meta := range seen {
		u, _ := url.Parse(raw)
		if !f.relevant(u, root) {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:    raw,
			Score:  f.scoreCandidate(ctx, u, meta.anchor),
			Anchor: meta.anchor,
			Source: meta.source,
		})
	}
	sortCandidates(candidates)
	candidatesDiscovered.Observe(float64(len(candidates)))

	if f.recorder != nil && parish.ID != 0 {
		for _, c := range candidates {
			if err := f.recorder.UpsertDiscoveredURL(ctx, parish.ID, c.URL, c.Score); err != nil {
				f.log.Error(err, "persisting discovery score", "url", c.URL)
			}
		}
	}
	return candidates, ctx.Err()
}

type sitemapLocation struct {
	url    string
	source string
}

// sitemapLocations merges the fixed probe list with robots.txt hints.
func (f *Frontier) sitemapLocations(ctx context.Context, root *url.URL) []sitemapLocation {
	origin := root.Scheme + "://" + root.Host
	locs := make([]sitemapLocation, 0, len(SitemapPaths)+2)
	for _, p := range SitemapPaths {
		locs = append(locs, sitemapLocation{url: origin + p, source: "sitemap"})
	}
	hints, err := f.fetcher.Robots().Sitemaps(ctx, origin)
	if err != nil {
		f.log.V(1).Info("reading robots sitemap hints", "origin", origin, "error", err.Error())
		return locs
	}
	for _, h := range hints {
		locs = append(locs, sitemapLocation{url: h, source: "robots"})
	}
	return locs
}

// walkSitemap fetches one sitemap document and returns its page URLs,
// following index children down to maxSitemapDepth.
func (f *Frontier) walkSitemap(ctx context.Context, loc, source string, depth int) []string {
	if ctx.Err() != nil || depth > maxSitemapDepth {
		return nil
	}
	res, err := f.fetcher.Fetch(ctx, fetch.Request{URL: loc})
	if err != nil {
		// Missing sitemaps are the common case; only genuine transport noise
		// is worth a log line.
		if !dverrors.Is(err, dverrors.KindClientError) {
			f.log.V(1).Info("sitemap fetch failed", "url", loc, "error", err.Error())
		}
		return nil
	}
	pages, children, err := parseSitemap(res.Body)
	if err != nil {
		f.log.V(1).Info("sitemap unparseable", "url", loc, "error", err.Error())
		return nil
	}
	sitemapsWalked.WithLabelValues(source).Inc()
	for _, child := range children {
		pages = append(pages, f.walkSitemap(ctx, child, source, depth+1)...)
	}
	return pages
}

// collectLinks fetches the root page and feeds every same-origin link with
// its anchor text to add.
func (f *Frontier) collectLinks(ctx context.Context, root *url.URL, add func(raw, anchor, source string)) {
	res, err := f.fetcher.Fetch(ctx, fetch.Request{URL: root.String()})
	if err != nil {
		f.log.V(1).Info("root page fetch failed", "url", root.String(), "error", err.Error())
		return
	}
	doc, err := res.Document()
	if err != nil {
		return
	}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href, strings.TrimSpace(s.Text()), "link")
	})
}

// relevant applies the schedule-adjacency filter. Roots always pass; other
// URLs must carry a schedule token, a dedicated or cathedral token, or one of
// the weak event-page tokens in their path.
func (f *Frontier) relevant(u *url.URL, root *url.URL) bool {
	if u.Path == "" || u.Path == "/" || u.String() == root.String() {
		return true
	}
	if f.keywords.MatchesTokens(urlx.PathTokens(u)) {
		return true
	}
	return PathHasAny(u, DedicatedTokens) || PathHasAny(u, CathedralTokens) || PathHasAny(u, WeakTokens)
}

// sortCandidates orders by descending score, then shorter path, then
// alphabetical, matching the ledger's visit order contract.
func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		pi, pj := pathLen(cs[i].URL), pathLen(cs[j].URL)
		if pi != pj {
			return pi < pj
		}
		return cs[i].URL < cs[j].URL
	})
}

func pathLen(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return len(raw)
	}
	return len(u.Path)
}
