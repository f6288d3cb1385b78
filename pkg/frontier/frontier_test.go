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

package frontier_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/frontier"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("Discover", func() {
	var ctx context.Context
	var keywords *extract.KeywordSet
	var scores *scoreBook

	BeforeEach(func() {
		ctx = context.Background()
		keywords = extract.NewKeywordSet()
		scores = newScoreBook()
	})

	newFrontier := func(scorer frontier.Scorer) *frontier.Frontier {
		return frontier.New(newTestFetcher(), keywords, scorer, scores, logr.Discard())
	}

	parish := func(website string) types.Parish {
		return types.Parish{ID: 7, DioceseID: 1, Name: "St. Mary", Website: website}
	}

	It("should discover urls from a robots-declared sitemap and rank schedule pages first", func() {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/robots.txt":
				fmt.Fprintf(w, "User-agent: *\nAllow: /\nSitemap: %s/alt-sitemap.xml\n", server.URL)
			case "/alt-sitemap.xml":
				w.Header().Set("Content-Type", "application/xml")
				fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/mass-times</loc></url>
  <url><loc>%s/events</loc></url>
</urlset>`, server.URL, server.URL)
			case "/":
				fmt.Fprint(w, "<html><body>Welcome</body></html>")
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		candidates, err := newFrontier(nil).Discover(ctx, parish(server.URL))
		Expect(err).ToNot(HaveOccurred())

		urls := make([]string, 0, len(candidates))
		for _, c := range candidates {
			urls = append(urls, c.URL)
		}
		Expect(urls).To(ContainElements(server.URL+"/mass-times", server.URL+"/events"))

		// The dedicated schedule page outranks the events page and is
		// visited first.
		Expect(candidates[0].URL).To(Equal(server.URL + "/mass-times"))
		Expect(candidates[0].Score).To(BeNumerically(">=", 40))

		persisted, ok := scores.score(server.URL + "/events")
		Expect(ok).To(BeTrue())
		Expect(persisted).To(BeNumerically("<", 40))
		Expect(scores.len()).To(Equal(len(candidates)))
	})

	It("should follow sitemap indexes to their children", func() {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/robots.txt":
				http.NotFound(w, r)
			case "/sitemap.xml":
				w.Header().Set("Content-Type", "application/xml")
				fmt.Fprintf(w, `<sitemapindex><sitemap><loc>%s/child-sitemap.xml</loc></sitemap></sitemapindex>`, server.URL)
			case "/child-sitemap.xml":
				w.Header().Set("Content-Type", "application/xml")
				fmt.Fprintf(w, `<urlset><url><loc>%s/confession</loc></url></urlset>`, server.URL)
			case "/":
				fmt.Fprint(w, "<html><body></body></html>")
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		candidates, err := newFrontier(nil).Discover(ctx, parish(server.URL))
		Expect(err).ToNot(HaveOccurred())
		urls := make([]string, 0, len(candidates))
		for _, c := range candidates {
			urls = append(urls, c.URL)
		}
		Expect(urls).To(ContainElement(server.URL + "/confession"))
	})

	It("should collect root-page links, keep the relevant ones, and weigh anchor text", func() {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/robots.txt":
				http.NotFound(w, r)
			case "/":
				fmt.Fprint(w, `<html><body>
					<a href="/worship/schedule">Mass and Confession times</a>
					<a href="/staff">Our Staff</a>
					<a href="mailto:office@p.example">Email us</a>
					<a href="tel:+15550100">Call</a>
					<a href="#main">Skip</a>
					<a href="https://elsewhere.example/page">External</a>
				</body></html>`)
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		candidates, err := newFrontier(nil).Discover(ctx, parish(server.URL))
		Expect(err).ToNot(HaveOccurred())

		urls := make([]string, 0, len(candidates))
		for _, c := range candidates {
			urls = append(urls, c.URL)
		}
		Expect(urls).To(ContainElement(server.URL + "/worship/schedule"))
		Expect(urls).ToNot(ContainElement(server.URL + "/staff"))
		Expect(urls).ToNot(ContainElement("https://elsewhere.example/page"))

		// 40 for the dedicated path token plus 10 per keyword in the anchor.
		schedule := candidates[0]
		Expect(schedule.URL).To(Equal(server.URL + "/worship/schedule"))
		Expect(schedule.Score).To(BeNumerically(">=", 60))
	})

	It("should always keep the parish root even without schedule tokens", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				fmt.Fprint(w, "<html><body>Sparse</body></html>")
				return
			}
			http.NotFound(w, r)
		}))
		defer server.Close()

		candidates, err := newFrontier(nil).Discover(ctx, parish(server.URL))
		Expect(err).ToNot(HaveOccurred())
		Expect(candidates).To(HaveLen(1))
		Expect(candidates[0].Source).To(Equal("root"))
	})

	It("should blend the ml scorer into candidate scores", func() {
		var server *httptest.Server
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/robots.txt":
				http.NotFound(w, r)
			case "/":
				fmt.Fprint(w, `<html><body>
					<a href="/events">Events</a>
					<a href="/calendar">Calendar</a>
				</body></html>`)
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		scorer := func(_ context.Context, rawURL string, _ string) float64 {
			if rawURL == server.URL+"/events" {
				return 0.9
			}
			return 0.2 // below the floor, contributes nothing
		}
		candidates, err := newFrontier(scorer).Discover(ctx, parish(server.URL))
		Expect(err).ToNot(HaveOccurred())

		byURL := map[string]int{}
		for _, c := range candidates {
			byURL[c.URL] = c.Score
		}
		// round(15 * 0.9) = 14 on top of zero token points.
		Expect(byURL[server.URL+"/events"]).To(Equal(14))
		Expect(byURL[server.URL+"/calendar"]).To(Equal(0))
	})

	It("should refuse a parish with no usable website", func() {
		_, err := newFrontier(nil).Discover(ctx, types.Parish{ID: 9, Website: "not a url"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Prioritizer", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should order unvisited, then stale, then retry parishes and drop suppressed hosts", func() {
		source := &bandSource{
			unvisited: []types.Parish{{ID: 1, Website: "https://a.example"}, {ID: 2, Website: "https://blocked.example"}},
			stale:     []types.Parish{{ID: 3, Website: "https://c.example"}},
			retry:     []types.Parish{{ID: 4, Website: "https://d.example"}},
		}
		p := frontier.NewPrioritizer(source, hostSet{"blocked.example": true})

		got, err := p.Next(ctx, 10)
		Expect(err).ToNot(HaveOccurred())
		ids := make([]int64, 0, len(got))
		for _, parish := range got {
			ids = append(ids, parish.ID)
		}
		Expect(ids).To(Equal([]int64{1, 3, 4}))
	})

	It("should stop at the limit without querying later bands", func() {
		source := &bandSource{
			unvisited: []types.Parish{{ID: 1}, {ID: 2}, {ID: 3}},
		}
		p := frontier.NewPrioritizer(source, nil)
		got, err := p.Next(ctx, 2)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(HaveLen(2))
		Expect(source.staleCalls).To(BeZero())
	})

	It("should not return the same parish twice across bands", func() {
		source := &bandSource{
			unvisited: []types.Parish{{ID: 1}},
			stale:     []types.Parish{{ID: 1}, {ID: 2}},
		}
		p := frontier.NewPrioritizer(source, nil)
		got, err := p.Next(ctx, 10)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(HaveLen(2))
	})
})

type bandSource struct {
	unvisited, stale, retry []types.Parish
	staleCalls              int
}

func (b *bandSource) ListUnvisitedParishes(_ context.Context, limit int) ([]types.Parish, error) {
	return capParishes(b.unvisited, limit), nil
}

func (b *bandSource) ListStaleParishes(_ context.Context, _ time.Time, limit int) ([]types.Parish, error) {
	b.staleCalls++
	return capParishes(b.stale, limit), nil
}

func (b *bandSource) ListRetryParishes(_ context.Context, _ time.Time, limit int) ([]types.Parish, error) {
	return capParishes(b.retry, limit), nil
}

func capParishes(in []types.Parish, limit int) []types.Parish {
	if len(in) > limit {
		return in[:limit]
	}
	return in
}

type hostSet map[string]bool

func (h hostSet) MatchHost(host string) (string, bool) {
	if h[host] {
		return "suppressed", true
	}
	return "", false
}
