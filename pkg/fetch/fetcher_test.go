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

package fetch_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

var _ = Describe("Fetcher", func() {
	var ctx context.Context
	var breakers *breaker.Registry
	var visits *ledger

	newFetcher := func(renderer fetch.Renderer) *fetch.Fetcher {
		return fetch.NewFetcher(nil, "", fastPolicies(), fetch.NewSuppressionList(),
			breakers, renderer, visits, logr.Discard(), fetch.WithRetryBaseDelay(5*time.Millisecond))
	}

	BeforeEach(func() {
		ctx = context.Background()
		breakers = breaker.NewRegistry(logr.Discard())
		visits = &ledger{}
	})

	It("should fetch a page and record a usable visit", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>Confessions Saturday 3:00 PM</body></html>")
		}))
		defer server.Close()

		f := newFetcher(nil)
		res, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/confession", ParishID: 7})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Usable()).To(BeTrue())
		Expect(res.Via).To(Equal("http"))
		Expect(res.StatusCode).To(Equal(http.StatusOK))

		recorded := visits.all()
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].ParishID).To(Equal(int64(7)))
		Expect(recorded[0].Outcome.Usable).To(BeTrue())
		Expect(recorded[0].Outcome.Label).To(Equal("ok"))
	})

	It("should short-circuit suppressed urls without touching the network", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
		}))
		defer server.Close()

		suppressions := fetch.NewSuppressionList()
		suppressions.Replace([]types.SuppressionURL{{URL: server.URL + "/private", Reason: "owner requested removal"}})
		f := fetch.NewFetcher(nil, "", fastPolicies(), suppressions, breakers, nil, visits, logr.Discard())

		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/private", ParishID: 3})
		Expect(dverrors.Is(err, dverrors.KindSuppressed)).To(BeTrue())
		Expect(hits.Load()).To(BeZero())

		recorded := visits.all()
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].Outcome.Usable).To(BeFalse())
		Expect(recorded[0].Outcome.Label).To(Equal("suppressed"))
	})

	It("should refuse urls disallowed by robots.txt", func() {
		var pageHits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				fmt.Fprint(w, "User-agent: *\nDisallow: /hidden/\n")
				return
			}
			pageHits.Add(1)
		}))
		defer server.Close()

		f := newFetcher(nil)
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/hidden/schedule"})
		Expect(dverrors.Is(err, dverrors.KindRobotsDisallowed)).To(BeTrue())
		Expect(pageHits.Load()).To(BeZero())

		res, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/public"})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.StatusCode).To(Equal(http.StatusOK))
	})

	It("should respect robots crawl-delay as the politeness floor", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				fmt.Fprint(w, "User-agent: *\nCrawl-delay: 1\n")
				return
			}
			fmt.Fprint(w, "<html>ok</html>")
		}))
		defer server.Close()

		f := newFetcher(nil)
		start := time.Now()
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/page"})
		Expect(err).ToNot(HaveOccurred())
		// Crawl-delay of 1s outweighs the 1ms policy delay.
		Expect(time.Since(start)).To(BeNumerically(">=", time.Second))
	})

	It("should classify a 403 as blocked and cool the origin down", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			hits.Add(1)
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		f := newFetcher(nil)
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/a"})
		Expect(dverrors.IsBlocked(err)).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(1)))

		// Second fetch to the same origin short-circuits on the cooldown.
		_, err = f.Fetch(ctx, fetch.Request{URL: server.URL + "/b"})
		Expect(dverrors.IsBlocked(err)).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(1)))
	})

	It("should detect challenge pages served with a 200", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, "<html><title>Attention Required! | Cloudflare</title>cf-browser-verification</html>")
		}))
		defer server.Close()

		f := newFetcher(nil)
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/page"})
		Expect(dverrors.IsBlocked(err)).To(BeTrue())
	})

	It("should retry server errors twice and then surface ServerError", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		f := newFetcher(nil)
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/flaky", ParishID: 11})
		Expect(dverrors.Is(err, dverrors.KindServerError)).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(3)))

		recorded := visits.all()
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].Outcome.Label).To(Equal("server_error"))
	})

	It("should succeed when a retry lands", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			fmt.Fprint(w, "<html>recovered</html>")
		}))
		defer server.Close()

		f := newFetcher(nil)
		res, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/flaky"})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Usable()).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(3)))
	})

	It("should not retry client errors", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			hits.Add(1)
			http.NotFound(w, r)
		}))
		defer server.Close()

		f := newFetcher(nil)
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/missing"})
		Expect(dverrors.Is(err, dverrors.KindClientError)).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(1)))
	})

	It("should open the page-class breaker and stop calling the origin", func() {
		var hits atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		f := newFetcher(nil)
		// One fetch burns all three attempts, tripping diocese_page_load at 3.
		_, err := f.Fetch(ctx, fetch.Request{URL: server.URL + "/directory", Breaker: breaker.DiocesePageLoad})
		Expect(dverrors.Is(err, dverrors.KindServerError)).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(3)))
		Expect(breakers.State(breaker.DiocesePageLoad).State).To(Equal("open"))

		_, err = f.Fetch(ctx, fetch.Request{URL: server.URL + "/directory", Breaker: breaker.DiocesePageLoad})
		Expect(dverrors.IsCircuitOpen(err)).To(BeTrue())
		Expect(hits.Load()).To(Equal(int64(3)))
	})

	It("should return Cancelled when the caller gives up mid-request", func() {
		started := make(chan struct{})
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.NotFound(w, r)
				return
			}
			close(started)
			<-r.Context().Done()
		}))
		defer server.Close()

		f := newFetcher(nil)
		cancellable, cancel := context.WithCancel(ctx)
		go func() {
			<-started
			cancel()
		}()
		_, err := f.Fetch(cancellable, fetch.Request{URL: server.URL + "/slow", ParishID: 5})
		Expect(dverrors.IsCancelled(err)).To(BeTrue())

		// The ledger write still lands despite the cancelled fetch context.
		recorded := visits.all()
		Expect(recorded).To(HaveLen(1))
		Expect(recorded[0].Outcome.Label).To(Equal("cancelled"))
	})

	It("should render through the browser pool with the same checks applied", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		rendered := "<html><body>Adoration Thursday 7:00 PM</body></html>"
		f := newFetcher(renderFunc(func(ctx context.Context, url string, timeout time.Duration) (string, error) {
			return rendered, nil
		}))
		res, err := f.FetchJS(ctx, fetch.Request{URL: server.URL + "/spa", Breaker: breaker.WebDriverRequests})
		Expect(err).ToNot(HaveOccurred())
		Expect(res.Via).To(Equal("browser"))
		Expect(string(res.Body)).To(Equal(rendered))
	})

	It("should surface ResourceExhausted when no browser pool is configured", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer server.Close()

		f := newFetcher(nil)
		_, err := f.FetchJS(ctx, fetch.Request{URL: server.URL + "/spa"})
		Expect(dverrors.Is(err, dverrors.KindResourceExhausted)).To(BeTrue())
	})
})
