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

// Package fetch implements the respectful fetch layer. Every page request in
// the pipeline goes through Fetcher, which enforces, in order: suppression,
// blocked-origin cooldown, robots.txt, per-origin rate and concurrency
// budgets, randomized politeness delay, circuit breakers, and adaptive
// timeouts, then classifies the outcome and records it in the visit ledger.
package fetch

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-logr/logr"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

const (
	// DefaultUserAgent identifies the pipeline to origins, per the project's
	// crawling policy page.
	DefaultUserAgent = "DiocesanVitalityBot/1.0 (+https://diocesanvitality.org/bot)"

	maxBodyBytes   = 5 << 20
	maxRetries     = 2
	retryBaseDelay = time.Second
)

// VisitRecorder writes terminal fetch outcomes to the visit ledger.
type VisitRecorder interface {
	RecordVisit(ctx context.Context, parishID int64, url string, outcome types.VisitOutcome) error
}

// Renderer executes a page in a headless browser and returns the rendered
// HTML. Implementations classify their own failures: lease exhaustion is
// KindResourceExhausted, navigation failure is KindTransportError.
type Renderer interface {
	Render(ctx context.Context, url string, timeout time.Duration) (string, error)
}

// Request describes one fetch.
type Request struct {
	URL string
	// Breaker optionally names a page-class breaker, like diocese_page_load,
	// applied in addition to the origin breaker.
	Breaker string
	// ParishID keys the visit ledger. Zero skips ledger recording, for
	// fetches not tied to a parish.
	ParishID int64
}

// Fetcher is the shared fetch pipeline. Construct one per process.
type Fetcher struct {
	ua           string
	client       *http.Client
	policies     *Policies
	suppressions *SuppressionList
	robots       *Robots
	limiters     *Limiters
	cooldowns    *BlockedCooldowns
	timeouts     *TimeoutTracker
	breakers     *breaker.Registry
	renderer     Renderer
	recorder     VisitRecorder
	log          logr.Logger
	retryBase    time.Duration
}

// Option tunes a Fetcher at construction.
type Option func(*Fetcher)

// WithRetryBaseDelay overrides the first retry delay. Subsequent delays still
// double from it.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.retryBase = d }
}

func NewFetcher(client *http.Client, ua string, policies *Policies, suppressions *SuppressionList,
	breakers *breaker.Registry, renderer Renderer, recorder VisitRecorder, log logr.Logger, opts ...Option) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if ua == "" {
		ua = DefaultUserAgent
	}
	if policies == nil {
		policies = NewPolicies(log.WithName("policy"))
	}
	if suppressions == nil {
		suppressions = NewSuppressionList()
	}
	f := &Fetcher{
		ua:           ua,
		client:       client,
		policies:     policies,
		suppressions: suppressions,
		robots:       NewRobots(client, ua, log.WithName("robots")),
		limiters:     NewLimiters(policies),
		cooldowns:    NewBlockedCooldowns(),
		timeouts:     NewTimeoutTracker(),
		breakers:     breakers,
		renderer:     renderer,
		recorder:     recorder,
		log:          log,
		retryBase:    retryBaseDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Robots exposes the robots cache for sitemap hint discovery.
func (f *Fetcher) Robots() *Robots { return f.robots }

// Suppressions exposes the shared suppression list.
func (f *Fetcher) Suppressions() *SuppressionList { return f.suppressions }

// Cooldowns exposes the blocked-origin cooldown table.
func (f *Fetcher) Cooldowns() *BlockedCooldowns { return f.cooldowns }

// Timeouts exposes the adaptive timeout tracker.
func (f *Fetcher) Timeouts() *TimeoutTracker { return f.timeouts }

// Fetch retrieves a URL over plain HTTP.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	res, err := f.run(ctx, req, false)
	f.recordVisit(ctx, req, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// FetchJS retrieves a URL through the headless browser pool, for pages that
// only render their content client side. All politeness checks still apply.
func (f *Fetcher) FetchJS(ctx context.Context, req Request) (*Result, error) {
	res, err := f.run(ctx, req, true)
	f.recordVisit(ctx, req, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (f *Fetcher) run(ctx context.Context, req Request, js bool) (*Result, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, dverrors.New(dverrors.KindClientError, "unfetchable url %q", req.URL)
	}
	if js && f.renderer == nil {
		return nil, dverrors.New(dverrors.KindResourceExhausted, "browser pool is not configured")
	}
	host := strings.ToLower(u.Host)

	if reason, ok := f.suppressions.Match(req.URL); ok {
		return nil, dverrors.New(dverrors.KindSuppressed, "url is suppressed: %s", reason)
	}
	if f.cooldowns.IsBlocked(host) {
		return nil, dverrors.New(dverrors.KindBlocked, "origin %s is cooling down after a block", host)
	}
	allowed, crawlDelay, err := f.robots.Allowed(ctx, u)
	if err != nil {
		return nil, dverrors.Wrap(dverrors.KindTransportError, err)
	}
	if !allowed {
		return nil, dverrors.New(dverrors.KindRobotsDisallowed, "robots.txt disallows %s", req.URL)
	}

	var res *Result
	err = retry.Do(
		func() error {
			release, acquireErr := f.limiters.Acquire(ctx, host)
			if acquireErr != nil {
				return acquireErr
			}
			defer release()
			if delayErr := f.politeDelay(ctx, host, crawlDelay); delayErr != nil {
				return delayErr
			}
			return f.breakers.Guard(ctx, breaker.ForOrigin(host), func() error {
				do := func() error {
					var doErr error
					res, doErr = f.do(ctx, u, js)
					return doErr
				}
				if req.Breaker != "" {
					return f.breakers.Guard(ctx, req.Breaker, do)
				}
				return do()
			})
		},
		retry.Context(ctx),
		retry.Attempts(uint(1+maxRetries)),
		retry.RetryIf(dverrors.IsRetryable),
		retry.DelayType(f.retryDelay),
		retry.OnRetry(func(n uint, err error) {
			retriesTotal.Inc()
			f.log.V(1).Info("retrying fetch", "url", req.URL, "attempt", n+1, "error", err.Error())
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if dverrors.IsBlocked(err) && !f.cooldowns.IsBlocked(host) {
			f.cooldowns.MarkBlocked(host)
		}
		return res, err
	}
	return res, nil
}

// retryDelay doubles from the base delay with a ±25% jitter.
func (f *Fetcher) retryDelay(n uint, _ error, _ *retry.Config) time.Duration {
	base := f.retryBase << n
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// politeDelay sleeps a uniform duration in [base, 1.5*base], where base is
// the larger of the policy delay and the robots Crawl-delay.
func (f *Fetcher) politeDelay(ctx context.Context, host string, crawlDelay time.Duration) error {
	base := time.Duration(f.policies.For(host).BaseDelay)
	if crawlDelay > base {
		base = crawlDelay
	}
	if base <= 0 {
		return nil
	}
	delay := base + time.Duration(rand.Float64()*float64(base)/2)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (f *Fetcher) do(ctx context.Context, u *url.URL, js bool) (*Result, error) {
	host := strings.ToLower(u.Host)
	timeout := f.timeouts.TimeoutFor(host)
	start := time.Now()

	if js {
		return f.doBrowser(ctx, u, host, timeout, start)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, dverrors.Wrap(dverrors.KindClientError, err)
	}
	httpReq.Header.Set("User-Agent", f.ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		return nil, f.classifyTransport(ctx, host, timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, f.classifyTransport(ctx, host, timeout, err)
	}
	f.timeouts.Observe(host, duration)
	observeRequest("http", resp.StatusCode, duration)

	res := &Result{
		URL:         u.String(),
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    duration,
		Via:         "http",
	}
	// The result rides along on classification errors so the ledger still
	// learns the status and timing of blocked and failed exchanges.
	if err := classify(resp.StatusCode, body); err != nil {
		return res, err
	}
	return res, nil
}

func (f *Fetcher) doBrowser(ctx context.Context, u *url.URL, host string, timeout time.Duration, start time.Time) (*Result, error) {
	html, err := f.renderer.Render(ctx, u.String(), timeout)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			f.timeouts.ObserveTimeout(host)
		}
		return nil, err
	}
	f.timeouts.Observe(host, duration)
	observeRequest("browser", http.StatusOK, duration)
	body := []byte(html)
	res := &Result{
		URL:         u.String(),
		StatusCode:  http.StatusOK,
		Body:        body,
		ContentType: "text/html",
		Duration:    duration,
		Via:         "browser",
	}
	if err := classify(http.StatusOK, body); err != nil {
		return res, err
	}
	return res, nil
}

func (f *Fetcher) classifyTransport(ctx context.Context, host string, timeout time.Duration, err error) error {
	if ctx.Err() != nil {
		return dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		f.timeouts.ObserveTimeout(host)
		return dverrors.New(dverrors.KindTransportError, "request to %s timed out after %s", host, timeout)
	}
	return dverrors.Wrap(dverrors.KindTransportError, err)
}

// recordVisit writes the terminal outcome to the ledger. Shutdown must not
// lose the record, so the write survives cancellation of the fetch context.
func (f *Fetcher) recordVisit(ctx context.Context, req Request, res *Result, err error) {
	label := OutcomeLabel(err)
	outcomesTotal.WithLabelValues(label).Inc()
	if req.ParishID == 0 || f.recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	outcome := Outcome(res, err)
	if recErr := f.recorder.RecordVisit(recordCtx, req.ParishID, req.URL, outcome); recErr != nil {
		f.log.Error(recErr, "recording visit", "url", req.URL)
	}
}

// Outcome builds the ledger record for a completed fetch. Callers that parse
// the page afterwards fill in the extraction fields before recording.
func Outcome(res *Result, err error) types.VisitOutcome {
	out := types.VisitOutcome{
		Usable: err == nil && res.Usable(),
		Label:  OutcomeLabel(err),
	}
	if err != nil {
		out.ErrorMessage = err.Error()
	}
	if res != nil {
		out.HTTPStatus = res.StatusCode
		out.ResponseTime = res.Duration
		out.ContentType = res.ContentType
		out.ContentBytes = int64(len(res.Body))
	}
	return out
}
