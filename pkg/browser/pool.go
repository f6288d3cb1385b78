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

// Package browser maintains the headless browser pool used for pages that
// only produce content client side. One shared Chrome process hosts a fixed
// number of tabs; callers lease a tab, run against it, and the pool destroys
// and replaces any tab whose run failed.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-logr/logr"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

const (
	// DefaultPoolSize is the number of concurrently leasable tabs.
	DefaultPoolSize = 4
	// LeaseTimeout bounds how long a caller queues for a tab before the
	// lease is refused.
	LeaseTimeout = 30 * time.Second

	settleDelay     = 500 * time.Millisecond
	respawnInterval = 10 * time.Second
)

type tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Pool is a fixed-size set of browser tabs with FIFO leasing.
type Pool struct {
	log     logr.Logger
	size    int
	idle    chan *tab
	rootCtx context.Context
	cancel  context.CancelFunc
}

// NewPool starts the shared browser and opens size tabs. The pool lives until
// ctx ends or Close is called.
func NewPool(ctx context.Context, size int, ua string, log logr.Logger) (*Pool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(ua),
		chromedp.NoSandbox,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.WindowSize(1366, 900),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	p := &Pool{
		log:     log,
		size:    size,
		idle:    make(chan *tab, size),
		rootCtx: allocCtx,
		cancel:  cancel,
	}
	for i := 0; i < size; i++ {
		t, err := p.newTab()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("starting browser pool, %w", err)
		}
		p.idle <- t
	}
	poolSize.Set(float64(size))
	return p, nil
}

func (p *Pool) newTab() (*tab, error) {
	tabCtx, cancel := chromedp.NewContext(p.rootCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("opening browser tab, %w", err)
	}
	return &tab{ctx: tabCtx, cancel: cancel}, nil
}

// Render navigates to url and returns the rendered document HTML.
func (p *Pool) Render(ctx context.Context, url string, timeout time.Duration) (string, error) {
	var html string
	err := p.withTab(ctx, timeout, func(runCtx context.Context) error {
		return chromedp.Run(runCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(settleDelay),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
	})
	if err != nil {
		return "", err
	}
	return html, nil
}

// Evaluate navigates to url and evaluates script in the page, returning the
// JSON-encoded result.
func (p *Pool) Evaluate(ctx context.Context, url, script string, timeout time.Duration) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.withTab(ctx, timeout, func(runCtx context.Context) error {
		return chromedp.Run(runCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(settleDelay),
			chromedp.Evaluate(script, &out),
		)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pool) withTab(ctx context.Context, timeout time.Duration, run func(context.Context) error) error {
	t, err := p.acquire(ctx)
	if err != nil {
		leaseTimeouts.Inc()
		return err
	}
	runCtx, cancelRun := context.WithTimeout(t.ctx, timeout)
	defer cancelRun()
	// The tab context, not the caller's, parents the run; propagate caller
	// cancellation by hand.
	stop := context.AfterFunc(ctx, cancelRun)
	defer stop()

	err = run(runCtx)
	if err != nil {
		rendersTotal.WithLabelValues("error").Inc()
		p.replace(t)
		if ctx.Err() != nil {
			return dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return dverrors.Wrap(dverrors.KindTransportError, err)
		}
		return dverrors.New(dverrors.KindTransportError, "browser run failed: %s", err.Error())
	}
	rendersTotal.WithLabelValues("ok").Inc()
	p.release(t)
	return nil
}

// acquire leases an idle tab. Waiters are served in arrival order; a full
// pool refuses the lease after LeaseTimeout.
func (p *Pool) acquire(ctx context.Context) (*tab, error) {
	timer := time.NewTimer(LeaseTimeout)
	defer timer.Stop()
	select {
	case t := <-p.idle:
		leasesInUse.Inc()
		return t, nil
	case <-ctx.Done():
		return nil, dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
	case <-timer.C:
		return nil, dverrors.New(dverrors.KindResourceExhausted, "no browser tab available within %s", LeaseTimeout)
	}
}

func (p *Pool) release(t *tab) {
	leasesInUse.Dec()
	p.idle <- t
}

// replace destroys a failed tab and restores pool capacity. When the browser
// is unhealthy the respawn keeps retrying in the background until the pool
// shuts down.
func (p *Pool) replace(old *tab) {
	leasesInUse.Dec()
	old.cancel()
	tabReplacements.Inc()
	if t, err := p.newTab(); err == nil {
		p.idle <- t
		return
	}
	go func() {
		ticker := time.NewTicker(respawnInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.rootCtx.Done():
				return
			case <-ticker.C:
				t, err := p.newTab()
				if err != nil {
					p.log.Error(err, "respawning browser tab")
					continue
				}
				p.idle <- t
				return
			}
		}
	}()
}

// Close tears the pool down. Leased tabs die with the shared browser.
func (p *Pool) Close() {
	for {
		select {
		case t := <-p.idle:
			t.cancel()
		default:
			p.cancel()
			return
		}
	}
}
