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

// Package operator wires one worker process together: it builds the shared
// singletons in dependency order, assembles the role loops the worker type
// asks for, and runs them under a single errgroup with the auxiliary
// telemetry and config-refresh loops.
package operator

import (
	"context"
	"errors"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/ai"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/browser"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/controllers"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/controllers/discovery"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/controllers/extraction"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/controllers/reporting"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/controllers/schedule"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/coordinator"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/fetch"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/frontier"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/operator/options"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/store"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/telemetry"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/env"
)

// suppressionRefreshInterval is how often the do-not-fetch list is reloaded
// from the store, matching the schedule keyword cadence.
const suppressionRefreshInterval = 15 * time.Minute

// Operator owns every long-lived component shared across the role loops.
// Construct with NewOperator; the zero value is not usable.
type Operator struct {
	Options *options.Options
	Log     logr.Logger

	Store        *store.Client
	Breakers     *breaker.Registry
	Browsers     *browser.Pool // nil when the pool is disabled or unavailable
	Policies     *fetch.Policies
	Suppressions *fetch.SuppressionList
	Keywords     *extract.KeywordSet
	Fetcher      *fetch.Fetcher
	Frontier     *frontier.Frontier
	Prioritizer  *frontier.Prioritizer
	Gate         *ai.Gate            // nil without a Gemini key
	Finder       *ai.DirectoryFinder // nil without a Gemini key
	Searcher     *discovery.SearchClient
	Coordinator  *coordinator.Coordinator
	Tracker      *telemetry.Tracker
	Pusher       *telemetry.Pusher // nil unless pushing is enabled
	Server       *telemetry.Server // nil when the status port is disabled

	zl *zap.Logger
}

// NewOperator builds the worker's shared components in dependency order. Any
// error here is an unrecoverable startup failure; the caller exits 1.
func NewOperator(ctx context.Context, opts *options.Options) (*Operator, error) {
	zl, err := newZapLogger()
	if err != nil {
		return nil, err
	}
	bootLog := zapr.NewLogger(zl)

	breakers := breaker.NewRegistry(bootLog.WithName("breaker"))
	var pusher *telemetry.Pusher
	var sinks []telemetry.Sink
	if opts.PushEnabled() {
		pusher = telemetry.NewPusher(opts.MonitoringURL, bootLog.WithName("pusher"))
		sinks = append(sinks, pusher)
	}
	tracker := telemetry.NewTracker(opts.WorkerID, opts.Role(), breakers, sinks...)

	// WARN and above from here down land in the tracker's log buffer, so
	// /status shows recent trouble without a log pipeline.
	zl = zl.WithOptions(telemetry.ZapHook(tracker))
	log := zapr.NewLogger(zl)

	st, err := store.Open(ctx, opts.DatabaseURL, log.WithName("store"))
	if err != nil {
		return nil, err
	}
	if opts.ApplyMigrations {
		if err := st.ApplyMigrations(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	policies := fetch.NewPolicies(log.WithName("policy"))
	if opts.OriginPolicyFile != "" {
		if err := policies.Load(opts.OriginPolicyFile); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	var browsers *browser.Pool
	var renderer fetch.Renderer
	if opts.PoolSize > 0 {
		browsers, err = browser.NewPool(ctx, opts.PoolSize, fetch.DefaultUserAgent, log.WithName("browser"))
		if err != nil {
			log.Error(err, "browser pool unavailable, javascript rendering disabled")
			browsers = nil
		}
	}
	if browsers != nil {
		renderer = browsers
	}

	suppressions := fetch.NewSuppressionList()
	keywords := extract.NewKeywordSet()
	fetcher := fetch.NewFetcher(nil, fetch.DefaultUserAgent, policies, suppressions, breakers, renderer, st, log.WithName("fetch"))

	op := &Operator{
		Options:      opts,
		Log:          log,
		Store:        st,
		Breakers:     breakers,
		Browsers:     browsers,
		Policies:     policies,
		Suppressions: suppressions,
		Keywords:     keywords,
		Fetcher:      fetcher,
		Frontier:     frontier.New(fetcher, keywords, nil, st, log.WithName("frontier")),
		Prioritizer:  frontier.NewPrioritizer(st, suppressions),
		Coordinator:  coordinator.New(st, opts.WorkerID, opts.PodName, opts.Role(), log.WithName("coordinator")),
		Tracker:      tracker,
		Pusher:       pusher,
		zl:           zl,
	}

	if opts.GeminiAPIKey != "" {
		llm, err := ai.NewClient(ctx, opts.GeminiAPIKey, ai.DefaultModel)
		if err != nil {
			op.Close()
			return nil, err
		}
		analyzer := ai.NewAnalyzerFromModel(llm, breakers, log.WithName("gemini"))
		op.Gate = ai.NewGate(analyzer, keywords, log.WithName("ai"))
		op.Finder = ai.NewDirectoryFinder(llm, breakers, log.WithName("ai"))
	} else {
		log.Info("no gemini api key configured, schedule extraction uses the keyword path")
	}
	if opts.SearchAPIKey != "" && opts.SearchEngineID != "" {
		op.Searcher = discovery.NewSearchClient(opts.SearchAPIKey, opts.SearchEngineID)
	}
	if opts.StatusPort > 0 {
		op.Server = telemetry.NewServer(opts.StatusPort, tracker, log.WithName("status"))
	}

	log.Info("worker configured",
		"worker", opts.WorkerID,
		"role", opts.Role(),
		"pod", opts.PodName,
		"browserPool", browsers != nil,
		"aiGate", op.Gate != nil,
		"searchFallback", op.Searcher != nil,
		"statusPort", opts.StatusPort,
		"push", opts.PushEnabled())
	return op, nil
}

// Loops assembles the role loops for the configured worker type, in the
// order they run under the router.
func (o *Operator) Loops() []controllers.Loop {
	build := map[types.WorkerType]func() controllers.Loop{
		types.WorkerDiscovery:  o.discoveryLoop,
		types.WorkerExtraction: o.extractionLoop,
		types.WorkerSchedule:   o.scheduleLoop,
		types.WorkerReporting:  o.reportingLoop,
	}
	if o.Options.Role() == types.WorkerAll {
		return []controllers.Loop{
			build[types.WorkerDiscovery](),
			build[types.WorkerExtraction](),
			build[types.WorkerSchedule](),
			build[types.WorkerReporting](),
		}
	}
	return []controllers.Loop{build[o.Options.Role()]()}
}

func (o *Operator) discoveryLoop() controllers.Loop {
	discoveryOpts := []discovery.Option{}
	if o.Finder != nil {
		discoveryOpts = append(discoveryOpts, discovery.WithFinder(o.Finder))
	}
	if o.Searcher != nil {
		discoveryOpts = append(discoveryOpts, discovery.WithSearcher(o.Searcher))
	}
	return discovery.NewController(o.Store, o.Fetcher, o.Tracker, o.Log, discoveryOpts...)
}

func (o *Operator) extractionLoop() controllers.Loop {
	return extraction.NewController(o.Coordinator, o.Store, o.Fetcher, o.Tracker, o.Log,
		extraction.WithBatchSize(o.Options.BatchSize),
		extraction.WithMaxParishes(o.Options.MaxParishesPerDiocese))
}

func (o *Operator) scheduleLoop() controllers.Loop {
	scheduleOpts := []schedule.Option{schedule.WithBatchSize(o.Options.NumParishesForSchedule)}
	if o.Gate != nil {
		scheduleOpts = append(scheduleOpts, schedule.WithGate(o.Gate))
	}
	return schedule.NewController(o.Prioritizer, o.Frontier, o.Fetcher, o.Keywords, o.Store, o.Tracker, o.Log, scheduleOpts...)
}

func (o *Operator) reportingLoop() controllers.Loop {
	return reporting.NewController(o.Store, o.Coordinator, o.Tracker, o.Log)
}

// Run drives the worker until ctx ends or the heartbeat is lost. The
// returned error decides the exit code: nil for a clean stop, a cancellation
// or coordinator.ErrHeartbeatLost for exit 2, anything else for exit 1.
func (o *Operator) Run(ctx context.Context) error {
	ctx = logr.NewContext(ctx, o.Log)
	if o.Options.OriginPolicyFile != "" {
		if err := o.Policies.Watch(ctx, o.Options.OriginPolicyFile); err != nil {
			o.Log.Error(err, "origin policy hot reload unavailable")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		o.Keywords.Run(gctx, o.Log.WithName("keywords"), o.Store.ListScheduleKeywords, extract.KeywordRefreshInterval)
		return nil
	})
	g.Go(func() error {
		o.Suppressions.Run(gctx, o.Log.WithName("suppression"), o.Store.ListSuppressions, suppressionRefreshInterval)
		return nil
	})
	if o.Pusher != nil {
		g.Go(func() error { return o.Pusher.Run(gctx) })
	}
	if o.Server != nil {
		g.Go(func() error { return o.Server.Run(gctx) })
	}
	router := controllers.NewRouter(o.Coordinator, o.Tracker, o.Log.WithName("router"), o.Loops())
	g.Go(func() error {
		// The router exiting ends the worker regardless of why.
		defer cancel()
		return router.Run(gctx)
	})
	return g.Wait()
}

// Close releases the operator's resources in reverse construction order.
// Safe to call after a partially failed construction.
func (o *Operator) Close() {
	if o.Browsers != nil {
		o.Browsers.Close()
	}
	if o.Store != nil {
		if err := o.Store.Close(); err != nil {
			o.Log.Error(err, "closing database")
		}
	}
	if o.zl != nil {
		_ = o.zl.Sync()
	}
}

// ExitCode maps a Run error onto the process exit contract: 0 clean, 2 for
// cancellation or a lost heartbeat, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, coordinator.ErrHeartbeatLost):
		return 2
	case dverrors.IsCancelled(err) || errors.Is(err, context.DeadlineExceeded):
		return 2
	default:
		return 1
	}
}

func newZapLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	level, err := zapcore.ParseLevel(env.WithDefaultString("LOG_LEVEL", "info"))
	if err == nil {
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build()
}
