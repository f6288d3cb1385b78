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

package options

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/env"
)

// Options for running this binary. Every flag defaults from an environment
// variable so deployments can configure workers without templating argv.
// Credentials are environment-only and never appear in flag usage output.
type Options struct {
	*flag.FlagSet
	// Role selection
	WorkerType string
	// Work sizing
	MaxParishesPerDiocese  int
	NumParishesForSchedule int
	PoolSize               int
	BatchSize              int
	// Telemetry
	MonitoringURL     string
	DisableMonitoring bool
	StatusPort        int
	// Persistence
	ApplyMigrations bool
	// Fetch
	OriginPolicyFile string

	// Environment-only
	DatabaseURL    string
	GeminiAPIKey   string
	SearchAPIKey   string
	SearchEngineID string
	PodName        string
	WorkerID       string
}

// New creates an Options struct and registers CLI flags and environment
// variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("diocesan-vitality", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.WorkerType, "worker-type", env.WithDefaultString("WORKER_TYPE", string(types.WorkerAll)), "Which role loops this worker runs: discovery, extraction, schedule, reporting, or all")
	f.IntVar(&opts.MaxParishesPerDiocese, "max-parishes-per-diocese", env.WithDefaultInt("MAX_PARISHES_PER_DIOCESE", 0), "Cap on parishes extracted per diocese. Zero means unlimited")
	f.IntVar(&opts.NumParishesForSchedule, "num-parishes-for-schedule", env.WithDefaultInt("NUM_PARISHES_FOR_SCHEDULE", 100), "How many prioritized parishes one schedule iteration works through")
	f.IntVar(&opts.PoolSize, "pool-size", env.WithDefaultInt("POOL_SIZE", 4), "Size of the headless browser pool. Zero disables JavaScript rendering")
	f.IntVar(&opts.BatchSize, "batch-size", env.WithDefaultInt("BATCH_SIZE", 8), "Concurrent parish detail requests per diocese")
	f.StringVar(&opts.MonitoringURL, "monitoring-url", env.WithDefaultString("MONITORING_URL", ""), "Base URL of the monitoring endpoint receiving NDJSON event pushes. Empty disables pushing")
	f.BoolVar(&opts.DisableMonitoring, "disable-monitoring", env.WithDefaultBool("DISABLE_MONITORING", false), "Disable telemetry pushing even when a monitoring URL is configured")
	f.IntVar(&opts.StatusPort, "status-port", env.WithDefaultInt("STATUS_PORT", 8080), "Port for the worker's local status server. Zero disables it")
	f.BoolVar(&opts.ApplyMigrations, "apply-migrations", env.WithDefaultBool("APPLY_MIGRATIONS", false), "Apply embedded schema migrations on startup. Production applies migrations externally")
	f.StringVar(&opts.OriginPolicyFile, "origin-policy-file", env.WithDefaultString("ORIGIN_POLICY_FILE", ""), "Optional YAML file of per-origin fetch policy overrides, hot-reloaded on change")

	opts.DatabaseURL = env.WithDefaultString("DATABASE_URL", "")
	opts.GeminiAPIKey = env.WithDefaultString("GEMINI_API_KEY", "")
	opts.SearchAPIKey = env.WithDefaultString("SEARCH_API_KEY", "")
	opts.SearchEngineID = env.WithDefaultString("SEARCH_ENGINE_ID", "")
	opts.PodName = env.WithDefaultString("POD_NAME", "")
	opts.WorkerID = env.WithDefaultString("WORKER_ID", fmt.Sprintf("worker-%s", uuid.NewString()))
	return opts
}

// MustParse reads the user passed flags, environment variables, and default
// values. Invalid configuration is an unrecoverable startup error, so the
// process exits 1 rather than returning.
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err == nil {
		err = o.Validate()
	}
	if err != nil {
		fmt.Fprintln(o.Output(), err)
		os.Exit(1)
	}
	return o
}

func (o Options) Validate() (err error) {
	if !o.Role().Valid() {
		err = multierr.Append(err, fmt.Errorf("worker-type %q may only be one of discovery, extraction, schedule, reporting or all", o.WorkerType))
	}
	if o.MaxParishesPerDiocese < 0 {
		err = multierr.Append(err, fmt.Errorf("max-parishes-per-diocese cannot be negative"))
	}
	if o.NumParishesForSchedule <= 0 {
		err = multierr.Append(err, fmt.Errorf("num-parishes-for-schedule must be positive"))
	}
	if o.PoolSize < 0 {
		err = multierr.Append(err, fmt.Errorf("pool-size cannot be negative"))
	}
	if o.BatchSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("batch-size must be positive"))
	}
	if o.StatusPort < 0 || o.StatusPort > 65535 {
		err = multierr.Append(err, fmt.Errorf("status-port must be between 0 and 65535"))
	}
	err = multierr.Append(err, o.validateMonitoringURL())
	if o.DatabaseURL == "" {
		err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required"))
	}
	return err
}

func (o Options) validateMonitoringURL() error {
	if o.MonitoringURL == "" {
		return nil
	}
	endpoint, err := url.Parse(o.MonitoringURL)
	// url.Parse() will accept a lot of input without error; make
	// sure it's a real URL
	if err != nil || !endpoint.IsAbs() || endpoint.Hostname() == "" {
		return fmt.Errorf("%q is not a valid monitoring URL", o.MonitoringURL)
	}
	return nil
}

// Role returns the worker type as its domain type.
func (o Options) Role() types.WorkerType {
	return types.WorkerType(o.WorkerType)
}

// PushEnabled reports whether telemetry events should be pushed upstream.
func (o Options) PushEnabled() bool {
	return o.MonitoringURL != "" && !o.DisableMonitoring
}
