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

package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/breaker"
	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

const (
	// DefaultModel balances extraction quality against per-page cost.
	DefaultModel = "gemini-1.5-flash"

	// attemptTimeout bounds one model call.
	attemptTimeout = 30 * time.Second

	// maxQuotaAttempts is the total number of calls permitted while the
	// provider reports quota exhaustion.
	maxQuotaAttempts = 4

	maxOutputTokens = 2048
)

// GeminiAnalyzer implements Analyzer on the Gemini API. All calls run under
// the ai_content_analysis breaker; quota exhaustion backs off exponentially
// before counting as defeat.
type GeminiAnalyzer struct {
	llm      llms.Model
	breakers *breaker.Registry
	log      logr.Logger

	// backoffUnit scales the quota backoff; one unit doubles per attempt.
	backoffUnit time.Duration
}

// GeminiOption tunes a GeminiAnalyzer at construction.
type GeminiOption func(*GeminiAnalyzer)

// WithBackoffUnit overrides the base quota backoff interval.
func WithBackoffUnit(d time.Duration) GeminiOption {
	return func(a *GeminiAnalyzer) { a.backoffUnit = d }
}

// NewClient dials the Gemini API and returns the shared model handle. One
// client serves both the analyzer and the directory finder so quota and
// breaker state stay coherent.
func NewClient(ctx context.Context, apiKey, model string) (llms.Model, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if model == "" {
		model = DefaultModel
	}
	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("constructing gemini client, %w", err)
	}
	return llm, nil
}

// NewAnalyzerFromModel wraps an already constructed model, which keeps the
// analyzer plumbing independent of the Gemini transport.
func NewAnalyzerFromModel(llm llms.Model, breakers *breaker.Registry, log logr.Logger, opts ...GeminiOption) *GeminiAnalyzer {
	a := &GeminiAnalyzer{
		llm:         llm,
		breakers:    breakers,
		log:         log,
		backoffUnit: time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze extracts one structured schedule record. Undecodable output gets
// one repair attempt; a second decode failure surfaces as KindInvalidOutput.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, cleaned string, parish types.Parish, factType types.FactType) (*Result, error) {
	raw, err := a.generate(ctx, BuildPrompt(cleaned, parish, factType))
	if err != nil {
		return nil, err
	}
	res, parseErr := ParseResult(raw)
	if parseErr == nil {
		return res, nil
	}

	a.log.V(1).Info("repairing analyzer output", "parish", parish.ID, "factType", factType, "error", parseErr.Error())
	repairsTotal.Inc()
	repaired, err := a.generate(ctx, BuildRepairPrompt(raw))
	if err != nil {
		return nil, err
	}
	return ParseResult(repaired)
}

// generate performs one prompt exchange, retrying quota exhaustion with a
// doubling backoff.
func (a *GeminiAnalyzer) generate(ctx context.Context, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		started := time.Now()
		out, err := breaker.Do(ctx, a.breakers, breaker.AIContentAnalysis, func() (string, error) {
			callCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
			defer cancel()
			raw, callErr := llms.GenerateFromSinglePrompt(callCtx, a.llm, prompt,
				llms.WithTemperature(0.0), llms.WithMaxTokens(maxOutputTokens))
			return raw, classifyModelError(callErr)
		})
		callDuration.Observe(time.Since(started).Seconds())
		if err == nil {
			return out, nil
		}
		if !dverrors.Is(err, dverrors.KindResourceExhausted) || attempt+1 >= maxQuotaAttempts {
			return "", err
		}
		backoff := a.backoffUnit << attempt
		quotaBackoffs.Inc()
		a.log.V(1).Info("model quota exhausted, backing off", "attempt", attempt+1, "backoff", backoff.String())
		select {
		case <-ctx.Done():
			return "", dverrors.Wrap(dverrors.KindCancelled, ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// classifyModelError folds provider errors into the pipeline taxonomy.
// Already classified errors pass through.
func classifyModelError(err error) error {
	if err == nil {
		return nil
	}
	if dverrors.KindOf(err) != dverrors.KindUnknown {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "quota", "resource_exhausted", "resource exhausted", "rate limit"} {
		if strings.Contains(msg, marker) {
			return dverrors.Wrap(dverrors.KindResourceExhausted, err)
		}
	}
	return dverrors.Wrap(dverrors.KindTransportError, err)
}
