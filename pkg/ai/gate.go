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

// Package ai wraps the schedule analyzer in a confidence gate. The gate turns
// a model call into a pure decision: either a trustworthy schedule record or
// nothing, so downstream code never persists speculative output.
package ai

import (
	"context"
	"strings"
	"time"

	"github.com/go-logr/logr"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/extract"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// Analyzer extracts a structured schedule record from cleaned page text.
type Analyzer interface {
	Analyze(ctx context.Context, cleaned string, parish types.Parish, factType types.FactType) (*Result, error)
}

// Evaluation is the gate's verdict on one page for one fact type. Result is
// nil when the analyzer produced nothing usable.
type Evaluation struct {
	Result       *Result
	Threshold    int
	KeywordCount int
	Accepted     bool
}

// Row materializes the accepted result as a fact row. Returns nil unless the
// evaluation accepted.
func (e *Evaluation) Row(parishID int64, factType types.FactType, sourceURL string) *types.ParishData {
	if !e.Accepted || e.Result == nil {
		return nil
	}
	confidence := e.Result.Confidence
	return &types.ParishData{
		ParishID:         parishID,
		FactType:         factType,
		FactValue:        e.Result.FactValue(),
		ExtractionMethod: types.MethodAIGemini,
		ConfidenceScore:  &confidence,
		AIStructuredData: e.Result.Canonical(),
		SourceURL:        sourceURL,
		ExtractedAt:      time.Now(),
	}
}

// FactValue renders the human-readable fact text. Schedule details win;
// otherwise the days and times are joined.
func (r *Result) FactValue() string {
	if r.ScheduleDetails != "" {
		return r.ScheduleDetails
	}
	parts := make([]string, 0, 2)
	if len(r.DaysOffered) > 0 {
		parts = append(parts, strings.Join(r.DaysOffered, ", "))
	}
	if len(r.Times) > 0 {
		parts = append(parts, strings.Join(r.Times, ", "))
	}
	return strings.Join(parts, " at ")
}

// Gate applies the adaptive confidence threshold around an Analyzer.
type Gate struct {
	analyzer Analyzer
	keywords *extract.KeywordSet
	log      logr.Logger
}

func NewGate(analyzer Analyzer, keywords *extract.KeywordSet, log logr.Logger) *Gate {
	return &Gate{analyzer: analyzer, keywords: keywords, log: log}
}

// Evaluate runs the analyzer on one page and decides acceptance. An analyzer
// that returns undecodable output yields a non-accepted evaluation rather
// than an error; transport, quota and breaker failures propagate so the
// caller can fall back to keyword extraction.
func (g *Gate) Evaluate(ctx context.Context, sourceURL, cleaned string, parish types.Parish, factType types.FactType) (*Evaluation, error) {
	keywordCount := g.keywords.CountMatches(cleaned)
	eval := &Evaluation{
		Threshold:    g.Threshold(sourceURL, keywordCount),
		KeywordCount: keywordCount,
	}
	thresholdApplied.Observe(float64(eval.Threshold))

	res, err := g.analyzer.Analyze(ctx, cleaned, parish, factType)
	if err != nil {
		if dverrors.Is(err, dverrors.KindInvalidOutput) {
			g.log.V(1).Info("analyzer output unusable", "parish", parish.ID, "factType", factType, "error", err.Error())
			gateDecisions.WithLabelValues(string(factType), "none").Inc()
			return eval, nil
		}
		return nil, err
	}

	eval.Result = res
	eval.Accepted = res.Confidence >= eval.Threshold && res.HasWeeklySchedule && res.HasDaysOrTimes()
	verdict := "rejected"
	if eval.Accepted {
		verdict = "accepted"
	}
	gateDecisions.WithLabelValues(string(factType), verdict).Inc()
	confidenceReported.Observe(float64(res.Confidence))
	return eval, nil
}
