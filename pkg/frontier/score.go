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

package frontier

import (
	"context"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

// Scorer is an injected ML prediction over a candidate URL and its page
// context, returning a relevance probability in [0, 1]. A nil Scorer
// contributes nothing.
type Scorer func(ctx context.Context, rawURL string, pageContext string) float64

// MaxScore caps a candidate's discovery score.
const MaxScore = 100

// Score weights per signal.
const (
	dedicatedTokenPoints = 40
	cathedralTokenPoints = 20
	anchorKeywordPoints  = 10
	mlSignalPoints       = 15
	mlSignalFloor        = 0.5
)

// DedicatedTokens mark URLs that exist to publish a schedule.
var DedicatedTokens = []string{
	"mass-times", "masstimes", "mass-schedule", "massschedule",
	"schedule", "schedules", "mass", "masses",
	"confession", "confessions", "reconciliation", "adoration",
	"worship-times", "liturgy",
}

// CathedralTokens mark cathedrals, basilicas and shrines, which publish the
// richest schedules in a diocese.
var CathedralTokens = []string{"cathedral", "basilica", "shrine", "co-cathedral"}

// WeakTokens mark promotional and events-list pages. They pass the relevance
// filter without contributing score; event and bulletin pages bury schedule
// lines often enough to stay worth a low-priority visit.
var WeakTokens = []string{"events", "event", "calendar", "bulletin", "bulletins", "news", "parish-life"}

// PathHasAny reports whether the URL path carries any of the tokens.
// Hyphenated tokens match as path substrings; plain tokens match whole path
// segments, so "mass" does not fire on "massachusetts".
func PathHasAny(u *url.URL, tokens []string) bool {
	path := strings.ToLower(u.EscapedPath())
	parts := urlx.PathTokens(u)
	for _, tok := range tokens {
		if strings.Contains(tok, "-") {
			if strings.Contains(path, tok) {
				return true
			}
			continue
		}
		if lo.Contains(parts, tok) {
			return true
		}
	}
	return false
}

// HostHasAny reports whether the URL host carries any of the tokens.
func HostHasAny(u *url.URL, tokens []string) bool {
	host := strings.ToLower(u.Host)
	for _, tok := range tokens {
		if strings.Contains(host, strings.ReplaceAll(tok, "-", "")) || strings.Contains(host, tok) {
			return true
		}
	}
	return false
}

// scoreCandidate computes the discovery score of one candidate from its URL,
// its anchor text, and the optional ML signal.
func (f *Frontier) scoreCandidate(ctx context.Context, u *url.URL, anchor string) int {
	score := 0
	if PathHasAny(u, DedicatedTokens) {
		score += dedicatedTokenPoints
	}
	if PathHasAny(u, CathedralTokens) || HostHasAny(u, CathedralTokens) {
		score += cathedralTokenPoints
	}
	if anchor != "" {
		score += anchorKeywordPoints * f.keywords.CountMatches(anchor)
	}
	if f.scorer != nil {
		if ml := f.scorer(ctx, u.String(), anchor); ml >= mlSignalFloor {
			score += int(mlSignalPoints*ml + 0.5)
		}
	}
	if score > MaxScore {
		score = MaxScore
	}
	return score
}
