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

// Package extract holds the schedule keyword table and the traditional
// keyword extraction path. The keyword table drives URL relevance in the
// frontier, the AI gate's content signals, and keyword extraction itself.
package extract

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/samber/lo"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// KeywordRefreshInterval is how often the keyword table is reloaded from the
// store while a worker runs.
const KeywordRefreshInterval = 15 * time.Minute

// KeywordSource loads the current keyword rows, typically from the store.
type KeywordSource func(ctx context.Context) ([]types.ScheduleKeyword, error)

// KeywordSet is the read-mostly view of the ScheduleKeywords table. The set is
// replaced wholesale on refresh so readers never observe a partial reload. An
// empty table falls back to the built-in defaults.
type KeywordSet struct {
	mu       sync.RWMutex
	positive map[types.FactType][]string
	negative map[types.FactType][]string
	// tokens is the deduplicated positive vocabulary in URL-token form,
	// used for path relevance matching.
	tokens []string
}

func NewKeywordSet() *KeywordSet {
	k := &KeywordSet{}
	k.Replace(nil)
	return k
}

// defaultKeywords seed the pipeline before the table has been populated and
// backstop an accidentally emptied table.
func defaultKeywords() []types.ScheduleKeyword {
	mk := func(ft types.FactType, negative bool, words ...string) []types.ScheduleKeyword {
		out := make([]types.ScheduleKeyword, 0, len(words))
		for _, w := range words {
			out = append(out, types.ScheduleKeyword{ScheduleType: ft, Keyword: w, IsNegative: negative})
		}
		return out
	}
	var rows []types.ScheduleKeyword
	rows = append(rows, mk(types.FactMass, false,
		"mass", "masses", "mass times", "mass schedule", "liturgy", "worship", "sunday mass", "daily mass", "holy day")...)
	rows = append(rows, mk(types.FactReconciliation, false,
		"reconciliation", "confession", "confessions", "penance", "sacrament of reconciliation")...)
	rows = append(rows, mk(types.FactAdoration, false,
		"adoration", "eucharistic adoration", "holy hour", "exposition", "blessed sacrament")...)
	// Generic page tokens that mark schedule-adjacent URLs without naming a
	// single fact type. Stored under Mass so they participate in relevance.
	rows = append(rows, mk(types.FactMass, false,
		"schedule", "schedules", "times", "hours", "parish life", "sacraments")...)
	for _, ft := range types.AllFactTypes() {
		rows = append(rows, mk(ft, true, "cancelled", "canceled", "suspended")...)
	}
	rows = append(rows, mk(types.FactReconciliation, true, "no confessions")...)
	return rows
}

// Replace swaps in a new table built from rows. Empty input restores the
// defaults.
func (k *KeywordSet) Replace(rows []types.ScheduleKeyword) {
	if len(rows) == 0 {
		rows = defaultKeywords()
	}
	positive := map[types.FactType][]string{}
	negative := map[types.FactType][]string{}
	tokenSet := map[string]struct{}{}
	for _, row := range rows {
		word := strings.ToLower(strings.TrimSpace(row.Keyword))
		if word == "" {
			continue
		}
		if row.IsNegative {
			negative[row.ScheduleType] = append(negative[row.ScheduleType], word)
			continue
		}
		positive[row.ScheduleType] = append(positive[row.ScheduleType], word)
		// "mass times" matches both the path token "mass-times" and either
		// word alone scoring anchor text, so index the phrase and its parts.
		tokenSet[strings.ReplaceAll(word, " ", "-")] = struct{}{}
		for _, part := range strings.Fields(word) {
			tokenSet[part] = struct{}{}
		}
	}
	tokens := lo.Keys(tokenSet)
	sort.Strings(tokens)
	k.mu.Lock()
	k.positive = positive
	k.negative = negative
	k.tokens = tokens
	k.mu.Unlock()
}

// PositiveFor returns the positive keywords of one fact type.
func (k *KeywordSet) PositiveFor(ft types.FactType) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.positive[ft]...)
}

// NegativeFor returns the veto keywords of one fact type.
func (k *KeywordSet) NegativeFor(ft types.FactType) []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.negative[ft]...)
}

// Tokens returns the full positive vocabulary in URL-token form.
func (k *KeywordSet) Tokens() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return append([]string(nil), k.tokens...)
}

// MatchesTokens reports whether any schedule token appears among the supplied
// URL path tokens.
func (k *KeywordSet) MatchesTokens(pathTokens []string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for _, t := range pathTokens {
		for _, token := range k.tokens {
			if t == token {
				return true
			}
		}
	}
	return false
}

// CountMatches counts distinct positive keywords present in text, across all
// fact types. Used for the ledger's schedule_keywords_count and the AI gate's
// content signal.
func (k *KeywordSet) CountMatches(text string) int {
	lower := strings.ToLower(text)
	k.mu.RLock()
	defer k.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, words := range k.positive {
		for _, w := range words {
			if _, dup := seen[w]; dup {
				continue
			}
			if strings.Contains(lower, w) {
				seen[w] = struct{}{}
			}
		}
	}
	return len(seen)
}

// Run refreshes the set from source every interval until ctx ends. The first
// refresh happens immediately.
func (k *KeywordSet) Run(ctx context.Context, log logr.Logger, source KeywordSource, interval time.Duration) {
	refresh := func() {
		rows, err := source(ctx)
		if err != nil {
			log.Error(err, "refreshing schedule keywords")
			return
		}
		k.Replace(rows)
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
