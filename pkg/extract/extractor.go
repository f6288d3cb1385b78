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

package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// Time-of-day patterns that qualify a text block as an actual schedule rather
// than prose that merely mentions a sacrament.
var (
	clockTwelveHour = regexp.MustCompile(`(?i)\b\d{1,2}(:\d{2})?\s*(a|p)\.?m\.?\b`)
	clockTwentyFour = regexp.MustCompile(`\b([01]?\d|2[0-3]):[0-5]\d\b`)
	relativeToMass  = regexp.MustCompile(`(?i)\b(after|before|following)\s+(each\s+|every\s+|the\s+)?mass(es)?\b`)
	byAppointment   = regexp.MustCompile(`(?i)\bby\s+appointment\b`)
)

// HasTimePattern reports whether text contains something that reads like a
// scheduled time.
func HasTimePattern(text string) bool {
	return clockTwelveHour.MatchString(text) ||
		clockTwentyFour.MatchString(text) ||
		relativeToMass.MatchString(text) ||
		byAppointment.MatchString(text)
}

// Extraction is one successful keyword extraction: the matched text and the
// method that produced it. Keyword extractions carry no confidence score.
type Extraction struct {
	FactType types.FactType
	Value    string
	Method   types.ExtractionMethod
}

// maxFactValueLength keeps ledger rows readable when a match lands on a
// sprawling block.
const maxFactValueLength = 1200

// Extractor is the traditional keyword path, used when the AI analyzer is
// unavailable. A block qualifies when it contains at least one positive
// keyword for the fact type, no negative keyword, and a time-like pattern.
type Extractor struct {
	keywords *KeywordSet
}

func NewExtractor(keywords *KeywordSet) *Extractor {
	return &Extractor{keywords: keywords}
}

// Extract scans cleaned page text block by block. Blocks are the
// double-newline sections CleanDocument produces, which track the page's
// heading and paragraph structure. The first qualifying block wins.
func (e *Extractor) Extract(cleaned string, ft types.FactType) (*Extraction, bool) {
	for _, block := range splitBlocks(cleaned) {
		if e.qualifies(block, ft) {
			return &Extraction{
				FactType: ft,
				Value:    truncate(block),
				Method:   types.MethodKeyword,
			}, true
		}
	}
	return nil, false
}

// ExtractSimple applies the same predicate to the whole page at once. It is
// the coarser fallback when block structure was lost, and tags its result
// with the simple method so downstream consumers can weigh it accordingly.
func (e *Extractor) ExtractSimple(cleaned string, ft types.FactType) (*Extraction, bool) {
	if !e.qualifies(cleaned, ft) {
		return nil, false
	}
	return &Extraction{
		FactType: ft,
		Value:    truncate(relevantLines(cleaned, e.keywords.PositiveFor(ft))),
		Method:   types.MethodKeywordSimple,
	}, true
}

// ExtractAll runs Extract for every fact type, falling back to ExtractSimple
// per type when block scoping found nothing.
func (e *Extractor) ExtractAll(cleaned string) []Extraction {
	var out []Extraction
	for _, ft := range types.AllFactTypes() {
		if ex, ok := e.Extract(cleaned, ft); ok {
			out = append(out, *ex)
			continue
		}
		if ex, ok := e.ExtractSimple(cleaned, ft); ok {
			out = append(out, *ex)
		}
	}
	return out
}

// Row converts an extraction to its append-only ledger row.
func (ex *Extraction) Row(parishID int64, sourceURL string) *types.ParishData {
	return &types.ParishData{
		ParishID:         parishID,
		FactType:         ex.FactType,
		FactValue:        ex.Value,
		ExtractionMethod: ex.Method,
		SourceURL:        sourceURL,
		ExtractedAt:      time.Now(),
	}
}

func (e *Extractor) qualifies(text string, ft types.FactType) bool {
	lower := strings.ToLower(text)
	matched := false
	for _, w := range e.keywords.PositiveFor(ft) {
		if strings.Contains(lower, w) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	for _, w := range e.keywords.NegativeFor(ft) {
		if strings.Contains(lower, w) {
			return false
		}
	}
	return HasTimePattern(text)
}

func splitBlocks(cleaned string) []string {
	raw := strings.Split(cleaned, "\n\n")
	out := make([]string, 0, len(raw))
	for _, b := range raw {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

// relevantLines keeps only the lines of a whole-page match that mention a
// keyword or a time, so the simple method does not persist entire pages.
func relevantLines(cleaned string, positives []string) string {
	var kept []string
	for _, line := range strings.Split(cleaned, "\n") {
		lower := strings.ToLower(line)
		keep := HasTimePattern(line)
		if !keep {
			for _, w := range positives {
				if strings.Contains(lower, w) {
					keep = true
					break
				}
			}
		}
		if keep {
			kept = append(kept, strings.TrimSpace(line))
		}
	}
	return strings.Join(kept, "\n")
}

func truncate(s string) string {
	if len(s) > maxFactValueLength {
		return s[:maxFactValueLength]
	}
	return s
}
