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
	"net/url"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/frontier"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

// Acceptance threshold bounds and adjustments. The threshold drops where the
// page context makes a schedule likely and rises on promotional pages, so
// low-confidence results on cathedral schedule pages still land while
// marketing copy does not.
const (
	BaseThreshold = 15
	MinThreshold  = 3
	MaxThreshold  = 60

	cathedralAdjust   = -10
	dedicatedAdjust   = -7
	keywordRichAdjust = -5
	promotionalAdjust = 10

	// keywordRichCount is how many schedule keywords a page needs before it
	// counts as keyword-rich.
	keywordRichCount = 3
)

// Threshold computes the adaptive acceptance threshold for one candidate
// page from its URL and the page's schedule keyword count.
func (g *Gate) Threshold(rawURL string, keywordCount int) int {
	t := BaseThreshold
	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	hasSchedule := frontier.PathHasAny(u, frontier.DedicatedTokens) || g.keywords.MatchesTokens(urlx.PathTokens(u))
	if frontier.PathHasAny(u, frontier.CathedralTokens) || frontier.HostHasAny(u, frontier.CathedralTokens) {
		t += cathedralAdjust
	}
	if frontier.PathHasAny(u, frontier.DedicatedTokens) {
		t += dedicatedAdjust
	}
	if keywordCount >= keywordRichCount {
		t += keywordRichAdjust
	}
	if frontier.PathHasAny(u, frontier.WeakTokens) && !hasSchedule {
		t += promotionalAdjust
	}
	if t < MinThreshold {
		t = MinThreshold
	}
	if t > MaxThreshold {
		t = MaxThreshold
	}
	return t
}
