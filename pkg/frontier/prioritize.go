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
	"time"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/utils/urlx"
)

const (
	// StaleAfter is how old a parish's newest fact may grow before the
	// parish is rescheduled for extraction.
	StaleAfter = 30 * 24 * time.Hour
	// RetryWindow deprioritizes parishes that were visited unsuccessfully
	// this recently; they go last rather than being hammered again.
	RetryWindow = 7 * 24 * time.Hour
)

// ParishSource provides the three prioritization bands from the store, each
// already ordered within itself.
type ParishSource interface {
	// ListUnvisitedParishes returns parishes with no facts and no ledger rows.
	ListUnvisitedParishes(ctx context.Context, limit int) ([]types.Parish, error)
	// ListStaleParishes returns parishes whose newest fact predates cutoff.
	ListStaleParishes(ctx context.Context, cutoff time.Time, limit int) ([]types.Parish, error)
	// ListRetryParishes returns parishes with ledger rows but no successful
	// visit, those attempted after since ordered last.
	ListRetryParishes(ctx context.Context, since time.Time, limit int) ([]types.Parish, error)
}

// HostFilter answers whether an entire host is suppressed.
type HostFilter interface {
	MatchHost(host string) (string, bool)
}

// Prioritizer assembles the next batch of parishes for the schedule role:
// never-visited parishes first, stale parishes next, recent failures last,
// with suppressed domains dropped.
type Prioritizer struct {
	source      ParishSource
	suppression HostFilter
}

func NewPrioritizer(source ParishSource, suppression HostFilter) *Prioritizer {
	return &Prioritizer{source: source, suppression: suppression}
}

// Next returns up to limit parishes in priority order.
func (p *Prioritizer) Next(ctx context.Context, limit int) ([]types.Parish, error) {
	now := time.Now()
	out := make([]types.Parish, 0, limit)
	seen := map[int64]struct{}{}

	appendBand := func(parishes []types.Parish) {
		for _, parish := range parishes {
			if len(out) >= limit {
				return
			}
			if _, dup := seen[parish.ID]; dup {
				continue
			}
			seen[parish.ID] = struct{}{}
			if p.suppressed(parish) {
				continue
			}
			out = append(out, parish)
		}
	}

	unvisited, err := p.source.ListUnvisitedParishes(ctx, limit)
	if err != nil {
		return nil, err
	}
	appendBand(unvisited)

	if len(out) < limit {
		stale, err := p.source.ListStaleParishes(ctx, now.Add(-StaleAfter), limit-len(out))
		if err != nil {
			return nil, err
		}
		appendBand(stale)
	}

	if len(out) < limit {
		retry, err := p.source.ListRetryParishes(ctx, now.Add(-RetryWindow), limit-len(out))
		if err != nil {
			return nil, err
		}
		appendBand(retry)
	}

	prioritizedBatch.Observe(float64(len(out)))
	return out, nil
}

func (p *Prioritizer) suppressed(parish types.Parish) bool {
	if p.suppression == nil {
		return false
	}
	host := urlx.Host(parish.Website)
	if host == "" {
		return false
	}
	_, match := p.suppression.MatchHost(host)
	return match
}
