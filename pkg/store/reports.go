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

package store

import (
	"context"
	"fmt"
	"time"
)

// Summary is a point-in-time rollup of pipeline coverage, produced by the
// reporting role and pushed to the monitoring endpoint.
type Summary struct {
	GeneratedAt      time.Time `db:"-" json:"generated_at"`
	Dioceses         int64     `db:"dioceses" json:"dioceses"`
	DirectoriesFound int64     `db:"directories_found" json:"directories_found"`
	Parishes         int64     `db:"parishes" json:"parishes"`
	Facts            int64     `db:"facts" json:"facts"`
	AIFacts          int64     `db:"ai_facts" json:"ai_facts"`
	VisitedURLs      int64     `db:"visited_urls" json:"visited_urls"`
	ActiveWorkers    int64     `db:"active_workers" json:"active_workers"`
}

// Summarize computes the coverage rollup in a single round trip.
func (c *Client) Summarize(ctx context.Context) (*Summary, error) {
	start := time.Now()
	var s Summary
	err := c.db.GetContext(ctx, &s, `
		SELECT
			(SELECT COUNT(*) FROM dioceses) AS dioceses,
			(SELECT COUNT(*) FROM parish_directories WHERE found) AS directories_found,
			(SELECT COUNT(*) FROM parishes) AS parishes,
			(SELECT COUNT(*) FROM parish_data) AS facts,
			(SELECT COUNT(*) FROM parish_data WHERE extraction_method = 'ai_gemini') AS ai_facts,
			(SELECT COUNT(*) FROM discovered_urls WHERE visited_at IS NOT NULL) AS visited_urls,
			(SELECT COUNT(*) FROM pipeline_workers WHERE status = 'active') AS active_workers`)
	observeOp("summarize", start, err)
	if err != nil {
		return nil, fmt.Errorf("summarizing pipeline coverage, %w", classify(err))
	}
	s.GeneratedAt = time.Now().UTC()
	return &s, nil
}
