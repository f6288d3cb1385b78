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

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// UpsertDiscoveredURL persists a discovery score on first sight. Scores are
// immutable afterwards; returning candidates keep their original score.
func (c *Client) UpsertDiscoveredURL(ctx context.Context, parishID int64, url string, score int) error {
	start := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO discovered_urls (parish_id, url, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (parish_id, url) DO NOTHING`,
		parishID, url, score)
	observeOp("upsert_discovered_url", start, err)
	if err != nil {
		return fmt.Errorf("recording discovery of %s for parish %d, %w", url, parishID, classify(err))
	}
	return nil
}

// RecordVisit writes one visit outcome into the ledger. visit_count only
// grows, one per call; last_successful_visit moves only on usable content.
// The row is created on the fly for URLs fetched outside discovery.
func (c *Client) RecordVisit(ctx context.Context, parishID int64, url string, outcome types.VisitOutcome) error {
	start := time.Now()
	errorType := outcome.Label
	if errorType == "ok" {
		errorType = ""
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO discovered_urls (parish_id, url, score, visited_at,
			http_status, response_time_ms, content_type, content_size_bytes,
			extraction_success, schedule_data_found, schedule_keywords_count,
			error_type, error_message, quality_score, visit_count, last_successful_visit)
		VALUES ($1, $2, 0, now(), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1,
			CASE WHEN $13 THEN now() END)
		ON CONFLICT (parish_id, url) DO UPDATE SET
			visited_at = now(),
			http_status = EXCLUDED.http_status,
			response_time_ms = EXCLUDED.response_time_ms,
			content_type = EXCLUDED.content_type,
			content_size_bytes = EXCLUDED.content_size_bytes,
			extraction_success = EXCLUDED.extraction_success,
			schedule_data_found = EXCLUDED.schedule_data_found,
			schedule_keywords_count = EXCLUDED.schedule_keywords_count,
			error_type = EXCLUDED.error_type,
			error_message = EXCLUDED.error_message,
			quality_score = EXCLUDED.quality_score,
			visit_count = discovered_urls.visit_count + 1,
			last_successful_visit = CASE WHEN $13 THEN now()
				ELSE discovered_urls.last_successful_visit END`,
		parishID, url,
		nullableInt(outcome.HTTPStatus), outcome.ResponseTime.Milliseconds(),
		outcome.ContentType, outcome.ContentBytes,
		outcome.ExtractionSuccess, outcome.ScheduleDataFound, outcome.ScheduleKeywordsCount,
		errorType, outcome.ErrorMessage, outcome.QualityScore,
		outcome.Usable)
	observeOp("record_visit", start, err)
	if err != nil {
		return fmt.Errorf("recording visit of %s for parish %d, %w", url, parishID, classify(err))
	}
	return nil
}

func (c *Client) ListDiscoveredURLs(ctx context.Context, parishID int64) ([]types.DiscoveredURL, error) {
	var out []types.DiscoveredURL
	err := c.db.SelectContext(ctx, &out, `
		SELECT * FROM discovered_urls
		WHERE parish_id = $1
		ORDER BY score DESC, length(url), url`, parishID)
	if err != nil {
		return nil, fmt.Errorf("listing discovered urls of parish %d, %w", parishID, classify(err))
	}
	return out, nil
}

func nullableInt(v int) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
