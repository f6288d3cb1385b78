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

// UpsertParish inserts a parish by its (diocese, normalized name, normalized
// street) identity, merging on collision: incoming non-empty fields win,
// existing values survive empty ones, cathedral status is sticky. The row id
// is written back to p.
func (c *Client) UpsertParish(ctx context.Context, p *types.Parish) error {
	start := time.Now()
	p.Normalize()
	err := c.db.QueryRowxContext(ctx, `
		INSERT INTO parishes (diocese_id, name, street, city, state, zip, phone, website,
			normalized_name, normalized_street, is_cathedral)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (diocese_id, normalized_name, normalized_street) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), parishes.name),
			street = COALESCE(NULLIF(EXCLUDED.street, ''), parishes.street),
			city = COALESCE(NULLIF(EXCLUDED.city, ''), parishes.city),
			state = COALESCE(NULLIF(EXCLUDED.state, ''), parishes.state),
			zip = COALESCE(NULLIF(EXCLUDED.zip, ''), parishes.zip),
			phone = COALESCE(NULLIF(EXCLUDED.phone, ''), parishes.phone),
			website = COALESCE(NULLIF(EXCLUDED.website, ''), parishes.website),
			is_cathedral = parishes.is_cathedral OR EXCLUDED.is_cathedral,
			updated_at = now()
		RETURNING id`,
		p.DioceseID, p.Name, p.Street, p.City, p.State, p.Zip, p.Phone, p.Website,
		p.NormalizedName, p.NormalizedStreet, p.IsCathedral).Scan(&p.ID)
	observeOp("upsert_parish", start, err)
	if err != nil {
		return fmt.Errorf("upserting parish %q in diocese %d, %w", p.Name, p.DioceseID, classify(err))
	}
	return nil
}

func (c *Client) ListParishes(ctx context.Context, dioceseID int64) ([]types.Parish, error) {
	var out []types.Parish
	err := c.db.SelectContext(ctx, &out,
		`SELECT * FROM parishes WHERE diocese_id = $1 ORDER BY id`, dioceseID)
	if err != nil {
		return nil, fmt.Errorf("listing parishes of diocese %d, %w", dioceseID, classify(err))
	}
	return out, nil
}

// AppendParishData appends one fact row. No dedupe: repeated extractions
// preserve history.
func (c *Client) AppendParishData(ctx context.Context, row *types.ParishData) error {
	start := time.Now()
	if row.ExtractedAt.IsZero() {
		row.ExtractedAt = time.Now()
	}
	err := c.db.QueryRowxContext(ctx, `
		INSERT INTO parish_data (parish_id, fact_type, fact_value, extraction_method,
			confidence_score, ai_structured_data, source_url, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		row.ParishID, row.FactType, row.FactValue, row.ExtractionMethod,
		row.ConfidenceScore, row.AIStructuredData, row.SourceURL, row.ExtractedAt).Scan(&row.ID)
	observeOp("append_parish_data", start, err)
	if err != nil {
		return fmt.Errorf("appending %s fact for parish %d, %w", row.FactType, row.ParishID, classify(err))
	}
	return nil
}

// ListUnvisitedParishes returns parishes with no facts and no ledger rows,
// the first prioritization band.
func (c *Client) ListUnvisitedParishes(ctx context.Context, limit int) ([]types.Parish, error) {
	var out []types.Parish
	err := c.db.SelectContext(ctx, &out, `
		SELECT p.* FROM parishes p
		WHERE NOT EXISTS (SELECT 1 FROM parish_data d WHERE d.parish_id = p.id)
		  AND NOT EXISTS (SELECT 1 FROM discovered_urls u WHERE u.parish_id = p.id)
		ORDER BY p.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unvisited parishes, %w", classify(err))
	}
	return out, nil
}

// ListStaleParishes returns parishes whose newest fact predates cutoff,
// oldest first.
func (c *Client) ListStaleParishes(ctx context.Context, cutoff time.Time, limit int) ([]types.Parish, error) {
	var out []types.Parish
	err := c.db.SelectContext(ctx, &out, `
		SELECT p.* FROM parishes p
		JOIN parish_data d ON d.parish_id = p.id
		GROUP BY p.id
		HAVING MAX(d.extracted_at) < $1
		ORDER BY MAX(d.extracted_at)
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale parishes, %w", classify(err))
	}
	return out, nil
}

// ListRetryParishes returns parishes that have ledger rows but no successful
// visit. Parishes visited after since sort last so recent failures are not
// hammered again.
func (c *Client) ListRetryParishes(ctx context.Context, since time.Time, limit int) ([]types.Parish, error) {
	var out []types.Parish
	err := c.db.SelectContext(ctx, &out, `
		SELECT p.* FROM parishes p
		JOIN discovered_urls u ON u.parish_id = p.id
		WHERE NOT EXISTS (
			SELECT 1 FROM discovered_urls s
			WHERE s.parish_id = p.id AND s.last_successful_visit IS NOT NULL
		)
		GROUP BY p.id
		ORDER BY (MAX(u.visited_at) >= $1) ASC NULLS FIRST, MAX(u.visited_at) ASC NULLS FIRST
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing retry parishes, %w", classify(err))
	}
	return out, nil
}
