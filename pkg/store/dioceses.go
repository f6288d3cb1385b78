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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// UpsertDiocese inserts a diocese by its stable id. Diocese rows are
// immutable once created; re-inserts are silently absorbed.
func (c *Client) UpsertDiocese(ctx context.Context, d *types.Diocese) error {
	start := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO dioceses (id, name, address, website)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.Name, d.Address, d.Website)
	observeOp("upsert_diocese", start, err)
	if err != nil {
		return fmt.Errorf("upserting diocese %d, %w", d.ID, classify(err))
	}
	return nil
}

func (c *Client) GetDiocese(ctx context.Context, id int64) (*types.Diocese, error) {
	var d types.Diocese
	err := c.db.GetContext(ctx, &d, `SELECT * FROM dioceses WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading diocese %d, %w", id, classify(err))
	}
	return &d, nil
}

func (c *Client) ListDioceses(ctx context.Context) ([]types.Diocese, error) {
	var out []types.Diocese
	if err := c.db.SelectContext(ctx, &out, `SELECT * FROM dioceses ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing dioceses, %w", classify(err))
	}
	return out, nil
}

// ListDiocesesMissingDirectory returns dioceses with no directory row at all.
// Dioceses whose detection concluded found=false are not returned; they are
// retried only by explicit re-detection.
func (c *Client) ListDiocesesMissingDirectory(ctx context.Context, limit int) ([]types.Diocese, error) {
	var out []types.Diocese
	err := c.db.SelectContext(ctx, &out, `
		SELECT d.* FROM dioceses d
		WHERE NOT EXISTS (SELECT 1 FROM parish_directories pd WHERE pd.diocese_id = d.id)
		ORDER BY d.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dioceses missing directories, %w", classify(err))
	}
	return out, nil
}

// UpsertParishDirectory records the directory detection outcome for a
// diocese. Re-detection overwrites the previous row.
func (c *Client) UpsertParishDirectory(ctx context.Context, dir *types.ParishDirectory) error {
	start := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO parish_directories (diocese_id, url, found, detected_by, found_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (diocese_id) DO UPDATE SET
			url = EXCLUDED.url,
			found = EXCLUDED.found,
			detected_by = EXCLUDED.detected_by,
			found_at = now()`,
		dir.DioceseID, dir.URL, dir.Found, dir.DetectedBy)
	observeOp("upsert_parish_directory", start, err)
	if err != nil {
		return fmt.Errorf("upserting parish directory for diocese %d, %w", dir.DioceseID, classify(err))
	}
	return nil
}

func (c *Client) GetParishDirectory(ctx context.Context, dioceseID int64) (*types.ParishDirectory, error) {
	var dir types.ParishDirectory
	err := c.db.GetContext(ctx, &dir, `SELECT * FROM parish_directories WHERE diocese_id = $1`, dioceseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading parish directory for diocese %d, %w", dioceseID, classify(err))
	}
	return &dir, nil
}
