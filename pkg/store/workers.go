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

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// claimMinutesPerDiocese feeds the estimated_completion a claim advertises.
const claimMinutesPerDiocese = 15

// RegisterWorker upserts the worker row active with a fresh heartbeat.
// Re-registering after a sweep resurrects the same worker_id cleanly.
func (c *Client) RegisterWorker(ctx context.Context, workerID, podName string, role types.WorkerType) error {
	start := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO pipeline_workers (worker_id, pod_name, worker_type, status, last_heartbeat, assigned_dioceses)
		VALUES ($1, $2, $3, 'active', now(), '{}')
		ON CONFLICT (worker_id) DO UPDATE SET
			pod_name = EXCLUDED.pod_name,
			worker_type = EXCLUDED.worker_type,
			status = 'active',
			last_heartbeat = now(),
			updated_at = now()`,
		workerID, podName, role)
	observeOp("register_worker", start, err)
	if err != nil {
		return fmt.Errorf("registering worker %s, %w", workerID, classify(err))
	}
	return nil
}

// HeartbeatWorker refreshes last_heartbeat. A worker with no active row gets
// UnknownWorker and must re-register.
func (c *Client) HeartbeatWorker(ctx context.Context, workerID string) error {
	start := time.Now()
	res, err := c.db.ExecContext(ctx, `
		UPDATE pipeline_workers SET last_heartbeat = now(), updated_at = now()
		WHERE worker_id = $1 AND status = 'active'`, workerID)
	observeOp("heartbeat_worker", start, err)
	if err != nil {
		return fmt.Errorf("heartbeating worker %s, %w", workerID, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dverrors.New(dverrors.KindUnknownWorker, "worker %s has no active registration", workerID)
	}
	return nil
}

// ClaimDioceses atomically claims up to n dioceses for a worker. Selection
// prefers dioceses with no directory, then fewest recorded facts, then
// ascending id; locked rows are skipped so concurrent claimants split the
// pool instead of racing. Returns the claimed diocese ids.
func (c *Client) ClaimDioceses(ctx context.Context, workerID string, n int) ([]int64, error) {
	var claimed []int64
	err := c.serializable(ctx, "claim_dioceses", func(tx *sqlx.Tx) error {
		claimed = claimed[:0]

		var status string
		err := tx.QueryRowxContext(ctx,
			`SELECT status FROM pipeline_workers WHERE worker_id = $1 FOR UPDATE`,
			workerID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && status != string(types.WorkerActive)) {
			return dverrors.New(dverrors.KindUnknownWorker, "worker %s has no active registration", workerID)
		}
		if err != nil {
			return fmt.Errorf("locking worker row, %w", err)
		}

		if err := tx.SelectContext(ctx, &claimed, `
			SELECT d.id FROM dioceses d
			LEFT JOIN parish_directories pd ON pd.diocese_id = d.id
			LEFT JOIN (
				SELECT p.diocese_id, COUNT(f.id) AS facts
				FROM parishes p
				LEFT JOIN parish_data f ON f.parish_id = p.id
				GROUP BY p.diocese_id
			) pf ON pf.diocese_id = d.id
			WHERE NOT EXISTS (
				SELECT 1 FROM diocese_work_assignments a
				WHERE a.diocese_id = d.id AND a.status = 'processing'
			)
			ORDER BY (pd.id IS NULL) DESC, COALESCE(pf.facts, 0), d.id
			LIMIT $1
			FOR UPDATE OF d SKIP LOCKED`, n); err != nil {
			return fmt.Errorf("selecting claimable dioceses, %w", err)
		}
		if len(claimed) == 0 {
			return nil
		}

		estimated := time.Now().Add(time.Duration(len(claimed)) * claimMinutesPerDiocese * time.Minute)
		for _, dioceseID := range claimed {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO diocese_work_assignments (diocese_id, worker_id, status, claimed_at, estimated_completion)
				VALUES ($1, $2, 'processing', now(), $3)`,
				dioceseID, workerID, estimated); err != nil {
				return fmt.Errorf("inserting assignment for diocese %d, %w", dioceseID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pipeline_workers
			SET assigned_dioceses = assigned_dioceses || $2, updated_at = now()
			WHERE worker_id = $1`,
			workerID, pq.Int64Array(claimed)); err != nil {
			return fmt.Errorf("extending worker assignment list, %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	claimedDioceses.Observe(float64(len(claimed)))
	return claimed, nil
}

// CompleteAssignment flips the processing assignment terminal and releases
// the diocese from the worker's list. Completing an assignment that is not
// processing is a no-op.
func (c *Client) CompleteAssignment(ctx context.Context, workerID string, dioceseID int64, outcome types.AssignmentStatus) error {
	return c.serializable(ctx, "complete_assignment", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE diocese_work_assignments
			SET status = $3, completed_at = now()
			WHERE diocese_id = $1 AND worker_id = $2 AND status = 'processing'`,
			dioceseID, workerID, outcome)
		if err != nil {
			return fmt.Errorf("completing assignment of diocese %d, %w", dioceseID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE pipeline_workers
			SET assigned_dioceses = array_remove(assigned_dioceses, $2), updated_at = now()
			WHERE worker_id = $1`,
			workerID, dioceseID); err != nil {
			return fmt.Errorf("releasing diocese %d from worker %s, %w", dioceseID, workerID, err)
		}
		return nil
	})
}

// SweepExpiredWorkers deactivates workers silent longer than deadAfter and
// fails their processing assignments, returning the dioceses to the claim
// pool. Idempotent; returns how many workers were swept.
func (c *Client) SweepExpiredWorkers(ctx context.Context, deadAfter time.Duration) (int, error) {
	var swept []string
	err := c.serializable(ctx, "sweep_expired_workers", func(tx *sqlx.Tx) error {
		swept = swept[:0]
		if err := tx.SelectContext(ctx, &swept, `
			UPDATE pipeline_workers
			SET status = 'inactive', assigned_dioceses = '{}', updated_at = now()
			WHERE status = 'active' AND last_heartbeat < now() - make_interval(secs => $1)
			RETURNING worker_id`,
			deadAfter.Seconds()); err != nil {
			return fmt.Errorf("deactivating expired workers, %w", err)
		}
		if len(swept) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE diocese_work_assignments
			SET status = 'failed', completed_at = now()
			WHERE worker_id = ANY($1) AND status = 'processing'`,
			pq.Array(swept)); err != nil {
			return fmt.Errorf("failing assignments of expired workers, %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(swept) > 0 {
		sweptWorkers.Add(float64(len(swept)))
		c.log.Info("swept expired workers", "workers", swept)
	}
	return len(swept), nil
}

// DeactivateWorker marks the worker inactive and clears its assignment list.
// Used on orderly shutdown after the worker completed or failed its claims.
func (c *Client) DeactivateWorker(ctx context.Context, workerID string) error {
	start := time.Now()
	_, err := c.db.ExecContext(ctx, `
		UPDATE pipeline_workers
		SET status = 'inactive', assigned_dioceses = '{}', updated_at = now()
		WHERE worker_id = $1`, workerID)
	observeOp("deactivate_worker", start, err)
	if err != nil {
		return fmt.Errorf("deactivating worker %s, %w", workerID, classify(err))
	}
	return nil
}

// ActiveWorkers returns active workers ordered by worker_id, the order lead
// election relies on.
func (c *Client) ActiveWorkers(ctx context.Context) ([]types.PipelineWorker, error) {
	var out []types.PipelineWorker
	err := c.db.SelectContext(ctx, &out, `
		SELECT * FROM pipeline_workers WHERE status = 'active' ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("listing active workers, %w", classify(err))
	}
	return out, nil
}

// ProcessingAssignments returns the worker's open claims.
func (c *Client) ProcessingAssignments(ctx context.Context, workerID string) ([]types.DioceseWorkAssignment, error) {
	var out []types.DioceseWorkAssignment
	err := c.db.SelectContext(ctx, &out, `
		SELECT * FROM diocese_work_assignments
		WHERE worker_id = $1 AND status = 'processing'
		ORDER BY claimed_at`, workerID)
	if err != nil {
		return nil, fmt.Errorf("listing processing assignments of %s, %w", workerID, classify(err))
	}
	return out, nil
}
