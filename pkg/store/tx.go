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
	"math/rand"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

const (
	// txTimeout bounds one coordination transaction.
	txTimeout = 5 * time.Second
	// txRetries is how many times a serialization conflict is retried.
	txRetries = 3

	retryDelayFloor  = 50 * time.Millisecond
	retryDelayJitter = 200 * time.Millisecond
)

// Postgres error codes this package branches on.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// serializable runs fn in a SERIALIZABLE transaction, retrying serialization
// conflicts with jittered backoff. The contended coordination rows make
// conflicts routine under a fleet, not exceptional.
func (c *Client) serializable(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	start := time.Now()
	err := retry.Do(
		func() error {
			txCtx, cancel := context.WithTimeout(ctx, txTimeout)
			defer cancel()
			tx, err := c.db.BeginTxx(txCtx, &sql.TxOptions{Isolation: sql.LevelSerializable})
			if err != nil {
				return classify(fmt.Errorf("beginning %s transaction, %w", op, err))
			}
			if err := fn(tx); err != nil {
				_ = tx.Rollback()
				return classify(err)
			}
			return classify(tx.Commit())
		},
		retry.Context(ctx),
		retry.Attempts(uint(1+txRetries)),
		retry.RetryIf(dverrors.IsSerializationConflict),
		retry.DelayType(jitteredDelay),
		retry.OnRetry(func(n uint, err error) {
			txConflicts.WithLabelValues(op).Inc()
			c.log.V(1).Info("retrying transaction after serialization conflict", "op", op, "attempt", n+1)
		}),
		retry.LastErrorOnly(true),
	)
	observeOp(op, start, err)
	return err
}

func jitteredDelay(_ uint, _ error, _ *retry.Config) time.Duration {
	return retryDelayFloor + time.Duration(rand.Int63n(int64(retryDelayJitter)))
}

// classify folds driver errors into the pipeline taxonomy. Serialization
// failures and deadlocks both read as SerializationConflict so callers retry
// them uniformly.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return dverrors.Wrap(dverrors.KindSerializationConflict, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return dverrors.Wrap(dverrors.KindCancelled, err)
	}
	return err
}

// isUniqueViolation reports whether an insert hit an existing unique key.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
