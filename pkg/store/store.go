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

// Package store is the persistence adapter and the only writer to PostgreSQL.
// Every operation is idempotent unless its doc says otherwise; fleet
// coordination happens exclusively through the operations in workers.go.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

const (
	maxOpenConns    = 8
	maxIdleConns    = 4
	connMaxLifetime = 30 * time.Minute
)

// Interface is the persistence surface the pipeline depends on. *Client is
// the production implementation; fake.Store backs coordination tests.
type Interface interface {
	// Dioceses and directories.
	UpsertDiocese(ctx context.Context, d *types.Diocese) error
	GetDiocese(ctx context.Context, id int64) (*types.Diocese, error)
	ListDioceses(ctx context.Context) ([]types.Diocese, error)
	ListDiocesesMissingDirectory(ctx context.Context, limit int) ([]types.Diocese, error)
	UpsertParishDirectory(ctx context.Context, dir *types.ParishDirectory) error
	GetParishDirectory(ctx context.Context, dioceseID int64) (*types.ParishDirectory, error)

	// Parishes and facts.
	UpsertParish(ctx context.Context, p *types.Parish) error
	ListParishes(ctx context.Context, dioceseID int64) ([]types.Parish, error)
	AppendParishData(ctx context.Context, row *types.ParishData) error

	// Visit ledger.
	UpsertDiscoveredURL(ctx context.Context, parishID int64, url string, score int) error
	RecordVisit(ctx context.Context, parishID int64, url string, outcome types.VisitOutcome) error
	ListDiscoveredURLs(ctx context.Context, parishID int64) ([]types.DiscoveredURL, error)

	// Read-mostly configuration.
	ListSuppressions(ctx context.Context) ([]types.SuppressionURL, error)
	ListScheduleKeywords(ctx context.Context) ([]types.ScheduleKeyword, error)

	// Prioritization bands.
	ListUnvisitedParishes(ctx context.Context, limit int) ([]types.Parish, error)
	ListStaleParishes(ctx context.Context, cutoff time.Time, limit int) ([]types.Parish, error)
	ListRetryParishes(ctx context.Context, since time.Time, limit int) ([]types.Parish, error)

	// Fleet coordination.
	RegisterWorker(ctx context.Context, workerID, podName string, role types.WorkerType) error
	HeartbeatWorker(ctx context.Context, workerID string) error
	ClaimDioceses(ctx context.Context, workerID string, n int) ([]int64, error)
	CompleteAssignment(ctx context.Context, workerID string, dioceseID int64, outcome types.AssignmentStatus) error
	SweepExpiredWorkers(ctx context.Context, deadAfter time.Duration) (int, error)
	DeactivateWorker(ctx context.Context, workerID string) error
	ActiveWorkers(ctx context.Context) ([]types.PipelineWorker, error)
	ProcessingAssignments(ctx context.Context, workerID string) ([]types.DioceseWorkAssignment, error)

	// Reporting.
	Summarize(ctx context.Context) (*Summary, error)
}

// Client implements Interface on PostgreSQL through sqlx over the pgx stdlib
// driver.
type Client struct {
	db  *sqlx.DB
	log logr.Logger
}

var _ Interface = (*Client)(nil)

// Open connects and pings the database.
func Open(ctx context.Context, databaseURL string, log logr.Logger) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database, %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	return &Client{db: db, log: log}, nil
}

// NewClient wraps an existing connection. Tests use it with sqlmock.
func NewClient(db *sqlx.DB, log logr.Logger) *Client {
	return &Client{db: db, log: log}
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Ping verifies the connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
