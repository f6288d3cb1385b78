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
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// ApplyMigrations brings the schema up to date from the embedded migration
// set. Safe to run from multiple workers; goose serializes on its version
// table.
func (c *Client) ApplyMigrations(ctx context.Context) error {
	goose.SetBaseFS(schemaFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("selecting migration dialect, %w", err)
	}
	if err := goose.UpContext(ctx, c.db.DB, "schema"); err != nil {
		return fmt.Errorf("applying schema migrations, %w", err)
	}
	c.log.Info("schema migrations applied")
	return nil
}
