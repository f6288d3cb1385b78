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

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// ListSuppressions returns the operator-maintained do-not-fetch list.
func (c *Client) ListSuppressions(ctx context.Context) ([]types.SuppressionURL, error) {
	var out []types.SuppressionURL
	if err := c.db.SelectContext(ctx, &out, `SELECT * FROM suppression_urls ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing suppressions, %w", classify(err))
	}
	return out, nil
}

// ListScheduleKeywords returns the keyword table. The core never writes it.
func (c *Client) ListScheduleKeywords(ctx context.Context) ([]types.ScheduleKeyword, error) {
	var out []types.ScheduleKeyword
	if err := c.db.SelectContext(ctx, &out, `SELECT * FROM schedule_keywords ORDER BY id`); err != nil {
		return nil, fmt.Errorf("listing schedule keywords, %w", classify(err))
	}
	return out, nil
}
