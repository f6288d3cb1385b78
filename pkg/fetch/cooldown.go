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

package fetch

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	// BlockedCooldownTTL is how long an origin rests after blocking us.
	BlockedCooldownTTL = 30 * time.Minute

	blockedCooldownCleanupInterval = 5 * time.Minute
)

// BlockedCooldowns remembers origins that recently served a block (403, 429,
// or a challenge page) so the pipeline stops knocking for a while. Repeated
// blocks extend the cooldown.
type BlockedCooldowns struct {
	cache *cache.Cache
}

func NewBlockedCooldowns() *BlockedCooldowns {
	return &BlockedCooldowns{
		cache: cache.New(BlockedCooldownTTL, blockedCooldownCleanupInterval),
	}
}

// MarkBlocked records a block for the host, starting or extending its
// cooldown.
func (b *BlockedCooldowns) MarkBlocked(host string) {
	b.cache.SetDefault(host, time.Now())
	cooldownsStarted.Inc()
}

// IsBlocked reports whether the host is cooling down.
func (b *BlockedCooldowns) IsBlocked(host string) bool {
	_, ok := b.cache.Get(host)
	return ok
}

// BlockedSince returns when the host was last blocked, if it is cooling down.
func (b *BlockedCooldowns) BlockedSince(host string) (time.Time, bool) {
	v, ok := b.cache.Get(host)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Flush clears all cooldowns.
func (b *BlockedCooldowns) Flush() {
	b.cache.Flush()
}
