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

package pretty

import (
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/patrickmn/go-cache"
)

// ChangeMonitor is used to reduce logging when discovery loops print the same
// result on every sweep. It hashes the tracked value and reports a change only
// when the hash differs or the entry has expired.
type ChangeMonitor struct {
	trackedItems *cache.Cache
}

func NewChangeMonitor(durations ...time.Duration) *ChangeMonitor {
	duration := 24 * time.Hour
	if len(durations) > 0 {
		duration = durations[0]
	}
	return &ChangeMonitor{
		trackedItems: cache.New(duration, duration*2),
	}
}

// HasChanged takes a key and value and returns true if the value has changed
// since the last time it was observed under that key.
func (c *ChangeMonitor) HasChanged(key string, value interface{}) bool {
	newHash, _ := hashstructure.Hash(value, hashstructure.FormatV2, &hashstructure.HashOptions{SlicesAsSets: true})
	v, ok := c.trackedItems.Get(key)
	if !ok || v != newHash {
		c.trackedItems.SetDefault(key, newHash)
		return true
	}
	return false
}
