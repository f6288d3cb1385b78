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
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/tomknightatl/diocesan-vitality-sub000/pkg/types"
)

// SuppressionSource loads the current suppression entries, typically from the
// store.
type SuppressionSource func(ctx context.Context) ([]types.SuppressionURL, error)

// SuppressionList answers do-not-fetch checks. Entries are either exact URLs
// or hosts; host entries suppress every URL on that host. The list is
// replaced wholesale on refresh, so reads never see a partial table.
type SuppressionList struct {
	mu    sync.RWMutex
	exact map[string]string
	hosts map[string]string
}

func NewSuppressionList() *SuppressionList {
	return &SuppressionList{
		exact: map[string]string{},
		hosts: map[string]string{},
	}
}

// Replace swaps in a new table built from entries.
func (s *SuppressionList) Replace(entries []types.SuppressionURL) {
	exact := map[string]string{}
	hosts := map[string]string{}
	for _, e := range entries {
		value := strings.TrimSpace(e.URL)
		if value == "" {
			continue
		}
		u, err := url.Parse(value)
		if err != nil || u.Host == "" {
			// Bare host entry like "parish.example.org".
			hosts[strings.ToLower(value)] = e.Reason
			continue
		}
		if u.Path == "" || u.Path == "/" {
			hosts[strings.ToLower(u.Host)] = e.Reason
			continue
		}
		exact[canonicalURL(u)] = e.Reason
	}
	s.mu.Lock()
	s.exact = exact
	s.hosts = hosts
	s.mu.Unlock()
	suppressionEntries.Set(float64(len(exact) + len(hosts)))
}

// Match reports whether the URL is suppressed, and why.
func (s *SuppressionList) Match(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if reason, ok := s.hosts[strings.ToLower(u.Host)]; ok {
		return reason, true
	}
	if reason, ok := s.exact[canonicalURL(u)]; ok {
		return reason, true
	}
	return "", false
}

// MatchHost reports whether an entire host is suppressed.
func (s *SuppressionList) MatchHost(host string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reason, ok := s.hosts[strings.ToLower(host)]
	return reason, ok
}

// Len returns the number of active entries.
func (s *SuppressionList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.exact) + len(s.hosts)
}

// Run refreshes the list from source every interval until ctx ends. The
// first refresh happens immediately.
func (s *SuppressionList) Run(ctx context.Context, log logr.Logger, source SuppressionSource, interval time.Duration) {
	refresh := func() {
		entries, err := source(ctx)
		if err != nil {
			log.Error(err, "refreshing suppression list")
			return
		}
		s.Replace(entries)
	}
	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

func canonicalURL(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.Host = strings.ToLower(c.Host)
	c.Scheme = strings.ToLower(c.Scheme)
	return strings.TrimSuffix(c.String(), "/")
}
