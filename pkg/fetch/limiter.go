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
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	dverrors "github.com/tomknightatl/diocesan-vitality-sub000/pkg/errors"
)

type limiterSlot struct {
	limiter    *rate.Limiter
	sem        *semaphore.Weighted
	generation uint64
}

// Limiters enforces per-origin token buckets and concurrency caps. Slots are
// created lazily from the policy table and rebuilt when the table reloads.
type Limiters struct {
	policies *Policies

	mu    sync.Mutex
	slots map[string]*limiterSlot
}

func NewLimiters(policies *Policies) *Limiters {
	return &Limiters{
		policies: policies,
		slots:    map[string]*limiterSlot{},
	}
}

func (l *Limiters) slot(host string) *limiterSlot {
	gen := l.policies.Generation()
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[host]; ok && s.generation == gen {
		return s
	}
	policy := l.policies.For(host)
	s := &limiterSlot{
		limiter:    rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), policy.Burst),
		sem:        semaphore.NewWeighted(policy.MaxConcurrent),
		generation: gen,
	}
	l.slots[host] = s
	return s
}

// Acquire blocks until the host has both a concurrency slot and a rate token,
// or the context ends. The returned release must be called exactly once.
func (l *Limiters) Acquire(ctx context.Context, host string) (func(), error) {
	s := l.slot(host)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, dverrors.Wrap(dverrors.KindCancelled, err)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		s.sem.Release(1)
		return nil, dverrors.Wrap(dverrors.KindCancelled, err)
	}
	var once sync.Once
	return func() {
		once.Do(func() { s.sem.Release(1) })
	}, nil
}
