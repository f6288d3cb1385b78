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

package fake

import (
	"sync"
)

// AtomicError scripts a failure into one fake store operation. Set arms it
// with a budget of one call; MaxCalls widens the budget. Get consumes one
// firing and is safe for concurrent callers.
type AtomicError struct {
	mu        sync.Mutex
	err       error
	remaining int
	unlimited bool
}

// AtomicErrorOption configures an error as it is armed.
type AtomicErrorOption func(*AtomicError)

// MaxCalls sets how many calls fail before the error clears. Zero or
// negative means the error never clears.
func MaxCalls(n int) AtomicErrorOption {
	return func(e *AtomicError) {
		e.remaining = n
		e.unlimited = n <= 0
	}
}

// Set arms the error. Without options it fires exactly once.
func (e *AtomicError) Set(err error, opts ...AtomicErrorOption) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	e.remaining = 1
	e.unlimited = false
	for _, opt := range opts {
		opt(e)
	}
}

// Get consumes one firing, returning nil once the budget is spent.
func (e *AtomicError) Get() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		return nil
	}
	if e.unlimited {
		return e.err
	}
	if e.remaining <= 0 {
		return nil
	}
	e.remaining--
	return e.err
}

// Reset disarms the error and clears any leftover budget.
func (e *AtomicError) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = nil
	e.remaining = 0
	e.unlimited = false
}
