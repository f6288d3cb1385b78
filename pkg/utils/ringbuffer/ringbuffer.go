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

package ringbuffer

import "sync"

// RingBuffer is a fixed-capacity buffer that overwrites its oldest entry once
// full. Items returns entries oldest-first. Safe for concurrent use.
type RingBuffer[T any] struct {
	mu    sync.RWMutex
	items []T
	size  int
	head  int
	full  bool
}

func New[T any](size int) *RingBuffer[T] {
	return &RingBuffer[T]{
		items: make([]T, 0, size),
		size:  size,
	}
}

func (r *RingBuffer[T]) Insert(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 {
		return
	}
	if !r.full {
		r.items = append(r.items, item)
		if len(r.items) == r.size {
			r.full = true
		}
		return
	}
	r.items[r.head] = item
	r.head = (r.head + 1) % r.size
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Items returns a copy of the buffered entries in insertion order.
func (r *RingBuffer[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	out = append(out, r.items[r.head:]...)
	out = append(out, r.items[:r.head]...)
	return out
}

func (r *RingBuffer[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = r.items[:0]
	r.head = 0
	r.full = false
}
