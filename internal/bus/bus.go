// Copyright 2025 The Parley Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bus provides a small typed publish/subscribe primitive.
//
// The connections manager publishes lifecycle events on topics and the
// capability managers subscribe; neither side holds a reference to the
// other beyond the topic. Delivery is per-subscriber buffered and
// non-blocking: a subscriber that stops draining loses events rather than
// stalling the publisher.
package bus

import (
	"sync"
)

// defaultBuffer is the per-subscriber channel capacity.
const defaultBuffer = 16

// Topic is a typed event topic. The zero value is not usable; create
// topics with NewTopic.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	buffer int
	closed bool
}

// NewTopic creates a topic with the default subscriber buffer.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{
		subs:   make(map[int]chan T),
		buffer: defaultBuffer,
	}
}

// Subscribe registers a new subscriber and returns its receive channel
// together with a cancel function. Cancel is idempotent and closes the
// channel; after Close on the topic, Subscribe returns a closed channel.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan T, t.buffer)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if sub, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber. Subscribers with
// full buffers are skipped.
func (t *Topic[T]) Publish(event T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and rejects further publishes.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// Len returns the current subscriber count.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
