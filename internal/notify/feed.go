// Package notify fans a changing value out to subscribers with
// latest-value semantics: a slow subscriber sees the newest value, never a
// backlog, and never blocks the publisher.
package notify

import (
	"context"
	"sync"
)

// Feed broadcasts values of T
type Feed[T any] struct {
	mu     sync.Mutex
	last   T
	subs   map[uint64]chan T
	nextID uint64
	closed bool
	done   chan struct{}
}

// NewFeed creates a feed whose current value is initial
func NewFeed[T any](initial T) *Feed[T] {
	return &Feed[T]{
		last: initial,
		subs: make(map[uint64]chan T),
		done: make(chan struct{}),
	}
}

// Subscribe returns a channel that first yields the current value and then
// every published value. It closes when ctx is done or the feed closes.
func (f *Feed[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = ch
	ch <- f.last
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-f.done:
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}()

	return ch
}

// Publish sets the current value and delivers it to every subscriber
func (f *Feed[T]) Publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.last = v
	for _, ch := range f.subs {
		// Drop the unread value, if any, so the newest one wins
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Close closes every subscriber channel; later publishes are ignored
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
