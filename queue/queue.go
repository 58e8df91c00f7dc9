// Copyright 2024 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

/*
Package queue contains a bounded, blocking FIFO queue that publishes
level-triggered watermark signals describing its occupancy.

Producers call [Queue.Push], which blocks while the queue is full, and
consumers call [Queue.Pop], which blocks while the queue is empty. Both
accept a [stopper.Context]; once the context begins stopping, blocked
calls return [ErrCancelled] without modifying the queue.

	q, err := queue.New[int](queue.DefaultConfig())
	if err != nil {
		return err
	}
	ctx := stopper.WithContext(parent)

	// Observe the watermark signals.
	w := q.Watch()
	for {
		evt := w.Wait(ctx)
		if evt.Signal == queue.SignalStop {
			break
		}
		fmt.Println("queue is", evt.Watermark)
	}

Every change in size recomputes the LOW and HIGH signals inside the same
critical section as the change itself, so [Queue.Snapshot] never
observes a size and a watermark that disagree. The signals are
advisory: by the time an observer acts on one, the queue may have
changed again.
*/
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/wmqueue/notify"
	"github.com/cockroachdb/wmqueue/stopper"
	"github.com/emirpasic/gods/queues/circularbuffer"
	"golang.org/x/sync/semaphore"
)

// A Queue is a fixed-capacity FIFO queue that is safe for use by any
// number of producers and consumers.
//
// Capacity is tracked by two counting semaphores: space, which a
// producer acquires before it may enqueue, and items, which a consumer
// acquires before it may dequeue. The buffer itself is only accessed
// while holding the queue's mutex.
//
// A Queue should not be copied after it has been created.
type Queue[T any] struct {
	cfg    Config
	events *Events[T]          // Injectable callbacks.
	items  *semaphore.Weighted // Acquired by Pop, released by Push.
	space  *semaphore.Weighted // Acquired by Push, released by Pop.
	level  notify.Var[Watermark]

	mu struct {
		sync.Mutex
		buf *circularbuffer.Queue
	}
}

// slot wraps every stored item. The circular buffer does not advance
// past a nil element, so a nil T must never be stored directly.
type slot[T any] struct {
	item T
}

// New constructs an empty Queue. An error wrapping [ErrInvalidConfig]
// is returned if the configuration is not valid.
func New[T any](cfg Config) (*Queue[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	capacity := int64(cfg.Capacity)
	q := &Queue[T]{
		cfg:   cfg,
		items: semaphore.NewWeighted(capacity),
		space: semaphore.NewWeighted(capacity),
	}
	// The items semaphore starts out fully held, since there is
	// nothing to consume.
	if !q.items.TryAcquire(capacity) {
		panic("queue: could not drain new items semaphore")
	}
	q.mu.buf = circularbuffer.New(cfg.Capacity)
	q.level.Set(cfg.Evaluate(0))
	return q, nil
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return q.cfg.Capacity
}

// Config returns the configuration that the queue was built with.
func (q *Queue[T]) Config() Config {
	return q.cfg
}

// Len returns the number of items currently in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mu.buf.Size()
}

// Pop removes and returns the oldest item in the queue, blocking until
// an item is available. It returns [ErrCancelled] if the context is
// stopping.
func (q *Queue[T]) Pop(ctx *stopper.Context) (T, error) {
	return q.pop(ctx, 0, false)
}

// PopTimeout behaves like [Queue.Pop], but returns [ErrTimedOut] if no
// item became available within the given duration.
func (q *Queue[T]) PopTimeout(ctx *stopper.Context, timeout time.Duration) (T, error) {
	return q.pop(ctx, timeout, true)
}

// Push appends the item to the queue, blocking until there is space
// available. It returns [ErrCancelled], and does not enqueue the item,
// if the context is stopping.
func (q *Queue[T]) Push(ctx *stopper.Context, item T) error {
	return q.push(ctx, item, 0, false)
}

// PushTimeout behaves like [Queue.Push], but returns [ErrTimedOut] if
// no space became available within the given duration.
func (q *Queue[T]) PushTimeout(ctx *stopper.Context, item T, timeout time.Duration) error {
	return q.push(ctx, item, timeout, true)
}

// SetEvents allows monitoring callbacks to be injected into the Queue.
// This method should be called before the Queue is shared with other
// goroutines.
func (q *Queue[T]) SetEvents(events *Events[T]) {
	q.events = events
}

// Snapshot returns the size of the queue together with the watermark
// signals for that size.
func (q *Queue[T]) Snapshot() Level {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Level{Size: q.mu.buf.Size(), Watermark: q.level.Peek()}
}

// TryPop removes and returns the oldest item if one is available
// without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	if !q.items.TryAcquire(1) {
		return *new(T), false
	}
	item, size, from, to := q.dequeue()
	q.space.Release(1)
	q.events.doPop(item, size)
	q.events.doTransition(from, to)
	return item, true
}

// TryPush appends the item if there is space available without
// blocking.
func (q *Queue[T]) TryPush(item T) bool {
	if !q.space.TryAcquire(1) {
		return false
	}
	size, from, to := q.enqueue(item)
	q.items.Release(1)
	q.events.doPush(item, size)
	q.events.doTransition(from, to)
	return true
}

// Watch returns a new [Watcher] for the queue's watermark signals.
func (q *Queue[T]) Watch() *Watcher {
	return &Watcher{level: &q.level}
}

// Watermark returns the current watermark signals and a channel that
// is closed the next time they change.
func (q *Queue[T]) Watermark() (Watermark, <-chan struct{}) {
	return q.level.Get()
}

func (q *Queue[T]) pop(ctx *stopper.Context, timeout time.Duration, timed bool) (T, error) {
	if err := acquire(ctx, q.items, timeout, timed); err != nil {
		q.events.doAbort(OpPop, err)
		return *new(T), err
	}
	item, size, from, to := q.dequeue()
	q.space.Release(1)
	q.events.doPop(item, size)
	q.events.doTransition(from, to)
	return item, nil
}

func (q *Queue[T]) push(ctx *stopper.Context, item T, timeout time.Duration, timed bool) error {
	if err := acquire(ctx, q.space, timeout, timed); err != nil {
		q.events.doAbort(OpPush, err)
		return err
	}
	size, from, to := q.enqueue(item)
	q.items.Release(1)
	q.events.doPush(item, size)
	q.events.doTransition(from, to)
	return nil
}

// acquire takes one unit from the semaphore. A stop request always
// takes precedence over an available unit.
func acquire(
	ctx *stopper.Context, sem *semaphore.Weighted, timeout time.Duration, timed bool,
) error {
	if ctx.IsStopping() {
		return ErrCancelled
	}
	if timed && timeout <= 0 {
		if sem.TryAcquire(1) {
			return nil
		}
		return ErrTimedOut
	}

	wait := ctx.StoppingContext()
	if timed {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(wait, timeout)
		defer cancel()
	}
	err := sem.Acquire(wait, 1)
	switch {
	case err == nil:
		return nil
	case ctx.IsStopping():
		return ErrCancelled
	default:
		// Stopping is checked above, so only the timeout remains.
		return ErrTimedOut
	}
}

// dequeue must only be called after acquiring a unit of items.
func (q *Queue[T]) dequeue() (item T, size int, from, to Watermark) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.mu.buf.Dequeue()
	if !ok {
		panic("queue: dequeue from empty buffer; item accounting is broken")
	}
	item = v.(slot[T]).item
	size, from, to = q.publishLocked()
	return
}

// enqueue must only be called after acquiring a unit of space.
func (q *Queue[T]) enqueue(item T) (size int, from, to Watermark) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// The circular buffer would silently overwrite the oldest element.
	if q.mu.buf.Full() {
		panic("queue: enqueue into full buffer; space accounting is broken")
	}
	q.mu.buf.Enqueue(slot[T]{item})
	return q.publishLocked()
}

// publishLocked recomputes the watermark signals for the current size.
// Waiters are only woken if the signals actually changed.
func (q *Queue[T]) publishLocked() (size int, from, to Watermark) {
	size = q.mu.buf.Size()
	if size < 0 || size > q.cfg.Capacity {
		panic(fmt.Sprintf("queue: size %d outside of [0, %d]", size, q.cfg.Capacity))
	}
	from = q.level.Peek()
	to = q.cfg.Evaluate(size)
	if from != to {
		q.level.Set(to)
	}
	return size, from, to
}
