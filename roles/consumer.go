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

package roles

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/wmqueue/queue"
	"github.com/cockroachdb/wmqueue/retry"
	"github.com/cockroachdb/wmqueue/stopper"
)

// A Sink processes the items popped by a [Consumer].
type Sink[T any] interface {
	// Process handles a single item. Errors wrapping
	// [retry.ErrRetriable] are retried if the consumer was configured
	// with a backoff strategy.
	Process(ctx context.Context, item T) error
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc[T any] func(ctx context.Context, item T) error

// Process implements [Sink].
func (fn SinkFunc[T]) Process(ctx context.Context, item T) error { return fn(ctx, item) }

// A Consumer repeatedly pops an item from a queue and hands it to its
// [Sink]. A sink failure is logged and counted; the item is not
// returned to the queue.
type Consumer[T any] struct {
	lifecycle
	backoff  func() (retry.Backoff, error)
	failed   atomic.Int64
	interval time.Duration
	popped   atomic.Int64
	queue    *queue.Queue[T]
	sink     Sink[T]
}

var _ Role = (*Consumer[int])(nil)

// NewConsumer constructs a Consumer.
func NewConsumer[T any](name string, q *queue.Queue[T], sink Sink[T], opts Options) *Consumer[T] {
	return &Consumer[T]{
		lifecycle: newLifecycle(name, opts),
		backoff:   opts.Backoff,
		interval:  opts.Interval,
		queue:     q,
		sink:      sink,
	}
}

// Failed returns the number of items that the sink could not process.
func (c *Consumer[T]) Failed() int64 {
	return c.failed.Load()
}

// Popped returns the number of items that have been dequeued.
func (c *Consumer[T]) Popped() int64 {
	return c.popped.Load()
}

// Run implements [Role]. It returns nil when stopped by the context.
func (c *Consumer[T]) Run(ctx *stopper.Context) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.finish()
	c.log.V(1).Info("consumer started")

	for !ctx.IsStopping() {
		item, err := c.queue.Pop(ctx)
		if err != nil {
			if queue.OutcomeOf(err) == queue.Cancelled {
				c.log.V(1).Info("pop cancelled")
				break
			}
			return fmt.Errorf("%s: pop: %w", c.name, err)
		}
		c.popped.Add(1)

		if err := c.process(ctx, item); err != nil {
			c.failed.Add(1)
			c.log.Error(err, "could not process item", "item", item)
		} else {
			c.log.V(1).Info("consumed", "item", item)
		}

		if !pace(ctx, c.interval) {
			break
		}
	}

	c.log.Info("consumer stopped", "popped", c.Popped(), "failed", c.Failed())
	return nil
}

func (c *Consumer[T]) process(ctx *stopper.Context, item T) error {
	op := func(ctx *stopper.Context) error { return c.sink.Process(ctx, item) }
	if c.backoff == nil {
		return op(ctx)
	}
	strategy, err := c.backoff()
	if err != nil {
		return fmt.Errorf("%s: backoff: %w", c.name, err)
	}
	return retry.Retry(ctx, strategy, op)
}
