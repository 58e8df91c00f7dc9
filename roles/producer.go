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
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/wmqueue/queue"
	"github.com/cockroachdb/wmqueue/stopper"
)

// A Source constructs the items pushed by a [Producer].
type Source[T any] interface {
	// Next returns the next item to enqueue. An error stops the
	// producer.
	Next(ctx context.Context) (T, error)
}

// SourceFunc adapts a function to the [Source] interface.
type SourceFunc[T any] func(ctx context.Context) (T, error)

// Next implements [Source].
func (fn SourceFunc[T]) Next(ctx context.Context) (T, error) { return fn(ctx) }

// Counter returns a Source that yields 1, 2, 3, and so on. The
// returned Source must not be shared between producers.
func Counter() Source[int] {
	n := 0
	return SourceFunc[int](func(context.Context) (int, error) {
		n++
		return n, nil
	})
}

// A Producer repeatedly takes an item from its [Source] and pushes it
// into a queue. It stops, without retrying, as soon as a push is
// cancelled.
type Producer[T any] struct {
	lifecycle
	interval time.Duration
	pushed   atomic.Int64
	queue    *queue.Queue[T]
	source   Source[T]
}

var _ Role = (*Producer[int])(nil)

// NewProducer constructs a Producer.
func NewProducer[T any](name string, q *queue.Queue[T], source Source[T], opts Options) *Producer[T] {
	return &Producer[T]{
		lifecycle: newLifecycle(name, opts),
		interval:  opts.Interval,
		queue:     q,
		source:    source,
	}
}

// Pushed returns the number of items that have been enqueued.
func (p *Producer[T]) Pushed() int64 {
	return p.pushed.Load()
}

// Run implements [Role]. It returns nil when stopped by the context.
func (p *Producer[T]) Run(ctx *stopper.Context) error {
	if err := p.begin(); err != nil {
		return err
	}
	defer p.finish()
	p.log.V(1).Info("producer started")

	for !ctx.IsStopping() {
		item, err := p.source.Next(ctx)
		if err != nil {
			if ctx.IsStopping() && errors.Is(err, context.Canceled) {
				break
			}
			p.log.Error(err, "source failed")
			return fmt.Errorf("%s: source: %w", p.name, err)
		}

		if err := p.queue.Push(ctx, item); err != nil {
			if queue.OutcomeOf(err) == queue.Cancelled {
				p.log.V(1).Info("push cancelled", "item", item)
				break
			}
			return fmt.Errorf("%s: push: %w", p.name, err)
		}
		p.pushed.Add(1)
		p.log.V(1).Info("produced", "item", item)

		if !pace(ctx, p.interval) {
			break
		}
	}

	p.log.Info("producer stopped", "pushed", p.Pushed())
	return nil
}
