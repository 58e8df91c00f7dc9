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

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/wmqueue/stopper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// blockedFor is how long an operation must stay pending before a test
// treats it as blocked.
const blockedFor = 50 * time.Millisecond

func newTestQueue[T any](t *testing.T, cfg Config) (*Queue[T], *stopper.Context) {
	t.Helper()
	q, err := New[T](cfg)
	require.NoError(t, err)
	ctx := stopper.WithContext(context.Background())
	t.Cleanup(func() { ctx.Stop(0) })
	return q, ctx
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  string
	}{
		{"default", DefaultConfig(), ""},
		{"minimal", Config{Capacity: 2, LowThreshold: 0, HighThreshold: 1}, ""},
		{"zero capacity", Config{Capacity: 0}, "capacity 0 must be positive"},
		{"negative capacity", Config{Capacity: -1}, "capacity -1 must be positive"},
		{"negative low", Config{Capacity: 10, LowThreshold: -1, HighThreshold: 8}, "must not be negative"},
		{"low equals high", Config{Capacity: 10, LowThreshold: 5, HighThreshold: 5}, "must be less than high"},
		{"low above high", Config{Capacity: 10, LowThreshold: 8, HighThreshold: 2}, "must be less than high"},
		{"high equals capacity", Config{Capacity: 10, LowThreshold: 2, HighThreshold: 10}, "must be less than capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := assert.New(t)
			err := tt.cfg.Validate()
			if tt.err == "" {
				a.NoError(err)
				return
			}
			a.ErrorIs(err, ErrInvalidConfig)
			a.ErrorContains(err, tt.err)

			q, err := New[int](tt.cfg)
			a.Nil(q)
			a.ErrorIs(err, ErrInvalidConfig)
		})
	}
}

// Walk through a fill, drain, refill cycle and check that a producer
// blocked on a full queue is turned away by a stop request.
func TestWatermarkScenario(t *testing.T) {
	r := require.New(t)
	q, ctx := newTestQueue[int](t, Config{Capacity: 10, LowThreshold: 2, HighThreshold: 8})

	r.Equal(Level{Size: 0, Watermark: Watermark{Low: true}}, q.Snapshot())

	for i := 1; i <= 8; i++ {
		r.NoError(q.Push(ctx, i))
		r.Equal(q.Config().Evaluate(i), q.Snapshot().Watermark)
	}
	r.Equal(Level{Size: 8, Watermark: Watermark{High: true}}, q.Snapshot())

	for i := 1; i <= 7; i++ {
		got, err := q.Pop(ctx)
		r.NoError(err)
		r.Equal(i, got)
	}
	r.Equal(Level{Size: 1, Watermark: Watermark{Low: true}}, q.Snapshot())

	for i := 9; q.Len() < q.Cap(); i++ {
		r.NoError(q.Push(ctx, i))
	}
	r.Equal(Level{Size: 10, Watermark: Watermark{High: true}}, q.Snapshot())

	result := make(chan error, 1)
	go func() { result <- q.Push(ctx, 100) }()
	select {
	case err := <-result:
		r.Failf("push should block on a full queue", "returned %v", err)
	case <-time.After(blockedFor):
	}

	ctx.Stop(time.Minute)
	select {
	case err := <-result:
		r.ErrorIs(err, ErrCancelled)
		r.Equal(Cancelled, OutcomeOf(err))
	case <-time.After(5 * time.Second):
		r.Fail("blocked push was not cancelled")
	}
	r.Equal(10, q.Len())

	// Operations after the stop are refused without blocking.
	r.ErrorIs(q.Push(ctx, 101), ErrCancelled)
	_, err := q.Pop(ctx)
	r.ErrorIs(err, ErrCancelled)
	r.Equal(10, q.Len())
}

func TestPushBlocksUntilPop(t *testing.T) {
	r := require.New(t)
	q, ctx := newTestQueue[string](t, Config{Capacity: 2, LowThreshold: 0, HighThreshold: 1})

	r.NoError(q.Push(ctx, "a"))
	r.NoError(q.Push(ctx, "b"))

	result := make(chan error, 1)
	go func() { result <- q.Push(ctx, "c") }()
	select {
	case <-result:
		r.Fail("push should block while full")
	case <-time.After(blockedFor):
	}
	r.Equal(2, q.Len())

	got, err := q.Pop(ctx)
	r.NoError(err)
	r.Equal("a", got)
	r.NoError(<-result)

	for _, expect := range []string{"b", "c"} {
		got, err := q.Pop(ctx)
		r.NoError(err)
		r.Equal(expect, got)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	r := require.New(t)
	q, ctx := newTestQueue[int](t, DefaultConfig())

	type popped struct {
		val int
		err error
	}
	result := make(chan popped, 1)
	go func() {
		val, err := q.Pop(ctx)
		result <- popped{val, err}
	}()
	select {
	case <-result:
		r.Fail("pop should block while empty")
	case <-time.After(blockedFor):
	}

	r.NoError(q.Push(ctx, 42))
	got := <-result
	r.NoError(got.err)
	r.Equal(42, got.val)
	r.Equal(0, q.Len())
}

// Stop while producers are blocked on one queue and consumers are
// blocked on another; every waiter must report cancellation.
func TestStopCancelsBlockedWaiters(t *testing.T) {
	const producers = 8
	const consumers = 8
	r := require.New(t)
	cfg := Config{Capacity: 4, LowThreshold: 1, HighThreshold: 3}

	full, ctx := newTestQueue[int](t, cfg)
	empty, err := New[int](cfg)
	r.NoError(err)
	for i := 0; i < cfg.Capacity; i++ {
		r.True(full.TryPush(i))
	}

	var aborts atomic.Int32
	events := &Events[int]{
		OnAbort: func(Op, error) { aborts.Add(1) },
	}
	full.SetEvents(events)
	empty.SetEvents(events)

	var wg sync.WaitGroup
	errs := make(chan error, producers+consumers)
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- full.Push(ctx, -1)
		}()
	}
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := empty.Pop(ctx)
			errs <- err
		}()
	}

	time.Sleep(blockedFor)
	r.Empty(errs)
	ctx.Stop(time.Minute)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		r.Fail("waiters were not released by stop")
	}
	close(errs)

	count := 0
	for err := range errs {
		r.ErrorIs(err, ErrCancelled)
		count++
	}
	r.Equal(producers+consumers, count)
	r.Equal(int32(producers+consumers), aborts.Load())

	// Nothing was added or removed.
	r.Equal(cfg.Capacity, full.Len())
	r.Equal(0, empty.Len())
	for i := 0; i < cfg.Capacity; i++ {
		got, ok := full.TryPop()
		r.True(ok)
		r.Equal(i, got)
	}
}

func TestTimeouts(t *testing.T) {
	r := require.New(t)
	q, ctx := newTestQueue[int](t, Config{Capacity: 2, LowThreshold: 0, HighThreshold: 1})

	_, err := q.PopTimeout(ctx, 10*time.Millisecond)
	r.ErrorIs(err, ErrTimedOut)
	r.Equal(TimedOut, OutcomeOf(err))
	r.NotErrorIs(err, ErrCancelled)

	_, err = q.PopTimeout(ctx, 0)
	r.ErrorIs(err, ErrTimedOut)

	r.NoError(q.PushTimeout(ctx, 1, time.Second))
	r.NoError(q.PushTimeout(ctx, 2, 0))
	r.ErrorIs(q.PushTimeout(ctx, 3, 10*time.Millisecond), ErrTimedOut)
	r.ErrorIs(q.PushTimeout(ctx, 3, 0), ErrTimedOut)
	r.Equal(2, q.Len())

	got, err := q.PopTimeout(ctx, time.Second)
	r.NoError(err)
	r.Equal(1, got)

	// A timed operation still observes stop requests.
	ctx.Stop(time.Minute)
	r.ErrorIs(q.PushTimeout(ctx, 4, time.Second), ErrCancelled)
}

func TestTryPushPop(t *testing.T) {
	r := require.New(t)
	q, _ := newTestQueue[int](t, Config{Capacity: 3, LowThreshold: 0, HighThreshold: 2})

	_, ok := q.TryPop()
	r.False(ok)
	r.True(q.TryPush(1))
	r.True(q.TryPush(2))
	r.True(q.TryPush(3))
	r.False(q.TryPush(4))
	r.Equal(3, q.Len())

	for i := 1; i <= 3; i++ {
		got, ok := q.TryPop()
		r.True(ok)
		r.Equal(i, got)
	}
	_, ok = q.TryPop()
	r.False(ok)
}

func TestNilInterfaceItems(t *testing.T) {
	r := require.New(t)
	q, ctx := newTestQueue[error](t, DefaultConfig())

	boom := errors.New("boom")
	r.NoError(q.Push(ctx, nil))
	r.NoError(q.Push(ctx, boom))
	r.Equal(2, q.Len())

	got, err := q.Pop(ctx)
	r.NoError(err)
	r.Nil(got)
	r.Equal(1, q.Len())
	got, err = q.Pop(ctx)
	r.NoError(err)
	r.Equal(boom, got)
	r.Zero(q.Len())
}

// Nil items must occupy a slot like any other item, across several
// trips around the buffer.
func TestNilItemsFillAndDrain(t *testing.T) {
	r := require.New(t)
	cfg := Config{Capacity: 4, LowThreshold: 1, HighThreshold: 3}
	q, ctx := newTestQueue[any](t, cfg)

	for round := 0; round < 3; round++ {
		want := []any{nil, "a", nil, round}
		if round%2 == 1 {
			want = []any{round, nil, nil, "b"}
		}
		for i, item := range want {
			r.NoError(q.Push(ctx, item))
			r.Equal(i+1, q.Len())
		}
		r.False(q.TryPush("overflow"))
		r.Equal(Level{Size: 4, Watermark: Watermark{High: true}}, q.Snapshot())

		for i, expected := range want {
			got, err := q.Pop(ctx)
			r.NoError(err)
			r.Equal(expected, got, "round %d item %d", round, i)
			r.Equal(len(want)-i-1, q.Len())
		}
		_, ok := q.TryPop()
		r.False(ok)
		r.Equal(Level{Size: 0, Watermark: Watermark{Low: true}}, q.Snapshot())
	}
}

type tagged struct {
	producer int
	seq      int
}

// Many producers and consumers exchange items; nothing may be lost or
// duplicated and the size must always stay within bounds.
func TestConcurrentNoLoss(t *testing.T) {
	const producers = 8
	const consumers = 6
	const perProducer = 500
	r := require.New(t)
	q, ctx := newTestQueue[tagged](t, Config{Capacity: 16, LowThreshold: 3, HighThreshold: 12})

	var outOfBounds atomic.Bool
	var transitions atomic.Int32
	q.SetEvents(&Events[tagged]{
		OnPush: func(_ tagged, size int) {
			if size < 1 || size > q.Cap() {
				outOfBounds.Store(true)
			}
		},
		OnPop: func(_ tagged, size int) {
			if size < 0 || size >= q.Cap() {
				outOfBounds.Store(true)
			}
		},
		OnTransition: func(from, to Watermark) {
			if from == to {
				outOfBounds.Store(true)
			}
			transitions.Add(1)
		},
	})

	eg, _ := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		eg.Go(func() error {
			for i := 0; i < perProducer; i++ {
				if err := q.Push(ctx, tagged{p, i}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	var mu sync.Mutex
	seen := make(map[tagged]int)
	var remaining atomic.Int32
	remaining.Store(producers * perProducer)
	for c := 0; c < consumers; c++ {
		eg.Go(func() error {
			for remaining.Add(-1) >= 0 {
				item, err := q.Pop(ctx)
				if err != nil {
					return err
				}
				mu.Lock()
				seen[item]++
				mu.Unlock()
			}
			return nil
		})
	}
	r.NoError(eg.Wait())

	r.False(outOfBounds.Load())
	r.Positive(transitions.Load())
	r.Len(seen, producers*perProducer)
	for item, count := range seen {
		r.Equalf(1, count, "item %v", item)
	}
	r.Equal(Level{Size: 0, Watermark: Watermark{Low: true}}, q.Snapshot())
}

// With a single consumer, the items from each producer must arrive in
// the order that producer pushed them.
func TestPerProducerFIFO(t *testing.T) {
	const producers = 4
	const perProducer = 1000
	r := require.New(t)
	q, ctx := newTestQueue[tagged](t, Config{Capacity: 8, LowThreshold: 1, HighThreshold: 6})

	eg, _ := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		eg.Go(func() error {
			for i := 0; i < perProducer; i++ {
				if err := q.Push(ctx, tagged{p, i}); err != nil {
					return err
				}
			}
			return nil
		})
	}

	next := make([]int, producers)
	for i := 0; i < producers*perProducer; i++ {
		item, err := q.Pop(ctx)
		r.NoError(err)
		r.Equalf(next[item.producer], item.seq, "producer %d out of order", item.producer)
		next[item.producer]++
	}
	r.NoError(eg.Wait())
	for _, n := range next {
		r.Equal(perProducer, n)
	}
}

// Every snapshot taken while the queue is churning must agree with the
// configured thresholds.
func TestSnapshotConsistency(t *testing.T) {
	r := require.New(t)
	q, ctx := newTestQueue[int](t, Config{Capacity: 6, LowThreshold: 1, HighThreshold: 4})

	churn := stopper.WithContext(ctx)
	r.NoError(churn.Go(func(ctx *stopper.Context) error {
		for i := 0; !ctx.IsStopping(); i++ {
			if err := q.Push(ctx, i); err != nil {
				return nil
			}
		}
		return nil
	}))
	r.NoError(churn.Go(func(ctx *stopper.Context) error {
		for !ctx.IsStopping() {
			if _, err := q.Pop(ctx); err != nil {
				return nil
			}
		}
		return nil
	}))

	for i := 0; i < 10000; i++ {
		lvl := q.Snapshot()
		r.GreaterOrEqual(lvl.Size, 0)
		r.LessOrEqual(lvl.Size, q.Cap())
		r.Equal(q.Config().Evaluate(lvl.Size), lvl.Watermark)
	}
	churn.Stop(time.Second)
	r.NoError(churn.WaitTimeout(5 * time.Second))
}

func TestOutcomeOf(t *testing.T) {
	a := assert.New(t)
	a.Equal(Success, OutcomeOf(nil))
	a.Equal(Cancelled, OutcomeOf(ErrCancelled))
	a.Equal(TimedOut, OutcomeOf(ErrTimedOut))
	a.Equal(Failed, OutcomeOf(errors.New("other")))
	a.Equal("timed out", TimedOut.String())
	a.Equal("Outcome(42)", Outcome(42).String())

	// The sentinels remain recognizable as context errors.
	a.ErrorIs(ErrCancelled, context.Canceled)
	a.ErrorIs(ErrTimedOut, context.DeadlineExceeded)
}
