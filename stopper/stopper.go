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

// Package stopper contains a context type that supports a cooperative,
// two-phase shutdown of a group of goroutines.
//
// Calling [Context.Stop] first moves the Context into a "stopping"
// state, which is observed through [Context.Stopping] or
// [Context.IsStopping]. Goroutines started with [Context.Go] are
// expected to notice this and return. After the grace period passed to
// Stop has elapsed, the embedded [context.Context] is canceled as well.
// The stop request is level-triggered: it is set once, never cleared,
// and may be observed by any number of goroutines.
package stopper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/wmqueue/notify"
)

var (
	// ErrStopped is returned from [Context.Go] if the Context is
	// already stopping.
	ErrStopped = errors.New("stopper: context is stopping")

	// ErrWaitTimeout is returned from [Context.WaitTimeout] if the
	// registered goroutines did not exit in time.
	ErrWaitTimeout = errors.New("stopper: timed out waiting for tasks to exit")
)

// ErrGracePeriodExpired is the cause of the embedded context's
// cancellation when the grace period passed to [Context.Stop] elapses.
var ErrGracePeriodExpired = errors.New("stopper: grace period expired")

// A Context tracks a group of goroutines and coordinates their
// shutdown. It may be used anywhere a [context.Context] is expected.
//
// A Context is internally synchronized and is safe for concurrent use.
type Context struct {
	context.Context

	cancel     context.CancelCauseFunc // Cancels the embedded context.
	stopping   context.Context         // Done once Stop is called.
	stopSoft   context.CancelFunc
	hardCancel sync.Once

	running notify.Var[int] // Number of goroutines started by Go.

	mu struct {
		sync.Mutex
		err error // The first error returned by a goroutine.
	}
}

// WithContext creates a new Context as a child of the parent. If the
// parent is canceled, the new Context will also be stopping.
func WithContext(parent context.Context) *Context {
	ctx, cancel := context.WithCancelCause(parent)
	stopping, stopSoft := context.WithCancel(ctx)
	return &Context{
		Context:  ctx,
		cancel:   cancel,
		stopping: stopping,
		stopSoft: stopSoft,
	}
}

// Background is shorthand for WithContext(context.Background()).
func Background() *Context {
	return WithContext(context.Background())
}

// Go runs the function in a new goroutine. The function should return
// promptly once [Context.Stopping] is closed. If the function returns
// a non-nil error, the Context will be stopped and the first such
// error will be returned from [Context.Wait].
//
// Go returns [ErrStopped] without starting the function if the Context
// is already stopping.
func (c *Context) Go(fn func(ctx *Context) error) error {
	if _, err := c.running.Update(func(old int) (int, error) {
		if c.IsStopping() {
			return old, ErrStopped
		}
		return old + 1, nil
	}); err != nil {
		return err
	}

	go func() {
		defer func() {
			_, _ = c.running.Update(func(old int) (int, error) { return old - 1, nil })
		}()
		if err := fn(c); err != nil {
			c.mu.Lock()
			if c.mu.err == nil {
				c.mu.err = err
			}
			c.mu.Unlock()
			c.stopSoft()
		}
	}()
	return nil
}

// IsStopping returns true once [Context.Stop] has been called or the
// parent context has been canceled. It never blocks.
func (c *Context) IsStopping() bool {
	select {
	case <-c.stopping.Done():
		return true
	default:
		return false
	}
}

// Len returns the number of goroutines that have been started by
// [Context.Go] and that have not yet exited.
func (c *Context) Len() int {
	return c.running.Peek()
}

// Stop requests that all goroutines exit. The embedded context will be
// canceled once the grace period has elapsed, or immediately if the
// grace period is not positive. Calling Stop more than once has no
// additional effect.
func (c *Context) Stop(gracePeriod time.Duration) {
	c.stopSoft()
	c.hardCancel.Do(func() {
		if gracePeriod <= 0 {
			c.cancel(ErrGracePeriodExpired)
			return
		}
		timer := time.AfterFunc(gracePeriod, func() { c.cancel(ErrGracePeriodExpired) })
		// Don't hold the timer if everything exits early.
		go func() {
			<-c.Context.Done()
			timer.Stop()
		}()
	})
}

// Stopping returns a channel that is closed once [Context.Stop] has
// been called or the parent context has been canceled.
func (c *Context) Stopping() <-chan struct{} {
	return c.stopping.Done()
}

// StoppingContext returns a [context.Context] that is canceled as soon
// as the Context begins stopping. This is useful for handing to APIs
// that should be interrupted by a stop request, rather than by the
// expiration of the grace period.
func (c *Context) StoppingContext() context.Context {
	return c.stopping
}

// Wait blocks until the Context is stopping and all goroutines started
// by [Context.Go] have exited. It returns the first error returned by
// any of those goroutines.
func (c *Context) Wait() error {
	<-c.Stopping()
	for {
		n, changed := c.running.Get()
		if n == 0 {
			c.cancel(context.Canceled)
			return c.firstErr()
		}
		<-changed
	}
}

// WaitTimeout behaves like [Context.Wait], but returns
// [ErrWaitTimeout] if the goroutines have not exited within the given
// duration. The wait may begin before Stop has been called; the
// timeout applies to the whole wait.
func (c *Context) WaitTimeout(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.Stopping():
	case <-timer.C:
		return ErrWaitTimeout
	}
	for {
		n, changed := c.running.Get()
		if n == 0 {
			c.cancel(context.Canceled)
			return c.firstErr()
		}
		select {
		case <-changed:
		case <-timer.C:
			return ErrWaitTimeout
		}
	}
}

func (c *Context) firstErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.err
}
