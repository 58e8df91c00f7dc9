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

// Package roles contains the long-running participants that share a
// [queue.Queue]: producers that fill it, consumers that drain it, and a
// monitor that reports watermark transitions.
//
// Every role has the same two-state lifecycle. A role is [Running]
// from construction until its Run method returns, at which point it
// is [Stopped] for good; calling Run a second time is an error. Roles
// are registered with a [stopper.Context] by [Start], which is also
// how their completion is joined.
package roles

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/wmqueue/notify"
	"github.com/cockroachdb/wmqueue/retry"
	"github.com/cockroachdb/wmqueue/stopper"
	"github.com/go-logr/logr"
)

// ErrRestarted is returned if a role's Run method is called more than
// once.
var ErrRestarted = errors.New("role cannot be restarted")

// State is the lifecycle state of a role.
type State int

// The states of a role.
const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A Role is a long-running participant.
type Role interface {
	// Name is used to identify the role in logs.
	Name() string
	// Run executes the role until the context begins stopping or the
	// role can no longer make progress.
	Run(ctx *stopper.Context) error
	// State returns the current state and a channel that is closed
	// when the state changes.
	State() (State, <-chan struct{})
}

// Options contains optional settings shared by the role constructors.
// The zero value is usable.
type Options struct {
	// Backoff returns a new strategy for retrying a consumer's sink
	// when it fails with [retry.ErrRetriable]. If nil, sink errors are
	// not retried. Ignored by other roles.
	Backoff func() (retry.Backoff, error)
	// Interval paces a producer or consumer by sleeping after each
	// successful operation. Ignored by the monitor.
	Interval time.Duration
	// Log receives role activity. Defaults to [logr.Discard].
	Log logr.Logger
}

func (o Options) logger(name string) logr.Logger {
	if o.Log.GetSink() == nil {
		return logr.Discard()
	}
	return o.Log.WithName(name)
}

// Start registers each role with the context. An error is returned if
// the context is already stopping; roles that were started before the
// error are unaffected.
func Start(ctx *stopper.Context, roles ...Role) error {
	for _, r := range roles {
		if err := ctx.Go(r.Run); err != nil {
			return fmt.Errorf("starting %s: %w", r.Name(), err)
		}
	}
	return nil
}

// lifecycle implements the parts of [Role] common to all roles.
type lifecycle struct {
	name    string
	log     logr.Logger
	started atomic.Bool
	state   *notify.Var[State]
}

func newLifecycle(name string, opts Options) lifecycle {
	return lifecycle{name: name, log: opts.logger(name), state: notify.VarOf(Running)}
}

func (l *lifecycle) Name() string { return l.name }

func (l *lifecycle) State() (State, <-chan struct{}) { return l.state.Get() }

func (l *lifecycle) begin() error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", l.name, ErrRestarted)
	}
	return nil
}

func (l *lifecycle) finish() {
	if prev := l.state.Swap(Stopped); prev != Running {
		panic(fmt.Sprintf("%s: finished from state %s", l.name, prev))
	}
}

// pace sleeps for the interval, returning false if the context began
// stopping first.
func pace(ctx *stopper.Context, interval time.Duration) bool {
	if interval <= 0 {
		return !ctx.IsStopping()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Stopping():
		return false
	}
}
