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
	"fmt"
	"time"

	"github.com/cockroachdb/wmqueue/notify"
	"github.com/cockroachdb/wmqueue/stopper"
)

// Watermark holds the level-triggered occupancy signals of a [Queue].
// Since the low threshold is below the high threshold, at most one of
// the two fields is true.
type Watermark struct {
	Low  bool // size <= low threshold
	High bool // size >= high threshold
}

func (w Watermark) String() string {
	switch {
	case w.Low:
		return "low"
	case w.High:
		return "high"
	default:
		return "normal"
	}
}

// Level is a consistent snapshot of a queue's size and the watermark
// signals derived from that size.
type Level struct {
	Size int
	Watermark
}

// Signal identifies why a [Watcher] woke up.
type Signal int

// Signals are listed in reporting priority order.
const (
	// SignalLow reports that the LOW watermark is set.
	SignalLow Signal = iota
	// SignalHigh reports that the HIGH watermark is set.
	SignalHigh
	// SignalStop reports that a stop was requested.
	SignalStop
	// SignalClear reports that the queue moved into the band between
	// the two thresholds, clearing both signals.
	SignalClear
)

func (s Signal) String() string {
	switch s {
	case SignalLow:
		return "low"
	case SignalHigh:
		return "high"
	case SignalStop:
		return "stop"
	case SignalClear:
		return "clear"
	default:
		return fmt.Sprintf("Signal(%d)", int(s))
	}
}

// An Event is returned from [Watcher.Wait].
type Event struct {
	Signal    Signal
	Watermark Watermark // The state that was observed.
}

// A Watcher observes transitions of a queue's watermark signals. Each
// Watcher remembers the last state it reported, so it wakes only when
// that state changes. A Watcher must not be shared between goroutines;
// call [Queue.Watch] once per observer.
type Watcher struct {
	level *notify.Var[Watermark]
	last  Watermark
}

// Wait blocks until the watermark signals differ from the state last
// reported by this Watcher or until the context begins stopping. A new
// Watcher starts from the cleared state, so a signal that is already
// raised is reported immediately.
//
// If more than one condition holds at once, the event is reported in
// the order LOW, HIGH, STOP.
func (w *Watcher) Wait(ctx *stopper.Context) Event {
	evt, _ := w.wait(ctx, nil)
	return evt
}

// WaitTimeout behaves like [Watcher.Wait], but returns [ErrTimedOut]
// if nothing happened within the given duration.
func (w *Watcher) WaitTimeout(ctx *stopper.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return w.wait(ctx, timer.C)
}

func (w *Watcher) wait(ctx *stopper.Context, expired <-chan time.Time) (Event, error) {
	for {
		cur, changed := w.level.Get()
		if cur != w.last {
			w.last = cur
			return eventFor(cur, ctx.IsStopping()), nil
		}
		select {
		case <-changed:
		case <-ctx.Stopping():
			// A transition that raced with the stop takes priority.
			cur = w.level.Peek()
			if cur != w.last {
				w.last = cur
				return eventFor(cur, true), nil
			}
			return Event{Signal: SignalStop, Watermark: cur}, nil
		case <-expired:
			return Event{Watermark: cur}, ErrTimedOut
		}
	}
}

func eventFor(level Watermark, stopping bool) Event {
	evt := Event{Watermark: level}
	switch {
	case level.Low:
		evt.Signal = SignalLow
	case level.High:
		evt.Signal = SignalHigh
	case stopping:
		evt.Signal = SignalStop
	default:
		evt.Signal = SignalClear
	}
	return evt
}
