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
	"sync/atomic"

	"github.com/cockroachdb/wmqueue/queue"
	"github.com/cockroachdb/wmqueue/stopper"
)

// Watchable is implemented by [queue.Queue] for any element type.
type Watchable interface {
	Watch() *queue.Watcher
}

// An Observer is invoked by a [Monitor] for each watermark transition.
// It must not block.
type Observer func(evt queue.Event)

// A Monitor reports the watermark transitions of a queue until the
// context begins stopping. It never modifies the queue.
type Monitor struct {
	lifecycle
	observed atomic.Int64
	observer Observer
	queue    Watchable
}

var _ Role = (*Monitor)(nil)

// NewMonitor constructs a Monitor. If observer is nil, transitions are
// only logged.
func NewMonitor(name string, q Watchable, observer Observer, opts Options) *Monitor {
	return &Monitor{
		lifecycle: newLifecycle(name, opts),
		observer:  observer,
		queue:     q,
	}
}

// Observed returns the number of transitions that have been reported.
func (m *Monitor) Observed() int64 {
	return m.observed.Load()
}

// Run implements [Role].
func (m *Monitor) Run(ctx *stopper.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	defer m.finish()
	m.log.V(1).Info("monitor started")

	w := m.queue.Watch()
	for {
		evt := w.Wait(ctx)
		if evt.Signal == queue.SignalStop {
			break
		}
		m.observed.Add(1)

		switch evt.Signal {
		case queue.SignalLow:
			m.log.Info("queue is nearly empty")
		case queue.SignalHigh:
			m.log.Info("queue is nearly full")
		default:
			m.log.V(1).Info("queue level is normal")
		}
		if m.observer != nil {
			m.observer(evt)
		}
	}

	m.log.Info("monitor stopped", "observed", m.Observed())
	return nil
}
