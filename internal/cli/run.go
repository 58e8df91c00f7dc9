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

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/wmqueue/queue"
	"github.com/cockroachdb/wmqueue/roles"
	"github.com/cockroachdb/wmqueue/stopper"
	"github.com/go-logr/logr"
)

// Summary describes the result of a demo run.
type Summary struct {
	Pushed      int64
	Popped      int64
	Failed      int64
	Transitions int64
	Final       queue.Level
	Elapsed     time.Duration
}

// Write prints the summary in a human-readable form.
func (s *Summary) Write(out io.Writer) error {
	_, err := fmt.Fprintf(out,
		"pushed=%d popped=%d failed=%d transitions=%d final size=%d (%s) elapsed=%s\n",
		s.Pushed, s.Popped, s.Failed, s.Transitions, s.Final.Size, s.Final.Watermark,
		s.Elapsed.Round(time.Millisecond))
	return err
}

// Run starts a monitor, producers, and consumers around a single
// queue. It stops them after the configured duration, or when the
// context is canceled, and waits for all of them to exit.
func Run(ctx context.Context, cfg *Config, log logr.Logger) (*Summary, error) {
	q, err := queue.New[int](cfg.QueueConfig())
	if err != nil {
		return nil, err
	}
	q.SetEvents(&queue.Events[int]{
		OnTransition: func(from, to queue.Watermark) {
			log.V(1).Info("watermark changed", "from", from, "to", to)
		},
	})

	start := time.Now()
	stop := stopper.WithContext(ctx)
	defer stop.Stop(0)

	monitor := roles.NewMonitor("monitor", q, nil, roles.Options{Log: log})
	all := []roles.Role{monitor}

	producers := make([]*roles.Producer[int], cfg.Producers)
	for i := range producers {
		producers[i] = roles.NewProducer(fmt.Sprintf("producer-%d", i+1), q, roles.Counter(),
			roles.Options{Interval: cfg.ProduceInterval, Log: log})
		all = append(all, producers[i])
	}

	consumers := make([]*roles.Consumer[int], cfg.Consumers)
	for i := range consumers {
		name := fmt.Sprintf("consumer-%d", i+1)
		sink := roles.SinkFunc[int](func(_ context.Context, item int) error {
			log.Info("consumed", "consumer", name, "item", item)
			return nil
		})
		consumers[i] = roles.NewConsumer(name, q, sink, roles.Options{
			Backoff:  cfg.Backoff,
			Interval: cfg.ConsumeInterval,
			Log:      log,
		})
		all = append(all, consumers[i])
	}

	log.Info("starting", "queue", cfg.QueueConfig().String(),
		"producers", cfg.Producers, "consumers", cfg.Consumers, "duration", cfg.Duration)
	if err := roles.Start(stop, all...); err != nil {
		return nil, err
	}

	var deadline <-chan time.Time
	if cfg.Duration > 0 {
		timer := time.NewTimer(cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-deadline:
		log.Info("duration elapsed, requesting stop")
	case <-stop.Stopping():
		log.Info("interrupted, requesting stop")
	}
	stop.Stop(cfg.Grace)

	waitErr := stop.WaitTimeout(cfg.Grace)
	summary := &Summary{
		Transitions: monitor.Observed(),
		Final:       q.Snapshot(),
		Elapsed:     time.Since(start),
	}
	for _, p := range producers {
		summary.Pushed += p.Pushed()
	}
	for _, c := range consumers {
		summary.Popped += c.Popped()
		summary.Failed += c.Failed()
	}
	if errors.Is(waitErr, stopper.ErrWaitTimeout) {
		return summary, fmt.Errorf("roles did not exit within %s: %w", cfg.Grace, waitErr)
	}
	return summary, waitErr
}
