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
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by the errors returned from
	// [Config.Validate] and [New].
	ErrInvalidConfig = errors.New("invalid queue configuration")

	// ErrCancelled is returned when a blocked operation is interrupted
	// by a stop request. No item was enqueued or dequeued.
	ErrCancelled = fmt.Errorf("%w: queue operation interrupted by stop", context.Canceled)

	// ErrTimedOut is returned when a timed operation could not proceed
	// before its timeout elapsed. No item was enqueued or dequeued.
	ErrTimedOut = fmt.Errorf("%w: queue operation timed out", context.DeadlineExceeded)
)

// Outcome classifies the result of a queue operation.
type Outcome int

// Outcomes of a push, pop, or watcher wait.
const (
	Success Outcome = iota
	Cancelled
	TimedOut
	Failed
)

// OutcomeOf classifies the error returned by a queue operation.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, ErrCancelled):
		return Cancelled
	case errors.Is(err, ErrTimedOut):
		return TimedOut
	default:
		return Failed
	}
}

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}
