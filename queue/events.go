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

// Op identifies the queue operation reported to [Events.OnAbort].
type Op string

// Operations reported through [Events].
const (
	OpPush Op = "push"
	OpPop  Op = "pop"
)

// Events provides a [Queue] with optional callbacks to observe its
// activity. The callbacks are invoked after the queue's critical
// section has been released, so callbacks from different goroutines
// may be observed out of order. Callbacks must not block.
//
// See [Queue.SetEvents].
type Events[T any] struct {
	OnAbort      func(op Op, err error)
	OnPop        func(item T, size int)
	OnPush       func(item T, size int)
	OnTransition func(from, to Watermark)
}

func (e *Events[T]) doAbort(op Op, err error) {
	if e != nil && e.OnAbort != nil {
		e.OnAbort(op, err)
	}
}

func (e *Events[T]) doPop(item T, size int) {
	if e != nil && e.OnPop != nil {
		e.OnPop(item, size)
	}
}

func (e *Events[T]) doPush(item T, size int) {
	if e != nil && e.OnPush != nil {
		e.OnPush(item, size)
	}
}

func (e *Events[T]) doTransition(from, to Watermark) {
	if from == to {
		return
	}
	if e != nil && e.OnTransition != nil {
		e.OnTransition(from, to)
	}
}
