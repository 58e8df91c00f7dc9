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

// Package notify contains a level-triggered value holder that allows
// goroutines to block until the value has been changed.
package notify

import (
	"errors"
	"sync"
)

// ErrNoUpdate may be returned from the callback passed to [Var.Update]
// to indicate that the value should not be changed and that waiters
// should not be woken.
var ErrNoUpdate = errors.New("no update")

// A Var holds a value and a channel that is closed whenever the value
// is replaced. Observers call [Var.Get] to receive the current value
// along with a channel to wait upon; when the channel closes, they call
// Get again to observe the new state. Because the value itself is
// retained, a late observer never misses the current level.
//
// The zero value of Var is ready to use. A Var is internally
// synchronized and is safe for concurrent use. A Var should not be
// copied after it has been created.
type Var[T any] struct {
	mu struct {
		sync.RWMutex
		data    T
		updated chan struct{} // Lazily created, closed on update.
	}
}

// VarOf returns a Var that holds the initial value.
func VarOf[T any](initial T) *Var[T] {
	v := &Var[T]{}
	v.mu.data = initial
	return v
}

// Get returns the current value and a channel that will be closed the
// next time the value is updated.
func (v *Var[T]) Get() (T, <-chan struct{}) {
	v.mu.RLock()
	data, ch := v.mu.data, v.mu.updated
	v.mu.RUnlock()
	if ch != nil {
		return data, ch
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mu.updated == nil {
		v.mu.updated = make(chan struct{})
	}
	return v.mu.data, v.mu.updated
}

// Peek returns the current value without allocating a notification
// channel.
func (v *Var[T]) Peek() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.mu.data
}

// Set replaces the value and wakes any waiters.
func (v *Var[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mu.data = next
	v.notifyLocked()
}

// Swap replaces the value, wakes any waiters, and returns the previous
// value.
func (v *Var[T]) Swap(next T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	old := v.mu.data
	v.mu.data = next
	v.notifyLocked()
	return old
}

// Update atomically applies the callback to the current value. If the
// callback returns [ErrNoUpdate], the value is left unchanged, waiters
// are not woken, and the current value is returned with a nil error.
// Any other error is returned to the caller and the value is left
// unchanged.
func (v *Var[T]) Update(fn func(old T) (T, error)) (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next, err := fn(v.mu.data)
	if errors.Is(err, ErrNoUpdate) {
		return v.mu.data, nil
	}
	if err != nil {
		return v.mu.data, err
	}
	v.mu.data = next
	v.notifyLocked()
	return next, nil
}

func (v *Var[T]) notifyLocked() {
	if v.mu.updated != nil {
		close(v.mu.updated)
		v.mu.updated = nil
	}
}
