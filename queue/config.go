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

import "fmt"

// Config describes the fixed capacity of a [Queue] and the occupancy
// levels at which its watermark signals are raised.
type Config struct {
	// Capacity is the maximum number of items held by the queue.
	Capacity int
	// LowThreshold raises the LOW signal while size <= LowThreshold.
	LowThreshold int
	// HighThreshold raises the HIGH signal while size >= HighThreshold.
	HighThreshold int
}

// DefaultConfig returns a small queue with a capacity of 10 and
// watermarks at 2 and 8.
func DefaultConfig() Config {
	return Config{
		Capacity:      10,
		LowThreshold:  2,
		HighThreshold: 8,
	}
}

// Validate returns an error wrapping [ErrInvalidConfig] unless
// 0 <= LowThreshold < HighThreshold < Capacity.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity %d must be positive", ErrInvalidConfig, c.Capacity)
	case c.LowThreshold < 0:
		return fmt.Errorf("%w: low threshold %d must not be negative",
			ErrInvalidConfig, c.LowThreshold)
	case c.LowThreshold >= c.HighThreshold:
		return fmt.Errorf("%w: low threshold %d must be less than high threshold %d",
			ErrInvalidConfig, c.LowThreshold, c.HighThreshold)
	case c.HighThreshold >= c.Capacity:
		return fmt.Errorf("%w: high threshold %d must be less than capacity %d",
			ErrInvalidConfig, c.HighThreshold, c.Capacity)
	default:
		return nil
	}
}

// Evaluate returns the watermark signals for a queue holding size
// items.
func (c Config) Evaluate(size int) Watermark {
	return Watermark{
		Low:  size <= c.LowThreshold,
		High: size >= c.HighThreshold,
	}
}

func (c Config) String() string {
	return fmt.Sprintf("capacity=%d low=%d high=%d", c.Capacity, c.LowThreshold, c.HighThreshold)
}
