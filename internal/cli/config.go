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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/wmqueue/queue"
	"github.com/cockroachdb/wmqueue/retry"
	"github.com/cockroachdb/wmqueue/semver"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the newest configuration file format understood by
// this binary. Files with the same major version are accepted.
const SchemaVersion = "v1.1.0"

var schemaVersion = semver.MustParse(SchemaVersion)

// ErrUnsupportedVersion is returned when a configuration file declares
// a schema version that this binary cannot read.
var ErrUnsupportedVersion = errors.New("unsupported configuration version")

// QueueConfig is the file representation of [queue.Config].
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	Low      int `yaml:"low"`
	High     int `yaml:"high"`
}

// RetryConfig controls how consumers retry a failing sink.
type RetryConfig struct {
	Base  time.Duration `yaml:"base"`
	Max   time.Duration `yaml:"max"`
	Limit int           `yaml:"limit"`
}

// Config contains the settings for a demo run.
type Config struct {
	Version         string        `yaml:"version"`
	Queue           QueueConfig   `yaml:"queue"`
	Producers       int           `yaml:"producers"`
	Consumers       int           `yaml:"consumers"`
	ProduceInterval time.Duration `yaml:"produceInterval"`
	ConsumeInterval time.Duration `yaml:"consumeInterval"`
	Duration        time.Duration `yaml:"duration"`
	Grace           time.Duration `yaml:"grace"`
	Retry           RetryConfig   `yaml:"retry"`

	path string // Set by the --config flag.
}

// DefaultConfig returns a configuration with one producer that is
// faster than its one consumer, so the queue drifts toward full.
func DefaultConfig() *Config {
	qc := queue.DefaultConfig()
	return &Config{
		Version: SchemaVersion,
		Queue: QueueConfig{
			Capacity: qc.Capacity,
			Low:      qc.LowThreshold,
			High:     qc.HighThreshold,
		},
		Producers:       1,
		Consumers:       1,
		ProduceInterval: 200 * time.Millisecond,
		ConsumeInterval: 500 * time.Millisecond,
		Duration:        10 * time.Second,
		Grace:           5 * time.Second,
		Retry: RetryConfig{
			Base:  10 * time.Millisecond,
			Max:   time.Second,
			Limit: 5,
		},
	}
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	f.StringVar(&c.path, "config", "", "a YAML configuration file; flags override its values")
	f.IntVar(&c.Queue.Capacity, "capacity", c.Queue.Capacity, "the maximum number of queued items")
	f.IntVar(&c.Queue.Low, "low", c.Queue.Low, "raise the LOW watermark at or below this size")
	f.IntVar(&c.Queue.High, "high", c.Queue.High, "raise the HIGH watermark at or above this size")
	f.IntVar(&c.Producers, "producers", c.Producers, "the number of producers")
	f.IntVar(&c.Consumers, "consumers", c.Consumers, "the number of consumers")
	f.DurationVar(&c.ProduceInterval, "produceInterval", c.ProduceInterval,
		"the delay after each produced item")
	f.DurationVar(&c.ConsumeInterval, "consumeInterval", c.ConsumeInterval,
		"the delay after each consumed item")
	f.DurationVar(&c.Duration, "duration", c.Duration,
		"stop after this long; zero runs until interrupted")
	f.DurationVar(&c.Grace, "grace", c.Grace, "how long to wait for roles to exit after stopping")
	f.DurationVar(&c.Retry.Base, "retryBase", c.Retry.Base, "the initial sink retry delay")
	f.DurationVar(&c.Retry.Max, "retryMax", c.Retry.Max, "the maximum sink retry delay")
	f.IntVar(&c.Retry.Limit, "retryLimit", c.Retry.Limit, "the number of sink retries; zero retries forever")
}

// Preflight loads the configuration file named by the --config flag,
// if any, re-applies the flags that were set explicitly, and validates
// the result.
func (c *Config) Preflight(f *pflag.FlagSet) error {
	if c.path != "" {
		explicit := make(map[string]string)
		f.Visit(func(flag *pflag.Flag) { explicit[flag.Name] = flag.Value.String() })

		if err := c.loadFile(c.path); err != nil {
			return err
		}
		for name, value := range explicit {
			if err := f.Set(name, value); err != nil {
				return fmt.Errorf("--%s: %w", name, err)
			}
		}
	}
	return c.Validate()
}

// QueueConfig converts the file representation to a [queue.Config].
func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		Capacity:      c.Queue.Capacity,
		LowThreshold:  c.Queue.Low,
		HighThreshold: c.Queue.High,
	}
}

// Backoff returns a new retry strategy for a consumer.
func (c *Config) Backoff() (retry.Backoff, error) {
	return retry.NewExpBackoff(c.Retry.Base, c.Retry.Max, c.Retry.Limit)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := checkVersion(c.Version); err != nil {
		return err
	}
	if err := c.QueueConfig().Validate(); err != nil {
		return err
	}
	if c.Producers < 1 {
		return errors.New("at least one producer is required")
	}
	if c.Consumers < 1 {
		return errors.New("at least one consumer is required")
	}
	if c.ProduceInterval < 0 || c.ConsumeInterval < 0 {
		return errors.New("intervals must not be negative")
	}
	if c.Duration < 0 {
		return errors.New("duration must not be negative")
	}
	if c.Grace <= 0 {
		return errors.New("grace period must be positive")
	}
	if _, err := c.Backoff(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// YAML returns the configuration in file format.
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// Fields that are absent from the file keep their current values.
	c.Version = ""
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w", path, err)
	}
	if c.Version == "" {
		return fmt.Errorf("%s: %w: missing version", path, ErrUnsupportedVersion)
	}
	if err := checkVersion(c.Version); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func checkVersion(version string) error {
	v, err := semver.Parse(version)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedVersion, err)
	}
	if !v.ReadableBy(schemaVersion) {
		return fmt.Errorf("%w: %s; this binary reads %s.x up to %s",
			ErrUnsupportedVersion, v, schemaVersion.Major(), schemaVersion)
	}
	return nil
}
