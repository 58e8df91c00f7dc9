// Copyright 2025 The Cockroach Authors
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

// Package semver provides the semantic versions used to tag
// configuration file formats.
package semver

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Version holds a validated semantic version, such as v1.1.0.
type Version struct {
	version string
}

// Parse validates a semantic version string. A missing leading "v" is
// tolerated, since hand-written files often omit it.
func Parse(version string) (*Version, error) {
	version = strings.TrimSpace(version)
	if version != "" && !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return nil, fmt.Errorf("not a semver: %q", version)
	}
	return &Version{version: semver.Canonical(version)}, nil
}

// MustParse panics if the version string is not a valid semantic version.
func MustParse(version string) *Version {
	v, err := Parse(version)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the major component, such as v1.
func (v *Version) Major() string {
	return semver.Major(v.version)
}

// MinVersion returns true if the version is at least the specified
// minimum.
func (v *Version) MinVersion(minVersion *Version) bool {
	return semver.Compare(v.version, minVersion.version) >= 0
}

// ReadableBy returns true if a reader that understands the given
// version can consume data tagged with this version: the major
// components must match and this version must not be newer.
func (v *Version) ReadableBy(reader *Version) bool {
	return v.Major() == reader.Major() && reader.MinVersion(v)
}

// String implements the Stringer interface.
func (v *Version) String() string {
	return v.version
}
