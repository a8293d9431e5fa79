// Copyright 2023 UMH Systems GmbH
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

// Package edge tracks boolean tag transitions between consecutive snapshots.
// Every subsystem that reacts to tag flanks owns its own Detector so that two
// subsystems watching the same physical tag cannot interfere with each other.
package edge

import (
	"sync"

	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

// Edge is the transition kind observed for one tag between two snapshots
type Edge int

const (
	Unchanged Edge = iota
	Rising
	Falling
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	}
	return "unchanged"
}

// Detector remembers the last coerced boolean per tag. The first observation
// of a tag only seeds the state and never counts as an edge.
type Detector struct {
	last map[int]bool
	mu   sync.Mutex
}

func NewDetector() *Detector {
	return &Detector{
		last: make(map[int]bool),
	}
}

// Observe coerces the tag from the snapshot (absent tags read as false),
// compares it against the previous observation and updates the stored state
func (d *Detector) Observe(tagNo int, snapshot datamodel.TagSnapshot) Edge {
	current := snapshot.BoolOr(tagNo, false)

	d.mu.Lock()
	defer d.mu.Unlock()

	previous, seen := d.last[tagNo]
	d.last[tagNo] = current

	if !seen || previous == current {
		return Unchanged
	}
	if current {
		return Rising
	}
	return Falling
}
