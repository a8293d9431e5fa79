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

// Package sequence resolves the ordered mapping between sequence steps and
// physical station ids. Consumers read the same underlying data in two
// orders (by step for the quality bitmask, by station id for listings), so
// both are first-class queries here instead of ad hoc re-sorts at the call
// sites.
package sequence

import (
	"sort"
	"sync"

	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// DefaultSequence is the fixed fallback used when the servo configuration
// cannot be loaded: the snake pattern of the deployed line, indexed by
// sequence step.
var DefaultSequence = []int{1, 2, 3, 6, 5, 4, 7, 8, 9, 12, 11, 10}

// Loader is the servo/station configuration collaborator
type Loader interface {
	LoadPositions() ([]datamodel.Position, error)
}

// Provider caches the last loaded sequence. Reload is called lazily: at
// service start and at the start of any cycle while no cycle is active, so
// configuration edits apply to the next cycle and never to one in flight.
type Provider struct {
	loader    Loader
	positions []datamodel.Position
	mu        sync.RWMutex
}

func NewProvider(loader Loader) *Provider {
	p := &Provider{loader: loader}
	p.Reload()
	return p
}

// Reload pulls the station map from the collaborator. Station id 0 is
// reserved for the code-scan step and filtered out, as are non-positive
// sequence indices. Any load failure falls back to DefaultSequence with an
// error log; Reload never fails towards the caller.
func (p *Provider) Reload() {
	positions, err := p.loader.LoadPositions()
	if err != nil {
		zap.S().Errorf("Failed to load station sequence, using fallback: %s", err)
		p.setFallback()
		return
	}

	filtered := make([]datamodel.Position, 0, len(positions))
	for _, position := range positions {
		if position.PositionID == 0 || position.SequenceIndex <= 0 {
			continue
		}
		filtered = append(filtered, position)
	}
	if len(filtered) == 0 {
		zap.S().Errorf("Station sequence configuration is empty, using fallback")
		p.setFallback()
		return
	}

	p.mu.Lock()
	p.positions = filtered
	p.mu.Unlock()
}

func (p *Provider) setFallback() {
	fallback := make([]datamodel.Position, len(DefaultSequence))
	for step, stationID := range DefaultSequence {
		fallback[step] = datamodel.Position{PositionID: stationID, SequenceIndex: step + 1}
	}
	p.mu.Lock()
	p.positions = fallback
	p.mu.Unlock()
}

// OrderedBySequence returns physical station ids indexed by sequence step
// (step 0 is the first entry). This is the order the quality sync uses to
// build the cavity bitmask.
func (p *Provider) OrderedBySequence() []int {
	p.mu.RLock()
	positions := make([]datamodel.Position, len(p.positions))
	copy(positions, p.positions)
	p.mu.RUnlock()

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].SequenceIndex < positions[j].SequenceIndex
	})
	stations := make([]int, len(positions))
	for i, position := range positions {
		stations[i] = position.PositionID
	}
	return stations
}

// OrderedByStation returns the positions sorted by physical station id,
// the view for callers that list stations by id rather than walk the
// sequence. Step-indexed lookups go through StationForStep instead.
func (p *Provider) OrderedByStation() []datamodel.Position {
	p.mu.RLock()
	positions := make([]datamodel.Position, len(p.positions))
	copy(positions, p.positions)
	p.mu.RUnlock()

	sort.Slice(positions, func(i, j int) bool {
		return positions[i].PositionID < positions[j].PositionID
	})
	return positions
}

// Length returns the number of sequence steps
func (p *Provider) Length() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

// StationForStep returns the physical station id for a sequence step. Out of
// range steps are clamped to station 0 with an error log, the caller keeps
// processing.
func (p *Provider) StationForStep(step int) int {
	ordered := p.OrderedBySequence()
	if step < 0 || step >= len(ordered) {
		zap.S().Errorf("Sequence step %d out of range (sequence length %d), clamping to station 0", step, len(ordered))
		return 0
	}
	return ordered[step]
}
