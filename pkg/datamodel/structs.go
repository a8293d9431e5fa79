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

package datamodel

import "time"

// StationResult is the captured outcome of one station visit within a cycle
type StationResult struct {
	Timestamp time.Time `json:"Timestamp"`
	ImagePath string    `json:"ImagePath"`
	Status    string    `json:"Status"`
	X         float64   `json:"X"`
	Y         float64   `json:"Y"`
	Z         float64   `json:"Z"`
}

// CycleStateRecord is the UI-facing state file, rewritten on every station
// event and cleared at cycle start. Stations is keyed by physical station
// number, merge is idempotent on that key.
type CycleStateRecord struct {
	LastUpdated time.Time             `json:"LastUpdated"`
	Stations    map[int]StationResult `json:"Stations"`
	BatchID     string                `json:"BatchId"`
}

// OEEResult carries the three classic ratios plus the raw counters they were
// derived from. The ratios are deliberately not clamped to [0,1]; upstream
// counters with unit drift can push Performance above 1 and that must be
// surfaced as-is.
type OEEResult struct {
	Availability            float64 `json:"availability"`
	Performance             float64 `json:"performance"`
	Quality                 float64 `json:"quality"`
	OverallOEE              float64 `json:"oee"`
	UptimeMinutes           float64 `json:"uptimeMinutes"`
	DowntimeMinutes         float64 `json:"downtimeMinutes"`
	OKParts                 float64 `json:"okParts"`
	NGParts                 float64 `json:"ngParts"`
	TotalParts              float64 `json:"totalParts"`
	CurrentCycleTimeSeconds float64 `json:"currentCycleTimeSeconds"`
}

// ProductionRecord is one finalized inspection cycle, appended to the
// production log. Aborted cycles carry a "[RESET]" suffix on the code.
type ProductionRecord struct {
	StartedAt   time.Time             `json:"startedAt"`
	FinalizedAt time.Time             `json:"finalizedAt"`
	Stations    map[int]StationResult `json:"stations"`
	Code        string                `json:"code"`
	OEE         OEEResult             `json:"oee"`
	Completed   bool                  `json:"completed"`
}

// ShiftConfig is one row of the shift schedule. StartTime and EndTime are
// times of day in "15:04" notation.
type ShiftConfig struct {
	ShiftName string
	StartTime string
	EndTime   string
	ID        int
	IsActive  bool
}

// Position maps one physical station (servo position) to its index within
// the inspection sequence
type Position struct {
	PositionID    int `json:"positionId"`
	SequenceIndex int `json:"sequenceIndex"`
}

// Tag is one row of the tag configuration, resolving a tag number to its
// controller and address
type Tag struct {
	Address     string
	Description string
	TagNo       int
	PLCNo       int
}
