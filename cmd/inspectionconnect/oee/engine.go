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

package oee

import (
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/edge"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/sequence"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// ProductionLog is the durable append collaborator, one row per finalized
// cycle
type ProductionLog interface {
	AppendRecord(record datamodel.ProductionRecord) error
}

// Config carries the tag numbers and constants the engine works against
type Config struct {
	CCDTriggerTagNo       int
	CodeTagNo             int
	StatusTagNo           int
	XTagNo                int
	YTagNo                int
	ZTagNo                int
	CycleTimeA1TagNo      int
	CycleAckB1TagNo       int
	CycleStartTagNo       int
	CycleTimeSecondsTagNo int
	UptimeMinutesTagNo    int
	DowntimeMinutesTagNo  int
	OKPartsTagNo          int
	NGPartsTagNo          int
	TotalPartsTagNo       int
	StationCount          int
	IdealCycleSeconds     float64
}

// Engine watches the CCD trigger and the cycle-time tags independently of
// the production cycle engine, so a stalled workflow there can never lose an
// OEE record here.
type Engine struct {
	cfg    Config
	log    ProductionLog
	writes *plc.WriteQueue

	// sequence step counter -> physical station id, loaded once at
	// construction; missing entries fall back to the step index itself
	posMap map[int]int

	ccdEdge        *edge.Detector
	a1Edge         *edge.Detector
	cycleStartEdge *edge.Detector

	mu                   sync.Mutex
	record               *datamodel.ProductionRecord
	stationCounter       int
	lastCycleTimeSeconds float64
}

func NewEngine(cfg Config, positions sequence.Loader, log ProductionLog, writes *plc.WriteQueue) *Engine {
	if cfg.StationCount <= 0 {
		cfg.StationCount = 12
	}
	e := &Engine{
		cfg:            cfg,
		log:            log,
		writes:         writes,
		posMap:         make(map[int]int),
		ccdEdge:        edge.NewDetector(),
		a1Edge:         edge.NewDetector(),
		cycleStartEdge: edge.NewDetector(),
	}

	loaded, err := positions.LoadPositions()
	if err != nil {
		zap.S().Errorf("Failed to load positions for OEE station mapping, falling back to step indices: %s", err)
		return e
	}
	for _, position := range loaded {
		if position.SequenceIndex <= 0 {
			continue
		}
		e.posMap[position.SequenceIndex-1] = position.PositionID
	}
	return e
}

// OnSnapshot is called once per poll tick
func (e *Engine) OnSnapshot(snapshot datamodel.TagSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in OEE engine tick: %v", r)
		}
	}()

	if e.ccdEdge.Observe(e.cfg.CCDTriggerTagNo, snapshot) == edge.Rising {
		e.captureStation(snapshot)
	}

	switch e.a1Edge.Observe(e.cfg.CycleTimeA1TagNo, snapshot) {
	case edge.Rising:
		e.finalize(snapshot, true)
		e.writes.EnqueueBool(e.cfg.CycleAckB1TagNo, true)
	case edge.Falling:
		e.writes.EnqueueBool(e.cfg.CycleAckB1TagNo, false)
	}

	// safety net for operator-initiated mid-cycle resets, independent of A1
	if e.cycleStartEdge.Observe(e.cfg.CycleStartTagNo, snapshot) == edge.Falling {
		e.finalize(snapshot, false)
	}
}

func (e *Engine) captureStation(snapshot datamodel.TagSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	code := snapshot.StringOr(e.cfg.CodeTagNo, "")
	if e.record == nil || e.record.Code != code {
		// a new code mid-record means the previous one was never finalized;
		// start fresh rather than mixing two parts into one record
		e.record = &datamodel.ProductionRecord{
			Code:      code,
			StartedAt: time.Now(),
			Stations:  make(map[int]datamodel.StationResult),
		}
		e.stationCounter = 0
	}

	stationID, ok := e.posMap[e.stationCounter]
	if !ok {
		stationID = e.stationCounter
	}
	if stationID < 0 || stationID > e.cfg.StationCount {
		zap.S().Errorf("Mapped station id %d out of range for step %d, clamping to 0", stationID, e.stationCounter)
		stationID = 0
	}

	status := datamodel.StatusOK
	if raw, ok2 := snapshot[e.cfg.StatusTagNo]; ok2 {
		status = datamodel.ConvertStatusToString(raw)
	}
	e.record.Stations[stationID] = datamodel.StationResult{
		Status:    status,
		X:         snapshot.Float64Or(e.cfg.XTagNo, 0),
		Y:         snapshot.Float64Or(e.cfg.YTagNo, 0),
		Z:         snapshot.Float64Or(e.cfg.ZTagNo, 0),
		Timestamp: time.Now(),
	}
	e.stationCounter++
}

// finalize computes the OEE ratios from the snapshot's counters, appends the
// record to the production log and clears the in-memory state. Aborted
// records keep their data but are marked with a "[RESET]" code suffix.
func (e *Engine) finalize(snapshot datamodel.TagSnapshot, completed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil {
		if !completed {
			// nothing to abort
			return
		}
		e.record = &datamodel.ProductionRecord{
			StartedAt: time.Now(),
			Stations:  make(map[int]datamodel.StationResult),
		}
	}

	cycleTime := snapshot.Float64Or(e.cfg.CycleTimeSecondsTagNo, e.lastCycleTimeSeconds)
	result := Compute(
		snapshot.Float64Or(e.cfg.UptimeMinutesTagNo, 0),
		snapshot.Float64Or(e.cfg.DowntimeMinutesTagNo, 0),
		snapshot.Float64Or(e.cfg.OKPartsTagNo, 0),
		snapshot.Float64Or(e.cfg.NGPartsTagNo, 0),
		snapshot.Float64Or(e.cfg.TotalPartsTagNo, 0),
		e.cfg.IdealCycleSeconds,
		cycleTime,
	)
	e.lastCycleTimeSeconds = cycleTime

	record := *e.record
	record.OEE = result
	record.FinalizedAt = time.Now()
	record.Completed = completed
	if !completed {
		record.Code += "[RESET]"
	}

	if err := e.log.AppendRecord(record); err != nil {
		zap.S().Errorf("Failed to append production record for %s: %s", record.Code, err)
	}
	zap.S().Infow("Finalized production record",
		"code", record.Code,
		"completed", completed,
		"oee", result.OverallOEE,
	)

	e.record = nil
	e.stationCounter = 0
}

// Calculate recomputes the OEE ratios from the snapshot for live display.
// It has no side effects; when the snapshot carries no cycle time the last
// finalized cycle time is shown instead.
func (e *Engine) Calculate(snapshot datamodel.TagSnapshot) datamodel.OEEResult {
	e.mu.Lock()
	lastCycleTime := e.lastCycleTimeSeconds
	e.mu.Unlock()

	return Compute(
		snapshot.Float64Or(e.cfg.UptimeMinutesTagNo, 0),
		snapshot.Float64Or(e.cfg.DowntimeMinutesTagNo, 0),
		snapshot.Float64Or(e.cfg.OKPartsTagNo, 0),
		snapshot.Float64Or(e.cfg.NGPartsTagNo, 0),
		snapshot.Float64Or(e.cfg.TotalPartsTagNo, 0),
		e.cfg.IdealCycleSeconds,
		snapshot.Float64Or(e.cfg.CycleTimeSecondsTagNo, lastCycleTime),
	)
}
