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

// Package cycle drives one inspection run of one physical part through all
// stations: trigger edge detection, image hand-off, the per-step state
// machine and the acknowledgement back to the controller.
package cycle

import (
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/edge"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/sequence"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// EventPublisher receives business events. Implementations must not block.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

// BatchSyncer is the external quality sync, kicked off once per cycle start
type BatchSyncer interface {
	SyncBatch(code string)
}

// Config carries the tag numbers and folders the engine works against
type Config struct {
	ImageDropFolder    string
	StateFolder        string
	TriggerTagNo       int
	CodeTagNo          int
	StatusTagNo        int
	XTagNo             int
	YTagNo             int
	ZTagNo             int
	AckTagNo           int
	CycleStartTagNo    int
	ImagePollInterval  time.Duration
	ImageWaitTimeout   time.Duration
	CompleteResetDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ImagePollInterval <= 0 {
		c.ImagePollInterval = 200 * time.Millisecond
	}
	if c.ImageWaitTimeout <= 0 {
		c.ImageWaitTimeout = 10 * time.Second
	}
	if c.CompleteResetDelay <= 0 {
		c.CompleteResetDelay = 1500 * time.Millisecond
	}
}

// stationCapture is everything read from the snapshot for one trigger. All
// fields come from the same snapshot, never from a blend of two ticks.
type stationCapture struct {
	timestamp time.Time
	code      string
	status    string
	x         float64
	y         float64
	z         float64
}

// Engine is the production cycle engine. The tick handler and the delayed
// reset task both mutate the cycle state, so every access goes through mu.
type Engine struct {
	cfg Config

	seq       *sequence.Provider
	writes    *plc.WriteQueue
	tagConfig plc.TagConfigProvider
	state     *StateStore
	publisher EventPublisher
	sync      BatchSyncer

	triggerEdge    *edge.Detector
	cycleStartEdge *edge.Detector

	mu            sync.Mutex
	activeBatchID string
	currentStep   int
	startedAt     time.Time
	resetTimer    *time.Timer
}

func NewEngine(cfg Config, seq *sequence.Provider, writes *plc.WriteQueue, tagConfig plc.TagConfigProvider, publisher EventPublisher, sync BatchSyncer) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:            cfg,
		seq:            seq,
		writes:         writes,
		tagConfig:      tagConfig,
		state:          &StateStore{Folder: cfg.StateFolder},
		publisher:      publisher,
		sync:           sync,
		triggerEdge:    edge.NewDetector(),
		cycleStartEdge: edge.NewDetector(),
	}
	return e
}

// OnSnapshot is called once per poll tick. It must never block and never
// panic towards the poll loop.
func (e *Engine) OnSnapshot(snapshot datamodel.TagSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in cycle engine tick: %v", r)
		}
	}()

	// operator dropping the cycle-start tag mid-cycle is an abort
	if e.cycleStartEdge.Observe(e.cfg.CycleStartTagNo, snapshot) == edge.Falling {
		e.ForceResetCycle("cycle start tag falling edge")
	}

	if e.triggerEdge.Observe(e.cfg.TriggerTagNo, snapshot) != edge.Rising {
		return
	}

	capture := stationCapture{
		timestamp: time.Now(),
		code:      snapshot.StringOr(e.cfg.CodeTagNo, ""),
		status:    datamodel.StatusOK,
		x:         snapshot.Float64Or(e.cfg.XTagNo, 0),
		y:         snapshot.Float64Or(e.cfg.YTagNo, 0),
		z:         snapshot.Float64Or(e.cfg.ZTagNo, 0),
	}
	if raw, ok := snapshot[e.cfg.StatusTagNo]; ok {
		capture.status = datamodel.ConvertStatusToString(raw)
	}

	// the image wait can take up to 10 seconds, never on the tick
	go e.runTriggerWorkflow(capture)
}

// runTriggerWorkflow waits for the station image and advances the cycle.
// Every failure aborts this one trigger without touching cross-cycle state.
func (e *Engine) runTriggerWorkflow(capture stationCapture) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in trigger workflow: %v", r)
		}
	}()

	imagePath, err := waitForImage(e.cfg.ImageDropFolder, e.cfg.ImagePollInterval, e.cfg.ImageWaitTimeout)
	if err != nil {
		internal.TriggerWorkflowsTotal.WithLabelValues("no_image").Inc()
		zap.S().Errorf("Trigger workflow aborted, no image within %s: %s", e.cfg.ImageWaitTimeout, err)
		return
	}

	if !e.processCapture(capture, imagePath) {
		internal.TriggerWorkflowsTotal.WithLabelValues("no_code").Inc()
		return
	}
	internal.TriggerWorkflowsTotal.WithLabelValues("processed").Inc()
	e.writeAck()
}

// processCapture runs the cycle state machine. Returns false when the
// trigger was a no-op (no active cycle and no code).
func (e *Engine) processCapture(capture stationCapture, imagePath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := datamodel.StationResult{
		ImagePath: imagePath,
		Status:    capture.status,
		X:         capture.x,
		Y:         capture.y,
		Z:         capture.z,
		Timestamp: capture.timestamp,
	}

	if e.activeBatchID == "" {
		if capture.code == "" {
			return false
		}
		// a fresh cycle picks up configuration edits made since the last one
		e.seq.Reload()
		e.state.Clear()
		e.activeBatchID = capture.code
		e.currentStep = 0
		e.startedAt = capture.timestamp
		// station 0 is the code-scan step, outside the sequence
		if err := e.state.Merge(e.activeBatchID, 0, result); err != nil {
			zap.S().Errorf("Failed to write initial cycle state: %s", err)
		}
		zap.S().Infof("Cycle started for code %s", e.activeBatchID)
		e.publish("cycle.started", map[string]interface{}{"code": e.activeBatchID})
		if e.sync != nil {
			go e.sync.SyncBatch(e.activeBatchID)
		}
		return true
	}

	if e.currentStep >= e.seq.Length() {
		// all steps already visited, the delayed reset has not fired yet
		zap.S().Errorf("Trigger while cycle %s is already complete, ignoring", e.activeBatchID)
		return false
	}

	stationID := e.seq.StationForStep(e.currentStep)
	if err := e.state.Merge(e.activeBatchID, stationID, result); err != nil {
		zap.S().Errorf("Failed to merge station %d result: %s", stationID, err)
	}
	e.currentStep++
	zap.S().Debugf("Cycle %s advanced to step %d (station %d)", e.activeBatchID, e.currentStep, stationID)
	e.publish("cycle.station", map[string]interface{}{
		"code":    e.activeBatchID,
		"station": stationID,
		"status":  capture.status,
	})

	if e.currentStep >= e.seq.Length() {
		// let the UI show the final result before the state file vanishes
		e.resetTimer = time.AfterFunc(e.cfg.CompleteResetDelay, e.completeCycle)
	}
	return true
}

func (e *Engine) completeCycle() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeBatchID == "" {
		return
	}
	zap.S().Infof("Cycle %s complete after %d steps", e.activeBatchID, e.currentStep)
	internal.CyclesTotal.WithLabelValues("completed").Inc()
	e.publish("cycle.completed", map[string]interface{}{"code": e.activeBatchID})
	e.activeBatchID = ""
	e.currentStep = 0
	e.state.Clear()
}

// ForceResetCycle clears the cycle state immediately and deletes the state
// files. Used by the shift auto-reset and by the cycle-start abort.
func (e *Engine) ForceResetCycle(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
	if e.activeBatchID != "" {
		zap.S().Warnf("Force-resetting cycle %s at step %d: %s", e.activeBatchID, e.currentStep, reason)
		internal.CyclesTotal.WithLabelValues("aborted").Inc()
		e.publish("cycle.aborted", map[string]interface{}{"code": e.activeBatchID, "reason": reason})
	}
	e.activeBatchID = ""
	e.currentStep = 0
	e.state.Clear()
}

// ActiveCode returns the code of the running cycle, empty when idle
func (e *Engine) ActiveCode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeBatchID
}

// CurrentStep returns the current sequence step of the running cycle
func (e *Engine) CurrentStep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStep
}

// StateRecord returns the UI state record for the status API
func (e *Engine) StateRecord() datamodel.CycleStateRecord {
	return e.state.Load()
}

// writeAck pulses the acknowledgement tag. The tag must resolve through the
// tag configuration; a resolution or write failure is logged and not retried.
func (e *Engine) writeAck() {
	if _, err := plc.ResolveTag(e.tagConfig, e.cfg.AckTagNo); err != nil {
		zap.S().Errorf("Cannot resolve ack tag %d: %s", e.cfg.AckTagNo, err)
		return
	}
	e.writes.EnqueueBool(e.cfg.AckTagNo, true)
}

func (e *Engine) publish(event string, payload interface{}) {
	if e.publisher != nil {
		e.publisher.Publish(event, payload)
	}
}
