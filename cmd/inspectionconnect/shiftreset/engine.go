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

package shiftreset

import (
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// State is the reset handshake state
type State int

const (
	Idle State = iota
	Triggering
	WaitingForAck
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Triggering:
		return "Triggering"
	case WaitingForAck:
		return "WaitingForAck"
	default:
		return "Unknown"
	}
}

// CycleResetter clears any in-flight production cycle when a shift boundary
// reset fires
type CycleResetter interface {
	ForceResetCycle(reason string)
}

// Config carries the handshake tag numbers and timings
type Config struct {
	ResetTagNo int
	AckTagNo   int

	AckTimeout     time.Duration
	RetriggerGuard time.Duration
	ReloadInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
	if c.RetriggerGuard <= 0 {
		c.RetriggerGuard = 65 * time.Second
	}
	if c.ReloadInterval <= 0 {
		c.ReloadInterval = time.Minute
	}
}

// Engine watches the wall clock against the shift schedule and runs the
// reset handshake with the controller at each shift start.
type Engine struct {
	cfg    Config
	loader ShiftLoader
	writes *plc.WriteQueue
	cycle  CycleResetter

	// injectable clock
	now func() time.Time

	mu          sync.Mutex
	state       State
	shifts      []datamodel.ShiftConfig
	triggeredAt time.Time
	lastTrigger time.Time
	lastReload  time.Time
}

func NewEngine(cfg Config, loader ShiftLoader, writes *plc.WriteQueue, cycle CycleResetter) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:    cfg,
		loader: loader,
		writes: writes,
		cycle:  cycle,
		now:    time.Now,
	}
}

// State returns the current handshake state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OnSnapshot is called once per poll tick
func (e *Engine) OnSnapshot(snapshot datamodel.TagSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in shift reset tick: %v", r)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.reloadSchedule()

	switch e.state {
	case Idle:
		if e.shiftStartsNow() {
			e.state = Triggering
		} else {
			return
		}
		fallthrough
	case Triggering:
		zap.S().Infof("Shift boundary reached, asserting reset line")
		e.writes.EnqueueBool(e.cfg.ResetTagNo, true)
		if e.cycle != nil {
			e.cycle.ForceResetCycle("shift boundary")
		}
		e.triggeredAt = e.now()
		e.state = WaitingForAck
	case WaitingForAck:
		if snapshot.BoolOr(e.cfg.AckTagNo, false) {
			zap.S().Infof("Shift reset acknowledged by controller")
			e.writes.EnqueueBool(e.cfg.ResetTagNo, false)
			e.state = Idle
			internal.ShiftResetsTotal.WithLabelValues("acked").Inc()
			return
		}
		if e.now().Sub(e.triggeredAt) >= e.cfg.AckTimeout {
			// never leave the reset line asserted
			zap.S().Warnf("Shift reset not acknowledged within %s, releasing reset line", e.cfg.AckTimeout)
			e.writes.EnqueueBool(e.cfg.ResetTagNo, false)
			e.state = Idle
			internal.ShiftResetsTotal.WithLabelValues("timeout").Inc()
		}
	}
}

// reloadSchedule refreshes the shift definitions at most once per reload
// interval. A failed load keeps the previous schedule.
func (e *Engine) reloadSchedule() {
	if e.shifts != nil && e.now().Sub(e.lastReload) < e.cfg.ReloadInterval {
		return
	}

	shifts, err := e.loader.LoadShifts()
	e.lastReload = e.now()
	if err != nil {
		zap.S().Errorf("Failed to reload shift schedule: %s", err)
		return
	}
	e.shifts = shifts
}

// shiftStartsNow reports whether any active shift starts in the current
// minute. Only the first five seconds of the minute count, and a guard
// interval suppresses double triggers within the same boundary.
func (e *Engine) shiftStartsNow() bool {
	now := e.now()
	if now.Second() >= 5 {
		return false
	}
	if now.Sub(e.lastTrigger) < e.cfg.RetriggerGuard {
		return false
	}
	for _, shift := range e.shifts {
		if !shift.IsActive {
			continue
		}
		start, err := time.Parse("15:04", shift.StartTime)
		if err != nil {
			zap.S().Warnf("Shift %q has unparseable start time %q", shift.ShiftName, shift.StartTime)
			continue
		}
		if start.Hour() == now.Hour() && start.Minute() == now.Minute() {
			zap.S().Infof("Shift %q starting", shift.ShiftName)
			e.lastTrigger = now
			return true
		}
	}
	return false
}
