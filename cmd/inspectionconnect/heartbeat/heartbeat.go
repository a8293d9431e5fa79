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

// Package heartbeat tracks controller liveness through its pulse tag and
// answers clock synchronization requests from the controller.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/edge"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// Config carries the tag numbers and timeouts for liveness and time sync
type Config struct {
	PulseTagNo       int
	IPCPulseTagNo    int
	TimeRequestTagNo int
	TimeAckTagNo     int

	YearTagNo   int
	MonthTagNo  int
	DayTagNo    int
	HourTagNo   int
	MinuteTagNo int
	SecondTagNo int

	ReadTimeout   time.Duration
	PulseTimeout  time.Duration
	PulseInterval time.Duration
	SettleDelay   time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.PulseTimeout <= 0 {
		c.PulseTimeout = 5 * time.Second
	}
	if c.PulseInterval <= 0 {
		c.PulseInterval = time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
}

// Engine observes the controller pulse and answers time sync requests.
// Connectivity requires both a fresh poll and a moving pulse: a controller
// that keeps the link up but stops updating its pulse counts as down.
type Engine struct {
	cfg    Config
	writes *plc.WriteQueue
	writer plc.Writer

	timeReqEdge *edge.Detector

	// injectable clock
	now func() time.Time

	mu              sync.Mutex
	pulseSeen       bool
	lastPulse       bool
	lastPulseChange time.Time
	lastPollOK      time.Time
	localPulse      bool
	timeSynced      bool
}

// NewEngine builds the engine. Pulse and ack writes go through the shared
// write queue; writer is used directly for the clock push, whose ack must be
// withheld when any field write fails.
func NewEngine(cfg Config, writes *plc.WriteQueue, writer plc.Writer) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg:         cfg,
		writes:      writes,
		writer:      writer,
		timeReqEdge: edge.NewDetector(),
		now:         time.Now,
	}
}

// MarkPollSuccess is called by the poll loop after every successful read
func (e *Engine) MarkPollSuccess() {
	e.mu.Lock()
	e.lastPollOK = e.now()
	e.mu.Unlock()
}

// Connected reports controller liveness and mirrors it into the gauge
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connectedLocked()
}

func (e *Engine) connectedLocked() bool {
	now := e.now()
	up := e.pulseSeen &&
		now.Sub(e.lastPollOK) < e.cfg.ReadTimeout &&
		now.Sub(e.lastPulseChange) < e.cfg.PulseTimeout
	if up {
		internal.ControllerConnected.Set(1)
	} else {
		internal.ControllerConnected.Set(0)
	}
	return up
}

// TimeSynced reports whether the last clock push completed
func (e *Engine) TimeSynced() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeSynced
}

// OnSnapshot is called once per poll tick
func (e *Engine) OnSnapshot(snapshot datamodel.TagSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in heartbeat tick: %v", r)
		}
	}()

	e.observePulse(snapshot)

	switch e.timeReqEdge.Observe(e.cfg.TimeRequestTagNo, snapshot) {
	case edge.Rising:
		go e.syncTime()
	case edge.Falling:
		e.writes.EnqueueBool(e.cfg.TimeAckTagNo, false)
	}
}

func (e *Engine) observePulse(snapshot datamodel.TagSnapshot) {
	pulse := snapshot.BoolOr(e.cfg.PulseTagNo, false)

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.pulseSeen {
		e.pulseSeen = true
		e.lastPulse = pulse
		e.lastPulseChange = e.now()
		return
	}
	if pulse != e.lastPulse {
		e.lastPulse = pulse
		e.lastPulseChange = e.now()
	}
}

// StartPulse launches the IPC-side pulse loop. The local pulse tag flips
// once per interval, but only while the controller is currently reachable,
// so a dead link does not fill the write queue with doomed writes.
func (e *Engine) StartPulse(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.PulseInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.mu.Lock()
				if e.connectedLocked() {
					e.localPulse = !e.localPulse
					e.writes.EnqueueBool(e.cfg.IPCPulseTagNo, e.localPulse)
				}
				e.mu.Unlock()
			}
		}
	}()
}

// syncTime pushes the wall clock to the controller field by field, waits for
// the values to settle and acknowledges. Runs as a background task off the
// tick handler. The fields are written synchronously so a failed write aborts
// the sequence: no ack reaches the controller and the local synced state
// stays false until the next request succeeds.
func (e *Engine) syncTime() {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in time sync: %v", r)
			e.markSynced(false)
		}
	}()

	now := e.now()
	fields := []struct {
		tagNo int
		value int64
	}{
		{e.cfg.YearTagNo, int64(now.Year())},
		{e.cfg.MonthTagNo, int64(now.Month())},
		{e.cfg.DayTagNo, int64(now.Day())},
		{e.cfg.HourTagNo, int64(now.Hour())},
		{e.cfg.MinuteTagNo, int64(now.Minute())},
		{e.cfg.SecondTagNo, int64(now.Second())},
	}
	for _, field := range fields {
		writeCtx, cncl := context.WithTimeout(context.Background(), e.cfg.ReadTimeout)
		err := e.writer.WriteTag(writeCtx, field.tagNo, datamodel.NewIntValue(field.value))
		cncl()
		if err != nil {
			zap.S().Errorf("Clock push failed at tag %d, withholding time ack: %s", field.tagNo, err)
			e.markSynced(false)
			return
		}
	}

	time.Sleep(e.cfg.SettleDelay)
	e.writes.EnqueueBool(e.cfg.TimeAckTagNo, true)

	e.markSynced(true)
	zap.S().Infof("Controller clock synchronized to %s", now.Format(time.RFC3339))
}

func (e *Engine) markSynced(synced bool) {
	e.mu.Lock()
	e.timeSynced = synced
	e.mu.Unlock()
}
