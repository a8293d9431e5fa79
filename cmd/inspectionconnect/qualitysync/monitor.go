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

// Package qualitysync translates a third-party quality machine's per-station
// OK/NG verdict into a per-sequence-step status word on the controller,
// quarantining everything it cannot positively confirm.
package qualitysync

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"go.uber.org/zap"
)

// Pinger reports whether the external quality machine is reachable
type Pinger interface {
	Ping() error
}

// TCPPinger dials the configured address with a short timeout
type TCPPinger struct {
	Address string
}

func (p *TCPPinger) Ping() error {
	conn, err := net.DialTimeout("tcp", p.Address, 2*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Monitor pings the quality machine once per second and tracks the
// connection state. The state is read by the tick-driven sync path, so it is
// held in an atomic rather than behind a lock.
type Monitor struct {
	pinger       Pinger
	writes       *plc.WriteQueue
	notConnTagNo int
	interval     time.Duration

	connected atomic.Bool
	started   atomic.Bool
}

func NewMonitor(pinger Pinger, writes *plc.WriteQueue, notConnTagNo int) *Monitor {
	return &Monitor{
		pinger:       pinger,
		writes:       writes,
		notConnTagNo: notConnTagNo,
		interval:     time.Second,
	}
}

func (m *Monitor) Connected() bool {
	return m.connected.Load()
}

// Start launches the ping loop. A single failed ping never terminates the
// loop, and logging plus the "not connected" tag write happen only on a
// state transition so a flaky link does not flood the log.
func (m *Monitor) Start() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for range ticker.C {
			m.tick()
		}
	}()
}

func (m *Monitor) tick() {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in quality machine ping: %v", r)
			m.transitionTo(false)
		}
	}()

	err := m.pinger.Ping()
	m.transitionTo(err == nil)
}

func (m *Monitor) transitionTo(up bool) {
	if m.connected.Swap(up) == up {
		return
	}
	if up {
		zap.S().Infof("Quality machine connection restored")
	} else {
		zap.S().Warnf("Quality machine connection lost")
	}
	if m.writes != nil && m.notConnTagNo != 0 {
		m.writes.EnqueueBool(m.notConnTagNo, !up)
	}
}
