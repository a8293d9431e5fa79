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

package qualitysync

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/sequence"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"go.uber.org/zap"
)

// Config carries the external quality machine integration settings
type Config struct {
	Enabled         bool
	BaseURL         string
	Command         string
	PrevMachineCode string
	ThisMachineCode string

	StatusWordTagNo   int
	DataReadyTagNo    int
	NotConnectedTagNo int

	StationCount  int
	ReconnectWait time.Duration
	ReconnectPoll time.Duration
}

func (c *Config) applyDefaults() {
	if c.StationCount <= 0 {
		c.StationCount = 12
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 8 * time.Second
	}
	if c.ReconnectPoll <= 0 {
		c.ReconnectPoll = 500 * time.Millisecond
	}
}

// Syncer fetches the quality machine's OK/NG verdict for one carrier code
// and writes it to the controller as a status word, one bit per sequence
// step. Every step starts quarantined and only an explicit "OK" for its
// physical station clears the quarantine.
type Syncer struct {
	cfg     Config
	seq     *sequence.Provider
	monitor *Monitor
	writes  *plc.WriteQueue
	client  *http.Client

	mu          sync.Mutex
	quarantined []bool
}

func NewSyncer(cfg Config, seq *sequence.Provider, monitor *Monitor, writes *plc.WriteQueue) *Syncer {
	cfg.applyDefaults()
	quarantined := make([]bool, cfg.StationCount)
	for i := range quarantined {
		quarantined[i] = true
	}
	return &Syncer{
		cfg:         cfg,
		seq:         seq,
		monitor:     monitor,
		writes:      writes,
		client:      &http.Client{Timeout: 5 * time.Second},
		quarantined: quarantined,
	}
}

// Quarantined reports the current per-step quarantine flags
func (s *Syncer) Quarantined() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.quarantined))
	copy(out, s.quarantined)
	return out
}

// SyncBatch runs the full verdict fetch for one carrier code. It is called
// as a background task once per cycle start and must never panic through to
// its goroutine. On any failure the previous quarantine state stays intact.
func (s *Syncer) SyncBatch(code string) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("Recovered panic in quality sync for %s: %v", code, r)
			s.quarantineAll()
			internal.QualitySyncTotal.WithLabelValues("panic").Inc()
		}
	}()

	if !s.cfg.Enabled {
		// integration switched off: every step passes
		s.setQuarantine(allOnes(s.cfg.StationCount))
		s.writes.EnqueueInt(s.cfg.StatusWordTagNo, allOnes(s.cfg.StationCount))
		s.writes.EnqueueBool(s.cfg.DataReadyTagNo, true)
		internal.QualitySyncTotal.WithLabelValues("disabled").Inc()
		return
	}

	if !s.waitForConnection() {
		zap.S().Warnf("Quality machine unreachable, keeping quarantine for %s", code)
		internal.QualitySyncTotal.WithLabelValues("disconnected").Inc()
		return
	}

	body, err := s.fetchStatus(code)
	if err != nil {
		zap.S().Errorf("Failed to fetch quality verdict for %s: %s", code, err)
		s.writes.EnqueueBool(s.cfg.NotConnectedTagNo, true)
		internal.QualitySyncTotal.WithLabelValues("fetch_failed").Inc()
		return
	}

	okStations := ParseStatusList(body)
	mask := s.buildMask(okStations)
	s.writes.EnqueueInt(s.cfg.StatusWordTagNo, mask)
	s.writes.EnqueueBool(s.cfg.DataReadyTagNo, true)
	internal.QualitySyncTotal.WithLabelValues("synced").Inc()
	zap.S().Infow("Quality verdict synced",
		"code", code,
		"okStations", okStations,
		"mask", mask,
	)
}

// waitForConnection gives the background monitor a bounded window to report
// the link back up before the sync attempt is abandoned
func (s *Syncer) waitForConnection() bool {
	deadline := time.Now().Add(s.cfg.ReconnectWait)
	for {
		if s.monitor.Connected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(s.cfg.ReconnectPoll)
	}
}

func (s *Syncer) fetchStatus(code string) (string, error) {
	query := url.Values{}
	query.Set("command", s.cfg.Command)
	query.Set("carrier", code)
	query.Set("prevMachine", s.cfg.PrevMachineCode)
	query.Set("thisMachine", s.cfg.ThisMachineCode)

	resp, err := s.client.Get(fmt.Sprintf("%s?%s", s.cfg.BaseURL, query.Encode()))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("quality machine returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ParseStatusList parses the machine's plain-text verdict of the form
// "1.serial,OK;2.serial,NG;...". Only entries whose status equals "OK"
// case-insensitively count; malformed fragments are skipped.
func ParseStatusList(body string) []int {
	var ok []int
	for _, fragment := range strings.Split(body, ";") {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			continue
		}
		dot := strings.Index(fragment, ".")
		comma := strings.LastIndex(fragment, ",")
		if dot <= 0 || comma <= dot {
			zap.S().Debugf("Skipping malformed verdict fragment %q", fragment)
			continue
		}
		id, err := strconv.Atoi(fragment[:dot])
		if err != nil {
			zap.S().Debugf("Skipping verdict fragment with bad id %q", fragment)
			continue
		}
		if strings.EqualFold(strings.TrimSpace(fragment[comma+1:]), "OK") {
			ok = append(ok, id)
		}
	}
	return ok
}

// buildMask maps physical OK station ids through the sequence into a status
// word: bit i is set when sequence step i's physical station is on the OK
// list. Steps beyond the configured station count are ignored, steps the
// sequence does not cover stay quarantined.
func (s *Syncer) buildMask(okStations []int) int64 {
	okSet := make(map[int]bool, len(okStations))
	for _, id := range okStations {
		okSet[id] = true
	}

	quarantined := make([]bool, s.cfg.StationCount)
	for i := range quarantined {
		quarantined[i] = true
	}
	var mask int64
	for step, stationID := range s.seq.OrderedBySequence() {
		if step >= s.cfg.StationCount {
			break
		}
		if okSet[stationID] {
			mask |= 1 << step
			quarantined[step] = false
		}
	}
	s.setQuarantineFlags(quarantined)
	return mask
}

func (s *Syncer) quarantineAll() {
	flags := make([]bool, s.cfg.StationCount)
	for i := range flags {
		flags[i] = true
	}
	s.setQuarantineFlags(flags)
}

func (s *Syncer) setQuarantineFlags(flags []bool) {
	s.mu.Lock()
	s.quarantined = flags
	s.mu.Unlock()
}

// setQuarantine clears the quarantine of every step covered by the mask
func (s *Syncer) setQuarantine(mask int64) {
	flags := make([]bool, s.cfg.StationCount)
	for i := range flags {
		flags[i] = mask&(1<<i) == 0
	}
	s.setQuarantineFlags(flags)
}

func allOnes(stationCount int) int64 {
	return int64(1)<<stationCount - 1
}
