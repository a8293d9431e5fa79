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
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

const (
	tagReset = 300
	tagAck   = 301
)

type staticShiftLoader struct {
	shifts []datamodel.ShiftConfig
}

func (s *staticShiftLoader) LoadShifts() ([]datamodel.ShiftConfig, error) {
	return s.shifts, nil
}

type recordingWriter struct {
	mu     sync.Mutex
	writes []plc.WriteIntent
}

func (w *recordingWriter) WriteTag(_ context.Context, tagNo int, value datamodel.TagValue) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, plc.WriteIntent{TagNo: tagNo, Value: value})
	return nil
}

func (w *recordingWriter) valuesFor(tagNo int) []bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []bool
	for _, intent := range w.writes {
		if intent.TagNo == tagNo {
			out = append(out, intent.Value.AsBool())
		}
	}
	return out
}

type fakeResetter struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeResetter) ForceResetCycle(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

type resetRig struct {
	engine   *Engine
	writer   *recordingWriter
	resetter *fakeResetter
	clock    time.Time
	clockMu  sync.Mutex
}

func (r *resetRig) advance(d time.Duration) {
	r.clockMu.Lock()
	r.clock = r.clock.Add(d)
	r.clockMu.Unlock()
}

func newResetRig(t *testing.T, shiftStart string) *resetRig {
	t.Helper()

	writer := &recordingWriter{}
	queue := plc.NewWriteQueue(writer, 32)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Start(ctx)

	resetter := &fakeResetter{}
	rig := &resetRig{
		writer:   writer,
		resetter: resetter,
		// two seconds into the shift-start minute
		clock: time.Date(2024, 3, 15, 6, 0, 2, 0, time.Local),
	}
	rig.engine = NewEngine(Config{
		ResetTagNo: tagReset,
		AckTagNo:   tagAck,
		AckTimeout: 5 * time.Second,
	}, &staticShiftLoader{shifts: []datamodel.ShiftConfig{
		{ID: 1, ShiftName: "Morning", StartTime: shiftStart, EndTime: "14:00", IsActive: true},
	}}, queue, resetter)
	rig.engine.now = func() time.Time {
		rig.clockMu.Lock()
		defer rig.clockMu.Unlock()
		return rig.clock
	}
	return rig
}

func (r *resetRig) tick(ack bool) {
	r.engine.OnSnapshot(datamodel.TagSnapshot{
		tagAck: datamodel.NewBoolValue(ack),
	})
}

func waitForResetWrites(t *testing.T, rig *resetRig, want []bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := rig.writer.valuesFor(tagReset)
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
}

func TestAckWithinTimeoutReleasesResetLine(t *testing.T) {
	rig := newResetRig(t, "06:00")

	rig.tick(false)
	assert.Equal(t, WaitingForAck, rig.engine.State())

	rig.advance(time.Second)
	rig.tick(true)
	assert.Equal(t, Idle, rig.engine.State())

	// asserted true then released false
	waitForResetWrites(t, rig, []bool{true, false})

	rig.resetter.mu.Lock()
	defer rig.resetter.mu.Unlock()
	assert.Equal(t, []string{"shift boundary"}, rig.resetter.reasons)
}

func TestAckTimeoutForcesResetLineFalse(t *testing.T) {
	rig := newResetRig(t, "06:00")

	rig.tick(false)
	assert.Equal(t, WaitingForAck, rig.engine.State())

	rig.advance(4 * time.Second)
	rig.tick(false)
	assert.Equal(t, WaitingForAck, rig.engine.State())

	rig.advance(2 * time.Second)
	rig.tick(false)
	assert.Equal(t, Idle, rig.engine.State())

	waitForResetWrites(t, rig, []bool{true, false})
}

func TestNoTriggerOutsideStartWindow(t *testing.T) {
	rig := newResetRig(t, "06:30")

	rig.tick(false)
	assert.Equal(t, Idle, rig.engine.State())
	assert.Empty(t, rig.writer.valuesFor(tagReset))
}

func TestNoTriggerPastFifthSecond(t *testing.T) {
	rig := newResetRig(t, "06:00")
	rig.advance(10 * time.Second) // second 12 of the minute

	rig.tick(false)
	assert.Equal(t, Idle, rig.engine.State())
}

func TestRetriggerGuardSuppressesSecondTrigger(t *testing.T) {
	rig := newResetRig(t, "06:00")

	rig.tick(false)
	rig.tick(true) // ack, back to Idle
	require.Equal(t, Idle, rig.engine.State())

	// still within the same start window, must not re-fire
	rig.advance(time.Second)
	rig.tick(false)
	assert.Equal(t, Idle, rig.engine.State())

	waitForResetWrites(t, rig, []bool{true, false})
}

func TestInactiveShiftNeverTriggers(t *testing.T) {
	rig := newResetRig(t, "06:00")
	rig.engine.shifts = nil
	rig.engine.loader = &staticShiftLoader{shifts: []datamodel.ShiftConfig{
		{ID: 1, ShiftName: "Morning", StartTime: "06:00", EndTime: "14:00", IsActive: false},
	}}

	rig.tick(false)
	assert.Equal(t, Idle, rig.engine.State())
}

func TestFileLoaderParsesQuotedNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shifts.csv")
	content := "Id,ShiftName,StartTime,EndTime,IsActive\n" +
		"1,\"Morning, early\",06:00,14:00,true\n" +
		"2,Evening,14:00,22:00,false\n" +
		"bad,row\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	loader := &FileLoader{Path: path}
	shifts, err := loader.LoadShifts()
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	assert.Equal(t, "Morning, early", shifts[0].ShiftName)
	assert.True(t, shifts[0].IsActive)
	assert.Equal(t, "14:00", shifts[1].StartTime)
	assert.False(t, shifts[1].IsActive)
}
