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

package cycle

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
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/sequence"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

type staticLoader struct {
	positions []datamodel.Position
}

func (s *staticLoader) LoadPositions() ([]datamodel.Position, error) {
	return s.positions, nil
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

func (w *recordingWriter) wrote(tagNo int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, intent := range w.writes {
		if intent.TagNo == tagNo {
			return true
		}
	}
	return false
}

type staticTagConfig struct{}

func (s *staticTagConfig) GetAllTags() ([]datamodel.Tag, error) {
	return []datamodel.Tag{{TagNo: 110, PLCNo: 1, Address: "D110"}}, nil
}

type testRig struct {
	engine *Engine
	writer *recordingWriter
	drop   string
	state  string
	cancel context.CancelFunc
}

const (
	tagTrigger    = 101
	tagCode       = 102
	tagStatus     = 103
	tagX          = 104
	tagY          = 105
	tagZ          = 106
	tagAck        = 110
	tagCycleStart = 111
)

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	writer := &recordingWriter{}
	queue := plc.NewWriteQueue(writer, 32)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Start(ctx)

	seq := sequence.NewProvider(&staticLoader{positions: []datamodel.Position{
		{PositionID: 3, SequenceIndex: 1},
		{PositionID: 1, SequenceIndex: 2},
		{PositionID: 2, SequenceIndex: 3},
	}})

	drop := t.TempDir()
	state := t.TempDir()
	engine := NewEngine(Config{
		TriggerTagNo:       tagTrigger,
		CodeTagNo:          tagCode,
		StatusTagNo:        tagStatus,
		XTagNo:             tagX,
		YTagNo:             tagY,
		ZTagNo:             tagZ,
		AckTagNo:           tagAck,
		CycleStartTagNo:    tagCycleStart,
		ImageDropFolder:    drop,
		StateFolder:        state,
		ImagePollInterval:  5 * time.Millisecond,
		ImageWaitTimeout:   150 * time.Millisecond,
		CompleteResetDelay: 200 * time.Millisecond,
	}, seq, queue, &staticTagConfig{}, nil, nil)

	// seed the edge detectors: the first observation of a tag never counts
	// as an edge, so deliver an all-false snapshot before any trigger
	engine.OnSnapshot(datamodel.TagSnapshot{
		tagTrigger:    datamodel.NewBoolValue(false),
		tagCycleStart: datamodel.NewBoolValue(false),
	})

	return &testRig{engine: engine, writer: writer, drop: drop, state: state, cancel: cancel}
}

func (r *testRig) dropImage(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(r.drop, name), []byte("bmpdata"), 0600))
}

func (r *testRig) trigger(code string, status int64) {
	snapshot := datamodel.TagSnapshot{
		tagTrigger:    datamodel.NewBoolValue(true),
		tagCycleStart: datamodel.NewBoolValue(true),
		tagStatus:     datamodel.NewIntValue(status),
		tagX:          datamodel.NewFloatValue(1.5),
		tagY:          datamodel.NewFloatValue(2.5),
		tagZ:          datamodel.NewFloatValue(3.5),
	}
	if code != "" {
		snapshot[tagCode] = datamodel.NewTextValue(code)
	}
	r.engine.OnSnapshot(snapshot)
	// release the trigger so the next one is a fresh rising edge
	r.engine.OnSnapshot(datamodel.TagSnapshot{
		tagTrigger:    datamodel.NewBoolValue(false),
		tagCycleStart: datamodel.NewBoolValue(true),
	})
}

func TestCycleStartCreatesStationZeroEntry(t *testing.T) {
	rig := newTestRig(t)
	rig.dropImage(t, "part.bmp")

	rig.trigger("ABC123", 1)

	require.Eventually(t, func() bool {
		return rig.engine.ActiveCode() == "ABC123"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rig.engine.CurrentStep())

	record := rig.engine.StateRecord()
	assert.Equal(t, "ABC123", record.BatchID)
	require.Contains(t, record.Stations, 0)
	assert.Equal(t, "OK", record.Stations[0].Status)
	assert.Equal(t, 1.5, record.Stations[0].X)

	// the ack follows image discovery, so by now it must have been queued
	require.Eventually(t, func() bool {
		return rig.writer.wrote(tagAck)
	}, time.Second, 5*time.Millisecond)
}

func TestTriggerWithoutCodeAndWithoutCycleIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	rig.dropImage(t, "part.bmp")

	rig.trigger("", 1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, "", rig.engine.ActiveCode())
	assert.False(t, rig.writer.wrote(tagAck))
}

func TestImageTimeoutAbortsWorkflow(t *testing.T) {
	rig := newTestRig(t)
	// no image is ever dropped

	rig.trigger("ABC123", 1)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, "", rig.engine.ActiveCode())
	assert.Empty(t, rig.engine.StateRecord().BatchID)
	assert.False(t, rig.writer.wrote(tagAck))
}

func TestFullCycleCompletesAndResets(t *testing.T) {
	rig := newTestRig(t)
	rig.dropImage(t, "part.bmp")

	rig.trigger("ABC123", 1)
	require.Eventually(t, func() bool {
		return rig.engine.ActiveCode() == "ABC123"
	}, time.Second, 5*time.Millisecond)

	// three station visits for the three-step sequence
	for i := 1; i <= 3; i++ {
		rig.trigger("ABC123", 1)
		step := i
		require.Eventually(t, func() bool {
			return rig.engine.CurrentStep() == step
		}, time.Second, 5*time.Millisecond)
	}

	record := rig.engine.StateRecord()
	assert.Contains(t, record.Stations, 3) // step 0 -> station 3
	assert.Contains(t, record.Stations, 1) // step 1 -> station 1
	assert.Contains(t, record.Stations, 2) // step 2 -> station 2

	// the delayed reset clears the cycle and the state file
	require.Eventually(t, func() bool {
		return rig.engine.ActiveCode() == ""
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, rig.engine.StateRecord().BatchID)
}

func TestForceResetClearsStateFolder(t *testing.T) {
	rig := newTestRig(t)
	rig.dropImage(t, "part.bmp")

	rig.trigger("ABC123", 1)
	require.Eventually(t, func() bool {
		return rig.engine.ActiveCode() == "ABC123"
	}, time.Second, 5*time.Millisecond)

	rig.engine.ForceResetCycle("test")
	assert.Equal(t, "", rig.engine.ActiveCode())
	assert.Equal(t, 0, rig.engine.CurrentStep())

	entries, err := os.ReadDir(rig.state)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCycleStartFallingEdgeAborts(t *testing.T) {
	rig := newTestRig(t)
	rig.dropImage(t, "part.bmp")

	rig.trigger("ABC123", 1)
	require.Eventually(t, func() bool {
		return rig.engine.ActiveCode() == "ABC123"
	}, time.Second, 5*time.Millisecond)

	rig.engine.OnSnapshot(datamodel.TagSnapshot{
		tagTrigger:    datamodel.NewBoolValue(false),
		tagCycleStart: datamodel.NewBoolValue(false),
	})
	assert.Equal(t, "", rig.engine.ActiveCode())
}
