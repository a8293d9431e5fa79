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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

type memoryLog struct {
	mu      sync.Mutex
	records []datamodel.ProductionRecord
}

func (m *memoryLog) AppendRecord(record datamodel.ProductionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memoryLog) all() []datamodel.ProductionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]datamodel.ProductionRecord, len(m.records))
	copy(out, m.records)
	return out
}

type staticLoader struct {
	positions []datamodel.Position
	err       error
}

func (s *staticLoader) LoadPositions() ([]datamodel.Position, error) {
	return s.positions, s.err
}

type nullWriter struct{}

func (nullWriter) WriteTag(context.Context, int, datamodel.TagValue) error { return nil }

const (
	tagCCD       = 120
	tagCode      = 102
	tagStatus    = 103
	tagA1        = 121
	tagB1        = 122
	tagStart     = 111
	tagCycleTime = 123
	tagUptime    = 130
	tagDowntime  = 131
	tagOK        = 132
	tagNG        = 133
	tagTotal     = 134
)

func testConfig() Config {
	return Config{
		CCDTriggerTagNo:       tagCCD,
		CodeTagNo:             tagCode,
		StatusTagNo:           tagStatus,
		XTagNo:                104,
		YTagNo:                105,
		ZTagNo:                106,
		CycleTimeA1TagNo:      tagA1,
		CycleAckB1TagNo:       tagB1,
		CycleStartTagNo:       tagStart,
		CycleTimeSecondsTagNo: tagCycleTime,
		UptimeMinutesTagNo:    tagUptime,
		DowntimeMinutesTagNo:  tagDowntime,
		OKPartsTagNo:          tagOK,
		NGPartsTagNo:          tagNG,
		TotalPartsTagNo:       tagTotal,
		StationCount:          12,
		IdealCycleSeconds:     45,
	}
}

func newTestEngine(t *testing.T, log *memoryLog) *Engine {
	t.Helper()
	queue := plc.NewWriteQueue(nullWriter{}, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Start(ctx)
	return NewEngine(testConfig(), &staticLoader{positions: []datamodel.Position{
		{PositionID: 3, SequenceIndex: 1},
		{PositionID: 1, SequenceIndex: 2},
	}}, log, queue)
}

func TestComputeIdentity(t *testing.T) {
	result := Compute(100, 20, 90, 10, 100, 45, 50)
	assert.InDelta(t, result.Availability*result.Performance*result.Quality, result.OverallOEE, 1e-12)
	assert.InDelta(t, 100.0/120.0, result.Availability, 1e-12)
	assert.InDelta(t, 0.9, result.Quality, 1e-12)
	assert.InDelta(t, 45.0*100.0/(100.0*60.0), result.Performance, 1e-12)
}

func TestComputeZeroInputs(t *testing.T) {
	// every ratio must independently evaluate to 0, never NaN
	result := Compute(0, 0, 0, 0, 0, 0, 0)
	assert.Equal(t, 0.0, result.Availability)
	assert.Equal(t, 0.0, result.Performance)
	assert.Equal(t, 0.0, result.Quality)
	assert.Equal(t, 0.0, result.OverallOEE)

	result = Compute(0, 10, 5, 0, 5, 45, 0)
	assert.Equal(t, 0.0, result.Availability)
	assert.Equal(t, 0.0, result.Performance)
	assert.Equal(t, 1.0, result.Quality)
}

func TestComputeIsNotClamped(t *testing.T) {
	// short ideal uptime pushes performance above 1, which must be surfaced
	result := Compute(1, 0, 10, 0, 10, 45, 0)
	assert.Greater(t, result.Performance, 1.0)
}

func edgeTick(e *Engine, tags map[int]datamodel.TagValue) {
	snapshot := make(datamodel.TagSnapshot, len(tags))
	for k, v := range tags {
		snapshot[k] = v
	}
	e.OnSnapshot(snapshot)
}

func TestCaptureAndFinalizeComplete(t *testing.T) {
	log := &memoryLog{}
	e := newTestEngine(t, log)

	base := map[int]datamodel.TagValue{
		tagCode:  datamodel.NewTextValue("PART-1"),
		tagA1:    datamodel.NewBoolValue(false),
		tagStart: datamodel.NewBoolValue(true),
	}

	// two CCD pulses capture two stations
	edgeTick(e, base)
	withCCD := map[int]datamodel.TagValue{
		tagCCD:    datamodel.NewBoolValue(true),
		tagCode:   datamodel.NewTextValue("PART-1"),
		tagStatus: datamodel.NewIntValue(1),
		tagA1:     datamodel.NewBoolValue(false),
		tagStart:  datamodel.NewBoolValue(true),
	}
	edgeTick(e, withCCD)
	edgeTick(e, base)
	withCCD[tagStatus] = datamodel.NewIntValue(2)
	edgeTick(e, withCCD)

	// A1 rising finalizes as complete
	edgeTick(e, map[int]datamodel.TagValue{
		tagA1:        datamodel.NewBoolValue(true),
		tagCode:      datamodel.NewTextValue("PART-1"),
		tagStart:     datamodel.NewBoolValue(true),
		tagUptime:    datamodel.NewFloatValue(100),
		tagDowntime:  datamodel.NewFloatValue(20),
		tagOK:        datamodel.NewFloatValue(90),
		tagNG:        datamodel.NewFloatValue(10),
		tagTotal:     datamodel.NewFloatValue(100),
		tagCycleTime: datamodel.NewFloatValue(48),
	})

	records := log.all()
	require.Len(t, records, 1)
	record := records[0]
	assert.Equal(t, "PART-1", record.Code)
	assert.True(t, record.Completed)
	require.Len(t, record.Stations, 2)
	// step 0 maps to physical station 3, step 1 to station 1
	assert.Equal(t, "OK", record.Stations[3].Status)
	assert.Equal(t, "NG", record.Stations[1].Status)
	assert.InDelta(t, 100.0/120.0, record.OEE.Availability, 1e-12)
	assert.Equal(t, 48.0, record.OEE.CurrentCycleTimeSeconds)
}

func TestCycleStartFallingAborts(t *testing.T) {
	log := &memoryLog{}
	e := newTestEngine(t, log)

	edgeTick(e, map[int]datamodel.TagValue{tagStart: datamodel.NewBoolValue(true)})
	edgeTick(e, map[int]datamodel.TagValue{
		tagCCD:   datamodel.NewBoolValue(true),
		tagCode:  datamodel.NewTextValue("PART-2"),
		tagStart: datamodel.NewBoolValue(true),
	})
	// operator reset: cycle-start drops without A1
	edgeTick(e, map[int]datamodel.TagValue{tagStart: datamodel.NewBoolValue(false)})

	records := log.all()
	require.Len(t, records, 1)
	assert.Equal(t, "PART-2[RESET]", records[0].Code)
	assert.False(t, records[0].Completed)
}

func TestAbortWithoutActiveRecordIsNoOp(t *testing.T) {
	log := &memoryLog{}
	e := newTestEngine(t, log)

	edgeTick(e, map[int]datamodel.TagValue{tagStart: datamodel.NewBoolValue(true)})
	edgeTick(e, map[int]datamodel.TagValue{tagStart: datamodel.NewBoolValue(false)})

	assert.Empty(t, log.all())
}

func TestCodeChangeStartsFreshRecord(t *testing.T) {
	log := &memoryLog{}
	e := newTestEngine(t, log)

	edgeTick(e, map[int]datamodel.TagValue{tagCode: datamodel.NewTextValue("A")})
	edgeTick(e, map[int]datamodel.TagValue{
		tagCCD:  datamodel.NewBoolValue(true),
		tagCode: datamodel.NewTextValue("A"),
	})
	edgeTick(e, map[int]datamodel.TagValue{tagCode: datamodel.NewTextValue("B")})
	edgeTick(e, map[int]datamodel.TagValue{
		tagCCD:  datamodel.NewBoolValue(true),
		tagCode: datamodel.NewTextValue("B"),
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotNil(t, e.record)
	assert.Equal(t, "B", e.record.Code)
	// the station counter restarted with the new code
	assert.Equal(t, 1, e.stationCounter)
}

func TestCalculateHasNoSideEffects(t *testing.T) {
	log := &memoryLog{}
	e := newTestEngine(t, log)

	snapshot := datamodel.TagSnapshot{
		tagUptime:   datamodel.NewFloatValue(60),
		tagDowntime: datamodel.NewFloatValue(0),
		tagOK:       datamodel.NewFloatValue(10),
		tagTotal:    datamodel.NewFloatValue(10),
	}
	first := e.Calculate(snapshot)
	second := e.Calculate(snapshot)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, first.Availability)
	assert.Equal(t, 1.0, first.Quality)
	assert.Empty(t, log.all())
}

func TestCalculateFallsBackToLastCycleTime(t *testing.T) {
	log := &memoryLog{}
	e := newTestEngine(t, log)

	// finalize once with a cycle time of 48s
	edgeTick(e, map[int]datamodel.TagValue{tagA1: datamodel.NewBoolValue(false), tagStart: datamodel.NewBoolValue(true)})
	edgeTick(e, map[int]datamodel.TagValue{
		tagA1:        datamodel.NewBoolValue(true),
		tagStart:     datamodel.NewBoolValue(true),
		tagCycleTime: datamodel.NewFloatValue(48),
	})
	require.Len(t, log.all(), 1)

	result := e.Calculate(datamodel.TagSnapshot{})
	assert.Equal(t, 48.0, result.CurrentCycleTimeSeconds)

	time.Sleep(10 * time.Millisecond) // let queued B1 writes drain before teardown
}
