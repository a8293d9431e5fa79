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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

func TestStateFileRoundTrip(t *testing.T) {
	store := &StateStore{Folder: t.TempDir()}

	first := datamodel.StationResult{
		ImagePath: "/images/a.bmp",
		Status:    "OK",
		X:         1.1, Y: 2.2, Z: 3.3,
		Timestamp: time.Now().Round(time.Millisecond),
	}
	require.NoError(t, store.Merge("BATCH-1", 3, first))
	require.NoError(t, store.Merge("BATCH-1", 5, datamodel.StationResult{Status: "NG"}))

	record := store.Load()
	assert.Equal(t, "BATCH-1", record.BatchID)
	require.Len(t, record.Stations, 2)
	assert.Equal(t, "OK", record.Stations[3].Status)
	assert.Equal(t, 1.1, record.Stations[3].X)
	assert.Equal(t, "NG", record.Stations[5].Status)
}

func TestMergeIsIdempotentOnStationNumber(t *testing.T) {
	store := &StateStore{Folder: t.TempDir()}

	require.NoError(t, store.Merge("BATCH-1", 3, datamodel.StationResult{Status: "NG"}))
	require.NoError(t, store.Merge("BATCH-1", 3, datamodel.StationResult{Status: "OK"}))

	record := store.Load()
	require.Len(t, record.Stations, 1)
	assert.Equal(t, "OK", record.Stations[3].Status)
}

func TestMergeResetsOnBatchChange(t *testing.T) {
	store := &StateStore{Folder: t.TempDir()}

	require.NoError(t, store.Merge("BATCH-1", 3, datamodel.StationResult{Status: "OK"}))
	require.NoError(t, store.Merge("BATCH-2", 4, datamodel.StationResult{Status: "OK"}))

	record := store.Load()
	assert.Equal(t, "BATCH-2", record.BatchID)
	require.Len(t, record.Stations, 1)
	assert.Contains(t, record.Stations, 4)
}

func TestClearRemovesFiles(t *testing.T) {
	store := &StateStore{Folder: t.TempDir()}
	require.NoError(t, store.Merge("BATCH-1", 3, datamodel.StationResult{Status: "OK"}))

	store.Clear()
	assert.Empty(t, store.Load().BatchID)
}
