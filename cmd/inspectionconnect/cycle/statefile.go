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
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

const stateFileName = "cycle_state.json"

// StateStore owns the UI-facing state file. Only one engine instance owns
// the folder, there is no cross-process locking.
type StateStore struct {
	Folder string
}

// Load reads the current state record. A missing file yields an empty record,
// a corrupt file is treated the same way after an error log so a damaged
// file can never stall the line.
func (s *StateStore) Load() datamodel.CycleStateRecord {
	record := datamodel.CycleStateRecord{Stations: make(map[int]datamodel.StationResult)}

	raw, err := os.ReadFile(filepath.Join(s.Folder, stateFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			zap.S().Errorf("Failed to read cycle state file: %s", err)
		}
		return record
	}
	if err = json.Unmarshal(raw, &record); err != nil {
		zap.S().Errorf("Cycle state file is corrupt, starting fresh: %s", err)
		return datamodel.CycleStateRecord{Stations: make(map[int]datamodel.StationResult)}
	}
	if record.Stations == nil {
		record.Stations = make(map[int]datamodel.StationResult)
	}
	return record
}

// Merge loads the record, merges the station result keyed by station number
// and rewrites the file. A batch change resets the station map first, so the
// merge is idempotent per station within one batch.
func (s *StateStore) Merge(batchID string, stationNo int, result datamodel.StationResult) error {
	record := s.Load()
	if record.BatchID != batchID {
		record.Stations = make(map[int]datamodel.StationResult)
	}
	record.BatchID = batchID
	record.Stations[stationNo] = result
	record.LastUpdated = time.Now()
	return s.save(record)
}

func (s *StateStore) save(record datamodel.CycleStateRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(s.Folder, 0750); err != nil {
		return err
	}
	// write-then-rename so the UI never reads a half-written file
	tmpPath := filepath.Join(s.Folder, stateFileName+".tmp")
	if err = os.WriteFile(tmpPath, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, filepath.Join(s.Folder, stateFileName))
}

// Clear removes every file in the state folder. Called at cycle start and on
// any reset.
func (s *StateStore) Clear() {
	entries, err := os.ReadDir(s.Folder)
	if err != nil {
		if !os.IsNotExist(err) {
			zap.S().Errorf("Failed to list state folder: %s", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err = os.Remove(filepath.Join(s.Folder, entry.Name())); err != nil {
			zap.S().Errorf("Failed to remove state file %s: %s", entry.Name(), err)
		}
	}
}
