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

// Package shiftreset triggers a controller-side reset handshake at shift
// boundaries, driven by a CSV shift schedule.
package shiftreset

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// ShiftLoader reads the schedule. Implementations must be safe for repeated
// calls; the engine reloads at most once per minute.
type ShiftLoader interface {
	LoadShifts() ([]datamodel.ShiftConfig, error)
}

// FileLoader reads the shift schedule from a CSV file with the columns
// Id,ShiftName,StartTime,EndTime,IsActive. The name field may be quoted.
type FileLoader struct {
	Path string
}

func (f *FileLoader) LoadShifts() ([]datamodel.ShiftConfig, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	var shifts []datamodel.ShiftConfig
	for i, row := range rows {
		if i == 0 {
			// header
			continue
		}
		if len(row) < 5 {
			zap.S().Warnf("Skipping malformed shift row %d in %s: %v", i, f.Path, row)
			continue
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			zap.S().Warnf("Skipping shift row %d with bad id %q", i, row[0])
			continue
		}
		active, err := strconv.ParseBool(row[4])
		if err != nil {
			zap.S().Warnf("Skipping shift row %d with bad active flag %q", i, row[4])
			continue
		}
		shifts = append(shifts, datamodel.ShiftConfig{
			ID:        id,
			ShiftName: row[1],
			StartTime: row[2],
			EndTime:   row[3],
			IsActive:  active,
		})
	}
	return shifts, nil
}
