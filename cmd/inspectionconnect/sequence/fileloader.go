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

package sequence

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// FileLoader reads the servo position file written by the configuration
// service: a CSV with a header row and `PositionId,SequenceIndex` columns.
type FileLoader struct {
	Path string
}

func (f *FileLoader) LoadPositions() (positions []datamodel.Position, err error) {
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

	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			// header or short row
			continue
		}
		positionID, convErr := strconv.Atoi(row[0])
		if convErr != nil {
			zap.S().Errorf("Skipping malformed position row %d: %v", i, row)
			continue
		}
		sequenceIndex, convErr := strconv.Atoi(row[1])
		if convErr != nil {
			zap.S().Errorf("Skipping malformed position row %d: %v", i, row)
			continue
		}
		positions = append(positions, datamodel.Position{PositionID: positionID, SequenceIndex: sequenceIndex})
	}
	return positions, nil
}
