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

// Package prodlog provides the durable sinks for finalized production
// records. FileLog appends to a per-day CSV file, PostgresLog inserts into a
// TimescaleDB-compatible table. Both implement oee.ProductionLog.
package prodlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

// FileLog appends one CSV row per finalized production record. Files are
// rotated by date (prodlog_YYYY-MM-DD.csv) so the operator can pull a single
// shift's worth of data off the line PC.
type FileLog struct {
	Folder string

	mu sync.Mutex
}

var csvHeader = []string{
	"FinalizedAt", "Code", "Completed",
	"Availability", "Performance", "Quality", "OEE",
	"UptimeMinutes", "DowntimeMinutes", "OKParts", "NGParts", "TotalParts",
	"CycleTimeSeconds", "Stations",
}

func (f *FileLog) AppendRecord(record datamodel.ProductionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.Folder, 0750); err != nil {
		return fmt.Errorf("failed to create production log folder %s: %w", f.Folder, err)
	}

	path := filepath.Join(f.Folder, fmt.Sprintf("prodlog_%s.csv", record.FinalizedAt.Format("2006-01-02")))
	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("failed to open production log %s: %w", path, err)
	}
	defer file.Close()

	stations, err := jsoniter.Marshal(record.Stations)
	if err != nil {
		return fmt.Errorf("failed to marshal station results for %s: %w", record.Code, err)
	}

	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
	}
	row := []string{
		record.FinalizedAt.Format(time.RFC3339),
		record.Code,
		strconv.FormatBool(record.Completed),
		formatRatio(record.OEE.Availability),
		formatRatio(record.OEE.Performance),
		formatRatio(record.OEE.Quality),
		formatRatio(record.OEE.OverallOEE),
		formatRatio(record.OEE.UptimeMinutes),
		formatRatio(record.OEE.DowntimeMinutes),
		formatRatio(record.OEE.OKParts),
		formatRatio(record.OEE.NGParts),
		formatRatio(record.OEE.TotalParts),
		formatRatio(record.OEE.CurrentCycleTimeSeconds),
		string(stations),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
