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

package prodlog

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

const insertRecordQuery = `INSERT INTO production_record
	(finalized_at, started_at, code, completed,
	 availability, performance, quality, oee,
	 uptime_minutes, downtime_minutes, ok_parts, ng_parts, total_parts,
	 cycle_time_seconds, stations)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

// PostgresLog inserts finalized production records into postgres. It is
// optional; when the POSTGRES_HOST env var is unset the service runs on the
// file sink alone.
type PostgresLog struct {
	db *pgxpool.Pool
}

// NewPostgresLogFromEnv reads the POSTGRES_* env vars, connects and pings
// with exponential backoff. Returns nil without error when POSTGRES_HOST is
// not configured.
func NewPostgresLogFromEnv(ctx context.Context) (*PostgresLog, error) {
	PQHost, err := env.GetAsString("POSTGRES_HOST", false, "")
	if err != nil {
		return nil, err
	}
	if PQHost == "" {
		zap.S().Infof("POSTGRES_HOST not set, production records go to the file log only")
		return nil, nil
	}
	PQPort, err := env.GetAsInt("POSTGRES_PORT", false, 5432)
	if err != nil {
		return nil, err
	}
	PQUser, err := env.GetAsString("POSTGRES_USER", true, "")
	if err != nil {
		return nil, err
	}
	PQPassword, err := env.GetAsString("POSTGRES_PASSWORD", true, "")
	if err != nil {
		return nil, err
	}
	PQDBName, err := env.GetAsString("POSTGRES_DATABASE", true, "")
	if err != nil {
		return nil, err
	}
	PQSSLMode, err := env.GetAsString("POSTGRES_SSL_MODE", false, "require")
	if err != nil {
		return nil, err
	}

	zap.S().Infof("Connecting to %s@%s:%d/%s [%s]", PQUser, PQHost, PQPort, PQDBName, PQSSLMode)
	conString := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", PQHost, PQPort, PQUser, PQPassword, PQDBName, PQSSLMode)

	db, err := pgxpool.New(ctx, conString)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to postgres database: %w", err)
	}

	for retries := int64(1); ; retries++ {
		pingCtx, cncl := context.WithTimeout(ctx, 5*time.Second)
		err = db.Ping(pingCtx)
		cncl()
		if err == nil {
			break
		}
		if retries > 10 {
			db.Close()
			return nil, fmt.Errorf("postgres did not become available: %w", err)
		}
		zap.S().Warnf("Failed to ping postgres (try %d): %s", retries, err)
		internal.SleepBackedOff(retries, time.Millisecond*100, time.Second*10)
	}

	return &PostgresLog{db: db}, nil
}

func (p *PostgresLog) AppendRecord(record datamodel.ProductionRecord) error {
	stations, err := jsoniter.Marshal(record.Stations)
	if err != nil {
		return fmt.Errorf("failed to marshal station results for %s: %w", record.Code, err)
	}

	ctx, cncl := context.WithTimeout(context.Background(), 5*time.Second)
	defer cncl()
	_, err = p.db.Exec(ctx, insertRecordQuery,
		record.FinalizedAt, record.StartedAt, record.Code, record.Completed,
		record.OEE.Availability, record.OEE.Performance, record.OEE.Quality, record.OEE.OverallOEE,
		record.OEE.UptimeMinutes, record.OEE.DowntimeMinutes, record.OEE.OKParts, record.OEE.NGParts, record.OEE.TotalParts,
		record.OEE.CurrentCycleTimeSeconds, stations,
	)
	if err != nil {
		return fmt.Errorf("failed to insert production record for %s: %w", record.Code, err)
	}
	return nil
}

func (p *PostgresLog) Close() {
	p.db.Close()
}

// MultiLog fans a record out to every sink. A failing sink is logged and
// skipped so a postgres outage never loses the file copy.
type MultiLog struct {
	Sinks []interface {
		AppendRecord(record datamodel.ProductionRecord) error
	}
}

func (m *MultiLog) AppendRecord(record datamodel.ProductionRecord) error {
	for _, sink := range m.Sinks {
		if err := sink.AppendRecord(record); err != nil {
			zap.S().Errorf("Production log sink failed for %s: %s", record.Code, err)
		}
	}
	return nil
}
