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

package main

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/cycle"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/heartbeat"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/oee"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/prodlog"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/publisher"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/qualitysync"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/sequence"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/shiftreset"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"github.com/united-manufacturing-hub/umh-utils/logger"
	"go.uber.org/zap"
)

func main() {
	// Initialize zap logging
	log := logger.New("LOGGING_LEVEL")
	defer func(logger *zap.SugaredLogger) {
		err := logger.Sync()
		if err != nil {
			panic(err)
		}
	}(log)

	internal.Initfgtrace()
	internal.InitMemcache()

	gatewayURL, err := env.GetAsString("PLC_GATEWAY_URL", true, "")
	if err != nil {
		zap.S().Fatalf("Failed to get PLC_GATEWAY_URL from env: %s", err)
	}
	lineConfigPath, err := env.GetAsString("LINE_CONFIG_PATH", false, "/config/line-config.yaml")
	if err != nil {
		zap.S().Fatalf("Failed to get LINE_CONFIG_PATH from env: %s", err)
	}
	pollIntervalMs, err := env.GetAsInt("POLL_INTERVAL_MS", false, 100)
	if err != nil {
		zap.S().Fatalf("Failed to get POLL_INTERVAL_MS from env: %s", err)
	}
	prodlogFolder, err := env.GetAsString("PRODLOG_FOLDER", false, "/data/prodlog")
	if err != nil {
		zap.S().Fatalf("Failed to get PRODLOG_FOLDER from env: %s", err)
	}
	mqttBroker, err := env.GetAsString("MQTT_BROKER_URL", false, "")
	if err != nil {
		zap.S().Fatalf("Failed to get MQTT_BROKER_URL from env: %s", err)
	}
	apiAddress, err := env.GetAsString("API_ADDRESS", false, ":8080")
	if err != nil {
		zap.S().Fatalf("Failed to get API_ADDRESS from env: %s", err)
	}

	lineCfg, err := LoadLineConfig(lineConfigPath)
	if err != nil {
		zap.S().Fatalf("Failed to load line config from %s: %s", lineConfigPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := plc.NewGatewayClient(gatewayURL)
	writes := plc.NewWriteQueue(gateway, 256)
	writes.Start(ctx)

	// production log sinks
	fileLog := &prodlog.FileLog{Folder: prodlogFolder}
	productionLog := &prodlog.MultiLog{Sinks: []interface {
		AppendRecord(record datamodel.ProductionRecord) error
	}{fileLog}}
	pgLog, err := prodlog.NewPostgresLogFromEnv(ctx)
	if err != nil {
		zap.S().Fatalf("Failed to set up postgres production log: %s", err)
	}
	if pgLog != nil {
		defer pgLog.Close()
		productionLog.Sinks = append(productionLog.Sinks, pgLog)
	}

	// optional business event publisher
	var events *publisher.Publisher
	if mqttBroker != "" {
		events, err = publisher.NewPublisher(mqttBroker, "inspectionconnect", "ia/inspectionconnect")
		if err != nil {
			zap.S().Fatalf("Failed to connect to MQTT broker: %s", err)
		}
		defer events.Close()
	}

	seq := sequence.NewProvider(&sequence.FileLoader{Path: lineCfg.PositionsPath})

	qualityMonitor := qualitysync.NewMonitor(
		&qualitysync.TCPPinger{Address: lineCfg.Quality.PingAddress},
		writes,
		lineCfg.Quality.NotConnectedTagNo,
	)
	if lineCfg.Quality.Enabled {
		qualityMonitor.Start()
	}
	quality := qualitysync.NewSyncer(qualitysync.Config{
		Enabled:           lineCfg.Quality.Enabled,
		BaseURL:           lineCfg.Quality.BaseURL,
		Command:           lineCfg.Quality.Command,
		PrevMachineCode:   lineCfg.Quality.PrevMachineCode,
		ThisMachineCode:   lineCfg.Quality.ThisMachineCode,
		StatusWordTagNo:   lineCfg.Quality.StatusWordTagNo,
		DataReadyTagNo:    lineCfg.Quality.DataReadyTagNo,
		NotConnectedTagNo: lineCfg.Quality.NotConnectedTagNo,
		StationCount:      lineCfg.OEE.StationCount,
	}, seq, qualityMonitor, writes)

	cycleEngine := cycle.NewEngine(cycle.Config{
		TriggerTagNo:    lineCfg.Cycle.TriggerTagNo,
		CodeTagNo:       lineCfg.Cycle.CodeTagNo,
		StatusTagNo:     lineCfg.Cycle.StatusTagNo,
		XTagNo:          lineCfg.Cycle.XTagNo,
		YTagNo:          lineCfg.Cycle.YTagNo,
		ZTagNo:          lineCfg.Cycle.ZTagNo,
		AckTagNo:        lineCfg.Cycle.AckTagNo,
		CycleStartTagNo: lineCfg.Cycle.CycleStartTagNo,
		ImageDropFolder: lineCfg.Cycle.ImageDropFolder,
		StateFolder:     lineCfg.Cycle.StateFolder,
	}, seq, writes, gateway, events, quality)

	oeeEngine := oee.NewEngine(oee.Config{
		CCDTriggerTagNo:       lineCfg.OEE.CCDTriggerTagNo,
		CodeTagNo:             lineCfg.Cycle.CodeTagNo,
		StatusTagNo:           lineCfg.Cycle.StatusTagNo,
		XTagNo:                lineCfg.Cycle.XTagNo,
		YTagNo:                lineCfg.Cycle.YTagNo,
		ZTagNo:                lineCfg.Cycle.ZTagNo,
		CycleTimeA1TagNo:      lineCfg.OEE.CycleTimeA1TagNo,
		CycleAckB1TagNo:       lineCfg.OEE.CycleAckB1TagNo,
		CycleStartTagNo:       lineCfg.Cycle.CycleStartTagNo,
		CycleTimeSecondsTagNo: lineCfg.OEE.CycleTimeSecondsTagNo,
		UptimeMinutesTagNo:    lineCfg.OEE.UptimeMinutesTagNo,
		DowntimeMinutesTagNo:  lineCfg.OEE.DowntimeMinutesTagNo,
		OKPartsTagNo:          lineCfg.OEE.OKPartsTagNo,
		NGPartsTagNo:          lineCfg.OEE.NGPartsTagNo,
		TotalPartsTagNo:       lineCfg.OEE.TotalPartsTagNo,
		StationCount:          lineCfg.OEE.StationCount,
		IdealCycleSeconds:     lineCfg.OEE.IdealCycleSeconds,
	}, &sequence.FileLoader{Path: lineCfg.PositionsPath}, productionLog, writes)

	shiftEngine := shiftreset.NewEngine(shiftreset.Config{
		ResetTagNo: lineCfg.Shift.ResetTagNo,
		AckTagNo:   lineCfg.Shift.AckTagNo,
	}, &shiftreset.FileLoader{Path: lineCfg.Shift.SchedulePath}, writes, cycleEngine)

	heartbeatEngine := heartbeat.NewEngine(heartbeat.Config{
		PulseTagNo:       lineCfg.Heartbeat.PulseTagNo,
		IPCPulseTagNo:    lineCfg.Heartbeat.IPCPulseTagNo,
		TimeRequestTagNo: lineCfg.Heartbeat.TimeRequestTagNo,
		TimeAckTagNo:     lineCfg.Heartbeat.TimeAckTagNo,
		YearTagNo:        lineCfg.Heartbeat.YearTagNo,
		MonthTagNo:       lineCfg.Heartbeat.MonthTagNo,
		DayTagNo:         lineCfg.Heartbeat.DayTagNo,
		HourTagNo:        lineCfg.Heartbeat.HourTagNo,
		MinuteTagNo:      lineCfg.Heartbeat.MinuteTagNo,
		SecondTagNo:      lineCfg.Heartbeat.SecondTagNo,
	}, writes, gateway)
	heartbeatEngine.StartPulse(ctx)

	zap.S().Debugf("Setting up healthcheck")
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000000))
	health.AddReadinessCheck("controller-connected", func() error {
		if !heartbeatEngine.Connected() {
			return errControllerDown
		}
		return nil
	})
	go func() {
		/* #nosec G114 */
		err := http.ListenAndServe("0.0.0.0:8086", health)
		if err != nil {
			zap.S().Errorf("Error starting healthcheck: %s", err)
		}
	}()

	startStatusAPI(apiAddress, cycleEngine, oeeEngine, gateway, shiftEngine, seq)

	shutdown := internal.NewGracefulShutdown(func() error {
		cancel()
		// let queued writes and in-flight workflows drain
		time.Sleep(time.Second)
		return nil
	})

	runPollLoop(ctx, shutdown, gateway, time.Duration(pollIntervalMs)*time.Millisecond,
		heartbeatEngine, cycleEngine, oeeEngine, shiftEngine)
}

// snapshotHandler is one subsystem's per-tick entry point
type snapshotHandler interface {
	OnSnapshot(snapshot datamodel.TagSnapshot)
}

// runPollLoop owns the poll cadence. Each tick reads one snapshot from the
// gateway and hands the same snapshot to every subsystem in a fixed order,
// so all fields an event reads come from one atomic snapshot.
func runPollLoop(
	ctx context.Context,
	shutdown internal.GracefulShutdownHandler,
	gateway *plc.GatewayClient,
	interval time.Duration,
	heartbeatEngine *heartbeat.Engine,
	handlers ...snapshotHandler,
) {
	zap.S().Infof("Starting poll loop at %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if shutdown.ShuttingDown() {
			zap.S().Infof("Poll loop stopping")
			shutdown.Wait()
			return
		}

		readCtx, cncl := context.WithTimeout(ctx, 3*time.Second)
		snapshot, err := gateway.ReadSnapshot(readCtx)
		cncl()
		if err != nil {
			// heartbeat connectivity decays on its own while reads fail
			zap.S().Warnf("Failed to read snapshot: %s", err)
			continue
		}

		heartbeatEngine.MarkPollSuccess()
		heartbeatEngine.OnSnapshot(snapshot)
		for _, handler := range handlers {
			handler.OnSnapshot(snapshot)
		}
	}
}
