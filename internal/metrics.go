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

package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts finalized production cycles by outcome
	// (completed / aborted)
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inspectionconnect_cycles_total",
		Help: "The total number of finalized production cycles",
	}, []string{"outcome"})

	// TriggerWorkflowsTotal counts trigger workflows by result
	// (processed / no_image / no_code)
	TriggerWorkflowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inspectionconnect_trigger_workflows_total",
		Help: "The total number of trigger workflows by result",
	}, []string{"result"})

	// QualitySyncTotal counts external quality sync attempts by result
	// (synced / disabled / disconnected / fetch_failed / panic)
	QualitySyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inspectionconnect_quality_sync_total",
		Help: "The total number of external quality sync attempts by result",
	}, []string{"result"})

	// WriteQueueDepth is the current number of pending tag write intents
	WriteQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inspectionconnect_write_queue_depth",
		Help: "The number of tag write intents currently queued",
	})

	// ControllerConnected is 1 while the controller heartbeat is healthy
	ControllerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inspectionconnect_controller_connected",
		Help: "Whether the controller is currently considered connected",
	})

	// ShiftResetsTotal counts shift auto-resets by result (acked / timeout)
	ShiftResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inspectionconnect_shift_resets_total",
		Help: "The total number of shift auto-resets by result",
	}, []string{"result"})
)
