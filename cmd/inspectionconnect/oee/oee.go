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

// Package oee captures per-station results off the CCD trigger and computes
// Availability, Performance and Quality from the controller's raw counters.
package oee

import (
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

// Compute derives the OEE ratios from the raw counters. Every ratio
// evaluates to 0 instead of dividing by zero. The results are deliberately
// not clamped to [0,1]: the Performance formula divides by
// uptime-in-minutes times 60 and upstream counters are minute-granularity,
// so values above 1 are possible and must stay visible.
func Compute(uptimeMin, downtimeMin, okParts, ngParts, totalParts, idealCycleSeconds, cycleTimeSeconds float64) datamodel.OEEResult {
	result := datamodel.OEEResult{
		UptimeMinutes:           uptimeMin,
		DowntimeMinutes:         downtimeMin,
		OKParts:                 okParts,
		NGParts:                 ngParts,
		TotalParts:              totalParts,
		CurrentCycleTimeSeconds: cycleTimeSeconds,
	}

	totalTime := uptimeMin + downtimeMin
	if totalTime > 0 {
		result.Availability = uptimeMin / totalTime
	}
	if totalParts > 0 {
		result.Quality = okParts / totalParts
	}
	if uptimeMin > 0 && idealCycleSeconds > 0 {
		result.Performance = (idealCycleSeconds * totalParts) / (uptimeMin * 60)
	}
	result.OverallOEE = result.Availability * result.Performance * result.Quality
	return result
}
