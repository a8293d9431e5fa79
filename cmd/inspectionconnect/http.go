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
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/cycle"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/oee"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/plc"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/sequence"
	"github.com/united-manufacturing-hub/inspectionconnect/cmd/inspectionconnect/shiftreset"
	"go.uber.org/zap"
)

var errControllerDown = errors.New("controller not connected")

// startStatusAPI serves the read-only line status endpoints for dashboards.
// All endpoints derive their answer from live engine state; nothing here
// mutates anything.
func startStatusAPI(
	address string,
	cycleEngine *cycle.Engine,
	oeeEngine *oee.Engine,
	gateway *plc.GatewayClient,
	shiftEngine *shiftreset.Engine,
	seq *sequence.Provider,
) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/oee", func(c *gin.Context) {
		readCtx, cncl := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cncl()
		snapshot, err := gateway.ReadSnapshot(readCtx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "controller unreachable"})
			return
		}
		c.JSON(http.StatusOK, oeeEngine.Calculate(snapshot))
	})

	router.GET("/cycle", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"activeCode":  cycleEngine.ActiveCode(),
			"currentStep": cycleEngine.CurrentStep(),
			"state":       cycleEngine.StateRecord(),
		})
	})

	router.GET("/shift", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"resetState": shiftEngine.State().String(),
		})
	})

	router.GET("/stations", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"stations": seq.OrderedByStation(),
		})
	})

	go func() {
		if err := router.Run(address); err != nil {
			zap.S().Errorf("Error starting status API: %s", err)
		}
	}()
}
