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
	"github.com/spf13/viper"
)

// LineConfig is the per-line configuration: tag numbers, folders and machine
// codes. Deployment-level settings (addresses, credentials, intervals) come
// from env vars instead; this file describes the physical line and changes
// only when the line is rebuilt.
type LineConfig struct {
	Cycle struct {
		TriggerTagNo    int    `mapstructure:"triggerTagNo"`
		CodeTagNo       int    `mapstructure:"codeTagNo"`
		StatusTagNo     int    `mapstructure:"statusTagNo"`
		XTagNo          int    `mapstructure:"xTagNo"`
		YTagNo          int    `mapstructure:"yTagNo"`
		ZTagNo          int    `mapstructure:"zTagNo"`
		AckTagNo        int    `mapstructure:"ackTagNo"`
		CycleStartTagNo int    `mapstructure:"cycleStartTagNo"`
		ImageDropFolder string `mapstructure:"imageDropFolder"`
		StateFolder     string `mapstructure:"stateFolder"`
	} `mapstructure:"cycle"`

	OEE struct {
		CCDTriggerTagNo       int     `mapstructure:"ccdTriggerTagNo"`
		CycleTimeA1TagNo      int     `mapstructure:"cycleTimeA1TagNo"`
		CycleAckB1TagNo       int     `mapstructure:"cycleAckB1TagNo"`
		CycleTimeSecondsTagNo int     `mapstructure:"cycleTimeSecondsTagNo"`
		UptimeMinutesTagNo    int     `mapstructure:"uptimeMinutesTagNo"`
		DowntimeMinutesTagNo  int     `mapstructure:"downtimeMinutesTagNo"`
		OKPartsTagNo          int     `mapstructure:"okPartsTagNo"`
		NGPartsTagNo          int     `mapstructure:"ngPartsTagNo"`
		TotalPartsTagNo       int     `mapstructure:"totalPartsTagNo"`
		IdealCycleSeconds     float64 `mapstructure:"idealCycleSeconds"`
		StationCount          int     `mapstructure:"stationCount"`
	} `mapstructure:"oee"`

	Quality struct {
		Enabled           bool   `mapstructure:"enabled"`
		BaseURL           string `mapstructure:"baseUrl"`
		PingAddress       string `mapstructure:"pingAddress"`
		Command           string `mapstructure:"command"`
		PrevMachineCode   string `mapstructure:"prevMachineCode"`
		ThisMachineCode   string `mapstructure:"thisMachineCode"`
		StatusWordTagNo   int    `mapstructure:"statusWordTagNo"`
		DataReadyTagNo    int    `mapstructure:"dataReadyTagNo"`
		NotConnectedTagNo int    `mapstructure:"notConnectedTagNo"`
	} `mapstructure:"quality"`

	Shift struct {
		ResetTagNo   int    `mapstructure:"resetTagNo"`
		AckTagNo     int    `mapstructure:"ackTagNo"`
		SchedulePath string `mapstructure:"schedulePath"`
	} `mapstructure:"shift"`

	Heartbeat struct {
		PulseTagNo       int `mapstructure:"pulseTagNo"`
		IPCPulseTagNo    int `mapstructure:"ipcPulseTagNo"`
		TimeRequestTagNo int `mapstructure:"timeRequestTagNo"`
		TimeAckTagNo     int `mapstructure:"timeAckTagNo"`
		YearTagNo        int `mapstructure:"yearTagNo"`
		MonthTagNo       int `mapstructure:"monthTagNo"`
		DayTagNo         int `mapstructure:"dayTagNo"`
		HourTagNo        int `mapstructure:"hourTagNo"`
		MinuteTagNo      int `mapstructure:"minuteTagNo"`
		SecondTagNo      int `mapstructure:"secondTagNo"`
	} `mapstructure:"heartbeat"`

	PositionsPath string `mapstructure:"positionsPath"`
}

// LoadLineConfig reads the line configuration from the given path
func LoadLineConfig(path string) (*LineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var cfg LineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
