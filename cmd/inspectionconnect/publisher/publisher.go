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

// Package publisher emits business events (cycle started, station inspected,
// cycle completed) to an MQTT broker for dashboards and downstream bridges.
package publisher

import (
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Publisher wraps the MQTT client. A nil Publisher is valid and drops every
// event, so the engines do not need to care whether MQTT is configured.
type Publisher struct {
	client      MQTT.Client
	topicPrefix string
}

// NewPublisher connects to the broker and returns a ready publisher
func NewPublisher(broker string, clientID string, topicPrefix string) (*Publisher, error) {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(false)
	opts.SetOnConnectHandler(func(client MQTT.Client) {
		zap.S().Infof("connected to MQTT broker %s", broker)
	})
	opts.SetConnectionLostHandler(func(client MQTT.Client, err error) {
		zap.S().Warnf("lost connection to MQTT broker %s: %s", broker, err)
	})

	client := MQTT.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, token.Error())
	}
	return &Publisher{client: client, topicPrefix: topicPrefix}, nil
}

// Publish marshals the payload and sends it under <prefix>/<event>. It never
// blocks the caller on broker trouble; delivery failures are logged by the
// token watcher.
func (p *Publisher) Publish(event string, payload interface{}) {
	if p == nil || p.client == nil {
		return
	}
	body, err := jsoniter.Marshal(payload)
	if err != nil {
		zap.S().Errorf("Failed to marshal event %s: %s", event, err)
		return
	}
	topic := fmt.Sprintf("%s/%s", p.topicPrefix, event)
	token := p.client.Publish(topic, 1, false, body)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			zap.S().Errorf("Failed to publish event to %s: %s", topic, token.Error())
		}
	}()
}

// Close disconnects from the broker, allowing in-flight messages to drain
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Disconnect(250)
}
