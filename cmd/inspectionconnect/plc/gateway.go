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

package plc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

// GatewayClient talks to the tag gateway, the service that owns the physical
// controller connection pool. It implements SnapshotReader, Writer and
// TagConfigProvider.
type GatewayClient struct {
	client  *http.Client
	baseURL string
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   3 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:    10,
				IdleConnTimeout: 10 * time.Second,
			},
			Timeout: 3 * time.Second,
		},
	}
}

// ReadSnapshot fetches the current tag values. The gateway answers with a
// flat JSON object keyed by tag number; JSON booleans, numbers and strings
// map onto the matching TagValue kinds. Integral numbers are kept as
// integers so status words compare cleanly.
func (g *GatewayClient) ReadSnapshot(ctx context.Context) (snapshot datamodel.TagSnapshot, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/snapshot", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tag gateway returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var raw map[string]interface{}
	if err = json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	snapshot = make(datamodel.TagSnapshot, len(raw))
	for key, value := range raw {
		tagNo, convErr := strconv.Atoi(key)
		if convErr != nil {
			// not a tag entry, the gateway also reports meta fields
			continue
		}
		snapshot[tagNo] = fromJSONValue(value)
	}
	return snapshot, nil
}

func fromJSONValue(value interface{}) datamodel.TagValue {
	switch typed := value.(type) {
	case bool:
		return datamodel.NewBoolValue(typed)
	case float64:
		if typed == math.Trunc(typed) {
			return datamodel.NewIntValue(int64(typed))
		}
		return datamodel.NewFloatValue(typed)
	case string:
		return datamodel.NewTextValue(typed)
	default:
		return datamodel.NewTextValue(fmt.Sprintf("%v", typed))
	}
}

type writeRequest struct {
	Value   interface{} `json:"value"`
	Address string      `json:"address"`
	TagNo   int         `json:"tagNo"`
	PLCNo   int         `json:"plcNo"`
}

// WriteTag resolves the tag's controller and address and posts the write to
// the gateway
func (g *GatewayClient) WriteTag(ctx context.Context, tagNo int, value datamodel.TagValue) (err error) {
	tag, err := ResolveTag(g, tagNo)
	if err != nil {
		return err
	}

	payload := writeRequest{
		TagNo:   tagNo,
		PLCNo:   tag.PLCNo,
		Address: tag.Address,
	}
	switch value.ValueType {
	case datamodel.TagValueTypeBool:
		payload.Value = value.BoolValue
	case datamodel.TagValueTypeInt:
		payload.Value = value.IntValue
	case datamodel.TagValueTypeFloat:
		payload.Value = value.FloatValue
	default:
		payload.Value = value.TextValue
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/write", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tag gateway rejected write of tag %d with status %d", tagNo, resp.StatusCode)
	}
	return nil
}

// GetAllTags fetches the tag configuration from the gateway, memcached so the
// write path does not hammer the configuration endpoint
func (g *GatewayClient) GetAllTags() (tags []datamodel.Tag, err error) {
	const cacheKey = "plc-gateway-all-tags"
	if cached, cacheHit := internal.GetMemcached(cacheKey); cacheHit {
		return cached.([]datamodel.Tag), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tag gateway returned status %d for tag configuration", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(body, &tags); err != nil {
		return nil, err
	}
	internal.SetMemcached(cacheKey, tags)
	return tags, nil
}
