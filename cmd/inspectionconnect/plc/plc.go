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

// Package plc holds the collaborator contracts towards the controller side:
// reading one snapshot per tick, writing single tags, and resolving tag
// numbers to their controller address. The transport itself lives in the
// tag gateway service, this package only carries the thin client.
package plc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
)

// tag addresses only change with a line rebuild, so resolved tags may
// outlive the default cache expiration
var tagConfigExpiration = time.Minute

// ErrTagNotFound is returned when a tag number is absent from the tag
// configuration
var ErrTagNotFound = errors.New("tag not found in tag configuration")

// SnapshotReader delivers one full tag snapshot per poll tick
type SnapshotReader interface {
	ReadSnapshot(ctx context.Context) (datamodel.TagSnapshot, error)
}

// Writer writes a single tag value to the controller
type Writer interface {
	WriteTag(ctx context.Context, tagNo int, value datamodel.TagValue) error
}

// TagConfigProvider resolves the full tag configuration
type TagConfigProvider interface {
	GetAllTags() ([]datamodel.Tag, error)
}

// ResolveTag looks up one tag's controller and address through the tag
// configuration collaborator. Results are memcached, the configuration
// service is not built for per-write lookups.
func ResolveTag(provider TagConfigProvider, tagNo int) (tag datamodel.Tag, err error) {
	cacheKey := "plc-resolve-tag-" + internal.AsHash(tagNo)
	if cached, cacheHit := internal.GetMemcached(cacheKey); cacheHit {
		return cached.(datamodel.Tag), nil
	}

	tags, err := provider.GetAllTags()
	if err != nil {
		return datamodel.Tag{}, err
	}
	for _, candidate := range tags {
		if candidate.TagNo == tagNo {
			internal.SetMemcachedFor(cacheKey, candidate, tagConfigExpiration)
			return candidate, nil
		}
	}
	return datamodel.Tag{}, fmt.Errorf("%w: %d", ErrTagNotFound, tagNo)
}
