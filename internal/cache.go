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
	"fmt"
	"hash/crc32"
	"time"

	"github.com/patrickmn/go-cache"
)

var memCache *cache.Cache

var memoryDataExpiration = 10 * time.Second

// InitMemcache initializes the in-memory cache used for collaborator data
// that is safe to reuse for a few seconds (tag configuration, shift schedule)
func InitMemcache() {
	memCache = cache.New(memoryDataExpiration, 20*time.Second)
}

// SetMemcached stores a value under key with the default expiration
func SetMemcached(key string, value interface{}) {
	if memCache == nil {
		return
	}
	memCache.Set(key, value, cache.DefaultExpiration)
}

// SetMemcachedFor stores a value under key with an explicit expiration
func SetMemcachedFor(key string, value interface{}, d time.Duration) {
	if memCache == nil {
		return
	}
	memCache.Set(key, value, d)
}

// GetMemcached retrieves a value. cacheHit is false when the cache is not
// initialized, the key is unknown or the entry expired.
func GetMemcached(key string) (value interface{}, cacheHit bool) {
	if memCache == nil {
		return nil, false
	}
	return memCache.Get(key)
}

// AsHash returns a short hash for a given interface, used to build cache keys
func AsHash(o interface{}) string {
	h := crc32.NewIEEE()
	// This cannot fail
	_, _ = h.Write([]byte(fmt.Sprintf("%v", o)))

	return fmt.Sprintf("%x", h.Sum(nil))
}
