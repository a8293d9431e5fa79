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
	"context"
	"time"

	"github.com/united-manufacturing-hub/inspectionconnect/internal"
	"github.com/united-manufacturing-hub/inspectionconnect/pkg/datamodel"
	"go.uber.org/zap"
)

// WriteIntent is one queued tag write
type WriteIntent struct {
	Value datamodel.TagValue
	TagNo int
}

// WriteQueue serializes all tag writes through a single consumer goroutine.
// Subsystems enqueue intents from their tick handlers or background tasks
// without blocking; the consumer applies them in arrival order, which keeps
// write ordering per tag auditable from the log.
type WriteQueue struct {
	writer  Writer
	intents chan WriteIntent
}

func NewWriteQueue(writer Writer, buffer int) *WriteQueue {
	if buffer <= 0 {
		buffer = 256
	}
	return &WriteQueue{
		writer:  writer,
		intents: make(chan WriteIntent, buffer),
	}
}

// Start launches the consumer. It runs until ctx is cancelled.
func (q *WriteQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				zap.S().Infof("Write queue stopped, %d intents dropped", len(q.intents))
				return
			case intent := <-q.intents:
				internal.WriteQueueDepth.Set(float64(len(q.intents)))
				writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := q.writer.WriteTag(writeCtx, intent.TagNo, intent.Value)
				cancel()
				if err != nil {
					// failed writes are logged, not retried; the owning
					// subsystem defines the fail-safe for a missing write
					zap.S().Errorf("Failed to write tag %d: %s", intent.TagNo, err)
				}
			}
		}
	}()
}

// Enqueue places a write intent on the queue. When the queue is full the
// intent is dropped with an error log rather than blocking the tick handler.
func (q *WriteQueue) Enqueue(tagNo int, value datamodel.TagValue) {
	select {
	case q.intents <- WriteIntent{TagNo: tagNo, Value: value}:
		internal.WriteQueueDepth.Set(float64(len(q.intents)))
	default:
		zap.S().Errorf("Write queue full, dropping write of tag %d", tagNo)
	}
}

// EnqueueBool is a shorthand for the very common boolean flag writes
func (q *WriteQueue) EnqueueBool(tagNo int, value bool) {
	q.Enqueue(tagNo, datamodel.NewBoolValue(value))
}

// EnqueueInt is a shorthand for numeric writes (status words, clock fields)
func (q *WriteQueue) EnqueueInt(tagNo int, value int64) {
	q.Enqueue(tagNo, datamodel.NewIntValue(value))
}
