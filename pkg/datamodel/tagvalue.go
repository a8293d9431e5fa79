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

package datamodel

import (
	"strconv"
	"strings"

	"github.com/rung/go-safecast"
)

// TagValueType discriminates the scalar kinds a controller tag can carry
type TagValueType int

const (
	TagValueTypeBool TagValueType = iota
	TagValueTypeInt
	TagValueTypeFloat
	TagValueTypeText
)

// TagValue is one polled scalar from the controller. Exactly one of the
// value fields is meaningful, selected by ValueType.
type TagValue struct {
	TextValue  string
	IntValue   int64
	FloatValue float64
	ValueType  TagValueType
	BoolValue  bool
}

// NewBoolValue returns a TagValue holding a boolean
func NewBoolValue(v bool) TagValue {
	return TagValue{ValueType: TagValueTypeBool, BoolValue: v}
}

// NewIntValue returns a TagValue holding an integer
func NewIntValue(v int64) TagValue {
	return TagValue{ValueType: TagValueTypeInt, IntValue: v}
}

// NewFloatValue returns a TagValue holding a float
func NewFloatValue(v float64) TagValue {
	return TagValue{ValueType: TagValueTypeFloat, FloatValue: v}
}

// NewTextValue returns a TagValue holding a string
func NewTextValue(v string) TagValue {
	return TagValue{ValueType: TagValueTypeText, TextValue: v}
}

// AsBool coerces the value to a boolean. Booleans pass through, numeric
// values are truthy when greater than zero, strings are parsed as bool
// first and as integer second. Every component must use this one rule.
func (v TagValue) AsBool() bool {
	switch v.ValueType {
	case TagValueTypeBool:
		return v.BoolValue
	case TagValueTypeInt:
		return v.IntValue > 0
	case TagValueTypeFloat:
		return v.FloatValue > 0
	case TagValueTypeText:
		trimmed := strings.TrimSpace(v.TextValue)
		if parsed, err := strconv.ParseBool(trimmed); err == nil {
			return parsed
		}
		if parsed, err := safecast.Atoi32(trimmed); err == nil {
			return parsed > 0
		}
		return false
	}
	return false
}

// AsFloat64 coerces the value to a float. Unparseable strings yield zero.
func (v TagValue) AsFloat64() float64 {
	switch v.ValueType {
	case TagValueTypeBool:
		if v.BoolValue {
			return 1
		}
		return 0
	case TagValueTypeInt:
		return float64(v.IntValue)
	case TagValueTypeFloat:
		return v.FloatValue
	case TagValueTypeText:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v.TextValue), 64)
		if err != nil {
			return 0
		}
		return parsed
	}
	return 0
}

// AsString renders the value the way the UI state file and the production
// log expect it
func (v TagValue) AsString() string {
	switch v.ValueType {
	case TagValueTypeBool:
		return strconv.FormatBool(v.BoolValue)
	case TagValueTypeInt:
		return strconv.FormatInt(v.IntValue, 10)
	case TagValueTypeFloat:
		return strconv.FormatFloat(v.FloatValue, 'f', -1, 64)
	case TagValueTypeText:
		return v.TextValue
	}
	return ""
}

// TagSnapshot maps tag number to the value captured at one poll instant.
// It is produced once per tick and must be treated as immutable while the
// subsystems process it.
type TagSnapshot map[int]TagValue

// Has reports whether the snapshot contains the tag
func (s TagSnapshot) Has(tagNo int) bool {
	_, ok := s[tagNo]
	return ok
}

// BoolOr returns the coerced boolean for the tag, or fallback when the tag
// is absent from the snapshot
func (s TagSnapshot) BoolOr(tagNo int, fallback bool) bool {
	v, ok := s[tagNo]
	if !ok {
		return fallback
	}
	return v.AsBool()
}

// Float64Or returns the coerced float for the tag, or fallback when the tag
// is absent from the snapshot
func (s TagSnapshot) Float64Or(tagNo int, fallback float64) float64 {
	v, ok := s[tagNo]
	if !ok {
		return fallback
	}
	return v.AsFloat64()
}

// StringOr returns the rendered string for the tag, or fallback when the tag
// is absent from the snapshot
func (s TagSnapshot) StringOr(tagNo int, fallback string) string {
	v, ok := s[tagNo]
	if !ok {
		return fallback
	}
	return v.AsString()
}
