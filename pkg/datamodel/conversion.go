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

const (
	// StatusOK marks a station verdict as pass
	StatusOK = "OK"
	// StatusNG marks a station verdict as reject
	StatusNG = "NG"
)

// ConvertStatusToString converts a polled station status into the verdict
// string used everywhere downstream. Numeric 1 means OK, numeric 2 means NG,
// anything else is passed through raw so unexpected controller values stay
// visible in the log instead of being masked.
func ConvertStatusToString(v TagValue) string {
	switch v.ValueType {
	case TagValueTypeInt:
		switch v.IntValue {
		case 1:
			return StatusOK
		case 2:
			return StatusNG
		}
	case TagValueTypeFloat:
		switch v.FloatValue {
		case 1:
			return StatusOK
		case 2:
			return StatusNG
		}
	}
	return v.AsString()
}
