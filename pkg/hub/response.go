// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package hub

import (
	"bytes"
	"encoding/json"
	"maps"
)

const headerDelimiter = "\r\n\r\n"

// parseResponse splits a raw hub response into its header and body sections
// and merges the JSON body into result. Exactly one delimiter is accepted.
func parseResponse(raw []byte, result Document) Document {
	sections := bytes.Split(raw, []byte(headerDelimiter))
	if len(sections) != 2 {
		return result.fail(ErrBadHTTPFormat)
	}

	var body any
	if err := json.Unmarshal(sections[1], &body); err != nil {
		return result.fail(ErrParseJSON)
	}
	if obj, ok := body.(map[string]any); ok {
		maps.Copy(result, obj)
	}
	return result
}
