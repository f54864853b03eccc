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

// Document is a decoded JSON object: a call payload, a call result or a
// streamed event.
type Document map[string]any

// Sended reports whether the request reached the hub.
func (d Document) Sended() bool {
	v, _ := d["sended"].(bool)
	return v
}

func (d Document) Success() bool {
	v, _ := d["success"].(bool)
	return v
}

// ErrorMessage returns the failure text of a result. The hub reports its own
// command failures under "message".
func (d Document) ErrorMessage() string {
	if msg, ok := d["error"].(string); ok {
		return msg
	}
	msg, _ := d["message"].(string)
	return msg
}

func (d Document) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

func (d Document) fail(err error) Document {
	d["success"] = false
	d["error"] = err.Error()
	return d
}
