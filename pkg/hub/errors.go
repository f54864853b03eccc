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

import "errors"

var (
	ErrConnection = errors.New("hub connection failed")
	ErrIO         = errors.New("hub i/o failed")
	ErrEncode     = errors.New("hub payload encode failed")

	// The hub protocol failures below never surface as Go errors from Call;
	// their messages are reported in the result document instead.
	ErrBadHTTPFormat = errors.New("Bad HTTP format")
	ErrParseJSON     = errors.New("Couldn't parse JSON")
)
