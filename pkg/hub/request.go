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
	"io"
	"net/http"
	"strconv"
)

type headerField struct {
	name  string
	value string
}

// request is a hand-framed HTTP/1.1 request. Headers are written in the
// order they were added.
type request struct {
	method string
	path   string
	header []headerField
	body   []byte
}

func newCallRequest(host, path string, body []byte) *request {
	return &request{
		method: http.MethodPost,
		path:   path,
		header: []headerField{
			{"Host", host},
			{"Content-Type", "application/json"},
			{"Content-Length", strconv.Itoa(len(body))},
		},
		body: body,
	}
}

func newStreamRequest(host, path string) *request {
	return &request{
		method: http.MethodGet,
		path:   path,
		header: []headerField{
			{"Host", host},
			{"Accept", "text/event-stream"},
		},
	}
}

func (r *request) bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(r.method)
	buf.WriteByte(' ')
	buf.WriteString(r.path)
	buf.WriteString(" HTTP/1.1\r\n")
	for _, h := range r.header {
		buf.WriteString(h.name)
		buf.WriteString(": ")
		buf.WriteString(h.value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(r.body)
	return buf.Bytes()
}

// WriteTo writes the whole request with a single Write.
func (r *request) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r.bytes())
	return int64(n), err
}
