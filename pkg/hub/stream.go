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
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// OpenStream sends a GET request for path and hands every received line to
// handler, one at a time and in order, with the line terminator removed.
// The stream takes over the current socket; later calls dial a new one.
// OpenStream returns nil when the hub closes the stream or ctx is
// cancelled.
func (c *Client) OpenStream(ctx context.Context, path string, handler func(line string)) error {
	conn, err := c.handshake(ctx, path)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c.logger.Debug("hub stream opened", "path", path, "hub", c.transport.endpoint.Address())

	reader := bufio.NewReaderSize(conn, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if line != "" && (err == nil || errors.Is(err, io.EOF)) {
			handler(strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return ioError(ctx, "stream "+path, err)
		}
	}
}

func (c *Client) handshake(ctx context.Context, path string) (net.Conn, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn, err := c.transport.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := newStreamRequest(c.transport.endpoint.Host, path)
	if _, err := req.WriteTo(conn); err != nil {
		c.transport.release(conn)
		return nil, ioError(ctx, "write "+path, err)
	}
	c.transport.detach(conn)
	return conn, nil
}
