// Zaparoo Canvas
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Canvas.
//
// Zaparoo Canvas is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Canvas is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Canvas.  If not, see <http://www.gnu.org/licenses/>.

package lenient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultUserAgent is sent when RawRequest.UserAgent is empty.
const DefaultUserAgent = "zaparoo-canvas"

// RawRequest is a minimal HTTP/1.1 request written by hand on a raw socket.
type RawRequest struct {
	Method      string
	Path        string
	ContentType string
	UserAgent   string
	Body        []byte
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// WriteRequest writes req to w with an explicit Content-Length and
// Connection: close, so the response is always terminated by the peer.
func WriteRequest(w io.Writer, host string, req RawRequest) error {
	method := req.Method
	if method == "" {
		method = "GET"
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	ua := req.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", method, path)
	fmt.Fprintf(bw, "Host: %s\r\n", host)
	fmt.Fprintf(bw, "User-Agent: %s\r\n", ua)
	bw.WriteString("Accept: */*\r\n")
	bw.WriteString("Connection: close\r\n")
	if req.ContentType != "" {
		fmt.Fprintf(bw, "Content-Type: %s\r\n", req.ContentType)
	}
	bw.WriteString("Content-Length: " + strconv.Itoa(len(req.Body)) + "\r\n\r\n")
	bw.Write(req.Body)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}
	return nil
}

// Do sends req to host over a fresh connection and parses the reply with
// ReadResponse. Host defaults to port 80. The connection is always closed
// and the context deadline, if any, bounds the whole exchange.
func Do(ctx context.Context, dial DialFunc, host string, req RawRequest, opts Options) (*Response, error) {
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", HostPort(host))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
		if opts.Deadline.IsZero() || deadline.Before(opts.Deadline) {
			opts.Deadline = deadline
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteRequest(conn, host, req); err != nil {
		return nil, err
	}

	resp, err := ReadResponse(conn, opts)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}
	return resp, nil
}

// HostPort appends the default HTTP port when host has none.
func HostPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, "80")
}
