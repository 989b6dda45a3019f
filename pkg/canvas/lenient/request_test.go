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
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRequest(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteRequest(&buf, "10.0.0.5", RawRequest{
		Method:      http.MethodPost,
		Path:        "/upload?filename=a.jpg",
		ContentType: "multipart/form-data; boundary=xyz",
		Body:        []byte("payload"),
	})
	require.NoError(t, err)

	req, err := http.ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/upload?filename=a.jpg", req.RequestURI)
	assert.Equal(t, "10.0.0.5", req.Host)
	assert.Equal(t, DefaultUserAgent, req.UserAgent())
	assert.Equal(t, "multipart/form-data; boundary=xyz", req.Header.Get("Content-Type"))
	assert.Equal(t, int64(7), req.ContentLength)
	assert.True(t, req.Close)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(body))
}

func TestHostPort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "10.0.0.5:80", HostPort("10.0.0.5"))
	assert.Equal(t, "10.0.0.5:8080", HostPort("10.0.0.5:8080"))
	assert.Equal(t, "canvas.local:80", HostPort("canvas.local"))
}

// TestDoDuplicateContentLength runs a full exchange against a listener that
// answers the way the defective firmware does.
func TestDoDuplicateContentLength(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	gotBody := make(chan []byte, 1)
	go func() {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		req, readErr := http.ReadRequest(bufio.NewReader(conn))
		if readErr != nil {
			return
		}
		body, _ := io.ReadAll(req.Body)
		gotBody <- body

		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n" +
			"Content-Type: text/json\r\n" +
			"Content-Length: 28\r\n" +
			"Content-Length: 28\r\n\r\n" +
			`{"path":"/gallerys/x/a.jpg"}`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := Do(ctx, nil, ln.Addr().String(), RawRequest{
		Method: http.MethodPost,
		Path:   "/upload",
		Body:   []byte("jpeg-bytes"),
	}, Options{ReadTimeout: time.Second})
	require.NoError(t, err)

	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "28", resp.Get("Content-Length"))
	assert.JSONEq(t, `{"path":"/gallerys/x/a.jpg"}`, string(resp.Body))
	assert.Equal(t, "jpeg-bytes", string(<-gotBody))
}

func TestDoDialError(t *testing.T) {
	t.Parallel()

	dial := func(context.Context, string, string) (net.Conn, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: io.ErrClosedPipe}
	}
	_, err := Do(context.Background(), dial, "10.0.0.5", RawRequest{}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
