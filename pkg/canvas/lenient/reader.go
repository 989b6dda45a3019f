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

// Package lenient reads HTTP/1.1 responses that strict parsers refuse.
//
// Some Canvas firmware builds answer the upload endpoint with duplicate
// Content-Length headers. net/http rejects those responses outright, so
// uploads are re-sent over a raw socket and the reply is parsed here. Only
// enough of HTTP/1.1 is implemented to survive that defect.
package lenient

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxHeaderBytes caps the header block. A peer that never terminates
// its headers is treated as broken rather than waited on.
const DefaultMaxHeaderBytes = 64 * 1024

// DefaultMaxBodyBytes caps the body. Upload replies are a few bytes of JSON.
const DefaultMaxBodyBytes = 4 << 20

const readChunkSize = 4096

var (
	// ErrFraming is the parent of every parse failure in this package.
	ErrFraming = errors.New("malformed http response")
	// ErrHeaderTooLarge means no header terminator arrived within the limit.
	ErrHeaderTooLarge = fmt.Errorf("%w: header block too large", ErrFraming)
	// ErrEmptyResponse means the peer closed without sending anything.
	ErrEmptyResponse = fmt.Errorf("%w: empty response", ErrFraming)
	// ErrBadStatusLine means the status line had no numeric status code.
	ErrBadStatusLine = fmt.Errorf("%w: bad status line", ErrFraming)
	// ErrBodyTooLarge means the declared or received body exceeds the limit.
	ErrBodyTooLarge = fmt.Errorf("%w: body too large", ErrFraming)
)

// Options controls a single ReadResponse call.
type Options struct {
	// ReadTimeout is applied before every read when the source supports
	// read deadlines. Zero disables it.
	ReadTimeout time.Duration
	// Deadline, when set, is never extended by ReadTimeout refreshes.
	Deadline time.Time
	// MaxHeaderBytes defaults to DefaultMaxHeaderBytes.
	MaxHeaderBytes int
	// MaxBodyBytes defaults to DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// Response is a parsed HTTP response. Header keys are lower case and hold
// the first value seen for that name.
type Response struct {
	Header     map[string]string
	Body       []byte
	StatusCode int
}

// Get returns the first value of the named header.
func (r *Response) Get(name string) string {
	return r.Header[strings.ToLower(name)]
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// deadlineReader refreshes the read deadline before every read, clamped to
// the overall deadline.
type deadlineReader struct {
	deadline time.Time
	r        io.Reader
	timeout  time.Duration
}

func (d deadlineReader) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if dl, ok := d.r.(readDeadliner); ok {
			next := time.Now().Add(d.timeout)
			if !d.deadline.IsZero() && d.deadline.Before(next) {
				next = d.deadline
			}
			if err := dl.SetReadDeadline(next); err != nil {
				return 0, fmt.Errorf("failed to set read deadline: %w", err)
			}
		}
	}
	//nolint:wrapcheck // io.Reader contract, io.EOF must pass through untouched
	return d.r.Read(p)
}

// ReadResponse parses one HTTP/1.1 response from r.
//
// Duplicate headers never fail the parse: the first occurrence is kept.
// Non-2xx statuses are returned as normal results.
func ReadResponse(r io.Reader, opts Options) (*Response, error) {
	if opts.MaxHeaderBytes <= 0 {
		opts.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	src := deadlineReader{r: r, timeout: opts.ReadTimeout, deadline: opts.Deadline}

	head, rest, err := readHead(src, opts.MaxHeaderBytes)
	if err != nil {
		return nil, err
	}

	lines := bytes.Split(head, []byte("\r\n"))
	status, err := parseStatusLine(string(lines[0]))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: status,
		Header:     parseHeaders(lines[1:]),
	}

	body := io.MultiReader(bytes.NewReader(rest), src)

	if strings.Contains(strings.ToLower(resp.Header["transfer-encoding"]), "chunked") {
		resp.Body, err = readChunked(bufio.NewReader(body), opts.MaxBodyBytes)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	if total, ok := contentLength(resp.Header); ok {
		if total > opts.MaxBodyBytes {
			return nil, fmt.Errorf("%w: content-length %d exceeds %d", ErrBodyTooLarge, total, opts.MaxBodyBytes)
		}
		if int64(len(rest)) >= total {
			resp.Body = rest[:total]
			return resp, nil
		}
		var buf bytes.Buffer
		buf.Write(rest)
		if _, err := io.CopyN(&buf, src, total-int64(len(rest))); err != nil {
			return nil, fmt.Errorf("failed to read body (content-length %d): %w", total, unexpectedEOF(err))
		}
		resp.Body = buf.Bytes()
		return resp, nil
	}

	resp.Body, err = io.ReadAll(io.LimitReader(body, opts.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body until close: %w", err)
	}
	if int64(len(resp.Body)) > opts.MaxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes before close", ErrBodyTooLarge, opts.MaxBodyBytes)
	}
	return resp, nil
}

// readHead reads until the blank line ending the header block and returns
// the header bytes plus whatever body bytes arrived in the same reads. A
// stream that ends early yields whatever header bytes were received.
func readHead(r io.Reader, limit int) (head, rest []byte, err error) {
	marker := []byte("\r\n\r\n")
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		if idx := bytes.Index(buf, marker); idx >= 0 {
			if idx > limit {
				return nil, nil, ErrHeaderTooLarge
			}
			return buf[:idx], buf[idx+len(marker):], nil
		}
		if len(buf) > limit {
			return nil, nil, ErrHeaderTooLarge
		}

		n, readErr := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if errors.Is(readErr, io.EOF) {
			if idx := bytes.Index(buf, marker); idx >= 0 {
				return buf[:idx], buf[idx+len(marker):], nil
			}
			if len(buf) == 0 {
				return nil, nil, ErrEmptyResponse
			}
			return buf, nil, nil
		}
		if readErr != nil {
			return nil, nil, fmt.Errorf("failed to read header block: %w", readErr)
		}
	}
}

func parseStatusLine(line string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, fmt.Errorf("%w: %q", ErrBadStatusLine, line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return 0, fmt.Errorf("%w: %q", ErrBadStatusLine, line)
	}
	return code, nil
}

func parseHeaders(lines [][]byte) map[string]string {
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		k, v, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(string(k)))
		if key == "" {
			continue
		}
		if _, seen := headers[key]; seen {
			continue
		}
		headers[key] = strings.TrimSpace(string(v))
	}
	return headers
}

func contentLength(headers map[string]string) (int64, bool) {
	raw, ok := headers["content-length"]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func readChunked(br *bufio.Reader, limit int64) ([]byte, error) {
	var body bytes.Buffer
	for {
		line, err := br.ReadString('\n')
		if line == "" && err != nil {
			// peer closed without a terminating chunk; keep what we have
			return body.Bytes(), nil
		}

		sizeStr, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, parseErr := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
		if parseErr != nil || size < 0 {
			return nil, fmt.Errorf("%w: bad chunk size %q", ErrFraming, line)
		}

		if size == 0 {
			// trailers are not used by the device, consume one line
			_, _ = br.ReadString('\n')
			return body.Bytes(), nil
		}
		if size > limit-int64(body.Len()) {
			return nil, fmt.Errorf("%w: chunk of %d bytes exceeds %d", ErrBodyTooLarge, size, limit)
		}

		if _, err := io.CopyN(&body, br, size); err != nil {
			return nil, fmt.Errorf("failed to read chunk of %d bytes: %w", size, unexpectedEOF(err))
		}

		crlf := make([]byte, 2)
		if _, err := io.ReadFull(br, crlf); err != nil {
			return nil, fmt.Errorf("failed to read chunk terminator: %w", unexpectedEOF(err))
		}
	}
}

// unexpectedEOF maps a clean EOF in the middle of a framed body to
// io.ErrUnexpectedEOF.
func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
