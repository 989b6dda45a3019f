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

package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeoutSeconds caps any single request made with NewClient.
	DefaultTimeoutSeconds = 60
	// UserAgent identifies the daemon to the device.
	UserAgent = "zaparoo-canvas"
)

// UserAgentTransport sets the User-Agent on every request.
type UserAgentTransport struct {
	Base      http.RoundTripper
	UserAgent string
}

// RoundTrip implements http.RoundTripper.
func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = DefaultTransport
	}
	ua := t.UserAgent
	if ua == "" {
		ua = UserAgent
	}

	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", ua)

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform HTTP round trip: %w", err)
	}
	return resp, nil
}

// DefaultTransport is tuned for a battery powered device on the LAN. Idle
// connections are never kept: an open socket counts as activity and keeps
// the device from sleeping.
var DefaultTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: -1,
	}).DialContext,
	ResponseHeaderTimeout: 30 * time.Second,
	DisableKeepAlives:     true,
	MaxConnsPerHost:       2,
}

// NewClient returns an HTTP client with the default transport.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeoutSeconds * time.Second)
}

// NewClientWithTimeout returns an HTTP client with a custom overall timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &UserAgentTransport{Base: DefaultTransport},
		Timeout:   timeout,
	}
}
