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

// Package probe answers whether a Canvas is answering HTTP at all, without
// waking it.
package probe

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single probe.
const DefaultTimeout = 3 * time.Second

// Prober reports device reachability.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// Func adapts a plain function to Prober.
type Func func(ctx context.Context) bool

func (f Func) Reachable(ctx context.Context) bool {
	return f(ctx)
}

// HTTPProbe issues GET /state. Any HTTP response, including 4xx and 5xx,
// counts as reachable; only transport failures do not.
type HTTPProbe struct {
	Client  *http.Client
	Host    string
	Timeout time.Duration
}

func (p *HTTPProbe) Reachable(ctx context.Context) bool {
	if p.Host == "" {
		return false
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	u := url.URL{Scheme: "http", Host: p.Host, Path: "/state"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		log.Debug().Err(err).Msgf("probe: invalid host %q", p.Host)
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if err := resp.Body.Close(); err != nil {
		log.Debug().Err(err).Msg("probe: error closing response body")
	}
	return true
}
