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

// Package api is the HTTP client for a single Canvas device.
//
// Every operation is gated so that a sleeping device is never woken by a
// background request: with wake disabled the reachability probe must pass
// before any real request is made, and with wake enabled the BLE waker runs
// first. Operations never return errors. Failures resolve to a sentinel
// (nil, false or an empty collection) and are logged through an
// edge-triggered throttle so an offline device does not flood the log.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/lenient"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/probe"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/throttle"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/shared/httpclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Device endpoints.
const (
	EndpointStatus       = "/state"
	EndpointDeviceInfo   = "/deviceInfo"
	EndpointShow         = "/show"
	EndpointShowNext     = "/showNext"
	EndpointSleep        = "/sleep"
	EndpointReboot       = "/reboot"
	EndpointClearScreen  = "/clearScreen"
	EndpointSettings     = "/settings"
	EndpointWhistle      = "/whistle"
	EndpointUpload       = "/upload"
	EndpointUploadMulti  = "/image/uploadMulti"
	EndpointDataUpload   = "/image/dataUpload"
	EndpointDeleteImage  = "/image/delete"
	EndpointGalleryList  = "/gallery/list"
	EndpointGallery      = "/gallery"
	EndpointPlaylistList = "/playlist/list"
	EndpointPlaylist     = "/playlist"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultUploadTimeout = 30 * time.Second
	// ClearScreenTimeout covers the 15 to 20 second e-ink refresh.
	ClearScreenTimeout = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoff     = time.Second
)

// ErrUnreachable is recorded when the probe gate refuses a request.
var ErrUnreachable = errors.New("device not reachable")

// StatusError is a non-2xx answer from the device.
type StatusError struct {
	Body string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Waker brings a sleeping device online. blewake.Waker implements it.
type Waker interface {
	WakeAndWait(ctx context.Context) bool
}

// Client talks to one device. It is safe for concurrent use.
type Client struct {
	http       *http.Client
	prober     probe.Prober
	waker      Waker
	dial       lenient.DialFunc
	clock      clockwork.Clock
	tracker    *throttle.Tracker
	host       string
	maxRetries int
	backoff    time.Duration
	autoWake   bool
	lenient    atomic.Bool
}

type Option func(*Client)

// WithHTTPClient sets the strict transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithProber(p probe.Prober) Option {
	return func(c *Client) {
		c.prober = p
	}
}

func WithWaker(w Waker) Option {
	return func(c *Client) {
		c.waker = w
	}
}

// WithDialer sets the dialer used for lenient raw-socket uploads.
func WithDialer(dial lenient.DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithRetries sets the upload attempt count and the backoff base. The wait
// before retry n (from zero) is base * 2^n.
func WithRetries(maxRetries int, base time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.backoff = base
	}
}

func WithTracker(t *throttle.Tracker) Option {
	return func(c *Client) {
		c.tracker = t
	}
}

// WithAutoWake sets the wake behaviour for calls that do not pass WithWake.
func WithAutoWake(enabled bool) Option {
	return func(c *Client) {
		c.autoWake = enabled
	}
}

// NewClient returns a client for host ("ip" or "ip:port").
func NewClient(host string, opts ...Option) *Client {
	c := &Client{
		host:       host,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpclient.NewClient()
	}
	if c.prober == nil {
		c.prober = &probe.HTTPProbe{Host: host, Client: c.http}
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.tracker == nil {
		c.tracker = throttle.New(log.Logger)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	return c
}

// Host returns the device address.
func (c *Client) Host() string {
	return c.host
}

// RequiresLenient reports whether uploads have switched to the raw-socket
// path. Once set it stays set for the life of the client.
func (c *Client) RequiresLenient() bool {
	return c.lenient.Load()
}

type CallOption func(*callOptions)

type callOptions struct {
	wake    *bool
	timeout time.Duration
}

// WithWake overrides the client's auto-wake setting for one call.
func WithWake(wake bool) CallOption {
	return func(o *callOptions) {
		o.wake = &wake
	}
}

// WithTimeout overrides the operation's default time budget.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

func collect(opts []CallOption) callOptions {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	return co
}

type request struct {
	query       url.Values
	method      string
	path        string
	contentType string
	body        []byte
	timeout     time.Duration
}

func (r *request) key() string {
	return throttle.Key(r.method, r.path)
}

func (r *request) budget(co callOptions) time.Duration {
	if co.timeout > 0 {
		return co.timeout
	}
	if r.timeout > 0 {
		return r.timeout
	}
	return DefaultTimeout
}

// gate decides whether a request may go out. Waking always proceeds to
// HTTP, whatever the waker reports, because the device may already be up
// for unrelated reasons.
func (c *Client) gate(ctx context.Context, r *request, co callOptions) bool {
	wake := c.autoWake
	if co.wake != nil {
		wake = *co.wake
	}
	if wake {
		if c.waker != nil {
			c.waker.WakeAndWait(ctx)
		}
		return true
	}
	if !c.prober.Reachable(ctx) {
		c.tracker.Record(r.key(), false, ErrUnreachable)
		return false
	}
	return true
}

// call runs a single gated, time-bounded request and records its outcome.
func (c *Client) call(ctx context.Context, r *request, opts []CallOption) ([]byte, bool) {
	co := collect(opts)
	if !c.gate(ctx, r, co) {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.budget(co))
	defer cancel()

	body, err := c.send(ctx, r)
	c.tracker.Record(r.key(), err == nil, err)
	if err != nil {
		return nil, false
	}
	return body, true
}

func (c *Client) url(r *request) string {
	u := url.URL{Scheme: "http", Host: c.host, Path: r.path}
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}
	return u.String()
}

// send performs the request on the strict transport. Non-2xx statuses are
// returned as *StatusError.
func (c *Client) send(ctx context.Context, r *request) ([]byte, error) {
	var body io.Reader = http.NoBody
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.url(r), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(data)}
	}
	return data, nil
}

func truncate(b []byte) string {
	const maxLen = 256
	if len(b) > maxLen {
		return string(b[:maxLen]) + "..."
	}
	return string(b)
}

// decodeJSON unmarshals data into v. The firmware labels JSON as text/json
// or text/javascript and sometimes wraps it in junk, so on failure the
// span between the first open and last close delimiter is tried.
func decodeJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		start := bytes.IndexByte(data, pair[0])
		end := bytes.LastIndexByte(data, pair[1])
		if start < 0 || end <= start {
			continue
		}
		if json.Unmarshal(data[start:end+1], v) == nil {
			return nil
		}
	}
	return fmt.Errorf("invalid json in response: %w", err)
}

// getJSON fetches path and decodes the body into v.
func (c *Client) getJSON(ctx context.Context, r *request, v any, opts []CallOption) bool {
	body, ok := c.call(ctx, r, opts)
	if !ok {
		return false
	}
	if err := decodeJSON(body, v); err != nil {
		log.Warn().Err(err).Msgf("%s %s: unparseable response", r.method, r.path)
		return false
	}
	return true
}

// command sends a request whose only meaningful result is the status.
func (c *Client) command(ctx context.Context, r *request, opts []CallOption) bool {
	_, ok := c.call(ctx, r, opts)
	if ok {
		log.Info().Msgf("device %s: %s %s ok", c.host, r.method, r.path)
	}
	return ok
}

func jsonRequest(method, path string, payload any) (*request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s body: %w", path, err)
	}
	return &request{
		method:      method,
		path:        path,
		body:        body,
		contentType: "application/json",
	}, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-c.clock.After(d):
		return nil
	}
}

// Wake reports the wake override carried by opts and whether one was set.
func Wake(opts ...CallOption) (wake, ok bool) {
	co := collect(opts)
	if co.wake == nil {
		return false, false
	}
	return *co.wake, true
}
