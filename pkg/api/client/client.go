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

// Package client talks to a running canvasd over its local API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/config"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/shared/httpclient"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrRequestCancelled = errors.New("request cancelled")
)

const (
	APIPath        = "/api"
	WSPath         = APIPath + "/ws"
	requestTimeout = 10 * time.Second
)

// localHost turns the configured listen address into one a local client
// can dial. Wildcard and empty hosts become localhost.
func localHost(cfg *config.Instance) string {
	host, port, err := net.SplitHostPort(cfg.APIListen())
	if err != nil {
		return cfg.APIListen()
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

func localURL(cfg *config.Instance, scheme, path string) string {
	u := url.URL{Scheme: scheme, Host: localHost(cfg), Path: path}
	return u.String()
}

// Device returns the daemon's current snapshot.
func Device(ctx context.Context, cfg *config.Instance) (*models.DeviceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, localURL(cfg, "http", APIPath+"/device"), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := httpclient.NewClientWithTimeout(requestTimeout).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach service: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Msg("error closing response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var out models.DeviceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode device response: %w", err)
	}
	return &out, nil
}

// IsServiceRunning reports whether the local API answers.
func IsServiceRunning(cfg *config.Instance) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := Device(ctx, cfg)
	return err == nil
}

// WaitForAPI polls until the API answers or maxWait elapses.
func WaitForAPI(cfg *config.Instance, maxWait, interval time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	for {
		if IsServiceRunning(cfg) {
			return true
		}
		if time.Now().Add(interval).After(deadline) {
			time.Sleep(time.Until(deadline))
			return IsServiceRunning(cfg)
		}
		time.Sleep(interval)
	}
}

func decodeUpdate(message []byte) (*models.DeviceResponse, bool) {
	var m models.RequestObject
	if err := json.Unmarshal(message, &m); err != nil {
		return nil, false
	}
	if m.JSONRPC != "2.0" {
		log.Error().Msg("invalid jsonrpc version")
		return nil, false
	}
	if m.Method != models.NotificationDeviceUpdated {
		return nil, false
	}
	var resp models.DeviceResponse
	if err := json.Unmarshal(m.Params, &resp); err != nil {
		log.Warn().Err(err).Msg("invalid device.updated params")
		return nil, false
	}
	return &resp, true
}

// Watch calls fn with every snapshot the daemon announces, starting with
// the current one, until ctx is done or the connection drops.
func Watch(ctx context.Context, cfg *config.Instance, fn func(models.DeviceResponse)) error {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, localURL(cfg, "ws", WSPath), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Msg("error closing websocket")
		}
	})
	defer func() {
		if stop() {
			_ = c.Close()
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if resp, ok := decodeUpdate(message); ok {
			fn(*resp)
		}
	}
}

// WaitDeviceUpdate returns the first snapshot announced after connecting.
// A zero timeout means the default request timeout; a negative one waits
// until ctx is done.
func WaitDeviceUpdate(
	ctx context.Context,
	timeout time.Duration,
	cfg *config.Instance,
) (*models.DeviceResponse, error) {
	if timeout == 0 {
		timeout = requestTimeout
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timerChan <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerChan = timer.C
	}

	result := make(chan models.DeviceResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(watchCtx, cfg, func(resp models.DeviceResponse) {
			select {
			case result <- resp:
			default:
			}
			cancel()
		})
	}()

	select {
	case resp := <-result:
		<-errCh
		return &resp, nil
	case err := <-errCh:
		select {
		case resp := <-result:
			return &resp, nil
		default:
		}
		if err == nil {
			return nil, ErrRequestCancelled
		}
		return nil, err
	case <-timerChan:
		cancel()
		<-errCh
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		<-errCh
		return nil, ErrRequestCancelled
	}
}
