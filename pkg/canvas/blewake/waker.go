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

// Package blewake sends a BLE wake pulse to a sleeping Canvas and waits for
// its HTTP server to come up.
//
// A pulse is a single byte 0x01 written to one of the known wake
// characteristics, followed shortly by a 0x00 release write. Everything in
// this package is best effort: failures are logged and reported in Result,
// never returned to the caller as errors.
package blewake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/probe"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Wake characteristics, in the order they are tried. Two hardware
// revisions are in the field.
const (
	CharacteristicF001 = "0000f001-0000-1000-8000-00805f9b34fb"
	CharacteristicFF01 = "0000ff01-0000-1000-8000-00805f9b34fb"
)

const (
	DefaultCooldown          = 30 * time.Second
	DefaultConnectTimeout    = 20 * time.Second
	DefaultConnectAttempts   = 4
	DefaultWriteTimeout      = 2 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
	DefaultPulseGap          = 50 * time.Millisecond
	DefaultPollInterval      = 2 * time.Second
	DefaultOnlineTimeout     = 30 * time.Second
)

var (
	assertPayload  = []byte{0x01}
	releasePayload = []byte{0x00}
)

var (
	ErrNoScanner  = errors.New("no ble scanner available")
	ErrNotVisible = errors.New("peripheral not visible or not connectable")
)

// ScanCache resolves an address to a peripheral that was recently seen
// advertising and can be connected to.
type ScanCache interface {
	Lookup(address string) (Peripheral, bool)
}

type Peripheral interface {
	Connect(ctx context.Context) (Link, error)
}

// Link is an open GATT connection.
type Link interface {
	WriteCharacteristic(ctx context.Context, uuid string, payload []byte, withResponse bool) error
	Disconnect(ctx context.Context) error
}

// Config holds the wake tuning. Zero timeouts and counts fall back to the
// defaults; a zero PulseGap or OnlineTimeout is honoured as-is.
type Config struct {
	Address           string
	Characteristics   []string
	Cooldown          time.Duration
	ConnectTimeout    time.Duration
	ConnectAttempts   int
	ConnectRetryDelay time.Duration
	WriteTimeout      time.Duration
	DisconnectTimeout time.Duration
	PulseGap          time.Duration
	PollInterval      time.Duration
	OnlineTimeout     time.Duration
	Enabled           bool
}

// DefaultConfig returns a config with every default filled in.
func DefaultConfig(address string) Config {
	return Config{
		Enabled:           address != "",
		Address:           address,
		Characteristics:   []string{CharacteristicF001, CharacteristicFF01},
		Cooldown:          DefaultCooldown,
		ConnectTimeout:    DefaultConnectTimeout,
		ConnectAttempts:   DefaultConnectAttempts,
		WriteTimeout:      DefaultWriteTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
		PulseGap:          DefaultPulseGap,
		PollInterval:      DefaultPollInterval,
		OnlineTimeout:     DefaultOnlineTimeout,
	}
}

func (c *Config) fillDefaults() {
	if len(c.Characteristics) == 0 {
		c.Characteristics = []string{CharacteristicF001, CharacteristicFF01}
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Result describes one pulse attempt.
type Result struct {
	Err                error
	Characteristic     string
	ConnectAttempts    int
	ConnectDuration    time.Duration
	WriteDuration      time.Duration
	DisconnectDuration time.Duration
	Total              time.Duration
	Attempted          bool
	OK                 bool
	WithResponse       bool
	ReleaseOK          bool
	DisconnectTimedOut bool
}

// Waker owns the wake state for one device: the cooldown limiter and the
// lock that keeps wake attempts exclusive.
type Waker struct {
	scan    ScanCache
	prober  probe.Prober
	clock   clockwork.Clock
	limiter *rate.Limiter
	cfg     Config
	mu      syncutil.Mutex
}

// New creates a waker. A nil clock uses the real clock.
func New(cfg Config, scan ScanCache, prober probe.Prober, clock clockwork.Clock) *Waker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	cfg.fillDefaults()
	return &Waker{
		cfg:     cfg,
		scan:    scan,
		prober:  prober,
		clock:   clock,
		limiter: rate.NewLimiter(rate.Every(cfg.Cooldown), 1),
	}
}

// Enabled reports whether a wake can be attempted at all.
func (w *Waker) Enabled() bool {
	return w.cfg.Enabled && w.cfg.Address != ""
}

func (w *Waker) reachable(ctx context.Context) bool {
	if w.prober == nil {
		return false
	}
	return w.prober.Reachable(ctx)
}

func (w *Waker) coolingDown() bool {
	return w.limiter.TokensAt(w.clock.Now()) < 1
}

// WakeAndWait wakes the device if it is not already answering HTTP and
// waits for it to come online. It returns whether the device is reachable.
// Attempts are serialized per device and spaced by the cooldown; a caller
// that waited on another's attempt re-checks instead of pulsing again.
func (w *Waker) WakeAndWait(ctx context.Context) bool {
	if !w.Enabled() {
		return false
	}

	if w.reachable(ctx) {
		return true
	}
	if w.coolingDown() {
		log.Debug().Msgf("ble wake: %s in cooldown, skipping", w.cfg.Address)
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.coolingDown() {
		// another caller pulsed while this one waited for the lock
		return w.reachable(ctx)
	}
	if w.reachable(ctx) {
		return true
	}
	w.limiter.AllowN(w.clock.Now(), 1)

	res := w.Pulse(ctx)
	if !res.OK {
		log.Info().Err(res.Err).Msgf("ble wake: pulse to %s failed", w.cfg.Address)
		return false
	}
	log.Debug().
		Str("char", res.Characteristic).
		Bool("with_response", res.WithResponse).
		Bool("release_ok", res.ReleaseOK).
		Dur("total", res.Total).
		Msgf("ble wake: pulse sent to %s", w.cfg.Address)

	if w.waitOnline(ctx) {
		log.Info().Msgf("ble wake: %s came online", w.cfg.Address)
		return true
	}
	log.Info().Msgf("ble wake: %s not online within %s", w.cfg.Address, w.cfg.OnlineTimeout)
	return false
}

func (w *Waker) waitOnline(ctx context.Context) bool {
	deadline := w.clock.Now().Add(w.cfg.OnlineTimeout)
	for {
		if w.reachable(ctx) {
			return true
		}
		remaining := deadline.Sub(w.clock.Now())
		if remaining <= 0 {
			return false
		}
		if err := w.sleep(ctx, min(w.cfg.PollInterval, remaining)); err != nil {
			return false
		}
	}
}

func (w *Waker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-w.clock.After(d):
		return nil
	}
}

// Pulse performs one wake pulse: resolve, connect, assert, release and
// disconnect. It does not check reachability or the cooldown.
func (w *Waker) Pulse(ctx context.Context) (res Result) {
	start := w.clock.Now()
	res.Attempted = true
	defer func() {
		res.Total = w.clock.Since(start)
	}()

	if w.scan == nil {
		res.Err = ErrNoScanner
		return res
	}
	periph, ok := w.scan.Lookup(w.cfg.Address)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrNotVisible, w.cfg.Address)
		return res
	}

	connStart := w.clock.Now()
	link, attempts, err := w.connect(ctx, periph)
	res.ConnectAttempts = attempts
	res.ConnectDuration = w.clock.Since(connStart)
	if err != nil {
		res.Err = err
		return res
	}
	defer w.disconnect(ctx, link, &res)

	writeStart := w.clock.Now()
	var lastErr error
	for _, uuid := range w.cfg.Characteristics {
		withResponse, err := w.assert(ctx, link, uuid)
		if err != nil {
			log.Debug().Err(err).Msgf("ble wake: assert on %s failed", uuid)
			lastErr = err
			continue
		}
		res.OK = true
		res.Characteristic = uuid
		res.WithResponse = withResponse
		res.ReleaseOK = w.release(ctx, link, uuid)
		break
	}
	res.WriteDuration = w.clock.Since(writeStart)
	if !res.OK {
		res.Err = fmt.Errorf("no wake characteristic accepted the pulse: %w", lastErr)
	}
	return res
}

func (w *Waker) connect(ctx context.Context, periph Peripheral) (Link, int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ConnectTimeout)
	defer cancel()

	var lastErr error
	attempts := 0
	for attempts < w.cfg.ConnectAttempts {
		attempts++
		link, err := periph.Connect(ctx)
		if err == nil {
			return link, attempts, nil
		}
		lastErr = err
		log.Debug().Err(err).Msgf("ble wake: connect attempt %d/%d failed", attempts, w.cfg.ConnectAttempts)
		if ctx.Err() != nil {
			break
		}
		if err := w.sleep(ctx, w.cfg.ConnectRetryDelay); err != nil {
			break
		}
	}
	return nil, attempts, fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}

// assert writes the wake byte with response first. Only a timeout falls
// back to a write without response on the same characteristic.
func (w *Waker) assert(ctx context.Context, link Link, uuid string) (bool, error) {
	err := bounded(ctx, w.cfg.WriteTimeout, func(ctx context.Context) error {
		return link.WriteCharacteristic(ctx, uuid, assertPayload, true)
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return false, err
	}

	log.Debug().Msgf("ble wake: write to %s timed out, retrying without response", uuid)
	err = bounded(ctx, w.cfg.WriteTimeout, func(ctx context.Context) error {
		return link.WriteCharacteristic(ctx, uuid, assertPayload, false)
	})
	if err != nil {
		return false, err
	}
	return false, nil
}

func (w *Waker) release(ctx context.Context, link Link, uuid string) bool {
	if err := w.sleep(ctx, w.cfg.PulseGap); err != nil {
		log.Debug().Err(err).Msg("ble wake: release skipped")
		return false
	}
	err := bounded(ctx, w.cfg.WriteTimeout, func(ctx context.Context) error {
		return link.WriteCharacteristic(ctx, uuid, releasePayload, false)
	})
	if err != nil {
		log.Debug().Err(err).Msgf("ble wake: release write to %s failed", uuid)
		return false
	}
	return true
}

func (w *Waker) disconnect(ctx context.Context, link Link, res *Result) {
	start := w.clock.Now()
	err := bounded(context.WithoutCancel(ctx), w.cfg.DisconnectTimeout, link.Disconnect)
	res.DisconnectDuration = w.clock.Since(start)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		res.DisconnectTimedOut = true
		log.Debug().Msgf("ble wake: disconnect from %s timed out", w.cfg.Address)
	case err != nil:
		log.Debug().Err(err).Msgf("ble wake: disconnect from %s failed", w.cfg.Address)
	}
}

// bounded runs fn under a timeout and returns when either fn finishes or
// the timeout fires, even if fn ignores its context.
func bounded(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("ble operation abandoned: %w", ctx.Err())
	}
}
