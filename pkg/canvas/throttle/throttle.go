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

// Package throttle suppresses repeated outcome logging for endpoints that
// are expected to be unreachable for long stretches. Only transitions are
// logged: the first failure after a success and the first success after a
// failure.
package throttle

import (
	"strings"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers/syncutil"
	"github.com/rs/zerolog"
)

// Key builds the tracker key for a request.
func Key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

type Option func(*Tracker)

// WithFailureLevel sets the level used for healthy to failing transitions.
func WithFailureLevel(level zerolog.Level) Option {
	return func(t *Tracker) {
		t.failLevel = level
	}
}

// WithRecoveryLevel sets the level used for failing to healthy transitions.
func WithRecoveryLevel(level zerolog.Level) Option {
	return func(t *Tracker) {
		t.recoverLevel = level
	}
}

// Tracker remembers the last outcome per key. Unknown keys are healthy.
type Tracker struct {
	healthy      map[string]bool
	logger       zerolog.Logger
	mu           syncutil.Mutex
	failLevel    zerolog.Level
	recoverLevel zerolog.Level
}

// New returns a tracker logging through logger. Failures log at debug and
// recoveries at info unless overridden.
func New(logger zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		healthy:      make(map[string]bool),
		logger:       logger,
		failLevel:    zerolog.DebugLevel,
		recoverLevel: zerolog.InfoLevel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record stores the outcome for key and reports whether it was a
// transition, in which case one log line was emitted.
func (t *Tracker) Record(key string, ok bool, err error) bool {
	t.mu.Lock()
	prev, seen := t.healthy[key]
	if !seen {
		prev = true
	}
	t.healthy[key] = ok
	t.mu.Unlock()

	if prev == ok {
		return false
	}

	if ok {
		t.logger.WithLevel(t.recoverLevel).
			Str("request", key).
			Msg("device request recovered")
	} else {
		t.logger.WithLevel(t.failLevel).
			Err(err).
			Str("request", key).
			Msg("device request failing")
	}
	return true
}

// Healthy reports the last recorded outcome for key.
func (t *Tracker) Healthy(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ok, seen := t.healthy[key]
	return !seen || ok
}
