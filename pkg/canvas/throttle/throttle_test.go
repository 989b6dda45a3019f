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

package throttle

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lockedBuffer lets parallel subtests share one log sink safely.
type lockedBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := strings.TrimSpace(b.buf.String())
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func TestKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "GET /deviceInfo", Key("get", "/deviceInfo"))
}

func TestRecordEdgeTriggered(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	tr := New(zerolog.New(&out).Level(zerolog.DebugLevel))
	key := Key("GET", "/deviceInfo")
	offline := errors.New("connection refused")

	steps := []struct {
		err    error
		ok     bool
		logged bool
	}{
		{ok: true, logged: false},
		{ok: false, err: offline, logged: true},
		{ok: false, err: offline, logged: false},
		{ok: false, err: offline, logged: false},
		{ok: true, logged: true},
		{ok: true, logged: false},
		{ok: false, err: offline, logged: true},
	}

	for i, s := range steps {
		assert.Equal(t, s.logged, tr.Record(key, s.ok, s.err), "step %d", i)
	}

	lines := out.lines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"level":"debug"`)
	assert.Contains(t, lines[0], "connection refused")
	assert.Contains(t, lines[1], `"level":"info"`)
	assert.Contains(t, lines[1], "recovered")
	assert.False(t, tr.Healthy(key))
}

func TestRecordKeysAreIndependent(t *testing.T) {
	t.Parallel()

	tr := New(zerolog.Nop())
	a := Key("GET", "/deviceInfo")
	b := Key("POST", "/upload")

	assert.True(t, tr.Record(a, false, nil))
	assert.True(t, tr.Record(b, false, nil))
	assert.False(t, tr.Record(a, false, nil))
	assert.True(t, tr.Healthy(Key("GET", "/state")))
}

func TestFailureLevelOverride(t *testing.T) {
	t.Parallel()

	var out lockedBuffer
	tr := New(zerolog.New(&out), WithFailureLevel(zerolog.WarnLevel), WithRecoveryLevel(zerolog.DebugLevel))
	tr.Record("k", false, nil)
	tr.Record("k", true, nil)

	lines := out.lines()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"warn"`)
	assert.Contains(t, lines[1], `"level":"debug"`)
}
