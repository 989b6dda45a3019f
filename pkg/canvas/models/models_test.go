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

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFromMap(t *testing.T) {
	t.Parallel()

	s, err := SettingsFromMap(map[string]any{
		"name":           "Living Room",
		"sleep_duration": 86400,
		"max_idle":       "300",
	})
	require.NoError(t, err)
	require.NotNil(t, s.Name)
	assert.Equal(t, "Living Room", *s.Name)
	require.NotNil(t, s.SleepDuration)
	assert.Equal(t, 86400, *s.SleepDuration)
	require.NotNil(t, s.MaxIdle)
	assert.Equal(t, 300, *s.MaxIdle)
	assert.Nil(t, s.IdxWakeSens)
	assert.False(t, s.IsEmpty())
}

func TestSettingsFromMapRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   map[string]any
		name string
	}{
		{name: "empty", in: map[string]any{}},
		{name: "nil", in: nil},
		{name: "unknown key", in: map[string]any{"brightness": 3}},
		{name: "bad type", in: map[string]any{"max_idle": "forever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := SettingsFromMap(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestWithSettingsMergesOnlySetFields(t *testing.T) {
	t.Parallel()

	idle := 600
	info := DeviceInfo{Name: "Canvas-A", MaxIdle: 300, SleepDuration: 86400, Battery: 80}
	merged := info.WithSettings(Settings{MaxIdle: &idle})

	assert.Equal(t, 600, merged.MaxIdle)
	assert.Equal(t, 86400, merged.SleepDuration)
	assert.Equal(t, "Canvas-A", merged.Name)
	assert.Equal(t, 300, info.MaxIdle, "original must not change")
}

func TestDeviceInfoHelpers(t *testing.T) {
	t.Parallel()

	info := DeviceInfo{Width: 1200, Height: 1600, TotalSize: 100, FreeSize: 30, MaxIdle: MaxIdleNever}
	assert.Equal(t, "1200x1600", info.Resolution())
	assert.Equal(t, int64(70), info.UsedSize())
	assert.True(t, info.NeverSleeps())

	info.FreeSize = 200
	assert.Equal(t, int64(0), info.UsedSize())
}
