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
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// Settings is the writable subset of the device configuration. Nil fields
// are left untouched on the device.
type Settings struct {
	Name          *string `json:"name,omitempty" mapstructure:"name"`
	SleepDuration *int    `json:"sleep_duration,omitempty" mapstructure:"sleep_duration"`
	MaxIdle       *int    `json:"max_idle,omitempty" mapstructure:"max_idle"`
	IdxWakeSens   *int    `json:"idx_wake_sens,omitempty" mapstructure:"idx_wake_sens"`
}

// IsEmpty reports whether no setting is set.
func (s Settings) IsEmpty() bool {
	return s.Name == nil && s.SleepDuration == nil && s.MaxIdle == nil && s.IdxWakeSens == nil
}

// SettingsFromMap decodes a loosely typed settings dict (as received from
// service calls) into Settings. Unknown keys are rejected.
func SettingsFromMap(m map[string]any) (Settings, error) {
	var s Settings
	if len(m) == 0 {
		return s, errors.New("no settings provided")
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &s,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return s, fmt.Errorf("failed to create settings decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return s, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}
