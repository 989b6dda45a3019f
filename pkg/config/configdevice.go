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

package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBLECooldown      = 30 * time.Second
	DefaultBLEOnlineTimeout = 30 * time.Second
	DefaultRefreshFloor     = 15 * time.Minute
)

type Device struct {
	Host string `toml:"host" validate:"omitempty,hostname_port|hostname_rfc1123|ip"`
	Name string `toml:"name,omitempty"`
}

type BLE struct {
	AutoWake      *bool  `toml:"auto_wake,omitempty"`
	Address       string `toml:"address,omitempty" validate:"omitempty,mac"`
	Adapter       string `toml:"adapter,omitempty"`
	Cooldown      string `toml:"cooldown,omitempty" validate:"duration"`
	OnlineTimeout string `toml:"online_timeout,omitempty" validate:"duration"`
}

type Refresh struct {
	Floor   string `toml:"floor,omitempty" validate:"duration"`
	Enabled bool   `toml:"enabled"`
}

type Storage struct {
	Backend string `toml:"backend" validate:"omitempty,oneof=bolt file"`
	Dir     string `toml:"dir,omitempty"`
}

func (c *Instance) DeviceHost() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Host
}

func (c *Instance) SetDeviceHost(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Device.Host = host
}

func (c *Instance) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Name
}

// BLEAddress returns the wake address upper-cased, or "" if BLE wake is
// not configured.
func (c *Instance) BLEAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return strings.ToUpper(c.vals.BLE.Address)
}

func (c *Instance) SetBLEAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.BLE.Address = addr
}

func (c *Instance) BLEAdapter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.BLE.Adapter
}

// BLEAutoWake is the default wake behaviour for device calls. It is on by
// default whenever an address is configured.
func (c *Instance) BLEAutoWake() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.BLE.Address == "" {
		return false
	}
	if c.vals.BLE.AutoWake == nil {
		return true
	}
	return *c.vals.BLE.AutoWake
}

func (c *Instance) BLECooldown() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.BLE.Cooldown, DefaultBLECooldown)
}

// BLEOnlineTimeout may legitimately be zero, which skips waiting for the
// device to come online after a pulse.
func (c *Instance) BLEOnlineTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return parseDuration(c.vals.BLE.OnlineTimeout, DefaultBLEOnlineTimeout)
}

func (c *Instance) RefreshEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Refresh.Enabled
}

func (c *Instance) RefreshFloor() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := parseDuration(c.vals.Refresh.Floor, DefaultRefreshFloor)
	if d <= 0 {
		return DefaultRefreshFloor
	}
	return d
}

func (c *Instance) StorageBackend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Storage.Backend == "" {
		return StorageBolt
	}
	return c.vals.Storage.Backend
}

// StorageDir returns the configured data directory, or fallback.
func (c *Instance) StorageDir(fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Storage.Dir == "" {
		return fallback
	}
	return c.vals.Storage.Dir
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Warn().Msgf("invalid duration %q, using %s", s, def)
		return def
	}
	return d
}
