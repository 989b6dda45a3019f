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

// Package models holds the data types exchanged with a Canvas device.
package models

import "strconv"

// MaxIdleNever is the max_idle value meaning the device never sleeps.
const MaxIdleNever = -1

// Play types accepted by the /show endpoint.
const (
	PlayTypeSingle   = 0
	PlayTypeGallery  = 1
	PlayTypePlaylist = 2
)

// DefaultGallery is the gallery every device ships with.
const DefaultGallery = "default"

// DeviceInfo is a full /deviceInfo snapshot. It is replaced wholesale on
// every successful fetch or push and must stay comparable with ==.
type DeviceInfo struct {
	Name          string `json:"name,omitempty"`
	Version       string `json:"version,omitempty"`
	BoardModel    string `json:"board_model,omitempty"`
	ScreenModel   string `json:"screen_model,omitempty"`
	NetworkType   string `json:"network_type,omitempty"`
	StaSSID       string `json:"sta_ssid,omitempty"`
	StaIP         string `json:"sta_ip,omitempty"`
	Image         string `json:"image,omitempty"`
	Gallery       string `json:"gallery,omitempty"`
	Playlist      string `json:"playlist,omitempty"`
	SN            string `json:"sn,omitempty"`
	BtMAC         string `json:"bt_mac,omitempty"`
	MsCode        string `json:"ms_code,omitempty"`
	Type          string `json:"type,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	Battery       int    `json:"battery,omitempty"`
	TotalSize     int64  `json:"total_size,omitempty"`
	FreeSize      int64  `json:"free_size,omitempty"`
	PlayType      int    `json:"play_type,omitempty"`
	NextTime      int64  `json:"next_time,omitempty"`
	SleepDuration int    `json:"sleep_duration,omitempty"`
	MaxIdle       int    `json:"max_idle,omitempty"`
	IdxWakeSens   int    `json:"idx_wake_sens,omitempty"`
	FsReady       bool   `json:"fs_ready,omitempty"`
}

// Resolution returns the panel resolution formatted as WxH.
func (d *DeviceInfo) Resolution() string {
	return strconv.Itoa(d.Width) + "x" + strconv.Itoa(d.Height)
}

// UsedSize returns the used storage in bytes, never negative.
func (d *DeviceInfo) UsedSize() int64 {
	if d.FreeSize > d.TotalSize {
		return 0
	}
	return d.TotalSize - d.FreeSize
}

// NeverSleeps reports whether the device is configured to stay awake.
func (d *DeviceInfo) NeverSleeps() bool {
	return d.MaxIdle == MaxIdleNever
}

// WithSettings returns a copy of the snapshot with the given settings
// applied, so a caller can push the expected post-update state without
// fetching it again.
func (d DeviceInfo) WithSettings(s Settings) DeviceInfo {
	if s.Name != nil {
		d.Name = *s.Name
	}
	if s.SleepDuration != nil {
		d.SleepDuration = *s.SleepDuration
	}
	if s.MaxIdle != nil {
		d.MaxIdle = *s.MaxIdle
	}
	if s.IdxWakeSens != nil {
		d.IdxWakeSens = *s.IdxWakeSens
	}
	return d
}
