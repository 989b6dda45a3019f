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

// Package models holds the request and response bodies of the local REST
// and WebSocket API.
package models

import (
	"encoding/json"
	"time"

	canvas "github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
)

const (
	NotificationDeviceUpdated = "device.updated"
)

type Notification struct {
	Method string
	Params json.RawMessage
}

// RequestObject is a JSON-RPC 2.0 notification as sent over /api/ws.
type RequestObject struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

// DeviceResponse is the last known snapshot as seen by API consumers.
type DeviceResponse struct {
	LastUpdate        time.Time          `json:"last_update"`
	Device            *canvas.DeviceInfo `json:"device"`
	Resolution        string             `json:"resolution,omitempty"`
	UsedSize          int64              `json:"used_size,omitempty"`
	LastUpdateSuccess bool               `json:"last_update_success"`
}

// NewDeviceResponse builds a DeviceResponse, filling the derived fields
// when a snapshot is known.
func NewDeviceResponse(info *canvas.DeviceInfo, lastUpdate time.Time, success bool) DeviceResponse {
	resp := DeviceResponse{
		Device:            info,
		LastUpdate:        lastUpdate,
		LastUpdateSuccess: success,
	}
	if info != nil {
		resp.Resolution = info.Resolution()
		resp.UsedSize = info.UsedSize()
	}
	return resp
}

type UploadResponse struct {
	Path string `json:"path"`
}
