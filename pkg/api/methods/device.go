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

package methods

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apimodels "github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers"
	"github.com/rs/zerolog/log"
)

// HandleDevice returns the last known snapshot without contacting the
// device.
func HandleDevice(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, env.DeviceResponse())
	}
}

// HandleRefresh fetches a snapshot only if the device is already awake.
func HandleRefresh(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !env.Snapshot.Refresh(r.Context()) {
			writeJSON(w, http.StatusServiceUnavailable, env.DeviceResponse())
			return
		}
		writeJSON(w, http.StatusOK, env.DeviceResponse())
	}
}

// HandleDeviceInfo fetches a fresh snapshot, waking the device per the
// wake query parameter or the configured default, and pushes it.
func HandleDeviceInfo(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		info := env.Device.GetDeviceInfo(r.Context(), opts...)
		if info == nil {
			writeError(w, http.StatusBadGateway, errDeviceUnavailable)
			return
		}
		env.Snapshot.Push(*info)
		writeJSON(w, http.StatusOK, env.DeviceResponse())
	}
}

func HandleStatus(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		status := env.Device.GetStatus(r.Context(), opts...)
		if status == nil {
			writeError(w, http.StatusBadGateway, errDeviceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// Command is a device action without parameters.
type Command func(ctx context.Context, opts ...api.CallOption) bool

// HandleCommand runs cmd. With refresh set, a successful command is
// followed by a snapshot refresh.
func HandleCommand(env *Env, name string, cmd Command, refresh bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Info().Msgf("received %s request", name)
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		ok := cmd(r.Context(), opts...)
		if ok && refresh {
			env.refresh(r.Context())
		}
		writeOK(w, ok)
	}
}

// HandleSettings applies a partial settings update. On success the
// expected post-update snapshot is pushed without another fetch.
func HandleSettings(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := readBody(w, r)
		if !ok {
			return
		}
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			writeError(w, http.StatusBadRequest, validation.ErrInvalidParams)
			return
		}
		settings, err := models.SettingsFromMap(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if !env.Device.UpdateSettings(r.Context(), settings, opts...) {
			writeOK(w, false)
			return
		}
		if cur := env.Snapshot.Data(); cur != nil {
			env.Snapshot.Push(cur.WithSettings(settings))
		}
		writeOK(w, true)
	}
}

func HandleShow(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params apimodels.ShowParams
		if !decodeBody(w, r, &params) {
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		so := api.ShowOptions{
			Dither:   params.Dither,
			PlayType: params.PlayType,
			Duration: params.Duration,
		}
		var ok bool
		if params.Path != "" {
			gallery, filename := api.SplitImagePath(params.Path)
			if !validName(gallery) || !validName(filename) {
				writeError(w, http.StatusBadRequest, errors.New("invalid image path"))
				return
			}
			ok = env.Device.ShowImage(r.Context(), api.ImagePath(gallery, filename), so, opts...)
		} else {
			filename := helpers.SanitizeName(params.Filename)
			if filename == "" {
				writeError(w, http.StatusBadRequest, errors.New("invalid filename"))
				return
			}
			ok = env.Device.ShowImageByName(r.Context(), filename, params.Gallery, so, opts...)
		}
		if ok {
			env.refresh(r.Context())
		}
		writeOK(w, ok)
	}
}
