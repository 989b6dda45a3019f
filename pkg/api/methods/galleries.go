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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/go-chi/chi/v5"
)

var errInvalidName = errors.New("invalid name")

// nameParam returns the {name} URL parameter, writing a 400 if it is not
// safe to pass to the device.
func nameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := chi.URLParam(r, "name")
	if !validName(name) {
		writeError(w, http.StatusBadRequest, errInvalidName)
		return "", false
	}
	return name, true
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func HandleGalleries(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, env.Device.GetGalleries(r.Context(), opts...))
	}
}

func HandleGalleryImages(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r)
		if !ok {
			return
		}
		offset, err := intQuery(r, "offset", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit, err := intQuery(r, "limit", api.DefaultPageLimit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, env.Device.GetGalleryImages(r.Context(), name, offset, limit, opts...))
	}
}

func HandleCreateGallery(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r)
		if !ok {
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.CreateGallery(r.Context(), name, opts...))
	}
}

func HandleDeleteGallery(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r)
		if !ok {
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.DeleteGallery(r.Context(), name, opts...))
	}
}

func HandlePlaylists(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, env.Device.GetPlaylists(r.Context(), opts...))
	}
}

// HandlePlaylist returns the playlist document exactly as the device
// stores it.
func HandlePlaylist(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r)
		if !ok {
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		doc := env.Device.GetPlaylist(r.Context(), name, opts...)
		if doc == nil {
			writeError(w, http.StatusBadGateway, errDeviceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// HandlePutPlaylist takes the playlist document itself as the body.
func HandlePutPlaylist(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r)
		if !ok {
			return
		}
		body, ok := readBody(w, r)
		if !ok {
			return
		}
		if !json.Valid(body) {
			writeError(w, http.StatusBadRequest, errors.New("playlist must be a JSON document"))
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.PutPlaylist(r.Context(), name, body, opts...))
	}
}

func HandleDeletePlaylist(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := nameParam(w, r)
		if !ok {
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.DeletePlaylist(r.Context(), name, opts...))
	}
}
