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

// Package methods implements the REST handlers of the local API. Every
// handler translates a device sentinel into an HTTP status; nothing a
// device does can surface as a panic or a 500 with a stack trace.
package methods

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apimodels "github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/validation"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/snapshot"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers"
	"github.com/rs/zerolog/log"
)

// MaxBodyBytes bounds request bodies, uploads included.
const MaxBodyBytes = 32 << 20

var errDeviceUnavailable = errors.New("device unavailable")

// Device is the part of the device client the handlers use.
// *api.Client implements it.
type Device interface {
	GetStatus(ctx context.Context, opts ...api.CallOption) map[string]any
	GetDeviceInfo(ctx context.Context, opts ...api.CallOption) *models.DeviceInfo
	ShowNext(ctx context.Context, opts ...api.CallOption) bool
	Sleep(ctx context.Context, opts ...api.CallOption) bool
	Reboot(ctx context.Context, opts ...api.CallOption) bool
	ClearScreen(ctx context.Context, opts ...api.CallOption) bool
	Whistle(ctx context.Context, opts ...api.CallOption) bool
	UpdateSettings(ctx context.Context, s models.Settings, opts ...api.CallOption) bool
	ShowImage(ctx context.Context, imagePath string, so api.ShowOptions, opts ...api.CallOption) bool
	ShowImageByName(
		ctx context.Context, filename, gallery string, so api.ShowOptions, opts ...api.CallOption,
	) bool
	UploadImage(
		ctx context.Context, data []byte, filename, gallery string, showNow bool, opts ...api.CallOption,
	) (string, bool)
	UploadImagesMulti(
		ctx context.Context, files []models.UploadFile, gallery string, opts ...api.CallOption,
	) bool
	UploadDitheredImageData(
		ctx context.Context, data []byte, filename, gallery string, opts ...api.CallOption,
	) bool
	DeleteImage(ctx context.Context, image, gallery string, opts ...api.CallOption) bool
	GetGalleries(ctx context.Context, opts ...api.CallOption) []models.Gallery
	GetGalleryImages(
		ctx context.Context, name string, offset, limit int, opts ...api.CallOption,
	) models.GalleryPage
	CreateGallery(ctx context.Context, name string, opts ...api.CallOption) bool
	DeleteGallery(ctx context.Context, name string, opts ...api.CallOption) bool
	GetPlaylists(ctx context.Context, opts ...api.CallOption) []models.Playlist
	GetPlaylist(ctx context.Context, name string, opts ...api.CallOption) models.PlaylistDetail
	PutPlaylist(ctx context.Context, name string, body models.PlaylistDetail, opts ...api.CallOption) bool
	DeletePlaylist(ctx context.Context, name string, opts ...api.CallOption) bool
}

// Env is what every handler needs.
type Env struct {
	Device   Device
	Snapshot *snapshot.Coordinator
}

// DeviceResponse returns the current snapshot in API form.
func (env *Env) DeviceResponse() apimodels.DeviceResponse {
	return apimodels.NewDeviceResponse(
		env.Snapshot.Data(),
		env.Snapshot.LastUpdate(),
		env.Snapshot.LastUpdateSuccess(),
	)
}

// refresh pulls a new snapshot after a successful action. The action itself
// already woke the device, so this never wakes it again.
func (env *Env) refresh(ctx context.Context) {
	if !env.Snapshot.Refresh(ctx) {
		log.Debug().Msg("post-action refresh did not reach the device")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, apimodels.ErrorResponse{Error: err.Error()})
}

func writeOK(w http.ResponseWriter, ok bool) {
	if !ok {
		writeError(w, http.StatusBadGateway, errDeviceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, apimodels.OKResponse{OK: true})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return nil, false
	}
	return data, true
}

// decodeBody reads and validates a JSON body into the struct dest.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	data, ok := readBody(w, r)
	if !ok {
		return false
	}
	if err := validation.ValidateAndUnmarshal(data, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

// callOptions maps the optional wake and timeout query parameters.
func callOptions(r *http.Request) ([]api.CallOption, error) {
	var opts []api.CallOption
	q := r.URL.Query()
	if v := q.Get("wake"); v != "" {
		wake, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid wake: %w", err)
		}
		opts = append(opts, api.WithWake(wake))
	}
	if v := q.Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid timeout: %q", v)
		}
		opts = append(opts, api.WithTimeout(d))
	}
	return opts, nil
}

// validName reports whether a gallery, playlist or image name can be sent
// to the device unchanged.
func validName(name string) bool {
	return name != "" && helpers.SanitizeName(name) == name
}
