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
	"errors"
	"net/http"

	apimodels "github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers"
	"github.com/go-chi/chi/v5"
)

var errInvalidFilename = errors.New("invalid filename")

// HandleUpload stores one image and returns its device path.
func HandleUpload(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params apimodels.UploadParams
		if !decodeBody(w, r, &params) {
			return
		}
		filename := helpers.SanitizeName(params.Filename)
		if filename == "" {
			writeError(w, http.StatusBadRequest, errInvalidFilename)
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		path, ok := env.Device.UploadImage(r.Context(), params.Data, filename, params.Gallery, params.ShowNow, opts...)
		if !ok {
			writeOK(w, false)
			return
		}
		if params.ShowNow {
			env.refresh(r.Context())
		}
		writeJSON(w, http.StatusOK, apimodels.UploadResponse{Path: path})
	}
}

func HandleUploadMulti(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params apimodels.UploadMultiParams
		if !decodeBody(w, r, &params) {
			return
		}
		files := make([]models.UploadFile, 0, len(params.Files))
		for _, f := range params.Files {
			filename := helpers.SanitizeName(f.Filename)
			if filename == "" {
				writeError(w, http.StatusBadRequest, errInvalidFilename)
				return
			}
			files = append(files, models.UploadFile{Filename: filename, Data: f.Data})
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.UploadImagesMulti(r.Context(), files, params.Gallery, opts...))
	}
}

// HandleUploadDithered stores panel-ready data without re-encoding it.
func HandleUploadDithered(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params apimodels.UploadParams
		if !decodeBody(w, r, &params) {
			return
		}
		filename := helpers.SanitizeName(params.Filename)
		if filename == "" {
			writeError(w, http.StatusBadRequest, errInvalidFilename)
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.UploadDitheredImageData(r.Context(), params.Data, filename, params.Gallery, opts...))
	}
}

// HandleDeleteImage removes /{gallery}/{image}.
func HandleDeleteImage(env *Env) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gallery := chi.URLParam(r, "gallery")
		image := chi.URLParam(r, "image")
		if !validName(gallery) || !validName(image) {
			writeError(w, http.StatusBadRequest, errors.New("invalid gallery or image name"))
			return
		}
		opts, err := callOptions(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeOK(w, env.Device.DeleteImage(r.Context(), image, gallery, opts...))
	}
}
