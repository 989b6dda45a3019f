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

// ShowParams selects an image either by its full device path or by file
// name and gallery.
type ShowParams struct {
	Dither   *int   `json:"dither,omitempty" validate:"omitempty,oneof=0 1"`
	Path     string `json:"path,omitempty" validate:"required_without=Filename"`
	Filename string `json:"filename,omitempty"`
	Gallery  string `json:"gallery,omitempty" validate:"omitempty,safename"`
	PlayType int    `json:"play_type" validate:"oneof=0 1 2"`
	Duration int    `json:"duration,omitempty" validate:"gte=0"`
}

type UploadParams struct {
	Filename string `json:"filename" validate:"required"`
	Gallery  string `json:"gallery,omitempty" validate:"omitempty,safename"`
	Data     []byte `json:"data" validate:"required"`
	ShowNow  bool   `json:"show_now"`
}

type UploadFileParams struct {
	Filename string `json:"filename" validate:"required"`
	Data     []byte `json:"data" validate:"required"`
}

type UploadMultiParams struct {
	Gallery string             `json:"gallery,omitempty" validate:"omitempty,safename"`
	Files   []UploadFileParams `json:"files" validate:"required,min=1,dive"`
}
