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

import "encoding/json"

// Gallery is one entry of /gallery/list.
type Gallery struct {
	Name string `json:"name"`
}

// GalleryImage is one image inside a gallery page.
type GalleryImage struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Time int64  `json:"time"`
}

// GalleryPage is a paginated /gallery response.
type GalleryPage struct {
	Data   []GalleryImage `json:"data"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

// Playlist is one entry of /playlist/list.
type Playlist struct {
	Name string `json:"name"`
}

// PlaylistDetail is the raw playlist document. The device owns its schema,
// so it is passed through untouched.
type PlaylistDetail = json.RawMessage

// UploadFile is a single image for a multi-image upload.
type UploadFile struct {
	Filename string
	Data     []byte
}
