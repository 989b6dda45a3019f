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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/rs/zerolog/log"
)

// DefaultPageLimit is the page size used when none is given.
const DefaultPageLimit = 100

// GetGalleries lists galleries. The result is never nil.
func (c *Client) GetGalleries(ctx context.Context, opts ...CallOption) []models.Gallery {
	var galleries []models.Gallery
	r := &request{method: http.MethodGet, path: EndpointGalleryList}
	if !c.getJSON(ctx, r, &galleries, opts) || galleries == nil {
		return []models.Gallery{}
	}
	return galleries
}

// GetGalleryImages returns one page of a gallery. On failure the page is
// empty with a non-nil Data slice.
func (c *Client) GetGalleryImages(
	ctx context.Context,
	name string,
	offset, limit int,
	opts ...CallOption,
) models.GalleryPage {
	empty := models.GalleryPage{Data: []models.GalleryImage{}, Offset: offset, Limit: limit}
	if name == "" {
		log.Error().Msg("gallery images: no gallery provided")
		return empty
	}
	if limit <= 0 {
		limit = DefaultPageLimit
		empty.Limit = limit
	}

	r := &request{
		method: http.MethodGet,
		path:   EndpointGallery,
		query: url.Values{
			"gallery_name": {name},
			"offset":       {strconv.Itoa(offset)},
			"limit":        {strconv.Itoa(limit)},
		},
	}
	var page models.GalleryPage
	if !c.getJSON(ctx, r, &page, opts) {
		return empty
	}
	if page.Data == nil {
		page.Data = []models.GalleryImage{}
	}
	return page
}

// CreateGallery adds an empty gallery.
func (c *Client) CreateGallery(ctx context.Context, name string, opts ...CallOption) bool {
	if name == "" {
		log.Error().Msg("create gallery: no name provided")
		return false
	}
	r := &request{method: http.MethodPut, path: EndpointGallery, query: url.Values{"name": {name}}}
	return c.command(ctx, r, opts)
}

// DeleteGallery removes a gallery and its images.
func (c *Client) DeleteGallery(ctx context.Context, name string, opts ...CallOption) bool {
	if name == "" {
		log.Error().Msg("delete gallery: no name provided")
		return false
	}
	r := &request{method: http.MethodDelete, path: EndpointGallery, query: url.Values{"name": {name}}}
	return c.command(ctx, r, opts)
}

// GetPlaylists lists playlists. The result is never nil.
func (c *Client) GetPlaylists(ctx context.Context, opts ...CallOption) []models.Playlist {
	var playlists []models.Playlist
	r := &request{method: http.MethodGet, path: EndpointPlaylistList}
	if !c.getJSON(ctx, r, &playlists, opts) || playlists == nil {
		return []models.Playlist{}
	}
	return playlists
}

// GetPlaylist returns the raw playlist document, or nil.
func (c *Client) GetPlaylist(ctx context.Context, name string, opts ...CallOption) models.PlaylistDetail {
	if name == "" {
		log.Error().Msg("get playlist: no name provided")
		return nil
	}
	var detail json.RawMessage
	r := &request{method: http.MethodGet, path: EndpointPlaylist, query: url.Values{"name": {name}}}
	if !c.getJSON(ctx, r, &detail, opts) || bytes.Equal(bytes.TrimSpace(detail), []byte("null")) {
		return nil
	}
	return detail
}

// PutPlaylist creates or replaces a playlist. The body must be valid JSON.
func (c *Client) PutPlaylist(
	ctx context.Context,
	name string,
	body models.PlaylistDetail,
	opts ...CallOption,
) bool {
	if name == "" {
		log.Error().Msg("put playlist: no name provided")
		return false
	}
	if !json.Valid(body) {
		log.Error().Msgf("put playlist %s: body is not valid json", name)
		return false
	}
	r := &request{
		method:      http.MethodPut,
		path:        EndpointPlaylist,
		query:       url.Values{"name": {name}},
		body:        body,
		contentType: "application/json",
	}
	return c.command(ctx, r, opts)
}

// DeletePlaylist removes a playlist.
func (c *Client) DeletePlaylist(ctx context.Context, name string, opts ...CallOption) bool {
	if name == "" {
		log.Error().Msg("delete playlist: no name provided")
		return false
	}
	r := &request{method: http.MethodDelete, path: EndpointPlaylist, query: url.Values{"name": {name}}}
	return c.command(ctx, r, opts)
}
