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
	"context"
	"net/http"
	"testing"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetGalleries(t *testing.T) {
	t.Parallel()

	dev := newDeviceStub(t, map[string]stubResponse{
		"GET /gallery/list": {contentType: "text/json", body: `[{"name":"default"},{"name":"travel"}]`},
	})
	c := newTestClient(dev.host())

	assert.Equal(t, []models.Gallery{{Name: "default"}, {Name: "travel"}}, c.GetGalleries(context.Background()))
}

func TestListSentinelsAreEmptyNotNil(t *testing.T) {
	t.Parallel()

	dev := newDeviceStub(t, map[string]stubResponse{
		"GET /gallery/list":  {status: http.StatusInternalServerError},
		"GET /playlist/list": {body: "null"},
		"GET /gallery":       {status: http.StatusNotFound},
	})
	c := newTestClient(dev.host())

	galleries := c.GetGalleries(context.Background())
	require.NotNil(t, galleries)
	assert.Empty(t, galleries)

	playlists := c.GetPlaylists(context.Background())
	require.NotNil(t, playlists)
	assert.Empty(t, playlists)

	page := c.GetGalleryImages(context.Background(), "travel", 0, 10)
	require.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
}

func TestGetGalleryImages(t *testing.T) {
	t.Parallel()

	dev := newDeviceStub(t, map[string]stubResponse{
		"GET /gallery": {body: `{"data":[{"name":"a.jpg","size":1024,"time":1700000000}],"total":1,"offset":0,"limit":100}`},
	})
	c := newTestClient(dev.host())

	page := c.GetGalleryImages(context.Background(), "travel", 0, 0)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "a.jpg", page.Data[0].Name)

	reqs := dev.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"travel"}, reqs[0].query["gallery_name"])
	assert.Equal(t, []string{"100"}, reqs[0].query["limit"])
}

func TestPlaylists(t *testing.T) {
	t.Parallel()

	dev := newDeviceStub(t, map[string]stubResponse{
		"GET /playlist/list": {body: `[{"name":"morning"}]`},
		"GET /playlist":      {body: `{"name":"morning","list":[{"name":"a.jpg","duration":60}]}`},
	})
	c := newTestClient(dev.host())

	assert.Equal(t, []models.Playlist{{Name: "morning"}}, c.GetPlaylists(context.Background()))

	detail := c.GetPlaylist(context.Background(), "morning")
	assert.JSONEq(t, `{"name":"morning","list":[{"name":"a.jpg","duration":60}]}`, string(detail))

	body := models.PlaylistDetail(`{"list":[]}`)
	require.True(t, c.PutPlaylist(context.Background(), "evening", body))

	reqs := dev.recorded()
	require.Len(t, reqs, 3)
	assert.Equal(t, http.MethodPut, reqs[2].method)
	assert.Equal(t, []string{"evening"}, reqs[2].query["name"])
	assert.JSONEq(t, `{"list":[]}`, reqs[2].body)
}

func TestGetPlaylistNullBody(t *testing.T) {
	t.Parallel()

	dev := newDeviceStub(t, map[string]stubResponse{
		"GET /playlist": {body: "null"},
	})
	c := newTestClient(dev.host())

	assert.Nil(t, c.GetPlaylist(context.Background(), "missing"))
	assert.Len(t, dev.recorded(), 1)
}

func TestPlaylistProgrammerErrors(t *testing.T) {
	t.Parallel()

	dev := newDeviceStub(t, nil)
	c := newTestClient(dev.host())

	assert.False(t, c.PutPlaylist(context.Background(), "", models.PlaylistDetail(`{}`)))
	assert.False(t, c.PutPlaylist(context.Background(), "x", models.PlaylistDetail(`{oops`)))
	assert.Nil(t, c.GetPlaylist(context.Background(), ""))
	assert.False(t, c.CreateGallery(context.Background(), ""))
	assert.False(t, c.DeleteImage(context.Background(), "", "travel"))
	assert.Empty(t, dev.recorded())
}
