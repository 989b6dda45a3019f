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
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/methods"
	apimodels "github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/notifications"
	canvasapi "github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/snapshot"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/config"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	args []any
	name string
	wake *bool
}

// fakeDevice records calls and answers with canned results. Everything
// succeeds unless failing is set.
type fakeDevice struct {
	info    *models.DeviceInfo
	calls   []call
	failing bool
	mu      sync.Mutex
}

func (d *fakeDevice) record(name string, opts []canvasapi.CallOption, args ...any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := call{name: name, args: args}
	if wake, ok := canvasapi.Wake(opts...); ok {
		c.wake = &wake
	}
	d.calls = append(d.calls, c)
	return !d.failing
}

func (d *fakeDevice) called(name string) []call {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []call
	for _, c := range d.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDevice) GetStatus(_ context.Context, opts ...canvasapi.CallOption) map[string]any {
	if !d.record("GetStatus", opts) {
		return nil
	}
	return map[string]any{"state": "idle"}
}

func (d *fakeDevice) GetDeviceInfo(_ context.Context, opts ...canvasapi.CallOption) *models.DeviceInfo {
	if !d.record("GetDeviceInfo", opts) || d.info == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *d.info
	return &cp
}

func (d *fakeDevice) ShowNext(_ context.Context, opts ...canvasapi.CallOption) bool {
	return d.record("ShowNext", opts)
}

func (d *fakeDevice) Sleep(_ context.Context, opts ...canvasapi.CallOption) bool {
	return d.record("Sleep", opts)
}

func (d *fakeDevice) Reboot(_ context.Context, opts ...canvasapi.CallOption) bool {
	return d.record("Reboot", opts)
}

func (d *fakeDevice) ClearScreen(_ context.Context, opts ...canvasapi.CallOption) bool {
	return d.record("ClearScreen", opts)
}

func (d *fakeDevice) Whistle(_ context.Context, opts ...canvasapi.CallOption) bool {
	return d.record("Whistle", opts)
}

func (d *fakeDevice) UpdateSettings(_ context.Context, s models.Settings, opts ...canvasapi.CallOption) bool {
	return d.record("UpdateSettings", opts, s)
}

func (d *fakeDevice) ShowImage(
	_ context.Context, imagePath string, so canvasapi.ShowOptions, opts ...canvasapi.CallOption,
) bool {
	return d.record("ShowImage", opts, imagePath, so)
}

func (d *fakeDevice) ShowImageByName(
	_ context.Context, filename, gallery string, so canvasapi.ShowOptions, opts ...canvasapi.CallOption,
) bool {
	return d.record("ShowImageByName", opts, filename, gallery, so)
}

func (d *fakeDevice) UploadImage(
	_ context.Context, data []byte, filename, gallery string, showNow bool, opts ...canvasapi.CallOption,
) (string, bool) {
	if !d.record("UploadImage", opts, data, filename, gallery, showNow) {
		return "", false
	}
	if gallery == "" {
		gallery = models.DefaultGallery
	}
	return canvasapi.ImagePath(gallery, filename), true
}

func (d *fakeDevice) UploadImagesMulti(
	_ context.Context, files []models.UploadFile, gallery string, opts ...canvasapi.CallOption,
) bool {
	return d.record("UploadImagesMulti", opts, files, gallery)
}

func (d *fakeDevice) UploadDitheredImageData(
	_ context.Context, data []byte, filename, gallery string, opts ...canvasapi.CallOption,
) bool {
	return d.record("UploadDitheredImageData", opts, data, filename, gallery)
}

func (d *fakeDevice) DeleteImage(_ context.Context, image, gallery string, opts ...canvasapi.CallOption) bool {
	return d.record("DeleteImage", opts, image, gallery)
}

func (d *fakeDevice) GetGalleries(_ context.Context, opts ...canvasapi.CallOption) []models.Gallery {
	if !d.record("GetGalleries", opts) {
		return []models.Gallery{}
	}
	return []models.Gallery{{Name: "default"}, {Name: "holiday"}}
}

func (d *fakeDevice) GetGalleryImages(
	_ context.Context, name string, offset, limit int, opts ...canvasapi.CallOption,
) models.GalleryPage {
	d.record("GetGalleryImages", opts, name, offset, limit)
	return models.GalleryPage{Data: []models.GalleryImage{}, Offset: offset, Limit: limit}
}

func (d *fakeDevice) CreateGallery(_ context.Context, name string, opts ...canvasapi.CallOption) bool {
	return d.record("CreateGallery", opts, name)
}

func (d *fakeDevice) DeleteGallery(_ context.Context, name string, opts ...canvasapi.CallOption) bool {
	return d.record("DeleteGallery", opts, name)
}

func (d *fakeDevice) GetPlaylists(_ context.Context, opts ...canvasapi.CallOption) []models.Playlist {
	d.record("GetPlaylists", opts)
	return []models.Playlist{}
}

func (d *fakeDevice) GetPlaylist(_ context.Context, name string, opts ...canvasapi.CallOption) models.PlaylistDetail {
	if !d.record("GetPlaylist", opts, name) {
		return nil
	}
	return models.PlaylistDetail(`{"images":["a.jpg"]}`)
}

func (d *fakeDevice) PutPlaylist(
	_ context.Context, name string, body models.PlaylistDetail, opts ...canvasapi.CallOption,
) bool {
	return d.record("PutPlaylist", opts, name, string(body))
}

func (d *fakeDevice) DeletePlaylist(_ context.Context, name string, opts ...canvasapi.CallOption) bool {
	return d.record("DeletePlaylist", opts, name)
}

type fixture struct {
	device *fakeDevice
	snap   *snapshot.Coordinator
	srv    *Server
}

func newFixture(t *testing.T, cfgBody string) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), config.CfgFile)
	if cfgBody != "" {
		require.NoError(t, writeFile(path, cfgBody))
	}
	cfg, err := config.NewConfigAt(path, config.BaseDefaults)
	require.NoError(t, err)

	device := &fakeDevice{info: &models.DeviceInfo{Name: "Canvas-A", Battery: 42, Width: 1200, Height: 1600}}
	snap := snapshot.NewCoordinator(device, nil)
	env := &methods.Env{Device: device, Snapshot: snap}
	return &fixture{device: device, snap: snap, srv: NewServer(cfg, env)}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestDeviceSnapshotEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/device", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp apimodels.DeviceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Device)
	assert.False(t, resp.LastUpdateSuccess)
	assert.Empty(t, f.device.calls, "reading the snapshot never touches the device")
}

func TestDeviceInfoPushesSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/device/info?wake=true&timeout=5s", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp apimodels.DeviceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Device)
	assert.Equal(t, "Canvas-A", resp.Device.Name)
	assert.Equal(t, "1200x1600", resp.Resolution)
	assert.True(t, resp.LastUpdateSuccess)

	calls := f.device.called("GetDeviceInfo")
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].wake)
	assert.True(t, *calls[0].wake)
}

func TestBadCallOptions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/device/info?wake=maybe", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/device/info?timeout=-1s", "").Code)
	assert.Empty(t, f.device.called("GetDeviceInfo"))
}

func TestRefreshNeverWakes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/device/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	calls := f.device.called("GetDeviceInfo")
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].wake)
	assert.False(t, *calls[0].wake)

	f.device.failing = true
	w = f.do(t, http.MethodPost, "/api/device/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotNil(t, f.snap.Data(), "failed refresh keeps the last snapshot")
}

func TestCommandsRefreshAfterSuccess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path    string
		method  string
		refresh bool
	}{
		{path: "/api/device/next", method: "ShowNext", refresh: true},
		{path: "/api/device/clear", method: "ClearScreen", refresh: true},
		{path: "/api/device/whistle", method: "Whistle", refresh: false},
		{path: "/api/device/sleep", method: "Sleep", refresh: false},
		{path: "/api/device/reboot", method: "Reboot", refresh: false},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, "")

			w := f.do(t, http.MethodPost, tt.path, "")
			require.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"ok":true}`, w.Body.String())
			assert.Len(t, f.device.called(tt.method), 1)
			if tt.refresh {
				assert.Len(t, f.device.called("GetDeviceInfo"), 1)
			} else {
				assert.Empty(t, f.device.called("GetDeviceInfo"))
			}
		})
	}
}

func TestCommandFailureIsBadGateway(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.device.failing = true

	w := f.do(t, http.MethodPost, "/api/device/next", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "device unavailable")
	assert.Empty(t, f.device.called("GetDeviceInfo"))
}

func TestSettingsMergeIntoSnapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")
	f.snap.Push(*f.device.info)

	var notified int
	f.snap.AddListener(func() { notified++ })

	w := f.do(t, http.MethodPost, "/api/device/settings", `{"name":"Hallway","max_idle":"600"}`)
	require.Equal(t, http.StatusOK, w.Code)

	calls := f.device.called("UpdateSettings")
	require.Len(t, calls, 1)
	s, ok := calls[0].args[0].(models.Settings)
	require.True(t, ok)
	require.NotNil(t, s.MaxIdle)
	assert.Equal(t, 600, *s.MaxIdle)

	assert.Equal(t, "Hallway", f.snap.Data().Name)
	assert.Equal(t, 600, f.snap.Data().MaxIdle)
	assert.Equal(t, 1, notified)
	assert.Empty(t, f.device.called("GetDeviceInfo"))
}

func TestSettingsRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/device/settings", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/device/settings", `{"colour":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/device/settings", `[1]`).Code)
	assert.Empty(t, f.device.called("UpdateSettings"))
}

func TestShow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/device/show", `{"path":"/gallerys/holiday/a.jpg","play_type":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	calls := f.device.called("ShowImage")
	require.Len(t, calls, 1)
	assert.Equal(t, "/gallerys/holiday/a.jpg", calls[0].args[0])

	w = f.do(t, http.MethodPost, "/api/device/show",
		`{"filename":"my photo.jpg","gallery":"holiday","play_type":1,"duration":60}`)
	require.Equal(t, http.StatusOK, w.Code)
	calls = f.device.called("ShowImageByName")
	require.Len(t, calls, 1)
	assert.Equal(t, "my_photo.jpg", calls[0].args[0])
	assert.Equal(t, "holiday", calls[0].args[1])
	assert.Equal(t, canvasapi.ShowOptions{PlayType: 1, Duration: 60}, calls[0].args[2])

	assert.Len(t, f.device.called("GetDeviceInfo"), 2)
}

func TestShowValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	tests := []string{
		`{}`,
		`{"path":"/gallerys/a/b.jpg","play_type":7}`,
		`{"filename":"a.jpg","gallery":"../etc"}`,
		`{"path":"/gallerys/a/b.jpg","dither":3}`,
		`{"filename":"..","play_type":0}`,
		`{"path":"/gallerys/../x.jpg","play_type":0}`,
		`{"path":"/gallerys/holiday/..","play_type":0}`,
		`{"path":"/gallerys/my gallery/a.jpg","play_type":0}`,
		`{"filename":"a.jpg","gallery":"..","play_type":1}`,
		`{"filename":"a.jpg","gallery":".","play_type":1}`,
	}
	for _, body := range tests {
		w := f.do(t, http.MethodPost, "/api/device/show", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, f.device.called("ShowImage"))
	assert.Empty(t, f.device.called("ShowImageByName"))
}

func TestUpload(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	body, err := json.Marshal(apimodels.UploadParams{
		Filename: "../cat pic.jpg",
		Gallery:  "holiday",
		Data:     []byte{0xff, 0xd8, 0xff},
		ShowNow:  true,
	})
	require.NoError(t, err)

	w := f.do(t, http.MethodPost, "/api/images", string(body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"path":"/gallerys/holiday/cat_pic.jpg"}`, w.Body.String())

	calls := f.device.called("UploadImage")
	require.Len(t, calls, 1)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, calls[0].args[0])
	assert.Equal(t, "cat_pic.jpg", calls[0].args[1])
	assert.Len(t, f.device.called("GetDeviceInfo"), 1, "show_now refreshes the snapshot")
}

func TestUploadRejectsDotGallery(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	for _, gallery := range []string{".", ".."} {
		body, err := json.Marshal(apimodels.UploadParams{
			Filename: "a.jpg",
			Gallery:  gallery,
			Data:     []byte{0xff, 0xd8, 0xff},
		})
		require.NoError(t, err)

		w := f.do(t, http.MethodPost, "/api/images", string(body))
		assert.Equal(t, http.StatusBadRequest, w.Code, gallery)
	}
	assert.Empty(t, f.device.called("UploadImage"))
}

func TestUploadMultiAndDithered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	multi, err := json.Marshal(apimodels.UploadMultiParams{
		Files: []apimodels.UploadFileParams{
			{Filename: "a.jpg", Data: []byte{1}},
			{Filename: "b c.jpg", Data: []byte{2}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/images/multi", string(multi)).Code)

	calls := f.device.called("UploadImagesMulti")
	require.Len(t, calls, 1)
	files, ok := calls[0].args[0].([]models.UploadFile)
	require.True(t, ok)
	assert.Equal(t, "b_c.jpg", files[1].Filename)

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/api/images/multi", `{"files":[]}`).Code)

	dithered, err := json.Marshal(apimodels.UploadParams{Filename: "a.bin", Data: []byte{9, 9}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/images/dithered", string(dithered)).Code)
	assert.Len(t, f.device.called("UploadDitheredImageData"), 1)
}

func TestDeleteImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/images/holiday/a.jpg", "").Code)
	calls := f.device.called("DeleteImage")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"a.jpg", "holiday"}, calls[0].args)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/images/holiday/a%20b.jpg", "").Code)
}

func TestGalleriesAndPlaylists(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	w := f.do(t, http.MethodGet, "/api/galleries", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"name":"default"},{"name":"holiday"}]`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/galleries/holiday?offset=10&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	calls := f.device.called("GetGalleryImages")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"holiday", 10, 5}, calls[0].args)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/galleries/holiday?limit=x", "").Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/galleries/new-one", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/galleries/new-one", "").Code)

	w = f.do(t, http.MethodGet, "/api/playlists", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/playlists/evening", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"images":["a.jpg"]}`, w.Body.String())

	w = f.do(t, http.MethodPut, "/api/playlists/evening", `{"images":["b.jpg"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	puts := f.device.called("PutPlaylist")
	require.Len(t, puts, 1)
	assert.Equal(t, []any{"evening", `{"images":["b.jpg"]}`}, puts[0].args)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/api/playlists/evening", `{"images":`).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/playlists/evening", "").Code)

	f.device.failing = true
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodGet, "/api/playlists/evening", "").Code)
}

func TestIPAllowlist(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "config_schema = 1\n[api]\nallowed_ips = [\"10.0.0.0/8\"]\n")

	w := f.do(t, http.MethodGet, "/api/device", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebSocketBroadcastsDeviceUpdates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ns := make(chan apimodels.Notification, 4)
	f.snap.AddListener(func() {
		notifications.DeviceUpdated(ns, f.srv.env.DeviceResponse())
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- f.srv.Serve(ctx, ln, ns) }()

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+WSPath, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readNotification := func() apimodels.DeviceResponse {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var req apimodels.RequestObject
		require.NoError(t, json.Unmarshal(msg, &req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.Equal(t, apimodels.NotificationDeviceUpdated, req.Method)
		var dr apimodels.DeviceResponse
		require.NoError(t, json.Unmarshal(req.Params, &dr))
		return dr
	}

	initial := readNotification()
	assert.Nil(t, initial.Device)

	f.snap.Push(models.DeviceInfo{Name: "Canvas-A", Battery: 55})
	updated := readNotification()
	require.NotNil(t, updated.Device)
	assert.Equal(t, 55, updated.Device.Battery)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, pong, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("pong"), pong))

	cancel()
	require.NoError(t, <-served)
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
