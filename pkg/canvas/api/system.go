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
	"strings"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/rs/zerolog/log"
)

// DefaultShowDuration is the slideshow interval used when none is given.
const DefaultShowDuration = 99999

// GetStatus returns the raw /state document, or nil.
func (c *Client) GetStatus(ctx context.Context, opts ...CallOption) map[string]any {
	var status map[string]any
	r := &request{method: http.MethodGet, path: EndpointStatus}
	if !c.getJSON(ctx, r, &status, opts) {
		return nil
	}
	return status
}

// GetDeviceInfo returns a fresh snapshot, or nil if the device could not be
// asked or did not answer. A JSON null body counts as no answer.
func (c *Client) GetDeviceInfo(ctx context.Context, opts ...CallOption) *models.DeviceInfo {
	var info *models.DeviceInfo
	r := &request{method: http.MethodGet, path: EndpointDeviceInfo}
	if !c.getJSON(ctx, r, &info, opts) {
		return nil
	}
	if info == nil {
		log.Debug().Msgf("%s %s: empty device info", r.method, r.path)
	}
	return info
}

func (c *Client) ShowNext(ctx context.Context, opts ...CallOption) bool {
	return c.command(ctx, &request{method: http.MethodPost, path: EndpointShowNext}, opts)
}

func (c *Client) Sleep(ctx context.Context, opts ...CallOption) bool {
	return c.command(ctx, &request{method: http.MethodPost, path: EndpointSleep}, opts)
}

func (c *Client) Reboot(ctx context.Context, opts ...CallOption) bool {
	return c.command(ctx, &request{method: http.MethodPost, path: EndpointReboot}, opts)
}

// ClearScreen blanks the panel. It has a longer budget than other commands
// because the device answers only after the refresh finishes.
func (c *Client) ClearScreen(ctx context.Context, opts ...CallOption) bool {
	r := &request{method: http.MethodPost, path: EndpointClearScreen, timeout: ClearScreenTimeout}
	return c.command(ctx, r, opts)
}

// Whistle is the device keep-alive.
func (c *Client) Whistle(ctx context.Context, opts ...CallOption) bool {
	return c.command(ctx, &request{method: http.MethodGet, path: EndpointWhistle}, opts)
}

// UpdateSettings writes the non-nil settings fields. Empty settings are a
// caller bug and never reach the network.
func (c *Client) UpdateSettings(ctx context.Context, s models.Settings, opts ...CallOption) bool {
	if s.IsEmpty() {
		log.Error().Msg("update settings: no settings provided")
		return false
	}
	r, err := jsonRequest(http.MethodPost, EndpointSettings, s)
	if err != nil {
		log.Error().Err(err).Msg("update settings")
		return false
	}
	return c.command(ctx, r, opts)
}

// ShowOptions controls how /show displays an image.
type ShowOptions struct {
	// Dither selects the dithering algorithm (0 Floyd-Steinberg, 1 JJN).
	// Nil leaves the device default.
	Dither *int
	// PlayType is one of the models.PlayType constants.
	PlayType int
	// Duration is the slideshow interval in seconds for gallery play.
	Duration int
}

type showRequest struct {
	Dither   *int   `json:"dither,omitempty"`
	Image    string `json:"image"`
	Gallery  string `json:"gallery,omitempty"`
	PlayType int    `json:"play_type"`
	Duration int    `json:"duration,omitempty"`
}

// SplitImagePath splits /gallerys/<gallery>/<file> into its parts. Other
// shapes fall back to the default gallery and the last path element.
func SplitImagePath(imagePath string) (gallery, filename string) {
	parts := strings.Split(strings.Trim(imagePath, "/"), "/")
	if len(parts) >= 3 && parts[0] == "gallerys" {
		return parts[1], parts[2]
	}
	return models.DefaultGallery, parts[len(parts)-1]
}

// ImagePath builds the full on-device path of an image.
func ImagePath(gallery, filename string) string {
	return "/gallerys/" + gallery + "/" + filename
}

// ShowImage displays an image given its full on-device path.
func (c *Client) ShowImage(ctx context.Context, imagePath string, so ShowOptions, opts ...CallOption) bool {
	gallery, filename := SplitImagePath(imagePath)
	return c.ShowImageByName(ctx, filename, gallery, so, opts...)
}

// ShowImageByName displays filename from gallery.
func (c *Client) ShowImageByName(
	ctx context.Context,
	filename, gallery string,
	so ShowOptions,
	opts ...CallOption,
) bool {
	if filename == "" {
		log.Error().Msg("show image: no filename provided")
		return false
	}
	if gallery == "" {
		gallery = models.DefaultGallery
	}

	payload := showRequest{PlayType: so.PlayType, Dither: so.Dither}
	switch so.PlayType {
	case models.PlayTypeGallery:
		payload.Image = filename
		payload.Gallery = gallery
		payload.Duration = so.Duration
		if payload.Duration <= 0 {
			payload.Duration = DefaultShowDuration
		}
	default:
		payload.Image = ImagePath(gallery, filename)
	}

	r, err := jsonRequest(http.MethodPost, EndpointShow, payload)
	if err != nil {
		log.Error().Err(err).Msg("show image")
		return false
	}
	return c.command(ctx, r, opts)
}
