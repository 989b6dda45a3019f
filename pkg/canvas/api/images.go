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
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"syscall"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/lenient"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/rs/zerolog/log"
)

// framingSignatures are fragments of the strict transport's errors for
// responses with broken framing. The duplicate Content-Length firmware bug
// shows up as the first one.
var framingSignatures = []string{
	"multiple content-length",
	"duplicate content-length",
	"malformed http response",
	"malformed mime header",
	"invalid content-length",
}

// IsFramingDefect reports whether err came from a response the strict
// transport refused to parse.
func IsFramingDefect(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range framingSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// isTransient reports whether an upload attempt is worth repeating.
func isTransient(err error) bool {
	var statusErr *StatusError
	switch {
	case err == nil:
		return false
	case errors.Is(err, lenient.ErrFraming), errors.As(err, &statusErr):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func boolParam(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// multipartBody encodes files as image parts with Content-Type image/jpeg.
func multipartBody(field string, files []models.UploadFile) (body []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(
			`form-data; name="%s"; filename="%s"`,
			field, strings.ReplaceAll(f.Filename, `"`, ""),
		))
		h.Set("Content-Type", "image/jpeg")
		part, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create multipart part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write multipart part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// UploadImage stores a JPEG in gallery and returns its on-device path.
func (c *Client) UploadImage(
	ctx context.Context,
	data []byte,
	filename, gallery string,
	showNow bool,
	opts ...CallOption,
) (string, bool) {
	if filename == "" || len(data) == 0 {
		log.Error().Msg("upload image: filename and data are required")
		return "", false
	}
	if gallery == "" {
		gallery = models.DefaultGallery
	}

	body, contentType, err := multipartBody("image", []models.UploadFile{{Filename: filename, Data: data}})
	if err != nil {
		log.Error().Err(err).Msg("upload image")
		return "", false
	}

	r := &request{
		method: http.MethodPost,
		path:   EndpointUpload,
		query: url.Values{
			"filename": {filename},
			"gallery":  {gallery},
			"show_now": {boolParam(showNow)},
		},
		body:        body,
		contentType: contentType,
		timeout:     DefaultUploadTimeout,
	}
	resp, ok := c.upload(ctx, r, opts)
	if !ok {
		return "", false
	}

	stored := uploadedPath(resp, gallery, filename)
	log.Info().Msgf("uploaded %s to %s", filename, stored)
	return stored, true
}

// UploadImagesMulti stores several JPEGs in one request.
func (c *Client) UploadImagesMulti(
	ctx context.Context,
	files []models.UploadFile,
	gallery string,
	opts ...CallOption,
) bool {
	if len(files) == 0 {
		log.Error().Msg("upload images: no files provided")
		return false
	}
	if gallery == "" {
		gallery = models.DefaultGallery
	}

	body, contentType, err := multipartBody("image", files)
	if err != nil {
		log.Error().Err(err).Msg("upload images")
		return false
	}

	r := &request{
		method:      http.MethodPost,
		path:        EndpointUploadMulti,
		query:       url.Values{"gallery": {gallery}},
		body:        body,
		contentType: contentType,
		timeout:     DefaultUploadTimeout,
	}
	_, ok := c.upload(ctx, r, opts)
	return ok
}

// UploadDitheredImageData stores pre-dithered panel data as-is.
func (c *Client) UploadDitheredImageData(
	ctx context.Context,
	data []byte,
	filename, gallery string,
	opts ...CallOption,
) bool {
	if filename == "" || len(data) == 0 {
		log.Error().Msg("upload dithered data: filename and data are required")
		return false
	}
	if gallery == "" {
		gallery = models.DefaultGallery
	}

	r := &request{
		method:      http.MethodPost,
		path:        EndpointDataUpload,
		query:       url.Values{"filename": {filename}, "gallery": {gallery}},
		body:        data,
		contentType: "application/octet-stream",
		timeout:     DefaultUploadTimeout,
	}
	_, ok := c.upload(ctx, r, opts)
	return ok
}

// DeleteImage removes an image from a gallery.
func (c *Client) DeleteImage(ctx context.Context, image, gallery string, opts ...CallOption) bool {
	if image == "" {
		log.Error().Msg("delete image: no image provided")
		return false
	}
	if gallery == "" {
		gallery = models.DefaultGallery
	}
	r, err := jsonRequest(http.MethodPost, EndpointDeleteImage, map[string]string{
		"image":   image,
		"gallery": gallery,
	})
	if err != nil {
		log.Error().Err(err).Msg("delete image")
		return false
	}
	return c.command(ctx, r, opts)
}

// upload sends r with retries. Transient failures back off exponentially
// on the client clock; a framing defect switches to the lenient path
// without costing an attempt.
func (c *Client) upload(ctx context.Context, r *request, opts []CallOption) ([]byte, bool) {
	co := collect(opts)
	if !c.gate(ctx, r, co) {
		return nil, false
	}

	var lastErr error
	for attempt := range c.maxRetries {
		body, err := c.uploadAttempt(ctx, r, co)
		if err == nil {
			c.tracker.Record(r.key(), true, nil)
			return body, true
		}
		lastErr = err

		if !isTransient(err) || ctx.Err() != nil || attempt == c.maxRetries-1 {
			break
		}
		wait := c.backoff << attempt
		log.Warn().Err(err).Msgf(
			"upload attempt %d/%d to %s failed, retrying in %s",
			attempt+1, c.maxRetries, c.host, wait,
		)
		if err := c.sleep(ctx, wait); err != nil {
			break
		}
	}

	c.tracker.Record(r.key(), false, lastErr)
	log.Error().Err(lastErr).Msgf("upload to %s%s failed", c.host, r.path)
	return nil, false
}

func (c *Client) uploadAttempt(ctx context.Context, r *request, co callOptions) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.budget(co))
	defer cancel()

	if c.lenient.Load() {
		return c.sendLenient(ctx, r)
	}

	body, err := c.send(ctx, r)
	if err == nil || !IsFramingDefect(err) {
		return body, err
	}

	if c.lenient.CompareAndSwap(false, true) {
		log.Warn().Err(err).Msgf(
			"device %s sent a malformed HTTP response, using lenient parsing for uploads from now on",
			c.host,
		)
	}
	return c.sendLenient(ctx, r)
}

func (c *Client) sendLenient(ctx context.Context, r *request) ([]byte, error) {
	target := r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	raw := lenient.RawRequest{
		Method:      r.method,
		Path:        target,
		ContentType: r.contentType,
		Body:        r.body,
	}

	resp, err := lenient.Do(ctx, c.dial, c.host, raw, lenient.Options{ReadTimeout: r.timeout})
	if err != nil {
		return nil, fmt.Errorf("lenient %s %s: %w", r.method, r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(resp.Body)}
	}
	return resp.Body, nil
}

// uploadedPath normalizes the path reported by /upload. The device answers
// with either the gallery directory (trailing slash) or the full file path.
func uploadedPath(body []byte, gallery, filename string) string {
	fallback := ImagePath(gallery, filename)

	var resp struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(body, &resp); err != nil || resp.Path == "" {
		return fallback
	}

	p := resp.Path
	switch {
	case strings.HasSuffix(p, "/"):
		return p + filename
	case path.Base(p) == filename:
		return p
	default:
		return p + "/" + filename
	}
}

