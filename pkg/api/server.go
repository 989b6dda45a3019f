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

// Package api serves the local REST and WebSocket API of the daemon.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/methods"
	apimiddleware "github.com/ZaparooProject/zaparoo-canvas/pkg/api/middleware"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// RequestTimeout covers a BLE wake plus an upload with all retries.
	RequestTimeout  = 4 * time.Minute
	shutdownTimeout = 5 * time.Second
	WSPath          = "/api/ws"
)

var defaultOrigins = []string{"https://*", "http://*", "capacitor://*"}

// Server is the local API bound to one device.
type Server struct {
	cfg     *config.Instance
	env     *methods.Env
	ws      *melody.Melody
	limiter *apimiddleware.IPRateLimiter
	handler http.Handler
}

func NewServer(cfg *config.Instance, env *methods.Env) *Server {
	s := &Server{
		cfg:     cfg,
		env:     env,
		ws:      melody.New(),
		limiter: apimiddleware.NewIPRateLimiter(nil),
	}
	s.ws.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	s.ws.HandleConnect(s.handleWSConnect)
	s.ws.HandleMessage(handleWSMessage)
	s.handler = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	origins := s.cfg.AllowedOrigins()
	if len(origins) == 0 {
		origins = defaultOrigins
	}

	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(apimiddleware.HTTPIPFilterMiddleware(apimiddleware.NewIPFilter(s.cfg.AllowedIPs())))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))

	r.Get(WSPath, func(w http.ResponseWriter, r *http.Request) {
		err := s.ws.HandleRequest(w, r)
		if err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	env := s.env
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(RequestTimeout))
		r.Use(apimiddleware.HTTPRateLimitMiddleware(s.limiter))

		r.Get("/device", methods.HandleDevice(env))
		r.Post("/device/refresh", methods.HandleRefresh(env))
		r.Get("/device/info", methods.HandleDeviceInfo(env))
		r.Get("/device/status", methods.HandleStatus(env))
		r.Post("/device/settings", methods.HandleSettings(env))
		r.Post("/device/show", methods.HandleShow(env))
		r.Post("/device/next", methods.HandleCommand(env, "show next", env.Device.ShowNext, true))
		r.Post("/device/clear", methods.HandleCommand(env, "clear screen", env.Device.ClearScreen, true))
		r.Post("/device/whistle", methods.HandleCommand(env, "whistle", env.Device.Whistle, false))
		r.Post("/device/sleep", methods.HandleCommand(env, "sleep", env.Device.Sleep, false))
		r.Post("/device/reboot", methods.HandleCommand(env, "reboot", env.Device.Reboot, false))

		r.Post("/images", methods.HandleUpload(env))
		r.Post("/images/multi", methods.HandleUploadMulti(env))
		r.Post("/images/dithered", methods.HandleUploadDithered(env))
		r.Delete("/images/{gallery}/{image}", methods.HandleDeleteImage(env))

		r.Get("/galleries", methods.HandleGalleries(env))
		r.Get("/galleries/{name}", methods.HandleGalleryImages(env))
		r.Put("/galleries/{name}", methods.HandleCreateGallery(env))
		r.Delete("/galleries/{name}", methods.HandleDeleteGallery(env))

		r.Get("/playlists", methods.HandlePlaylists(env))
		r.Get("/playlists/{name}", methods.HandlePlaylist(env))
		r.Put("/playlists/{name}", methods.HandlePutPlaylist(env))
		r.Delete("/playlists/{name}", methods.HandleDeletePlaylist(env))
	})

	return r
}

// handleWSConnect sends the current snapshot so a new client does not
// have to wait for the next change.
func (s *Server) handleWSConnect(session *melody.Session) {
	data, err := notificationBytes(models.NotificationDeviceUpdated, s.env.DeviceResponse())
	if err != nil {
		log.Error().Err(err).Msg("marshalling initial snapshot")
		return
	}
	if err := session.Write(data); err != nil {
		log.Debug().Err(err).Msg("sending initial snapshot")
	}
}

func handleWSMessage(session *melody.Session, msg []byte) {
	// ping command for heartbeat operation
	if string(msg) == "ping" {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("size", len(msg)).Msg("ignoring websocket message")
}

func notificationBytes(method string, payload any) ([]byte, error) {
	params, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s params: %w", method, err)
	}
	data, err := json.Marshal(models.RequestObject{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling %s notification: %w", method, err)
	}
	return data, nil
}

func (s *Server) broadcastNotifications(ctx context.Context, notifications <-chan models.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(models.RequestObject{
				JSONRPC: "2.0",
				Method:  notif.Method,
				Params:  notif.Params,
			})
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification request")
				continue
			}

			if err := s.ws.Broadcast(data); err != nil {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// Serve runs the API on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, notifications <-chan models.Notification) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.broadcastNotifications(gctx, notifications)
		return nil
	})
	g.Go(func() error {
		s.limiter.RunCleanup(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := s.ws.Close(); err != nil {
			log.Debug().Err(err).Msg("closing websocket sessions")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Msgf("api listening on %s", ln.Addr())
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context, notifications <-chan models.Notification) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.APIListen())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.APIListen(), err)
	}
	return s.Serve(ctx, ln, notifications)
}
