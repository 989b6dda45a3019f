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

// Package service wires the device client, snapshot, API and publishers
// together into the running daemon.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/methods"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/api/notifications"
	canvasapi "github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/blewake"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/probe"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/snapshot"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/config"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/publishers"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/shared/httpclient"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"
)

const (
	SnapshotDB         = "canvas.db"
	notificationBuffer = 100
)

var ErrNoDeviceHost = errors.New("no device host configured")

// Service is one daemon instance for one device.
type Service struct {
	cfg            *config.Instance
	clock          clockwork.Clock
	Client         *canvasapi.Client
	Snapshot       *snapshot.Coordinator
	broker         *broker.Broker
	server         *api.Server
	source         chan models.Notification
	removeListener func()
	closeStore     func() error
}

type Option func(*options)

type options struct {
	clock      clockwork.Clock
	clientOpts []canvasapi.Option
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithClientOptions appends options to the device client, after the ones
// derived from config.
func WithClientOptions(opts ...canvasapi.Option) Option {
	return func(o *options) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// NewClient builds the device client from config, with BLE wake when an
// address is configured and BlueZ is available.
func NewClient(cfg *config.Instance, clock clockwork.Clock, extra ...canvasapi.Option) (*canvasapi.Client, error) {
	host := cfg.DeviceHost()
	if host == "" {
		return nil, ErrNoDeviceHost
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	hc := httpclient.NewClient()
	prober := &probe.HTTPProbe{Host: host, Client: hc}
	opts := []canvasapi.Option{
		canvasapi.WithHTTPClient(hc),
		canvasapi.WithProber(prober),
		canvasapi.WithClock(clock),
		canvasapi.WithAutoWake(cfg.BLEAutoWake()),
	}

	if waker := newWaker(cfg, prober, clock); waker != nil {
		opts = append(opts, canvasapi.WithWaker(waker))
	}

	return canvasapi.NewClient(host, append(opts, extra...)...), nil
}

func newWaker(cfg *config.Instance, prober probe.Prober, clock clockwork.Clock) *blewake.Waker {
	addr := cfg.BLEAddress()
	if addr == "" {
		return nil
	}
	bluez, err := blewake.NewBlueZ(cfg.BLEAdapter(), clock)
	if err != nil {
		log.Warn().Err(err).Msg("bluetooth unavailable, BLE wake disabled")
		return nil
	}
	wcfg := blewake.DefaultConfig(addr)
	wcfg.Cooldown = cfg.BLECooldown()
	wcfg.OnlineTimeout = cfg.BLEOnlineTimeout()
	log.Info().Msgf("BLE wake enabled for %s", addr)
	return blewake.New(wcfg, bluez, prober, clock)
}

// openStore returns the configured snapshot store and its closer.
func openStore(cfg *config.Instance) (snapshot.Store, func() error, error) {
	dir := cfg.StorageDir(helpers.DataDir())
	id := cfg.InstanceID()

	switch cfg.StorageBackend() {
	case config.StorageFile:
		store := snapshot.NewFileStore(afero.NewOsFs(), dir, id)
		log.Debug().Msgf("snapshot store: %s", store.Path())
		return store, func() error { return nil }, nil
	default:
		if err := afero.NewOsFs().MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := snapshot.OpenBolt(filepath.Join(dir, SnapshotDB))
		if err != nil {
			return nil, nil, err
		}
		log.Debug().Msgf("snapshot store: %s", db.Path())
		return snapshot.NewBoltStore(db, id), closeBolt(db), nil
	}
}

func closeBolt(db *bolt.DB) func() error {
	return func() error {
		if err := db.Close(); err != nil {
			return fmt.Errorf("failed to close snapshot db: %w", err)
		}
		return nil
	}
}

// New builds the service and restores the cached snapshot. Nothing here
// touches the network.
func New(ctx context.Context, cfg *config.Instance, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}

	client, err := NewClient(cfg, o.clock, o.clientOpts...)
	if err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	coord := snapshot.NewCoordinator(client, store, snapshot.WithClock(o.clock))
	if err := coord.LoadCached(ctx); err != nil {
		log.Warn().Err(err).Msg("starting without cached snapshot")
	}

	s := &Service{
		cfg:        cfg,
		clock:      o.clock,
		Client:     client,
		Snapshot:   coord,
		source:     make(chan models.Notification, notificationBuffer),
		closeStore: closeStore,
	}
	s.broker = broker.NewBroker(s.source)

	env := &methods.Env{Device: client, Snapshot: coord}
	s.server = api.NewServer(cfg, env)
	s.removeListener = coord.AddListener(func() {
		notifications.DeviceUpdated(s.source, env.DeviceResponse())
	})

	return s, nil
}

// Run serves the API on ln and runs the background workers until ctx is
// done.
func (s *Service) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	apiNotifications, _ := s.broker.Subscribe(notificationBuffer)
	g.Go(func() error {
		s.broker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return s.server.Serve(gctx, ln, apiNotifications)
	})

	if mqttCfg, ok := s.cfg.MQTT(); ok {
		log.Info().Msgf("starting MQTT publisher: %s (topic: %s)", mqttCfg.Broker, mqttCfg.Topic)
		pub := publishers.NewMQTTPublisher(mqttCfg.Broker, mqttCfg.Topic, s.cfg.InstanceID())
		if err := pub.Connect(); err != nil {
			log.Error().Err(err).Msgf("failed to start MQTT publisher for %s", mqttCfg.Broker)
		} else {
			mqttNotifications, _ := s.broker.Subscribe(notificationBuffer)
			g.Go(func() error {
				pub.Run(gctx, mqttNotifications)
				pub.Stop()
				return nil
			})
		}
	}

	if s.cfg.RefreshEnabled() {
		g.Go(func() error {
			s.refreshLoop(gctx)
			return nil
		})
	}

	err := g.Wait()
	s.Snapshot.Wait()
	if err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}

// refreshLoop refreshes once at start and then at an interval longer than
// the device's max_idle, so it never keeps the device awake.
func (s *Service) refreshLoop(ctx context.Context) {
	for {
		s.Snapshot.Refresh(ctx)

		interval := snapshot.SafeRefreshInterval(s.Snapshot.Data(), s.cfg.RefreshFloor())
		log.Debug().Msgf("next snapshot refresh in %s", interval)
		timer := s.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// Close releases the snapshot store. Call it after Run has returned.
func (s *Service) Close() error {
	s.removeListener()
	s.Snapshot.Wait()
	return s.closeStore()
}

// Start runs the daemon on the configured listen address.
func Start(cfg *config.Instance) (stop func() error, done <-chan struct{}, err error) {
	log.Info().Msgf("version: %s", config.AppVersion)

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := New(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.APIListen())
	if err != nil {
		cancel()
		_ = svc.Close()
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", cfg.APIListen(), err)
	}

	doneCh := make(chan struct{})
	var runErr error
	go func() {
		defer close(doneCh)
		runErr = svc.Run(ctx, ln)
		if runErr != nil {
			log.Error().Err(runErr).Msg("service stopped with error")
		}
		if closeErr := svc.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing snapshot store")
		}
		log.Info().Msg("service cleanup completed")
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return runErr
	}
	return stop, doneCh, nil
}
