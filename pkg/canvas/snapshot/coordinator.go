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

// Package snapshot holds the last known device snapshot for consumers.
//
// The coordinator never polls. New data arrives only from an explicit
// Refresh (which never wakes the device) or a Push after a successful
// action. Accepted changes are persisted in the background and announced
// to listeners, and the cached snapshot survives restarts with its original
// capture time.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/api"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const saveTimeout = 10 * time.Second

// Fetcher fetches a fresh snapshot. *api.Client implements it.
type Fetcher interface {
	GetDeviceInfo(ctx context.Context, opts ...api.CallOption) *models.DeviceInfo
}

// Spawner runs fn detached from the caller.
type Spawner func(fn func())

type listener struct {
	fn func()
	id int
}

// Coordinator owns one device's snapshot.
type Coordinator struct {
	lastUpdate time.Time
	lastSaved  time.Time
	fetcher    Fetcher
	store      Store
	clock      clockwork.Clock
	spawn      Spawner
	data       *models.DeviceInfo
	group      singleflight.Group
	listeners  []listener
	saves      sync.WaitGroup
	nextID     int
	mu         syncutil.RWMutex
	saveMu     syncutil.Mutex
	success    bool
}

type Option func(*Coordinator)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithSpawner replaces the default goroutine spawner used for saves.
func WithSpawner(spawn Spawner) Option {
	return func(c *Coordinator) {
		c.spawn = spawn
	}
}

// NewCoordinator creates a coordinator. A nil store disables persistence.
func NewCoordinator(fetcher Fetcher, store Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher: fetcher,
		store:   store,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.spawn == nil {
		c.spawn = func(fn func()) {
			c.saves.Add(1)
			go func() {
				defer c.saves.Done()
				fn()
			}()
		}
	}
	return c
}

// Data returns a copy of the current snapshot, or nil if none is known.
func (c *Coordinator) Data() *models.DeviceInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil {
		return nil
	}
	cp := *c.data
	return &cp
}

// LastUpdate is the capture time of the current snapshot.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// LastUpdateSuccess reports whether the current snapshot came from a
// successful fetch or push. Failed refreshes do not clear it.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.success
}

// AddListener registers fn to be called after every accepted change.
// Listeners run synchronously on the pushing goroutine and must not block.
func (c *Coordinator) AddListener(fn func()) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners = append(c.listeners, listener{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, l := range c.listeners {
			if l.id == id {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// LoadCached restores the persisted snapshot and its capture time. It
// neither notifies listeners nor writes the record back.
func (c *Coordinator) LoadCached(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	rec, err := c.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		log.Debug().Msg("no cached device snapshot")
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to load cached snapshot: %w", err)
	}
	if rec.Version > StorageVersion {
		log.Warn().Msgf("ignoring cached snapshot with unknown version %d", rec.Version)
		return nil
	}

	snap := rec.Snapshot
	c.mu.Lock()
	c.data = &snap
	c.lastUpdate = rec.LastUpdate
	c.success = true
	c.mu.Unlock()

	c.saveMu.Lock()
	c.lastSaved = rec.LastUpdate
	c.saveMu.Unlock()

	log.Debug().Msgf("restored cached device snapshot from %s", rec.LastUpdate.Format(time.RFC3339))
	return nil
}

// Refresh fetches one snapshot without waking the device. Concurrent calls
// share a single fetch. A failed fetch is expected for a sleeping device
// and leaves the current snapshot untouched.
func (c *Coordinator) Refresh(ctx context.Context) bool {
	v, _, _ := c.group.Do("refresh", func() (any, error) {
		info := c.fetcher.GetDeviceInfo(ctx, api.WithWake(false))
		if info == nil {
			log.Debug().Msg("device did not answer refresh, keeping last known snapshot")
			return false, nil
		}
		c.Push(*info)
		return true, nil
	})
	ok, _ := v.(bool)
	return ok
}

// Push replaces the snapshot with info unless it is identical to the
// current one. It returns whether the snapshot changed.
func (c *Coordinator) Push(info models.DeviceInfo) bool {
	c.mu.Lock()
	if c.data != nil && *c.data == info {
		c.mu.Unlock()
		return false
	}
	snap := info
	c.data = &snap
	c.lastUpdate = c.clock.Now().UTC()
	c.success = true
	rec := Record{Version: StorageVersion, Snapshot: snap, LastUpdate: c.lastUpdate}
	listeners := make([]func(), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l.fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}

	if c.store != nil {
		c.spawn(func() {
			c.save(rec)
		})
	}
	return true
}

// save writes rec unless a newer record was already written.
func (c *Coordinator) save(rec Record) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	if rec.LastUpdate.Before(c.lastSaved) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := c.store.Save(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("failed to persist device snapshot")
		return
	}
	c.lastSaved = rec.LastUpdate
}

// Wait blocks until saves started by the default spawner have finished.
func (c *Coordinator) Wait() {
	c.saves.Wait()
}

// SafeRefreshInterval returns a refresh period strictly longer than the
// device's max_idle, so a periodic refresh can never keep it awake. Devices
// that never sleep, or report no max_idle, use floor.
func SafeRefreshInterval(info *models.DeviceInfo, floor time.Duration) time.Duration {
	const margin = 60 * time.Second
	if info == nil || info.MaxIdle <= 0 {
		return floor
	}
	return max(time.Duration(info.MaxIdle)*time.Second+margin, floor)
}
