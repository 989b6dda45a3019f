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

package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/zaparoo-canvas/pkg/canvas/models"
	"github.com/ZaparooProject/zaparoo-canvas/pkg/helpers/syncutil"
	"github.com/spf13/afero"
	bolt "go.etcd.io/bbolt"
)

// StorageVersion is the current record layout.
const StorageVersion = 2

// BucketSnapshots holds one record per daemon instance.
const BucketSnapshots = "snapshots"

// ErrNotFound means nothing has been persisted yet.
var ErrNotFound = errors.New("no persisted snapshot")

// Record is the persisted form of a snapshot.
type Record struct {
	LastUpdate time.Time         `json:"last_update"`
	Snapshot   models.DeviceInfo `json:"snapshot"`
	Version    int               `json:"version"`
}

// Store persists a single record.
type Store interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec Record) error
}

func decodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot record: %w", err)
	}
	return &rec, nil
}

// BoltStore keeps the record in a bbolt database keyed by instance id.
type BoltStore struct {
	db  *bolt.DB
	key []byte
}

// OpenBolt opens (or creates) a snapshot database at path.
func OpenBolt(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db %s: %w", path, err)
	}
	return db, nil
}

func NewBoltStore(db *bolt.DB, instanceID string) *BoltStore {
	return &BoltStore{db: db, key: []byte(instanceID)}
}

func (s *BoltStore) Load(_ context.Context) (*Record, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketSnapshots))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(s.key)
		if v == nil {
			return ErrNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt load: %w", err)
	}
	return decodeRecord(data)
}

func (s *BoltStore) Save(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(BucketSnapshots))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return b.Put(s.key, data)
	})
	if err != nil {
		return fmt.Errorf("bolt save: %w", err)
	}
	return nil
}

// FileStore keeps the record as a JSON file, replaced atomically on save.
type FileStore struct {
	fs   afero.Fs
	path string
	mu   syncutil.Mutex
}

// NewFileStore stores the record at dir/canvas.snapshot.<instanceID>.json.
func NewFileStore(afs afero.Fs, dir, instanceID string) *FileStore {
	return &FileStore{
		fs:   afs,
		path: filepath.Join(dir, "canvas.snapshot."+instanceID+".json"),
	}
}

// Path returns the record file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return decodeRecord(data)
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(s.path), err)
	}
	tmp := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
