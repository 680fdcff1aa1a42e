// Zaparoo TCD Core
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo TCD Core.
//
// Zaparoo TCD Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo TCD Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo TCD Core.  If not, see <http://www.gnu.org/licenses/>.

// Package settings persists the clock state that has to survive a power
// cycle: the RTC year offset, the DST flag, the last seen year and the
// time travel offset.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

const (
	BucketState = "state"
	keyPresent  = "present"
	keyYearOffs = "year_offset"
	DBFile      = "tcd.db"
)

var ErrNotFound = errors.New("no saved state")

// State is the persisted part of the present time.
type State struct {
	Offset     calendar.Offset `cbor:"1,keyasint"`
	LastYear   int             `cbor:"2,keyasint"`
	DST        tz.DSTFlag      `cbor:"3,keyasint"`
	YearOffset int             `cbor:"4,keyasint"`
}

// DefaultState is what a factory fresh clock starts with.
func DefaultState() State {
	return State{DST: tz.DSTUnknown}
}

// yearRecord is written on every RTC write, so it is kept apart from
// the full state.
type yearRecord struct {
	YearOffset int        `cbor:"1,keyasint"`
	DST        tz.DSTFlag `cbor:"2,keyasint"`
}

type Store struct {
	bdb *bolt.DB
}

// Open opens or creates the state database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, DBFile), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(BucketState))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create state bucket: %w", err)
	}
	return &Store{bdb: db}, nil
}

func (s *Store) Close() error {
	if err := s.bdb.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database: %w", err)
	}
	return nil
}

func (s *Store) get(key string, v any) error {
	return s.bdb.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketState))
		if b == nil {
			return ErrNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		if err := cbor.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return nil
	})
}

func (s *Store) put(key string, v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	err = s.bdb.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketState)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Load returns the saved state. When nothing was saved it yields
// DefaultState and ErrNotFound.
func (s *Store) Load() (State, error) {
	st := DefaultState()
	presentErr := s.get(keyPresent, &st)
	if presentErr != nil && !errors.Is(presentErr, ErrNotFound) {
		return DefaultState(), presentErr
	}

	var yr yearRecord
	switch err := s.get(keyYearOffs, &yr); {
	case err == nil:
		// A year offset written before any full state still counts.
		st.YearOffset = yr.YearOffset
		st.DST = yr.DST
		return st, nil
	case !errors.Is(err, ErrNotFound):
		log.Warn().Err(err).Msg("ignoring unreadable year offset")
	}
	if presentErr != nil {
		return DefaultState(), presentErr
	}
	return st, nil
}

// Save writes the full state.
func (s *Store) Save(st State) error {
	if err := s.put(keyPresent, st); err != nil {
		return err
	}
	return s.SaveYearOffset(st.YearOffset, st.DST)
}

// SaveYearOffset writes the RTC year offset together with the DST
// flag it was computed for.
func (s *Store) SaveYearOffset(offset int, dst tz.DSTFlag) error {
	return s.put(keyYearOffs, yearRecord{YearOffset: offset, DST: dst})
}

// Memory is a Store kept in memory, for tests and for running without
// a data directory.
type Memory struct {
	state State
	saves int
	mu    syncutil.Mutex
	have  bool
}

func NewMemory() *Memory {
	return &Memory{state: DefaultState()}
}

func (m *Memory) Load() (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.have {
		return DefaultState(), ErrNotFound
	}
	return m.state, nil
}

func (m *Memory) Save(st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st
	m.have = true
	m.saves++
	return nil
}

func (m *Memory) SaveYearOffset(offset int, dst tz.DSTFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.YearOffset = offset
	m.state.DST = dst
	m.have = true
	m.saves++
	return nil
}

// Saves counts writes so far.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
