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


// Package zonehint suggests a POSIX TZ string for a GPS position. The
// suggestion is only offered to the user, never applied.
package zonehint

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/ringsaturn/tzf"
	"github.com/spf13/afero"
)

var (
	ErrNoZone    = errors.New("no time zone at position")
	ErrNoFooter  = errors.New("zoneinfo file has no POSIX footer")
	ErrNotZoneDB = errors.New("not a zoneinfo file")
)

// DefaultZoneinfoDirs are searched in order for the IANA database.
var DefaultZoneinfoDirs = []string{
	"/usr/share/zoneinfo",
	"/usr/lib/zoneinfo",
	"/usr/share/lib/zoneinfo",
}

// Finder maps a position to an IANA zone name. tzf's finders satisfy it.
type Finder interface {
	GetTimezoneName(lng float64, lat float64) string
}

type Hint struct {
	Name  string  `json:"name"`
	POSIX string  `json:"posix"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type Hinter struct {
	finder Finder
	fs     afero.Fs
	dirs   []string
}

func New(fs afero.Fs, finder Finder, dirs []string) *Hinter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if len(dirs) == 0 {
		dirs = DefaultZoneinfoDirs
	}
	return &Hinter{finder: finder, fs: fs, dirs: dirs}
}

// NewDefault uses tzf's bundled boundary data. Loading it takes a while
// and a fair amount of memory, so it is only done when GPS zone hints are
// enabled.
func NewDefault(fs afero.Fs) (*Hinter, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, fmt.Errorf("failed to load zone boundaries: %w", err)
	}
	return New(fs, finder, nil), nil
}

// Lookup returns the zone at lat/lng with its POSIX rule.
func (h *Hinter) Lookup(lat, lng float64) (Hint, error) {
	name := h.finder.GetTimezoneName(lng, lat)
	if name == "" {
		return Hint{}, fmt.Errorf("%w: %.4f,%.4f", ErrNoZone, lat, lng)
	}

	posix, err := h.posixFor(name)
	if err != nil {
		return Hint{}, err
	}
	return Hint{Name: name, POSIX: posix, Lat: lat, Lng: lng}, nil
}

func (h *Hinter) posixFor(name string) (string, error) {
	var lastErr error
	for _, dir := range h.dirs {
		data, err := afero.ReadFile(h.fs, filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			lastErr = err
			continue
		}
		footer, err := Footer(data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		if err := tz.New(footer).Parse(0, false); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return footer, nil
	}
	return "", fmt.Errorf("zoneinfo for %s not found: %w", name, lastErr)
}

// Footer extracts the POSIX TZ string a version 2+ TZif file ends with.
func Footer(data []byte) (string, error) {
	if len(data) < 5 || !bytes.HasPrefix(data, []byte("TZif")) {
		return "", ErrNotZoneDB
	}
	if data[4] < '2' {
		return "", ErrNoFooter
	}
	if data[len(data)-1] != '\n' {
		return "", ErrNoFooter
	}
	body := data[:len(data)-1]
	start := bytes.LastIndexByte(body, '\n')
	if start < 0 {
		return "", ErrNoFooter
	}
	footer := string(body[start+1:])
	if footer == "" {
		return "", ErrNoFooter
	}
	return footer, nil
}
