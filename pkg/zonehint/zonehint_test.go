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


package zonehint

import (
	"testing"

	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type finderFunc func(lng, lat float64) string

func (f finderFunc) GetTimezoneName(lng, lat float64) string { return f(lng, lat) }

// tzif builds a fake version 2 zoneinfo file; only the header and footer
// matter here.
func tzif(version byte, footer string) []byte {
	data := append([]byte("TZif"), version)
	data = append(data, make([]byte, 15)...)
	// binary body, with newlines that must not confuse the footer search
	data = append(data, 0x00, '\n', 0x7f, 0x10, '\n', 0x01)
	if footer != "" {
		data = append(data, '\n')
		data = append(data, footer...)
		data = append(data, '\n')
	}
	return data
}

func TestFooter(t *testing.T) {
	t.Parallel()

	footer, err := Footer(tzif('2', "CET-1CEST,M3.5.0,M10.5.0/3"))
	require.NoError(t, err)
	assert.Equal(t, "CET-1CEST,M3.5.0,M10.5.0/3", footer)

	footer, err = Footer(tzif('3', "<+0330>-3:30"))
	require.NoError(t, err)
	assert.Equal(t, "<+0330>-3:30", footer)

	_, err = Footer(tzif(0, "UTC0"))
	require.ErrorIs(t, err, ErrNoFooter)

	_, err = Footer(tzif('2', ""))
	require.ErrorIs(t, err, ErrNoFooter)

	_, err = Footer([]byte("#!/bin/sh\n"))
	require.ErrorIs(t, err, ErrNotZoneDB)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/usr/share/zoneinfo/America/Los_Angeles",
		tzif('2', "PST8PDT,M3.2.0,M11.1.0"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/usr/share/zoneinfo/Etc/Broken",
		tzif('2', "<+01"), 0o644))

	finder := finderFunc(func(lng, lat float64) string {
		switch {
		case lat == 34.14 && lng == -118.35:
			return "America/Los_Angeles"
		case lat == 1:
			return "Etc/Broken"
		case lat == 2:
			return "Europe/Nowhere"
		default:
			return ""
		}
	})
	h := New(fs, finder, nil)

	hint, err := h.Lookup(34.14, -118.35)
	require.NoError(t, err)
	assert.Equal(t, Hint{Name: "America/Los_Angeles", POSIX: "PST8PDT,M3.2.0,M11.1.0", Lat: 34.14, Lng: -118.35}, hint)

	_, err = h.Lookup(0, -140)
	require.ErrorIs(t, err, ErrNoZone)

	_, err = h.Lookup(1, 0)
	require.ErrorIs(t, err, tz.ErrInvalidZone)

	_, err = h.Lookup(2, 0)
	require.Error(t, err)
}

func TestLookup_SecondDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opt/zoneinfo/Asia/Tokyo", tzif('2', "JST-9"), 0o644))

	h := New(fs, finderFunc(func(float64, float64) string { return "Asia/Tokyo" }),
		[]string{"/usr/share/zoneinfo", "/opt/zoneinfo"})

	hint, err := h.Lookup(35.68, 139.69)
	require.NoError(t, err)
	assert.Equal(t, "JST-9", hint.POSIX)
}
