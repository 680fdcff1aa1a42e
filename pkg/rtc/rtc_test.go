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

package rtc

import (
	"testing"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type scriptedDevice struct {
	readings []calendar.DateTime
	reads    int
	writes   int
}

func (d *scriptedDevice) Read() (calendar.DateTime, error) {
	i := d.reads
	if i >= len(d.readings) {
		i = len(d.readings) - 1
	}
	d.reads++
	return d.readings[i], nil
}

func (d *scriptedDevice) Write(calendar.DateTime, int) error {
	d.writes++
	return nil
}

func (*scriptedDevice) LostPower() (bool, error) { return false, nil }

func TestCorrectYear(t *testing.T) {
	t.Parallel()

	tests := []struct {
		year   int
		proxy  int
		offset int
	}{
		{2023, 2023, 0},
		{2000, 2000, 0},
		{2098, 2098, 0},
		{2099, 2001, -98},
		{1885, 2001, 116},
		{1955, 2001, 46},
		{1984, 2000, 16},
		{2400, 2000, -400},
		{1, 2001, 2000},
		{9999, 2001, -7998},
	}

	for _, tt := range tests {
		proxy, offset := CorrectYear(tt.year)
		assert.Equal(t, tt.proxy, proxy, "year %d", tt.year)
		assert.Equal(t, tt.offset, offset, "year %d", tt.year)
	}
}

// TestPropertyCorrectYearPreservesLeap verifies the proxy year has the
// same leap status and maps back onto the real year.
func TestPropertyCorrectYearPreservesLeap(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		year := rapid.IntRange(1, calendar.MaxYear).Draw(t, "year")
		proxy, offset := CorrectYear(year)
		if proxy < MinYear || proxy > MaxYear-1 {
			t.Fatalf("proxy %d out of range", proxy)
		}
		if calendar.IsLeapYear(proxy) != calendar.IsLeapYear(year) {
			t.Fatalf("leap status differs for %d -> %d", year, proxy)
		}
		if proxy-offset != year {
			t.Fatalf("%d - %d != %d", proxy, offset, year)
		}
	})
}

func TestPlausible(t *testing.T) {
	t.Parallel()

	assert.True(t, Plausible(calendar.DateTime{Year: 2023, Month: 10, Day: 26, Hour: 1, Minute: 20}))
	assert.False(t, Plausible(calendar.DateTime{Year: 2023, Month: 0, Day: 26}))
	assert.False(t, Plausible(calendar.DateTime{Year: 2023, Month: 1, Day: 32}))
	assert.False(t, Plausible(calendar.DateTime{Year: 2023, Month: 1, Day: 1, Hour: 24}))
	assert.False(t, Plausible(calendar.DateTime{Year: 2023, Month: 1, Day: 1, Minute: 165}))
	assert.False(t, Plausible(calendar.DateTime{Year: 2023, Month: 2, Day: 29}))
	assert.True(t, Plausible(calendar.DateTime{Year: 2024, Month: 2, Day: 29}))
	assert.False(t, Plausible(calendar.DateTime{Year: 2023, Month: 1, Day: 1, Second: 60}))
	assert.False(t, Plausible(calendar.DateTime{}))
}

func TestReadPlausible_RetriesGarbage(t *testing.T) {
	t.Parallel()

	good := calendar.DateTime{Year: 2023, Month: 10, Day: 26, Hour: 1, Minute: 20}
	bad := calendar.DateTime{Year: 2165, Month: 165, Day: 165, Hour: 165, Minute: 165}
	dev := &scriptedDevice{readings: []calendar.DateTime{bad, bad, good}}

	clock := clockwork.NewFakeClock()
	done := make(chan struct{})
	var got calendar.DateTime
	var ok bool
	go func() {
		got, ok = ReadPlausible(dev, clock)
		close(done)
	}()

	for range 2 {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(50 * time.Millisecond)
	}
	<-done

	assert.True(t, ok)
	assert.Equal(t, good, got)
	assert.Equal(t, 3, dev.reads)
}

func TestReadPlausible_GivesUp(t *testing.T) {
	t.Parallel()

	bad := calendar.DateTime{Month: 165}
	dev := &scriptedDevice{readings: []calendar.DateTime{bad}}

	clock := clockwork.NewFakeClock()
	done := make(chan struct{})
	var ok bool
	var got calendar.DateTime
	go func() {
		got, ok = ReadPlausible(dev, clock)
		close(done)
	}()

	for range readAttempts - 1 {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(100 * time.Millisecond)
	}
	<-done

	assert.False(t, ok)
	assert.Equal(t, bad, got)
	assert.Equal(t, readAttempts, dev.reads)
}

func TestWriteReal(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	soft := NewSoft(clock, time.UTC)

	offset, err := WriteReal(soft, calendar.DateTime{Year: 1885, Month: 9, Day: 2, Hour: 8})
	require.NoError(t, err)
	assert.Equal(t, 116, offset)

	stored, err := soft.Read()
	require.NoError(t, err)
	assert.Equal(t, calendar.DateTime{Year: 2001, Month: 9, Day: 2, Hour: 8}, stored)
}

func TestWriteReal_RejectsInvalid(t *testing.T) {
	t.Parallel()

	dev := &scriptedDevice{}
	for _, dt := range []calendar.DateTime{
		{},
		{Year: 2023, Month: 13, Day: 1},
		{Year: 2023, Month: 2, Day: 30},
		{Year: 2023, Month: 1, Day: 1, Hour: 24},
		{Year: calendar.MaxYear + 1, Month: 1, Day: 1},
	} {
		require.NotPanics(t, func() {
			_, err := WriteReal(dev, dt)
			require.ErrorIs(t, err, ErrInvalidTime, dt.String())
		})
	}
	assert.Zero(t, dev.writes)
}

func TestSoft(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))
	soft := NewSoft(clock, time.UTC)

	lost, err := soft.LostPower()
	require.NoError(t, err)
	assert.False(t, lost)

	dt, err := soft.Read()
	require.NoError(t, err)
	assert.Equal(t, calendar.DateTime{Year: 2025, Month: 3, Day: 4, Hour: 5, Minute: 6, Second: 7}, dt)

	require.NoError(t, soft.Write(calendar.DateTime{Year: 2000, Month: 2, Day: 29, Hour: 23, Minute: 59, Second: 30}, 2))
	clock.Advance(45 * time.Second)
	dt, err = soft.Read()
	require.NoError(t, err)
	assert.Equal(t, calendar.DateTime{Year: 2000, Month: 3, Day: 1, Minute: 0, Second: 15}, dt)
}

func TestSoft_UnreliableHostClock(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC))
	soft := NewSoft(clock, time.UTC)

	lost, err := soft.LostPower()
	require.NoError(t, err)
	assert.True(t, lost)

	require.NoError(t, soft.Write(calendar.DateTime{Year: 2023, Month: 1, Day: 1}, 0))
	lost, err = soft.LostPower()
	require.NoError(t, err)
	assert.False(t, lost)
}
