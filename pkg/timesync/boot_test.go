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

package timesync

import (
	"context"
	"testing"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoot_NoSourcesKeepsRTC(t *testing.T) {
	t.Parallel()

	rtcTime := date(2023, 10, 26, 1, 20, 0)
	h := newHarness(t, setup{rtcTime: rtcTime})

	assert.Equal(t, rtcTime, h.ctx.CurrentLocalDateTime())
	assert.Equal(t, tz.DSTUnknown, h.ctx.DSTFlag())
	assert.Equal(t, 0, h.ctx.YearOffset())
	assert.Empty(t, h.rtc.writes)
	assert.False(t, h.ctx.Status().HaveAuth)

	h.at(rtcTime)
	assert.Equal(t, rtcTime, h.ctx.CurrentLocalDateTime())
	assert.Equal(t, tz.DSTUnknown, h.ctx.DSTFlag())
	assert.Equal(t, rtcTime, h.display.presents[len(h.display.presents)-1])

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2023, st.LastYear)
}

func TestBoot_NTP(t *testing.T) {
	t.Parallel()

	ntp := &fakeNTP{
		configured: true,
		have:       true,
		now:        instant(date(2023, 10, 26, 6, 25, 10)),
	}
	net := online()
	h := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 1, 20, 0),
		ntp:     ntp,
		net:     net,
		opts:    Options{Zones: [tz.Slots]string{"CST6CDT,M3.2.0,M11.1.0"}},
	})

	want := date(2023, 10, 26, 1, 25, 10)
	assert.Equal(t, want, h.ctx.CurrentLocalDateTime())
	assert.Equal(t, tz.DSTOn, h.ctx.DSTFlag())
	require.Len(t, h.rtc.writes, 1)
	assert.Equal(t, want, h.rtc.writes[0])
	assert.Equal(t, 4, h.rtc.weekdays[0])
	assert.True(t, h.ctx.Status().HaveAuth)
	assert.Equal(t, 1, ntp.polls)
	assert.Zero(t, h.sleeps)
	assert.Equal(t, []time.Duration{wakeWithAuth}, net.wakes)

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, tz.DSTOn, st.DST)
}

func TestBoot_WaitsForNTP(t *testing.T) {
	t.Parallel()

	ntp := &fakeNTP{configured: true}
	h := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 1, 20, 0),
		ntp:     ntp,
		net:     online(),
	})

	assert.Equal(t, ntpBootPolls, ntp.polls)
	assert.Equal(t, ntpBootPolls, h.sleeps)
	assert.False(t, h.ctx.Status().HaveAuth)
	assert.Equal(t, 1, h.ctx.dstChkInt)
}

func TestBoot_Canceled(t *testing.T) {
	t.Parallel()

	c := New(Options{}, Deps{
		RTC:     &fakeRTC{dt: date(2023, 10, 26, 1, 20, 0)},
		Store:   settings.NewMemory(),
		NTP:     &fakeNTP{configured: true},
		Network: online(),
		Clock:   clockwork.NewFakeClock(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Boot(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBoot_GPS(t *testing.T) {
	t.Parallel()

	gps := &fakeGPS{have: true, fix: true, utc: date(2023, 10, 26, 6, 25, 10), age: 1600}
	ntp := &fakeNTP{configured: true, have: true}
	h := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 6, 0, 0),
		gps:     gps,
		ntp:     ntp,
		net:     &fakeNet{configured: true},
	})

	// 1.6 s old stamp: one full second plus rounding.
	want := date(2023, 10, 26, 6, 25, 12)
	assert.Equal(t, want, h.ctx.CurrentLocalDateTime())
	assert.Equal(t, []calendar.DateTime{want}, h.rtc.writes)
	assert.True(t, h.ctx.Status().HaveAuth)
	assert.True(t, h.ctx.Status().GPSFix)
	assert.Zero(t, ntp.timeCalls)
	assert.Empty(t, gps.seeded, "receiver that delivered time is not seeded")

	gps.fix = false
	assert.False(t, h.ctx.Status().GPSFix)
}

func TestBoot_GPSWithoutTime(t *testing.T) {
	t.Parallel()

	gps := &fakeGPS{}
	rtcTime := date(2023, 10, 26, 6, 10, 0)
	h := newHarness(t, setup{rtcTime: rtcTime, gps: gps})

	assert.Equal(t, gpsBootTries, h.sleeps)
	assert.Equal(t, bootResyncInterval, h.ctx.resyncInt)
	assert.Equal(t, []calendar.DateTime{rtcTime}, gps.seeded)

	h.at(date(2023, 10, 26, 6, 10, 0))
	assert.Equal(t, bootResyncInterval, h.ctx.resyncInt)

	h.clock.Advance(6 * time.Minute)
	h.at(date(2023, 10, 26, 6, 16, 0))
	assert.Equal(t, defaultResyncInterval, h.ctx.resyncInt)
}

func TestBoot_SeedsGPSInUTC(t *testing.T) {
	t.Parallel()

	gps := &fakeGPS{}
	h := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 1, 20, 5),
		gps:     gps,
		saved:   &settings.State{DST: tz.DSTOn, LastYear: 2023},
		opts:    Options{Zones: [tz.Slots]string{"CST6CDT,M3.2.0,M11.1.0"}},
	})

	require.Len(t, gps.seeded, 1)
	assert.Equal(t, date(2023, 10, 26, 6, 20, 5), gps.seeded[0])
	assert.Equal(t, tz.DSTOn, h.ctx.DSTFlag())
}

func TestBoot_LostPower(t *testing.T) {
	t.Parallel()

	gps := &fakeGPS{}
	h := newHarness(t, setup{
		rtcTime: date(2045, 6, 1, 12, 0, 0),
		lost:    true,
		gps:     gps,
		saved: &settings.State{
			Offset:     calendar.Offset{Minutes: 500, Forward: true},
			DST:        tz.DSTOn,
			YearOffset: -98,
			LastYear:   2099,
		},
		opts: Options{TimeTravelPersistent: true},
	})

	assert.Equal(t, []calendar.DateTime{resetTime}, h.rtc.writes)
	assert.Equal(t, resetTime, h.ctx.CurrentLocalDateTime())
	assert.Equal(t, tz.DSTOff, h.ctx.DSTFlag())
	assert.Equal(t, 0, h.ctx.YearOffset())
	assert.True(t, h.ctx.Offset().IsZero())
	assert.Empty(t, gps.seeded, "meaningless time is not handed to the receiver")

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2023, st.LastYear)
	assert.Equal(t, 0, st.YearOffset)
	assert.True(t, st.Offset.IsZero())
}

func TestBoot_YearChangedWhileOff(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{
		rtcTime: date(2099, 3, 1, 10, 0, 0),
		saved:   &settings.State{LastYear: 2098, DST: tz.DSTOff},
	})

	assert.Equal(t, []calendar.DateTime{date(2001, 3, 1, 10, 0, 0)}, h.rtc.writes)
	assert.Equal(t, -98, h.ctx.YearOffset())
	assert.Equal(t, date(2099, 3, 1, 10, 0, 0), h.ctx.CurrentLocalDateTime())

	st, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, -98, st.YearOffset)
	assert.Equal(t, 2099, st.LastYear)
}

func TestBoot_RestoresTravel(t *testing.T) {
	t.Parallel()

	offset := calendar.Offset{Minutes: 60, Forward: true}
	saved := &settings.State{Offset: offset, DST: tz.DSTOff, LastYear: 2023}

	persistent := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 1, 20, 0),
		saved:   saved,
		opts:    Options{TimeTravelPersistent: true},
	})
	assert.Equal(t, offset, persistent.ctx.Offset())
	assert.Equal(t, date(2023, 10, 26, 2, 20, 0), persistent.ctx.CurrentLocalDateTime())
	assert.Equal(t, date(2023, 10, 26, 1, 20, 0), persistent.ctx.RealLocalDateTime())

	volatile := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 1, 20, 0),
		saved:   saved,
	})
	assert.True(t, volatile.ctx.Offset().IsZero())
}

func TestBoot_InvalidZone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, setup{
		rtcTime: date(2023, 10, 26, 1, 20, 0),
		opts: Options{
			Zones: [tz.Slots]string{"", "CET-1CEST,M3.5.0,M10.5.0/3", "<UTC"},
		},
	})

	assert.Equal(t, []EventKind{EventZoneInvalid}, h.events.kinds())
	assert.Equal(t, 2, h.events.events[0].Slot)
	assert.True(t, h.ctx.Zones().WorldClock(1))
	assert.False(t, h.ctx.Zones().WorldClock(2))
}
