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
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/netstate"
	"github.com/ZaparooProject/tcd-core/pkg/rtc"
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/rs/zerolog/log"
)

const (
	ntpBootPolls = 50
	gpsBootTries = 10
	bootPollWait = 100 * time.Millisecond
)

// resetTime is what the RTC is set to after it lost power.
var resetTime = calendar.DateTime{Year: 2023, Month: 1, Day: 1}

// Boot brings the present time up: it validates the RTC, restores the
// saved state, tries to get authoritative time and re-translates the
// RTC year if the year changed while the clock was off.
func (c *Context) Boot(ctx context.Context) error {
	c.bootTime = c.deps.Clock.Now()

	rtcBad := c.checkLostPower()
	c.restoreState(rtcBad)

	ntpUsable := c.deps.NTP != nil && c.deps.NTP.Configured()
	stationConfigured := c.deps.Network != nil && c.deps.Network.StationConfigured()
	c.couldHaveAuth = (ntpUsable && stationConfigured) || c.deps.GPS != nil

	if err := c.waitForNTP(ctx); err != nil {
		return err
	}

	dt, _ := c.readRTC()
	c.present = dt
	c.setupZones(dt.Year)

	haveGPSTime := false
	if _, ok := c.fetchNTP(true); ok {
		c.markAuth()
		log.Info().Msg("boot: rtc set through ntp")
	} else if c.deps.GPS != nil {
		got, err := c.gpsBurst(ctx)
		if err != nil {
			return err
		}
		if got {
			c.markAuth()
			haveGPSTime = true
			log.Info().Msg("boot: rtc set through gps")
		} else {
			c.resyncInt = bootResyncInterval
		}
	}

	if c.auth.have && (c.yearOffset != c.saved.YearOffset || c.dst != c.saved.DST) {
		c.saveState()
	}

	if rtcBad && !c.auth.have {
		c.offset = calendar.Offset{}
	}

	dt, rtcOK := c.readRTC()
	if c.auth.have {
		c.lastYear = dt.Year
	} else {
		c.lastYear = c.saved.LastYear
	}

	for slot := range tz.Slots {
		if err := c.zones.Zone(slot).Parse(dt.Year, true); err != nil && slot == tz.HomeSlot {
			log.Warn().Err(err).Msg("boot: home time zone not usable")
		}
	}

	// Switched on in a different year than the clock was last set in.
	if rtcOK && c.lastYear != dt.Year {
		proxy, offset := rtc.CorrectYear(dt.Year)
		if (proxy != c.stored.Year || offset != c.yearOffset) && c.writeReal(dt) {
			if c.yearOffset != c.saved.YearOffset {
				c.persist()
			}
		}
		c.lastYear = dt.Year
		c.saveState()
	}

	c.present = dt
	c.showPresent()

	// Without authoritative time the DST flag may be stale; check soon.
	if !c.auth.have {
		c.dstChkInt = 1
	}

	if c.deps.GPS != nil && !haveGPSTime && (c.auth.have || !rtcBad) {
		c.seedGPS(dt)
	}

	log.Info().
		Str("present", c.CurrentLocalDateTime().String()).
		Int("year_offset", c.yearOffset).
		Stringer("dst", c.dst).
		Bool("auth", c.auth.have).
		Msg("present time ready")
	return nil
}

// checkLostPower resets an RTC that stopped. It reports whether the RTC
// time is meaningless.
func (c *Context) checkLostPower() bool {
	lost, err := c.deps.RTC.LostPower()
	if err != nil {
		log.Warn().Err(err).Msg("boot: rtc power state unknown")
		return false
	}
	if !lost {
		return false
	}
	log.Warn().Msg("boot: rtc lost power, resetting")
	weekday := calendar.DayOfWeek(resetTime.Day, resetTime.Month, resetTime.Year)
	if err := c.deps.RTC.Write(resetTime, weekday); err != nil {
		log.Error().Err(err).Msg("boot: failed to reset rtc")
	}
	return true
}

func (c *Context) restoreState(rtcBad bool) {
	st, err := c.deps.Store.Load()
	switch {
	case errors.Is(err, settings.ErrNotFound):
		log.Info().Msg("boot: no saved state")
	case err != nil:
		log.Warn().Err(err).Msg("boot: failed to load saved state")
	}
	c.saved = st
	c.yearOffset = st.YearOffset
	c.dst = st.DST
	if c.opts.TimeTravelPersistent {
		c.offset = st.Offset
	}
	if rtcBad {
		c.yearOffset = 0
		c.dst = tz.DSTOff
	}
}

func (c *Context) setupZones(year int) {
	for slot, def := range c.opts.Zones {
		if err := c.zones.Replace(slot, def, year); err != nil {
			log.Warn().Err(err).Int("slot", slot).Str("zone", def).Msg("boot: time zone not usable")
			c.notify(Event{Kind: EventZoneInvalid, Slot: slot, Zone: def})
		}
	}
}

// waitForNTP gives an online NTP client up to five seconds to deliver a
// first time stamp.
func (c *Context) waitForNTP(ctx context.Context) error {
	ntp := c.deps.NTP
	if ntp == nil || !ntp.Configured() {
		return nil
	}
	if n := c.deps.Network; n != nil && n.State() != netstate.Connected {
		return nil
	}
	for range ntpBootPolls {
		ntp.Poll()
		if _, ok := ntp.Time(); ok {
			return nil
		}
		if err := c.deps.Sleep(ctx, bootPollWait); err != nil {
			return fmt.Errorf("boot interrupted: %w", err)
		}
	}
	log.Info().Msg("boot: no ntp time yet")
	return nil
}

// gpsBurst tries the receiver a few times while it delivers its first
// sentences.
func (c *Context) gpsBurst(ctx context.Context) (bool, error) {
	for i := range gpsBootTries {
		if _, ok := c.fetchGPS(); ok {
			log.Debug().Int("attempt", i+1).Msg("boot: gps time acquired")
			return true, nil
		}
		if err := c.deps.Sleep(ctx, bootPollWait); err != nil {
			return false, fmt.Errorf("boot interrupted: %w", err)
		}
	}
	return false, nil
}

// seedGPS hands the present UTC time to the receiver, which speeds up
// its first fix.
func (c *Context) seedGPS(dt calendar.DateTime) {
	home := c.zones.Home()
	utc := calendar.MinutesToDate(home.ToUTC(dt, home.CouldDST() && c.dst == tz.DSTOn))
	utc.Second = dt.Second
	if err := c.deps.GPS.SetTime(utc); err != nil {
		log.Warn().Err(err).Msg("boot: failed to seed gps time")
	}
}
