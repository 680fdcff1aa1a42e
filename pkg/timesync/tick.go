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
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/netstate"
	"github.com/ZaparooProject/tcd-core/pkg/rtc"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/rs/zerolog/log"
)

const (
	// Tolerance between RTC and authoritative time when the zone has
	// no DST, in minutes.
	fakeRTCTolerance = 61
	// The second of the minute a user requested resync is attempted at.
	triggerSecond = 35
	nightEndHour  = 6

	wakeWithAuth    = 3 * time.Minute
	wakeWithoutAuth = 21 * time.Minute
)

// Poll drives the non-blocking NTP client. Call it often, at least a few
// times per second.
func (c *Context) Poll() {
	if c.deps.NTP != nil {
		c.deps.NTP.Poll()
	}
}

// Tick runs the once per second work: resync, year change, DST check
// and display update, in that order.
func (c *Context) Tick() {
	c.updateAuthExpiry()

	gpsHasTime := c.deps.GPS != nil && c.deps.GPS.HaveTime()
	dt, ok := c.readRTC()
	if !ok {
		// Nothing trustworthy to write back; keep the displays running.
		c.present = dt
		c.showPresent()
		c.updateWorldClock(dt)
		return
	}
	home := c.zones.Home()

	var checkDST bool
	triggered := c.syncTrigger && secondPassed(c.lastSecond, dt.Second, triggerSecond)
	c.lastSecond = dt.Second
	if c.couldHaveAuth && c.itsTime(dt, gpsHasTime, triggered) && (gpsHasTime || c.doWiFi(dt)) && !c.inTravel {
		if !c.autoReadjust {
			dt, checkDST = c.resync(dt, gpsHasTime)
		}
	} else {
		c.autoReadjust = false
		if c.resyncInt != defaultResyncInterval && c.deps.Clock.Since(c.bootTime) > shortResyncPeriod {
			c.resyncInt = defaultResyncInterval
		}
		checkDST = home.CouldDST()
	}

	dt = c.checkYearChange(dt)
	dt = c.checkDST(dt, checkDST)

	c.present = dt
	c.showPresent()
	c.updateWorldClock(dt)

	c.lastYear = dt.Year
	if c.saved.LastYear != c.lastYear {
		c.saveState()
	}
}

// itsTime reports whether this second is a resync opportunity: minutes
// one and two of every hour, more often while there never was an
// authoritative time, or on request.
func (c *Context) itsTime(dt calendar.DateTime, gpsHasTime, triggered bool) bool {
	if dt.Minute == 1 || dt.Minute == 2 {
		return true
	}
	if !c.haveAuth() {
		m := dt.Minute % c.resyncInt
		if m == 1 || m == 2 || gpsHasTime {
			return true
		}
	}
	return triggered
}

// secondPassed reports whether mark lies in (prev, cur] on the seconds
// dial, so a skipped second still counts. prev is -1 before the first
// tick.
func secondPassed(prev, cur, mark int) bool {
	switch {
	case prev < 0 || prev == cur:
		return cur == mark
	case prev < cur:
		return prev < mark && mark <= cur
	default:
		return prev < mark || mark <= cur
	}
}

// doWiFi reports whether NTP may be used now. Reconnecting a sleeping
// station freezes the displays, so that only happens while the user is
// not interacting and nothing plays.
func (c *Context) doWiFi(dt calendar.DateTime) bool {
	n := c.deps.Network
	if n == nil || !n.StationConfigured() {
		return false
	}
	quiet := c.inputIdle() && !c.audioPlaying()
	switch n.State() {
	case netstate.Connected:
		return true
	case netstate.Off:
		if !c.haveAuth() && quiet {
			return true
		}
		return c.auth.expired && quiet && dt.Hour <= nightEndHour
	case netstate.APMode:
		return n.APRetry() && c.auth.expired && quiet && dt.Hour <= nightEndHour
	}
	return false
}

func (c *Context) inputIdle() bool {
	return c.deps.Input == nil || c.deps.Input.Idle()
}

func (c *Context) audioPlaying() bool {
	return c.deps.Audio != nil && c.deps.Audio.Playing()
}

// resync fetches authoritative time. It returns the new local time and
// whether the local DST check still has to run.
func (c *Context) resync(dt calendar.DateTime, gpsHasTime bool) (calendar.DateTime, bool) {
	home := c.zones.Home()
	oldT := dt.Minutes()

	fetched, source, ok := c.fetch(c.haveAuth(), gpsHasTime)
	if !ok {
		log.Debug().Msg("resync via ntp/gps failed")
		return dt, home.CouldDST()
	}

	c.autoReadjust = true
	c.resyncInt = defaultResyncInterval
	c.syncTrigger = false
	c.markAuth()
	c.lastYear = fetched.Year

	allowed := calendar.Minutes(fakeRTCTolerance)
	if home.CouldDST() {
		allowed = calendar.Minutes(home.RawDSTDiff() + 1)
	}

	wasFakeRTC := false
	if !c.offset.IsZero() {
		newT := fetched.Minutes()
		delta := newT - oldT
		if oldT > newT {
			delta = oldT - newT
		}
		// The clock was set by hand; the offset no longer means anything.
		if delta > allowed {
			wasFakeRTC = true
			log.Info().Uint64("minutes", uint64(delta)).Msg("rtc was off, returning to present")
			c.offset = calendar.Offset{}
		}
	}

	if c.yearOffset != c.saved.YearOffset || wasFakeRTC || c.dst != c.saved.DST {
		c.persist()
	}

	c.notify(Event{Kind: EventResync, Source: source})
	return fetched, false
}

// fetch tries NTP and GPS. GPS goes first if it has time and the
// station is down, since waking the station would freeze the displays.
func (c *Context) fetch(weHaveAuth, gpsHasTime bool) (calendar.DateTime, string, bool) {
	stationOff := c.deps.Network == nil || c.deps.Network.State() == netstate.Off
	if gpsHasTime && stationOff {
		if dt, ok := c.fetchGPS(); ok {
			return dt, "gps", true
		}
	}
	if dt, ok := c.fetchNTP(weHaveAuth); ok {
		return dt, "ntp", true
	}
	if dt, ok := c.fetchGPS(); ok {
		return dt, "gps", true
	}
	return calendar.DateTime{}, "", false
}

// fetchNTP sets the RTC from the NTP client. Waking the station does not
// produce a time stamp right away, so a call that wakes it fails and a
// later call succeeds.
func (c *Context) fetchNTP(weHaveAuth bool) (calendar.DateTime, bool) {
	if c.deps.NTP == nil || !c.deps.NTP.Configured() {
		return calendar.DateTime{}, false
	}
	if n := c.deps.Network; n != nil {
		if n.StationConfigured() {
			if weHaveAuth {
				n.Wake(wakeWithAuth)
			} else {
				n.Wake(wakeWithoutAuth)
			}
		}
		if n.State() != netstate.Connected {
			log.Debug().Msg("network not connected, ntp sync skipped")
			return calendar.DateTime{}, false
		}
	}
	utc, ok := c.deps.NTP.Time()
	if !ok {
		log.Debug().Msg("no current ntp time stamp available")
		return calendar.DateTime{}, false
	}
	return c.applyUTC(utc, "ntp")
}

// fetchGPS sets the RTC from the GPS receiver, corrected for the age of
// the time stamp.
func (c *Context) fetchGPS() (calendar.DateTime, bool) {
	if c.deps.GPS == nil {
		return calendar.DateTime{}, false
	}
	utc, age, ok := c.deps.GPS.Time()
	if !ok {
		return calendar.DateTime{}, false
	}
	secs := int64(utc.Second) + age/1000
	if age%1000 > 500 {
		secs++
	}
	inst := calendar.Instant{Minutes: utc.Minutes()}.AddSeconds(secs)
	return c.applyUTC(inst, "gps")
}

func (c *Context) applyUTC(utc calendar.Instant, source string) (calendar.DateTime, bool) {
	local, isDST := c.zones.Home().FromUTC(utc)
	if !c.writeReal(local) {
		return calendar.DateTime{}, false
	}
	c.present = local
	c.setDST(tz.FlagFor(isDST))
	log.Info().
		Str("source", source).
		Str("time", local.String()).
		Stringer("dst", c.dst).
		Msg("rtc set from authoritative time")
	return local, true
}

func (c *Context) setDST(f tz.DSTFlag) {
	if f != c.dst {
		log.Debug().Stringer("from", c.dst).Stringer("to", f).Msg("updating dst flag")
	}
	c.dst = f
}

// readRTC returns real local time from the RTC. When no plausible
// reading comes back, ok is false and the last good reading, advanced by
// the time passed since, stands in.
func (c *Context) readRTC() (calendar.DateTime, bool) {
	now := c.deps.Clock.Now()
	stored, ok := rtc.ReadPlausible(c.deps.RTC, c.deps.Clock)
	if ok {
		c.stored = stored
		c.storedAt = now
	} else {
		c.stored = c.lastGoodRTC(now)
	}
	dt := c.stored
	dt.Year -= c.yearOffset
	return dt, ok
}

func (c *Context) lastGoodRTC(now time.Time) calendar.DateTime {
	if c.storedAt.IsZero() || !c.stored.Valid() {
		return resetTime
	}
	elapsed := int64(now.Sub(c.storedAt) / time.Second)
	return calendar.Instant{Minutes: c.stored.Minutes(), Second: c.stored.Second}.
		AddSeconds(elapsed).DateTime()
}

// writeReal writes real local time dt to the RTC and takes over the
// resulting year offset.
func (c *Context) writeReal(dt calendar.DateTime) bool {
	offset, err := rtc.WriteReal(c.deps.RTC, dt)
	if err != nil {
		log.Error().Err(err).Str("time", dt.String()).Msg("failed to set rtc")
		return false
	}
	c.yearOffset = offset
	c.stored = dt
	c.stored.Year = dt.Year + offset
	c.storedAt = c.deps.Clock.Now()
	return true
}

// checkYearChange re-translates the RTC year when the real year changed.
// Year 9999 rolls over to year 1; year 0 is skipped since the zone rules
// cannot handle it.
func (c *Context) checkYearChange(dt calendar.DateTime) calendar.DateTime {
	year := dt.Year
	if year == c.lastYear && year <= calendar.MaxYear {
		return dt
	}

	if year > calendar.MaxYear {
		log.Info().Msg("year rollover 9999 to 1")
		year = 1
		c.offset = c.offset.Rebase()
	}
	dt.Year = year

	if err := c.zones.Home().Parse(year, true); err != nil {
		log.Debug().Err(err).Int("year", year).Msg("year change: failed to parse time zone")
	}

	proxy, offset := rtc.CorrectYear(year)
	if (proxy != c.stored.Year || offset != c.yearOffset) && c.writeReal(dt) {
		if c.yearOffset != c.saved.YearOffset {
			c.persist()
		}
	}

	c.notify(Event{Kind: EventYearRollover, Year: year, Present: c.displayed(dt).String()})
	return dt
}

// checkDST runs the local DST determination every dstChkInt minutes.
// It is skipped right after a resync, which brings its own DST flag.
func (c *Context) checkDST(dt calendar.DateTime, enabled bool) calendar.DateTime {
	if dt.Minute%c.dstChkInt != 0 {
		c.dstCheckDone = false
		return dt
	}
	if c.dstCheckDone {
		return dt
	}

	c.dstChkInt = c.dstInterval
	if !enabled {
		return dt
	}

	home := c.zones.Home()
	old := c.dst
	isDST, mins := home.IsDST(dt)
	c.dstCheckDone = true

	flag := tz.FlagFor(isDST)
	if flag == old || home.BlockDSTChange(mins, old) {
		return dt
	}

	log.Info().Stringer("from", old).Stringer("to", flag).Msg("dst change detected")
	c.dst = flag

	// From an unknown state only the flag is corrected.
	if old >= tz.DSTOff {
		diff := home.RawDSTDiff()
		if flag == tz.DSTOff {
			diff = -diff
		}
		shifted := calendar.MinutesToDate(addMinutes(dt.Minutes(), diff))
		shifted.Second = dt.Second
		if c.writeReal(shifted) {
			dt = shifted
		}
	}

	c.persist()
	c.notify(Event{Kind: EventDSTChange, Present: c.displayed(dt).String()})
	return dt
}

func addMinutes(m calendar.Minutes, by int) calendar.Minutes {
	if by < 0 && calendar.Minutes(-by) > m {
		return 0
	}
	return calendar.Minutes(int64(m) + int64(by))
}

// updateWorldClock refreshes the world clock rows on every new minute,
// or when a zone changed.
func (c *Context) updateWorldClock(dt calendar.DateTime) {
	defer func() { c.triggerWC = false }()
	if dt.Minute == c.wcLastMin && !c.triggerWC {
		return
	}
	c.wcLastMin = dt.Minute
	if c.deps.Display == nil {
		return
	}
	for slot := tz.HomeSlot + 1; slot < tz.Slots; slot++ {
		wc, ok := c.zones.Convert(dt, c.dst, slot)
		if !ok {
			continue
		}
		c.deps.Display.ShowWorldClock(slot, c.zones.Name(slot), wc)
	}
}
