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

// Package timesync keeps the present time: it reads the RTC, decides
// when to resync from NTP or GPS, tracks the DST state and the RTC year
// translation, and applies the time travel offset.
//
// A Context is not safe for concurrent use. Boot, Tick, Poll and every
// other method must be called from the same goroutine.
package timesync

import (
	"context"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/netstate"
	"github.com/ZaparooProject/tcd-core/pkg/rtc"
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	defaultResyncInterval = 5
	bootResyncInterval    = 2
	defaultDSTInterval    = 5
	authLifetime          = 7 * 24 * time.Hour
	shortResyncPeriod     = 5 * time.Minute
)

// Options are the user settings the core works with.
type Options struct {
	Zones     [tz.Slots]string
	ZoneNames [tz.Slots]string
	// DSTCheckInterval is the minute interval of the local DST check,
	// 1 or 5. Zero means 5.
	DSTCheckInterval int
	// TimeTravelPersistent keeps the time travel offset across reboots.
	TimeTravelPersistent bool
}

// Deps are the collaborators of a Context. RTC and Store are required,
// everything else may be nil.
type Deps struct {
	RTC      rtc.Device
	Store    StateStore
	NTP      NTPSource
	GPS      GPSSource
	Network  Network
	Input    InputMonitor
	Audio    AudioMonitor
	Display  Display
	Notifier Notifier
	Clock    clockwork.Clock
	// Sleep pauses boot while waiting for NTP or GPS. Defaults to the
	// clock.
	Sleep func(ctx context.Context, d time.Duration) error
}

type authState struct {
	last    time.Time
	have    bool
	expired bool
}

type Context struct {
	deps  Deps
	opts  Options
	zones *tz.Set

	bootTime time.Time
	auth     authState
	saved    settings.State

	offset     calendar.Offset
	present    calendar.DateTime
	stored     calendar.DateTime
	storedAt   time.Time
	yearOffset int
	lastYear   int
	dst        tz.DSTFlag

	resyncInt   int
	dstChkInt   int
	dstInterval int
	wcLastMin   int
	lastSecond  int

	couldHaveAuth bool
	autoReadjust  bool
	syncTrigger   bool
	dstCheckDone  bool
	triggerWC     bool
	inTravel      bool
}

func New(opts Options, deps Deps) *Context {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Sleep == nil {
		clock := deps.Clock
		deps.Sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(d):
				return nil
			}
		}
	}
	interval := opts.DSTCheckInterval
	if interval != 1 && interval != defaultDSTInterval {
		interval = defaultDSTInterval
	}
	c := &Context{
		deps:        deps,
		opts:        opts,
		zones:       tz.NewSet(),
		dst:         tz.DSTUnknown,
		resyncInt:   defaultResyncInterval,
		dstChkInt:   interval,
		dstInterval: interval,
		wcLastMin:   -1,
		lastSecond:  -1,
	}
	for slot, name := range opts.ZoneNames {
		c.zones.SetName(slot, name)
	}
	return c
}

// CurrentLocalDateTime returns the displayed present time: real local
// time with the time travel offset applied.
func (c *Context) CurrentLocalDateTime() calendar.DateTime {
	return c.displayed(c.present)
}

func (c *Context) displayed(dt calendar.DateTime) calendar.DateTime {
	if c.offset.IsZero() {
		return dt
	}
	shifted := calendar.MinutesToDate(c.offset.Apply(dt.Minutes()))
	shifted.Second = dt.Second
	return shifted
}

// RealLocalDateTime returns local time without the time travel offset.
func (c *Context) RealLocalDateTime() calendar.DateTime {
	return c.present
}

func (c *Context) DSTFlag() tz.DSTFlag {
	return c.dst
}

func (c *Context) YearOffset() int {
	return c.yearOffset
}

func (c *Context) Offset() calendar.Offset {
	return c.offset
}

// TriggerResync asks for a resync at the next opportunity.
func (c *Context) TriggerResync() {
	c.syncTrigger = true
}

func (c *Context) Zones() *tz.Set {
	return c.zones
}

// SetTimeZone installs def in slot. The zone is kept even when invalid,
// which disables the world clock for that slot.
func (c *Context) SetTimeZone(slot int, def string) error {
	year := c.present.Year
	if year == 0 {
		year = 2023
	}
	err := c.zones.Replace(slot, def, year)
	if err != nil {
		log.Warn().Err(err).Int("slot", slot).Msg("time zone not usable")
		c.notify(Event{Kind: EventZoneInvalid, Slot: slot, Zone: def})
	}
	if slot == tz.HomeSlot {
		// New rules: check DST right away and resync soon.
		c.dstChkInt = 1
		c.dstCheckDone = false
		c.syncTrigger = true
	}
	c.triggerWC = true
	return err
}

func (c *Context) SetZoneName(slot int, name string) {
	if slot < 0 || slot >= tz.Slots {
		return
	}
	c.zones.SetName(slot, name)
	c.triggerWC = true
}

// ConvertToZone returns the real present time as wall time of slot.
func (c *Context) ConvertToZone(slot int) (calendar.DateTime, bool) {
	return c.zones.Convert(c.present, c.dst, slot)
}

// WiFiOnWillBlock reports whether bringing up the station connection
// now would take long enough to freeze the displays.
func (c *Context) WiFiOnWillBlock() bool {
	n := c.deps.Network
	if n == nil {
		return false
	}
	switch n.State() {
	case netstate.Connected:
		return false
	case netstate.APMode:
		return n.StationConfigured()
	default:
		return true
	}
}

func (c *Context) haveAuth() bool {
	return c.auth.have
}

// AuthExpired reports whether no authoritative time was obtained in the
// last seven days, or never.
func (c *Context) AuthExpired() bool {
	return c.auth.expired
}

func (c *Context) updateAuthExpiry() {
	if !c.auth.have || c.deps.Clock.Since(c.auth.last) >= authLifetime {
		c.auth.expired = true
	}
}

func (c *Context) markAuth() {
	c.auth = authState{have: true, last: c.deps.Clock.Now()}
}

// OnTimeTravelStart pauses resyncing while a time travel is shown.
func (c *Context) OnTimeTravelStart() {
	c.inTravel = true
}

func (c *Context) OnTimeTravelEnd() {
	c.inTravel = false
}

func (c *Context) InTravel() bool {
	return c.inTravel
}

// ApplyTravel makes dest the displayed present time.
func (c *Context) ApplyTravel(dest calendar.DateTime) {
	c.offset = calendar.OffsetBetween(c.present.Minutes(), dest.Minutes())
	log.Info().
		Str("dest", dest.String()).
		Uint64("minutes", uint64(c.offset.Minutes)).
		Bool("forward", c.offset.Forward).
		Msg("time travel offset applied")
	c.saveTravel()
}

// ReturnToPresent clears the time travel offset.
func (c *Context) ReturnToPresent() {
	if c.offset.IsZero() {
		return
	}
	c.offset = calendar.Offset{}
	log.Info().Msg("returned to present")
	c.saveTravel()
}

func (c *Context) saveTravel() {
	if c.opts.TimeTravelPersistent {
		c.saveState()
	}
	c.showPresent()
}

// Status is a snapshot for the outer surfaces.
type Status struct {
	LastAuth        time.Time
	Present         calendar.DateTime
	Real            calendar.DateTime
	Offset          calendar.Offset
	YearOffset      int
	DST             tz.DSTFlag
	HaveAuth        bool
	AuthExpired     bool
	InTravel        bool
	WiFiOnWillBlock bool
	GPSFix          bool
}

func (c *Context) Status() Status {
	return Status{
		Present:         c.CurrentLocalDateTime(),
		Real:            c.present,
		DST:             c.dst,
		YearOffset:      c.yearOffset,
		Offset:          c.offset,
		HaveAuth:        c.auth.have,
		AuthExpired:     c.auth.expired,
		LastAuth:        c.auth.last,
		InTravel:        c.inTravel,
		WiFiOnWillBlock: c.WiFiOnWillBlock(),
		GPSFix:          c.deps.GPS != nil && c.deps.GPS.HaveFix(),
	}
}

func (c *Context) snapshot() settings.State {
	st := settings.State{
		LastYear:   c.lastYear,
		DST:        c.dst,
		YearOffset: c.yearOffset,
	}
	if c.opts.TimeTravelPersistent {
		st.Offset = c.offset
	}
	return st
}

// saveState writes the full state.
func (c *Context) saveState() {
	st := c.snapshot()
	if err := c.deps.Store.Save(st); err != nil {
		log.Error().Err(err).Msg("failed to save present time state")
		return
	}
	c.saved = st
}

// persist saves the year offset and DST flag, and the whole state when
// time travels are persistent.
func (c *Context) persist() {
	if c.opts.TimeTravelPersistent {
		c.saveState()
		return
	}
	if err := c.deps.Store.SaveYearOffset(c.yearOffset, c.dst); err != nil {
		log.Error().Err(err).Msg("failed to save year offset")
		return
	}
	c.saved.YearOffset = c.yearOffset
	c.saved.DST = c.dst
}

func (c *Context) notify(ev Event) {
	if c.deps.Notifier == nil {
		return
	}
	if ev.Present == "" {
		ev.Present = c.CurrentLocalDateTime().String()
	}
	ev.DST = c.dst.String()
	c.deps.Notifier.Notify(ev)
}

func (c *Context) showPresent() {
	if c.deps.Display != nil {
		c.deps.Display.ShowPresent(c.CurrentLocalDateTime(), c.dst)
	}
}
