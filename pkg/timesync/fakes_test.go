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
	"testing"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/netstate"
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRTC struct {
	writes   []calendar.DateTime
	weekdays []int
	dt       calendar.DateTime
	lost     bool
}

func (r *fakeRTC) Read() (calendar.DateTime, error) {
	return r.dt, nil
}

func (r *fakeRTC) Write(dt calendar.DateTime, weekday int) error {
	r.dt = dt
	r.lost = false
	r.writes = append(r.writes, dt)
	r.weekdays = append(r.weekdays, weekday)
	return nil
}

func (r *fakeRTC) LostPower() (bool, error) {
	return r.lost, nil
}

// deadRTC fails every bus transaction.
type deadRTC struct {
	writes int
}

func (*deadRTC) Read() (calendar.DateTime, error) {
	return calendar.DateTime{}, errors.New("i2c: no ack")
}

func (r *deadRTC) Write(calendar.DateTime, int) error {
	r.writes++
	return errors.New("i2c: no ack")
}

func (*deadRTC) LostPower() (bool, error) {
	return false, errors.New("i2c: no ack")
}

type fakeNTP struct {
	now        calendar.Instant
	polls      int
	timeCalls  int
	configured bool
	have       bool
}

func (n *fakeNTP) Poll() { n.polls++ }

func (n *fakeNTP) Configured() bool { return n.configured }

func (n *fakeNTP) Time() (calendar.Instant, bool) {
	n.timeCalls++
	return n.now, n.have
}

type fakeGPS struct {
	seeded []calendar.DateTime
	utc    calendar.DateTime
	age    int64
	have   bool
	fix    bool
}

func (g *fakeGPS) HaveTime() bool { return g.have }

func (g *fakeGPS) HaveFix() bool { return g.fix }

func (g *fakeGPS) Time() (calendar.DateTime, int64, bool) {
	return g.utc, g.age, g.have
}

func (g *fakeGPS) SetTime(utc calendar.DateTime) error {
	g.seeded = append(g.seeded, utc)
	return nil
}

type fakeNet struct {
	wakes      []time.Duration
	state      netstate.State
	configured bool
	apRetry    bool
}

func (n *fakeNet) StationConfigured() bool { return n.configured }
func (n *fakeNet) State() netstate.State   { return n.state }
func (n *fakeNet) Wake(d time.Duration)    { n.wakes = append(n.wakes, d) }
func (n *fakeNet) APRetry() bool           { return n.apRetry }

type fakeDisplay struct {
	world    map[int]calendar.DateTime
	names    map[int]string
	presents []calendar.DateTime
	dst      tz.DSTFlag
}

func (d *fakeDisplay) ShowPresent(present calendar.DateTime, dst tz.DSTFlag) {
	d.presents = append(d.presents, present)
	d.dst = dst
}

func (d *fakeDisplay) ShowWorldClock(slot int, name string, dt calendar.DateTime) {
	if d.world == nil {
		d.world = map[int]calendar.DateTime{}
		d.names = map[int]string{}
	}
	d.world[slot] = dt
	d.names[slot] = name
}

type fakeNotifier struct {
	events []Event
}

func (n *fakeNotifier) Notify(ev Event) {
	n.events = append(n.events, ev)
}

func (n *fakeNotifier) kinds() []EventKind {
	kinds := make([]EventKind, 0, len(n.events))
	for _, ev := range n.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type flag bool

func (f *flag) Idle() bool    { return bool(*f) }
func (f *flag) Playing() bool { return bool(*f) }

type harness struct {
	ctx     *Context
	clock   *clockwork.FakeClock
	rtc     *fakeRTC
	ntp     *fakeNTP
	gps     *fakeGPS
	net     *fakeNet
	store   *settings.Memory
	display *fakeDisplay
	events  *fakeNotifier
	sleeps  int
}

type setup struct {
	saved   *settings.State
	ntp     *fakeNTP
	gps     *fakeGPS
	net     *fakeNet
	opts    Options
	rtcTime calendar.DateTime
	lost    bool
}

func newHarness(t *testing.T, s setup) *harness {
	t.Helper()

	h := &harness{
		clock:   clockwork.NewFakeClockAt(time.Date(2023, 10, 26, 6, 0, 0, 0, time.UTC)),
		rtc:     &fakeRTC{dt: s.rtcTime, lost: s.lost},
		ntp:     s.ntp,
		gps:     s.gps,
		net:     s.net,
		store:   settings.NewMemory(),
		display: &fakeDisplay{},
		events:  &fakeNotifier{},
	}
	if s.saved != nil {
		require.NoError(t, h.store.Save(*s.saved))
	}

	deps := Deps{
		RTC:      h.rtc,
		Store:    h.store,
		Display:  h.display,
		Notifier: h.events,
		Clock:    h.clock,
		Sleep: func(context.Context, time.Duration) error {
			h.sleeps++
			return nil
		},
	}
	if s.ntp != nil {
		deps.NTP = s.ntp
	}
	if s.gps != nil {
		deps.GPS = s.gps
	}
	if s.net != nil {
		deps.Network = s.net
	}

	h.ctx = New(s.opts, deps)
	require.NoError(t, h.ctx.Boot(context.Background()))
	return h
}

// tickBlocking runs one tick while it waits out RTC read retries on the
// fake clock.
func (h *harness) tickBlocking(t *testing.T, retries int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NotPanics(t, h.ctx.Tick)
	}()
	for range retries {
		require.NoError(t, h.clock.BlockUntilContext(t.Context(), 1))
		h.clock.Advance(100 * time.Millisecond)
	}
	<-done
}

// at sets the RTC reading and runs one tick.
func (h *harness) at(dt calendar.DateTime) {
	h.rtc.dt = dt
	h.ctx.Tick()
}

func date(y, mo, d, h, mi, s int) calendar.DateTime {
	return calendar.DateTime{Year: y, Month: mo, Day: d, Hour: h, Minute: mi, Second: s}
}

func instant(dt calendar.DateTime) calendar.Instant {
	return calendar.Instant{Minutes: dt.Minutes(), Second: dt.Second}
}

func online() *fakeNet {
	return &fakeNet{configured: true, state: netstate.Connected}
}
