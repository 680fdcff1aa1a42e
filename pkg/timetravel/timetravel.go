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

// Package timetravel sequences the time travel animation. The sequence
// is a small state machine advanced by Tick; the present time itself is
// owned by the time core, which is told when a travel starts, lands and
// ends.
package timetravel

import (
	"errors"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var ErrBusy = errors.New("time travel already in progress")

type Phase int

const (
	Idle Phase = iota
	// Accel counts the speedo up to 88.
	Accel
	// Disruption flickers and blanks the displays, in steps 1 to 5.
	Disruption
	// Reentry keeps the displays off after landing.
	Reentry
	// Decel counts the speedo back down.
	Decel
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Accel:
		return "accel"
	case Disruption:
		return "disruption"
	case Reentry:
		return "reentry"
	case Decel:
		return "decel"
	default:
		return "unknown"
	}
}

const (
	TargetSpeed = 88

	reentryDelay    = 1500 * time.Millisecond
	accelLeadIn     = 2000 * time.Millisecond
	decelLeadIn     = 2000 * time.Millisecond
	decelStep       = 40 * time.Millisecond
	decelHoldAtZero = 4000 * time.Millisecond
)

// disruptionSteps are the durations of the display disruption steps:
// normal, light flicker, off, random display I and II.
var disruptionSteps = [...]time.Duration{
	1400 * time.Millisecond,
	2800 * time.Millisecond,
	1600 * time.Millisecond,
	1000 * time.Millisecond,
	1200 * time.Millisecond,
}

// accelDelay is the time the speedo stays on speed before counting up.
// Higher speeds take longer, like a car running out of torque.
func accelDelay(speed int) time.Duration {
	var ms int
	switch {
	case speed < 20:
		ms = 80
	case speed < 30:
		ms = 110
	case speed < 40:
		ms = 130
	case speed < 50:
		ms = 190
	case speed < 60:
		ms = 240
	case speed < 70:
		ms = 270
	case speed < 80:
		ms = 380
	default:
		ms = 410
	}
	return time.Duration(ms) * time.Millisecond
}

// State is the tagged state of the sequence. Step is only meaningful in
// Disruption, Speed only in Accel and Decel.
type State struct {
	Phase Phase
	Step  int
	Speed int
}

// Core is the time keeping side of a travel.
type Core interface {
	OnTimeTravelStart()
	OnTimeTravelEnd()
	ApplyTravel(dest calendar.DateTime)
	ReturnToPresent()
}

// Options tune a Sequencer.
type Options struct {
	// OnPhase is called on every state change, for displays and sounds.
	OnPhase func(State)
	// Speedo enables the acceleration and deceleration phases.
	Speedo bool
}

type Sequencer struct {
	clock clockwork.Clock
	core  Core
	opts  Options

	dest  calendar.DateTime
	due   time.Time
	state State
}

func New(core Core, opts Options, clock clockwork.Clock) *Sequencer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sequencer{core: core, opts: opts, clock: clock}
}

func (s *Sequencer) State() State {
	return s.state
}

func (s *Sequencer) Active() bool {
	return s.state.Phase != Idle
}

// Start begins a complete travel to dest.
func (s *Sequencer) Start(dest calendar.DateTime) error {
	if s.Active() {
		return ErrBusy
	}
	s.dest = dest
	s.core.OnTimeTravelStart()
	log.Info().Str("dest", dest.String()).Msg("time travel started")

	now := s.clock.Now()
	if s.opts.Speedo {
		s.enter(State{Phase: Accel}, now.Add(accelLeadIn))
		return nil
	}
	s.enter(State{Phase: Disruption, Step: 1}, now.Add(disruptionSteps[0]))
	return nil
}

// Return travels back to the present. It skips the departure phases.
func (s *Sequencer) Return() error {
	if s.Active() {
		return ErrBusy
	}
	s.core.OnTimeTravelStart()
	s.core.ReturnToPresent()
	s.enter(State{Phase: Reentry}, s.clock.Now().Add(reentryDelay))
	return nil
}

// Tick advances the sequence. Missed deadlines are caught up in order so
// a late call never skips the landing.
func (s *Sequencer) Tick() {
	now := s.clock.Now()
	for s.Active() && !now.Before(s.due) {
		s.advance()
	}
}

func (s *Sequencer) enter(st State, due time.Time) {
	s.state = st
	s.due = due
	if s.opts.OnPhase != nil {
		s.opts.OnPhase(st)
	}
}

// advance runs one transition. Deadlines chain off the previous one, not
// off the current time.
func (s *Sequencer) advance() {
	st := s.state
	switch st.Phase {
	case Accel:
		st.Speed++
		if st.Speed >= TargetSpeed {
			s.enter(State{Phase: Disruption, Step: 1, Speed: TargetSpeed}, s.due.Add(disruptionSteps[0]))
			return
		}
		s.enter(st, s.due.Add(accelDelay(st.Speed)))
	case Disruption:
		if st.Step < len(disruptionSteps) {
			st.Step++
			s.enter(st, s.due.Add(disruptionSteps[st.Step-1]))
			return
		}
		s.land()
	case Reentry:
		if s.opts.Speedo && st.Speed > 0 {
			s.enter(State{Phase: Decel, Speed: st.Speed}, s.due.Add(decelLeadIn))
			return
		}
		s.finish()
	case Decel:
		if st.Speed == 0 {
			s.finish()
			return
		}
		st.Speed--
		delay := decelStep
		if st.Speed == 0 {
			delay = decelHoldAtZero
		}
		s.enter(st, s.due.Add(delay))
	case Idle:
	}
}

func (s *Sequencer) land() {
	s.core.ApplyTravel(s.dest)
	log.Info().Str("dest", s.dest.String()).Msg("time travel landed")
	s.enter(State{Phase: Reentry, Speed: s.state.Speed}, s.due.Add(reentryDelay))
}

func (s *Sequencer) finish() {
	s.enter(State{Phase: Idle}, time.Time{})
	s.core.OnTimeTravelEnd()
	log.Debug().Msg("time travel sequence finished")
}
