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

package tz

import (
	"fmt"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
)

const (
	// HomeSlot is the zone of the present time.
	HomeSlot = 0
	// Slots is the number of zones: home plus two world clock zones.
	Slots = 3
)

// Set holds the home zone and the world clock zones.
type Set struct {
	zones [Slots]*Zone
	names [Slots]string
}

func NewSet() *Set {
	s := &Set{}
	for i := range s.zones {
		s.zones[i] = New("")
	}
	return s
}

// Zone returns the zone in slot. It panics on an out of range slot like
// any slice access would.
func (s *Set) Zone(slot int) *Zone {
	return s.zones[slot]
}

func (s *Set) Home() *Zone {
	return s.zones[HomeSlot]
}

func (s *Set) Name(slot int) string {
	return s.names[slot]
}

func (s *Set) SetName(slot int, name string) {
	s.names[slot] = name
}

// Replace installs a new definition in slot and parses it for year. The
// new zone is installed even when invalid, so that it reports as such.
func (s *Set) Replace(slot int, def string, year int) error {
	if slot < 0 || slot >= Slots {
		return fmt.Errorf("time zone slot %d out of range", slot)
	}
	z := New(def)
	s.zones[slot] = z
	return z.Parse(year, true)
}

// WorldClock reports whether slot holds a usable non-empty zone.
func (s *Set) WorldClock(slot int) bool {
	if slot <= HomeSlot || slot >= Slots {
		return false
	}
	z := s.zones[slot]
	return !z.Empty() && z.Validity() == Valid
}

// Convert translates the home wall time present, whose DST state is
// dst, into wall time of slot. ok is false if slot has no usable zone.
func (s *Set) Convert(present calendar.DateTime, dst DSTFlag, slot int) (calendar.DateTime, bool) {
	if !s.WorldClock(slot) {
		return calendar.DateTime{}, false
	}
	home := s.Home()
	utc := calendar.Instant{
		Minutes: home.ToUTC(present, dst == DSTOn),
		Second:  present.Second,
	}
	local, _ := s.zones[slot].FromUTC(utc)
	return local, true
}
