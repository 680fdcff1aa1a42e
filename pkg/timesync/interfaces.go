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
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
)

// NTPSource is a polled SNTP client.
type NTPSource interface {
	Poll()
	Configured() bool
	// Time returns the current UTC time if a fresh stamp is available.
	Time() (calendar.Instant, bool)
}

// GPSSource is a GPS receiver with its own notion of UTC.
type GPSSource interface {
	HaveTime() bool
	// HaveFix reports whether the receiver has a position fix.
	HaveFix() bool
	// Time returns the last UTC stamp and its age in milliseconds.
	Time() (utc calendar.DateTime, ageMillis int64, ok bool)
	// SetTime seeds the receiver's clock.
	SetTime(utc calendar.DateTime) error
}

// Network is the station connection NTP runs over.
type Network interface {
	StationConfigured() bool
	State() netstate.State
	// Wake asks for the station connection to be brought up and kept up
	// for at least d. It must not block.
	Wake(d time.Duration)
	// APRetry reports whether leaving AP mode to retry the station is
	// currently allowed.
	APRetry() bool
}

// StateStore persists the present time state.
type StateStore interface {
	Load() (settings.State, error)
	Save(st settings.State) error
	SaveYearOffset(offset int, dst tz.DSTFlag) error
}

// Display shows the present time and the world clock rows.
type Display interface {
	ShowPresent(present calendar.DateTime, dst tz.DSTFlag)
	ShowWorldClock(slot int, name string, dt calendar.DateTime)
}

type InputMonitor interface {
	// Idle reports whether no key was pressed for a while.
	Idle() bool
}

type AudioMonitor interface {
	Playing() bool
}

type Notifier interface {
	Notify(ev Event)
}

type EventKind string

const (
	EventResync       EventKind = "resync"
	EventDSTChange    EventKind = "dst_change"
	EventYearRollover EventKind = "year_rollover"
	EventZoneInvalid  EventKind = "zone_invalid"
)

// Event reports a change of the present time state.
type Event struct {
	Kind    EventKind `json:"event"`
	Source  string    `json:"source,omitempty"`
	Present string    `json:"present"`
	DST     string    `json:"dst"`
	Zone    string    `json:"zone,omitempty"`
	Year    int       `json:"year,omitempty"`
	Slot    int       `json:"slot,omitempty"`
}
