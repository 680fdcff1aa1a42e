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

import "github.com/ZaparooProject/tcd-core/pkg/calendar"

// DSTFlag is the tri-state DST status of the present time.
type DSTFlag int8

const (
	DSTUnknown DSTFlag = -1
	DSTOff     DSTFlag = 0
	DSTOn      DSTFlag = 1
)

func (f DSTFlag) String() string {
	switch f {
	case DSTOn:
		return "dst"
	case DSTOff:
		return "std"
	default:
		return "unknown"
	}
}

// FlagFor converts a boolean DST state into a flag.
func FlagFor(isDST bool) DSTFlag {
	if isDST {
		return DSTOn
	}
	return DSTOff
}

func yearMinutes(dt calendar.DateTime) int {
	return int(calendar.MinutesSinceYearStart(dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute))
}

// IsDST reports whether local wall time dt lies inside the DST period of
// the parsed year. dt may be standard or daylight time, so a result
// close to the end transition can be ambiguous; see BlockDSTChange. The
// minutes since the start of the year are returned for that check.
func (z *Zone) IsDST(dt calendar.DateTime) (isDST bool, mins int) {
	mins = yearMinutes(dt)
	if z.dstOn < z.dstOff {
		return mins >= z.dstOn && mins < z.dstOff, mins
	}
	return !(mins >= z.dstOff && mins < z.dstOn), mins
}

// BlockDSTChange reports whether a DST change derived from IsDST must
// be ignored: within the repeated hour after falling back to standard
// time, IsDST would switch straight back to DST. An unknown current flag
// blocks as well, since wall time alone cannot tell the two apart.
func (z *Zone) BlockDSTChange(mins int, current DSTFlag) bool {
	return current <= DSTOff &&
		mins < z.dstOff &&
		z.dstOff-mins <= z.diff
}

// LocalToDST takes standard local time dt (usually derived from UTC)
// and returns the wall time, shifted forward when DST is in effect.
// Standard time is unambiguous, so no blocking is needed.
func (z *Zone) LocalToDST(dt calendar.DateTime) (calendar.DateTime, bool) {
	if !z.couldDST {
		return dt, false
	}

	mins := yearMinutes(dt)
	// The end transition is expressed in DST wall time.
	off := z.dstOff - z.diff
	var isDST bool
	if z.dstOn < z.dstOff {
		isDST = mins >= z.dstOn && mins < off
	} else {
		isDST = !(mins >= off && mins < z.dstOn)
	}
	if !isDST {
		return dt, false
	}

	shifted := calendar.MinutesToDate(dt.Minutes() + calendar.Minutes(z.diff))
	shifted.Second = dt.Second
	return shifted, true
}

// FromUTC converts a UTC instant to wall time in this zone, resolving
// the DST rules for the resulting year first.
func (z *Zone) FromUTC(utc calendar.Instant) (calendar.DateTime, bool) {
	local := calendar.MinutesToDate(shift(utc.Minutes, -z.stdOffset))
	local.Second = utc.Second
	// Rules that fail to resolve leave the zone on standard time.
	_ = z.EnsureYear(local.Year)
	return z.LocalToDST(local)
}

// ToUTC converts wall time with a known DST state to UTC minutes.
func (z *Zone) ToUTC(dt calendar.DateTime, isDST bool) calendar.Minutes {
	m := dt.Minutes()
	if isDST {
		m = shift(m, -z.diff)
	}
	return shift(m, z.stdOffset)
}

func shift(m calendar.Minutes, by int) calendar.Minutes {
	if by < 0 && calendar.Minutes(-by) > m {
		return 0
	}
	return calendar.Minutes(int64(m) + int64(by))
}
