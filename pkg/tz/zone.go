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

// Package tz parses POSIX TZ strings ("CST6CDT,M3.2.0,M11.1.0") and
// evaluates their daylight saving rules for a given year.
//
// Offsets follow the POSIX sign convention: positive values are west of
// UTC, so local time = UTC - offset.
package tz

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidZone = errors.New("invalid time zone")
	ErrInvalidDST  = errors.New("invalid daylight saving rules")
)

const (
	beforeYear = -1
	afterYear  = 600000
)

// Validity is the result of checking the offset part of a zone.
type Validity int8

const (
	Unknown Validity = iota
	Valid
	Invalid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type dstState int8

const (
	dstUnknown dstState = iota
	dstRules
	dstNone
)

// Zone is one parsed time zone definition. The offset part is parsed
// once and cached; the DST rules are resolved per year.
type Zone struct {
	def      string
	rules    string
	validity Validity
	parsed   bool
	dst      dstState
	// dstRetry is set when the rules failed to resolve for forYear
	// only, so a different year may try again.
	dstRetry bool

	stdOffset int
	dstOffset int
	diff      int
	forYear   int
	couldDST  bool
	dstOn     int
	dstOff    int
}

// New returns an unparsed zone for def.
func New(def string) *Zone {
	return &Zone{
		def:    strings.TrimSpace(def),
		dstOn:  beforeYear,
		dstOff: afterYear,
	}
}

func (z *Zone) Definition() string  { return z.def }
func (z *Zone) Validity() Validity  { return z.validity }
func (z *Zone) Empty() bool         { return z.def == "" }
func (z *Zone) ForYear() int        { return z.forYear }
func (z *Zone) HasDSTRules() bool   { return z.dst == dstRules }
func (z *Zone) CouldDST() bool      { return z.couldDST }
func (z *Zone) RawDSTDiff() int     { return z.diff }
func (z *Zone) UTCOffset() int      { return z.stdOffset }
func (z *Zone) UTCOffsetDST() int   { return z.dstOffset }
func (z *Zone) Transitions() (on, off int) {
	return z.dstOn, z.dstOff
}

// Usable reports whether the zone can be used for conversions.
func (z *Zone) Usable() bool {
	return z.Empty() || z.validity == Valid
}

// DSTDiff returns the minutes DST is ahead of standard time, or 0 if
// DST does not apply in the parsed year.
func (z *Zone) DSTDiff() int {
	if z.couldDST {
		return z.diff
	}
	return 0
}

// NeedsYear reports whether the DST rules have to be resolved again
// for year.
func (z *Zone) NeedsYear(year int) bool {
	if z.forYear == year {
		return false
	}
	return z.dst != dstNone || z.dstRetry
}

// EnsureYear re-resolves the DST rules if they were resolved for a
// different year.
func (z *Zone) EnsureYear(year int) error {
	if !z.NeedsYear(year) {
		return nil
	}
	return z.Parse(year, true)
}

// Parse validates the definition and, when withDST is set, resolves the
// DST transitions for year. An invalid offset part is permanent for the
// definition. An invalid DST part makes the zone behave as if it had no
// DST until a different year is requested.
func (z *Zone) Parse(year int, withDST bool) error {
	prevYear := z.forYear
	z.couldDST = false
	z.forYear = 0
	if !z.parsed {
		z.stdOffset, z.dstOffset = 0, 0
	}

	if z.def == "" {
		z.dst = dstNone
		return nil
	}

	if z.validity != Valid {
		if z.validity == Invalid {
			return fmt.Errorf("%w: %q", ErrInvalidZone, z.def)
		}
		z.validity = Invalid
		if strings.Count(z.def, "<") != strings.Count(z.def, ">") {
			return fmt.Errorf("%w: unbalanced brackets in %q", ErrInvalidZone, z.def)
		}
	}

	if !z.parsed {
		if err := z.parseOffsets(); err != nil {
			return err
		}
		z.parsed = true
		z.validity = Valid
	}

	if z.dstRetry && withDST {
		if year == prevYear {
			z.forYear = prevYear
			return nil
		}
		z.dst = dstUnknown
		z.dstRetry = false
	}
	if z.dst == dstNone || !withDST {
		return nil
	}

	s := z.rules
	if s == "" || s[0] != ',' {
		z.dst = dstNone
		return nil
	}

	z.forYear = year
	z.dst = dstNone

	on, s, ok := ruleForYear(s[1:], year)
	if !ok {
		z.dstRetry = true
		return fmt.Errorf("%w: bad start rule in %q", ErrInvalidDST, z.def)
	}
	if s == "" || s[0] != ',' {
		z.dstRetry = true
		return fmt.Errorf("%w: missing end rule in %q", ErrInvalidDST, z.def)
	}
	off, _, ok := ruleForYear(s[1:], year)
	if !ok {
		z.dstRetry = true
		return fmt.Errorf("%w: bad end rule in %q", ErrInvalidDST, z.def)
	}

	z.dst = dstRules
	if on.sameDay(off) {
		return nil
	}
	z.couldDST = true
	z.dstOn = on.minutesInYear(year)
	z.dstOff = off.minutesInYear(year)
	return nil
}

func (z *Zone) parseOffsets() error {
	s, ok := stdName(z.def)
	if !ok || !startsOffset(s) {
		return fmt.Errorf("%w: missing UTC offset in %q", ErrInvalidZone, z.def)
	}
	std, s, ok := offset(s)
	if !ok {
		return fmt.Errorf("%w: bad UTC offset in %q", ErrInvalidZone, z.def)
	}

	s, ok = dstName(s)
	if !ok {
		return fmt.Errorf("%w: bad DST name in %q", ErrInvalidZone, z.def)
	}

	diff := 60
	switch {
	case s == "":
		diff = 0
	case startsOffset(s):
		dst, r, ok := offset(s)
		if !ok {
			return fmt.Errorf("%w: bad DST offset in %q", ErrInvalidZone, z.def)
		}
		s = r
		diff = dst - std
		if diff < 0 {
			diff = -diff
		}
	}

	z.stdOffset = std
	z.diff = diff
	z.dstOffset = std - diff
	z.rules = s
	return nil
}
