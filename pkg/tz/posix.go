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
	"strings"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
)

// The helpers below consume a prefix of s and return what is left. ok
// is false when the prefix is malformed.

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// number parses an optionally signed decimal integer. neg is reported
// separately so "-0" keeps its sign.
func number(s string) (n int, neg bool, rest string, ok bool) {
	if s != "" && (s[0] == '-' || s[0] == '+') {
		neg = s[0] == '-'
		s = s[1:]
	}
	i := 0
	for i < len(s) && isDigit(s[i]) {
		if n < 1_000_000 {
			n = n*10 + int(s[i]-'0')
		}
		i++
	}
	if i == 0 {
		return 0, false, s, false
	}
	if neg {
		n = -n
	}
	return n, neg, s[i:], true
}

// bracketedName skips a quoted "<...>" zone abbreviation.
func bracketedName(s string) (rest string, ok bool) {
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return s, false
	}
	return s[end+1:], true
}

// stdName skips the standard time abbreviation. A comma inside it
// means there is no offset at all.
func stdName(s string) (rest string, ok bool) {
	if s != "" && s[0] == '<' {
		return bracketedName(s)
	}
	for s != "" && s[0] != '-' && !isDigit(s[0]) {
		if s[0] == ',' {
			return s, false
		}
		s = s[1:]
	}
	return s, true
}

// dstName skips the daylight time abbreviation up to its offset or the
// start of the rules.
func dstName(s string) (rest string, ok bool) {
	if s != "" && s[0] == '<' {
		return bracketedName(s)
	}
	for s != "" && s[0] != ',' && s[0] != '-' && !isDigit(s[0]) {
		s = s[1:]
	}
	return s, true
}

func startsOffset(s string) bool {
	return s != "" && (s[0] == '-' || s[0] == '+' || isDigit(s[0]))
}

// offset parses "[+|-]hh[:mm[:ss]]" into minutes. Seconds are accepted
// and dropped.
func offset(s string) (mins int, rest string, ok bool) {
	hours, neg, s, ok := number(s)
	if !ok || hours < -24 || hours > 24 {
		return 0, s, false
	}
	mins = hours * 60
	if s == "" || s[0] != ':' {
		return mins, s, true
	}
	m, mneg, s, ok := number(s[1:])
	if !ok || mneg || m > 59 {
		return 0, s, false
	}
	if neg {
		mins -= m
	} else {
		mins += m
	}
	if s != "" && s[0] == ':' {
		if _, _, r, ok := number(s[1:]); ok {
			s = r
		}
	}
	return mins, s, true
}

// ruleDate is a resolved DST transition in local wall time. Year may
// differ from the year the rule was resolved for when the hour spills
// over a year boundary.
type ruleDate struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
}

func (d ruleDate) sameDay(o ruleDate) bool {
	return d.Month == o.Month && d.Day == o.Day
}

// rule parses one transition rule ("Mm.w.d", "Jn" or "n", with an
// optional "/time") and resolves it for year.
func rule(s string, year int) (d ruleDate, rest string, ok bool) {
	d = ruleDate{Year: year}

	switch {
	case s != "" && s[0] == 'M':
		d.Month, d.Day, s, ok = weekdayRule(s[1:], year)
	case s != "" && s[0] == 'J':
		d.Month, d.Day, s, ok = julianRule(s[1:])
	case s != "" && isDigit(s[0]):
		d.Month, d.Day, s, ok = zeroBasedRule(s, year)
	}
	if !ok {
		return d, s, false
	}

	d.Hour = 2
	if s != "" && s[0] == '/' {
		h, _, r, ok := number(s[1:])
		if !ok || h < -167 || h > 167 {
			return d, r, false
		}
		d.Hour, s = h, r
		if s != "" && s[0] == ':' {
			m, neg, r, ok := number(s[1:])
			if !ok || neg || m > 59 {
				return d, r, false
			}
			d.Minute, s = m, r
			if s != "" && s[0] == ':' {
				_, _, r, ok := number(s[1:])
				if !ok {
					return d, r, false
				}
				s = r
			}
		}
	}

	d.normalize()
	return d, s, true
}

// weekdayRule resolves "m.w.d": day d (0 = Sunday) of week w (5 = last)
// of month m.
func weekdayRule(s string, year int) (month, day int, rest string, ok bool) {
	month, _, s, ok = number(s)
	if !ok || month < 1 || month > 12 {
		return 0, 0, s, false
	}
	if s == "" || s[0] != '.' {
		return 0, 0, s, false
	}
	week, _, s, ok := number(s[1:])
	if !ok || week < 1 || week > 5 {
		return 0, 0, s, false
	}
	if s == "" || s[0] != '.' {
		return 0, 0, s, false
	}
	wday, _, s, ok := number(s[1:])
	if !ok || wday < 0 || wday > 6 {
		return 0, 0, s, false
	}

	first := calendar.DayOfWeek(1, month, year)
	if first == 0 {
		first = 7
	}
	day = wday + 1 - first
	if day < 1 {
		day += 7
	}
	day += 7 * (week - 1)
	if day > calendar.DaysInMonth(month, year) {
		day -= 7
	}
	return month, day, s, true
}

// julianRule resolves "n" in 1..365 never counting February 29th.
func julianRule(s string) (month, day int, rest string, ok bool) {
	n, _, s, ok := number(s)
	if !ok || n < 1 || n > 365 {
		return 0, 0, s, false
	}
	month = 1
	for n > calendar.MonthDaysCommon(month) {
		n -= calendar.MonthDaysCommon(month)
		month++
	}
	return month, n, s, true
}

// zeroBasedRule resolves "n" in 0..365 counting February 29th. Day 365
// only exists in leap years.
func zeroBasedRule(s string, year int) (month, day int, rest string, ok bool) {
	n, _, s, ok := number(s)
	if !ok || n < 0 || n > 365 {
		return 0, 0, s, false
	}
	if n == 365 && !calendar.IsLeapYear(year) {
		return 0, 0, s, false
	}
	n++
	month = 1
	for n > calendar.DaysInMonth(month, year) {
		n -= calendar.DaysInMonth(month, year)
		month++
	}
	return month, n, s, true
}

// normalize carries hours outside 0..23 into days, months and years.
func (d *ruleDate) normalize() {
	switch {
	case d.Hour > 23:
		for d.Hour > 23 {
			d.Day++
			d.Hour -= 24
		}
		for d.Day > calendar.DaysInMonth(d.Month, d.Year) {
			d.Day -= calendar.DaysInMonth(d.Month, d.Year)
			d.Month++
			if d.Month > 12 {
				d.Year++
				d.Month = 1
			}
		}
	case d.Hour < 0:
		for d.Hour < 0 {
			d.Day--
			d.Hour += 24
		}
		for d.Day < 1 {
			d.Month--
			if d.Month < 1 {
				d.Year--
				d.Month = 12
			}
			d.Day += calendar.DaysInMonth(d.Month, d.Year)
		}
	}
}

// ruleForYear resolves a rule for year. If the hour offset pushed the
// transition into a neighbouring year, the rule is resolved again for
// the year on the other side so that a transition falling into year
// can still be found.
func ruleForYear(s string, year int) (d ruleDate, rest string, ok bool) {
	d, rest, ok = rule(s, year)
	if !ok {
		return d, rest, false
	}
	switch {
	case d.Year > year:
		return rule(s, year-1)
	case d.Year < year:
		return rule(s, year+1)
	}
	return d, rest, true
}

// minutesInYear maps a resolved rule onto minutes since January 1st of
// year. Rules that still fall outside year map below or above any
// valid minute.
func (d ruleDate) minutesInYear(year int) int {
	switch {
	case d.Year < year:
		return beforeYear
	case d.Year > year:
		return afterYear
	}
	return int(calendar.MinutesSinceYearStart(year, d.Month, d.Day, d.Hour, d.Minute))
}
