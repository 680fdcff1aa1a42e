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

// Package calendar implements proleptic Gregorian arithmetic over the
// years 0 to 9999, counted in whole minutes since 0000-01-01 00:00.
//
// The time.Time type is deliberately not used here: it cannot represent
// the year 0 the way the displays need it and it carries a location the
// time circuits have to manage themselves.
package calendar

import "fmt"

const (
	MinYear = 0
	MaxYear = 9999

	MinutesPerDay  = 24 * 60
	MinutesPerYear = 365 * MinutesPerDay
	MinutesPerLeap = 366 * MinutesPerDay
)

// Minutes is a linear count of minutes since 0000-01-01 00:00.
type Minutes uint64

// DateTime is a civil date and time without a zone.
type DateTime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

func (dt DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute, dt.Second)
}

// Valid reports whether all fields are in range for the calendar.
func (dt DateTime) Valid() bool {
	if dt.Year < MinYear || dt.Year > MaxYear {
		return false
	}
	if dt.Month < 1 || dt.Month > 12 {
		return false
	}
	if dt.Day < 1 || dt.Day > DaysInMonth(dt.Month, dt.Year) {
		return false
	}
	return dt.Hour >= 0 && dt.Hour <= 23 &&
		dt.Minute >= 0 && dt.Minute <= 59 &&
		dt.Second >= 0 && dt.Second <= 59
}

// Minutes converts dt to linear minutes. Seconds are dropped.
func (dt DateTime) Minutes() Minutes {
	return DateToMinutes(dt.Year, dt.Month, dt.Day, dt.Hour, dt.Minute)
}

// Instant is a point in time with second resolution.
type Instant struct {
	Minutes Minutes
	Second  int
}

// DateTime converts the instant back to civil fields.
func (i Instant) DateTime() DateTime {
	dt := MinutesToDate(i.Minutes)
	dt.Second = i.Second
	return dt
}

// AddSeconds returns the instant moved forward by secs, which may be
// negative. Results before the epoch clamp to the epoch.
func (i Instant) AddSeconds(secs int64) Instant {
	total := int64(i.Minutes)*60 + int64(i.Second) + secs
	if total < 0 {
		return Instant{}
	}
	return Instant{Minutes: Minutes(total / 60), Second: int(total % 60)}
}

var monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// daysBeforeMonth holds the day of year each month starts on, for
// common and leap years.
var daysBeforeMonth = [2][13]int{
	{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365},
	{0, 31, 60, 91, 121, 152, 182, 213, 244, 274, 305, 335, 366},
}

// blockMinutes holds the minute offset of every 500 year block start.
var blockMinutes = [20]Minutes{
	0, 262975680, 525949920, 788924160, 1051898400,
	1314874080, 1577848320, 1840822560, 2103796800, 2366772480,
	2629746720, 2892720960, 3155695200, 3418670880, 3681645120,
	3944619360, 4207593600, 4470569280, 4733543520, 4996517760,
}

const blockYears = 500

func IsLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

func leapIndex(year int) int {
	if IsLeapYear(year) {
		return 1
	}
	return 0
}

func validMonth(month int) bool {
	return month >= 1 && month <= 12
}

// DaysInMonth returns the number of days of month (1-12) in year, or 0
// for a month out of range.
func DaysInMonth(month, year int) int {
	if !validMonth(month) {
		return 0
	}
	if month == 2 && IsLeapYear(year) {
		return 29
	}
	return monthDays[month-1]
}

// MonthDaysCommon returns the days of month (1-12) in a non-leap year,
// or 0 for a month out of range.
func MonthDaysCommon(month int) int {
	if !validMonth(month) {
		return 0
	}
	return monthDays[month-1]
}

func yearMinutes(year int) Minutes {
	if IsLeapYear(year) {
		return MinutesPerLeap
	}
	return MinutesPerYear
}

// DateToMinutes converts a civil date and time to linear minutes.
func DateToMinutes(year, month, day, hour, minute int) Minutes {
	block := year / blockYears
	if block >= len(blockMinutes) {
		block = len(blockMinutes) - 1
	}
	total := blockMinutes[block]
	for y := block * blockYears; y < year; y++ {
		total += yearMinutes(y)
	}
	total += MinutesSinceYearStart(year, month, day, hour, minute)
	return total
}

// MinutesToDate converts linear minutes back to a civil date and time.
// The Second field of the result is zero.
func MinutesToDate(total Minutes) DateTime {
	block := len(blockMinutes) - 1
	for block > 0 && total <= blockMinutes[block] {
		block--
	}
	total -= blockMinutes[block]

	year := block * blockYears
	for {
		ym := yearMinutes(year)
		if total < ym {
			break
		}
		total -= ym
		year++
	}

	month := 1
	for month < 12 {
		mm := Minutes(DaysInMonth(month, year)) * MinutesPerDay
		if total < mm {
			break
		}
		total -= mm
		month++
	}

	day := int(total/MinutesPerDay) + 1
	total %= MinutesPerDay

	return DateTime{
		Year:   year,
		Month:  month,
		Day:    day,
		Hour:   int(total / 60),
		Minute: int(total % 60),
	}
}

// MinutesSinceYearStart returns the minutes elapsed since January 1st
// 00:00 of year. A month out of range counts as January.
func MinutesSinceYearStart(year, month, day, hour, minute int) Minutes {
	if !validMonth(month) {
		month = 1
	}
	days := daysBeforeMonth[leapIndex(year)][month-1] + day - 1
	return Minutes(((days*24)+hour)*60 + minute)
}

var dowOffsets = [12]int{0, 3, 2, 5, 0, 3, 5, 1, 4, 6, 2, 4}

// DayOfWeek returns 0 for Sunday through 6 for Saturday, or -1 for a
// month out of range.
func DayOfWeek(day, month, year int) int {
	if !validMonth(month) {
		return -1
	}
	if year == 0 {
		// Jan 1st of year 0 is a Saturday.
		return (daysBeforeMonth[1][month-1] + day + 5) % 7
	}
	if month < 3 {
		year--
	}
	return (year + year/4 - year/100 + year/400 + dowOffsets[month-1] + day) % 7
}
