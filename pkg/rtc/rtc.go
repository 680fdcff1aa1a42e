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

// Package rtc talks to the battery backed real time clock. The chips
// only count years 2000 to 2099, so every other year is stored as a
// proxy year with the same leap status plus an offset kept elsewhere.
package rtc

import (
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/helpers"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	MinYear = 2000
	MaxYear = 2099

	readAttempts = 30
)

// ErrInvalidTime is returned when asked to store a date or time that
// does not exist.
var ErrInvalidTime = errors.New("rtc: invalid date or time")

// Device is a real time clock chip. Read and Write use the chip's own
// year range; the weekday is 0 for Sunday.
type Device interface {
	Read() (calendar.DateTime, error)
	Write(dt calendar.DateTime, weekday int) error
	// LostPower reports whether the clock stopped since it was last set.
	LostPower() (bool, error)
}

// Plausible reports whether a reading is free of the garbage some chips
// return while their registers update.
func Plausible(dt calendar.DateTime) bool {
	return dt.Month >= 1 && dt.Month <= 12 &&
		dt.Day >= 1 && dt.Day <= calendar.DaysInMonth(dt.Month, dt.Year) &&
		dt.Hour >= 0 && dt.Hour <= 23 &&
		dt.Minute >= 0 && dt.Minute <= 59 &&
		dt.Second >= 0 && dt.Second <= 59
}

var readRetry = helpers.RetryConfig{
	MaxAttempts: readAttempts,
	Delay:       helpers.StepDelay(50*time.Millisecond, 5, 100*time.Millisecond),
}

// ReadPlausible reads dev until it returns a plausible value. When all
// attempts fail, ok is false and dt is the last error free reading, or
// the zero value if every read failed. Neither may be written back.
func ReadPlausible(dev Device, clock clockwork.Clock) (dt calendar.DateTime, ok bool) {
	res := helpers.RetryUntil(clock, readRetry, dev.Read, Plausible)
	switch {
	case !res.OK:
		log.Warn().
			Int("attempts", res.Attempts).
			Str("last", res.Value.String()).
			Msg("rtc: no plausible reading")
	case res.Retries() > 0:
		log.Debug().Msgf("rtc: plausible reading after %d retries", res.Retries())
	}
	return res.Value, res.OK
}

// CorrectYear maps a real year onto a year the chip can store. The
// returned offset is proxy minus real, so real = stored - offset.
// Proxy years are 2000 for leap years and 2001 otherwise, which keeps
// February 29th and the leap day count intact.
func CorrectYear(year int) (proxy, offset int) {
	if year >= MinYear && year <= MaxYear-1 {
		return year, 0
	}
	if calendar.IsLeapYear(year) {
		return 2000, 2000 - year
	}
	return 2001, 2001 - year
}

// WriteReal writes real local time dt to dev, translating the year. It
// returns the year offset now in effect. Dates that do not exist are
// rejected before touching the chip.
func WriteReal(dev Device, dt calendar.DateTime) (offset int, err error) {
	if !dt.Valid() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTime, dt)
	}
	proxy, offset := CorrectYear(dt.Year)
	stored := dt
	stored.Year = proxy
	weekday := calendar.DayOfWeek(dt.Day, dt.Month, dt.Year)
	if err := dev.Write(stored, weekday); err != nil {
		return 0, err
	}
	return offset, nil
}
