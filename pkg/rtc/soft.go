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

package rtc

import (
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/helpers"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
)

const DriverSoft = "soft"

// Soft emulates a clock chip on top of the host clock, for machines
// without one. It starts from the host's local time.
type Soft struct {
	clock clockwork.Clock
	base  time.Time
	setAt time.Time
	mu    syncutil.Mutex
	lost  bool
}

func NewSoft(clock clockwork.Clock, loc *time.Location) *Soft {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if loc == nil {
		loc = time.Local
	}
	now := clock.Now()
	local := now.In(loc)
	return &Soft{
		clock: clock,
		base: time.Date(local.Year(), local.Month(), local.Day(),
			local.Hour(), local.Minute(), local.Second(), 0, time.UTC),
		setAt: now,
		lost:  !helpers.IsYearReliable(local.Year()) || local.Year() > MaxYear,
	}
}

func (s *Soft) Read() (calendar.DateTime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.base.Add(s.clock.Since(s.setAt))
	if t.Year() > MaxYear {
		t = t.AddDate(-100, 0, 0)
	}
	return calendar.DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}, nil
}

func (s *Soft) Write(dt calendar.DateTime, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = time.Date(dt.Year, time.Month(dt.Month), dt.Day,
		dt.Hour, dt.Minute, dt.Second, 0, time.UTC)
	s.setAt = s.clock.Now()
	s.lost = false
	return nil
}

func (s *Soft) LostPower() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost, nil
}
