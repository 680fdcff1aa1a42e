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

package service

import (
	"context"
	"fmt"

	"github.com/ZaparooProject/tcd-core/pkg/api"
	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/timesync"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/ZaparooProject/tcd-core/pkg/zonehint"
)

// do runs fn on the loop goroutine and waits for it.
func (s *Service) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.cmds <- wrapped:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("core request: %w", ctx.Err())
	}
	select {
	case <-done:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return fmt.Errorf("core request: %w", ctx.Err())
	}
}

// post queues fn for the loop goroutine without waiting for it.
func (s *Service) post(ctx context.Context, fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.stopped:
	case <-ctx.Done():
	}
}

func (s *Service) Status(ctx context.Context) (timesync.Status, error) {
	var st timesync.Status
	err := s.do(ctx, func() { st = s.core.Status() })
	return st, err
}

func (s *Service) Resync(ctx context.Context) error {
	return s.do(ctx, s.core.TriggerResync)
}

func (s *Service) Zones(ctx context.Context) ([]api.ZoneInfo, error) {
	var zones []api.ZoneInfo
	err := s.do(ctx, func() {
		set := s.core.Zones()
		for slot := range tz.Slots {
			z := set.Zone(slot)
			zones = append(zones, api.ZoneInfo{
				Slot:       slot,
				Definition: z.Definition(),
				Name:       set.Name(slot),
				Validity:   z.Validity().String(),
				UTCOffset:  z.UTCOffset(),
				HasDST:     z.HasDSTRules(),
				WorldClock: set.WorldClock(slot),
			})
		}
	})
	return zones, err
}

// ZoneTime returns the present wall time of slot. The home slot always
// has a time, other slots only with a usable zone.
func (s *Service) ZoneTime(ctx context.Context, slot int) (calendar.DateTime, bool, error) {
	var (
		dt calendar.DateTime
		ok bool
	)
	err := s.do(ctx, func() {
		if slot == tz.HomeSlot {
			dt, ok = s.core.RealLocalDateTime(), true
			return
		}
		dt, ok = s.core.ConvertToZone(slot)
	})
	return dt, ok, err
}

// SetZone stores the zone in the config file and installs it. An
// unusable zone is kept, its error is returned after saving.
func (s *Service) SetZone(ctx context.Context, slot int, def, name string) error {
	if err := s.cfg.SetZone(slot, def); err != nil {
		return err
	}
	if err := s.cfg.SetZoneName(slot, name); err != nil {
		return err
	}
	if err := s.cfg.Save(); err != nil {
		return fmt.Errorf("failed to save zone: %w", err)
	}

	var zoneErr error
	err := s.do(ctx, func() {
		zoneErr = s.core.SetTimeZone(slot, def)
		s.core.SetZoneName(slot, name)
	})
	if err != nil {
		return err
	}
	return zoneErr
}

// TimeTravel starts a travel to dest, or to the last destination when
// dest is nil.
func (s *Service) TimeTravel(ctx context.Context, dest *calendar.DateTime) error {
	var travelErr error
	err := s.do(ctx, func() {
		if dest != nil {
			s.dest = *dest
		}
		travelErr = s.travel.Start(s.dest)
	})
	if err != nil {
		return err
	}
	return travelErr
}

func (s *Service) ReturnToPresent(ctx context.Context) error {
	var travelErr error
	err := s.do(ctx, func() {
		s.returning = true
		travelErr = s.travel.Return()
		if travelErr != nil {
			s.returning = false
		}
	})
	if err != nil {
		return err
	}
	return travelErr
}

func (s *Service) ZoneHint() (zonehint.Hint, bool) {
	s.hintMu.RLock()
	defer s.hintMu.RUnlock()
	return s.hint, s.haveHint
}
