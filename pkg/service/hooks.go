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
	"errors"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/api"
	"github.com/ZaparooProject/tcd-core/pkg/audio"
	"github.com/ZaparooProject/tcd-core/pkg/display"
	"github.com/ZaparooProject/tcd-core/pkg/gps"
	"github.com/ZaparooProject/tcd-core/pkg/mqttbridge"
	"github.com/ZaparooProject/tcd-core/pkg/timetravel"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/ZaparooProject/tcd-core/pkg/zonehint"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const remoteTimeout = 5 * time.Second

// afterTick runs on the loop after each core tick.
func (s *Service) afterTick() {
	present := s.core.CurrentLocalDateTime()

	if present.Minute != s.lastMinute {
		s.lastMinute = present.Minute
		if s.bridge != nil {
			s.bridge.PublishStatus(api.NewTimeResponse(s.core.Status()))
		}
	}

	s.chime(present.Hour, present.Minute)

	if s.gps != nil && !s.hintAsked && s.cfg.GPS().ZoneHint {
		if pos, ok := s.gps.Position(); ok {
			s.hintAsked = true
			select {
			case s.hintReq <- pos:
			default:
			}
		}
	}
}

// chime plays the hourly sound once per displayed hour. The hour the
// service starts in is skipped.
func (s *Service) chime(hour, minute int) {
	if s.lastChime == -1 {
		s.lastChime = hour
		return
	}
	if minute != 0 || hour == s.lastChime || s.core.InTravel() {
		return
	}
	s.lastChime = hour
	if path, enabled := s.cfg.HourlySound(); enabled {
		s.player.PlayConfigured(path, audio.SoundHourly)
	}
}

func (s *Service) onPhase(st timetravel.State) {
	if s.term != nil {
		s.term.ShowTravel(st)
	}

	switch {
	case st.Phase == timetravel.Disruption && st.Step == 1:
		s.travelSound(audio.SoundDeparture)
	case st.Phase == timetravel.Reentry && s.returning:
		s.travelSound(audio.SoundReturn)
	case st.Phase == timetravel.Reentry:
		s.travelSound(audio.SoundReentry)
	case st.Phase == timetravel.Idle:
		s.returning = false
		s.lastChime = s.core.CurrentLocalDateTime().Hour
	}
}

func (s *Service) travelSound(snd audio.Sound) {
	if s.cfg.TimeTravelSound() {
		s.player.PlayConfigured("", snd)
	}
}

// onKey handles keypad actions from the display goroutine.
func (s *Service) onKey(k display.Key) {
	if k == display.KeyQuit {
		log.Info().Msg("quit requested from keypad")
		s.cancel()
		return
	}
	go s.remote(func(ctx context.Context) error {
		switch k {
		case display.KeyTravel:
			return s.TimeTravel(ctx, nil)
		case display.KeyReturn:
			return s.ReturnToPresent(ctx)
		case display.KeySync:
			return s.Resync(ctx)
		default:
			return nil
		}
	})
}

// onCommand handles MQTT commands from the client goroutine.
func (s *Service) onCommand(cmd mqttbridge.Command) {
	log.Info().Str("cmd", cmd.Kind.String()).Msg("mqtt command received")
	s.remote(func(ctx context.Context) error {
		switch cmd.Kind {
		case mqttbridge.CmdSync:
			return s.Resync(ctx)
		case mqttbridge.CmdTimeTravel:
			return s.TimeTravel(ctx, cmd.Dest)
		case mqttbridge.CmdReturn:
			return s.ReturnToPresent(ctx)
		case mqttbridge.CmdSetTZ:
			return s.SetZone(ctx, cmd.Slot, cmd.TZ, s.cfg.ZoneNames()[cmd.Slot])
		default:
			return nil
		}
	})
}

func (s *Service) remote(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()
	err := fn(ctx)
	switch {
	case err == nil:
	case errors.Is(err, timetravel.ErrBusy):
		log.Info().Msg("time travel in progress, request ignored")
	case errors.Is(err, tz.ErrInvalidZone):
		log.Warn().Err(err).Msg("zone stored but not usable")
	case errors.Is(err, ErrStopped):
	default:
		log.Error().Err(err).Msg("remote request failed")
	}
}

// applyConfig re-applies a reloaded config file on the loop.
func (s *Service) applyConfig() {
	if s.cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	set := s.core.Zones()
	names := s.cfg.ZoneNames()
	for slot, def := range s.cfg.Zones() {
		if set.Zone(slot).Definition() != def {
			log.Info().Int("slot", slot).Str("zone", def).Msg("time zone changed in config")
			_ = s.core.SetTimeZone(slot, def)
		}
		if set.Name(slot) != names[slot] {
			s.core.SetZoneName(slot, names[slot])
		}
	}

	if s.ntp != nil && s.ntp.Server() != s.cfg.NTPServer() {
		log.Info().Str("server", s.cfg.NTPServer()).Msg("ntp server changed in config")
		s.ntp.SetServer(s.cfg.NTPServer())
		s.core.TriggerResync()
	}

	s.player.ClearFileCache()
}

// hintWorker looks up the zone at the first GPS position. The zone
// database is only loaded when a position arrives.
func (s *Service) hintWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-s.hintReq:
			s.lookupHint(pos)
		}
	}
}

func (s *Service) lookupHint(pos gps.Position) {
	if s.hinter == nil {
		h, err := zonehint.NewDefault(s.fs)
		if err != nil {
			log.Warn().Err(err).Msg("zone hint not available")
			return
		}
		s.hinter = h
	}

	hint, err := s.hinter.Lookup(pos.Lat, pos.Lng)
	if err != nil {
		log.Warn().Err(err).Msg("no zone hint for gps position")
		return
	}

	s.hintMu.Lock()
	s.hint = hint
	s.haveHint = true
	s.hintMu.Unlock()

	home := s.cfg.Zones()[tz.HomeSlot]
	evt := log.Info().Str("zone", hint.Name).Str("posix", hint.POSIX)
	if home != hint.POSIX {
		evt = evt.Str("configured", home)
	}
	evt.Msg("zone hint from gps position")
}

var _ api.Core = (*Service)(nil)
