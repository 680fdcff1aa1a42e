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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/mqttbridge"
	"github.com/ZaparooProject/tcd-core/pkg/timetravel"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

const maxBodySize = 4 * 1024

var errBadSlot = errors.New("invalid zone slot")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// coreError maps errors from the service loop to a status code.
func coreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, timetravel.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, r.Context().Err()):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("api request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

func slotParam(r *http.Request) (int, error) {
	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil || slot < 0 || slot >= tz.Slots {
		return 0, errBadSlot
	}
	return slot, nil
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	st, err := s.core.Status(r.Context())
	if err != nil {
		coreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewTimeResponse(st))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if err := s.core.Resync(r.Context()); err != nil {
		coreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "resync requested"})
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.core.Zones(r.Context())
	if err != nil {
		coreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ZonesResponse{Zones: zones})
}

func (s *Server) handleZoneSuggest(w http.ResponseWriter, _ *http.Request) {
	hint, ok := s.core.ZoneHint()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no zone hint available"))
		return
	}
	writeJSON(w, http.StatusOK, hint)
}

func (s *Server) handleSetZone(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req SetZoneRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.core.SetZone(r.Context(), slot, req.TZ, req.Name)
	if errors.Is(err, tz.ErrInvalidZone) {
		// stored anyway, the slot just stays out of use
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if err != nil {
		coreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (s *Server) handleZoneTime(w http.ResponseWriter, r *http.Request) {
	slot, err := slotParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dt, ok, err := s.core.ZoneTime(r.Context(), slot)
	if err != nil {
		coreError(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, fmt.Errorf("zone slot %d is not usable", slot))
		return
	}
	writeJSON(w, http.StatusOK, ZoneTimeResponse{Slot: slot, Time: dt.String()})
}

func (s *Server) handleTimeTravel(w http.ResponseWriter, r *http.Request) {
	// an empty body travels to the stored destination
	var req TimeTravelRequest
	if err := s.decode(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var dest *calendar.DateTime
	if req.Dest != "" {
		dt, err := mqttbridge.ParseDest(req.Dest)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		dest = &dt
	}

	if err := s.core.TimeTravel(r.Context(), dest); err != nil {
		coreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "departing"})
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	if err := s.core.ReturnToPresent(r.Context()); err != nil {
		coreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "returning"})
}

func (s *Server) handleLog(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := s.logTail(w); err != nil {
		log.Warn().Err(err).Msg("failed to send log tail")
	}
}
