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
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/timesync"
)

type TimeResponse struct {
	LastAuth        *time.Time `json:"lastAuth,omitempty"`
	Present         string     `json:"present"`
	Real            string     `json:"real"`
	DST             string     `json:"dst"`
	OffsetMinutes   int64      `json:"offsetMinutes"`
	YearOffset      int        `json:"yearOffset"`
	HaveAuth        bool       `json:"haveAuth"`
	AuthExpired     bool       `json:"authExpired"`
	InTravel        bool       `json:"inTravel"`
	WiFiOnWillBlock bool       `json:"wifiOnWillBlock"`
	GPSFix          bool       `json:"gpsFix"`
}

// NewTimeResponse converts a core status snapshot for clients.
func NewTimeResponse(st timesync.Status) TimeResponse {
	resp := TimeResponse{
		Present:         st.Present.String(),
		Real:            st.Real.String(),
		DST:             st.DST.String(),
		OffsetMinutes:   signedOffset(st.Offset),
		YearOffset:      st.YearOffset,
		HaveAuth:        st.HaveAuth,
		AuthExpired:     st.AuthExpired,
		InTravel:        st.InTravel,
		WiFiOnWillBlock: st.WiFiOnWillBlock,
		GPSFix:          st.GPSFix,
	}
	if st.HaveAuth {
		last := st.LastAuth
		resp.LastAuth = &last
	}
	return resp
}

// signedOffset is positive when the displayed time is ahead of real time.
func signedOffset(o calendar.Offset) int64 {
	if o.Forward {
		return int64(o.Minutes)
	}
	return -int64(o.Minutes)
}

// ZoneInfo describes one time zone slot.
type ZoneInfo struct {
	Definition string `json:"definition"`
	Name       string `json:"name"`
	Validity   string `json:"validity"`
	Slot       int    `json:"slot"`
	UTCOffset  int    `json:"utcOffset"`
	HasDST     bool   `json:"hasDst"`
	WorldClock bool   `json:"worldClock"`
}

type ZonesResponse struct {
	Zones []ZoneInfo `json:"zones"`
}

type ZoneTimeResponse struct {
	Time string `json:"time"`
	Slot int    `json:"slot"`
}

type SetZoneRequest struct {
	TZ   string `json:"tz" validate:"max=128,printascii"`
	Name string `json:"name" validate:"max=32"`
}

type TimeTravelRequest struct {
	Dest string `json:"dest" validate:"omitempty,datetime=2006-01-02 15:04"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
