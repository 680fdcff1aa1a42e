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


package mqttbridge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/tidwall/gjson"
)

var ErrBadCommand = errors.New("invalid command")

type CommandKind int

const (
	CmdSync CommandKind = iota
	CmdTimeTravel
	CmdReturn
	CmdSetTZ
)

func (k CommandKind) String() string {
	switch k {
	case CmdSync:
		return "sync"
	case CmdTimeTravel:
		return "timetravel"
	case CmdReturn:
		return "return"
	case CmdSetTZ:
		return "settz"
	default:
		return "unknown"
	}
}

// Command is a remote request. Dest is only set for a time travel with
// an explicit destination; Slot and TZ only for settz.
type Command struct {
	Dest *calendar.DateTime
	TZ   string
	Kind CommandKind
	Slot int
}

// ParseCommand accepts the plain keywords SYNC, TIMETRAVEL and RETURN, or
// a JSON object with a "cmd" field:
//
//	{"cmd":"settz","slot":1,"tz":"CET-1CEST,M3.5.0,M10.5.0/3"}
//	{"cmd":"timetravel","dest":"1955-11-05 06:00"}
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Command{}, fmt.Errorf("%w: empty payload", ErrBadCommand)
	}

	if !strings.HasPrefix(text, "{") {
		switch strings.ToUpper(text) {
		case "SYNC":
			return Command{Kind: CmdSync}, nil
		case "TIMETRAVEL":
			return Command{Kind: CmdTimeTravel}, nil
		case "RETURN":
			return Command{Kind: CmdReturn}, nil
		default:
			return Command{}, fmt.Errorf("%w: %q", ErrBadCommand, text)
		}
	}

	if !gjson.Valid(text) {
		return Command{}, fmt.Errorf("%w: malformed json", ErrBadCommand)
	}
	doc := gjson.Parse(text)

	switch cmd := strings.ToLower(doc.Get("cmd").String()); cmd {
	case "sync":
		return Command{Kind: CmdSync}, nil
	case "return":
		return Command{Kind: CmdReturn}, nil
	case "timetravel":
		c := Command{Kind: CmdTimeTravel}
		if dest := doc.Get("dest"); dest.Exists() {
			dt, err := ParseDest(dest.String())
			if err != nil {
				return Command{}, err
			}
			c.Dest = &dt
		}
		return c, nil
	case "settz":
		slot := doc.Get("slot")
		zone := doc.Get("tz")
		if slot.Type != gjson.Number || !zone.Exists() {
			return Command{}, fmt.Errorf("%w: settz needs slot and tz", ErrBadCommand)
		}
		n := int(slot.Int())
		if float64(n) != slot.Num || n < 0 || n > 2 {
			return Command{}, fmt.Errorf("%w: slot %s", ErrBadCommand, slot.Raw)
		}
		return Command{Kind: CmdSetTZ, Slot: n, TZ: zone.String()}, nil
	default:
		return Command{}, fmt.Errorf("%w: unknown cmd %q", ErrBadCommand, cmd)
	}
}

// ParseDest reads a destination time as "YYYY-MM-DD HH:MM".
func ParseDest(s string) (calendar.DateTime, error) {
	var dt calendar.DateTime
	n, err := fmt.Sscanf(strings.TrimSpace(s), "%d-%d-%d %d:%d",
		&dt.Year, &dt.Month, &dt.Day, &dt.Hour, &dt.Minute)
	if err != nil || n != 5 {
		return calendar.DateTime{}, fmt.Errorf("%w: destination %q", ErrBadCommand, s)
	}
	if !dt.Valid() {
		return calendar.DateTime{}, fmt.Errorf("%w: destination %q out of range", ErrBadCommand, s)
	}
	return dt, nil
}
