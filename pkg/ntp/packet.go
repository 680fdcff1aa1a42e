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

package ntp

import (
	"encoding/binary"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
)

const (
	PacketSize = 48

	// secs1900To1970 is the NTP era offset of the Unix epoch.
	secs1900To1970 = 2208988800
	// eraPivot is 2023-01-01 00:00 UTC in NTP seconds. Smaller
	// timestamps belong to the next NTP era.
	eraPivot = secs1900To1970 + 1672531200
)

var epoch1900 = calendar.DateToMinutes(1900, 1, 1, 0, 0)

// request builds a client mode packet. id is echoed by the server in
// the originate timestamp and identifies the reply.
func request(id uint32) []byte {
	b := make([]byte, PacketSize)
	b[0] = 0xe3 // LI unsynchronized, version 4, mode client
	b[1] = 0    // stratum
	b[2] = 6    // poll
	b[3] = 0xec // precision
	copy(b[12:16], "TCD1")
	binary.BigEndian.PutUint32(b[40:44], id)
	return b
}

// reply is the part of a server packet the client uses.
type reply struct {
	secs uint64
	ms   int
}

// parseReply validates a server packet against the request id.
func parseReply(b []byte, id uint32) (reply, bool) {
	if len(b) < PacketSize {
		return reply{}, false
	}
	// version 4, mode server
	if b[0]&0x3f != 0x24 {
		return reply{}, false
	}
	if binary.BigEndian.Uint32(b[24:28]) != id {
		return reply{}, false
	}

	secs := uint64(binary.BigEndian.Uint32(b[40:44]))
	frac := uint64(binary.BigEndian.Uint32(b[44:48]))
	if secs < eraPivot {
		secs |= 1 << 32
	}
	return reply{secs: secs, ms: int((frac * 1000) >> 32)}, true
}

// instant converts NTP seconds into calendar time.
func instant(secs uint64) calendar.Instant {
	return calendar.Instant{
		Minutes: epoch1900 + calendar.Minutes(secs/60),
		Second:  int(secs % 60),
	}
}
