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

package calendar

// RolloverSpan is the number of minutes from 0001-01-01 00:00 to
// 10000-01-01 00:00, the distance the tracked year jumps back when it
// rolls over from 9999 to 1.
const RolloverSpan Minutes = 5258964960

// Offset is the distance between the real time and the displayed
// "present" time after a time travel.
type Offset struct {
	Minutes Minutes `cbor:"1,keyasint"`
	Forward bool    `cbor:"2,keyasint"`
}

func (o Offset) IsZero() bool {
	return o.Minutes == 0
}

// Apply shifts real time m by the offset. Results are clamped to the
// calendar range.
func (o Offset) Apply(m Minutes) Minutes {
	if o.Forward {
		return m + o.Minutes
	}
	if o.Minutes > m {
		return 0
	}
	return m - o.Minutes
}

// OffsetBetween returns the offset that maps from onto to.
func OffsetBetween(from, to Minutes) Offset {
	if to >= from {
		return Offset{Minutes: to - from, Forward: true}
	}
	return Offset{Minutes: from - to}
}

// Rebase adjusts the offset after the real year rolled over from 9999
// to 1.
func (o Offset) Rebase() Offset {
	if o.IsZero() {
		return o
	}
	if o.Minutes >= RolloverSpan {
		o.Minutes -= RolloverSpan
		return o
	}
	return Offset{Minutes: RolloverSpan - o.Minutes, Forward: !o.Forward}
}
