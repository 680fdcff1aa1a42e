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


package audio

import (
	"fmt"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
)

// Sound is one of the built-in sounds. They are synthesized, so the
// binary carries no sample data.
type Sound int

const (
	SoundHourly Sound = iota
	SoundDeparture
	SoundReentry
	SoundReturn
)

func (s Sound) String() string {
	switch s {
	case SoundHourly:
		return "hourly"
	case SoundDeparture:
		return "departure"
	case SoundReentry:
		return "reentry"
	case SoundReturn:
		return "return"
	default:
		return fmt.Sprintf("sound(%d)", int(s))
	}
}

type note struct {
	freq float64 // 0 is a rest
	dur  time.Duration
}

var tunes = map[Sound][]note{
	// first quarter of the Westminster chime
	SoundHourly: {
		{330, 500 * time.Millisecond},
		{262, 500 * time.Millisecond},
		{294, 500 * time.Millisecond},
		{196, 900 * time.Millisecond},
	},
	SoundDeparture: {
		{220, 120 * time.Millisecond},
		{330, 120 * time.Millisecond},
		{440, 120 * time.Millisecond},
		{660, 120 * time.Millisecond},
		{880, 400 * time.Millisecond},
	},
	SoundReentry: {
		{0, 100 * time.Millisecond},
		{55, 300 * time.Millisecond},
		{82, 300 * time.Millisecond},
		{55, 600 * time.Millisecond},
	},
	SoundReturn: {
		{880, 150 * time.Millisecond},
		{660, 150 * time.Millisecond},
		{440, 150 * time.Millisecond},
		{220, 400 * time.Millisecond},
	},
}

// gain keeps the sine tones well below clipping.
const gain = -0.7

func (s Sound) streamer(sr beep.SampleRate) (beep.Streamer, error) {
	notes, ok := tunes[s]
	if !ok {
		return nil, fmt.Errorf("unknown %s", s)
	}
	parts := make([]beep.Streamer, 0, len(notes))
	for _, n := range notes {
		if n.freq == 0 {
			parts = append(parts, beep.Silence(sr.N(n.dur)))
			continue
		}
		tone, err := generators.SineTone(sr, n.freq)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s tone: %w", s, err)
		}
		parts = append(parts, beep.Take(sr.N(n.dur), tone))
	}
	return &effects.Gain{Streamer: beep.Seq(parts...), Gain: gain}, nil
}

// Length returns how long a built-in sound plays.
func (s Sound) Length() time.Duration {
	var d time.Duration
	for _, n := range tunes[s] {
		d += n.dur
	}
	return d
}
