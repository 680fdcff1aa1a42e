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
	"context"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// drain renders the whole stream at once and counts frames.
func drain(frames chan<- int) Output {
	return func(_ context.Context, s beep.Streamer) error {
		total := 0
		buf := make([][2]float64, 512)
		for {
			n, ok := s.Stream(buf)
			total += n
			if !ok || n == 0 {
				break
			}
		}
		frames <- total
		return nil
	}
}

// hold blocks until the sound is cancelled.
func hold(started chan<- struct{}) Output {
	return func(ctx context.Context, _ beep.Streamer) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
}

// minimal mono 16 bit WAV with 4 frames of silence
func silentWAV() []byte {
	return []byte{
		'R', 'I', 'F', 'F', 44, 0, 0, 0, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 16, 0, 0, 0,
		1, 0, 1, 0,
		0x44, 0xAC, 0, 0,
		0x88, 0x58, 0x01, 0,
		2, 0, 16, 0,
		'd', 'a', 't', 'a', 8, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 0,
	}
}

func TestPlay_BuiltinLength(t *testing.T) {
	t.Parallel()

	for _, s := range []Sound{SoundHourly, SoundDeparture, SoundReentry, SoundReturn} {
		t.Run(s.String(), func(t *testing.T) {
			t.Parallel()
			frames := make(chan int, 1)
			p := newPlayer(afero.NewMemMapFs(), drain(frames))

			require.NoError(t, p.Play(s))
			got := <-frames
			assert.Equal(t, OutputRate.N(s.Length()), got)
			assert.Eventually(t, func() bool { return !p.Playing() }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestPlay_Unknown(t *testing.T) {
	t.Parallel()

	p := newPlayer(nil, drain(make(chan int, 1)))
	assert.Error(t, p.Play(Sound(42)))
	assert.Equal(t, "sound(42)", Sound(42).String())
}

func TestPlaying_NewSoundCancelsOld(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 2)
	p := newPlayer(nil, hold(started))

	require.NoError(t, p.Play(SoundHourly))
	<-started
	assert.True(t, p.Playing())

	require.NoError(t, p.Play(SoundReturn))
	<-started
	assert.True(t, p.Playing())

	p.Stop()
	assert.Eventually(t, func() bool { return !p.Playing() }, time.Second, 5*time.Millisecond)
}

func TestPlayFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sounds/chime.wav", silentWAV(), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/sounds/broken.wav", []byte("not a wav"), 0o600))
	require.NoError(t, afero.WriteFile(fs, "/sounds/chime.aiff", silentWAV(), 0o600))

	frames := make(chan int, 1)
	p := newPlayer(fs, drain(frames))

	require.NoError(t, p.PlayFile("/sounds/chime.wav"))
	<-frames

	assert.Error(t, p.PlayFile("/sounds/broken.wav"))
	assert.Error(t, p.PlayFile("/sounds/chime.aiff"))
	assert.Error(t, p.PlayFile("/sounds/missing.wav"))
	assert.Eventually(t, func() bool { return !p.Playing() }, time.Second, 5*time.Millisecond)
}

func TestFileCache(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/chime.wav", silentWAV(), 0o600))

	frames := make(chan int, 2)
	p := newPlayer(fs, drain(frames))
	require.NoError(t, p.PlayFile("/chime.wav"))
	<-frames

	// cached copy survives the file going away until the cache is cleared
	require.NoError(t, fs.Remove("/chime.wav"))
	require.NoError(t, p.PlayFile("/chime.wav"))
	<-frames

	p.ClearFileCache()
	assert.Error(t, p.PlayFile("/chime.wav"))
	assert.Eventually(t, func() bool { return !p.Playing() }, time.Second, 5*time.Millisecond)
}

func TestFillF32(t *testing.T) {
	t.Parallel()

	out := make([]byte, 24)
	for i := range out {
		out[i] = 0xff
	}
	fillF32(out, [][2]float64{{0, 0}, {0, 0}})
	assert.Equal(t, make([]byte, 24), out)
}
