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
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/gen2brain/malgo"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog/log"
)

// playWithMalgo opens the default playback device for one stream.
func playWithMalgo(ctx context.Context, streamer beep.Streamer) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	if mctx == nil {
		return errors.New("malgo context is nil after initialization")
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	// F32 avoids the S16 to S32 conversion bug in miniaudio on PulseAudio
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 2
	cfg.SampleRate = uint32(OutputRate)
	cfg.Alsa.NoMMap = 1

	done := make(chan struct{})
	var (
		mu       syncutil.Mutex
		finished bool
		samples  [][2]float64
	)

	onSamples := func(out, _ []byte, frames uint32) {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return
		}
		if ctx.Err() != nil {
			finished = true
			close(done)
			return
		}

		if len(samples) < int(frames) {
			samples = make([][2]float64, frames)
		}
		n, ok := streamer.Stream(samples[:frames])
		if !ok || n == 0 {
			finished = true
			close(done)
			return
		}
		fillF32(out, samples[:n])
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start audio device: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		finished = true
		mu.Unlock()
	}

	if err := device.Stop(); err != nil {
		log.Warn().Err(err).Msg("failed to stop audio device")
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return context.Canceled
	}
	return nil
}

// fillF32 writes interleaved little-endian float32 frames and zeroes the
// rest of out.
func fillF32(out []byte, frames [][2]float64) {
	off := 0
	for _, f := range frames {
		binary.LittleEndian.PutUint32(out[off:], math.Float32bits(float32(f[0])))
		binary.LittleEndian.PutUint32(out[off+4:], math.Float32bits(float32(f[1])))
		off += 8
	}
	clear(out[off:])
}
