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


// Package audio plays the prop's sounds through malgo and reports whether
// something is playing, which holds back network resyncs.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// OutputRate is the device sample rate everything is resampled to.
const OutputRate = beep.SampleRate(48000)

// resampleQuality is beep's interpolation quality for custom sound files.
const resampleQuality = 4

// Output renders a stream and blocks until it ends or ctx is cancelled.
type Output func(ctx context.Context, s beep.Streamer) error

type Player interface {
	Play(s Sound) error
	PlayFile(path string) error
	Playing() bool
	ClearFileCache()
}

type decoder func(data []byte) (beep.StreamSeekCloser, beep.Format, error)

var decoders = map[string]decoder{
	".wav": func(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
		return wav.Decode(bytes.NewReader(data))
	},
	".mp3": func(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
		return mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	},
	".ogg": func(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
		return vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
	},
	".flac": func(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
		return flac.Decode(bytes.NewReader(data))
	},
}

// playback is one sound in flight. Its address identifies it, so a
// finishing sound only clears the active slot if it still owns it.
type playback struct {
	cancel context.CancelFunc
	name   string
}

// MalgoPlayer plays one sound at a time; starting a new one cancels the
// previous.
type MalgoPlayer struct {
	files   afero.Fs
	out     Output
	active  *playback
	sounds  map[string][]byte
	mu      syncutil.Mutex
	soundMu syncutil.RWMutex
}

// NewMalgoPlayer returns a player on the default audio device. A nil fs
// reads sound files from the OS.
func NewMalgoPlayer(fs afero.Fs) *MalgoPlayer {
	return newPlayer(fs, playWithMalgo)
}

func newPlayer(fs afero.Fs, out Output) *MalgoPlayer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &MalgoPlayer{
		files:  fs,
		out:    out,
		sounds: make(map[string][]byte),
	}
}

// Playing reports whether a sound is currently being rendered.
func (p *MalgoPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active != nil
}

// Stop cancels the current sound, if any.
func (p *MalgoPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.cancel()
	}
}

// Play starts one of the built-in sounds.
func (p *MalgoPlayer) Play(s Sound) error {
	streamer, err := s.streamer(OutputRate)
	if err != nil {
		return err
	}
	p.start(s.String(), streamer, nil)
	return nil
}

// PlayFile plays a WAV, MP3, OGG or FLAC file, picked by extension.
func (p *MalgoPlayer) PlayFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return fmt.Errorf("unsupported audio format: %s", ext)
	}

	data, err := p.load(path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}
	streamer, format, err := decode(data)
	if err != nil {
		return fmt.Errorf("failed to decode audio file: %w", err)
	}

	p.start(path, beep.Resample(resampleQuality, format.SampleRate, OutputRate, streamer), streamer.Close)
	return nil
}

// PlayConfigured plays path, or the built-in fallback when path is empty.
// Errors are logged.
func (p *MalgoPlayer) PlayConfigured(path string, fallback Sound) {
	if path == "" {
		if err := p.Play(fallback); err != nil {
			log.Warn().Err(err).Msgf("error playing %s sound", fallback)
		}
		return
	}
	if err := p.PlayFile(path); err != nil {
		log.Warn().Str("path", path).Err(err).Msgf("error playing custom %s sound", fallback)
	}
}

func (p *MalgoPlayer) start(name string, s beep.Streamer, release func() error) {
	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{cancel: cancel, name: name}

	p.mu.Lock()
	if p.active != nil {
		p.active.cancel()
	}
	p.active = pb
	p.mu.Unlock()

	go p.render(ctx, pb, s, release)
}

func (p *MalgoPlayer) render(ctx context.Context, pb *playback, s beep.Streamer, release func() error) {
	defer p.finish(pb, release)

	err := p.out(ctx, s)
	switch {
	case err == nil:
		log.Debug().Str("sound", pb.name).Msg("sound finished")
	case !errors.Is(err, context.Canceled):
		log.Warn().Err(err).Str("sound", pb.name).Msg("failed to play sound")
	}
}

func (p *MalgoPlayer) finish(pb *playback, release func() error) {
	pb.cancel()
	if release != nil {
		if err := release(); err != nil {
			log.Warn().Err(err).Str("sound", pb.name).Msg("failed to close sound file")
		}
	}

	p.mu.Lock()
	if p.active == pb {
		p.active = nil
	}
	p.mu.Unlock()
}

// load returns the file contents, reading each path from disk once until
// ClearFileCache.
func (p *MalgoPlayer) load(path string) ([]byte, error) {
	p.soundMu.RLock()
	data, ok := p.sounds[path]
	p.soundMu.RUnlock()
	if ok {
		return data, nil
	}

	data, err := afero.ReadFile(p.files, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	p.soundMu.Lock()
	p.sounds[path] = data
	p.soundMu.Unlock()
	return data, nil
}

// ClearFileCache drops cached file contents, so edited sound files are
// picked up after a config reload.
func (p *MalgoPlayer) ClearFileCache() {
	p.soundMu.Lock()
	defer p.soundMu.Unlock()
	clear(p.sounds)
}
