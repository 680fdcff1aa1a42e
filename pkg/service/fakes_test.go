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
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/audio"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/ZaparooProject/tcd-core/pkg/netstate"
	"github.com/ZaparooProject/tcd-core/pkg/zonehint"
)

type fakeNet struct{}

func (fakeNet) StationConfigured() bool { return false }
func (fakeNet) State() netstate.State   { return netstate.Off }
func (fakeNet) Wake(time.Duration)      {}
func (fakeNet) APRetry() bool           { return false }

// fakeTransport never answers.
type fakeTransport struct{}

func (fakeTransport) Send(string, []byte) error { return nil }
func (fakeTransport) Receive() ([]byte, bool)   { return nil, false }
func (fakeTransport) Flush()                    {}

type fakePlayer struct {
	played  []audio.Sound
	cleared int
	mu      syncutil.Mutex
}

func (*fakePlayer) Playing() bool { return false }

func (p *fakePlayer) PlayConfigured(_ string, fallback audio.Sound) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.played = append(p.played, fallback)
}

func (p *fakePlayer) ClearFileCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleared++
}

func (p *fakePlayer) sounds() []audio.Sound {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]audio.Sound(nil), p.played...)
}

type fakeHinter struct {
	hint zonehint.Hint
}

func (h fakeHinter) Lookup(lat, lng float64) (zonehint.Hint, error) {
	hint := h.hint
	hint.Lat, hint.Lng = lat, lng
	return hint, nil
}
