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

// Package netstate reports whether the host's network connection is up.
// On a Linux host the operating system owns the connection, so waking it
// is only recorded.
package netstate

import (
	"fmt"
	"net"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type State int

const (
	// Off means a station network is configured but not connected.
	Off State = iota
	Connected
	// APMode means the device serves its own access point.
	APMode
)

func (s State) String() string {
	switch s {
	case Connected:
		return "connected"
	case APMode:
		return "ap"
	default:
		return "off"
	}
}

type Monitor struct {
	clock      clockwork.Clock
	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
	wakeUntil  time.Time
	iface      string
	mu         syncutil.Mutex
	configured bool
}

// New watches iface, or every non-loopback interface when iface is
// empty. configured tells whether a station network is set up at all.
func New(iface string, configured bool, clock clockwork.Clock) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		clock:      clock,
		iface:      iface,
		configured: configured,
		interfaces: net.Interfaces,
		addrs: func(i net.Interface) ([]net.Addr, error) {
			return i.Addrs()
		},
	}
}

func (m *Monitor) StationConfigured() bool {
	return m.configured
}

func (m *Monitor) State() State {
	up, err := m.connected()
	if err != nil {
		log.Debug().Err(err).Msg("netstate: listing interfaces failed")
		return Off
	}
	if up {
		return Connected
	}
	if m.wakeRequested() {
		log.Debug().Msg("netstate: connection wanted but host is offline")
	}
	return Off
}

func (m *Monitor) connected() (bool, error) {
	ifs, err := m.interfaces()
	if err != nil {
		return false, fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, i := range ifs {
		if i.Flags&net.FlagLoopback != 0 || i.Flags&net.FlagUp == 0 {
			continue
		}
		if m.iface != "" && i.Name != m.iface {
			continue
		}
		addrs, err := m.addrs(i)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipn, ok := a.(*net.IPNet)
			if ok && ipn.IP.IsGlobalUnicast() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *Monitor) Wake(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until := m.clock.Now().Add(d)
	if until.After(m.wakeUntil) {
		m.wakeUntil = until
	}
	log.Debug().Dur("for", d).Msg("netstate: connection requested")
}

// wakeRequested reports whether a caller still wants the connection up.
func (m *Monitor) wakeRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Now().Before(m.wakeUntil)
}

// APRetry is always false; hosts never run their own access point.
func (*Monitor) APRetry() bool {
	return false
}
