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
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
)

const port = "123"

// UDP is a Transport on a local UDP socket. A reader goroutine queues
// incoming packets until Close.
type UDP struct {
	conn    *net.UDPConn
	packets chan []byte
	done    chan struct{}
}

func ListenUDP() (*UDP, error) {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ntp socket: %w", err)
	}
	u := &UDP{
		conn:    conn,
		packets: make(chan []byte, 4),
		done:    make(chan struct{}),
	}
	go u.read()
	return u, nil
}

func (u *UDP) read() {
	defer close(u.done)
	for {
		buf := make([]byte, PacketSize)
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error().Err(err).Msg("ntp: read failed")
			}
			return
		}
		select {
		case u.packets <- buf[:n]:
		default:
			// queue full, oldest replies are stale anyway
		}
	}
}

func (u *UDP) Send(server string, pkt []byte) error {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(server, port))
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", server, err)
	}
	if _, err := u.conn.WriteToUDP(pkt, addr); err != nil {
		return fmt.Errorf("failed to send ntp request: %w", err)
	}
	return nil
}

func (u *UDP) Receive() ([]byte, bool) {
	select {
	case pkt := <-u.packets:
		return pkt, true
	default:
		return nil, false
	}
}

func (u *UDP) Flush() {
	for {
		select {
		case <-u.packets:
		default:
			return
		}
	}
}

func (u *UDP) Close() error {
	err := u.conn.Close()
	<-u.done
	if err != nil {
		return fmt.Errorf("failed to close ntp socket: %w", err)
	}
	return nil
}
