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

// Package ntp is a minimal SNTP client driven by polling. Requests are
// sent and replies collected without ever blocking the caller, so the
// displays keep running while a request is in flight.
package ntp

import (
	"errors"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var ErrNoServer = errors.New("no ntp server configured")

const (
	replyTimeout   = 10 * time.Second
	requestEvery   = time.Minute
	maxFastRetries = 10
	// A time stamp older than this is not used.
	maxStampAge = 10 * time.Minute
)

// Transport sends request packets and hands out received packets
// without blocking.
type Transport interface {
	Send(server string, pkt []byte) error
	// Receive returns a pending packet, if any.
	Receive() ([]byte, bool)
	// Flush drops all pending packets.
	Flush()
}

// Client tracks one outstanding request and the last good time stamp.
type Client struct {
	transport Transport
	clock     clockwork.Clock
	online    func() bool
	server    string

	lastTrigger time.Time
	requestedAt time.Time
	id          uint32
	due         bool
	wasOnline   bool
	failures    int

	stamp    reply
	stampAge time.Time
	have     bool
}

// NewClient returns a client for server. online reports whether the
// network is up; nil means always.
func NewClient(transport Transport, server string, online func() bool, clock clockwork.Clock) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if online == nil {
		online = func() bool { return true }
	}
	return &Client{
		transport: transport,
		clock:     clock,
		online:    online,
		server:    server,
	}
}

func (c *Client) Configured() bool {
	return c.server != ""
}

func (c *Client) Server() string {
	return c.server
}

// SetServer switches to a new server and forgets the current stamp.
func (c *Client) SetServer(server string) {
	c.server = server
	c.have = false
	c.due = false
	c.lastTrigger = time.Time{}
}

// Poll advances the state machine. It collects a pending reply,
// handles timeouts and issues new requests when due.
func (c *Client) Poll() {
	if c.due {
		c.checkReply()
	}
	if c.due {
		return
	}
	if !c.wasOnline && c.online() {
		// network came up
		c.lastTrigger = time.Time{}
	}
	if c.lastTrigger.IsZero() || c.clock.Since(c.lastTrigger) > requestEvery {
		if err := c.Trigger(); err != nil && !errors.Is(err, ErrNoServer) {
			log.Debug().Err(err).Msg("ntp: request not sent")
		}
	}
}

// Trigger sends a new request now, abandoning any pending one.
func (c *Client) Trigger() error {
	c.due = false
	now := c.clock.Now()
	c.lastTrigger = now

	if !c.online() {
		c.wasOnline = false
		return errors.New("network is down")
	}
	c.wasOnline = true

	if c.server == "" {
		return ErrNoServer
	}

	c.transport.Flush()
	c.id = uint32(now.UnixMilli())
	if err := c.transport.Send(c.server, request(c.id)); err != nil {
		return err
	}
	c.requestedAt = c.clock.Now()
	c.due = true
	return nil
}

func (c *Client) checkReply() {
	pkt, ok := c.transport.Receive()
	now := c.clock.Now()
	if !ok {
		if now.Sub(c.requestedAt) > replyTimeout {
			c.due = false
			if c.failures < maxFastRetries {
				c.failures++
				c.lastTrigger = time.Time{}
			}
		}
		return
	}

	c.failures = 0

	r, ok := parseReply(pkt, c.id)
	if !ok {
		log.Debug().Msg("ntp: ignoring bad or outdated packet")
		return
	}

	c.due = false
	c.stampAge = now.Add(-now.Sub(c.requestedAt) / 2)
	c.stamp = r
	c.have = true
}

// HaveTime reports whether a time stamp was ever received.
func (c *Client) HaveTime() bool {
	return c.have
}

// Pending reports whether a request is in flight.
func (c *Client) Pending() bool {
	return c.due
}

// Time returns the current UTC time derived from the last stamp,
// corrected for half the round trip and the time since. ok is false if
// there is no stamp or it is too old to trust.
func (c *Client) Time() (calendar.Instant, bool) {
	if !c.have {
		return calendar.Instant{}, false
	}
	age := c.clock.Since(c.stampAge)
	if age > maxStampAge {
		return calendar.Instant{}, false
	}
	secs := c.stamp.secs + uint64((int64(c.stamp.ms)+age.Milliseconds())/1000)
	return instant(secs), true
}
