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

package config

import "strconv"

const (
	DefaultAPIPort   = 7498
	DefaultMQTTTopic = "bttf/tcd"
)

type API struct {
	Port           *int     `toml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Listen         string   `toml:"listen,omitempty" validate:"omitempty,hostname_port"`
	Discovery      *bool    `toml:"discovery,omitempty"`
	InstanceName   string   `toml:"instance_name,omitempty" validate:"max=63"`
	AllowedOrigins []string `toml:"allowed_origins,omitempty" validate:"dive,url"`
}

type MQTT struct {
	Broker  string `toml:"broker,omitempty" validate:"omitempty,broker"`
	Topic   string `toml:"topic" validate:"required_if=Enabled true"`
	Enabled bool   `toml:"enabled"`
}

type Audio struct {
	HourlySound     *string `toml:"hourly_sound,omitempty"`
	TimeTravelSound bool    `toml:"time_travel_sound"`
}

type Telemetry struct {
	DSN            string `toml:"dsn,omitempty" validate:"omitempty,url"`
	ErrorReporting bool   `toml:"error_reporting"`
}

func (c *Instance) APIPort() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiPortLocked()
}

// apiPortLocked returns the API port. Caller must hold mu (read or write).
func (c *Instance) apiPortLocked() int {
	if c.vals.API.Port == nil {
		return DefaultAPIPort
	}
	return *c.vals.API.Port
}

func (c *Instance) APIListen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.API.Listen == "" {
		return ":" + strconv.Itoa(c.apiPortLocked())
	}
	return c.vals.API.Listen
}

func (c *Instance) AllowedOrigins() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.AllowedOrigins
}

// DiscoveryEnabled reports whether the API is advertised over mDNS. It
// is on unless switched off.
func (c *Instance) DiscoveryEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.Discovery == nil || *c.vals.API.Discovery
}

func (c *Instance) DiscoveryInstanceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.API.InstanceName
}

func (c *Instance) MQTT() MQTT {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.MQTT
}

// HourlySound returns the sound played on the hour. An unset value uses
// the built-in sound, an empty one disables it.
func (c *Instance) HourlySound() (path string, enabled bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Audio.HourlySound == nil {
		return "", true
	}
	if *c.vals.Audio.HourlySound == "" {
		return "", false
	}
	return *c.vals.Audio.HourlySound, true
}

func (c *Instance) TimeTravelSound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Audio.TimeTravelSound
}

func (c *Instance) Telemetry() Telemetry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Telemetry
}
