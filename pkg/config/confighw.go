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

const (
	RTCDriverSoft    = "soft"
	RTCDriverDS3231  = "ds3231"
	RTCDriverPCF2129 = "pcf2129"
)

type RTC struct {
	Driver  string `toml:"driver" validate:"oneof=soft ds3231 pcf2129"`
	Bus     string `toml:"bus,omitempty"`
	Address uint16 `toml:"address,omitempty" validate:"omitempty,max=127"`
}

type GPS struct {
	Enabled  *bool  `toml:"enabled,omitempty"`
	Path     string `toml:"path,omitempty"`
	BaudRate int    `toml:"baud_rate" validate:"oneof=4800 9600 19200 38400 57600 115200"`
	ZoneHint bool   `toml:"zone_hint"`
}

// Network describes the station connection used for NTP.
type Network struct {
	Interface         string `toml:"interface,omitempty"`
	StationConfigured bool   `toml:"station_configured"`
}

type Display struct {
	Terminal bool `toml:"terminal"`
	Speedo   bool `toml:"speedo"`
}

func (c *Instance) RTC() RTC {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.RTC
}

// GPSEnabled defaults to false; a receiver has to be asked for.
func (c *Instance) GPSEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.GPS.Enabled == nil {
		return false
	}
	return *c.vals.GPS.Enabled
}

func (c *Instance) SetGPSEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.GPS.Enabled = &enabled
}

func (c *Instance) GPS() GPS {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.GPS
}

func (c *Instance) Network() Network {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Network
}

func (c *Instance) Display() Display {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Display
}
