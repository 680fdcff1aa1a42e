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

import "fmt"

const (
	DefaultNTPServer = "pool.ntp.org"
	ZoneSlots        = 3
)

type Time struct {
	NTPServer            string            `toml:"ntp_server" validate:"omitempty,hostname|ip"`
	Zones                [ZoneSlots]string `toml:"zones"`
	ZoneNames            [ZoneSlots]string `toml:"zone_names" validate:"dive,max=32"`
	DSTCheckInterval     int               `toml:"dst_check_interval" validate:"oneof=1 5"`
	TimeTravelPersistent bool              `toml:"time_travel_persistent"`
}

// Zones returns the POSIX TZ strings of all slots, home first.
func (c *Instance) Zones() [ZoneSlots]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Time.Zones
}

func (c *Instance) ZoneNames() [ZoneSlots]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Time.ZoneNames
}

// SetZone stores def for slot. The definition itself is checked by the
// time core, which keeps unusable zones around as disabled.
func (c *Instance) SetZone(slot int, def string) error {
	if slot < 0 || slot >= ZoneSlots {
		return fmt.Errorf("zone slot %d out of range", slot)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Time.Zones[slot] = def
	return nil
}

func (c *Instance) SetZoneName(slot int, name string) error {
	if slot < 0 || slot >= ZoneSlots {
		return fmt.Errorf("zone slot %d out of range", slot)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Time.ZoneNames[slot] = name
	return nil
}

func (c *Instance) NTPServer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Time.NTPServer
}

func (c *Instance) DSTCheckInterval() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Time.DSTCheckInterval
}

func (c *Instance) TimeTravelPersistent() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Time.TimeTravelPersistent
}

func (c *Instance) SetTimeTravelPersistent(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Time.TimeTravelPersistent = enabled
}
