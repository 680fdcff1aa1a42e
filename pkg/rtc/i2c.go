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

package rtc

import (
	"fmt"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

const (
	DriverDS3231  = "ds3231"
	DriverPCF2129 = "pcf2129"

	DefaultDS3231Addr  = 0x68
	DefaultPCF2129Addr = 0x51
)

// chip describes the register layout of a supported clock chip.
type chip struct {
	name string
	// time is the first of the seven time registers.
	time byte
	// status holds the oscillator stop flag at bit osf.
	status byte
	osf    byte
	// weekday registers count 1-7 on the DS3231 and 0-6 on the PCF2129.
	weekdayBase int
}

var (
	ds3231 = chip{
		name:        DriverDS3231,
		time:        0x00,
		status:      0x0f,
		osf:         0x80,
		weekdayBase: 1,
	}
	pcf2129 = chip{
		name:        DriverPCF2129,
		time:        0x03,
		status:      0x03,
		osf:         0x80,
		weekdayBase: 0,
	}
)

// I2C is a DS3231 or PCF2129 clock on an I2C bus.
type I2C struct {
	dev  *i2c.Dev
	chip chip
}

// OpenI2C initializes the host drivers, opens bus (empty for the first
// bus found) and returns the clock driver.
func OpenI2C(driver, bus string, addr uint16) (*I2C, i2c.BusCloser, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("failed to init host drivers: %w", err)
	}
	b, err := i2creg.Open(bus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open i2c bus %q: %w", bus, err)
	}
	c, err := NewI2C(b, driver, addr)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return c, b, nil
}

// NewI2C returns the clock driver for an already open bus. addr 0 uses
// the chip's default address.
func NewI2C(bus i2c.Bus, driver string, addr uint16) (*I2C, error) {
	var c chip
	switch driver {
	case DriverDS3231:
		c = ds3231
		if addr == 0 {
			addr = DefaultDS3231Addr
		}
	case DriverPCF2129:
		c = pcf2129
		if addr == 0 {
			addr = DefaultPCF2129Addr
		}
	default:
		return nil, fmt.Errorf("unknown rtc driver: %s", driver)
	}
	return &I2C{dev: &i2c.Dev{Bus: bus, Addr: addr}, chip: c}, nil
}

func fromBCD(b byte) int {
	return int(b>>4)*10 + int(b&0x0f)
}

func toBCD(v int) byte {
	return byte((v/10)<<4 | v%10)
}

func (c *I2C) Read() (calendar.DateTime, error) {
	regs := make([]byte, 7)
	if err := c.dev.Tx([]byte{c.chip.time}, regs); err != nil {
		return calendar.DateTime{}, fmt.Errorf("%s: failed to read time: %w", c.chip.name, err)
	}

	dt := calendar.DateTime{
		Second: fromBCD(regs[0] & 0x7f),
		Minute: fromBCD(regs[1] & 0x7f),
		Hour:   fromBCD(regs[2] & 0x3f),
	}
	if c.chip.weekdayBase == 1 {
		// DS3231: weekday, day, month, year
		dt.Day = fromBCD(regs[4] & 0x3f)
		dt.Month = fromBCD(regs[5] & 0x1f)
		dt.Year = MinYear + fromBCD(regs[6])
	} else {
		// PCF2129: day, weekday, month, year
		dt.Day = fromBCD(regs[3] & 0x3f)
		dt.Month = fromBCD(regs[5] & 0x1f)
		dt.Year = MinYear + fromBCD(regs[6])
	}
	return dt, nil
}

func (c *I2C) Write(dt calendar.DateTime, weekday int) error {
	if dt.Year < MinYear || dt.Year > MaxYear {
		return fmt.Errorf("%s: year %d out of range", c.chip.name, dt.Year)
	}
	wd := toBCD(weekday + c.chip.weekdayBase)
	day := toBCD(dt.Day)
	regs := []byte{
		c.chip.time,
		toBCD(dt.Second),
		toBCD(dt.Minute),
		toBCD(dt.Hour),
		wd, day,
		toBCD(dt.Month),
		toBCD(dt.Year - MinYear),
	}
	if c.chip.weekdayBase == 0 {
		regs[4], regs[5] = day, wd
	}
	if err := c.dev.Tx(regs, nil); err != nil {
		return fmt.Errorf("%s: failed to write time: %w", c.chip.name, err)
	}
	if c.chip.status != c.chip.time {
		return c.clearStopFlag()
	}
	// PCF2129: writing the seconds register cleared the flag.
	return nil
}

func (c *I2C) LostPower() (bool, error) {
	status := make([]byte, 1)
	if err := c.dev.Tx([]byte{c.chip.status}, status); err != nil {
		return false, fmt.Errorf("%s: failed to read status: %w", c.chip.name, err)
	}
	return status[0]&c.chip.osf != 0, nil
}

func (c *I2C) clearStopFlag() error {
	status := make([]byte, 1)
	if err := c.dev.Tx([]byte{c.chip.status}, status); err != nil {
		return fmt.Errorf("%s: failed to read status: %w", c.chip.name, err)
	}
	if err := c.dev.Tx([]byte{c.chip.status, status[0] &^ c.chip.osf}, nil); err != nil {
		return fmt.Errorf("%s: failed to clear stop flag: %w", c.chip.name, err)
	}
	return nil
}
