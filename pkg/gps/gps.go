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

// Package gps reads date, time and position from an NMEA receiver on a
// serial port.
package gps

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/helpers"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/adrianmo/go-nmea"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 9600

	// A time stamp older than this is not handed out.
	maxStampAge = 2 * time.Second
	readTimeout = 100 * time.Millisecond
	// NMEA sentences are at most 82 characters.
	maxLineLen = 256
)

var ErrNotOpen = errors.New("gps receiver not open")

// SerialPort defines the serial port operations the receiver needs.
type SerialPort interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// SerialPortFactory opens a serial port connection.
type SerialPortFactory func(path string, mode *serial.Mode) (SerialPort, error)

func DefaultSerialPortFactory(path string, mode *serial.Mode) (SerialPort, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64
	Lng float64
}

type Receiver struct {
	clock       clockwork.Clock
	port        SerialPort
	portFactory SerialPortFactory
	done        chan struct{}
	path        string

	mu        syncutil.RWMutex
	polling   bool
	utc       calendar.DateTime
	utcMillis int
	stampedAt time.Time
	haveStamp bool
	fix       bool
	pos       Position
	havePos   bool
}

func NewReceiver(clock clockwork.Clock) *Receiver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Receiver{
		clock:       clock,
		portFactory: DefaultSerialPortFactory,
	}
}

// SetPortFactory replaces how serial ports are opened.
func (r *Receiver) SetPortFactory(f SerialPortFactory) {
	r.portFactory = f
}

// Open starts reading sentences from the receiver at path. An empty
// path picks the first USB serial device found.
func (r *Receiver) Open(path string, baud int) error {
	if path == "" {
		found, err := DetectPort()
		if err != nil {
			return err
		}
		path = found
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	port, err := r.portFactory(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return fmt.Errorf("failed to open gps port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout on gps port: %w", err)
	}

	r.port = port
	r.path = path
	r.done = make(chan struct{})
	r.mu.Lock()
	r.polling = true
	r.mu.Unlock()

	log.Info().Str("path", path).Int("baud", baud).Msg("gps receiver opened")
	go r.read()
	return nil
}

func (r *Receiver) read() {
	defer close(r.done)
	lines := lineReader{buf: make([]byte, 0, maxLineLen)}
	buf := make([]byte, 256)

	for {
		r.mu.RLock()
		polling := r.polling
		r.mu.RUnlock()
		if !polling {
			return
		}

		n, err := r.port.Read(buf)
		if err != nil {
			r.mu.RLock()
			polling = r.polling
			r.mu.RUnlock()
			if polling {
				log.Error().Err(err).Msg("failed to read from gps port")
			}
			return
		}

		lines.feed(buf[:n], r.handleLine)
	}
}

// lineReader splits a byte stream into lines. Lines longer than
// maxLineLen are dropped whole.
type lineReader struct {
	buf     []byte
	discard bool
}

func (l *lineReader) feed(data []byte, handle func(string)) {
	for _, b := range data {
		switch {
		case b == '\n':
			if !l.discard {
				handle(string(l.buf))
			}
			l.buf = l.buf[:0]
			l.discard = false
		case l.discard:
		case len(l.buf) >= maxLineLen:
			l.buf = l.buf[:0]
			l.discard = true
		default:
			l.buf = append(l.buf, b)
		}
	}
}

func (r *Receiver) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}

	s, err := nmea.Parse(line)
	if err != nil {
		log.Debug().Err(err).Str("line", line).Msg("gps: unparsable sentence")
		return
	}

	now := r.clock.Now()

	switch m := s.(type) {
	case nmea.RMC:
		fix := m.Validity == nmea.ValidRMC
		r.mu.Lock()
		r.fix = fix
		if fix {
			r.pos = Position{Lat: m.Latitude, Lng: m.Longitude}
			r.havePos = true
		}
		r.mu.Unlock()
		if !fix || !m.Date.Valid || !m.Time.Valid {
			return
		}
		dt := calendar.DateTime{
			Year:   2000 + m.Date.YY,
			Month:  m.Date.MM,
			Day:    m.Date.DD,
			Hour:   m.Time.Hour,
			Minute: m.Time.Minute,
			Second: m.Time.Second,
		}
		r.stamp(dt, m.Time.Millisecond, now)
	case nmea.ZDA:
		if !m.Time.Valid {
			return
		}
		dt := calendar.DateTime{
			Year:   int(m.Year),
			Month:  int(m.Month),
			Day:    int(m.Day),
			Hour:   m.Time.Hour,
			Minute: m.Time.Minute,
			Second: m.Time.Second,
		}
		r.stamp(dt, m.Time.Millisecond, now)
	}
}

func (r *Receiver) stamp(dt calendar.DateTime, ms int, at time.Time) {
	if !helpers.IsYearReliable(dt.Year) || !dt.Valid() {
		return
	}
	r.mu.Lock()
	r.utc = dt
	r.utcMillis = ms
	r.stampedAt = at
	r.haveStamp = true
	r.mu.Unlock()
}

// HaveFix reports whether the last RMC sentence carried a valid fix.
func (r *Receiver) HaveFix() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fix
}

// HaveTime reports whether a recent time stamp is available.
func (r *Receiver) HaveTime() bool {
	_, _, ok := r.Time()
	return ok
}

// Time returns the last UTC time stamp and how many milliseconds have
// passed since the second it names began.
func (r *Receiver) Time() (calendar.DateTime, int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.haveStamp {
		return calendar.DateTime{}, 0, false
	}
	age := r.clock.Since(r.stampedAt)
	if age > maxStampAge {
		return calendar.DateTime{}, 0, false
	}
	return r.utc, age.Milliseconds() + int64(r.utcMillis), true
}

func (r *Receiver) Position() (Position, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pos, r.havePos
}

// SetTime seeds the receiver's own clock, which shortens the time to
// first fix considerably.
func (r *Receiver) SetTime(utc calendar.DateTime) error {
	if r.port == nil {
		return ErrNotOpen
	}
	if _, err := r.port.Write([]byte(timeSentence(utc))); err != nil {
		return fmt.Errorf("failed to write gps time: %w", err)
	}
	return nil
}

// timeSentence builds a PMTK740 (set RTC time) command.
func timeSentence(utc calendar.DateTime) string {
	body := fmt.Sprintf("PMTK740,%04d,%02d,%02d,%02d,%02d,%02d",
		utc.Year, utc.Month, utc.Day, utc.Hour, utc.Minute, utc.Second)
	return fmt.Sprintf("$%s*%02X\r\n", body, checksum(body))
}

func checksum(body string) byte {
	var cs byte
	for i := range len(body) {
		cs ^= body[i]
	}
	return cs
}

func (r *Receiver) Path() string {
	return r.path
}

func (r *Receiver) Close() error {
	r.mu.Lock()
	r.polling = false
	r.mu.Unlock()
	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	<-r.done
	r.port = nil
	if err != nil {
		return fmt.Errorf("failed to close gps port: %w", err)
	}
	return nil
}
