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


// Package display renders the three time circuit rows in a terminal and
// doubles as the keypad.
package display

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/ZaparooProject/tcd-core/pkg/timetravel"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rivo/tview"
)

const (
	// IdleAfter is how long the keypad must be untouched to count as idle.
	IdleAfter = 2 * time.Minute
	refresh   = 100 * time.Millisecond
)

const (
	RowDestination = iota
	RowPresent
	RowDeparted
	rowCount
)

var rowLabels = [rowCount]string{"DESTINATION TIME", "PRESENT TIME", "LAST TIME DEPARTED"}

var rowColors = [rowCount]tcell.Color{tcell.ColorRed, tcell.ColorGreen, tcell.ColorYellow}

var monthNames = [12]string{
	"JAN", "FEB", "MAR", "APR", "MAY", "JUN",
	"JUL", "AUG", "SEP", "OCT", "NOV", "DEC",
}

// Key is a keypad action.
type Key int

const (
	KeyTravel Key = iota
	KeyReturn
	KeySync
	KeyQuit
)

type Options struct {
	// OnKey is called from the UI goroutine and must not block.
	OnKey  func(Key)
	Screen tcell.Screen
	Speedo bool
}

type rowText struct {
	label string
	text  string
}

// Terminal implements the time core's display and input monitor.
type Terminal struct {
	clock   clockwork.Clock
	app     *tview.Application
	views   [rowCount]*tview.TextView
	status  *tview.TextView
	onKey   func(Key)
	lastKey time.Time
	rows    [rowCount]rowText
	statusS string
	mu      syncutil.Mutex
	speedo  bool
	dirty   bool
}

func NewTerminal(opts Options, clock clockwork.Clock) *Terminal {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Terminal{
		clock:   clock,
		app:     tview.NewApplication(),
		onKey:   opts.OnKey,
		speedo:  opts.Speedo,
		lastKey: clock.Now(),
	}
	if opts.Screen != nil {
		t.app.SetScreen(opts.Screen)
	}

	layout := tview.NewFlex().SetDirection(tview.FlexRow)
	for i := range t.views {
		v := tview.NewTextView().SetTextAlign(tview.AlignCenter).
			SetTextColor(rowColors[i])
		v.SetBorder(true).SetTitle(rowLabels[i])
		t.views[i] = v
		t.rows[i].label = rowLabels[i]
		layout.AddItem(v, 3, 0, false)
	}
	t.status = tview.NewTextView().SetTextAlign(tview.AlignCenter)
	layout.AddItem(t.status, 1, 0, false)
	layout.AddItem(tview.NewTextView().
		SetText("t: travel  r: return  s: sync  q: quit").
		SetTextAlign(tview.AlignCenter), 1, 0, false)

	t.app.SetRoot(layout, true)
	t.app.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		t.handleKey(ev)
		return nil
	})
	return t
}

// Run drives the UI until ctx is done. The application is only ever
// stopped here, so queued updates can't outlive it.
func (t *Terminal) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- t.app.Run()
	}()

	ticker := t.clock.NewTicker(refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.app.Stop()
			if err := <-errCh; err != nil {
				return fmt.Errorf("display stopped: %w", err)
			}
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("display failed: %w", err)
			}
			return nil
		case <-ticker.Chan():
			if t.takeDirty() {
				t.app.QueueUpdateDraw(t.sync)
			}
		}
	}
}

func (t *Terminal) takeDirty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.dirty
	t.dirty = false
	return d
}

// sync copies the model into the views; runs on the UI goroutine.
func (t *Terminal) sync() {
	t.mu.Lock()
	rows := t.rows
	status := t.statusS
	t.mu.Unlock()

	for i, r := range rows {
		t.views[i].SetTitle(r.label)
		t.views[i].SetText(r.text)
	}
	t.status.SetText(status)
}

func (t *Terminal) handleKey(ev *tcell.EventKey) {
	var key Key
	switch {
	case ev.Key() == tcell.KeyCtrlC:
		key = KeyQuit
	case ev.Key() != tcell.KeyRune:
		return
	default:
		switch ev.Rune() {
		case 't', 'T':
			key = KeyTravel
		case 'r', 'R':
			key = KeyReturn
		case 's', 'S':
			key = KeySync
		case 'q', 'Q':
			key = KeyQuit
		default:
			t.touch()
			return
		}
	}
	t.touch()
	if t.onKey != nil {
		t.onKey(key)
	}
}

func (t *Terminal) touch() {
	t.mu.Lock()
	t.lastKey = t.clock.Now()
	t.mu.Unlock()
}

// Idle reports whether no key was pressed for IdleAfter.
func (t *Terminal) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clock.Since(t.lastKey) >= IdleAfter
}

func (t *Terminal) setRow(row int, label, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if label == "" {
		label = rowLabels[row]
	}
	t.rows[row] = rowText{label: label, text: text}
	t.dirty = true
}

func (t *Terminal) ShowPresent(present calendar.DateTime, dst tz.DSTFlag) {
	text := FormatRow(present)
	if dst == tz.DSTOn {
		text += "  DST"
	}
	t.setRow(RowPresent, "", text)
}

// ShowWorldClock puts slot 1 on the destination row and slot 2 on the
// departed row.
func (t *Terminal) ShowWorldClock(slot int, name string, dt calendar.DateTime) {
	row := RowDestination
	if slot == 2 {
		row = RowDeparted
	}
	t.setRow(row, name, FormatRow(dt))
}

// ShowTravel shows the time travel phase, and the speed when a speedo
// is fitted.
func (t *Terminal) ShowTravel(st timetravel.State) {
	var b strings.Builder
	if st.Phase != timetravel.Idle {
		b.WriteString(strings.ToUpper(st.Phase.String()))
	}
	if t.speedo && st.Speed > 0 {
		if b.Len() > 0 {
			b.WriteString("  ")
		}
		fmt.Fprintf(&b, "%2d MPH", st.Speed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusS = b.String()
	t.dirty = true
}

// FormatRow renders dt the way the time circuits show it.
func FormatRow(dt calendar.DateTime) string {
	month := "???"
	if dt.Month >= 1 && dt.Month <= 12 {
		month = monthNames[dt.Month-1]
	}
	ampm := "AM"
	hour := dt.Hour
	if hour >= 12 {
		ampm = "PM"
	}
	hour %= 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%s %02d %04d  %s %02d:%02d", month, dt.Day, dt.Year, ampm, hour, dt.Minute)
}
