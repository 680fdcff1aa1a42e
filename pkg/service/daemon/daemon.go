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

// Package daemon keeps the pid file that stops a second instance from
// driving the same clock hardware.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var ErrRunning = errors.New("service already running")

type PidFile struct {
	fs   afero.Fs
	path string
	// alive reports whether a process exists.
	alive func(pid int) bool
}

// New returns the pid file in dir. A nil fs means the OS filesystem.
func New(fs afero.Fs, dir string) *PidFile {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &PidFile{
		fs:    fs,
		path:  filepath.Join(dir, config.PidFile),
		alive: processAlive,
	}
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func (p *PidFile) Path() string {
	return p.path
}

// Pid returns the recorded process ID, or 0 without a pid file.
func (p *PidFile) Pid() (int, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("error reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("error parsing pid: %w", err)
	}
	return pid, nil
}

// Running reports whether the recorded process is still alive.
func (p *PidFile) Running() bool {
	pid, err := p.Pid()
	if err != nil || pid <= 0 {
		return false
	}
	return p.alive(pid)
}

// Acquire records the current process. A stale file left by a crashed
// instance is replaced.
func (p *PidFile) Acquire() error {
	if p.Running() {
		return ErrRunning
	}
	if err := p.fs.MkdirAll(filepath.Dir(p.path), 0o750); err != nil {
		return fmt.Errorf("failed to create pid dir: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := afero.WriteFile(p.fs, p.path, []byte(pid), 0o600); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	log.Debug().Str("path", p.path).Str("pid", pid).Msg("pid file written")
	return nil
}

func (p *PidFile) Release() error {
	if err := p.fs.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}
