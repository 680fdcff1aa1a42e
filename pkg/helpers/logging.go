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

package helpers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/KarpelesLab/ringbuf"
	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// tailSize is how much recent log output is kept in memory for the API.
const tailSize = 256 * 1024

var (
	logMu     sync.Mutex
	logWriter io.Writer = os.Stderr
	logTail   *ringbuf.Writer
)

// InitLogging sends the global logger to a rotated file in logDir, the
// in-memory tail and any extra writers.
func InitLogging(logDir string, writers ...io.Writer) error {
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}

	tail, err := ringbuf.New(tailSize)
	if err != nil {
		return fmt.Errorf("failed to create log tail: %w", err)
	}

	out := []io.Writer{
		&lumberjack.Logger{
			Filename:   filepath.Join(logDir, config.LogFile),
			MaxSize:    1,
			MaxBackups: 2,
		},
		tail,
	}
	out = append(out, writers...)

	logMu.Lock()
	if logTail != nil {
		logTail.Close()
	}
	logTail = tail
	logWriter = io.MultiWriter(out...)
	logMu.Unlock()

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	log.Logger = log.Output(LogWriter()).
		With().Timestamp().Caller().Logger()

	return nil
}

// LogWriter is the writer set up by InitLogging, for hooks that need to
// wrap it.
func LogWriter() io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	return logWriter
}

// CopyLogTail writes the buffered recent log lines to w.
func CopyLogTail(w io.Writer) (int64, error) {
	logMu.Lock()
	tail := logTail
	logMu.Unlock()
	if tail == nil {
		return 0, nil
	}

	r := tail.Reader()
	defer func() { _ = r.Close() }()
	n, err := io.Copy(w, r)
	if err != nil {
		return n, fmt.Errorf("failed to copy log tail: %w", err)
	}
	return n, nil
}
