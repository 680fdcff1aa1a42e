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


// Package telemetry provides opt-in error reporting via Sentry.
// Paths, credentials and positions are stripped before transmission.
package telemetry

import (
	"fmt"
	"regexp"
	"runtime"
	"sync"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/ZaparooProject/tcd-core/pkg/helpers"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/getsentry/sentry-go"
	sentryzerolog "github.com/getsentry/sentry-go/zerolog"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const flushTimeout = 2 * time.Second

type scrubRule struct {
	re   *regexp.Regexp
	with string
}

var scrubRules = []scrubRule{
	{re: regexp.MustCompile(`(?i)/home/[^/]+/`), with: "/home/<user>/"},
	{re: regexp.MustCompile(`://[^/@\s]+@`), with: "://<redacted>@"},
	{re: regexp.MustCompile(`-?\d{1,3}\.\d{3,}\s*,\s*-?\d{1,3}\.\d{3,}`), with: "<position>"},
}

// extra keys that are dropped outright
var privateExtras = []string{"lat", "lng", "password", "username"}

var reporter struct {
	writer *sentryzerolog.Writer
	once   sync.Once
	mu     syncutil.Mutex
}

// Init starts Sentry reporting when it is enabled in cfg and a DSN is
// set. Error and fatal log events are forwarded to it.
func Init(cfg config.Telemetry, deviceID, appVersion string) error {
	if !cfg.ErrorReporting || cfg.DSN == "" {
		log.Debug().Msg("error reporting disabled")
		return nil
	}

	opts := sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Release:          "tcd-core@" + appVersion,
		Environment:      runtime.GOOS + "/" + runtime.GOARCH,
		AttachStacktrace: true,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return sanitizeEvent(event)
		},
	}
	if err := sentry.Init(opts); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: deviceID})
	})

	w, err := sentryzerolog.NewWithHub(sentry.CurrentHub(), sentryzerolog.Options{
		Levels:       []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		FlushTimeout: flushTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create sentry log writer: %w", err)
	}

	reporter.mu.Lock()
	reporter.writer = w
	reporter.mu.Unlock()

	log.Logger = log.Output(zerolog.MultiLevelWriter(helpers.LogWriter(), w)).
		With().Timestamp().Caller().Logger()
	log.Info().Str("release", opts.Release).Msg("error reporting enabled")
	return nil
}

// Close flushes pending events. Calling it again, or without Init, does
// nothing.
func Close() {
	reporter.mu.Lock()
	w := reporter.writer
	reporter.mu.Unlock()
	if w == nil {
		return
	}
	reporter.once.Do(func() {
		_ = w.Close()
		sentry.Flush(flushTimeout)
	})
}

func Enabled() bool {
	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	return reporter.writer != nil
}

func sanitizeEvent(event *sentry.Event) *sentry.Event {
	event.ServerName = ""
	event.Message = sanitize(event.Message)

	for i := range event.Exception {
		exc := &event.Exception[i]
		exc.Value = sanitize(exc.Value)
		if exc.Stacktrace != nil {
			sanitizeFrames(exc.Stacktrace.Frames)
		}
	}

	for _, k := range privateExtras {
		delete(event.Extra, k)
	}
	for k, v := range event.Extra {
		if s, ok := v.(string); ok {
			event.Extra[k] = sanitize(s)
		}
	}
	return event
}

func sanitizeFrames(frames []sentry.Frame) {
	for i := range frames {
		frames[i].AbsPath = sanitize(frames[i].AbsPath)
		frames[i].Filename = sanitize(frames[i].Filename)
	}
}

// sanitize strips home directories, URL credentials and GPS positions.
func sanitize(s string) string {
	for _, r := range scrubRules {
		if s == "" {
			break
		}
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}
