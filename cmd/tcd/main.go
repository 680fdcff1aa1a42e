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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ZaparooProject/tcd-core/internal/telemetry"
	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/ZaparooProject/tcd-core/pkg/helpers"
	"github.com/ZaparooProject/tcd-core/pkg/service"
	"github.com/ZaparooProject/tcd-core/pkg/service/daemon"
	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func defaultConfigDir() string {
	return filepath.Join(xdg.ConfigHome, config.AppName)
}

// deviceID is stable per host without carrying the host name itself.
func deviceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = config.AppName
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(host)).String()
}

func run() error {
	cfgDir := flag.String(
		"config",
		defaultConfigDir(),
		"directory holding tcd.toml, the clock state and the log",
	)
	daemonMode := flag.Bool(
		"daemon",
		false,
		"run without the terminal display and log to stderr",
	)
	showVersion := flag.Bool(
		"version",
		false,
		"print the version and exit",
	)
	flag.Parse()

	if *showVersion {
		_, _ = fmt.Fprintln(os.Stdout, config.AppVersion)
		return nil
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}
	if err := helpers.InitLogging(*cfgDir, logWriters...); err != nil {
		return fmt.Errorf("error setting up logging: %w", err)
	}

	cfg, err := config.NewConfig(nil, *cfgDir, config.BaseDefaults)
	if err != nil {
		log.Error().Err(err).Msg("error loading config")
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.DebugLogging() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	id := deviceID()
	if err := telemetry.Init(cfg.Telemetry(), id, config.AppVersion); err != nil {
		log.Warn().Err(err).Msg("error reporting not available")
	}
	defer telemetry.Close()

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	pid := daemon.New(nil, *cfgDir)
	if err := pid.Acquire(); errors.Is(err, daemon.ErrRunning) {
		return errors.New("tcd is already running")
	} else if err != nil {
		return err
	}
	defer func() {
		if err := pid.Release(); err != nil {
			log.Warn().Err(err).Msg("error removing pid file")
		}
	}()

	svc, err := service.New(cfg, service.Options{
		DataDir:  *cfgDir,
		DeviceID: id,
		Headless: *daemonMode,
	})
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *daemonMode {
		log.Info().Msg("started in daemon mode")
	}
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("service failed: %w", err)
	}
	return nil
}
