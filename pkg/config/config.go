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

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "TCD_CFG"
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Telemetry    Telemetry `toml:"telemetry,omitempty"`
	MQTT         MQTT      `toml:"mqtt,omitempty"`
	API          API       `toml:"api,omitempty"`
	GPS          GPS       `toml:"gps,omitempty"`
	Network      Network   `toml:"network,omitempty"`
	RTC          RTC       `toml:"rtc,omitempty"`
	Audio        Audio     `toml:"audio,omitempty"`
	Display      Display   `toml:"display,omitempty"`
	Time         Time      `toml:"time"`
	ConfigSchema int       `toml:"config_schema"`
	DebugLogging bool      `toml:"debug_logging"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Time: Time{
		NTPServer:        DefaultNTPServer,
		DSTCheckInterval: 5,
	},
	RTC: RTC{
		Driver: RTCDriverSoft,
	},
	GPS: GPS{
		BaudRate: 9600,
	},
	MQTT: MQTT{
		Topic: DefaultMQTTTopic,
	},
	Audio: Audio{
		TimeTravelSound: true,
	},
	Display: Display{
		Terminal: true,
	},
}

type Instance struct {
	fs       afero.Fs
	cfgPath  string
	authPath string
	auth     map[string]CredentialEntry
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads the config file from configDir, writing the defaults
// first if none exists. A nil fs means the OS filesystem.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	cfgPath := os.Getenv(CfgEnv)
	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	} else {
		log.Debug().Msgf("env config path: %s", cfgPath)
	}

	cfg := &Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		authPath: filepath.Join(filepath.Dir(cfgPath), AuthFile),
		vals:     defaults,
		defaults: defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Msg("saving new default config to disk")
		if err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Instance) Path() string {
	return c.cfgPath
}

// Load reads the file on top of the defaults. Values are validated
// before they replace the current ones, so a broken edit keeps the
// previous config running.
func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	vals, err := decode(data, c.defaults)
	if err != nil {
		return err
	}
	auth, err := c.loadAuth()
	if err != nil {
		return err
	}

	c.vals = vals
	c.auth = auth
	return nil
}

//nolint:gocritic // defaults copied on purpose
func decode(data []byte, defaults Values) (Values, error) {
	vals := defaults
	if err := toml.Unmarshal(data, &vals); err != nil {
		return Values{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if vals.ConfigSchema != SchemaVersion {
		log.Error().Msgf("config schema is %d, this build reads %d", vals.ConfigSchema, SchemaVersion)
		return Values{}, ErrSchemaMismatch
	}
	if err := Validate(&vals); err != nil {
		return Values{}, err
	}
	return vals, nil
}

func (c *Instance) loadAuth() (map[string]CredentialEntry, error) {
	exists, err := afero.Exists(c.fs, c.authPath)
	if err != nil || !exists {
		return nil, nil //nolint:nilerr // no auth file is fine
	}
	data, err := afero.ReadFile(c.fs, c.authPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth file: %w", err)
	}
	auth, err := ParseAuth(data)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("loaded %d auth entries", len(auth))
	return auth, nil
}

// Save writes the current values through a temporary file, so a power
// cut mid-write leaves the old file in place.
func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.vals.ConfigSchema = SchemaVersion
	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp := c.cfgPath + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := c.fs.Rename(tmp, c.cfgPath); err != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Auth returns the credentials for url, if any.
func (c *Instance) Auth(url string) *CredentialEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return LookupAuth(c.auth, url)
}
