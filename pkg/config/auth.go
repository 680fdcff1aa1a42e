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
	"fmt"
	"maps"
	"net/url"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// CredentialEntry is a set of credentials for a broker or API endpoint.
type CredentialEntry struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Bearer   string `toml:"bearer"`
}

// brokerSchemes folds the transport variants onto one name, so creds
// written for mqtt:// also apply to tcp://.
var brokerSchemes = map[string]string{
	"tcp":  "mqtt",
	"ssl":  "mqtts",
	"tls":  "mqtts",
	"ws":   "http",
	"wss":  "https",
	"mqtt": "mqtt",
}

// ParseAuth reads auth.toml. Entries may sit at the root (["mqtt://host"])
// or under a creds table ([creds."mqtt://host"]); both are merged.
func ParseAuth(data []byte) (map[string]CredentialEntry, error) {
	var wrapped struct {
		Creds map[string]CredentialEntry `toml:"creds"`
	}
	if err := toml.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse auth file: %w", err)
	}

	out := make(map[string]CredentialEntry)

	// the creds table itself lands in root as an empty entry
	var root map[string]CredentialEntry
	if err := toml.Unmarshal(data, &root); err == nil {
		for k, v := range root {
			if k != "creds" {
				out[k] = v
			}
		}
	}
	maps.Copy(out, wrapped.Creds)

	return out, nil
}

func canonicalScheme(s string) string {
	s = strings.ToLower(s)
	if c, ok := brokerSchemes[s]; ok {
		return c
	}
	return s
}

// LookupAuth returns the entry for reqURL. An entry with the exact scheme
// wins over one with an equivalent scheme, which wins over a bare
// host:port key.
func LookupAuth(creds map[string]CredentialEntry, reqURL string) *CredentialEntry {
	if len(creds) == 0 {
		return nil
	}

	u, err := url.Parse(reqURL)
	if err != nil {
		log.Warn().Err(err).Msgf("invalid auth request url: %s", reqURL)
		return nil
	}

	match := func(exact bool) *CredentialEntry {
		for k, v := range creds {
			if !strings.Contains(k, "://") {
				continue
			}
			def, err := url.Parse(k)
			if err != nil {
				log.Error().Msgf("invalid auth config url: %s", k)
				continue
			}
			sameScheme := strings.EqualFold(def.Scheme, u.Scheme)
			if !exact {
				sameScheme = canonicalScheme(def.Scheme) == canonicalScheme(u.Scheme)
			}
			if sameScheme &&
				strings.EqualFold(def.Host, u.Host) &&
				strings.HasPrefix(u.Path, def.Path) {
				return &v
			}
		}
		return nil
	}

	if e := match(true); e != nil {
		return e
	}
	if e := match(false); e != nil {
		return e
	}

	for k, v := range creds {
		if !strings.Contains(k, "://") && strings.EqualFold(k, u.Host) {
			return &v
		}
	}
	return nil
}
