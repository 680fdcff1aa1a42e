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


// Package discovery advertises the local HTTP API over mDNS, so phone
// apps and home automation can find the clock without an IP address.
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/grandcat/zeroconf"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service type of the API.
const ServiceType = "_tcd._tcp"

const (
	retryInterval    = 30 * time.Second
	maxRetryDuration = 5 * time.Minute
)

var virtualPrefixes = []string{
	"docker", "br-", "veth", "virbr", "lxc", "lxd",
	"cni", "flannel", "cali", "tunl", "wg",
}

// Server is a running registration.
type Server interface {
	Shutdown()
}

// Registrar publishes a service record on the given interfaces.
type Registrar func(
	instance, service, domain string,
	port int,
	txt []string,
	ifaces []net.Interface,
) (Server, error)

func zeroconfRegistrar(
	instance, service, domain string,
	port int,
	txt []string,
	ifaces []net.Interface,
) (Server, error) {
	srv, err := zeroconf.Register(instance, service, domain, port, txt, ifaces)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	return srv, nil
}

type Options struct {
	// Instance overrides the advertised name, which defaults to the host
	// name.
	Instance string
	// Listen is the API listen address; only its port is used.
	Listen   string
	DeviceID string
}

// Advertiser keeps the API registered while Run is active. Registration
// is retried for a while after boot, since the clock often starts before
// WiFi is up.
type Advertiser struct {
	clock      clockwork.Clock
	register   Registrar
	interfaces func() ([]net.Interface, error)
	instance   string
	txt        []string
	port       int
}

func New(opts Options, clock clockwork.Clock) (*Advertiser, error) {
	_, portStr, err := net.SplitHostPort(opts.Listen)
	if err != nil {
		return nil, fmt.Errorf("invalid api listen address %q: %w", opts.Listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return nil, fmt.Errorf("invalid api port %q", portStr)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Advertiser{
		clock:      clock,
		register:   zeroconfRegistrar,
		interfaces: net.Interfaces,
		instance:   instanceName(opts.Instance),
		port:       port,
		txt: []string{
			"id=" + opts.DeviceID,
			"version=" + config.AppVersion,
			"path=/api",
		},
	}, nil
}

func (a *Advertiser) Instance() string { return a.instance }
func (a *Advertiser) Port() int        { return a.port }

// Run registers the service and withdraws it when ctx is done. Failing
// to advertise is logged, never returned.
func (a *Advertiser) Run(ctx context.Context) error {
	srv := a.tryRegister()
	if srv == nil {
		log.Info().Dur("interval", retryInterval).Msg("mdns registration failed, retrying in background")
		if srv = a.retry(ctx); srv == nil {
			return nil
		}
	}

	<-ctx.Done()
	log.Debug().Msg("withdrawing mdns record")
	srv.Shutdown()
	return nil
}

func (a *Advertiser) retry(ctx context.Context) Server {
	deadline := a.clock.Now().Add(maxRetryDuration)
	ticker := a.clock.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if srv := a.tryRegister(); srv != nil {
				return srv
			}
			if !a.clock.Now().Before(deadline) {
				log.Warn().Msg("giving up on mdns registration, discovery unavailable")
				return nil
			}
		}
	}
}

func (a *Advertiser) tryRegister() Server {
	all, err := a.interfaces()
	if err != nil {
		log.Debug().Err(err).Msg("failed to list network interfaces")
		return nil
	}
	ifaces := filterInterfaces(all)
	if len(ifaces) == 0 {
		log.Debug().Msg("no interface suitable for mdns")
		return nil
	}

	names := make([]string, len(ifaces))
	for i := range ifaces {
		names[i] = ifaces[i].Name
	}

	srv, err := a.register(a.instance, ServiceType, "local.", a.port, a.txt, ifaces)
	if err != nil {
		log.Debug().Err(err).Strs("interfaces", names).Msg("mdns registration attempt failed")
		return nil
	}
	log.Info().
		Str("instance", a.instance).
		Int("port", a.port).
		Strs("interfaces", names).
		Msg("advertising api over mdns")
	return srv
}

// filterInterfaces keeps interfaces that are up, multicast capable and
// neither loopback nor container bridges.
func filterInterfaces(ifaces []net.Interface) []net.Interface {
	var out []net.Interface
	for _, iface := range ifaces {
		switch {
		case iface.Flags&net.FlagUp == 0,
			iface.Flags&net.FlagLoopback != 0,
			iface.Flags&net.FlagMulticast == 0,
			isVirtual(iface.Name):
			continue
		}
		out = append(out, iface)
	}
	return out
}

func isVirtual(name string) bool {
	name = strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func instanceName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		log.Warn().Err(err).Msg("no host name, using default mdns instance name")
		return config.AppName
	}
	return host
}
