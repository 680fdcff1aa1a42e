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

// Package service runs the time circuits: it owns the time core and
// drives it from a single loop goroutine, next to the API, MQTT bridge,
// terminal display and config watcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/api"
	"github.com/ZaparooProject/tcd-core/pkg/audio"
	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/ZaparooProject/tcd-core/pkg/display"
	"github.com/ZaparooProject/tcd-core/pkg/gps"
	"github.com/ZaparooProject/tcd-core/pkg/helpers/syncutil"
	"github.com/ZaparooProject/tcd-core/pkg/mqttbridge"
	"github.com/ZaparooProject/tcd-core/pkg/netstate"
	"github.com/ZaparooProject/tcd-core/pkg/ntp"
	"github.com/ZaparooProject/tcd-core/pkg/rtc"
	"github.com/ZaparooProject/tcd-core/pkg/service/discovery"
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/timesync"
	"github.com/ZaparooProject/tcd-core/pkg/timetravel"
	"github.com/ZaparooProject/tcd-core/pkg/zonehint"
	"github.com/gdamore/tcell/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	pollInterval = 100 * time.Millisecond
	cmdQueueSize = 8
)

var ErrStopped = errors.New("service stopped")

// DefaultDestination is where a time travel goes when none was given.
var DefaultDestination = calendar.DateTime{Year: 1985, Month: 10, Day: 26, Hour: 1, Minute: 21}

// Player plays the prop's sounds.
type Player interface {
	Playing() bool
	PlayConfigured(path string, fallback audio.Sound)
	ClearFileCache()
}

// ZoneHinter finds the time zone at a position.
type ZoneHinter interface {
	Lookup(lat, lng float64) (zonehint.Hint, error)
}

// Options replace the hardware and outer surfaces. Zero values pick the
// real implementation as configured.
type Options struct {
	Clock        clockwork.Clock
	Fs           afero.Fs
	RTC          rtc.Device
	Store        timesync.StateStore
	Network      timesync.Network
	NTPTransport ntp.Transport
	GPSPorts     gps.SerialPortFactory
	MQTTClients  mqttbridge.ClientFactory
	Player       Player
	Hinter       ZoneHinter
	Screen       tcell.Screen
	DataDir      string
	// DeviceID is advertised with the API over mDNS.
	DeviceID string
	// Headless skips the terminal display.
	Headless   bool
	DisableAPI bool
}

type Service struct {
	cfg     *config.Instance
	clock   clockwork.Clock
	core    *timesync.Context
	travel  *timetravel.Sequencer
	ntp     *ntp.Client
	gps     *gps.Receiver
	player  Player
	term    *display.Terminal
	bridge  *mqttbridge.Bridge
	server  *api.Server
	mdns    *discovery.Advertiser
	hinter  ZoneHinter
	fs      afero.Fs
	cmds    chan func()
	hintReq chan gps.Position
	stopped chan struct{}
	cancel  context.CancelFunc
	closers []io.Closer

	// owned by the loop goroutine
	dest       calendar.DateTime
	lastChime  int
	lastMinute int
	returning  bool
	hintAsked  bool

	hintMu   syncutil.RWMutex
	hint     zonehint.Hint
	haveHint bool
}

// New sets up the hardware and collaborators. Nothing runs until Run.
func New(cfg *config.Instance, opts Options) (*Service, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	s := &Service{
		cfg:        cfg,
		clock:      clock,
		fs:         fs,
		hinter:     opts.Hinter,
		cmds:       make(chan func(), cmdQueueSize),
		hintReq:    make(chan gps.Position, 1),
		stopped:    make(chan struct{}),
		dest:       DefaultDestination,
		lastChime:  -1,
		lastMinute: -1,
	}

	deps := timesync.Deps{Clock: clock}

	dev, err := s.openRTC(opts)
	if err != nil {
		s.close()
		return nil, err
	}
	deps.RTC = dev

	deps.Store = opts.Store
	if deps.Store == nil {
		store, err := settings.Open(opts.DataDir)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		s.closers = append(s.closers, store)
		deps.Store = store
	}

	network := opts.Network
	if network == nil {
		nc := cfg.Network()
		network = netstate.New(nc.Interface, nc.StationConfigured, clock)
	}
	deps.Network = network

	if cfg.NTPServer() != "" {
		transport := opts.NTPTransport
		if transport == nil {
			udp, err := ntp.ListenUDP()
			if err != nil {
				s.close()
				return nil, err
			}
			s.closers = append(s.closers, udp)
			transport = udp
		}
		s.ntp = ntp.NewClient(transport, cfg.NTPServer(), func() bool {
			return network.State() == netstate.Connected
		}, clock)
		deps.NTP = s.ntp
	}

	if cfg.GPSEnabled() {
		s.openGPS(opts)
		if s.gps != nil {
			deps.GPS = s.gps
		}
	}

	s.player = opts.Player
	if s.player == nil {
		s.player = audio.NewMalgoPlayer(fs)
	}
	deps.Audio = s.player

	if cfg.Display().Terminal && !opts.Headless {
		s.term = display.NewTerminal(display.Options{
			OnKey:  s.onKey,
			Screen: opts.Screen,
			Speedo: cfg.Display().Speedo,
		}, clock)
		deps.Display = s.term
		deps.Input = s.term
	}

	if mc := cfg.MQTT(); mc.Enabled {
		s.bridge = mqttbridge.New(mc, cfg.Auth(mc.Broker), s.onCommand)
		if opts.MQTTClients != nil {
			s.bridge.SetClientFactory(opts.MQTTClients)
		}
		deps.Notifier = s.bridge
	}

	s.core = timesync.New(timesync.Options{
		Zones:                cfg.Zones(),
		ZoneNames:            cfg.ZoneNames(),
		DSTCheckInterval:     cfg.DSTCheckInterval(),
		TimeTravelPersistent: cfg.TimeTravelPersistent(),
	}, deps)

	s.travel = timetravel.New(s.core, timetravel.Options{
		OnPhase: s.onPhase,
		Speedo:  cfg.Display().Speedo,
	}, clock)

	if !opts.DisableAPI {
		s.server = api.NewServer(cfg, s, clock)
		if cfg.DiscoveryEnabled() {
			s.mdns, err = discovery.New(discovery.Options{
				Instance: cfg.DiscoveryInstanceName(),
				Listen:   cfg.APIListen(),
				DeviceID: opts.DeviceID,
			}, clock)
			if err != nil {
				log.Warn().Err(err).Msg("api will not be advertised")
			}
		}
	}

	return s, nil
}

func (s *Service) openRTC(opts Options) (rtc.Device, error) {
	if opts.RTC != nil {
		return opts.RTC, nil
	}
	rc := s.cfg.RTC()
	if rc.Driver == config.RTCDriverSoft {
		return rtc.NewSoft(s.clock, time.Local), nil
	}
	dev, bus, err := rtc.OpenI2C(rc.Driver, rc.Bus, rc.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s rtc: %w", rc.Driver, err)
	}
	s.closers = append(s.closers, bus)
	return dev, nil
}

// openGPS leaves s.gps nil when the receiver cannot be opened; the clock
// then runs on NTP and the RTC alone.
func (s *Service) openGPS(opts Options) {
	gc := s.cfg.GPS()
	rx := gps.NewReceiver(s.clock)
	if opts.GPSPorts != nil {
		rx.SetPortFactory(opts.GPSPorts)
	}
	if err := rx.Open(gc.Path, gc.BaudRate); err != nil {
		log.Warn().Err(err).Msg("gps receiver not available")
		return
	}
	log.Info().Str("path", rx.Path()).Msg("gps receiver opened")
	s.gps = rx
	s.closers = append(s.closers, rx)
}

// Run boots the time core and serves until ctx is cancelled or a
// component fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer s.close()

	log.Info().Msgf("version: %s", config.AppVersion)

	if s.bridge != nil {
		if err := s.bridge.Start(); err != nil {
			log.Error().Err(err).Msg("mqtt bridge failed to start, continuing without it")
			s.bridge = nil
		} else {
			defer s.bridge.Stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(s.stopped)
		if err := s.core.Boot(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("boot failed: %w", err)
		}
		return s.loop(gctx)
	})

	if s.server != nil {
		g.Go(func() error { return s.server.Run(gctx) })
	}
	if s.mdns != nil {
		g.Go(func() error { return s.mdns.Run(gctx) })
	}
	if s.term != nil {
		g.Go(func() error { return s.term.Run(gctx) })
	}
	g.Go(func() error {
		return s.cfg.Watch(gctx, func(*config.Instance) {
			s.post(gctx, s.applyConfig)
		})
	})
	g.Go(func() error {
		s.hintWorker(gctx)
		return nil
	})

	err := g.Wait()
	log.Info().Msg("service stopped")
	return err
}

// loop runs the time core. The once per second work runs on the first
// poll after the wall clock second changes.
func (s *Service) loop(ctx context.Context) error {
	poll := s.clock.NewTicker(pollInterval)
	defer poll.Stop()

	log.Info().Msg("time core running")
	s.afterTick()
	lastSec := s.clock.Now().Unix()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.cmds:
			fn()
		case <-poll.Chan():
			s.core.Poll()
			s.travel.Tick()
			if sec := s.clock.Now().Unix(); sec != lastSec {
				lastSec = sec
				s.core.Tick()
				s.afterTick()
			}
		}
	}
}

func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("error closing device")
		}
	}
	s.closers = nil
}

// Start runs a service in the background. stop cancels it and waits for
// the cleanup, done is closed once it has ended for any reason.
func Start(cfg *config.Instance, opts Options) (stop func() error, done <-chan struct{}, err error) {
	s, err := New(cfg, opts)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	var runErr error
	go func() {
		defer close(doneCh)
		runErr = s.Run(ctx)
		if runErr != nil {
			log.Error().Err(runErr).Msg("service failed")
		}
	}()

	stop = func() error {
		cancel()
		<-doneCh
		return runErr
	}
	return stop, doneCh, nil
}
