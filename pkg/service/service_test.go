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

package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZaparooProject/tcd-core/pkg/audio"
	"github.com/ZaparooProject/tcd-core/pkg/calendar"
	"github.com/ZaparooProject/tcd-core/pkg/config"
	"github.com/ZaparooProject/tcd-core/pkg/display"
	"github.com/ZaparooProject/tcd-core/pkg/gps"
	"github.com/ZaparooProject/tcd-core/pkg/mqttbridge"
	"github.com/ZaparooProject/tcd-core/pkg/rtc"
	"github.com/ZaparooProject/tcd-core/pkg/settings"
	"github.com/ZaparooProject/tcd-core/pkg/timetravel"
	"github.com/ZaparooProject/tcd-core/pkg/tz"
	"github.com/ZaparooProject/tcd-core/pkg/zonehint"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const cfgDir = "/etc/tcd"

type testEnv struct {
	svc    *Service
	cfg    *config.Instance
	clock  *clockwork.FakeClock
	player *fakePlayer
	fs     afero.Fs
	done   chan error
	cancel context.CancelFunc
}

func startService(t *testing.T, at time.Time, cfgBody string) *testEnv {
	t.Helper()

	fs := afero.NewMemMapFs()
	if cfgBody != "" {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(cfgDir, config.CfgFile), []byte(cfgBody), 0o600))
	}
	cfg, err := config.NewConfig(fs, cfgDir, config.BaseDefaults)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(at)
	player := &fakePlayer{}
	svc, err := New(cfg, Options{
		Clock:        clock,
		Fs:           fs,
		RTC:          rtc.NewSoft(clock, time.UTC),
		Store:        settings.NewMemory(),
		Network:      fakeNet{},
		NTPTransport: fakeTransport{},
		Player:       player,
		Hinter:       fakeHinter{hint: zonehint.Hint{Name: "America/Los_Angeles", POSIX: "PST8PDT,M3.2.0,M11.1.0"}},
		Headless:     true,
		DisableAPI:   true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{
		svc:    svc,
		cfg:    cfg,
		clock:  clock,
		player: player,
		fs:     fs,
		done:   make(chan error, 1),
		cancel: cancel,
	}
	go func() { env.done <- svc.Run(ctx) }()
	t.Cleanup(env.stop)

	// the first answered request means boot is over and the loop runs
	_, err = svc.Status(ctx)
	require.NoError(t, err)
	return env
}

func (e *testEnv) stop() {
	e.cancel()
	<-e.done
}

func TestService_Status(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")

	st, err := env.svc.Status(context.Background())
	require.NoError(t, err)
	want := calendar.DateTime{Year: 2025, Month: 6, Day: 15, Hour: 12, Minute: 30}
	assert.Equal(t, want, st.Real)
	assert.Equal(t, want, st.Present)
	assert.False(t, st.HaveAuth)
	assert.False(t, st.InTravel)
}

func TestService_Zones(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")
	ctx := context.Background()

	require.NoError(t, env.svc.SetZone(ctx, 1, "JST-9", "TOKYO"))
	assert.Equal(t, "JST-9", env.cfg.Zones()[1])
	assert.Equal(t, "TOKYO", env.cfg.ZoneNames()[1])

	zones, err := env.svc.Zones(ctx)
	require.NoError(t, err)
	require.Len(t, zones, tz.Slots)
	assert.Equal(t, "JST-9", zones[1].Definition)
	assert.Equal(t, "TOKYO", zones[1].Name)
	assert.Equal(t, "valid", zones[1].Validity)
	assert.True(t, zones[1].WorldClock)
	assert.False(t, zones[2].WorldClock)

	dt, ok, err := env.svc.ZoneTime(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, calendar.DateTime{Year: 2025, Month: 6, Day: 15, Hour: 21, Minute: 30}, dt)

	_, ok, err = env.svc.ZoneTime(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	// unusable zones are stored but stay out of the world clock
	require.ErrorIs(t, env.svc.SetZone(ctx, 2, "garbage", ""), tz.ErrInvalidZone)
	assert.Equal(t, "garbage", env.cfg.Zones()[2])
	zones, err = env.svc.Zones(ctx)
	require.NoError(t, err)
	assert.Equal(t, "invalid", zones[2].Validity)

	// and the file on disk has the new zones
	again, err := config.NewConfig(env.fs, cfgDir, config.BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, "JST-9", again.Zones()[1])
}

func TestService_TimeTravel(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")
	ctx := context.Background()

	dest := calendar.DateTime{Year: 1955, Month: 11, Day: 5, Hour: 6}
	require.NoError(t, env.svc.TimeTravel(ctx, &dest))
	require.ErrorIs(t, env.svc.TimeTravel(ctx, nil), timetravel.ErrBusy)

	require.Eventually(t, func() bool {
		env.clock.Advance(time.Second)
		st, err := env.svc.Status(ctx)
		return err == nil && !st.InTravel && !st.Offset.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	st, err := env.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1955, st.Present.Year)
	assert.Equal(t, 2025, st.Real.Year)
	assert.Equal(t, []audio.Sound{audio.SoundDeparture, audio.SoundReentry}, env.player.sounds())

	require.NoError(t, env.svc.ReturnToPresent(ctx))
	require.Eventually(t, func() bool {
		env.clock.Advance(time.Second)
		st, err := env.svc.Status(ctx)
		return err == nil && !st.InTravel && st.Offset.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, env.player.sounds(), audio.SoundReturn)
}

func TestService_HourlyChime(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 59, 58, 0, time.UTC), "")

	assert.Empty(t, env.player.sounds())
	env.clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return len(env.player.sounds()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, audio.SoundHourly, env.player.sounds()[0])
}

func TestService_TickFollowsSecondChange(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 59, 59, 950*int(time.Millisecond), time.UTC), "")

	// one poll interval crosses into the next second
	env.clock.Advance(pollInterval)

	require.Eventually(t, func() bool {
		return len(env.player.sounds()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	st, err := env.svc.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, calendar.DateTime{Year: 2025, Month: 6, Day: 15, Hour: 13}, st.Present)
}

func TestService_HourlyChimeDisabled(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 59, 58, 0, time.UTC),
		"config_schema = 1\n[audio]\nhourly_sound = \"\"\n")

	env.clock.Advance(2 * time.Second)
	_, err := env.svc.Status(context.Background())
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	_, err = env.svc.Status(context.Background())
	require.NoError(t, err)

	assert.Empty(t, env.player.sounds())
}

func TestService_Commands(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")
	ctx := context.Background()

	env.svc.onCommand(mqttbridge.Command{Kind: mqttbridge.CmdSetTZ, Slot: 2, TZ: "CET-1CEST,M3.5.0,M10.5.0/3"})
	assert.Equal(t, "CET-1CEST,M3.5.0,M10.5.0/3", env.cfg.Zones()[2])

	env.svc.onCommand(mqttbridge.Command{Kind: mqttbridge.CmdSync})

	env.svc.onCommand(mqttbridge.Command{Kind: mqttbridge.CmdTimeTravel})
	st, err := env.svc.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.InTravel)

	// a second travel while the first runs is ignored
	env.svc.onCommand(mqttbridge.Command{Kind: mqttbridge.CmdTimeTravel})
}

func TestService_ConfigReload(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")
	ctx := context.Background()

	body := "config_schema = 1\n[time]\nzones = [\"\", \"EST5EDT,M3.2.0,M11.1.0\", \"\"]\nzone_names = [\"\", \"NEW YORK\", \"\"]\n"
	require.NoError(t, afero.WriteFile(env.fs, env.cfg.Path(), []byte(body), 0o600))
	require.NoError(t, env.cfg.Load())
	require.NoError(t, env.svc.do(ctx, env.svc.applyConfig))

	zones, err := env.svc.Zones(ctx)
	require.NoError(t, err)
	assert.Equal(t, "EST5EDT,M3.2.0,M11.1.0", zones[1].Definition)
	assert.Equal(t, "NEW YORK", zones[1].Name)
	assert.True(t, zones[1].WorldClock)

	env.player.mu.Lock()
	assert.Equal(t, 1, env.player.cleared)
	env.player.mu.Unlock()
}

func TestService_ZoneHint(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")

	_, ok := env.svc.ZoneHint()
	assert.False(t, ok)

	env.svc.hintReq <- gps.Position{Lat: 34.1381, Lng: -118.3534}
	require.Eventually(t, func() bool {
		_, ok := env.svc.ZoneHint()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	hint, _ := env.svc.ZoneHint()
	assert.Equal(t, "America/Los_Angeles", hint.Name)
	assert.InDelta(t, 34.1381, hint.Lat, 1e-9)
}

func TestService_QuitKey(t *testing.T) {
	t.Parallel()
	env := startService(t, time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC), "")

	env.svc.onKey(display.KeyQuit)
	select {
	case err := <-env.done:
		require.NoError(t, err)
		env.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	_, err := env.svc.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestStart_Stop(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	cfg, err := config.NewConfig(fs, cfgDir, config.BaseDefaults)
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	stop, done, err := Start(cfg, Options{
		Clock:        clock,
		Fs:           fs,
		RTC:          rtc.NewSoft(clock, time.UTC),
		Store:        settings.NewMemory(),
		Network:      fakeNet{},
		NTPTransport: fakeTransport{},
		Player:       &fakePlayer{},
		Headless:     true,
		DisableAPI:   true,
	})
	require.NoError(t, err)
	require.NoError(t, stop())

	select {
	case <-done:
	default:
		t.Fatal("done not closed after stop")
	}
}
