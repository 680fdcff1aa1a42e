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


package discovery

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeServer struct {
	shutdowns atomic.Int32
}

func (f *fakeServer) Shutdown() { f.shutdowns.Add(1) }

const lanFlags = net.FlagUp | net.FlagMulticast

func lan() ([]net.Interface, error) {
	return []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback | net.FlagMulticast},
		{Name: "wlan0", Flags: lanFlags},
	}, nil
}

func newTestAdvertiser(t *testing.T, clock clockwork.Clock, reg Registrar) *Advertiser {
	t.Helper()
	a, err := New(Options{Instance: "garage-tcd", Listen: ":7498", DeviceID: "abc"}, clock)
	require.NoError(t, err)
	a.register = reg
	a.interfaces = lan
	return a
}

func TestNew(t *testing.T) {
	t.Parallel()

	a, err := New(Options{Instance: "tcd-1", Listen: "127.0.0.1:8080"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tcd-1", a.Instance())
	assert.Equal(t, 8080, a.Port())

	_, err = New(Options{Listen: "7498"}, nil)
	require.Error(t, err)
	_, err = New(Options{Listen: ":http"}, nil)
	require.Error(t, err)

	a, err = New(Options{Listen: ":7498"}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Instance())
}

func TestFilterInterfaces(t *testing.T) {
	t.Parallel()

	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagUp | net.FlagLoopback | net.FlagMulticast},
		{Name: "eth0", Flags: lanFlags},
		{Name: "wlan0", Flags: net.FlagMulticast},
		{Name: "docker0", Flags: lanFlags},
		{Name: "veth12ab", Flags: lanFlags},
		{Name: "ppp0", Flags: net.FlagUp},
		{Name: "WG0", Flags: lanFlags},
	}

	got := filterInterfaces(ifaces)
	require.Len(t, got, 1)
	assert.Equal(t, "eth0", got[0].Name)
}

func TestRun_RegistersAndWithdraws(t *testing.T) {
	t.Parallel()

	srv := &fakeServer{}
	var gotPort int
	var gotIfaces []string
	a := newTestAdvertiser(t, clockwork.NewFakeClock(), func(
		instance, service, domain string, port int, txt []string, ifaces []net.Interface,
	) (Server, error) {
		assert.Equal(t, "garage-tcd", instance)
		assert.Equal(t, ServiceType, service)
		assert.Equal(t, "local.", domain)
		assert.Contains(t, txt, "id=abc")
		gotPort = port
		for _, i := range ifaces {
			gotIfaces = append(gotIfaces, i.Name)
		}
		return srv, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 7498, gotPort)
	assert.Equal(t, []string{"wlan0"}, gotIfaces)
	assert.Equal(t, int32(1), srv.shutdowns.Load())
}

func TestRun_RetriesUntilNetworkUp(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	srv := &fakeServer{}
	var attempts atomic.Int32
	a := newTestAdvertiser(t, clock, func(
		string, string, string, int, []string, []net.Interface,
	) (Server, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("no route")
		}
		return srv, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	for want := int32(2); want <= 3; want++ {
		clock.Advance(retryInterval)
		require.Eventually(t, func() bool { return attempts.Load() == want }, time.Second, time.Millisecond)
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int32(1), srv.shutdowns.Load())
}

func TestRun_GivesUp(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	var attempts atomic.Int32
	a := newTestAdvertiser(t, clock, func(
		string, string, string, int, []string, []net.Interface,
	) (Server, error) {
		attempts.Add(1)
		return nil, errors.New("no route")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(maxRetryDuration)

	// a single late tick past the deadline ends the retries
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("advertiser kept retrying past the deadline")
	}
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}
