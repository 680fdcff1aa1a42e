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

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRemoteIP(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "192.168.1.5", ParseRemoteIP("192.168.1.5:41234").String())
	assert.Equal(t, "::1", ParseRemoteIP("[::1]:80").String())
	assert.Equal(t, "10.0.0.1", ParseRemoteIP("10.0.0.1").String())
	assert.Nil(t, ParseRemoteIP("not-an-ip"))
}

func TestIPRateLimiter_Burst(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiter(clock)

	for i := range BurstSize {
		assert.True(t, limiter.Allow("192.168.1.100"), "request %d within burst", i+1)
	}
	assert.False(t, limiter.Allow("192.168.1.100"))

	// other clients have their own bucket
	assert.True(t, limiter.Allow("192.168.1.101"))

	// one token per second comes back
	clock.Advance(time.Second)
	assert.True(t, limiter.Allow("192.168.1.100"))
	assert.False(t, limiter.Allow("192.168.1.100"))
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiter(clock)

	limiter.Allow("10.0.0.1")
	clock.Advance(6 * time.Minute)
	limiter.Allow("10.0.0.2")
	clock.Advance(6 * time.Minute)

	limiter.Cleanup()
	assert.Equal(t, 1, limiter.Len())
}

func TestIPRateLimiter_RunCleanup(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	limiter := NewIPRateLimiter(clock)
	limiter.Allow("10.0.0.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.RunCleanup(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(11 * time.Minute)
	require.Eventually(t, func() bool { return limiter.Len() == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestHTTPRateLimitMiddleware(t *testing.T) {
	t.Parallel()

	limiter := NewIPRateLimiter(clockwork.NewFakeClock())
	handler := HTTPRateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make(map[int]int)
	for range BurstSize + 5 {
		req := httptest.NewRequest(http.MethodGet, "/api/time", http.NoBody)
		req.RemoteAddr = "192.168.1.20:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes[rec.Code]++
	}

	assert.Equal(t, BurstSize, codes[http.StatusOK])
	assert.Equal(t, 5, codes[http.StatusTooManyRequests])
}
