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
	"time"

	"github.com/jonboulle/clockwork"
)

// RetryConfig controls how often and how patiently RetryUntil reads.
type RetryConfig struct {
	// Delay returns the pause before the given retry (1-based).
	Delay       func(retry int) time.Duration
	MaxAttempts int
}

// StepDelay waits short for the first n retries and long afterwards.
func StepDelay(short time.Duration, n int, long time.Duration) func(int) time.Duration {
	return func(retry int) time.Duration {
		if retry <= n {
			return short
		}
		return long
	}
}

// RetryResult is the outcome of RetryUntil. Value holds the last value
// read even when OK is false.
type RetryResult[T any] struct {
	Value    T
	Attempts int
	OK       bool
}

// Retries is the number of reads beyond the first.
func (r RetryResult[T]) Retries() int {
	if r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}

// RetryUntil calls read until it returns a value accepted by valid or
// the attempts run out. Read errors count as rejected values.
func RetryUntil[T any](
	clock clockwork.Clock,
	cfg RetryConfig,
	read func() (T, error),
	valid func(T) bool,
) RetryResult[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var res RetryResult[T]
	for i := 1; i <= attempts; i++ {
		v, err := read()
		res.Attempts = i
		if err == nil {
			res.Value = v
			if valid(v) {
				res.OK = true
				return res
			}
		}
		if i < attempts && cfg.Delay != nil {
			clock.Sleep(cfg.Delay(i))
		}
	}
	return res
}
