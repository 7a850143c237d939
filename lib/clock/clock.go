// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts wall-clock reads for testability.
// Production code injects Real(); tests inject NewFake() with
// deterministic time control.
//
// The only operation this module needs from the clock is Now —
// receipt timestamps and bootstrap duration measurement are the sole
// time consumers, and neither sleeps or schedules. Code that calls
// time.Now directly cannot be tested for timestamp-dependent behavior
// (receipt monotonicity at controlled instants), so every production
// type that needs the current time takes a Clock.
package clock

import (
	"sync"
	"time"
)

// Clock provides the current time. Production code uses Real();
// tests use NewFake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

// Real returns a Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fake is a manually-controlled Clock for tests. Time never advances
// on its own; use Advance or Set.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock starting at a fixed, arbitrary instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set moves the fake clock to the given instant.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
