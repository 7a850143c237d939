// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

func TestRealNow(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real().Now() = %v, want between %v and %v", got, before, after)
	}
}

func TestFakeAdvance(t *testing.T) {
	fake := NewFake()
	start := fake.Now()

	fake.Advance(90 * time.Second)

	if got := fake.Now().Sub(start); got != 90*time.Second {
		t.Errorf("after Advance(90s), elapsed = %v", got)
	}

	// Time does not advance on its own.
	if fake.Now() != fake.Now() {
		t.Error("fake clock advanced without Advance")
	}
}

func TestFakeSet(t *testing.T) {
	fake := NewFake()
	instant := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	fake.Set(instant)
	if fake.Now() != instant {
		t.Errorf("Now() = %v, want %v", fake.Now(), instant)
	}
}
