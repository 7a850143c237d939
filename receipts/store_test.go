// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receipts

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/identity/lib/clock"
	"github.com/bureau-foundation/identity/lib/ref"
)

var (
	alice = ref.MustParseUserID("@alice:test.local")
	bob   = ref.MustParseUserID("@bob:test.local")

	event1 = ref.MustParseEventID("$event1")
	event2 = ref.MustParseEventID("$event2")
	event3 = ref.MustParseEventID("$event3")
)

func requireReadUpTo(t *testing.T, store *Store, userID ref.UserID, want ref.EventID) {
	t.Helper()
	got, ok := store.GetReadUpTo(userID, ReceiptTypeRead)
	if !ok {
		t.Fatalf("expected a main-timeline record for %s", userID)
	}
	if got != want {
		t.Errorf("GetReadUpTo = %s, want %s", got, want)
	}
}

func TestOlderUnthreadedNeverClobbersMain(t *testing.T) {
	store := NewStore(nil)
	store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKeyMain)
	store.AddReceipt(alice, ReceiptTypeRead, event2, 90, ThreadUnthreaded)
	requireReadUpTo(t, store, alice, event1)
}

func TestThreadMonotonicity(t *testing.T) {
	store := NewStore(nil)
	store.AddReceipt(alice, ReceiptTypeRead, event1, 50, ThreadKey("$threadA"))
	store.AddReceipt(alice, ReceiptTypeRead, event2, 40, ThreadKey("$threadA"))

	got, ok := store.GetThreadReadUpTo(alice, ReceiptTypeRead, ThreadKey("$threadA"))
	if !ok || got != event1 {
		t.Errorf("thread record = (%s, %v), want %s", got, ok, event1)
	}
}

func TestEqualTimestampPrecedence(t *testing.T) {
	t.Run("explicit main wins at equal timestamp", func(t *testing.T) {
		store := NewStore(nil)
		store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadUnthreaded)
		store.AddReceipt(alice, ReceiptTypeRead, event2, 100, ThreadKeyMain)
		requireReadUpTo(t, store, alice, event2)
	})

	t.Run("unthreaded loses at equal timestamp", func(t *testing.T) {
		store := NewStore(nil)
		store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKeyMain)
		store.AddReceipt(alice, ReceiptTypeRead, event2, 100, ThreadUnthreaded)
		requireReadUpTo(t, store, alice, event1)
	})

	t.Run("thread update loses at equal timestamp", func(t *testing.T) {
		store := NewStore(nil)
		store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKey("$threadA"))
		store.AddReceipt(alice, ReceiptTypeRead, event2, 100, ThreadKey("$threadA"))

		got, _ := store.GetThreadReadUpTo(alice, ReceiptTypeRead, ThreadKey("$threadA"))
		if got != event1 {
			t.Errorf("thread record = %s, want %s", got, event1)
		}
	})
}

func TestNewerUpdateWins(t *testing.T) {
	store := NewStore(nil)
	store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKeyMain)
	store.AddReceipt(alice, ReceiptTypeRead, event2, 110, ThreadUnthreaded)
	requireReadUpTo(t, store, alice, event2)

	store.AddReceipt(alice, ReceiptTypeRead, event3, 120, ThreadKeyMain)
	requireReadUpTo(t, store, alice, event3)
}

func TestThreadsAreIndependent(t *testing.T) {
	store := NewStore(nil)
	store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKeyMain)
	store.AddReceipt(alice, ReceiptTypeRead, event2, 200, ThreadKey("$threadA"))
	store.AddReceipt(alice, ReceiptTypeRead, event3, 300, ThreadKey("$threadB"))

	// A fresher thread record never leaks into the main answer.
	requireReadUpTo(t, store, alice, event1)

	gotA, _ := store.GetThreadReadUpTo(alice, ReceiptTypeRead, ThreadKey("$threadA"))
	gotB, _ := store.GetThreadReadUpTo(alice, ReceiptTypeRead, ThreadKey("$threadB"))
	if gotA != event2 || gotB != event3 {
		t.Errorf("thread records = (%s, %s), want (%s, %s)", gotA, gotB, event2, event3)
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	store := NewStore(nil)
	store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKeyMain)
	store.AddReceipt(alice, ReceiptTypeReadPrivate, event2, 100, ThreadKeyMain)
	store.AddReceipt(bob, ReceiptTypeRead, event3, 100, ThreadKeyMain)

	requireReadUpTo(t, store, alice, event1)
	got, _ := store.GetReadUpTo(alice, ReceiptTypeReadPrivate)
	if got != event2 {
		t.Errorf("private receipt = %s, want %s", got, event2)
	}
	requireReadUpTo(t, store, bob, event3)
}

func TestGetReadUpToAbsent(t *testing.T) {
	store := NewStore(nil)
	if _, ok := store.GetReadUpTo(alice, ReceiptTypeRead); ok {
		t.Error("expected no record for an empty store")
	}

	store.AddReceipt(alice, ReceiptTypeRead, event1, 100, ThreadKey("$threadA"))
	if _, ok := store.GetReadUpTo(alice, ReceiptTypeRead); ok {
		t.Error("a thread-only store must report no main record")
	}
}

func TestAddLocalReceipt(t *testing.T) {
	fake := clock.NewFake()
	store := NewStore(fake)

	store.AddLocalReceipt(alice, ReceiptTypeRead, event1, ThreadKeyMain)
	requireReadUpTo(t, store, alice, event1)

	// Same clock instant: a later local main receipt still wins (main
	// precedence at equal timestamps).
	store.AddLocalReceipt(alice, ReceiptTypeRead, event2, ThreadKeyMain)
	requireReadUpTo(t, store, alice, event2)

	// A remote receipt older than the local one is dropped.
	older := fake.Now().UnixMilli() - 1000
	store.AddReceipt(alice, ReceiptTypeRead, event1, older, ThreadKeyMain)
	requireReadUpTo(t, store, alice, event2)

	fake.Advance(5 * time.Second)
	store.AddLocalReceipt(alice, ReceiptTypeRead, event3, ThreadUnthreaded)
	requireReadUpTo(t, store, alice, event3)
}

func TestConcurrentUpdates(t *testing.T) {
	store := NewStore(nil)

	var group sync.WaitGroup
	for worker := range 8 {
		group.Add(1)
		go func() {
			defer group.Done()
			threadKey := ThreadKey(fmt.Sprintf("$thread%d", worker))
			for i := range 100 {
				store.AddReceipt(alice, ReceiptTypeRead, event1, int64(i), threadKey)
				store.AddReceipt(alice, ReceiptTypeRead, event2, int64(i), ThreadKeyMain)
			}
		}()
	}
	group.Wait()

	requireReadUpTo(t, store, alice, event2)
	for worker := range 8 {
		threadKey := ThreadKey(fmt.Sprintf("$thread%d", worker))
		if _, ok := store.GetThreadReadUpTo(alice, ReceiptTypeRead, threadKey); !ok {
			t.Errorf("missing record for %s", threadKey)
		}
	}
}
