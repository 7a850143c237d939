// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package receipts reconciles concurrent read-receipt updates per
// user across the main timeline and any number of threads.
//
// Each (user, receipt type) pair holds one record for the main
// timeline and one per thread. Updates are merged under a per-slot
// monotonicity rule: a record is only superseded by one with a
// strictly greater timestamp, with a single deliberate asymmetry for
// the main timeline slot (see Store.AddReceipt). The asymmetry exists
// because legacy receipts arrive without a thread key and must be
// reconciled into the main slot without regressing freshness.
package receipts

import (
	"sync"

	"github.com/bureau-foundation/identity/lib/clock"
	"github.com/bureau-foundation/identity/lib/ref"
)

// Standard Matrix receipt types.
const (
	ReceiptTypeRead        = "m.read"
	ReceiptTypeReadPrivate = "m.read.private"
)

// ThreadKey scopes a receipt to the main timeline or a thread. The
// zero value means a legacy unthreaded receipt, which is merged into
// the main timeline slot but without the main slot's equal-timestamp
// precedence.
type ThreadKey string

// ThreadKeyMain marks a receipt explicitly scoped to the main
// timeline.
const ThreadKeyMain ThreadKey = "main"

// ThreadUnthreaded is the zero ThreadKey: a legacy receipt with no
// thread scoping.
const ThreadUnthreaded ThreadKey = ""

// Record is one read-receipt position.
type Record struct {
	EventID     ref.EventID
	TimestampMS int64
}

type slotKey struct {
	userID      string
	receiptType string
}

// Store merges receipt updates and answers read-up-to queries. Safe
// for concurrent use from multiple event-delivery paths.
type Store struct {
	timeSource clock.Clock

	mu      sync.RWMutex
	records map[slotKey]map[ThreadKey]Record
}

// NewStore creates an empty receipt store. timeSource stamps locally
// generated receipts; nil means the real clock.
func NewStore(timeSource clock.Clock) *Store {
	if timeSource == nil {
		timeSource = clock.Real()
	}
	return &Store{
		timeSource: timeSource,
		records:    map[slotKey]map[ThreadKey]Record{},
	}
}

// AddReceipt merges one receipt update into the (userID, receiptType)
// slot identified by threadKey. ThreadUnthreaded targets the main
// timeline slot.
//
// The update wins when its timestamp is strictly greater than the
// existing record's. At equal timestamps only an update explicitly
// scoped to the main timeline (ThreadKeyMain) takes precedence;
// thread-scoped and legacy unthreaded updates never displace an
// equally-fresh record. An older update is always dropped.
func (s *Store) AddReceipt(userID ref.UserID, receiptType string, eventID ref.EventID, timestampMS int64, threadKey ThreadKey) {
	slot := slotKey{userID: userID.String(), receiptType: receiptType}
	storageKey := threadKey
	if storageKey == ThreadUnthreaded {
		storageKey = ThreadKeyMain
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threads, ok := s.records[slot]
	if !ok {
		threads = map[ThreadKey]Record{}
		s.records[slot] = threads
	}

	existing, ok := threads[storageKey]
	if ok {
		if timestampMS < existing.TimestampMS {
			return
		}
		if timestampMS == existing.TimestampMS && threadKey != ThreadKeyMain {
			return
		}
	}
	threads[storageKey] = Record{EventID: eventID, TimestampMS: timestampMS}
}

// AddLocalReceipt merges a locally generated receipt, stamped with
// the store's clock.
func (s *Store) AddLocalReceipt(userID ref.UserID, receiptType string, eventID ref.EventID, threadKey ThreadKey) {
	s.AddReceipt(userID, receiptType, eventID, s.timeSource.Now().UnixMilli(), threadKey)
}

// GetReadUpTo returns the main-timeline read position for the user
// and receipt type. Thread records are never returned here.
func (s *Store) GetReadUpTo(userID ref.UserID, receiptType string) (ref.EventID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[slotKey{userID: userID.String(), receiptType: receiptType}][ThreadKeyMain]
	if !ok {
		return ref.EventID{}, false
	}
	return record.EventID, true
}

// GetThreadReadUpTo returns the read position for a specific thread.
func (s *Store) GetThreadReadUpTo(userID ref.UserID, receiptType string, threadKey ThreadKey) (ref.EventID, bool) {
	if threadKey == ThreadUnthreaded {
		threadKey = ThreadKeyMain
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[slotKey{userID: userID.String(), receiptType: receiptType}][threadKey]
	if !ok {
		return ref.EventID{}, false
	}
	return record.EventID, true
}
