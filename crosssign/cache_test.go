// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/identity/lib/ref"
)

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pickleKey := testSeedBuffer(t, PickleKeySize)

	cache, err := NewCache(dir, pickleKey, testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}

	master := testSeedBuffer(t, ed25519.SeedSize)
	selfSigning := testSeedBuffer(t, ed25519.SeedSize)
	userSigning := testSeedBuffer(t, ed25519.SeedSize)

	if err := cache.Save(master, selfSigning, userSigning); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loadedMaster, loadedSelf, loadedUser, err := cache.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer loadedMaster.Close()
	defer loadedSelf.Close()
	defer loadedUser.Close()

	if !bytes.Equal(loadedMaster.Bytes(), master.Bytes()) {
		t.Error("master seed did not round-trip")
	}
	if !bytes.Equal(loadedSelf.Bytes(), selfSigning.Bytes()) {
		t.Error("self-signing seed did not round-trip")
	}
	if !bytes.Equal(loadedUser.Bytes(), userSigning.Bytes()) {
		t.Error("user-signing seed did not round-trip")
	}
}

func TestCacheMiss(t *testing.T) {
	cache, err := NewCache(t.TempDir(), testSeedBuffer(t, PickleKeySize), testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	if _, _, _, err := cache.Load(); !errors.Is(err, ErrNoCachedKeys) {
		t.Fatalf("expected ErrNoCachedKeys, got: %v", err)
	}
}

func TestCacheWrongPickleKey(t *testing.T) {
	dir := t.TempDir()

	writer, err := NewCache(dir, testSeedBuffer(t, PickleKeySize), testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	seed := testSeedBuffer(t, ed25519.SeedSize)
	if err := writer.Save(seed, seed, seed); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A different pickle key derives a different filename, so the
	// reader simply never finds the file.
	reader, err := NewCache(dir, testSeedBuffer(t, PickleKeySize), testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	if _, _, _, err := reader.Load(); !errors.Is(err, ErrNoCachedKeys) {
		t.Fatalf("expected ErrNoCachedKeys under a different pickle key, got: %v", err)
	}
}

func TestCacheRejectsTampering(t *testing.T) {
	dir := t.TempDir()
	pickleKey := testSeedBuffer(t, PickleKeySize)

	cache, err := NewCache(dir, pickleKey, testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	seed := testSeedBuffer(t, ed25519.SeedSize)
	if err := cache.Save(seed, seed, seed); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one cache file, got %d (err: %v)", len(entries), err)
	}
	path := filepath.Join(dir, entries[0].Name())
	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cache file: %v", err)
	}
	blob[len(blob)-1] ^= 0x01
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("writing tampered file: %v", err)
	}

	if _, _, _, err := cache.Load(); err == nil {
		t.Fatal("expected authentication failure for tampered cache file")
	}
}

func TestCacheBoundToUser(t *testing.T) {
	dir := t.TempDir()
	pickleKey := testSeedBuffer(t, PickleKeySize)

	aliceCache, err := NewCache(dir, pickleKey, testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	seed := testSeedBuffer(t, ed25519.SeedSize)
	if err := aliceCache.Save(seed, seed, seed); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Copy alice's cache file onto bob's expected filename: the AEAD
	// user binding must reject it.
	bobCache, err := NewCache(dir, pickleKey, ref.MustParseUserID("@bob:test.local"))
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	aliceBlob, err := os.ReadFile(aliceCache.filePath())
	if err != nil {
		t.Fatalf("reading alice's cache file: %v", err)
	}
	if err := os.WriteFile(bobCache.filePath(), aliceBlob, 0o600); err != nil {
		t.Fatalf("planting cache file: %v", err)
	}

	if _, _, _, err := bobCache.Load(); err == nil {
		t.Fatal("expected authentication failure for a cross-account cache file")
	}
}

func TestCacheRemove(t *testing.T) {
	cache, err := NewCache(t.TempDir(), testSeedBuffer(t, PickleKeySize), testUserID)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	// Removing a missing file is fine.
	if err := cache.Remove(); err != nil {
		t.Fatalf("Remove on missing file failed: %v", err)
	}

	seed := testSeedBuffer(t, ed25519.SeedSize)
	if err := cache.Save(seed, seed, seed); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := cache.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, _, _, err := cache.Load(); !errors.Is(err, ErrNoCachedKeys) {
		t.Fatalf("expected ErrNoCachedKeys after Remove, got: %v", err)
	}
}
