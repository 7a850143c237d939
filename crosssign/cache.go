// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/identity/lib/codec"
	"github.com/bureau-foundation/identity/lib/ref"
	"github.com/bureau-foundation/identity/lib/secret"
)

// PickleKeySize is the required size of the cache pickle key.
const PickleKeySize = 32

// cacheBlobVersion is the version byte prepended to the encrypted
// cache file. Included in the AAD, so tampering with it fails
// authentication.
const cacheBlobVersion byte = 0x01

// HKDF info and BLAKE3 domain tags. Changing either invalidates all
// existing cache files.
var (
	hkdfInfoCacheEncryption = []byte("identity.keycache.enc.v1")
	cacheFileRefDomain      = []byte("identity.keycache.ref.v1")
)

// ErrNoCachedKeys is returned by Cache.Load when no cache file exists
// for the user.
var ErrNoCachedKeys = errors.New("crosssign: no cached keys")

// cachePayload is the CBOR shape of the cache plaintext.
type cachePayload struct {
	Master      []byte `cbor:"master"`
	SelfSigning []byte `cbor:"self_signing"`
	UserSigning []byte `cbor:"user_signing"`
}

// Cache persists cross-signing key seeds across process lifetimes.
//
// The payload is deterministic CBOR, encrypted with
// XChaCha20-Poly1305 under a key derived via HKDF-SHA256 from the
// pickle key with the user ID as domain separation. The user ID is
// also bound into the AAD, so a cache file copied between accounts
// fails authentication rather than silently installing another
// user's keys. The filename is a keyed BLAKE3 hash of the user ID,
// so the cache directory does not reveal which accounts it serves.
//
// Writes go through a temp file and atomic rename — a crash mid-save
// leaves the previous cache intact.
type Cache struct {
	dir       string
	pickleKey *secret.Buffer
	userID    ref.UserID
}

// NewCache creates a cache rooted at dir. The pickle key must be
// exactly PickleKeySize bytes; it is borrowed and never closed by the
// cache. The directory is created if missing.
func NewCache(dir string, pickleKey *secret.Buffer, userID ref.UserID) (*Cache, error) {
	if pickleKey.Len() != PickleKeySize {
		return nil, fmt.Errorf("crosssign: pickle key must be %d bytes, got %d", PickleKeySize, pickleKey.Len())
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("crosssign: creating cache directory: %w", err)
	}
	return &Cache{dir: dir, pickleKey: pickleKey, userID: userID}, nil
}

// Save writes the three seeds to the cache, replacing any previous
// content. The buffers are borrowed.
func (c *Cache) Save(master, selfSigning, userSigning *secret.Buffer) error {
	payload := cachePayload{
		Master:      append([]byte(nil), master.Bytes()...),
		SelfSigning: append([]byte(nil), selfSigning.Bytes()...),
		UserSigning: append([]byte(nil), userSigning.Bytes()...),
	}
	defer func() {
		secret.Zero(payload.Master)
		secret.Zero(payload.SelfSigning)
		secret.Zero(payload.UserSigning)
	}()

	plaintext, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("crosssign: encoding cache payload: %w", err)
	}
	defer secret.Zero(plaintext)

	blob, err := c.encrypt(plaintext)
	if err != nil {
		return err
	}

	path := c.filePath()
	temp, err := os.CreateTemp(c.dir, ".keycache-*")
	if err != nil {
		return fmt.Errorf("crosssign: creating cache temp file: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(blob); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("crosssign: writing cache file: %w", err)
	}
	if err := temp.Chmod(0o600); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("crosssign: setting cache file mode: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("crosssign: closing cache temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("crosssign: installing cache file: %w", err)
	}
	return nil
}

// Load reads the cached seeds. Returns ErrNoCachedKeys when no cache
// file exists. The caller owns the returned buffers.
func (c *Cache) Load() (master, selfSigning, userSigning *secret.Buffer, err error) {
	blob, err := os.ReadFile(c.filePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil, ErrNoCachedKeys
		}
		return nil, nil, nil, fmt.Errorf("crosssign: reading cache file: %w", err)
	}

	plaintext, err := c.decrypt(blob)
	if err != nil {
		return nil, nil, nil, err
	}
	defer secret.Zero(plaintext)

	var payload cachePayload
	if err := codec.Unmarshal(plaintext, &payload); err != nil {
		return nil, nil, nil, fmt.Errorf("crosssign: decoding cache payload: %w", err)
	}

	// NewFromBytes zeros each heap slice after copying into mmap.
	master, err = secret.NewFromBytes(payload.Master)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("crosssign: protecting cached master seed: %w", err)
	}
	selfSigning, err = secret.NewFromBytes(payload.SelfSigning)
	if err != nil {
		master.Close()
		return nil, nil, nil, fmt.Errorf("crosssign: protecting cached self-signing seed: %w", err)
	}
	userSigning, err = secret.NewFromBytes(payload.UserSigning)
	if err != nil {
		master.Close()
		selfSigning.Close()
		return nil, nil, nil, fmt.Errorf("crosssign: protecting cached user-signing seed: %w", err)
	}
	return master, selfSigning, userSigning, nil
}

// Remove deletes the cache file. Missing file is not an error.
func (c *Cache) Remove() error {
	if err := os.Remove(c.filePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("crosssign: removing cache file: %w", err)
	}
	return nil
}

func (c *Cache) encrypt(plaintext []byte) ([]byte, error) {
	encryptionKey, err := c.deriveKey()
	if err != nil {
		return nil, err
	}
	defer encryptionKey.Close()

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crosssign: creating cache cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("crosssign: generating cache nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	output[0] = cacheBlobVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, c.buildAAD(cacheBlobVersion)), nil
}

func (c *Cache) decrypt(blob []byte) ([]byte, error) {
	minimum := 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minimum {
		return nil, fmt.Errorf("crosssign: cache file is %d bytes, minimum is %d", len(blob), minimum)
	}
	if blob[0] != cacheBlobVersion {
		return nil, fmt.Errorf("crosssign: cache file version %d is not supported (expected %d)", blob[0], cacheBlobVersion)
	}

	encryptionKey, err := c.deriveKey()
	if err != nil {
		return nil, err
	}
	defer encryptionKey.Close()

	aead, err := chacha20poly1305.NewX(encryptionKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crosssign: creating cache cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, c.buildAAD(blob[0]))
	if err != nil {
		return nil, fmt.Errorf("crosssign: cache authentication failed (wrong pickle key, tampered file, or wrong account): %w", err)
	}
	return plaintext, nil
}

// deriveKey derives the cache encryption key from the pickle key via
// HKDF-SHA256, with the user ID appended to the info parameter for
// domain separation between accounts sharing a pickle key.
func (c *Cache) deriveKey() (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoCacheEncryption)+len(c.userID.String()))
	info = append(info, hkdfInfoCacheEncryption...)
	info = append(info, c.userID.String()...)

	reader := hkdf.New(sha256.New, c.pickleKey.Bytes(), nil, info)
	derived := make([]byte, PickleKeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("crosssign: deriving cache key: %w", err)
	}
	return secret.NewFromBytes(derived)
}

func (c *Cache) buildAAD(version byte) []byte {
	userID := c.userID.String()
	aad := make([]byte, 0, 1+len(userID))
	aad = append(aad, version)
	aad = append(aad, userID...)
	return aad
}

// filePath computes the cache file name: a keyed BLAKE3 hash of the
// user ID under the pickle key, hex-encoded. Deterministic per
// (pickle key, user), opaque without the key.
func (c *Cache) filePath() string {
	hasher, err := blake3.NewKeyed(c.pickleKey.Bytes())
	if err != nil {
		panic("crosssign: BLAKE3 keyed hash initialization failed (key must be 32 bytes): " + err.Error())
	}
	hasher.Write(cacheFileRefDomain)
	hasher.Write([]byte(c.userID.String()))
	return filepath.Join(c.dir, hex.EncodeToString(hasher.Sum(nil)[:16])+".keys")
}
