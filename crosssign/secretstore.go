// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/identity/lib/sealed"
	"github.com/bureau-foundation/identity/lib/secret"
	"github.com/bureau-foundation/identity/messaging"
)

// SecretStore is the encrypted key-value capability backing secret
// storage. Get returns ErrSecretNotFound for a name that has never
// been stored.
type SecretStore interface {
	Get(ctx context.Context, name string) (*secret.Buffer, error)
	Set(ctx context.Context, name string, plaintext []byte) error
	Present(ctx context.Context, name string) (bool, error)
}

// storedSecret is the account data content for one stored secret: an
// age ciphertext, base64-encoded by lib/sealed.
type storedSecret struct {
	Ciphertext string `json:"ciphertext"`
}

// AccountDataStore is the production SecretStore: secrets are
// age-encrypted to the account's storage public key and stored as
// global account data events under the secret name. Reading a secret
// back requires the storage private key.
//
// A store constructed without a private key (write-only, e.g. on a
// device that only publishes) can Set and Present but not Get.
type AccountDataStore struct {
	session *messaging.DirectSession

	// recipientKey is the age public key secrets are encrypted to.
	recipientKey string

	// privateKey decrypts stored secrets. Borrowed — the store never
	// closes it. Nil for write-only stores.
	privateKey *secret.Buffer
}

// NewAccountDataStore creates a secret store over the session's
// account data. recipientKey must be a valid age public key.
// privateKey may be nil for a write-only store.
func NewAccountDataStore(session *messaging.DirectSession, recipientKey string, privateKey *secret.Buffer) (*AccountDataStore, error) {
	if err := sealed.ParsePublicKey(recipientKey); err != nil {
		return nil, fmt.Errorf("crosssign: storage recipient key: %w", err)
	}
	if privateKey != nil {
		if err := sealed.ParsePrivateKey(privateKey); err != nil {
			return nil, fmt.Errorf("crosssign: storage private key: %w", err)
		}
	}
	return &AccountDataStore{
		session:      session,
		recipientKey: recipientKey,
		privateKey:   privateKey,
	}, nil
}

// Get fetches and decrypts the named secret. Returns
// ErrSecretNotFound when the account data event does not exist or
// does not carry a ciphertext.
func (s *AccountDataStore) Get(ctx context.Context, name string) (*secret.Buffer, error) {
	if s.privateKey == nil {
		return nil, fmt.Errorf("crosssign: store has no private key, cannot read %q", name)
	}

	raw, err := s.session.GetAccountData(ctx, name)
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			return nil, ErrSecretNotFound
		}
		return nil, fmt.Errorf("crosssign: reading secret %q: %w", name, err)
	}

	var stored storedSecret
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("crosssign: parsing stored secret %q: %w", name, err)
	}
	if stored.Ciphertext == "" {
		// Account data exists but carries no ciphertext — some other
		// client wrote an incompatible or cleared event. Treated as
		// absent so the decision table can route to reset or export.
		return nil, ErrSecretNotFound
	}

	plaintext, err := sealed.Decrypt(stored.Ciphertext, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crosssign: decrypting secret %q: %w", name, err)
	}
	return plaintext, nil
}

// Set encrypts plaintext to the storage recipient and writes it as
// account data under the secret name, replacing any previous value.
func (s *AccountDataStore) Set(ctx context.Context, name string, plaintext []byte) error {
	ciphertext, err := sealed.Encrypt(plaintext, []string{s.recipientKey})
	if err != nil {
		return fmt.Errorf("crosssign: encrypting secret %q: %w", name, err)
	}
	if err := s.session.PutAccountData(ctx, name, storedSecret{Ciphertext: ciphertext}); err != nil {
		return fmt.Errorf("crosssign: storing secret %q: %w", name, err)
	}
	return nil
}

// Present reports whether the named secret exists with a ciphertext.
// Does not require the private key.
func (s *AccountDataStore) Present(ctx context.Context, name string) (bool, error) {
	raw, err := s.session.GetAccountData(ctx, name)
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("crosssign: checking secret %q: %w", name, err)
	}
	var stored storedSecret
	if err := json.Unmarshal(raw, &stored); err != nil {
		return false, fmt.Errorf("crosssign: parsing stored secret %q: %w", name, err)
	}
	return stored.Ciphertext != "", nil
}
