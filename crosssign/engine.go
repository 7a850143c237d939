// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/bureau-foundation/identity/lib/ref"
	"github.com/bureau-foundation/identity/lib/secret"
	"github.com/bureau-foundation/identity/messaging"
)

// SigningEngine is the cryptographic capability the reconciliation
// engine consumes. One production implementation (Ed25519Engine);
// tests use an in-memory fake.
type SigningEngine interface {
	// Status reports which private keys the engine currently holds.
	Status() KeyStatus

	// GenerateCrossSigningKeys produces the key-publication request.
	// With reset true, fresh keys are minted first, replacing any
	// existing ones. With reset false and keys already present, the
	// publication request is rebuilt from the existing keys (the
	// republish path after a crashed bootstrap).
	GenerateCrossSigningKeys(reset bool) ([]OutgoingRequest, error)

	// ImportCrossSigningKeys installs private key seeds recovered
	// from secret storage. The buffers are borrowed — the engine
	// copies the seeds and the caller retains ownership.
	ImportCrossSigningKeys(master, selfSigning, userSigning *secret.Buffer) error

	// ExportCrossSigningKeys returns copies of the three private key
	// seeds. The caller owns the returned buffers and must close them.
	ExportCrossSigningKeys() (master, selfSigning, userSigning *secret.Buffer, err error)

	// SelfSignOwnDevice signs the device's key object with the
	// self-signing key and produces the signature-upload request.
	SelfSignOwnDevice(deviceKeys messaging.DeviceKeys) (OutgoingRequest, error)
}

// Ed25519Engine is the production signing engine. Private key seeds
// live in secret.Buffer memory (mmap-backed, locked against swap,
// excluded from core dumps); full private keys are expanded from the
// seeds only for the duration of a signing operation.
//
// All methods are safe for concurrent use.
type Ed25519Engine struct {
	userID ref.UserID

	mu              sync.Mutex
	masterSeed      *secret.Buffer
	selfSigningSeed *secret.Buffer
	userSigningSeed *secret.Buffer
}

// NewEd25519Engine creates an engine with no keys. Keys arrive via
// GenerateCrossSigningKeys or ImportCrossSigningKeys.
func NewEd25519Engine(userID ref.UserID) *Ed25519Engine {
	return &Ed25519Engine{userID: userID}
}

// Status reports which private key seeds the engine holds.
func (e *Ed25519Engine) Status() KeyStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return KeyStatus{
		HasMaster:      e.masterSeed != nil,
		HasSelfSigning: e.selfSigningSeed != nil,
		HasUserSigning: e.userSigningSeed != nil,
	}
}

// Close zeros and releases all key seeds. Idempotent.
func (e *Ed25519Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, seed := range []**secret.Buffer{&e.masterSeed, &e.selfSigningSeed, &e.userSigningSeed} {
		if *seed != nil {
			if err := (*seed).Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			*seed = nil
		}
	}
	return firstErr
}

// GenerateCrossSigningKeys mints or reuses the three cross-signing
// keys and returns the publication request for the UIA-protected
// device-signing endpoint. The master key signs the two subkeys; the
// signatures are over the canonical JSON of each key object.
func (e *Ed25519Engine) GenerateCrossSigningKeys(reset bool) ([]OutgoingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hasKeys := e.masterSeed != nil && e.selfSigningSeed != nil && e.userSigningSeed != nil
	if reset || !hasKeys {
		if err := e.mintSeedsLocked(); err != nil {
			return nil, &EngineError{Op: "generate", Err: err}
		}
	}

	upload, err := e.buildKeysUploadLocked()
	if err != nil {
		return nil, &EngineError{Op: "generate", Err: err}
	}

	return []OutgoingRequest{{
		Kind:         RequestPublishKeys,
		Keys:         upload,
		RequiresAuth: true,
		Idempotent:   true,
	}}, nil
}

// ImportCrossSigningKeys installs seeds recovered from secret
// storage, replacing any existing keys. Each buffer must hold exactly
// one ed25519 seed (32 bytes). The buffers are borrowed.
func (e *Ed25519Engine) ImportCrossSigningKeys(master, selfSigning, userSigning *secret.Buffer) error {
	for name, buffer := range map[string]*secret.Buffer{
		"master":       master,
		"self-signing": selfSigning,
		"user-signing": userSigning,
	} {
		if buffer == nil {
			return &EngineError{Op: "import", Err: fmt.Errorf("%s seed is nil", name)}
		}
		if buffer.Len() != ed25519.SeedSize {
			return &EngineError{Op: "import", Err: fmt.Errorf("%s seed is %d bytes, want %d", name, buffer.Len(), ed25519.SeedSize)}
		}
	}

	masterCopy, err := copySeed(master)
	if err != nil {
		return &EngineError{Op: "import", Err: err}
	}
	selfCopy, err := copySeed(selfSigning)
	if err != nil {
		masterCopy.Close()
		return &EngineError{Op: "import", Err: err}
	}
	userCopy, err := copySeed(userSigning)
	if err != nil {
		masterCopy.Close()
		selfCopy.Close()
		return &EngineError{Op: "import", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.replaceSeedsLocked(masterCopy, selfCopy, userCopy)
	return nil
}

// ExportCrossSigningKeys returns copies of the three seeds. The
// caller owns the returned buffers.
func (e *Ed25519Engine) ExportCrossSigningKeys() (master, selfSigning, userSigning *secret.Buffer, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.masterSeed == nil || e.selfSigningSeed == nil || e.userSigningSeed == nil {
		return nil, nil, nil, &EngineError{Op: "export", Err: fmt.Errorf("key set is incomplete")}
	}

	master, err = copySeed(e.masterSeed)
	if err != nil {
		return nil, nil, nil, &EngineError{Op: "export", Err: err}
	}
	selfSigning, err = copySeed(e.selfSigningSeed)
	if err != nil {
		master.Close()
		return nil, nil, nil, &EngineError{Op: "export", Err: err}
	}
	userSigning, err = copySeed(e.userSigningSeed)
	if err != nil {
		master.Close()
		selfSigning.Close()
		return nil, nil, nil, &EngineError{Op: "export", Err: err}
	}
	return master, selfSigning, userSigning, nil
}

// SelfSignOwnDevice signs the device key object with the self-signing
// key and returns the signature-upload request.
func (e *Ed25519Engine) SelfSignOwnDevice(deviceKeys messaging.DeviceKeys) (OutgoingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.selfSigningSeed == nil {
		return OutgoingRequest{}, &EngineError{Op: "self-sign", Err: fmt.Errorf("self-signing key is not available")}
	}
	if deviceKeys.UserID != e.userID {
		return OutgoingRequest{}, &EngineError{Op: "self-sign", Err: fmt.Errorf("device belongs to %s, engine signs for %s", deviceKeys.UserID, e.userID)}
	}

	selfSigningKey := ed25519.NewKeyFromSeed(e.selfSigningSeed.Bytes())
	defer secret.Zero(selfSigningKey)
	selfSigningKeyID := "ed25519:" + encodeKey(selfSigningKey.Public().(ed25519.PublicKey))

	object, err := toJSONObject(deviceKeys)
	if err != nil {
		return OutgoingRequest{}, &EngineError{Op: "self-sign", Err: err}
	}
	signature, err := signJSON(object, selfSigningKey)
	if err != nil {
		return OutgoingRequest{}, &EngineError{Op: "self-sign", Err: err}
	}

	// Attach the new signature, preserving any the device record
	// already carries (the device's own self-signature).
	signatures, _ := object["signatures"].(map[string]any)
	if signatures == nil {
		signatures = map[string]any{}
	}
	userSignatures, _ := signatures[e.userID.String()].(map[string]any)
	if userSignatures == nil {
		userSignatures = map[string]any{}
	}
	userSignatures[selfSigningKeyID] = signature
	signatures[e.userID.String()] = userSignatures
	object["signatures"] = signatures

	return OutgoingRequest{
		Kind: RequestUploadSignatures,
		Signatures: messaging.SignaturesUpload{
			e.userID.String(): {
				deviceKeys.DeviceID.String(): object,
			},
		},
		Idempotent: true,
	}, nil
}

// mintSeedsLocked replaces the seeds with fresh random ones.
func (e *Ed25519Engine) mintSeedsLocked() error {
	seeds := make([]*secret.Buffer, 0, 3)
	for range 3 {
		raw := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(raw); err != nil {
			for _, seed := range seeds {
				seed.Close()
			}
			return fmt.Errorf("generating seed: %w", err)
		}
		// NewFromBytes copies into mmap and zeros the heap slice.
		seed, err := secret.NewFromBytes(raw)
		if err != nil {
			for _, previous := range seeds {
				previous.Close()
			}
			return fmt.Errorf("protecting seed: %w", err)
		}
		seeds = append(seeds, seed)
	}
	e.replaceSeedsLocked(seeds[0], seeds[1], seeds[2])
	return nil
}

func (e *Ed25519Engine) replaceSeedsLocked(master, selfSigning, userSigning *secret.Buffer) {
	for _, old := range []*secret.Buffer{e.masterSeed, e.selfSigningSeed, e.userSigningSeed} {
		if old != nil {
			old.Close()
		}
	}
	e.masterSeed = master
	e.selfSigningSeed = selfSigning
	e.userSigningSeed = userSigning
}

// buildKeysUploadLocked constructs the three public key objects, with
// the master key's signature over each subkey.
func (e *Ed25519Engine) buildKeysUploadLocked() (messaging.CrossSigningKeysUpload, error) {
	masterKey := ed25519.NewKeyFromSeed(e.masterSeed.Bytes())
	defer secret.Zero(masterKey)
	selfSigningKey := ed25519.NewKeyFromSeed(e.selfSigningSeed.Bytes())
	defer secret.Zero(selfSigningKey)
	userSigningKey := ed25519.NewKeyFromSeed(e.userSigningSeed.Bytes())
	defer secret.Zero(userSigningKey)

	masterPublic := encodeKey(masterKey.Public().(ed25519.PublicKey))
	masterKeyID := "ed25519:" + masterPublic

	master := &messaging.CrossSigningKey{
		UserID: e.userID,
		Usage:  []string{"master"},
		Keys:   map[string]string{masterKeyID: masterPublic},
	}

	selfSigning, err := e.buildSignedSubkey(usageSelfSigning, selfSigningKey, masterKey, masterKeyID)
	if err != nil {
		return messaging.CrossSigningKeysUpload{}, err
	}
	userSigning, err := e.buildSignedSubkey(usageUserSigning, userSigningKey, masterKey, masterKeyID)
	if err != nil {
		return messaging.CrossSigningKeysUpload{}, err
	}

	return messaging.CrossSigningKeysUpload{
		MasterKey:      master,
		SelfSigningKey: selfSigning,
		UserSigningKey: userSigning,
	}, nil
}

const (
	usageSelfSigning = "self_signing"
	usageUserSigning = "user_signing"
)

// buildSignedSubkey constructs a subkey object and signs it with the
// master key per the Matrix signing rule (canonical JSON with the
// signatures field stripped).
func (e *Ed25519Engine) buildSignedSubkey(usage string, subkey, masterKey ed25519.PrivateKey, masterKeyID string) (*messaging.CrossSigningKey, error) {
	public := encodeKey(subkey.Public().(ed25519.PublicKey))
	key := &messaging.CrossSigningKey{
		UserID: e.userID,
		Usage:  []string{usage},
		Keys:   map[string]string{"ed25519:" + public: public},
	}

	object, err := toJSONObject(key)
	if err != nil {
		return nil, err
	}
	signature, err := signJSON(object, masterKey)
	if err != nil {
		return nil, err
	}
	key.Signatures = map[string]map[string]string{
		e.userID.String(): {masterKeyID: signature},
	}
	return key, nil
}

// copySeed duplicates a seed buffer into fresh protected memory.
func copySeed(source *secret.Buffer) (*secret.Buffer, error) {
	raw := make([]byte, source.Len())
	copy(raw, source.Bytes())
	return secret.NewFromBytes(raw)
}
