// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"context"
	"errors"

	"github.com/bureau-foundation/identity/messaging"
)

// Canonical secret storage names for the three cross-signing private
// keys, as defined by the Matrix client-server protocol.
const (
	SecretNameMaster      = "m.cross_signing.master"
	SecretNameSelfSigning = "m.cross_signing.self_signing"
	SecretNameUserSigning = "m.cross_signing.user_signing"
)

// KeyStatus describes which cross-signing private keys a store
// currently holds. Transient — recomputed on each query, never
// persisted.
type KeyStatus struct {
	HasMaster      bool
	HasSelfSigning bool
	HasUserSigning bool
}

// Complete reports whether all three keys are present.
func (s KeyStatus) Complete() bool {
	return s.HasMaster && s.HasSelfSigning && s.HasUserSigning
}

// RequestKind identifies what an OutgoingRequest does on the server.
// The orchestrator routes on the kind but never inspects payloads.
type RequestKind int

const (
	// RequestPublishKeys publishes cross-signing public keys via the
	// UIA-protected device-signing endpoint.
	RequestPublishKeys RequestKind = iota
	// RequestUploadSignatures uploads key/device signatures.
	RequestUploadSignatures
)

func (k RequestKind) String() string {
	switch k {
	case RequestPublishKeys:
		return "publish-keys"
	case RequestUploadSignatures:
		return "upload-signatures"
	default:
		return "unknown"
	}
}

// OutgoingRequest is one unit of server mutation produced by the
// signing engine. The payload fields are opaque to the orchestrator;
// only the execution contract (RequiresAuth, Idempotent) and Kind are
// inspected.
type OutgoingRequest struct {
	Kind RequestKind

	// Keys is set for RequestPublishKeys.
	Keys messaging.CrossSigningKeysUpload

	// Signatures is set for RequestUploadSignatures.
	Signatures messaging.SignaturesUpload

	// RequiresAuth marks requests against UIA-protected endpoints.
	// The processor only engages the auth-challenge flow for these.
	RequiresAuth bool

	// Idempotent marks requests that are safe to resend verbatim
	// (all current kinds are — key publication and signature upload
	// replace server state rather than appending).
	Idempotent bool
}

// AuthCallback completes a User-Interactive Authentication challenge.
// It returns the auth dict to attach to the retried request (the
// implementation must echo challenge.Session). Returning an error
// fails the whole submission with that error.
type AuthCallback func(ctx context.Context, challenge *messaging.UIAAChallenge) (map[string]any, error)

// BootstrapOptions controls a single Bootstrap call.
type BootstrapOptions struct {
	// ResetKeys forces minting a fresh identity regardless of what the
	// local engine or secret storage holds.
	ResetKeys bool

	// AuthCallback completes interactive-auth challenges from the key
	// publication endpoint. If nil, the publication request is sent
	// unauthenticated and the server's verdict is surfaced as-is.
	AuthCallback AuthCallback
}

// IdentityStatus is the caller-visible identity state, one flag set
// per store.
type IdentityStatus struct {
	// PublicKeysOnDevice reports whether the homeserver has published
	// cross-signing public keys for this user.
	PublicKeysOnDevice bool

	// PrivateKeysInSecretStorage reports whether all three encrypted
	// private keys are present in server-side secret storage.
	PrivateKeysInSecretStorage bool

	// PrivateKeysCachedLocally reports, per key, whether the local
	// signing engine holds the private key.
	PrivateKeysCachedLocally KeyStatus
}

// ErrSecretNotFound is returned by SecretStore.Get when the named
// secret has never been stored. Absence is an expected state for the
// decision table, not a failure.
var ErrSecretNotFound = errors.New("crosssign: secret not found")

// EngineError wraps a signing engine rejection. Fatal for the current
// bootstrap call; not retried automatically.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return "crosssign: signing engine " + e.Op + ": " + e.Err.Error()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
