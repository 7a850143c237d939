// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package crosssign reconciles a Matrix account's cross-signing
// identity across three independent, partially-trusted stores: the
// local signing-key cache, encrypted server-side secret storage, and
// the published public key material on the homeserver.
//
// The reconciliation core is [Manager.Bootstrap]. From the observed
// state of the three stores it computes exactly one [Decision] —
// reset (mint fresh keys), import (recover private keys from secret
// storage), export (publish local keys into secret storage), or no-op
// — and executes it. The decision is computed once per call and never
// re-evaluated mid-flight; a failed step surfaces its error verbatim
// and leaves the stores in a state the decision table will route
// correctly on the next call. Bootstrap is therefore safe to retry by
// simply calling it again.
//
// Bootstrap is single-flight per Manager: a mutex is held for the
// whole read-decide-act sequence so that concurrent callers serialize
// rather than interleave (two interleaved callers could each observe
// a state the other is about to mutate and both choose reset,
// double-publishing keys).
//
// The cryptographic capabilities are interfaces with one production
// implementation each: [SigningEngine] (ed25519 key generation,
// Matrix canonical-JSON signing) is implemented by [Ed25519Engine],
// and [SecretStore] (encrypted named blobs) by [AccountDataStore],
// which age-encrypts secrets into Matrix account data. Tests use
// in-memory fakes of both.
//
// Server mutations flow through [Processor], which executes requests
// strictly in order and handles User-Interactive Authentication
// challenges via a caller-supplied [AuthCallback].
//
// [Cache] persists the engine's key seeds across process lifetimes,
// encrypted with XChaCha20-Poly1305 under an HKDF-derived key. Keys
// are cached before publication, so a bootstrap that crashes between
// generation and publication resumes naturally: the next call
// observes "keys local, not in storage" and routes to export.
package crosssign
