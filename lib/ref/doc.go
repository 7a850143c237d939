// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix identifiers:
// user IDs, device IDs, and event IDs.
//
// Each type wraps a validated string and is immutable after
// construction. The zero value is never valid; use IsZero to check.
// All types implement encoding.TextMarshaler/TextUnmarshaler so that
// identifiers embedded in JSON API payloads are validated at the
// serialization boundary rather than deep inside request handling.
//
// Using distinct types prevents the classic mixup bugs in key-handling
// code: passing a device ID where a user ID is expected, or signing
// over an event ID field that actually holds an access token. The
// compiler catches these instead of the homeserver.
package ref
