// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers: channel receives
// with a timeout safety valve (RequireReceive) and unique identifier
// generation (UniqueID).
//
// The Require helpers exist so that concurrency tests — bootstrap
// serialization, request ordering — never hang a test run when the
// code under test deadlocks: every channel operation carries a
// timeout that fails the test instead.
package testutil
