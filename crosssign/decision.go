// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

// Decision is the action the reconciliation engine takes for one
// bootstrap call. Computed once per call from the observed state of
// the local engine and secret storage; never re-evaluated mid-flight.
type Decision int

const (
	// DecisionNoOp: nothing to do.
	DecisionNoOp Decision = iota
	// DecisionReset: mint a fresh key set, publish it, export to storage.
	DecisionReset
	// DecisionImport: recover private keys from secret storage.
	DecisionImport
	// DecisionExport: write local private keys into secret storage.
	DecisionExport
)

func (d Decision) String() string {
	switch d {
	case DecisionNoOp:
		return "no-op"
	case DecisionReset:
		return "reset"
	case DecisionImport:
		return "import"
	case DecisionExport:
		return "export"
	default:
		return "unknown"
	}
}

// Decide computes the reconciliation decision. requestedReset takes
// priority over everything. Otherwise the decision is a pure function
// of the (keysLocal, keysInStorage) pair, written as an exhaustive
// switch over the pair so that totality is visible:
//
//	local=false storage=false → Reset   (bootstrap from nothing)
//	local=false storage=true  → Import
//	local=true  storage=false → Export  (publish-then-crash recovery)
//	local=true  storage=true  → Export  (idempotent re-export; the
//	                                     export step skips writes when
//	                                     storage already matches)
func Decide(requestedReset, keysLocal, keysInStorage bool) Decision {
	if requestedReset {
		return DecisionReset
	}
	switch [2]bool{keysLocal, keysInStorage} {
	case [2]bool{false, false}:
		return DecisionReset
	case [2]bool{false, true}:
		return DecisionImport
	case [2]bool{true, false}:
		return DecisionExport
	case [2]bool{true, true}:
		return DecisionExport
	}
	panic("unreachable: two booleans have four cases")
}
