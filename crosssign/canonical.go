// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// canonicalJSON produces Matrix canonical JSON for a value: object
// keys sorted lexicographically, no insignificant whitespace. The
// value is round-tripped through map[string]any so that struct field
// order never leaks into the output (encoding/json sorts map keys).
func canonicalJSON(value any) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("crosssign: encoding for canonicalization: %w", err)
	}
	var intermediate any
	if err := json.Unmarshal(encoded, &intermediate); err != nil {
		return nil, fmt.Errorf("crosssign: canonicalization round trip: %w", err)
	}
	canonical, err := json.Marshal(intermediate)
	if err != nil {
		return nil, fmt.Errorf("crosssign: canonical encoding: %w", err)
	}
	return canonical, nil
}

// signJSON computes the Matrix signature of a JSON object: the object
// is canonicalized with its "signatures" and "unsigned" fields
// removed, signed with the ed25519 private key, and the signature
// returned in unpadded base64.
func signJSON(object map[string]any, privateKey ed25519.PrivateKey) (string, error) {
	stripped := make(map[string]any, len(object))
	for key, value := range object {
		if key == "signatures" || key == "unsigned" {
			continue
		}
		stripped[key] = value
	}

	canonical, err := canonicalJSON(stripped)
	if err != nil {
		return "", err
	}

	signature := ed25519.Sign(privateKey, canonical)
	return base64.RawStdEncoding.EncodeToString(signature), nil
}

// toJSONObject converts a struct to its map[string]any JSON form for
// signing and signature attachment.
func toJSONObject(value any) (map[string]any, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("crosssign: encoding object: %w", err)
	}
	var object map[string]any
	if err := json.Unmarshal(encoded, &object); err != nil {
		return nil, fmt.Errorf("crosssign: decoding object: %w", err)
	}
	return object, nil
}

// encodeKey returns the unpadded-base64 form of an ed25519 public
// key, which doubles as the key ID in the "ed25519:<key>" identifier.
func encodeKey(publicKey ed25519.PublicKey) string {
	return base64.RawStdEncoding.EncodeToString(publicKey)
}
