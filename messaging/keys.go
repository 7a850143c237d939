// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/identity/lib/ref"
)

// CrossSigningKey is a published cross-signing key in the wire format of
// the Matrix key-management endpoints. Keys maps "ed25519:<key-id>" to the
// unpadded-base64 public key; for cross-signing keys the key ID equals the
// public key itself.
type CrossSigningKey struct {
	UserID     ref.UserID                   `json:"user_id"`
	Usage      []string                     `json:"usage"`
	Keys       map[string]string            `json:"keys"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// CrossSigningKeysUpload is the body of POST /keys/device_signing/upload.
// All three keys are published atomically; the endpoint is UIA-protected.
type CrossSigningKeysUpload struct {
	MasterKey      *CrossSigningKey `json:"master_key,omitempty"`
	SelfSigningKey *CrossSigningKey `json:"self_signing_key,omitempty"`
	UserSigningKey *CrossSigningKey `json:"user_signing_key,omitempty"`
}

// DeviceKeys is a device's identity key record from /keys/query, and the
// payload shape re-uploaded (with an added signature) to /keys/signatures/upload.
type DeviceKeys struct {
	UserID     ref.UserID                   `json:"user_id"`
	DeviceID   ref.DeviceID                 `json:"device_id"`
	Algorithms []string                     `json:"algorithms"`
	Keys       map[string]string            `json:"keys"`
	Signatures map[string]map[string]string `json:"signatures,omitempty"`
}

// SignaturesUpload is the body of POST /keys/signatures/upload:
// user ID → key or device ID → signed object.
type SignaturesUpload map[string]map[string]any

// QueryKeysRequest is the body of POST /keys/query. An empty device list
// for a user requests all of that user's devices.
type QueryKeysRequest struct {
	DeviceKeys map[string][]string `json:"device_keys"`
}

// QueryKeysResponse is returned by POST /keys/query.
type QueryKeysResponse struct {
	DeviceKeys      map[string]map[string]DeviceKeys `json:"device_keys,omitempty"`
	MasterKeys      map[string]CrossSigningKey       `json:"master_keys,omitempty"`
	SelfSigningKeys map[string]CrossSigningKey       `json:"self_signing_keys,omitempty"`
	UserSigningKeys map[string]CrossSigningKey       `json:"user_signing_keys,omitempty"`
}

// UploadCrossSigningKeys publishes cross-signing keys via the UIA-protected
// device-signing endpoint. auth carries the completed authentication stage
// (including the UIAA session ID) and may be nil for the first attempt.
//
// When the server answers 401 with a UIAA body, the returned error is a
// *UIAAChallenge: complete an advertised stage, then call again with the
// auth dict. A 401 without flows is an ordinary *MatrixError.
func (s *DirectSession) UploadCrossSigningKeys(ctx context.Context, upload CrossSigningKeysUpload, auth map[string]any) error {
	requestBody := map[string]any{}
	if upload.MasterKey != nil {
		requestBody["master_key"] = upload.MasterKey
	}
	if upload.SelfSigningKey != nil {
		requestBody["self_signing_key"] = upload.SelfSigningKey
	}
	if upload.UserSigningKey != nil {
		requestBody["user_signing_key"] = upload.UserSigningKey
	}
	if auth != nil {
		requestBody["auth"] = auth
	}

	body, err := s.client.doRequest(ctx, http.MethodPost,
		"/_matrix/client/v3/keys/device_signing/upload", s.accessToken, requestBody)
	if err == nil {
		return nil
	}

	// A 401 carrying a flows body is an interactive-auth challenge, not a
	// terminal failure. The body is returned alongside the error by doRequest.
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) && matrixErr.StatusCode == http.StatusUnauthorized {
		var challenge UIAAChallenge
		if parseErr := json.Unmarshal(body, &challenge); parseErr == nil && len(challenge.Flows) > 0 {
			return &challenge
		}
	}
	return fmt.Errorf("messaging: cross-signing key upload failed: %w", err)
}

// UploadDeviceKeys publishes this device's identity keys.
func (s *DirectSession) UploadDeviceKeys(ctx context.Context, deviceKeys DeviceKeys) error {
	requestBody := map[string]any{"device_keys": deviceKeys}
	_, err := s.client.doRequest(ctx, http.MethodPost,
		"/_matrix/client/v3/keys/upload", s.accessToken, requestBody)
	if err != nil {
		return fmt.Errorf("messaging: device key upload failed: %w", err)
	}
	return nil
}

// UploadSignatures uploads signatures of keys and devices. The endpoint
// returns 200 even when individual signatures are rejected; per-target
// failures in the response body are surfaced as an error.
func (s *DirectSession) UploadSignatures(ctx context.Context, signatures SignaturesUpload) error {
	body, err := s.client.doRequest(ctx, http.MethodPost,
		"/_matrix/client/v3/keys/signatures/upload", s.accessToken, signatures)
	if err != nil {
		return fmt.Errorf("messaging: signature upload failed: %w", err)
	}

	var response struct {
		Failures map[string]map[string]json.RawMessage `json:"failures"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("messaging: failed to parse signature upload response: %w", err)
	}
	if len(response.Failures) > 0 {
		return fmt.Errorf("messaging: server rejected signatures: %s", formatSignatureFailures(response.Failures))
	}
	return nil
}

// QueryKeys fetches device and cross-signing keys for the requested users.
func (s *DirectSession) QueryKeys(ctx context.Context, request QueryKeysRequest) (*QueryKeysResponse, error) {
	body, err := s.client.doRequest(ctx, http.MethodPost,
		"/_matrix/client/v3/keys/query", s.accessToken, request)
	if err != nil {
		return nil, fmt.Errorf("messaging: key query failed: %w", err)
	}

	var response QueryKeysResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse key query response: %w", err)
	}
	return &response, nil
}

// OwnDeviceKeys fetches this session's published device keys via /keys/query.
// Returns nil (no error) when the device has not uploaded identity keys.
func (s *DirectSession) OwnDeviceKeys(ctx context.Context) (*DeviceKeys, error) {
	response, err := s.QueryKeys(ctx, QueryKeysRequest{
		DeviceKeys: map[string][]string{s.userID.String(): {s.deviceID.String()}},
	})
	if err != nil {
		return nil, err
	}
	devices, ok := response.DeviceKeys[s.userID.String()]
	if !ok {
		return nil, nil
	}
	device, ok := devices[s.deviceID.String()]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

func formatSignatureFailures(failures map[string]map[string]json.RawMessage) string {
	encoded, err := json.Marshal(failures)
	if err != nil {
		return fmt.Sprintf("%d failures (unencodable)", len(failures))
	}
	return string(encoded)
}
