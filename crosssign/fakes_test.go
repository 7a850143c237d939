// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/bureau-foundation/identity/lib/ref"
	"github.com/bureau-foundation/identity/lib/secret"
	"github.com/bureau-foundation/identity/messaging"
)

// testSeedBuffer creates a buffer of random bytes, closed on test
// cleanup.
func testSeedBuffer(t *testing.T, size int) *secret.Buffer {
	t.Helper()
	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("generating test seed: %v", err)
	}
	buffer, err := secret.NewFromBytes(raw)
	if err != nil {
		t.Fatalf("creating test buffer: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

// fakeAPI is an in-memory ServerAPI. It records the order of mutation
// calls and can be configured to demand interactive auth for key
// publication.
type fakeAPI struct {
	userID   ref.UserID
	deviceID ref.DeviceID

	mu sync.Mutex

	// deviceRecords is what QueryKeys serves for device_keys.
	deviceRecords map[string]map[string]messaging.DeviceKeys

	// published is the last accepted cross-signing key upload.
	published *messaging.CrossSigningKeysUpload

	// signatures accumulates accepted signature uploads.
	signatures []messaging.SignaturesUpload

	// calls logs mutation operations in dispatch order.
	calls []string

	// requireAuth makes unauthenticated publications answer with a
	// UIAA challenge carrying this session ID.
	requireAuth string

	publishErr    error
	signaturesErr error
}

func newFakeAPI() *fakeAPI {
	userID := ref.MustParseUserID("@alice:test.local")
	deviceID := ref.MustParseDeviceID("DEVICE1")
	return &fakeAPI{
		userID:   userID,
		deviceID: deviceID,
		deviceRecords: map[string]map[string]messaging.DeviceKeys{
			userID.String(): {
				deviceID.String(): {
					UserID:     userID,
					DeviceID:   deviceID,
					Algorithms: []string{"m.olm.v1.curve25519-aes-sha2"},
					Keys:       map[string]string{"ed25519:DEVICE1": "device+public+key"},
				},
			},
		},
	}
}

func (f *fakeAPI) UserID() ref.UserID     { return f.userID }
func (f *fakeAPI) DeviceID() ref.DeviceID { return f.deviceID }

func (f *fakeAPI) UploadCrossSigningKeys(ctx context.Context, upload messaging.CrossSigningKeysUpload, auth map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.publishErr != nil {
		return f.publishErr
	}
	if f.requireAuth != "" {
		if auth == nil {
			return &messaging.UIAAChallenge{
				Session: f.requireAuth,
				Flows:   []messaging.UIAAFlow{{Stages: []string{"m.login.password"}}},
			}
		}
		if auth["session"] != f.requireAuth {
			return &messaging.MatrixError{
				Code:       messaging.ErrCodeForbidden,
				Message:    "wrong UIAA session",
				StatusCode: 401,
			}
		}
	}
	f.calls = append(f.calls, "publish")
	f.published = &upload
	return nil
}

func (f *fakeAPI) UploadSignatures(ctx context.Context, signatures messaging.SignaturesUpload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.signaturesErr != nil {
		return f.signaturesErr
	}
	f.calls = append(f.calls, "signatures")
	f.signatures = append(f.signatures, signatures)
	return nil
}

func (f *fakeAPI) QueryKeys(ctx context.Context, request messaging.QueryKeysRequest) (*messaging.QueryKeysResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	response := &messaging.QueryKeysResponse{
		DeviceKeys:      map[string]map[string]messaging.DeviceKeys{},
		MasterKeys:      map[string]messaging.CrossSigningKey{},
		SelfSigningKeys: map[string]messaging.CrossSigningKey{},
		UserSigningKeys: map[string]messaging.CrossSigningKey{},
	}
	for user := range request.DeviceKeys {
		if devices, ok := f.deviceRecords[user]; ok {
			response.DeviceKeys[user] = devices
		}
		if f.published != nil && user == f.userID.String() {
			response.MasterKeys[user] = *f.published.MasterKey
			response.SelfSigningKeys[user] = *f.published.SelfSigningKey
			response.UserSigningKeys[user] = *f.published.UserSigningKey
		}
	}
	return response, nil
}

// callLog returns a copy of the mutation call order.
func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeStore is an in-memory SecretStore.
type fakeStore struct {
	mu      sync.Mutex
	secrets map[string][]byte

	getErr error
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{secrets: map[string][]byte{}}
}

func (f *fakeStore) Get(ctx context.Context, name string) (*secret.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getErr != nil {
		return nil, f.getErr
	}
	blob, ok := f.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return secret.NewFromBytes(append([]byte(nil), blob...))
}

func (f *fakeStore) Set(ctx context.Context, name string, plaintext []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setErr != nil {
		return f.setErr
	}
	f.secrets[name] = append([]byte(nil), plaintext...)
	return nil
}

func (f *fakeStore) Present(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.secrets[name]
	return ok, nil
}
