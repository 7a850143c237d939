// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"crypto/ed25519"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/bureau-foundation/identity/lib/ref"
	"github.com/bureau-foundation/identity/messaging"
)

var testUserID = ref.MustParseUserID("@alice:test.local")

// publicKeyOf extracts the single public key from a cross-signing key
// object and checks the "ed25519:<key>" identifier convention.
func publicKeyOf(t *testing.T, key *messaging.CrossSigningKey) ed25519.PublicKey {
	t.Helper()
	if len(key.Keys) != 1 {
		t.Fatalf("expected exactly one key, got %d", len(key.Keys))
	}
	for keyID, encoded := range key.Keys {
		if keyID != "ed25519:"+encoded {
			t.Errorf("key ID %q does not match key %q", keyID, encoded)
		}
		raw, err := base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			t.Fatalf("decoding public key: %v", err)
		}
		return ed25519.PublicKey(raw)
	}
	panic("unreachable")
}

// verifySignedObject checks a Matrix signature on an object: canonical
// JSON with signatures/unsigned stripped, verified against the key.
func verifySignedObject(t *testing.T, object map[string]any, signature string, publicKey ed25519.PublicKey) {
	t.Helper()
	stripped := make(map[string]any, len(object))
	for key, value := range object {
		if key == "signatures" || key == "unsigned" {
			continue
		}
		stripped[key] = value
	}
	canonical, err := canonicalJSON(stripped)
	if err != nil {
		t.Fatalf("canonicalizing: %v", err)
	}
	rawSignature, err := base64.RawStdEncoding.DecodeString(signature)
	if err != nil {
		t.Fatalf("decoding signature: %v", err)
	}
	if !ed25519.Verify(publicKey, canonical, rawSignature) {
		t.Error("signature does not verify")
	}
}

func TestGenerateCrossSigningKeys(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()

	if engine.Status().Complete() {
		t.Fatal("new engine should hold no keys")
	}

	requests, err := engine.GenerateCrossSigningKeys(false)
	if err != nil {
		t.Fatalf("GenerateCrossSigningKeys failed: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(requests))
	}
	request := requests[0]
	if request.Kind != RequestPublishKeys {
		t.Errorf("unexpected kind: %v", request.Kind)
	}
	if !request.RequiresAuth {
		t.Error("key publication must require auth")
	}
	if !engine.Status().Complete() {
		t.Error("engine should hold all keys after generation")
	}

	upload := request.Keys
	if upload.MasterKey == nil || upload.SelfSigningKey == nil || upload.UserSigningKey == nil {
		t.Fatal("upload is missing key objects")
	}

	masterPublic := publicKeyOf(t, upload.MasterKey)
	masterKeyID := "ed25519:" + base64.RawStdEncoding.EncodeToString(masterPublic)

	for _, subkey := range []*messaging.CrossSigningKey{upload.SelfSigningKey, upload.UserSigningKey} {
		signature, ok := subkey.Signatures[testUserID.String()][masterKeyID]
		if !ok {
			t.Fatalf("subkey %v missing master signature", subkey.Usage)
		}
		object, err := toJSONObject(subkey)
		if err != nil {
			t.Fatalf("converting subkey: %v", err)
		}
		verifySignedObject(t, object, signature, masterPublic)
	}

	if upload.SelfSigningKey.Usage[0] != "self_signing" {
		t.Errorf("unexpected self-signing usage: %v", upload.SelfSigningKey.Usage)
	}
	if upload.UserSigningKey.Usage[0] != "user_signing" {
		t.Errorf("unexpected user-signing usage: %v", upload.UserSigningKey.Usage)
	}
}

func TestGenerateReusesKeysWithoutReset(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()

	first, err := engine.GenerateCrossSigningKeys(false)
	if err != nil {
		t.Fatalf("first generation failed: %v", err)
	}
	second, err := engine.GenerateCrossSigningKeys(false)
	if err != nil {
		t.Fatalf("second generation failed: %v", err)
	}
	firstMaster := publicKeyOf(t, first[0].Keys.MasterKey)
	secondMaster := publicKeyOf(t, second[0].Keys.MasterKey)
	if !firstMaster.Equal(secondMaster) {
		t.Error("generation without reset should reuse the existing master key")
	}

	reset, err := engine.GenerateCrossSigningKeys(true)
	if err != nil {
		t.Fatalf("reset generation failed: %v", err)
	}
	resetMaster := publicKeyOf(t, reset[0].Keys.MasterKey)
	if firstMaster.Equal(resetMaster) {
		t.Error("reset should mint a fresh master key")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := NewEd25519Engine(testUserID)
	defer source.Close()
	if _, err := source.GenerateCrossSigningKeys(true); err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	master, selfSigning, userSigning, err := source.ExportCrossSigningKeys()
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	defer master.Close()
	defer selfSigning.Close()
	defer userSigning.Close()

	destination := NewEd25519Engine(testUserID)
	defer destination.Close()
	if err := destination.ImportCrossSigningKeys(master, selfSigning, userSigning); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !destination.Status().Complete() {
		t.Fatal("destination engine should hold all keys after import")
	}

	// The imported engine publishes the same public keys.
	sourceRequests, err := source.GenerateCrossSigningKeys(false)
	if err != nil {
		t.Fatalf("source republish failed: %v", err)
	}
	destinationRequests, err := destination.GenerateCrossSigningKeys(false)
	if err != nil {
		t.Fatalf("destination republish failed: %v", err)
	}
	sourceMaster := publicKeyOf(t, sourceRequests[0].Keys.MasterKey)
	destinationMaster := publicKeyOf(t, destinationRequests[0].Keys.MasterKey)
	if !sourceMaster.Equal(destinationMaster) {
		t.Error("imported engine has a different master key")
	}
}

func TestImportRejectsBadSeeds(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()

	short := testSeedBuffer(t, 16)
	good := testSeedBuffer(t, ed25519.SeedSize)
	good2 := testSeedBuffer(t, ed25519.SeedSize)

	if err := engine.ImportCrossSigningKeys(short, good, good2); err == nil {
		t.Fatal("expected error for short seed")
	}
	if err := engine.ImportCrossSigningKeys(nil, good, good2); err == nil {
		t.Fatal("expected error for nil seed")
	}
	if engine.Status().HasMaster {
		t.Error("failed import must not install keys")
	}
}

func TestExportWithoutKeys(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()
	if _, _, _, err := engine.ExportCrossSigningKeys(); err == nil {
		t.Fatal("expected error exporting from an empty engine")
	}
}

func TestSelfSignOwnDevice(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()
	requests, err := engine.GenerateCrossSigningKeys(true)
	if err != nil {
		t.Fatalf("generation failed: %v", err)
	}
	selfSigningPublic := publicKeyOf(t, requests[0].Keys.SelfSigningKey)
	selfSigningKeyID := "ed25519:" + base64.RawStdEncoding.EncodeToString(selfSigningPublic)

	deviceKeys := messaging.DeviceKeys{
		UserID:     testUserID,
		DeviceID:   ref.MustParseDeviceID("DEVICE1"),
		Algorithms: []string{"m.olm.v1.curve25519-aes-sha2"},
		Keys:       map[string]string{"ed25519:DEVICE1": "device+public+key"},
		Signatures: map[string]map[string]string{
			testUserID.String(): {"ed25519:DEVICE1": "existing+device+signature"},
		},
	}

	request, err := engine.SelfSignOwnDevice(deviceKeys)
	if err != nil {
		t.Fatalf("SelfSignOwnDevice failed: %v", err)
	}
	if request.Kind != RequestUploadSignatures {
		t.Errorf("unexpected kind: %v", request.Kind)
	}
	if request.RequiresAuth {
		t.Error("signature upload must not require auth")
	}

	signed, ok := request.Signatures[testUserID.String()]["DEVICE1"].(map[string]any)
	if !ok {
		t.Fatalf("signature upload missing signed device object: %+v", request.Signatures)
	}
	signatures, ok := signed["signatures"].(map[string]any)
	if !ok {
		t.Fatal("signed object missing signatures")
	}
	userSignatures, ok := signatures[testUserID.String()].(map[string]any)
	if !ok {
		t.Fatal("signed object missing user signatures")
	}
	if _, kept := userSignatures["ed25519:DEVICE1"]; !kept {
		t.Error("existing device self-signature was dropped")
	}
	signature, ok := userSignatures[selfSigningKeyID].(string)
	if !ok {
		t.Fatalf("signed object missing self-signing key signature (have: %v)", userSignatures)
	}
	verifySignedObject(t, signed, signature, selfSigningPublic)
}

func TestSelfSignRejectsForeignDevice(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()
	if _, err := engine.GenerateCrossSigningKeys(true); err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	_, err := engine.SelfSignOwnDevice(messaging.DeviceKeys{
		UserID:   ref.MustParseUserID("@mallory:test.local"),
		DeviceID: ref.MustParseDeviceID("EVIL1"),
	})
	if err == nil {
		t.Fatal("expected error signing another user's device")
	}
	if !strings.Contains(err.Error(), "@mallory:test.local") {
		t.Errorf("error should name the foreign user: %v", err)
	}
}

func TestSelfSignWithoutKeys(t *testing.T) {
	engine := NewEd25519Engine(testUserID)
	defer engine.Close()
	_, err := engine.SelfSignOwnDevice(messaging.DeviceKeys{
		UserID:   testUserID,
		DeviceID: ref.MustParseDeviceID("DEVICE1"),
	})
	if err == nil {
		t.Fatal("expected error self-signing without a self-signing key")
	}
}
