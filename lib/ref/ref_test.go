// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseUserID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		user, err := ParseUserID("@alice:example.org")
		if err != nil {
			t.Fatalf("ParseUserID failed: %v", err)
		}
		if user.Localpart() != "alice" {
			t.Errorf("unexpected localpart: %s", user.Localpart())
		}
		if user.Server() != "example.org" {
			t.Errorf("unexpected server: %s", user.Server())
		}
		if user.String() != "@alice:example.org" {
			t.Errorf("unexpected string: %s", user.String())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{"", "alice", "@alice", "@:example.org", "@alice:", "alice:example.org"} {
			if _, err := ParseUserID(raw); err == nil {
				t.Errorf("ParseUserID(%q) should fail", raw)
			}
		}
	})

	t.Run("zero value", func(t *testing.T) {
		var user UserID
		if !user.IsZero() {
			t.Error("zero UserID should report IsZero")
		}
	})
}

func TestParseDeviceID(t *testing.T) {
	device, err := ParseDeviceID("ABCDEFGH")
	if err != nil {
		t.Fatalf("ParseDeviceID failed: %v", err)
	}
	if device.String() != "ABCDEFGH" {
		t.Errorf("unexpected device ID: %s", device)
	}

	if _, err := ParseDeviceID(""); err == nil {
		t.Error("empty device ID should fail")
	}
}

func TestParseEventID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		event, err := ParseEventID("$abc123")
		if err != nil {
			t.Fatalf("ParseEventID failed: %v", err)
		}
		if event.String() != "$abc123" {
			t.Errorf("unexpected event ID: %s", event)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{"", "$", "abc123"} {
			if _, err := ParseEventID(raw); err == nil {
				t.Errorf("ParseEventID(%q) should fail", raw)
			}
		}
	})
}

func TestJSONRoundTrip(t *testing.T) {
	type payload struct {
		User   UserID   `json:"user_id"`
		Device DeviceID `json:"device_id"`
		Event  EventID  `json:"event_id"`
	}
	original := payload{
		User:   MustParseUserID("@bob:example.org"),
		Device: MustParseDeviceID("DEVICE1"),
		Event:  MustParseEventID("$event1"),
	}

	encoded, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded payload
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalValidates(t *testing.T) {
	var user UserID
	if err := json.Unmarshal([]byte(`"not-a-user-id"`), &user); err == nil {
		t.Error("unmarshal of invalid user ID should fail")
	}

	var event EventID
	if err := json.Unmarshal([]byte(`"not-an-event-id"`), &event); err == nil {
		t.Error("unmarshal of invalid event ID should fail")
	}
}
