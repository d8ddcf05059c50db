package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIdentity_UnmarshalJSON_KeepsProviderFields(t *testing.T) {
	body := `{
		"id": "auth-1",
		"aud": "authenticated",
		"role": "authenticated",
		"email": "jane@example.com",
		"confirmed_at": "2026-01-01T00:00:05Z",
		"app_metadata": {"provider": "email", "providers": ["email"]},
		"user_metadata": {"full_name": "Jane Doe"},
		"created_at": "2026-01-01T00:00:00Z"
	}`

	var identity Identity
	if err := json.Unmarshal([]byte(body), &identity); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if identity.ID != "auth-1" || identity.Email != "jane@example.com" {
		t.Errorf("identity = %+v", identity)
	}
	if identity.MetadataFullName() != "Jane Doe" {
		t.Errorf("MetadataFullName() = %q", identity.MetadataFullName())
	}
	if !identity.CreatedAt.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", identity.CreatedAt)
	}

	for _, key := range []string{"aud", "role", "confirmed_at", "app_metadata"} {
		if _, ok := identity.Extra[key]; !ok {
			t.Errorf("Extra[%q] missing", key)
		}
	}
	for _, key := range identityKeys {
		if _, ok := identity.Extra[key]; ok {
			t.Errorf("Extra[%q] should not duplicate a struct field", key)
		}
	}
	if got := string(identity.Extra["role"]); got != `"authenticated"` {
		t.Errorf("Extra[role] = %s", got)
	}
}

func TestIdentity_UnmarshalJSON_NoExtraFields(t *testing.T) {
	var identity Identity
	if err := json.Unmarshal([]byte(`{"id":"auth-1","email":"a@x.com"}`), &identity); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if identity.Extra != nil {
		t.Errorf("Extra = %v, want nil", identity.Extra)
	}
}

func TestIdentity_UnmarshalJSON_InvalidBody(t *testing.T) {
	var identity Identity
	if err := json.Unmarshal([]byte(`{"id": 1}`), &identity); err == nil {
		t.Error("expected error for non-string id")
	}
}
