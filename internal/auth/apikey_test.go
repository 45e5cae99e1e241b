package auth

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

// fast keeps bcrypt out of the way in tests
const fast = bcrypt.MinCost

func TestGenerateAPIKey(t *testing.T) {
	t.Run("returns populated key", func(t *testing.T) {
		k, err := GenerateAPIKey("hdk", fast)
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if k.Plaintext == "" || k.Hash == "" || k.DisplayPrefix == "" {
			t.Errorf("GenerateAPIKey() returned empty field: %+v", k)
		}
	})

	t.Run("key starts with tag_", func(t *testing.T) {
		k, err := GenerateAPIKey("hdk", fast)
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !strings.HasPrefix(k.Plaintext, "hdk_") {
			t.Errorf("key = %q, want prefix %q", k.Plaintext, "hdk_")
		}
	})

	t.Run("random part is 43 base64url characters", func(t *testing.T) {
		k, err := GenerateAPIKey("hdk", fast)
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		random := strings.TrimPrefix(k.Plaintext, "hdk_")
		if len(random) != 43 {
			t.Errorf("random part len = %d, want 43", len(random))
		}
		if strings.ContainsAny(random, "+/=") {
			t.Errorf("random part %q is not raw base64url", random)
		}
	})

	t.Run("display prefix is first DisplayPrefixLength chars", func(t *testing.T) {
		k, err := GenerateAPIKey("hdk", fast)
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if k.DisplayPrefix != k.Plaintext[:DisplayPrefixLength] {
			t.Errorf("displayPrefix = %q, want %q", k.DisplayPrefix, k.Plaintext[:DisplayPrefixLength])
		}
	})

	t.Run("hash verifies and uses the requested cost", func(t *testing.T) {
		k, err := GenerateAPIKey("hdk", fast)
		if err != nil {
			t.Fatalf("GenerateAPIKey() error: %v", err)
		}
		if !ValidateAPIKey(k.Plaintext, k.Hash) {
			t.Error("hash does not verify against plaintext")
		}
		cost, err := bcrypt.Cost([]byte(k.Hash))
		if err != nil || cost != fast {
			t.Errorf("bcrypt cost = %d (%v), want %d", cost, err, fast)
		}
	})

	t.Run("two calls produce different keys", func(t *testing.T) {
		k1, _ := GenerateAPIKey("hdk", fast)
		k2, _ := GenerateAPIKey("hdk", fast)
		if k1.Plaintext == k2.Plaintext {
			t.Error("GenerateAPIKey() produced identical keys on consecutive calls")
		}
	})

	t.Run("invalid cost is an error", func(t *testing.T) {
		if _, err := GenerateAPIKey("hdk", bcrypt.MaxCost+1); err == nil {
			t.Error("expected error for cost above bcrypt.MaxCost")
		}
	})
}

func TestIssuedKey_DoesNotLeakPlaintext(t *testing.T) {
	k, err := GenerateAPIKey("hdk", fast)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	if s := fmt.Sprintf("%v %s", k, k); strings.Contains(s, k.Plaintext) {
		t.Errorf("fmt output leaks plaintext: %q", s)
	}

	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	logger.Info("issued", "key", k)
	if strings.Contains(buf.String(), k.Plaintext) {
		t.Errorf("slog output leaks plaintext: %q", buf.String())
	}
	if !strings.Contains(buf.String(), k.DisplayPrefix) {
		t.Errorf("slog output should carry display prefix: %q", buf.String())
	}
}

func TestDisplayPrefix(t *testing.T) {
	if got := DisplayPrefix("short"); got != "short" {
		t.Errorf("DisplayPrefix(short) = %q", got)
	}
	if got := DisplayPrefix("hdk_0123456789"); got != "hdk_012345" {
		t.Errorf("DisplayPrefix() = %q, want hdk_012345", got)
	}
}

func TestValidateAPIKey(t *testing.T) {
	k, err := GenerateAPIKey("hdk", fast)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error: %v", err)
	}

	t.Run("correct key validates", func(t *testing.T) {
		if !ValidateAPIKey(k.Plaintext, k.Hash) {
			t.Error("ValidateAPIKey() returned false for correct key")
		}
	})

	t.Run("wrong key does not validate", func(t *testing.T) {
		if ValidateAPIKey("hdk_wrongkey", k.Hash) {
			t.Error("ValidateAPIKey() returned true for wrong key")
		}
	})

	t.Run("empty provided key does not validate", func(t *testing.T) {
		if ValidateAPIKey("", k.Hash) {
			t.Error("ValidateAPIKey() returned true for empty key")
		}
	})

	t.Run("empty hash does not validate", func(t *testing.T) {
		if ValidateAPIKey("some-key", "") {
			t.Error("ValidateAPIKey() returned true for empty hash")
		}
	})

	t.Run("malformed hash does not validate", func(t *testing.T) {
		if ValidateAPIKey(k.Plaintext, "not-a-bcrypt-hash") {
			t.Error("ValidateAPIKey() returned true for malformed hash")
		}
	})
}

// ---------------------------------------------------------------------------
// FindMatch
// ---------------------------------------------------------------------------

func candidateFor(t *testing.T, id, key string) *models.AppAPIKey {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(key), fast)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return &models.AppAPIKey{ID: id, KeyHash: string(h), Active: true}
}

func TestFindMatch(t *testing.T) {
	a := candidateFor(t, "a", "hdk_alpha")
	b := candidateFor(t, "b", "hdk_bravo")
	broken := &models.AppAPIKey{ID: "broken", KeyHash: "$2a$garbage"}

	t.Run("matches the right candidate", func(t *testing.T) {
		got, ok := FindMatch("hdk_bravo", []*models.AppAPIKey{a, b})
		if !ok || got.ID != "b" {
			t.Errorf("FindMatch() = %v, %v; want b", got, ok)
		}
	})

	t.Run("no match", func(t *testing.T) {
		if got, ok := FindMatch("hdk_charlie", []*models.AppAPIKey{a, b}); ok {
			t.Errorf("FindMatch() = %v, want no match", got)
		}
	})

	t.Run("empty candidates", func(t *testing.T) {
		if _, ok := FindMatch("hdk_alpha", nil); ok {
			t.Error("FindMatch() matched against empty candidates")
		}
	})

	t.Run("empty key", func(t *testing.T) {
		if _, ok := FindMatch("", []*models.AppAPIKey{a}); ok {
			t.Error("FindMatch() matched an empty key")
		}
	})

	t.Run("malformed digest is skipped, not fatal", func(t *testing.T) {
		got, ok := FindMatch("hdk_alpha", []*models.AppAPIKey{broken, nil, a})
		if !ok || got.ID != "a" {
			t.Errorf("FindMatch() = %v, %v; want a", got, ok)
		}
	})

	t.Run("first match wins", func(t *testing.T) {
		dup := candidateFor(t, "dup", "hdk_alpha")
		got, ok := FindMatch("hdk_alpha", []*models.AppAPIKey{dup, a})
		if !ok || got.ID != "dup" {
			t.Errorf("FindMatch() = %v, %v; want dup", got, ok)
		}
	})
}

func TestExtractAPIKeyFromHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid bearer token", "Bearer hdk_abc123xyz", "hdk_abc123xyz", false},
		{"bearer with extra spaces", "Bearer  hdk_abc123 ", "hdk_abc123", false},
		{"empty header", "", "", true},
		{"missing Bearer prefix", "hdk_abc123", "", true},
		{"Basic auth scheme", "Basic dXNlcjpwYXNz", "", true},
		{"Bearer with no key", "Bearer ", "", true},
		{"Bearer with only spaces", "Bearer    ", "", true},
		{"lowercase bearer rejected", "bearer hdk_abc123", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractAPIKeyFromHeader(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExtractAPIKeyFromHeader(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ExtractAPIKeyFromHeader(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
