// Package auth provides authentication primitives for the helpdesk: app API key issuance and
// matching, and JWT creation/verification for operator sessions.
// See internal/services/app_authorizer.go for the request-time app key checks that use these
// primitives, and internal/middleware/auth.go for operator sessions.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/helpdesk-io/helpdesk/internal/db/models"
)

const (
	// APIKeyLength is the length of the random part of the API key in bytes
	APIKeyLength = 32

	// DisplayPrefixLength is the number of characters kept for display and lookup narrowing
	DisplayPrefixLength = 10

	// BcryptCost is the default cost factor for bcrypt hashing
	BcryptCost = 12
)

// IssuedKey is the result of issuing a key. Plaintext must be shown to the caller once and
// then discarded; only Hash and DisplayPrefix are persisted.
type IssuedKey struct {
	Plaintext     string
	Hash          string
	DisplayPrefix string
}

// String keeps the plaintext out of fmt output.
func (k IssuedKey) String() string {
	return k.DisplayPrefix + "..."
}

// LogValue keeps the plaintext out of slog output.
func (k IssuedKey) LogValue() slog.Value {
	return slog.GroupValue(slog.String("key_prefix", k.DisplayPrefix))
}

// GenerateAPIKey creates a new random key of the form <tag>_<base64url(32 random bytes)>
// and digests it with bcrypt at the given cost. A cost of 0 uses BcryptCost.
func GenerateAPIKey(tag string, cost int) (IssuedKey, error) {
	if cost == 0 {
		cost = BcryptCost
	}

	randomBytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return IssuedKey{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullKey := fmt.Sprintf("%s_%s", tag, base64.RawURLEncoding.EncodeToString(randomBytes))

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), cost)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("failed to hash API key: %w", err)
	}

	return IssuedKey{
		Plaintext:     fullKey,
		Hash:          string(hashBytes),
		DisplayPrefix: DisplayPrefix(fullKey),
	}, nil
}

// DisplayPrefix returns the first DisplayPrefixLength characters of key.
func DisplayPrefix(key string) string {
	if len(key) > DisplayPrefixLength {
		return key[:DisplayPrefixLength]
	}
	return key
}

// ValidateAPIKey checks if a provided key matches the stored hash
func ValidateAPIKey(providedKey, storedHash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(providedKey))
	return err == nil
}

// FindMatch scans candidates in order and returns the first whose stored digest verifies
// against presentedKey. Malformed digests and empty keys simply fail to match.
func FindMatch(presentedKey string, candidates []*models.AppAPIKey) (*models.AppAPIKey, bool) {
	if presentedKey == "" {
		return nil, false
	}
	for _, c := range candidates {
		if c == nil || c.KeyHash == "" {
			continue
		}
		if ValidateAPIKey(presentedKey, c.KeyHash) {
			return c, true
		}
	}
	return nil, false
}

// ExtractAPIKeyFromHeader extracts the API key from an Authorization header
// Expected format: "Bearer hdk_abc123xyz..."
func ExtractAPIKeyFromHeader(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	if !strings.HasPrefix(header, "Bearer ") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	key := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if key == "" {
		return "", errors.New("API key is empty after Bearer prefix")
	}

	return key, nil
}
