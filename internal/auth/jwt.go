// Package auth - jwt.go issues and verifies operator session tokens. Sessions are HS256 JWTs
// signed with the secret in HDK_JWT_SECRET; in development a random per-process secret is
// used instead.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTSecretEnv names the environment variable holding the session signing secret
const JWTSecretEnv = "HDK_JWT_SECRET"

const (
	sessionIssuer   = "helpdesk"
	sessionAudience = "helpdesk-admin"
	defaultTTL      = time.Hour
	minSecretLen    = 32
	clockSkew       = 30 * time.Second
)

// ErrNoSessionSecret is returned outside development mode when HDK_JWT_SECRET is unset.
var ErrNoSessionSecret = errors.New(JWTSecretEnv + " is required outside development mode; generate one with: openssl rand -hex 32")

// Session identifies the operator a token was issued to.
type Session struct {
	UserID         string   `json:"user_id"`
	Email          string   `json:"email"`
	OrganizationID string   `json:"organization_id"`
	Scopes         []string `json:"scopes"`
}

// Claims is the decoded form of a session token.
type Claims struct {
	Session
	jwt.RegisteredClaims
}

type signingKey struct {
	once sync.Once
	key  []byte
	err  error
}

var sessionKey = &signingKey{}

func devMode() bool {
	switch os.Getenv("DEV_MODE") {
	case "true", "1":
		return true
	}
	return os.Getenv("GIN_MODE") == "debug"
}

func (k *signingKey) load() ([]byte, error) {
	k.once.Do(func() {
		secret := os.Getenv(JWTSecretEnv)
		switch {
		case secret != "":
			if len(secret) < minSecretLen {
				slog.Warn("session secret is shorter than recommended", "env", JWTSecretEnv, "min_length", minSecretLen)
			}
			k.key = []byte(secret)
		case devMode():
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				k.err = fmt.Errorf("failed to generate development session secret: %w", err)
				return
			}
			k.key = []byte(hex.EncodeToString(buf))
			slog.Warn("session secret not set; using a random development secret, sessions end on restart", "env", JWTSecretEnv)
		default:
			k.err = ErrNoSessionSecret
		}
	})
	return k.key, k.err
}

// InitSessionSecret loads the signing secret. Call it at startup so a missing secret fails
// fast instead of on the first login.
func InitSessionSecret() error {
	_, err := sessionKey.load()
	return err
}

// IssueSession signs a token for s that expires after ttl (one hour when ttl is zero).
func IssueSession(s Session, ttl time.Duration) (string, error) {
	key, err := sessionKey.load()
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = defaultTTL
	}

	now := time.Now()
	claims := &Claims{
		Session: s,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   s.UserID,
			Audience:  jwt.ClaimStrings{sessionAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// ParseSession verifies the signature, issuer, audience and expiry of token.
func ParseSession(token string) (*Claims, error) {
	key, err := sessionKey.load()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}
	if claims.UserID == "" || claims.UserID != claims.Subject {
		return nil, errors.New("invalid session: subject mismatch")
	}
	return claims, nil
}
