// Package auth resolves bearer API keys to the business that owns them.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrKeyNotFound   = errors.New("api key not found")
)

const keyPrefix = "lk_"

// APIKey is the stored form of a key. The raw key is never persisted.
type APIKey struct {
	ID           uuid.UUID
	KeyHash      string
	BusinessName string
	IsActive     bool
	CreatedAt    time.Time
}

// KeyStore looks up keys by hash.
type KeyStore interface {
	// ActiveKeyByHash returns ErrKeyNotFound for unknown or revoked keys.
	ActiveKeyByHash(ctx context.Context, hash string) (*APIKey, error)
	CreateKey(ctx context.Context, k *APIKey) error
}

// HashKey returns the hex SHA-256 digest stored for a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new raw key.
func GenerateKey() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(b), nil
}

// Issue creates and stores a key for businessName. The returned raw key is
// shown to the operator once.
func Issue(ctx context.Context, store KeyStore, businessName string) (string, *APIKey, error) {
	businessName = strings.TrimSpace(businessName)
	if businessName == "" {
		return "", nil, errors.New("business name is required")
	}
	raw, err := GenerateKey()
	if err != nil {
		return "", nil, err
	}
	k := &APIKey{
		ID:           uuid.New(),
		KeyHash:      HashKey(raw),
		BusinessName: businessName,
		IsActive:     true,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.CreateKey(ctx, k); err != nil {
		return "", nil, fmt.Errorf("failed to store api key: %w", err)
	}
	return raw, k, nil
}

// Principal is the authenticated business. Its ID owns accounts,
// transactions and webhook endpoints.
type Principal struct {
	OwnerID      uuid.UUID
	BusinessName string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok
}

// Authenticator resolves bearer tokens against a KeyStore.
type Authenticator struct {
	Store KeyStore
}

// Resolve maps a raw key to its principal. Unknown, revoked and empty keys
// all yield ErrInvalidAPIKey; storage failures are returned wrapped.
func (a *Authenticator) Resolve(ctx context.Context, rawKey string) (*Principal, error) {
	if a == nil || a.Store == nil || rawKey == "" {
		return nil, ErrInvalidAPIKey
	}
	k, err := a.Store.ActiveKeyByHash(ctx, HashKey(rawKey))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	}
	return &Principal{OwnerID: k.ID, BusinessName: k.BusinessName}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(header[len("Bearer "):])
	return tok, tok != ""
}
