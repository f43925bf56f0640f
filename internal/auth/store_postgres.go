package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/example/business-ledger/internal/database"
)

type PostgresKeyStore struct {
	Pool database.Pool
}

func (s *PostgresKeyStore) ActiveKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	if s.Pool == nil {
		return nil, errors.New("missing pool")
	}

	var k APIKey
	err := s.Pool.QueryRow(ctx, `
		SELECT id, key_hash, business_name, is_active, created_at
		FROM api_keys WHERE key_hash = $1 AND is_active
	`, hash).Scan(&k.ID, &k.KeyHash, &k.BusinessName, &k.IsActive, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return &k, nil
}

func (s *PostgresKeyStore) CreateKey(ctx context.Context, k *APIKey) error {
	if s.Pool == nil {
		return errors.New("missing pool")
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, business_name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, k.ID, k.KeyHash, k.BusinessName, k.IsActive, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}
