package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type SQLiteKeyStore struct {
	DB *sql.DB
}

func (s *SQLiteKeyStore) ActiveKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	if s.DB == nil {
		return nil, errors.New("missing database")
	}

	var k APIKey
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, key_hash, business_name, is_active, created_at
		FROM api_keys WHERE key_hash = ? AND is_active = 1
	`, hash).Scan(&k.ID, &k.KeyHash, &k.BusinessName, &k.IsActive, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return &k, nil
}

func (s *SQLiteKeyStore) CreateKey(ctx context.Context, k *APIKey) error {
	if s.DB == nil {
		return errors.New("missing database")
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO api_keys (id, key_hash, business_name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, k.ID, k.KeyHash, k.BusinessName, k.IsActive, k.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}
