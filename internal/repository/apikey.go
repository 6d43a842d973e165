package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/stripe-storefront/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, scopes = EXCLUDED.scopes, active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides admin API key storage backed by PostgreSQL.
type APIKeyRepository struct {
	db DB
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(db DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := r.db.QueryRow(ctx, getAPIKeyByHashSQL, hash).Scan(
		&info.ID, &info.KeyHash, &info.Name, &info.Scopes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, errors.Wrap(err, "find api key by hash")
	}
	return &info, nil
}

// Save stores a key, reactivating it if the hash already exists.
func (r *APIKeyRepository) Save(ctx context.Context, info *auth.APIKeyInfo) error {
	_, err := r.db.Exec(ctx, upsertAPIKeySQL, info.ID, info.KeyHash, info.Name, info.Scopes)
	if err != nil {
		return errors.Wrapf(err, "save api key %q", info.Name)
	}
	return nil
}
