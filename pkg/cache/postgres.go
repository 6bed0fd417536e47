package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mikeboe/deep-research/pkg/database"
)

// Postgres stores entries in the llm_cache table created by database.InitSchema.
type Postgres struct {
	DB *database.PostgresDB
}

// NewPostgres returns a Postgres-backed store.
func NewPostgres(db *database.PostgresDB) *Postgres {
	return &Postgres{DB: db}
}

func (c *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := c.DB.Pool.QueryRow(ctx, `
		UPDATE llm_cache SET accessed_at = NOW()
		WHERE key = $1
		RETURNING payload
	`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return payload, true, nil
}

func (c *Postgres) Save(ctx context.Context, key string, data []byte) error {
	_, err := c.DB.Pool.Exec(ctx, `
		INSERT INTO llm_cache (key, payload)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, accessed_at = NOW()
	`, key, data)
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}
