package database

import (
	"context"
	"fmt"
)

// InitSchema creates the tables used by the service.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	cacheQuery := `
		CREATE TABLE IF NOT EXISTS llm_cache (
			key TEXT PRIMARY KEY,
			payload BYTEA NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			accessed_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, cacheQuery); err != nil {
		return fmt.Errorf("failed to create llm_cache table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_llm_cache_accessed_at ON llm_cache(accessed_at)"); err != nil {
		return fmt.Errorf("failed to create index on llm_cache: %w", err)
	}

	return nil
}

// PurgeCache deletes cache rows not accessed since olderThan ago, in
// PostgreSQL interval syntax (e.g. "7 days").
func (db *PostgresDB) PurgeCache(ctx context.Context, olderThan string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, "DELETE FROM llm_cache WHERE accessed_at < NOW() - $1::interval", olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge llm_cache: %w", err)
	}
	return tag.RowsAffected(), nil
}
