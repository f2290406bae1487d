package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the catalogue schema. Every statement is idempotent so it
// runs on each start. dim fixes the width of the embedding column.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	for _, stmt := range schema(dim) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// schema lists the DDL in dependency order. Relations go with their image;
// a tag stays while any image still references it.
func schema(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS images (
			id          BIGSERIAL PRIMARY KEY,
			title       TEXT NOT NULL,
			file_name   TEXT NOT NULL,
			extension   TEXT NOT NULL,
			size        BIGINT NOT NULL CHECK (size > 0),
			width       INTEGER NOT NULL CHECK (width > 0),
			height      INTEGER NOT NULL CHECK (height > 0),
			hash        TEXT NOT NULL UNIQUE CHECK (hash <> ''),
			view_count  BIGINT NOT NULL DEFAULT 0,
			embedding   vector(%d),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_images_embedding ON images USING hnsw (embedding vector_cosine_ops)`,
		`CREATE TABLE IF NOT EXISTS tags (
			id    BIGSERIAL PRIMARY KEY,
			name  TEXT NOT NULL UNIQUE,
			type  TEXT NOT NULL DEFAULT 'general'
		)`,
		`CREATE TABLE IF NOT EXISTS image_tag_relation (
			id        BIGSERIAL PRIMARY KEY,
			image_id  BIGINT NOT NULL REFERENCES images(id) ON DELETE CASCADE,
			tag_id    BIGINT NOT NULL REFERENCES tags(id) ON DELETE RESTRICT,
			score     DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			UNIQUE (image_id, tag_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_image_tag_relation_tag ON image_tag_relation (tag_id, image_id)`,
		`CREATE TABLE IF NOT EXISTS system_settings (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
}
