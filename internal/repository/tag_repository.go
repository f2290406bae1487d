package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/patrickmn/go-cache"

	"github.com/tamakara/bakabooru/internal/models"
)

var ErrTagNotFound = fmt.Errorf("tag %w", models.ErrNotFound)

// TagUsage is a tag with the number of images carrying it.
type TagUsage struct {
	models.Tag
	Count int64
}

type TagRepository struct {
	pool  *pgxpool.Pool
	cache *cache.Cache
}

func NewTagRepository(pool *pgxpool.Pool, ttl time.Duration) *TagRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TagRepository{
		pool:  pool,
		cache: cache.New(ttl, ttl*2),
	}
}

// NormalizeName trims and lowercases a tag name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// FindOrCreate returns the tag called name, creating it with typ if needed.
// Concurrent callers converge on the same row through the unique name.
func (r *TagRepository) FindOrCreate(ctx context.Context, name, typ string) (models.Tag, error) {
	name = NormalizeName(name)
	if name == "" {
		return models.Tag{}, fmt.Errorf("%w: tag name is empty", models.ErrValidation)
	}
	if typ == "" {
		typ = models.TagTypeGeneral
	}
	if cached, ok := r.cache.Get(name); ok {
		return cached.(models.Tag), nil
	}

	const query = `
		INSERT INTO tags (name, type) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, type
	`
	var tag models.Tag
	if err := r.pool.QueryRow(ctx, query, name, typ).Scan(&tag.ID, &tag.Name, &tag.Type); err != nil {
		return models.Tag{}, fmt.Errorf("find or create tag %s: %w", name, err)
	}
	r.cache.Set(name, tag, cache.DefaultExpiration)
	return tag, nil
}

func (r *TagRepository) GetByID(ctx context.Context, id int64) (models.Tag, error) {
	const query = `SELECT id, name, type FROM tags WHERE id = $1`

	var tag models.Tag
	if err := r.pool.QueryRow(ctx, query, id).Scan(&tag.ID, &tag.Name, &tag.Type); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Tag{}, ErrTagNotFound
		}
		return models.Tag{}, fmt.Errorf("get tag: %w", err)
	}
	return tag, nil
}

// Search lists tags whose name contains q, most used first.
func (r *TagRepository) Search(ctx context.Context, q string, limit int) ([]TagUsage, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT t.id, t.name, t.type, COUNT(r.id) AS usage
		FROM tags t
		LEFT JOIN image_tag_relation r ON r.tag_id = t.id
		WHERE t.name LIKE $1 ESCAPE '\'
		GROUP BY t.id
		ORDER BY usage DESC, t.name
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, "%"+EscapeLike(NormalizeName(q))+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search tags: %w", err)
	}
	defer rows.Close()

	tags := []TagUsage{}
	for rows.Next() {
		var t TagUsage
		if err := rows.Scan(&t.ID, &t.Name, &t.Type, &t.Count); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike quotes LIKE metacharacters so s matches literally.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}
