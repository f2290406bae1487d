package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tamakara/bakabooru/internal/models"
)

var ErrImageNotFound = fmt.Errorf("image %w", models.ErrNotFound)

const uniqueViolation = "23505"

type ImageRepository struct {
	pool *pgxpool.Pool
}

func NewImageRepository(pool *pgxpool.Pool) *ImageRepository {
	return &ImageRepository{pool: pool}
}

// IDByHash reports the id of the image stored with hash, if any.
func (r *ImageRepository) IDByHash(ctx context.Context, hash string) (int64, bool, error) {
	const query = `SELECT id FROM images WHERE hash = $1`

	var id int64
	if err := r.pool.QueryRow(ctx, query, hash).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup hash: %w", err)
	}
	return id, true, nil
}

// Create inserts the image and all of its tag relations in one transaction.
// ID and timestamps are filled in on success.
func (r *ImageRepository) Create(ctx context.Context, image *models.Image) error {
	if err := image.Validate(); err != nil {
		return err
	}

	const insertImage = `
		INSERT INTO images (title, file_name, extension, size, width, height, hash, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, view_count, created_at, updated_at
	`
	const insertRelation = `
		INSERT INTO image_tag_relation (image_id, tag_id, score)
		VALUES ($1, $2, $3)
		ON CONFLICT (image_id, tag_id) DO UPDATE SET score = GREATEST(image_tag_relation.score, EXCLUDED.score)
		RETURNING id
	`

	var embedding any
	if len(image.Embedding) > 0 {
		embedding = pgvector.NewVector(image.Embedding)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, insertImage,
			image.Title,
			image.FileName,
			image.Extension,
			image.Size,
			image.Width,
			image.Height,
			image.Hash,
			embedding,
		).Scan(&image.ID, &image.ViewCount, &image.CreatedAt, &image.UpdatedAt); err != nil {
			return err
		}

		for i := range image.Tags {
			rel := &image.Tags[i]
			rel.ImageID = image.ID
			if err := tx.QueryRow(ctx, insertRelation, image.ID, rel.Tag.ID, rel.Score).Scan(&rel.ID); err != nil {
				return fmt.Errorf("insert tag %s: %w", rel.Tag.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		image.ID = 0
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.TableName == "images" {
			return fmt.Errorf("%w: hash %s already stored", models.ErrDuplicateContent, image.Hash)
		}
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func (r *ImageRepository) GetByID(ctx context.Context, id int64) (models.Image, error) {
	const query = `
		SELECT id, title, file_name, extension, size, width, height, hash, view_count, created_at, updated_at
		FROM images WHERE id = $1
	`

	var image models.Image
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&image.ID,
		&image.Title,
		&image.FileName,
		&image.Extension,
		&image.Size,
		&image.Width,
		&image.Height,
		&image.Hash,
		&image.ViewCount,
		&image.CreatedAt,
		&image.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrImageNotFound
		}
		return models.Image{}, fmt.Errorf("get image: %w", err)
	}

	tags, err := r.TagsFor(ctx, []int64{id})
	if err != nil {
		return models.Image{}, err
	}
	image.Tags = tags[id]
	image.SortTags()
	return image, nil
}

// TagsFor loads the tag relations of several images at once.
func (r *ImageRepository) TagsFor(ctx context.Context, ids []int64) (map[int64][]models.ImageTag, error) {
	out := make(map[int64][]models.ImageTag, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const query = `
		SELECT r.id, r.image_id, r.score, t.id, t.name, t.type
		FROM image_tag_relation r
		JOIN tags t ON t.id = r.tag_id
		WHERE r.image_id = ANY($1)
		ORDER BY r.image_id, r.score DESC, t.name
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rel models.ImageTag
		if err := rows.Scan(&rel.ID, &rel.ImageID, &rel.Score, &rel.Tag.ID, &rel.Tag.Name, &rel.Tag.Type); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out[rel.ImageID] = append(out[rel.ImageID], rel)
	}
	return out, rows.Err()
}

func (r *ImageRepository) IncrementViewCount(ctx context.Context, id int64) (int64, error) {
	const query = `UPDATE images SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`

	var views int64
	if err := r.pool.QueryRow(ctx, query, id).Scan(&views); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrImageNotFound
		}
		return 0, fmt.Errorf("increment views: %w", err)
	}
	return views, nil
}

func (r *ImageRepository) UpdateTitle(ctx context.Context, id int64, title string) error {
	const query = `UPDATE images SET title = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id, title)
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return nil
}

// AddTag links a tag to an image, overwriting the score of an existing link.
func (r *ImageRepository) AddTag(ctx context.Context, imageID, tagID int64, score float64) error {
	const query = `
		INSERT INTO image_tag_relation (image_id, tag_id, score)
		SELECT $1, $2, $3 WHERE EXISTS (SELECT 1 FROM images WHERE id = $1)
		ON CONFLICT (image_id, tag_id) DO UPDATE SET score = EXCLUDED.score
	`

	tag, err := r.pool.Exec(ctx, query, imageID, tagID, score)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrTagNotFound
		}
		return fmt.Errorf("add tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrImageNotFound
	}
	return r.touch(ctx, imageID)
}

func (r *ImageRepository) RemoveTag(ctx context.Context, imageID, tagID int64) error {
	const query = `DELETE FROM image_tag_relation WHERE image_id = $1 AND tag_id = $2`

	tag, err := r.pool.Exec(ctx, query, imageID, tagID)
	if err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("tag %d on image %d: %w", tagID, imageID, models.ErrNotFound)
	}
	return r.touch(ctx, imageID)
}

func (r *ImageRepository) touch(ctx context.Context, id int64) error {
	if _, err := r.pool.Exec(ctx, `UPDATE images SET updated_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("touch image: %w", err)
	}
	return nil
}

// Delete removes the image row (relations cascade) and returns its hash.
func (r *ImageRepository) Delete(ctx context.Context, id int64) (string, error) {
	const query = `DELETE FROM images WHERE id = $1 RETURNING hash`

	var hash string
	if err := r.pool.QueryRow(ctx, query, id).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrImageNotFound
		}
		return "", fmt.Errorf("delete image: %w", err)
	}
	return hash, nil
}
