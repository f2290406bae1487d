package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/repository"
	"github.com/tamakara/bakabooru/internal/storage"

	_ "golang.org/x/image/webp"
)

type ImageStore interface {
	GetByID(ctx context.Context, id int64) (models.Image, error)
	IncrementViewCount(ctx context.Context, id int64) (int64, error)
	UpdateTitle(ctx context.Context, id int64, title string) error
	AddTag(ctx context.Context, imageID, tagID int64, score float64) error
	RemoveTag(ctx context.Context, imageID, tagID int64) error
	Delete(ctx context.Context, id int64) (string, error)
}

type TagStore interface {
	GetByID(ctx context.Context, id int64) (models.Tag, error)
	Search(ctx context.Context, q string, limit int) ([]repository.TagUsage, error)
}

type Blobs interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

type ThumbnailSizer interface {
	ThumbnailSize(ctx context.Context) int
}

const defaultTagLimit = 20

type ImageService struct {
	images   ImageStore
	tags     TagStore
	store    Blobs
	settings ThumbnailSizer
	log      zerolog.Logger
}

func NewImageService(images ImageStore, tags TagStore, store Blobs, settings ThumbnailSizer, log zerolog.Logger) *ImageService {
	return &ImageService{
		images:   images,
		tags:     tags,
		store:    store,
		settings: settings,
		log:      log.With().Str("component", "images").Logger(),
	}
}

// Get returns the image and counts the view.
func (s *ImageService) Get(ctx context.Context, id int64) (models.Image, error) {
	if _, err := s.images.IncrementViewCount(ctx, id); err != nil {
		return models.Image{}, err
	}
	return s.images.GetByID(ctx, id)
}

func (s *ImageService) UpdateTitle(ctx context.Context, id int64, title string) (models.Image, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Image{}, fmt.Errorf("%w: title must not be empty", models.ErrValidation)
	}
	if err := s.images.UpdateTitle(ctx, id, title); err != nil {
		return models.Image{}, err
	}
	return s.images.GetByID(ctx, id)
}

func (s *ImageService) AddTag(ctx context.Context, imageID, tagID int64) (models.Image, error) {
	if _, err := s.tags.GetByID(ctx, tagID); err != nil {
		return models.Image{}, err
	}
	if err := s.images.AddTag(ctx, imageID, tagID, models.ManualTagScore); err != nil {
		return models.Image{}, err
	}
	return s.images.GetByID(ctx, imageID)
}

func (s *ImageService) RemoveTag(ctx context.Context, imageID, tagID int64) (models.Image, error) {
	if err := s.images.RemoveTag(ctx, imageID, tagID); err != nil {
		return models.Image{}, err
	}
	return s.images.GetByID(ctx, imageID)
}

// Delete removes the catalogue row, then the original and its thumbnails at
// every size rendered so far. Blob failures are logged; the row is already gone.
func (s *ImageService) Delete(ctx context.Context, id int64) error {
	hash, err := s.images.Delete(ctx, id)
	if err != nil {
		return err
	}
	keys := append([]string{storage.OriginalKey(hash)}, s.thumbnailKeys(ctx, hash)...)
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("delete blob failed")
		}
	}
	s.log.Info().Int64("image_id", id).Msg("image deleted")
	return nil
}

func (s *ImageService) thumbnailKeys(ctx context.Context, hash string) []string {
	current := storage.ThumbnailKey(s.settings.ThumbnailSize(ctx), hash)
	keys := []string{current}
	dirs, err := s.store.List(ctx, storage.ThumbnailPrefix)
	if err != nil {
		s.log.Warn().Err(err).Msg("list thumbnail sizes failed")
		return keys
	}
	for _, dir := range dirs {
		if !strings.HasSuffix(dir, "/") {
			continue
		}
		if key := path.Join(dir, hash); key != current {
			keys = append(keys, key)
		}
	}
	return keys
}

// Open streams the original bytes. The caller closes the reader.
func (s *ImageService) Open(ctx context.Context, id int64) (io.ReadCloser, models.Image, error) {
	image, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, models.Image{}, err
	}
	rc, err := s.store.Get(ctx, storage.OriginalKey(image.Hash))
	if err != nil {
		return nil, models.Image{}, s.blobError(err)
	}
	return rc, image, nil
}

// Thumbnail returns a JPEG no larger than the configured size on either
// side, rendering and caching it on first use.
func (s *ImageService) Thumbnail(ctx context.Context, id int64) (io.ReadCloser, error) {
	image, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	size := s.settings.ThumbnailSize(ctx)
	key := storage.ThumbnailKey(size, image.Hash)

	cached, err := s.store.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, storage.ErrObjectNotFound) {
		return nil, s.blobError(err)
	}

	original, err := s.store.Get(ctx, storage.OriginalKey(image.Hash))
	if err != nil {
		return nil, s.blobError(err)
	}
	defer original.Close()

	data, err := renderThumbnail(original, size)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache thumbnail failed")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *ImageService) SearchTags(ctx context.Context, q string, limit int) ([]repository.TagUsage, error) {
	if limit <= 0 {
		limit = defaultTagLimit
	}
	return s.tags.Search(ctx, q, limit)
}

func (s *ImageService) blobError(err error) error {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("image file %w", models.ErrNotFound)
	}
	return fmt.Errorf("%w: %v", models.ErrExternalService, err)
}

func renderThumbnail(r io.Reader, size int) ([]byte, error) {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", models.ErrUnsupportedContent, err)
	}
	thumb := imaging.Fit(src, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
