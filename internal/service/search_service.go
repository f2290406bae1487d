package service

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/ids"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/search"
	"github.com/tamakara/bakabooru/internal/storage"
)

type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Page, error)
}

type TagLoader interface {
	TagsFor(ctx context.Context, ids []int64) (map[int64][]models.ImageTag, error)
}

type ImageEmbedder interface {
	EmbedImage(ctx context.Context, objectName string) ([]float32, error)
}

// SimilarInput describes a search by example image. Similarity is in [0, 1];
// zero disables the distance cut-off.
type SimilarInput struct {
	File       io.Reader
	Size       int64
	MIME       string
	Similarity float64
	Page       int
	PageSize   int
}

type SearchService struct {
	engine   Searcher
	tags     TagLoader
	store    BlobWriter
	embedder ImageEmbedder
	maxPage  int
	log      zerolog.Logger
}

func NewSearchService(engine Searcher, tags TagLoader, store BlobWriter, embedder ImageEmbedder, maxPageSize int, log zerolog.Logger) *SearchService {
	return &SearchService{
		engine:   engine,
		tags:     tags,
		store:    store,
		embedder: embedder,
		maxPage:  maxPageSize,
		log:      log.With().Str("component", "search").Logger(),
	}
}

func (s *SearchService) Search(ctx context.Context, req search.Request) (search.Page, error) {
	page, err := s.engine.Search(ctx, req)
	if err != nil {
		return search.Page{}, err
	}
	if err := s.attachTags(ctx, &page); err != nil {
		return search.Page{}, err
	}
	return page, nil
}

// SearchByImage embeds an uploaded image and ranks the catalogue by similarity to it.
// The upload is staged under temp/search and removed once embedded.
func (s *SearchService) SearchByImage(ctx context.Context, input SimilarInput) (search.Page, error) {
	if input.File == nil {
		return search.Page{}, fmt.Errorf("%w: file is required", models.ErrValidation)
	}
	if input.Similarity < 0 || input.Similarity > 1 {
		return search.Page{}, fmt.Errorf("%w: similarity must be within [0, 1], got %g", models.ErrValidation, input.Similarity)
	}
	if err := search.ValidatePaging(input.Page, input.PageSize, s.maxPage); err != nil {
		return search.Page{}, err
	}

	key := storage.SearchQueryKey(ids.New())
	if err := s.store.Put(ctx, key, input.File, input.Size, input.MIME); err != nil {
		return search.Page{}, fmt.Errorf("%w: stage query image: %v", models.ErrExternalService, err)
	}
	embedding, err := s.embedder.EmbedImage(ctx, key)
	if delErr := s.store.Delete(ctx, key); delErr != nil {
		s.log.Warn().Err(delErr).Str("key", key).Msg("delete search image failed")
	}
	if err != nil {
		return search.Page{}, fmt.Errorf("embed query image: %w", err)
	}

	req := search.Request{
		Page:      input.Page,
		Size:      input.PageSize,
		Sort:      "similarity,ASC",
		Embedding: embedding,
	}
	if input.Similarity > 0 {
		d := search.SimilarityToDistance(input.Similarity)
		req.MaxDistance = &d
	}
	return s.Search(ctx, req)
}

func (s *SearchService) attachTags(ctx context.Context, page *search.Page) error {
	if len(page.Items) == 0 {
		return nil
	}
	imageIDs := make([]int64, len(page.Items))
	for i, it := range page.Items {
		imageIDs[i] = it.ID
	}
	tags, err := s.tags.TagsFor(ctx, imageIDs)
	if err != nil {
		return err
	}
	for i := range page.Items {
		page.Items[i].Tags = tags[page.Items[i].ID]
		page.Items[i].SortTags()
	}
	return nil
}
