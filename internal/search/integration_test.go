//go:build integration

package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/tamakara/bakabooru/internal/database"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/repository"
)

const testDim = 3

type catalogue struct {
	pool   *pgxpool.Pool
	images *repository.ImageRepository
	tags   *repository.TagRepository
	engine *Engine
}

func newCatalogue(t *testing.T) *catalogue {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("bakabooru"),
		postgres.WithUsername("bakabooru"),
		postgres.WithPassword("bakabooru"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool, testDim))

	return &catalogue{
		pool:   pool,
		images: repository.NewImageRepository(pool),
		tags:   repository.NewTagRepository(pool, time.Minute),
		engine: NewEngine(pool, nil, 200, nil, zerolog.Nop()),
	}
}

func (c *catalogue) add(t *testing.T, name string, embedding []float32, tags ...string) int64 {
	t.Helper()
	ctx := context.Background()
	img := &models.Image{
		Title:     name,
		FileName:  name + ".png",
		Extension: "png",
		Size:      1024,
		Width:     64,
		Height:    48,
		Hash:      fmt.Sprintf("%064s", name),
		Embedding: embedding,
	}
	for _, tagName := range tags {
		tag, err := c.tags.FindOrCreate(ctx, tagName, models.TagTypeGeneral)
		require.NoError(t, err)
		img.Tags = append(img.Tags, models.ImageTag{Tag: tag, Score: 0.9})
	}
	require.NoError(t, c.images.Create(ctx, img))
	return img.ID
}

func ids(p Page) []int64 {
	out := make([]int64, len(p.Items))
	for i, it := range p.Items {
		out[i] = it.ID
	}
	return out
}

func TestIntegrationTagConjunctionAndExclusion(t *testing.T) {
	c := newCatalogue(t)
	ctx := context.Background()

	onlyA := c.add(t, "only-a", nil, "a")
	both := c.add(t, "both", nil, "a", "b")
	onlyB := c.add(t, "only-b", nil, "b")

	page, err := c.engine.Search(ctx, Request{Tags: "a b", Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{both}, ids(page))

	page, err = c.engine.Search(ctx, Request{Tags: "-a", Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{onlyB}, ids(page))

	page, err = c.engine.Search(ctx, Request{Tags: "a", Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{onlyA, both}, ids(page))
}

func TestIntegrationCreatedAtScenario(t *testing.T) {
	c := newCatalogue(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		c.add(t, fmt.Sprintf("cat-%02d", i), nil, "cat")
	}
	c.add(t, "dog-and-cat", nil, "cat", "dog")
	c.add(t, "just-dog", nil, "dog")

	page, err := c.engine.Search(ctx, Request{Tags: "cat -dog", Sort: "createdAt,DESC", Page: 0, Size: 20})
	require.NoError(t, err)

	assert.EqualValues(t, 25, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 20)
	for i := 1; i < len(page.Items); i++ {
		assert.False(t, page.Items[i].CreatedAt.After(page.Items[i-1].CreatedAt))
	}
	assert.Equal(t, "cat-24", page.Items[0].Title)
}

func TestIntegrationRandomSortIsStableAcrossPages(t *testing.T) {
	c := newCatalogue(t)
	ctx := context.Background()

	for i := 0; i < 23; i++ {
		c.add(t, fmt.Sprintf("img-%02d", i), nil)
	}

	full, err := c.engine.Search(ctx, Request{Sort: "random,ASC", RandomSeed: "seed-1", Size: 100})
	require.NoError(t, err)
	require.Len(t, full.Items, 23)
	assert.Equal(t, "seed-1", full.Seed)

	again, err := c.engine.Search(ctx, Request{Sort: "random,ASC", RandomSeed: "seed-1", Size: 100})
	require.NoError(t, err)
	assert.Equal(t, ids(full), ids(again))

	var paged []int64
	for p := 0; p < 5; p++ {
		page, err := c.engine.Search(ctx, Request{Sort: "random,ASC", RandomSeed: "seed-1", Page: p, Size: 5})
		require.NoError(t, err)
		paged = append(paged, ids(page)...)
	}
	assert.Equal(t, ids(full), paged)

	other, err := c.engine.Search(ctx, Request{Sort: "random,ASC", RandomSeed: "another seed", Size: 100})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(full), ids(other))
	assert.NotEqual(t, ids(full), ids(other))
}

func TestIntegrationSimilarity(t *testing.T) {
	c := newCatalogue(t)
	ctx := context.Background()

	near := c.add(t, "near", []float32{1, 0, 0})
	mid := c.add(t, "mid", []float32{1, 1, 0})
	far := c.add(t, "far", []float32{0, 0, 1})
	c.add(t, "no-embedding", nil)

	page, err := c.engine.Search(ctx, Request{Sort: "similarity,ASC", Embedding: []float32{1, 0.1, 0}, Size: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 4)
	assert.Equal(t, []int64{near, mid, far}, ids(page)[:3])
	require.NotNil(t, page.Items[0].Distance)
	assert.Nil(t, page.Items[3].Distance)

	page, err = c.engine.Search(ctx, Request{
		Sort:        "similarity,ASC",
		Embedding:   []float32{1, 0.1, 0},
		MaxDistance: ptr(SimilarityToDistance(0.9)),
		Size:        10,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{near}, ids(page))
	assert.EqualValues(t, 1, page.TotalElements)

	page, err = c.engine.Search(ctx, Request{Sort: "similarity,ASC", Size: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 4)
	assert.NotEmpty(t, page.Seed)
}

func TestIntegrationKeywordAndRanges(t *testing.T) {
	c := newCatalogue(t)
	ctx := context.Background()

	hit := c.add(t, "Sunset_Beach", nil)
	c.add(t, "mountain", nil)

	page, err := c.engine.Search(ctx, Request{Keyword: "SUNSET_", Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{hit}, ids(page))

	page, err = c.engine.Search(ctx, Request{Width: Range{Min: ptr[int64](64), Max: ptr[int64](64)}, Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	page, err = c.engine.Search(ctx, Request{Height: Range{Min: ptr[int64](49)}, Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Zero(t, page.TotalElements)
}

func TestIntegrationTagDeleteRestrictedWhileReferenced(t *testing.T) {
	c := newCatalogue(t)
	ctx := context.Background()

	id := c.add(t, "tabby", nil, "cat")
	tag, err := c.tags.FindOrCreate(ctx, "cat", models.TagTypeGeneral)
	require.NoError(t, err)

	_, err = c.pool.Exec(ctx, `DELETE FROM tags WHERE id = $1`, tag.ID)
	require.Error(t, err)

	page, err := c.engine.Search(ctx, Request{Tags: "cat", Size: 10, Sort: "id,ASC"})
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids(page))

	_, err = c.images.Delete(ctx, id)
	require.NoError(t, err)
	var relations int
	require.NoError(t, c.pool.QueryRow(ctx, `SELECT COUNT(*) FROM image_tag_relation WHERE tag_id = $1`, tag.ID).Scan(&relations))
	assert.Zero(t, relations)

	_, err = c.pool.Exec(ctx, `DELETE FROM tags WHERE id = $1`, tag.ID)
	assert.NoError(t, err)
}
