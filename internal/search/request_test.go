package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamakara/bakabooru/internal/models"
)

func ptr[T any](v T) *T { return &v }

func TestParseTags(t *testing.T) {
	pos, neg := ParseTags("  Cat -dog cat  -  pet -DOG ")
	assert.Equal(t, []string{"cat", "pet"}, pos)
	assert.Equal(t, []string{"dog"}, neg)

	pos, neg = ParseTags("")
	assert.Empty(t, pos)
	assert.Empty(t, neg)
}

func TestRequestValidate(t *testing.T) {
	base := Request{Page: 0, Size: 20, Sort: "createdAt,DESC"}

	_, err := base.validate(200)
	require.NoError(t, err)

	tests := map[string]func(r *Request){
		"negative page":     func(r *Request) { r.Page = -1 },
		"zero size":         func(r *Request) { r.Size = 0 },
		"size above max":    func(r *Request) { r.Size = 201 },
		"missing sort":      func(r *Request) { r.Sort = "" },
		"malformed sort":    func(r *Request) { r.Sort = "createdAt DESC" },
		"random no seed":    func(r *Request) { r.Sort = "random,ASC" },
		"inverted range":    func(r *Request) { r.Width = Range{Min: ptr[int64](10), Max: ptr[int64](5)} },
		"negative distance": func(r *Request) { r.MaxDistance = ptr(-0.1) },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := base
			mutate(&r)
			_, err := r.validate(200)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}

func TestRequestValidateReportsRangesInOrder(t *testing.T) {
	inverted := Range{Min: ptr[int64](10), Max: ptr[int64](5)}
	r := Request{Size: 20, Sort: "createdAt,DESC", Width: inverted, Height: inverted, FileSize: inverted}

	for i := 0; i < 20; i++ {
		_, err := r.validate(200)
		require.ErrorIs(t, err, models.ErrValidation)
		assert.Contains(t, err.Error(), "width min 10")
	}

	r.Width = Range{}
	_, err := r.validate(200)
	assert.ErrorContains(t, err, "height min 10")
}

func TestValidatePaging(t *testing.T) {
	require.NoError(t, ValidatePaging(0, 20, 200))
	require.NoError(t, ValidatePaging(3, 500, 0))
	assert.ErrorIs(t, ValidatePaging(-1, 20, 200), models.ErrValidation)
	assert.ErrorIs(t, ValidatePaging(0, 0, 200), models.ErrValidation)
	assert.ErrorIs(t, ValidatePaging(0, 201, 200), models.ErrValidation)
}

func TestSimilarityToDistance(t *testing.T) {
	assert.InDelta(t, 0.2, SimilarityToDistance(0.8), 1e-9)
	assert.InDelta(t, 1.0, SimilarityToDistance(0), 1e-9)
	assert.Zero(t, SimilarityToDistance(1.3))
}
