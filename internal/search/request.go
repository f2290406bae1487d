package search

import (
	"fmt"
	"strings"

	"github.com/tamakara/bakabooru/internal/models"
)

// Range is an inclusive interval; a nil bound is open.
type Range struct {
	Min *int64
	Max *int64
}

func (r Range) validate(name string) error {
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("%w: %s min %d is greater than max %d", models.ErrValidation, name, *r.Min, *r.Max)
	}
	return nil
}

// Request is the flat, caller-facing form of a search.
type Request struct {
	Tags          string
	Keyword       string
	SemanticQuery string
	RandomSeed    string
	Width         Range
	Height        Range
	FileSize      Range
	Page          int
	Size          int
	Sort          string

	// Embedding ranks by similarity to a known vector, e.g. from an uploaded image.
	Embedding []float32
	// MaxDistance drops candidates further than this cosine distance from Embedding.
	MaxDistance *float64
}

// Spec is a validated request with its sort resolved and tags parsed.
type Spec struct {
	Positive    []string
	Negative    []string
	Keyword     string
	Width       Range
	Height      Range
	FileSize    Range
	Page        int
	PageSize    int
	Sort        Sort
	Embedding   []float32
	MaxDistance *float64
}

// ValidatePaging checks a zero-based page and a page size against maxPageSize;
// a non-positive maxPageSize leaves the size unbounded.
func ValidatePaging(page, size, maxPageSize int) error {
	if page < 0 {
		return fmt.Errorf("%w: page must not be negative, got %d", models.ErrValidation, page)
	}
	if size <= 0 {
		return fmt.Errorf("%w: page size must be positive, got %d", models.ErrValidation, size)
	}
	if maxPageSize > 0 && size > maxPageSize {
		return fmt.Errorf("%w: page size must not exceed %d, got %d", models.ErrValidation, maxPageSize, size)
	}
	return nil
}

func (r Request) validate(maxPageSize int) (sortDescriptor, error) {
	if err := ValidatePaging(r.Page, r.Size, maxPageSize); err != nil {
		return sortDescriptor{}, err
	}
	ranges := []struct {
		name string
		rg   Range
	}{
		{"width", r.Width},
		{"height", r.Height},
		{"size", r.FileSize},
	}
	for _, c := range ranges {
		if err := c.rg.validate(c.name); err != nil {
			return sortDescriptor{}, err
		}
	}
	if r.MaxDistance != nil && (*r.MaxDistance < 0 || *r.MaxDistance > 2) {
		return sortDescriptor{}, fmt.Errorf("%w: max distance must be within [0, 2], got %g", models.ErrValidation, *r.MaxDistance)
	}

	desc, err := parseDescriptor(r.Sort)
	if err != nil {
		return sortDescriptor{}, err
	}
	if desc.property == propertyRandom && strings.TrimSpace(r.RandomSeed) == "" {
		return sortDescriptor{}, fmt.Errorf("%w: random sort requires a seed", models.ErrValidation)
	}
	return desc, nil
}

// ParseTags splits "cat -dog" into positive and negative tag names.
func ParseTags(raw string) (positive, negative []string) {
	for _, field := range strings.Fields(raw) {
		field = strings.ToLower(field)
		if strings.HasPrefix(field, "-") {
			negative = appendUnique(negative, strings.TrimLeft(field, "-"))
			continue
		}
		positive = appendUnique(positive, field)
	}
	return positive, negative
}

func appendUnique(list []string, names ...string) []string {
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		seen := false
		for _, existing := range list {
			if existing == name {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, name)
		}
	}
	return list
}

// SimilarityToDistance converts a minimum cosine similarity into a maximum distance.
func SimilarityToDistance(similarity float64) float64 {
	d := 1 - similarity
	if d < 0 {
		return 0
	}
	return d
}
