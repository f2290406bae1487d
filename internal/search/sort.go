package search

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tamakara/bakabooru/internal/models"
)

type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

const (
	propertyRandom     = "random"
	propertySimilarity = "similarity"

	// randomModulus is the largest 32-bit prime; ids are spread by id*seed mod it.
	randomModulus = 2147483647
)

// sortableColumns whitelists the properties a FieldSort may order by.
var sortableColumns = map[string]string{
	"id":        "i.id",
	"title":     "i.title",
	"filename":  "i.file_name",
	"extension": "i.extension",
	"size":      "i.size",
	"width":     "i.width",
	"height":    "i.height",
	"viewcount": "i.view_count",
	"createdat": "i.created_at",
	"updatedat": "i.updated_at",
}

// Sort is one of FieldSort, RandomSort or SimilaritySort.
type Sort interface {
	// Kind names the variant for logs and metrics.
	Kind() string
	sealed()
}

type FieldSort struct {
	Column string
	Dir    Direction
}

// RandomSort orders by a permutation fixed by Seed.
type RandomSort struct {
	Seed       string
	Multiplier int64
}

type SimilaritySort struct {
	Dir    Direction
	Vector []float32
}

func (FieldSort) Kind() string      { return "field" }
func (RandomSort) Kind() string     { return "random" }
func (SimilaritySort) Kind() string { return "similarity" }

func (FieldSort) sealed()      {}
func (RandomSort) sealed()     {}
func (SimilaritySort) sealed() {}

// sortDescriptor is a syntactically valid "property,direction" pair.
type sortDescriptor struct {
	property string
	dir      Direction
}

func (d sortDescriptor) similarity() bool { return d.property == propertySimilarity }

func parseDescriptor(raw string) (sortDescriptor, error) {
	if strings.TrimSpace(raw) == "" {
		return sortDescriptor{}, fmt.Errorf("%w: sort is required", models.ErrValidation)
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return sortDescriptor{}, fmt.Errorf("%w: sort must be \"property,direction\", got %q", models.ErrValidation, raw)
	}
	property := strings.TrimSpace(parts[0])
	if property == "" {
		return sortDescriptor{}, fmt.Errorf("%w: sort property is empty", models.ErrValidation)
	}

	var dir Direction
	switch strings.ToUpper(strings.TrimSpace(parts[1])) {
	case "ASC":
		dir = Asc
	case "DESC":
		dir = Desc
	default:
		return sortDescriptor{}, fmt.Errorf("%w: sort direction must be ASC or DESC, got %q", models.ErrValidation, parts[1])
	}

	key := strings.ToLower(property)
	if key != propertyRandom && key != propertySimilarity {
		if _, ok := sortableColumns[key]; !ok {
			return sortDescriptor{}, fmt.Errorf("%w: cannot sort by %q", models.ErrValidation, property)
		}
	}
	return sortDescriptor{property: key, dir: dir}, nil
}

// resolve picks the concrete variant. Similarity without a vector degrades to
// a random order, generating a seed when none was given.
func (d sortDescriptor) resolve(seed string, vector []float32) (Sort, error) {
	switch d.property {
	case propertyRandom:
		if strings.TrimSpace(seed) == "" {
			return nil, fmt.Errorf("%w: random sort requires a seed", models.ErrValidation)
		}
		return NewRandomSort(seed), nil
	case propertySimilarity:
		if len(vector) == 0 {
			if strings.TrimSpace(seed) == "" {
				seed = uuid.NewString()
			}
			return NewRandomSort(seed), nil
		}
		return SimilaritySort{Dir: d.dir, Vector: vector}, nil
	default:
		return FieldSort{Column: sortableColumns[d.property], Dir: d.dir}, nil
	}
}

func NewRandomSort(seed string) RandomSort {
	return RandomSort{Seed: seed, Multiplier: SeedMultiplier(seed)}
}

// SeedMultiplier maps a seed string onto a multiplier in [2, randomModulus-1]
// from the first 8 bytes of its SHA-256 digest. Every value in that range is a
// unit mod the prime modulus, so id*m mod p is a permutation of the ids.
func SeedMultiplier(seed string) int64 {
	sum := sha256.Sum256([]byte(seed))
	h := binary.BigEndian.Uint64(sum[:8])
	return 2 + int64(h%uint64(randomModulus-2))
}
