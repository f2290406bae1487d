package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Image struct {
	ID        int64
	Title     string
	FileName  string
	Extension string
	Size      int64
	Width     int
	Height    int
	Hash      string
	ViewCount int64
	Embedding []float32
	Tags      []ImageTag
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields every persisted image must carry.
func (i Image) Validate() error {
	var missing []string
	if strings.TrimSpace(i.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(i.FileName) == "" {
		missing = append(missing, "fileName")
	}
	if strings.TrimSpace(i.Extension) == "" {
		missing = append(missing, "extension")
	}
	if strings.TrimSpace(i.Hash) == "" {
		missing = append(missing, "hash")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: image is missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	if i.Size <= 0 {
		return fmt.Errorf("%w: image size must be positive, got %d", ErrValidation, i.Size)
	}
	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("%w: invalid image dimensions %dx%d", ErrValidation, i.Width, i.Height)
	}
	return nil
}

// SortTags orders the tag relations by descending score, then by name.
func (i *Image) SortTags() {
	sort.SliceStable(i.Tags, func(a, b int) bool {
		if i.Tags[a].Score != i.Tags[b].Score {
			return i.Tags[a].Score > i.Tags[b].Score
		}
		return i.Tags[a].Tag.Name < i.Tags[b].Tag.Name
	})
}

// TitleFromFileName strips the last extension from a file name.
func TitleFromFileName(fileName string) string {
	base := fileName
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndex(base, "."); idx > 0 {
		return base[:idx]
	}
	return base
}

// ExtensionOf returns the lowercase extension of a file name without the dot.
func ExtensionOf(fileName string) string {
	if idx := strings.LastIndexAny(fileName, `/\`); idx >= 0 {
		fileName = fileName[idx+1:]
	}
	idx := strings.LastIndex(fileName, ".")
	if idx < 0 || idx == len(fileName)-1 {
		return ""
	}
	return strings.ToLower(fileName[idx+1:])
}
