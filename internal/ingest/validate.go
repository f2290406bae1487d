package ingest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/settings"
)

// ValidateUpload checks the declared size and the extension of an upload
// against the configured limits.
func ValidateUpload(limits settings.UploadLimits, fileName string, size int64) error {
	if strings.TrimSpace(fileName) == "" {
		return fmt.Errorf("%w: file name is required", models.ErrValidation)
	}
	if size <= 0 {
		return fmt.Errorf("%w: file is empty", models.ErrValidation)
	}
	if limits.MaxFileSize > 0 && size > limits.MaxFileSize {
		return fmt.Errorf("%w: file too large: %d bytes exceeds the limit of %d", models.ErrValidation, size, limits.MaxFileSize)
	}
	ext := models.ExtensionOf(fileName)
	if !slices.Contains(limits.AllowedExtensions, ext) {
		return fmt.Errorf("%w: unsupported file type %q, allowed: %s", models.ErrValidation, ext, strings.Join(limits.AllowedExtensions, ","))
	}
	return nil
}
