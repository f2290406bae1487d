package models

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrDuplicateContent   = errors.New("duplicate content")
	ErrUnsupportedContent = errors.New("unsupported content")
	ErrExternalService    = errors.New("external service failure")
	ErrNotFound           = errors.New("not found")
)
