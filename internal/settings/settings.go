// Package settings serves runtime-tunable options. Values live in Postgres
// and are mirrored into a Redis hash that every process reads from.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
)

const (
	KeyMaxFileSize       = "upload.max-file-size"
	KeyAllowedExtensions = "upload.allowed-extensions"
	KeyTagThreshold      = "tag.threshold"
	KeyThumbnailSize     = "file.thumbnail.size"

	cacheKey = "system:settings"
)

// Store persists settings.
type Store interface {
	All(ctx context.Context) (map[string]string, error)
	Upsert(ctx context.Context, values map[string]string) error
	SeedDefaults(ctx context.Context, defaults map[string]string) error
}

type Service struct {
	store    Store
	redis    *redis.Client
	defaults map[string]string
	logger   zerolog.Logger
}

func NewService(store Store, client *redis.Client, cfg config.UploadConfig, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		redis:    client,
		defaults: Defaults(cfg),
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

// Defaults are the initial values of every known key.
func Defaults(cfg config.UploadConfig) map[string]string {
	return map[string]string{
		KeyMaxFileSize:       strconv.FormatInt(cfg.MaxFileSize, 10),
		KeyAllowedExtensions: cfg.AllowedExtensions,
		KeyTagThreshold:      strconv.FormatFloat(cfg.TagThreshold, 'f', -1, 64),
		KeyThumbnailSize:     strconv.Itoa(cfg.ThumbnailSize),
	}
}

// Init seeds missing defaults and refreshes the cache.
func (s *Service) Init(ctx context.Context) error {
	if err := s.store.SeedDefaults(ctx, s.defaults); err != nil {
		return err
	}
	_, err := s.reload(ctx)
	return err
}

func (s *Service) reload(ctx context.Context) (map[string]string, error) {
	values, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return values, nil
	}
	if err := s.redis.HSet(ctx, cacheKey, toArgs(values)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("settings cache refresh failed")
	}
	return values, nil
}

// All returns every setting, defaults included.
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	values, err := s.redis.HGetAll(ctx, cacheKey).Result()
	if err != nil || len(values) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Msg("settings cache read failed")
		}
		values, err = s.reload(ctx)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]string, len(s.defaults)+len(values))
	for k, v := range s.defaults {
		out[k] = v
	}
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// Set validates and stores values, then updates the cache.
func (s *Service) Set(ctx context.Context, values map[string]string) error {
	for k, v := range values {
		if err := validate(k, v); err != nil {
			return err
		}
	}
	if err := s.store.Upsert(ctx, values); err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, cacheKey, toArgs(values)).Err(); err != nil {
		// The next All falls back to Postgres once the stale hash is gone.
		s.redis.Del(ctx, cacheKey)
		s.logger.Warn().Err(err).Msg("settings cache update failed")
	}
	return nil
}

func validate(key, value string) error {
	var err error
	switch key {
	case KeyMaxFileSize:
		var n int64
		if n, err = cast.ToInt64E(value); err == nil && n <= 0 {
			err = errors.New("must be positive")
		}
	case KeyThumbnailSize:
		var n int
		if n, err = cast.ToIntE(value); err == nil && n <= 0 {
			err = errors.New("must be positive")
		}
	case KeyTagThreshold:
		var f float64
		if f, err = cast.ToFloat64E(value); err == nil && (f < 0 || f > 1) {
			err = errors.New("must be between 0 and 1")
		}
	case KeyAllowedExtensions:
		if len(SplitList(value)) == 0 {
			err = errors.New("must not be empty")
		}
	}
	if err != nil {
		return fmt.Errorf("%w: setting %s: %v", models.ErrValidation, key, err)
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, key string) string {
	v, err := s.redis.HGet(ctx, cacheKey, key).Result()
	if err == nil {
		return v
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Str("key", key).Msg("settings cache read failed")
	}
	all, err := s.All(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("settings load failed, using default")
		return s.defaults[key]
	}
	return all[key]
}

func (s *Service) GetString(ctx context.Context, key string) string {
	return s.lookup(ctx, key)
}

func (s *Service) GetInt(ctx context.Context, key string) int {
	return cast.ToInt(s.lookup(ctx, key))
}

func (s *Service) GetInt64(ctx context.Context, key string) int64 {
	return cast.ToInt64(s.lookup(ctx, key))
}

func (s *Service) GetFloat64(ctx context.Context, key string) float64 {
	return cast.ToFloat64(s.lookup(ctx, key))
}

// UploadLimits is the part of the settings the upload validator needs.
type UploadLimits struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

func (s *Service) UploadLimits(ctx context.Context) UploadLimits {
	return UploadLimits{
		MaxFileSize:       s.GetInt64(ctx, KeyMaxFileSize),
		AllowedExtensions: SplitList(s.GetString(ctx, KeyAllowedExtensions)),
	}
}

func (s *Service) TagThreshold(ctx context.Context) float64 {
	return s.GetFloat64(ctx, KeyTagThreshold)
}

func (s *Service) ThumbnailSize(ctx context.Context) int {
	return s.GetInt(ctx, KeyThumbnailSize)
}

func toArgs(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// SplitList parses a comma separated list into lowercase items.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		p = strings.TrimPrefix(p, ".")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
