package settings

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
)

type memStore struct {
	values map[string]string
	reads  int
	err    error
}

func (m *memStore) All(context.Context) (map[string]string, error) {
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Upsert(_ context.Context, values map[string]string) error {
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *memStore) SeedDefaults(_ context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		if _, ok := m.values[k]; !ok {
			m.values[k] = v
		}
	}
	return nil
}

var uploadCfg = config.UploadConfig{
	MaxFileSize:       52428800,
	AllowedExtensions: "jpg,jpeg,png,webp,gif",
	TagThreshold:      0.61,
	ThumbnailSize:     320,
}

func newTestService(t *testing.T, store *memStore) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(store, client, uploadCfg, zerolog.Nop()), mr
}

func TestInitSeedsDefaultsAndKeepsOverrides(t *testing.T) {
	store := &memStore{values: map[string]string{KeyTagThreshold: "0.7"}}
	svc, mr := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.Init(ctx))

	assert.Equal(t, "52428800", store.values[KeyMaxFileSize])
	assert.Equal(t, "0.7", mr.HGet(cacheKey, KeyTagThreshold))
	assert.InDelta(t, 0.7, svc.TagThreshold(ctx), 1e-9)
	assert.Equal(t, 320, svc.ThumbnailSize(ctx))

	limits := svc.UploadLimits(ctx)
	assert.EqualValues(t, 52428800, limits.MaxFileSize)
	assert.Equal(t, []string{"jpg", "jpeg", "png", "webp", "gif"}, limits.AllowedExtensions)
}

func TestReadsComeFromCache(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx))
	reads := store.reads

	for i := 0; i < 3; i++ {
		_ = svc.GetInt64(ctx, KeyMaxFileSize)
	}
	assert.Equal(t, reads, store.reads)
}

func TestColdCacheFallsBackToStore(t *testing.T) {
	store := &memStore{values: map[string]string{KeyThumbnailSize: "512"}}
	svc, mr := newTestService(t, store)

	assert.Equal(t, 512, svc.ThumbnailSize(context.Background()))
	assert.Equal(t, "512", mr.HGet(cacheKey, KeyThumbnailSize))
}

func TestStoreFailureUsesDefaults(t *testing.T) {
	store := &memStore{values: map[string]string{}, err: errors.New("db down")}
	svc, _ := newTestService(t, store)

	assert.InDelta(t, 0.61, svc.TagThreshold(context.Background()), 1e-9)
}

func TestSet(t *testing.T) {
	store := &memStore{values: map[string]string{}}
	svc, mr := newTestService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Init(ctx))

	require.NoError(t, svc.Set(ctx, map[string]string{KeyAllowedExtensions: "png, .GIF"}))
	assert.Equal(t, "png, .GIF", store.values[KeyAllowedExtensions])
	assert.Equal(t, "png, .GIF", mr.HGet(cacheKey, KeyAllowedExtensions))
	assert.Equal(t, []string{"png", "gif"}, svc.UploadLimits(ctx).AllowedExtensions)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestSetRejectsInvalidValues(t *testing.T) {
	svc, _ := newTestService(t, &memStore{values: map[string]string{}})

	tests := map[string]string{
		KeyMaxFileSize:       "-1",
		KeyThumbnailSize:     "big",
		KeyTagThreshold:      "1.5",
		KeyAllowedExtensions: " , ",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := svc.Set(context.Background(), map[string]string{key: value})
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
}
