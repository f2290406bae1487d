package queue

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/storage"
	"github.com/tamakara/bakabooru/internal/testutil"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis, *testutil.MemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	blobs := testutil.NewMemoryStore()
	q := New(client, config.QueueConfig{KeyPrefix: "upload:task", Retention: 72 * time.Hour}, blobs, zerolog.Nop())
	return q, mr, blobs
}

func task(id string) models.UploadTask {
	return models.UploadTask{ID: id, FileName: id + ".png", Size: 10}
}

func TestEnqueueDequeueIsFIFO(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, task(id)))
	}

	n, err := q.PendingCount(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	stored, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, storage.TempKey("a"), stored.TempKey)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Equal(t, 72*time.Hour, mr.TTL("upload:task:data:a"))
}

func TestDequeueTimeoutReturnsEmpty(t *testing.T) {
	q, _, _ := newTestQueue(t)

	id, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestEnqueueRequiresID(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.Enqueue(context.Background(), models.UploadTask{FileName: "x.png"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCompleteRemovesPayload(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("a")))
	_, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, "a"))

	_, err = q.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestFailedRoundTrip(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("a")))
	require.NoError(t, q.Enqueue(ctx, task("b")))
	id, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", id)

	require.NoError(t, q.MoveToFailed(ctx, id, "tagging: service unavailable"))

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].ID)
	assert.Equal(t, "tagging: service unavailable", failed[0].ErrorMessage)

	require.NoError(t, q.Retry(ctx, "a"))

	failed, err = q.ListFailed(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	// The retried task jumps ahead of b.
	id, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	stored, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, stored.ErrorMessage)
}

func TestRetryUnknownTask(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.Retry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMoveToFailedWithoutPayload(t *testing.T) {
	q, _, _ := newTestQueue(t)

	err := q.MoveToFailed(context.Background(), "gone", "boom")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	n, err := q.FailedCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListFailedSkipsExpiredPayloads(t *testing.T) {
	q, mr, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, task("a")))
	require.NoError(t, q.Enqueue(ctx, task("b")))
	require.NoError(t, q.MoveToFailed(ctx, "a", "x"))
	require.NoError(t, q.MoveToFailed(ctx, "b", "y"))

	mr.Del("upload:task:data:a")

	failed, err := q.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "b", failed[0].ID)
}

func TestDeleteFailedRemovesBlob(t *testing.T) {
	q, _, blobs := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, blobs.Put(ctx, storage.TempKey("a"), bytes.NewReader([]byte("x")), 1, ""))
	require.NoError(t, q.Enqueue(ctx, task("a")))
	require.NoError(t, q.MoveToFailed(ctx, "a", "boom"))

	require.NoError(t, q.DeleteFailed(ctx, "a"))

	assert.Empty(t, blobs.Keys())
	_, err := q.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, q.DeleteFailed(ctx, "a"), ErrTaskNotFound)
}

func TestPurgeFailed(t *testing.T) {
	q, _, blobs := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, blobs.Put(ctx, storage.TempKey(id), bytes.NewReader([]byte(id)), 1, ""))
		require.NoError(t, q.Enqueue(ctx, task(id)))
	}
	require.NoError(t, q.MoveToFailed(ctx, "a", "x"))
	require.NoError(t, q.MoveToFailed(ctx, "b", "y"))

	n, err := q.PurgeFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	failed, err := q.FailedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
	assert.Equal(t, []string{storage.TempKey("c")}, blobs.Keys())

	_, err = q.Get(ctx, "c")
	assert.NoError(t, err)
}
