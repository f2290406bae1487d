package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/storage"
)

var ErrTaskNotFound = fmt.Errorf("task %w", models.ErrNotFound)

// BlobDeleter removes the temporary upload bytes owned by a task.
type BlobDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Queue is a durable FIFO of upload tasks. Ids live in Redis lists, payloads
// in separate keys that expire after the retention period.
type Queue struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
	blobs     BlobDeleter
	logger    zerolog.Logger
}

func New(client *redis.Client, cfg config.QueueConfig, blobs BlobDeleter, logger zerolog.Logger) *Queue {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "upload:task"
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	return &Queue{
		client:    client,
		prefix:    prefix,
		retention: retention,
		blobs:     blobs,
		logger:    logger.With().Str("component", "queue").Logger(),
	}
}

func (q *Queue) pendingKey() string { return q.prefix + ":queue" }
func (q *Queue) failedKey() string  { return q.prefix + ":failed" }
func (q *Queue) dataKey(id string) string {
	return q.prefix + ":data:" + id
}

func (q *Queue) Enqueue(ctx context.Context, task models.UploadTask) error {
	if task.ID == "" {
		return fmt.Errorf("%w: task id is required", models.ErrValidation)
	}
	if task.TempKey == "" {
		task.TempKey = storage.TempKey(task.ID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.dataKey(task.ID), payload, q.retention)
		pipe.LPush(ctx, q.pendingKey(), task.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the oldest pending id. It returns "" when
// nothing arrived in time. The payload stays until Complete or MoveToFailed.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, q.pendingKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 2 {
		return "", fmt.Errorf("dequeue: unexpected reply %v", res)
	}
	return res[1], nil
}

func (q *Queue) Get(ctx context.Context, id string) (models.UploadTask, error) {
	raw, err := q.client.Get(ctx, q.dataKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.UploadTask{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return models.UploadTask{}, fmt.Errorf("get task %s: %w", id, err)
	}
	var task models.UploadTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return models.UploadTask{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return task, nil
}

// Complete drops the payload of a successfully processed task.
func (q *Queue) Complete(ctx context.Context, id string) error {
	if err := q.client.Del(ctx, q.dataKey(id)).Err(); err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	return nil
}

func (q *Queue) MoveToFailed(ctx context.Context, id, reason string) error {
	task, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	task.ErrorMessage = reason
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.dataKey(id), payload, q.retention)
		pipe.LPush(ctx, q.failedKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("move task %s to failed: %w", id, err)
	}
	return nil
}

// Retry puts a failed task back at the head of the pending queue with its error cleared.
func (q *Queue) Retry(ctx context.Context, id string) error {
	removed, err := q.client.LRem(ctx, q.failedKey(), 1, id).Result()
	if err != nil {
		return fmt.Errorf("retry task %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	task, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	task.ErrorMessage = ""
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.dataKey(id), payload, q.retention)
		pipe.RPush(ctx, q.pendingKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue task %s: %w", id, err)
	}
	return nil
}

// ListFailed returns failed tasks newest first. Ids whose payload expired are skipped.
func (q *Queue) ListFailed(ctx context.Context) ([]models.UploadTask, error) {
	ids, err := q.client.LRange(ctx, q.failedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}
	if len(ids) == 0 {
		return []models.UploadTask{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.dataKey(id)
	}
	values, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load failed payloads: %w", err)
	}

	tasks := make([]models.UploadTask, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var task models.UploadTask
		if err := json.Unmarshal([]byte(s), &task); err != nil {
			q.logger.Warn().Err(err).Str("task_id", ids[i]).Msg("skip undecodable failed task")
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

func (q *Queue) FailedCount(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.failedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed count: %w", err)
	}
	return n, nil
}

// DeleteFailed removes one failed task with its payload and temporary blob.
func (q *Queue) DeleteFailed(ctx context.Context, id string) error {
	removed, err := q.client.LRem(ctx, q.failedKey(), 1, id).Result()
	if err != nil {
		return fmt.Errorf("delete failed task %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	q.discard(ctx, id)
	return nil
}

// PurgeFailed deletes every failed task and returns how many were removed.
func (q *Queue) PurgeFailed(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.failedKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}

	purged := 0
	for _, id := range ids {
		// Per-id LREM keeps entries pushed while the purge is running.
		removed, err := q.client.LRem(ctx, q.failedKey(), 1, id).Result()
		if err != nil {
			return purged, fmt.Errorf("purge failed task %s: %w", id, err)
		}
		if removed == 0 {
			continue
		}
		q.discard(ctx, id)
		purged++
	}
	return purged, nil
}

func (q *Queue) discard(ctx context.Context, id string) {
	tempKey := storage.TempKey(id)
	if task, err := q.Get(ctx, id); err == nil && task.TempKey != "" {
		tempKey = task.TempKey
	}
	if err := q.client.Del(ctx, q.dataKey(id)).Err(); err != nil {
		q.logger.Warn().Err(err).Str("task_id", id).Msg("delete task payload failed")
	}
	if q.blobs == nil {
		return
	}
	if err := q.blobs.Delete(ctx, tempKey); err != nil {
		q.logger.Warn().Err(err).Str("task_id", id).Str("key", tempKey).Msg("delete temp blob failed")
	}
}
