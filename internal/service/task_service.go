package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/ingest"
	"github.com/tamakara/bakabooru/internal/models"
)

type TaskQueue interface {
	PendingCount(ctx context.Context) (int64, error)
	ListFailed(ctx context.Context) ([]models.UploadTask, error)
	Retry(ctx context.Context, id string) error
	DeleteFailed(ctx context.Context, id string) error
	PurgeFailed(ctx context.Context) (int, error)
}

// StatusSource reports the task an in-process worker is handling.
type StatusSource interface {
	Current() *ingest.Status
}

type TaskInfo struct {
	Pending    int64
	Processing *ingest.Status
	Failed     []models.UploadTask
}

type TaskService struct {
	queue  TaskQueue
	status StatusSource
	log    zerolog.Logger
}

// NewTaskService accepts a nil status source when no worker runs in this process.
func NewTaskService(queue TaskQueue, status StatusSource, log zerolog.Logger) *TaskService {
	return &TaskService{queue: queue, status: status, log: log.With().Str("component", "tasks").Logger()}
}

func (s *TaskService) Info(ctx context.Context) (TaskInfo, error) {
	pending, err := s.queue.PendingCount(ctx)
	if err != nil {
		return TaskInfo{}, err
	}
	failed, err := s.queue.ListFailed(ctx)
	if err != nil {
		return TaskInfo{}, err
	}
	info := TaskInfo{Pending: pending, Failed: failed}
	if s.status != nil {
		info.Processing = s.status.Current()
	}
	return info, nil
}

func (s *TaskService) Retry(ctx context.Context, id string) error {
	if err := s.queue.Retry(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("task_id", id).Msg("task requeued")
	return nil
}

func (s *TaskService) Delete(ctx context.Context, id string) error {
	if err := s.queue.DeleteFailed(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("task_id", id).Msg("failed task deleted")
	return nil
}

func (s *TaskService) Purge(ctx context.Context) (int, error) {
	n, err := s.queue.PurgeFailed(ctx)
	if err != nil {
		return n, err
	}
	s.log.Info().Int("count", n).Msg("failed tasks purged")
	return n, nil
}
