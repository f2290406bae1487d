package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/ingest"
	"github.com/tamakara/bakabooru/internal/media/sniffer"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/settings"
	"github.com/tamakara/bakabooru/internal/storage"
)

type BlobWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

type Enqueuer interface {
	Enqueue(ctx context.Context, task models.UploadTask) error
}

type LimitsSource interface {
	UploadLimits(ctx context.Context) settings.UploadLimits
}

type UploadInput struct {
	File   multipart.File
	Header *multipart.FileHeader
}

type UploadService struct {
	store    BlobWriter
	queue    Enqueuer
	settings LimitsSource
	log      zerolog.Logger
}

func NewUploadService(store BlobWriter, queue Enqueuer, settings LimitsSource, log zerolog.Logger) *UploadService {
	return &UploadService{
		store:    store,
		queue:    queue,
		settings: settings,
		log:      log.With().Str("component", "upload").Logger(),
	}
}

// Submit stages the file under temp/<taskId> and queues it for ingestion.
// Only the declared size and extension are checked here; the worker
// inspects the content.
func (s *UploadService) Submit(ctx context.Context, input UploadInput) (models.UploadTask, error) {
	if input.File == nil || input.Header == nil {
		return models.UploadTask{}, fmt.Errorf("%w: file is required", models.ErrValidation)
	}

	limits := s.settings.UploadLimits(ctx)
	if err := ingest.ValidateUpload(limits, input.Header.Filename, input.Header.Size); err != nil {
		return models.UploadTask{}, err
	}

	contentType := "application/octet-stream"
	res, _, err := sniffer.Detect(input.File)
	switch {
	case err == nil:
		contentType = res.MIME
	case !errors.Is(err, sniffer.ErrUnknownType):
		return models.UploadTask{}, fmt.Errorf("read head: %w", err)
	}
	if _, err := input.File.Seek(0, io.SeekStart); err != nil {
		return models.UploadTask{}, fmt.Errorf("rewind: %w", err)
	}

	task := models.UploadTask{
		ID:        uuid.NewString(),
		FileName:  input.Header.Filename,
		Size:      input.Header.Size,
		CreatedAt: time.Now().UTC(),
	}
	task.TempKey = storage.TempKey(task.ID)

	if err := s.store.Put(ctx, task.TempKey, input.File, input.Header.Size, contentType); err != nil {
		return models.UploadTask{}, fmt.Errorf("%w: stage upload: %v", models.ErrExternalService, err)
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		if delErr := s.store.Delete(ctx, task.TempKey); delErr != nil {
			s.log.Warn().Err(delErr).Str("task_id", task.ID).Msg("delete orphaned upload failed")
		}
		return models.UploadTask{}, fmt.Errorf("enqueue upload: %w", err)
	}

	s.log.Info().Str("task_id", task.ID).Str("file", task.FileName).Int64("size", task.Size).Msg("upload queued")
	return task, nil
}
