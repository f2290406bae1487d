package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamakara/bakabooru/internal/ai"
	"github.com/tamakara/bakabooru/internal/config"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/queue"
	"github.com/tamakara/bakabooru/internal/settings"
)

type TaskQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Get(ctx context.Context, id string) (models.UploadTask, error)
	Complete(ctx context.Context, id string) error
	MoveToFailed(ctx context.Context, id, reason string) error
}

type BlobStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

type Catalog interface {
	IDByHash(ctx context.Context, hash string) (int64, bool, error)
	Create(ctx context.Context, image *models.Image) error
	Delete(ctx context.Context, id int64) (string, error)
}

type TagResolver interface {
	FindOrCreate(ctx context.Context, name, typ string) (models.Tag, error)
}

type Tagger interface {
	TagImage(ctx context.Context, objectName string, threshold float64) ([]ai.TagScore, error)
}

type Embedder interface {
	EmbedImage(ctx context.Context, objectName string) ([]float32, error)
}

type Settings interface {
	UploadLimits(ctx context.Context) settings.UploadLimits
	TagThreshold(ctx context.Context) float64
}

type Recorder interface {
	TaskProcessed(outcome string)
	ObserveStage(stage string, d time.Duration)
}

type Deps struct {
	Queue    TaskQueue
	Blobs    BlobStore
	Catalog  Catalog
	Tags     TagResolver
	Tagger   Tagger
	Embedder Embedder
	Settings Settings
	Recorder Recorder
}

type Options struct {
	PollTimeout  time.Duration
	Backoff      time.Duration
	CallTimeout  time.Duration
	ScratchDir   string
	EmbeddingDim int
}

func OptionsFrom(cfg *config.AppConfig) Options {
	return Options{
		PollTimeout:  cfg.Queue.PollTimeout,
		Backoff:      cfg.Worker.Backoff,
		CallTimeout:  cfg.Worker.CallTimeout,
		ScratchDir:   cfg.Worker.ScratchDir,
		EmbeddingDim: cfg.AI.EmbeddingDim,
	}
}

// Worker drains the upload queue one task at a time.
type Worker struct {
	deps    Deps
	opts    Options
	logger  zerolog.Logger
	current atomic.Pointer[Status]
}

func NewWorker(deps Deps, opts Options, logger zerolog.Logger) *Worker {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &Worker{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "ingest").Logger(),
	}
}

// Current returns the task being processed, or nil when idle.
func (w *Worker) Current() *Status {
	return w.current.Load()
}

func (w *Worker) setStage(task models.UploadTask, stage Stage) {
	prev := w.current.Load()
	started := time.Now()
	if prev != nil && prev.Task.ID == task.ID {
		started = prev.StartedAt
	}
	w.current.Store(&Status{Task: task, Stage: stage, StartedAt: started})
}

// Run consumes tasks until ctx is cancelled. Errors never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("ingestion worker started")
	defer w.logger.Info().Msg("ingestion worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error().Err(err).Msg("worker loop error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.opts.Backoff):
			}
		}
	}
}

// Drain processes tasks until the queue is empty.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	processed := 0
	for {
		got, err := w.poll(ctx)
		if err != nil {
			return processed, err
		}
		if !got {
			return processed, nil
		}
		processed++
	}
}

// poll waits for one task and processes it. It reports whether a task was dequeued.
func (w *Worker) poll(ctx context.Context) (got bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	id, err := w.deps.Queue.Dequeue(ctx, w.opts.PollTimeout)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, nil
	}
	// A dequeued task is finished even during shutdown.
	return true, w.Process(context.WithoutCancel(ctx), id)
}

// Process runs one task and files the outcome with the queue. The returned
// error concerns the queue bookkeeping only; task failures are recorded.
func (w *Worker) Process(ctx context.Context, id string) error {
	task, err := w.deps.Queue.Get(ctx, id)
	if errors.Is(err, queue.ErrTaskNotFound) {
		w.logger.Warn().Str("task_id", id).Msg("task payload expired, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	log := w.logger.With().Str("task_id", task.ID).Str("file", task.FileName).Logger()
	w.setStage(task, StageDequeued)
	defer w.current.Store(nil)

	image, procErr := w.ingest(ctx, task)
	if procErr != nil {
		reason := Reason(procErr)
		log.Warn().Err(procErr).Msg("task failed")
		w.setStage(task, StageFailed)
		w.record("failed")
		if err := w.deps.Queue.MoveToFailed(ctx, id, reason); err != nil {
			return fmt.Errorf("file failed task %s: %w", id, err)
		}
		return nil
	}

	log.Info().Int64("image_id", image.ID).Str("hash", image.Hash).Int("tags", len(image.Tags)).Msg("task completed")
	w.setStage(task, StageDone)
	w.record("success")
	if err := w.deps.Queue.Complete(ctx, id); err != nil {
		return fmt.Errorf("complete task %s: %w", id, err)
	}
	return nil
}

func (w *Worker) record(outcome string) {
	if w.deps.Recorder != nil {
		w.deps.Recorder.TaskProcessed(outcome)
	}
}
