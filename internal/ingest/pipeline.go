package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tamakara/bakabooru/internal/ai"
	"github.com/tamakara/bakabooru/internal/hasher"
	"github.com/tamakara/bakabooru/internal/media/sniffer"
	"github.com/tamakara/bakabooru/internal/models"
	"github.com/tamakara/bakabooru/internal/repository"
	"github.com/tamakara/bakabooru/internal/storage"
)

// run executes one stage, publishing it as the current stage and timing it.
func (w *Worker) run(task models.UploadTask, stage Stage, fn func() error) error {
	w.setStage(task, stage)
	start := time.Now()
	err := fn()
	if w.deps.Recorder != nil {
		w.deps.Recorder.ObserveStage(string(stage), time.Since(start))
	}
	if err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// call bounds a single external call by the configured timeout.
func (w *Worker) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.opts.CallTimeout > 0 {
		return context.WithTimeout(ctx, w.opts.CallTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) ingest(ctx context.Context, task models.UploadTask) (*models.Image, error) {
	tempKey := task.TempKey
	if tempKey == "" {
		tempKey = storage.TempKey(task.ID)
	}

	var scratch *os.File
	defer func() {
		if scratch == nil {
			return
		}
		_ = scratch.Close()
		if err := os.Remove(scratch.Name()); err != nil {
			w.logger.Warn().Err(err).Str("path", scratch.Name()).Msg("remove scratch file failed")
		}
	}()

	limits := w.deps.Settings.UploadLimits(ctx)
	if err := w.run(task, StageValidating, func() error {
		return ValidateUpload(limits, task.FileName, task.Size)
	}); err != nil {
		return nil, err
	}

	var (
		hash    string
		written int64
	)
	if err := w.run(task, StageHashing, func() error {
		f, err := os.CreateTemp(w.opts.ScratchDir, "ingest-*")
		if err != nil {
			return fmt.Errorf("create scratch file: %w", err)
		}
		scratch = f

		callCtx, cancel := w.call(ctx)
		defer cancel()
		rc, err := w.deps.Blobs.Get(callCtx, tempKey)
		if err != nil {
			return fmt.Errorf("%w: read %s: %v", models.ErrExternalService, tempKey, err)
		}
		defer rc.Close()

		counter := &countingWriter{w: f}
		hash, err = hasher.Sum(io.TeeReader(rc, counter))
		if err != nil {
			return err
		}
		written = counter.n
		return nil
	}); err != nil {
		return nil, err
	}
	// The declared size is client-supplied; the stored bytes are authoritative.
	if limits.MaxFileSize > 0 && written > limits.MaxFileSize {
		return nil, &StageError{
			Stage: StageValidating,
			Err:   fmt.Errorf("%w: file too large: %d bytes exceeds the limit of %d", models.ErrValidation, written, limits.MaxFileSize),
		}
	}

	if err := w.run(task, StageDedupCheck, func() error {
		id, exists, err := w.deps.Catalog.IDByHash(ctx, hash)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: image %d already has hash %s", models.ErrDuplicateContent, id, hash)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var info sniffer.Info
	if err := w.run(task, StageMetadata, func() error {
		if _, err := scratch.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind scratch file: %w", err)
		}
		var err error
		info, err = sniffer.Inspect(scratch)
		return err
	}); err != nil {
		return nil, err
	}

	var relations []models.ImageTag
	if err := w.run(task, StageTagging, func() error {
		callCtx, cancel := w.call(ctx)
		defer cancel()
		scored, err := w.deps.Tagger.TagImage(callCtx, tempKey, w.deps.Settings.TagThreshold(ctx))
		if err != nil {
			return err
		}
		relations, err = w.resolveTags(ctx, scored)
		return err
	}); err != nil {
		return nil, err
	}

	var embedding []float32
	if err := w.run(task, StageEmbedding, func() error {
		callCtx, cancel := w.call(ctx)
		defer cancel()
		vec, err := w.deps.Embedder.EmbedImage(callCtx, tempKey)
		if err != nil {
			return err
		}
		if w.opts.EmbeddingDim > 0 && len(vec) != w.opts.EmbeddingDim {
			return fmt.Errorf("%w: embedding has %d dimensions, expected %d", models.ErrExternalService, len(vec), w.opts.EmbeddingDim)
		}
		embedding = vec
		return nil
	}); err != nil {
		return nil, err
	}

	image := &models.Image{
		Title:     models.TitleFromFileName(task.FileName),
		FileName:  task.FileName,
		Extension: info.Extension(),
		Size:      written,
		Width:     info.Width,
		Height:    info.Height,
		Hash:      hash,
		Embedding: embedding,
		Tags:      relations,
	}
	if err := w.run(task, StagePersisting, func() error {
		return w.deps.Catalog.Create(ctx, image)
	}); err != nil {
		return nil, err
	}

	if err := w.run(task, StageArchiving, func() error {
		callCtx, cancel := w.call(ctx)
		defer cancel()
		// Originals are content addressed; an orphan left by an earlier delete is reused.
		if ok, err := w.deps.Blobs.Exists(callCtx, storage.OriginalKey(hash)); err == nil && ok {
			w.logger.Debug().Str("hash", hash).Msg("original already archived")
			return nil
		}
		if err := w.deps.Blobs.Copy(callCtx, tempKey, storage.OriginalKey(hash)); err != nil {
			// Drop the row again so a retry is not rejected as a duplicate.
			if _, delErr := w.deps.Catalog.Delete(ctx, image.ID); delErr != nil {
				w.logger.Error().Err(delErr).Int64("image_id", image.ID).Msg("rollback of unarchived image failed")
			}
			return fmt.Errorf("%w: archive original: %v", models.ErrExternalService, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := w.deps.Blobs.Delete(ctx, tempKey); err != nil {
		w.logger.Warn().Err(err).Str("key", tempKey).Msg("delete temp blob failed")
	}
	return image, nil
}

// resolveTags turns scored tag names into relations, one per distinct tag.
func (w *Worker) resolveTags(ctx context.Context, scored []ai.TagScore) ([]models.ImageTag, error) {
	index := make(map[string]int, len(scored))
	relations := make([]models.ImageTag, 0, len(scored))
	for _, s := range scored {
		name := repository.NormalizeName(s.Name)
		if name == "" {
			continue
		}
		if i, ok := index[name]; ok {
			if s.Score > relations[i].Score {
				relations[i].Score = s.Score
			}
			continue
		}
		tag, err := w.deps.Tags.FindOrCreate(ctx, name, s.Type)
		if err != nil {
			return nil, err
		}
		index[name] = len(relations)
		relations = append(relations, models.ImageTag{Tag: tag, Score: s.Score})
	}
	return relations, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
