package ingest

import (
	"errors"
	"time"

	"github.com/tamakara/bakabooru/internal/models"
)

type Stage string

const (
	StageDequeued   Stage = "dequeued"
	StageValidating Stage = "validating"
	StageHashing    Stage = "hashing"
	StageDedupCheck Stage = "dedup_check"
	StageMetadata   Stage = "metadata"
	StageTagging    Stage = "tagging"
	StageEmbedding  Stage = "embedding"
	StagePersisting Stage = "persisting"
	StageArchiving  Stage = "archiving"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// StageError records the stage a task failed in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return string(e.Stage) + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error { return e.Err }

// Reason is the message stored with a failed task. Validation failures are
// user-facing and kept verbatim.
func Reason(err error) string {
	var se *StageError
	if errors.As(err, &se) && se.Stage == StageValidating {
		return se.Err.Error()
	}
	return err.Error()
}

// Status is a snapshot of the task the worker is busy with.
type Status struct {
	Task      models.UploadTask
	Stage     Stage
	StartedAt time.Time
}
