package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ocr-service/internal/models"
	"ocr-service/internal/ocr"
)

// JobStore is the slice of the durable store the worker needs.
type JobStore interface {
	UpdateJobRecord(ctx context.Context, imageID int64, upd models.JobUpdate) error
}

// Worker consumes dispatched OCR work and writes the job record through its
// state machine: processing, then exactly one of completed or failed.
type Worker struct {
	jobs      JobStore
	engine    ocr.Engine
	lang      string
	hardLimit time.Duration
	softLimit time.Duration
}

func New(jobs JobStore, engine ocr.Engine, lang string, hardLimit, softLimit time.Duration) *Worker {
	return &Worker{
		jobs:      jobs,
		engine:    engine,
		lang:      lang,
		hardLimit: hardLimit,
		softLimit: softLimit,
	}
}

// Handle runs one unit of work. A recognition failure is a normal outcome:
// it is recorded as a failed job record and Handle still returns a result.
// Only infrastructure failures (store unreachable) return an error, after a
// best-effort failed write whose own failure is swallowed — at that point
// the worker has no further recovery path.
func (w *Worker) Handle(ctx context.Context, task models.OCRTask) (map[string]any, error) {
	const op = "worker.Handle"

	slog.Info("ocr task started", "task_id", task.TaskID, "image_id", task.ImageID, "user_id", task.UserID)

	processing := models.StatusProcessing
	if err := w.jobs.UpdateJobRecord(ctx, task.ImageID, models.JobUpdate{Status: &processing}); err != nil {
		w.markFailedBestEffort(ctx, task.ImageID, err)
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	text, ocrErr := w.extract(ctx, task)

	status := models.StatusCompleted
	upd := models.JobUpdate{Status: &status, Text: &text, ClearError: true}
	if ocrErr != nil {
		slog.Error("ocr failed", "task_id", task.TaskID, "image_id", task.ImageID, "err", ocrErr)
		status = models.StatusFailed
		msg := models.TruncateError(ocrErr.Error())
		upd = models.JobUpdate{Status: &status, ClearText: true, ErrorMessage: &msg}
	}

	if err := w.jobs.UpdateJobRecord(ctx, task.ImageID, upd); err != nil {
		w.markFailedBestEffort(ctx, task.ImageID, err)
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	textLen := 0
	if ocrErr == nil {
		textLen = len(text)
	}
	slog.Info("ocr task finished", "task_id", task.TaskID, "image_id", task.ImageID, "status", status)

	return map[string]any{
		"image_id":    task.ImageID,
		"user_id":     task.UserID,
		"status":      status,
		"text_length": textLen,
	}, nil
}

// extract invokes the recognition engine under the hard deadline, logging a
// warning once the soft limit passes.
func (w *Worker) extract(ctx context.Context, task models.OCRTask) (string, error) {
	octx, cancel := context.WithTimeout(ctx, w.hardLimit)
	defer cancel()

	softTimer := time.AfterFunc(w.softLimit, func() {
		slog.Warn("ocr task exceeding soft time limit", "task_id", task.TaskID, "image_id", task.ImageID)
	})
	defer softTimer.Stop()

	return w.engine.ExtractText(octx, task.ImageData, w.lang)
}

func (w *Worker) markFailedBestEffort(ctx context.Context, imageID int64, cause error) {
	failed := models.StatusFailed
	msg := models.TruncateError(cause.Error())
	upd := models.JobUpdate{Status: &failed, ErrorMessage: &msg}
	if err := w.jobs.UpdateJobRecord(ctx, imageID, upd); err != nil {
		slog.Error("could not record task failure", "image_id", imageID, "err", err)
	}
}
