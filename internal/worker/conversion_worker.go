package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vectaconvert/api/internal/config"
	"github.com/vectaconvert/api/internal/convert"
	"github.com/vectaconvert/api/internal/model"
	"github.com/vectaconvert/api/internal/service"
	"github.com/vectaconvert/api/internal/storage"
)

// Broadcaster pushes progress to connected clients. Implemented by the
// websocket hub; a nil Broadcaster disables pushes.
type Broadcaster interface {
	BroadcastFileUpdate(jobID string, file *model.JobFile)
	BroadcastJobComplete(job *model.Job)
}

// EventLogger records conversion analytics. Implemented by
// repository.AnalyticsRepository.
type EventLogger interface {
	LogConversionEvent(ctx context.Context, ev *model.ConversionEvent) error
}

// ConversionWorker consumes conversion tasks from the queue: download the
// original, convert, upload the result, bump the job counters.
type ConversionWorker struct {
	jobs      service.JobStore
	files     service.JobFileStore
	storage   storage.ObjectStorage
	analytics EventLogger
	hub       Broadcaster
	cfg       config.ConversionConfig

	// finalAttempt reports whether the current attempt is the last one.
	// Defaults to reading the asynq retry metadata; settable so tests can
	// exercise both the retryable and the terminal path.
	finalAttempt func(ctx context.Context) bool
}

func NewConversionWorker(jobs service.JobStore, files service.JobFileStore, store storage.ObjectStorage, analytics EventLogger, hub Broadcaster, cfg config.ConversionConfig) *ConversionWorker {
	return &ConversionWorker{
		jobs:         jobs,
		files:        files,
		storage:      store,
		analytics:    analytics,
		hub:          hub,
		cfg:          cfg,
		finalAttempt: asynqFinalAttempt,
	}
}

// ProcessTask implements asynq.Handler. Returning an error requeues the task
// while retries remain; the failure is only recorded on the file
// and job rows once the attempt was the last one, so transient storage
// hiccups get a second chance without double counting.
func (w *ConversionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ConversionTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal conversion payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.process(ctx, &payload)
	if err == nil {
		return nil
	}

	log.Printf("Conversion attempt failed for file %s (job %s): %v", payload.FileID, payload.JobID, err)
	if w.finalAttempt(ctx) || errors.Is(err, asynq.SkipRetry) {
		w.recordFailure(&payload, err)
	}
	return err
}

func (w *ConversionWorker) process(ctx context.Context, p *model.ConversionTaskPayload) error {
	started := time.Now()

	file, err := w.files.FindByID(ctx, p.FileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	if file == nil {
		return fmt.Errorf("file %s not found: %w", p.FileID, asynq.SkipRetry)
	}
	if err := w.files.MarkProcessing(ctx, p.FileID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	input, err := w.storage.Download(ctx, p.InputKey)
	if err != nil {
		return err
	}

	result, err := convert.Image(input, convert.Options{
		Format:        p.OutputFormat,
		Quality:       p.Options.Quality,
		Lossless:      p.Options.Lossless,
		StripMetadata: true,
		ResizeWidth:   p.Options.ResizeWidth,
		ResizeHeight:  p.Options.ResizeHeight,
		ResizePercent: p.Options.ResizePercent,
		AVIFSpeed:     w.cfg.AVIFSpeed,
	})
	if err != nil {
		// A file that does not decode will not decode on retry either.
		return fmt.Errorf("convert %s: %v: %w", file.OriginalName, err, asynq.SkipRetry)
	}

	outputKey := model.OutputKey(p.JobID, file.OriginalName, p.OutputFormat)
	if err := w.storage.Upload(ctx, outputKey, bytes.NewReader(result.Data), result.MIME); err != nil {
		return err
	}

	if err := w.files.MarkCompleted(ctx, p.FileID, outputKey, result.OutputSize); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	job, err := w.jobs.IncrementCompleted(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("increment completed: %w", err)
	}
	w.resolve(job)

	duration := time.Since(started)
	log.Printf("Converted %s to %s in %s (%d -> %d bytes)",
		file.OriginalName, p.OutputFormat, duration.Round(time.Millisecond), result.InputSize, result.OutputSize)

	if w.hub != nil {
		updated, err := w.files.FindByID(context.Background(), p.FileID)
		if err == nil && updated != nil {
			w.hub.BroadcastFileUpdate(p.JobID, updated)
		}
	}
	if w.analytics != nil {
		var savings float64
		if result.InputSize > 0 {
			savings = 100 * float64(result.InputSize-result.OutputSize) / float64(result.InputSize)
		}
		ev := &model.ConversionEvent{
			InputFormat:    file.OriginalFormat,
			OutputFormat:   string(p.OutputFormat),
			InputSize:      result.InputSize,
			OutputSize:     result.OutputSize,
			SavingsPercent: savings,
			DurationMs:     duration.Milliseconds(),
			Quality:        p.Options.Quality,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := w.analytics.LogConversionEvent(ctx, ev); err != nil {
				log.Printf("Failed to log conversion event: %v", err)
			}
		}()
	}
	return nil
}

// recordFailure settles the terminal state for a file after its last
// attempt. Runs on a fresh context so a task timeout cannot cancel the
// bookkeeping writes.
func (w *ConversionWorker) recordFailure(p *model.ConversionTaskPayload, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.files.MarkFailed(ctx, p.FileID, cause.Error()); err != nil {
		log.Printf("Failed to mark file %s failed: %v", p.FileID, err)
		return
	}
	job, err := w.jobs.IncrementFailed(ctx, p.JobID)
	if err != nil {
		log.Printf("Failed to increment failed count for job %s: %v", p.JobID, err)
		return
	}
	w.resolve(job)

	if w.hub != nil {
		file, err := w.files.FindByID(ctx, p.FileID)
		if err == nil && file != nil {
			w.hub.BroadcastFileUpdate(p.JobID, file)
		}
	}
}

// resolve flips the job to completed once every file is accounted for. The
// counts come from the UPDATE ... RETURNING row, so exactly one worker sees
// the final tally; the guarded MarkCompleted makes the flip idempotent
// anyway.
func (w *ConversionWorker) resolve(job *model.Job) {
	if job == nil || !job.Done() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transitioned, err := w.jobs.MarkCompleted(ctx, job.ID)
	if err != nil {
		log.Printf("Failed to complete job %s: %v", job.ID, err)
		return
	}
	if !transitioned {
		return
	}
	log.Printf("Job %s finished: %d completed, %d failed", job.ID, job.CompletedFiles, job.FailedFiles)
	if w.hub != nil {
		if final, err := w.jobs.FindByID(ctx, job.ID); err == nil && final != nil {
			w.hub.BroadcastJobComplete(final)
		}
	}
}

// asynqFinalAttempt reports whether the current attempt is the last one.
// Outside an asynq server (direct handler invocation) the retry metadata is
// absent and every attempt counts as final.
func asynqFinalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
