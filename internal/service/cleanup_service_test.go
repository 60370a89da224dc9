package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vectaconvert/api/internal/model"
)

func seedExpiredJob(t *testing.T, jobs *memJobStore, files *memFileStore, store *memStorage, withOutput bool) *model.Job {
	t.Helper()
	job := &model.Job{
		SessionToken: "session-1",
		OutputFormat: model.FormatWebP,
		TotalFiles:   1,
		Status:       model.JobStatusCompleted,
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	if err := jobs.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	inputKey := model.InputKey(job.ID, "cat.png")
	file := &model.JobFile{
		JobID:        job.ID,
		OriginalName: "cat.png",
		OriginalKey:  inputKey,
		OriginalSize: 100,
	}
	if err := files.Create(context.Background(), file); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	store.Upload(context.Background(), inputKey, strings.NewReader("in"), "image/png")

	if withOutput {
		outputKey := model.OutputKey(job.ID, "cat.png", model.FormatWebP)
		files.MarkCompleted(context.Background(), file.ID, outputKey, 50)
		store.Upload(context.Background(), outputKey, strings.NewReader("out"), "image/webp")
	}
	return job
}

func TestCleanExpired_RemovesInputAndOutputObjects(t *testing.T) {
	jobs := newMemJobStore()
	files := newMemFileStore()
	store := newMemStorage()
	svc := NewCleanupService(jobs, files, store, time.Minute)

	job := seedExpiredJob(t, jobs, files, store, true)

	cleaned, err := svc.CleanExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanExpired: %v", err)
	}
	if cleaned != 1 {
		t.Errorf("cleaned %d jobs, want 1", cleaned)
	}
	if len(store.deleted) != 2 {
		t.Errorf("deleted %d objects, want 2 (input and output): %v", len(store.deleted), store.deleted)
	}

	reaped, _ := jobs.FindByID(context.Background(), job.ID)
	if reaped.Status != model.JobStatusFailed {
		t.Errorf("reaped job status = %s, want failed", reaped.Status)
	}
}

func TestCleanExpired_SkipsLiveJobs(t *testing.T) {
	jobs := newMemJobStore()
	files := newMemFileStore()
	store := newMemStorage()
	svc := NewCleanupService(jobs, files, store, time.Minute)

	live := &model.Job{
		SessionToken: "session-1",
		OutputFormat: model.FormatWebP,
		TotalFiles:   1,
		Status:       model.JobStatusProcessing,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	jobs.Create(context.Background(), live)

	cleaned, err := svc.CleanExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanExpired: %v", err)
	}
	if cleaned != 0 {
		t.Errorf("cleaned %d jobs, want 0", cleaned)
	}
	kept, _ := jobs.FindByID(context.Background(), live.ID)
	if kept.Status != model.JobStatusProcessing {
		t.Errorf("live job status changed to %s", kept.Status)
	}
}

func TestCleanExpired_SecondSweepIsNoop(t *testing.T) {
	jobs := newMemJobStore()
	files := newMemFileStore()
	store := newMemStorage()
	svc := NewCleanupService(jobs, files, store, time.Minute)

	seedExpiredJob(t, jobs, files, store, false)

	if cleaned, _ := svc.CleanExpired(context.Background()); cleaned != 1 {
		t.Fatalf("first sweep cleaned %d jobs, want 1", cleaned)
	}
	deletedAfterFirst := len(store.deleted)

	if cleaned, _ := svc.CleanExpired(context.Background()); cleaned != 0 {
		t.Errorf("second sweep cleaned %d jobs, want 0", cleaned)
	}
	if len(store.deleted) != deletedAfterFirst {
		t.Errorf("second sweep deleted more objects: %d -> %d", deletedAfterFirst, len(store.deleted))
	}
}
