package service

import (
	"context"
	"log"
	"time"

	"github.com/vectaconvert/api/internal/model"
	"github.com/vectaconvert/api/internal/storage"
)

// CleanupService reaps expired jobs: it claims each job by flipping it to
// failed, then removes every object the job left in storage. Claiming first
// means two overlapping sweeps cannot both delete the same job, at the cost
// of possibly leaking objects if the process dies mid-sweep; the next sweep
// does not retry a claimed job, so the claim window is kept as small as the
// key deletion itself.
type CleanupService struct {
	jobs     JobStore
	files    JobFileStore
	storage  storage.ObjectStorage
	interval time.Duration
}

func NewCleanupService(jobs JobStore, files JobFileStore, store storage.ObjectStorage, interval time.Duration) *CleanupService {
	return &CleanupService{jobs: jobs, files: files, storage: store, interval: interval}
}

// Run sweeps immediately, then on every tick until the context ends.
func (s *CleanupService) Run(ctx context.Context) {
	log.Printf("Cleanup service started (interval: %s)", s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Cleanup service stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *CleanupService) sweep(ctx context.Context) {
	cleaned, err := s.CleanExpired(ctx)
	if err != nil {
		log.Printf("Cleanup sweep failed: %v", err)
		return
	}
	if cleaned > 0 {
		log.Printf("Cleanup sweep removed %d expired jobs", cleaned)
	}
}

// CleanExpired processes every job past its expiry. A failure on one job is
// logged and the sweep moves on; the job stays claimed and its rows remain
// for inspection.
func (s *CleanupService) CleanExpired(ctx context.Context) (int, error) {
	expired, err := s.jobs.FindExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, job := range expired {
		claimed, err := s.jobs.MarkExpired(ctx, job.ID)
		if err != nil {
			log.Printf("Failed to claim expired job %s: %v", job.ID, err)
			continue
		}
		if !claimed {
			continue
		}
		if err := s.deleteJobObjects(ctx, job); err != nil {
			log.Printf("Failed to delete objects for job %s: %v", job.ID, err)
			continue
		}
		cleaned++
	}
	return cleaned, nil
}

func (s *CleanupService) deleteJobObjects(ctx context.Context, job *model.Job) error {
	files, err := s.files.FindByJobID(ctx, job.ID)
	if err != nil {
		return err
	}

	keys := make([]string, 0, 2*len(files))
	for _, f := range files {
		keys = append(keys, f.OriginalKey)
		if f.ConvertedKey != "" {
			keys = append(keys, f.ConvertedKey)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return s.storage.DeleteMany(ctx, keys)
}
