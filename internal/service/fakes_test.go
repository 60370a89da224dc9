package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vectaconvert/api/internal/model"
)

// In-memory doubles for the repository, queue, storage and usage surfaces.

type memJobStore struct {
	mu          sync.Mutex
	jobs        map[string]*model.Job
	completions int
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*model.Job)}
}

func (s *memJobStore) Create(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	clone := *job
	s.jobs[job.ID] = &clone
	return nil
}

func (s *memJobStore) FindByID(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (s *memJobStore) FindByIDAndSession(_ context.Context, id, sessionToken string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.SessionToken != sessionToken {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (s *memJobStore) UpdateStatus(_ context.Context, id string, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.Status = status
	return nil
}

func (s *memJobStore) IncrementCompleted(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	job.CompletedFiles++
	clone := *job
	return &clone, nil
}

func (s *memJobStore) IncrementFailed(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s not found", id)
	}
	job.FailedFiles++
	clone := *job
	return &clone, nil
}

func (s *memJobStore) MarkCompleted(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != model.JobStatusProcessing {
		return false, nil
	}
	job.Status = model.JobStatusCompleted
	s.completions++
	return true, nil
}

func (s *memJobStore) FindExpired(_ context.Context, now time.Time) ([]*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Job
	for _, job := range s.jobs {
		if job.ExpiresAt.Before(now) && job.Status != model.JobStatusFailed {
			clone := *job
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memJobStore) MarkExpired(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status == model.JobStatusFailed {
		return false, nil
	}
	job.Status = model.JobStatusFailed
	return true, nil
}

type memFileStore struct {
	mu    sync.Mutex
	files map[string]*model.JobFile
}

func newMemFileStore() *memFileStore {
	return &memFileStore{files: make(map[string]*model.JobFile)}
}

func (s *memFileStore) Create(_ context.Context, f *model.JobFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Status == "" {
		f.Status = model.FileStatusPending
	}
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	clone := *f
	s.files[f.ID] = &clone
	return nil
}

func (s *memFileStore) FindByID(_ context.Context, id string) (*model.JobFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, nil
	}
	clone := *f
	return &clone, nil
}

func (s *memFileStore) FindByJobID(_ context.Context, jobID string) ([]*model.JobFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.JobFile
	for _, f := range s.files {
		if f.JobID == jobID {
			clone := *f
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memFileStore) FindCompletedByJobID(_ context.Context, jobID string) ([]*model.JobFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.JobFile
	for _, f := range s.files {
		if f.JobID == jobID && f.Status == model.FileStatusCompleted {
			clone := *f
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memFileStore) MarkProcessing(_ context.Context, id string) error {
	return s.setStatus(id, model.FileStatusProcessing)
}

func (s *memFileStore) MarkCompleted(_ context.Context, id, convertedKey string, convertedSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file %s not found", id)
	}
	f.Status = model.FileStatusCompleted
	f.ConvertedKey = convertedKey
	f.ConvertedSize = convertedSize
	return nil
}

func (s *memFileStore) MarkFailed(_ context.Context, id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file %s not found", id)
	}
	f.Status = model.FileStatusFailed
	f.ErrorMessage = errorMessage
	return nil
}

func (s *memFileStore) setStatus(id string, status model.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return fmt.Errorf("file %s not found", id)
	}
	f.Status = status
	return nil
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Upload(_ context.Context, key string, body io.Reader, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memStorage) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q not found", key)
	}
	return data, nil
}

func (s *memStorage) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memStorage) DeleteMany(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *memStorage) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memStorage) PresignUpload(_ context.Context, key, _ string) (string, error) {
	return "https://storage.test/upload/" + key, nil
}

func (s *memStorage) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://storage.test/download/" + key, nil
}

func (s *memStorage) Ping(context.Context) error { return nil }

type memQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *memQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (q *memQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type memUsage struct {
	mu     sync.Mutex
	counts map[string]int
}

func newMemUsage() *memUsage {
	return &memUsage{counts: make(map[string]int)}
}

func (u *memUsage) GetDailyUsage(_ context.Context, sessionToken string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[sessionToken], nil
}

func (u *memUsage) IncrementDailyUsage(_ context.Context, sessionToken string) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counts[sessionToken]++
	return u.counts[sessionToken], nil
}
