package service

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vectaconvert/api/internal/apperr"
	"github.com/vectaconvert/api/internal/config"
	"github.com/vectaconvert/api/internal/model"
	"github.com/vectaconvert/api/internal/storage"
)

const TaskTypeConversion = "conversion:process"

// Control characters, path separators and shell-hostile characters are
// rejected outright. A name carrying a path is refused rather than reduced
// to its basename; clients are expected to send plain file names.
var dangerousFileNamePattern = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]|\.{2,}`)

// JobStore is the job-row surface the orchestrator, worker and reaper need.
// Implemented by repository.JobRepository.
type JobStore interface {
	Create(ctx context.Context, job *model.Job) error
	FindByID(ctx context.Context, id string) (*model.Job, error)
	FindByIDAndSession(ctx context.Context, id, sessionToken string) (*model.Job, error)
	UpdateStatus(ctx context.Context, id string, status model.JobStatus) error
	IncrementCompleted(ctx context.Context, id string) (*model.Job, error)
	IncrementFailed(ctx context.Context, id string) (*model.Job, error)
	MarkCompleted(ctx context.Context, id string) (bool, error)
	FindExpired(ctx context.Context, now time.Time) ([]*model.Job, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
}

// JobFileStore is implemented by repository.JobFileRepository.
type JobFileStore interface {
	Create(ctx context.Context, f *model.JobFile) error
	FindByID(ctx context.Context, id string) (*model.JobFile, error)
	FindByJobID(ctx context.Context, jobID string) ([]*model.JobFile, error)
	FindCompletedByJobID(ctx context.Context, jobID string) ([]*model.JobFile, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, convertedKey string, convertedSize int64) error
	MarkFailed(ctx context.Context, id, errorMessage string) error
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// UsageLimiter tracks the per-session daily conversion count.
type UsageLimiter interface {
	GetDailyUsage(ctx context.Context, sessionToken string) (int, error)
	IncrementDailyUsage(ctx context.Context, sessionToken string) (int, error)
}

// JobService orchestrates the two-phase protocol: create job + upload slots,
// then validate uploads and hand the work to the queue.
type JobService struct {
	jobs    JobStore
	files   JobFileStore
	storage storage.ObjectStorage
	queue   TaskEnqueuer
	usage   UsageLimiter
	cfg     *config.Config
}

func NewJobService(jobs JobStore, files JobFileStore, store storage.ObjectStorage, queue TaskEnqueuer, usage UsageLimiter, cfg *config.Config) *JobService {
	return &JobService{
		jobs:    jobs,
		files:   files,
		storage: store,
		queue:   queue,
		usage:   usage,
		cfg:     cfg,
	}
}

// CreateJob validates the submission, persists the job and its files, and
// returns one presigned upload URL per file. No work is dispatched yet; the
// job parks in pending until StartJob.
func (s *JobService) CreateJob(ctx context.Context, sessionToken string, req *model.CreateJobRequest) (*model.CreateJobResponse, error) {
	if err := s.checkDailyLimit(ctx, sessionToken); err != nil {
		return nil, err
	}

	format, err := model.ParseOutputFormat(req.OutputFormat)
	if err != nil {
		return nil, apperr.Validation("invalid output format %q, allowed: %v", req.OutputFormat, model.ValidOutputFormats)
	}
	if err := validateResize(req); err != nil {
		return nil, err
	}
	names, err := s.validateFiles(req.Files)
	if err != nil {
		return nil, err
	}

	quality := s.cfg.Conversion.DefaultQuality
	if req.Quality != nil {
		quality = *req.Quality
	}

	job := &model.Job{
		SessionToken:  sessionToken,
		OutputFormat:  format,
		Quality:       quality,
		Lossless:      req.Lossless,
		ResizeWidth:   req.Width,
		ResizeHeight:  req.Height,
		ResizePercent: req.ResizePercent,
		TotalFiles:    len(req.Files),
		Status:        model.JobStatusPending,
		ExpiresAt:     time.Now().Add(s.cfg.Cleanup.JobTTL),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, apperr.Internal("failed to create job", err)
	}

	slots := make([]model.UploadSlot, 0, len(req.Files))
	for i, f := range req.Files {
		inputKey := model.InputKey(job.ID, names[i])
		jobFile := &model.JobFile{
			JobID:          job.ID,
			OriginalName:   names[i],
			OriginalKey:    inputKey,
			OriginalSize:   f.Size,
			OriginalFormat: model.InputFormatFromMIME(f.Type),
		}
		if err := s.files.Create(ctx, jobFile); err != nil {
			return nil, apperr.Internal("failed to create job file", err)
		}

		url, err := s.storage.PresignUpload(ctx, inputKey, f.Type)
		if err != nil {
			return nil, err
		}
		slots = append(slots, model.UploadSlot{FileID: jobFile.ID, UploadURL: url, Key: inputKey})
	}

	if _, err := s.usage.IncrementDailyUsage(ctx, sessionToken); err != nil {
		log.Printf("Failed to increment daily usage for session: %v", err)
	}

	return &model.CreateJobResponse{
		JobID:      job.ID,
		UploadURLs: slots,
		ExpiresAt:  job.ExpiresAt,
	}, nil
}

// StartJob admits uploaded files into the queue. Files listed in
// excludeFileIDs (client-side upload failures) are marked failed up front so
// the completion accounting still adds up; every remaining file must exist
// in storage or the whole call fails and nothing is enqueued.
func (s *JobService) StartJob(ctx context.Context, jobID, sessionToken string, excludeFileIDs []string) error {
	job, err := s.findJobOrFail(ctx, jobID, sessionToken)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusPending {
		return apperr.Validation("job cannot be started (current status: %s)", job.Status)
	}

	files, err := s.files.FindByJobID(ctx, jobID)
	if err != nil {
		return apperr.Internal("failed to load job files", err)
	}

	excluded := make(map[string]bool, len(excludeFileIDs))
	for _, id := range excludeFileIDs {
		excluded[id] = true
	}

	var pending, skipped []*model.JobFile
	for _, f := range files {
		if excluded[f.ID] {
			skipped = append(skipped, f)
		} else {
			pending = append(pending, f)
		}
	}

	if err := s.verifyUploaded(ctx, pending); err != nil {
		return err
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, model.JobStatusProcessing); err != nil {
		return apperr.Internal("failed to update job status", err)
	}

	for _, f := range skipped {
		if err := s.files.MarkFailed(ctx, f.ID, "upload failed on client"); err != nil {
			log.Printf("Failed to mark excluded file %s: %v", f.ID, err)
			continue
		}
		updated, err := s.jobs.IncrementFailed(ctx, jobID)
		if err != nil {
			log.Printf("Failed to count excluded file %s: %v", f.ID, err)
			continue
		}
		if updated.Done() {
			if _, err := s.jobs.MarkCompleted(ctx, jobID); err != nil {
				log.Printf("Failed to resolve job %s: %v", jobID, err)
			}
		}
	}

	for _, f := range pending {
		task, err := newConversionTask(job, f)
		if err != nil {
			return apperr.Internal("failed to build conversion task", err)
		}
		_, err = s.queue.Enqueue(task,
			asynq.Queue("conversion"),
			asynq.MaxRetry(s.cfg.Conversion.MaxAttempts-1),
			asynq.Timeout(s.cfg.Conversion.Timeout),
			asynq.Retention(24*time.Hour),
		)
		if err != nil {
			return apperr.Internal("failed to enqueue conversion task", err)
		}
	}
	return nil
}

// GetStatus returns the job aggregate plus the per-file list, for polling.
func (s *JobService) GetStatus(ctx context.Context, jobID, sessionToken string) (*model.JobStatusResponse, error) {
	job, err := s.findJobOrFail(ctx, jobID, sessionToken)
	if err != nil {
		return nil, err
	}
	files, err := s.files.FindByJobID(ctx, jobID)
	if err != nil {
		return nil, apperr.Internal("failed to load job files", err)
	}
	return &model.JobStatusResponse{Job: job, Files: files}, nil
}

// GetDownloadURL hands out a signed URL for one completed file.
func (s *JobService) GetDownloadURL(ctx context.Context, jobID, fileID, sessionToken string) (*model.DownloadResponse, error) {
	job, err := s.findJobOrFail(ctx, jobID, sessionToken)
	if err != nil {
		return nil, err
	}

	file, err := s.files.FindByID(ctx, fileID)
	if err != nil {
		return nil, apperr.Internal("failed to load file", err)
	}
	if file == nil || file.JobID != jobID {
		return nil, apperr.NotFound("File")
	}
	if file.Status != model.FileStatusCompleted {
		return nil, apperr.Validation("file is not ready for download (status: %s)", file.Status)
	}

	url, err := s.storage.PresignDownload(ctx, file.ConvertedKey)
	if err != nil {
		return nil, err
	}
	return &model.DownloadResponse{
		URL:      url,
		FileName: model.ReplaceExtension(file.OriginalName, job.OutputFormat),
	}, nil
}

// PrepareArchive runs the preconditions for the bulk download and returns
// the entries to stream. Split from WriteArchive so the handler can still
// answer with a proper error status before committing to a streamed body.
func (s *JobService) PrepareArchive(ctx context.Context, jobID, sessionToken string) (*model.Job, []*model.JobFile, error) {
	job, err := s.findJobOrFail(ctx, jobID, sessionToken)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != model.JobStatusCompleted {
		return nil, nil, apperr.Validation("job is not completed (status: %s)", job.Status)
	}
	files, err := s.files.FindCompletedByJobID(ctx, jobID)
	if err != nil {
		return nil, nil, apperr.Internal("failed to load completed files", err)
	}
	if len(files) == 0 {
		return nil, nil, apperr.Validation("no completed files to download")
	}
	return job, files, nil
}

// WriteArchive streams a zip of all completed outputs. Entries are stored
// uncompressed: the members are already compressed image codecs.
func (s *JobService) WriteArchive(ctx context.Context, job *model.Job, files []*model.JobFile, w io.Writer) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		stream, err := s.storage.DownloadStream(ctx, f.ConvertedKey)
		if err != nil {
			return err
		}

		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     model.ReplaceExtension(f.OriginalName, job.OutputFormat),
			Method:   zip.Store,
			Modified: f.UpdatedAt,
		})
		if err != nil {
			stream.Close()
			return fmt.Errorf("create archive entry: %w", err)
		}
		if _, err := io.Copy(entry, stream); err != nil {
			stream.Close()
			return fmt.Errorf("write archive entry %s: %w", f.OriginalName, err)
		}
		stream.Close()
	}
	return zw.Close()
}

func (s *JobService) findJobOrFail(ctx context.Context, jobID, sessionToken string) (*model.Job, error) {
	job, err := s.jobs.FindByIDAndSession(ctx, jobID, sessionToken)
	if err != nil {
		return nil, apperr.Internal("failed to load job", err)
	}
	if job == nil {
		return nil, apperr.NotFound("Job")
	}
	return job, nil
}

func (s *JobService) checkDailyLimit(ctx context.Context, sessionToken string) error {
	used, err := s.usage.GetDailyUsage(ctx, sessionToken)
	if err != nil {
		// Redis being down should not block conversions.
		log.Printf("Failed to read daily usage: %v", err)
		return nil
	}
	if used >= s.cfg.Limits.MaxConversionsPerDay {
		return apperr.RateLimited("daily limit of %d conversions reached, try again tomorrow", s.cfg.Limits.MaxConversionsPerDay)
	}
	return nil
}

func (s *JobService) validateFiles(files []model.FileDescriptor) ([]string, error) {
	if len(files) > s.cfg.Upload.MaxFilesPerJob {
		return nil, apperr.Validation("at most %d files per conversion (got %d)", s.cfg.Upload.MaxFilesPerJob, len(files))
	}

	names := make([]string, len(files))
	var totalSize int64
	for i, f := range files {
		if model.InputFormatFromMIME(f.Type) == "" {
			return nil, apperr.Validation("invalid MIME type %q for %q, allowed: image/png, image/jpeg, image/webp", f.Type, f.Name)
		}
		if f.Size > s.cfg.Upload.MaxFileSize {
			return nil, apperr.TooLarge(f.Size, s.cfg.Upload.MaxFileSize)
		}
		name, err := sanitizeFileName(f.Name)
		if err != nil {
			return nil, err
		}
		names[i] = name
		totalSize += f.Size
	}

	if totalSize > s.cfg.Upload.MaxTotalJobSize {
		return nil, apperr.Validation("total job size %dMB exceeds %dMB limit",
			totalSize/1024/1024, s.cfg.Upload.MaxTotalJobSize/1024/1024)
	}
	return names, nil
}

func (s *JobService) verifyUploaded(ctx context.Context, files []*model.JobFile) error {
	var missing []string
	for _, f := range files {
		ok, err := s.storage.Exists(ctx, f.OriginalKey)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, f.OriginalName)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("files not yet uploaded: %s", strings.Join(missing, ", "))
	}
	return nil
}

// sanitizeFileName rejects empty, hidden and path-carrying names along with
// traversal sequences and control characters. The name is used verbatim as
// the storage key segment, so nothing that could alter the key passes.
func sanitizeFileName(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || dangerousFileNamePattern.MatchString(name) {
		return "", apperr.Validation("invalid file name %q", name)
	}
	return name, nil
}

func validateResize(req *model.CreateJobRequest) error {
	hasPixel := req.Width != nil || req.Height != nil
	hasPercent := req.ResizePercent != nil
	if hasPixel && hasPercent {
		return apperr.Validation("cannot specify both pixel dimensions and resize percentage")
	}
	return nil
}

func newConversionTask(job *model.Job, f *model.JobFile) (*asynq.Task, error) {
	opts := model.ConversionOptions{Quality: job.Quality, Lossless: job.Lossless}
	if job.ResizeWidth != nil {
		opts.ResizeWidth = *job.ResizeWidth
	}
	if job.ResizeHeight != nil {
		opts.ResizeHeight = *job.ResizeHeight
	}
	if job.ResizePercent != nil {
		opts.ResizePercent = *job.ResizePercent
	}

	payload, err := json.Marshal(model.ConversionTaskPayload{
		JobID:        job.ID,
		FileID:       f.ID,
		InputKey:     f.OriginalKey,
		OutputFormat: job.OutputFormat,
		Options:      opts,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConversion, payload), nil
}
