package service

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vectaconvert/api/internal/apperr"
	"github.com/vectaconvert/api/internal/config"
	"github.com/vectaconvert/api/internal/model"
)

type jobServiceFixture struct {
	svc     *JobService
	jobs    *memJobStore
	files   *memFileStore
	storage *memStorage
	queue   *memQueue
	usage   *memUsage
	cfg     *config.Config
}

func newJobServiceFixture() *jobServiceFixture {
	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxFileSize:     20 * 1024 * 1024,
			MaxFilesPerJob:  20,
			MaxTotalJobSize: 100 * 1024 * 1024,
		},
		Limits: config.LimitsConfig{MaxConversionsPerDay: 50},
		Conversion: config.ConversionConfig{
			DefaultQuality: 82,
			Timeout:        30 * time.Second,
			MaxAttempts:    2,
		},
		Cleanup: config.CleanupConfig{JobTTL: 2 * time.Hour},
	}
	f := &jobServiceFixture{
		jobs:    newMemJobStore(),
		files:   newMemFileStore(),
		storage: newMemStorage(),
		queue:   &memQueue{},
		usage:   newMemUsage(),
		cfg:     cfg,
	}
	f.svc = NewJobService(f.jobs, f.files, f.storage, f.queue, f.usage, cfg)
	return f
}

func validCreateRequest() *model.CreateJobRequest {
	return &model.CreateJobRequest{
		Files: []model.FileDescriptor{
			{Name: "cat.png", Size: 1024, Type: "image/png"},
			{Name: "dog.jpg", Size: 2048, Type: "image/jpeg"},
		},
		OutputFormat: "webp",
	}
}

func TestCreateJob_Success(t *testing.T) {
	f := newJobServiceFixture()

	result, err := f.svc.CreateJob(context.Background(), "session-1", validCreateRequest())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if result.JobID == "" {
		t.Error("expected job id")
	}
	if len(result.UploadURLs) != 2 {
		t.Fatalf("expected 2 upload slots, got %d", len(result.UploadURLs))
	}
	for _, slot := range result.UploadURLs {
		if slot.UploadURL == "" || slot.Key == "" || slot.FileID == "" {
			t.Errorf("incomplete upload slot %+v", slot)
		}
		if !strings.HasPrefix(slot.Key, "inputs/"+result.JobID+"/") {
			t.Errorf("unexpected input key %q", slot.Key)
		}
	}

	job, _ := f.jobs.FindByID(context.Background(), result.JobID)
	if job.Status != model.JobStatusPending {
		t.Errorf("new job status = %s, want pending", job.Status)
	}
	if job.Quality != 82 {
		t.Errorf("default quality = %d, want 82", job.Quality)
	}
	if !job.ExpiresAt.After(time.Now().Add(time.Hour)) {
		t.Errorf("expiry %s not pushed out by job TTL", job.ExpiresAt)
	}
	if used, _ := f.usage.GetDailyUsage(context.Background(), "session-1"); used != 1 {
		t.Errorf("daily usage = %d, want 1", used)
	}
	if f.queue.count() != 0 {
		t.Error("CreateJob must not enqueue tasks")
	}
}

func TestCreateJob_RejectsBadMIME(t *testing.T) {
	f := newJobServiceFixture()
	req := validCreateRequest()
	req.Files[0].Type = "image/gif"

	_, err := f.svc.CreateJob(context.Background(), "session-1", req)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateJob_RejectsOversizedFile(t *testing.T) {
	f := newJobServiceFixture()
	req := validCreateRequest()
	req.Files[0].Size = f.cfg.Upload.MaxFileSize + 1

	_, err := f.svc.CreateJob(context.Background(), "session-1", req)
	if !apperr.IsKind(err, apperr.KindTooLarge) {
		t.Fatalf("expected too-large error, got %v", err)
	}
}

func TestCreateJob_RejectsTooManyFiles(t *testing.T) {
	f := newJobServiceFixture()
	req := &model.CreateJobRequest{OutputFormat: "png"}
	for i := 0; i <= f.cfg.Upload.MaxFilesPerJob; i++ {
		req.Files = append(req.Files, model.FileDescriptor{
			Name: "a.png", Size: 10, Type: "image/png",
		})
	}

	_, err := f.svc.CreateJob(context.Background(), "session-1", req)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateJob_RejectsDangerousFileName(t *testing.T) {
	f := newJobServiceFixture()
	names := []string{
		"a..b.png",
		".hidden",
		"bad|pipe.png",
		"x\x00.png",
		"con<t>.png",
		"photos/summer/cat.png",
		"..\\..\\boot.ini",
		"/etc/passwd",
	}
	for _, name := range names {
		req := validCreateRequest()
		req.Files[0].Name = name
		if _, err := f.svc.CreateJob(context.Background(), "s", req); !apperr.IsKind(err, apperr.KindValidation) {
			t.Errorf("name %q: expected validation error, got %v", name, err)
		}
	}
}

func TestCreateJob_RejectsBothResizeModes(t *testing.T) {
	f := newJobServiceFixture()
	req := validCreateRequest()
	width, percent := 100, 50
	req.Width = &width
	req.ResizePercent = &percent

	_, err := f.svc.CreateJob(context.Background(), "session-1", req)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateJob_DailyLimit(t *testing.T) {
	f := newJobServiceFixture()
	for i := 0; i < f.cfg.Limits.MaxConversionsPerDay; i++ {
		f.usage.IncrementDailyUsage(context.Background(), "session-1")
	}

	_, err := f.svc.CreateJob(context.Background(), "session-1", validCreateRequest())
	if !apperr.IsKind(err, apperr.KindRateLimited) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}

	// Another session is unaffected.
	if _, err := f.svc.CreateJob(context.Background(), "session-2", validCreateRequest()); err != nil {
		t.Fatalf("other session blocked: %v", err)
	}
}

func createAndUpload(t *testing.T, f *jobServiceFixture, session string) *model.CreateJobResponse {
	t.Helper()
	result, err := f.svc.CreateJob(context.Background(), session, validCreateRequest())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	for _, slot := range result.UploadURLs {
		if err := f.storage.Upload(context.Background(), slot.Key, strings.NewReader("bytes"), "image/png"); err != nil {
			t.Fatalf("seed upload: %v", err)
		}
	}
	return result
}

func TestStartJob_Success(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")

	if err := f.svc.StartJob(context.Background(), created.JobID, "session-1", nil); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	if f.queue.count() != 2 {
		t.Errorf("enqueued %d tasks, want 2", f.queue.count())
	}
	job, _ := f.jobs.FindByID(context.Background(), created.JobID)
	if job.Status != model.JobStatusProcessing {
		t.Errorf("job status = %s, want processing", job.Status)
	}
}

func TestStartJob_MissingUploadFailsWholeCall(t *testing.T) {
	f := newJobServiceFixture()
	created, err := f.svc.CreateJob(context.Background(), "session-1", validCreateRequest())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	// Upload only the first file.
	f.storage.Upload(context.Background(), created.UploadURLs[0].Key, strings.NewReader("bytes"), "image/png")

	err = f.svc.StartJob(context.Background(), created.JobID, "session-1", nil)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "dog.jpg") {
		t.Errorf("error %q does not name the missing file", err)
	}
	if f.queue.count() != 0 {
		t.Errorf("enqueued %d tasks, want 0", f.queue.count())
	}
	job, _ := f.jobs.FindByID(context.Background(), created.JobID)
	if job.Status != model.JobStatusPending {
		t.Errorf("job status = %s, want pending", job.Status)
	}
}

func TestStartJob_ExcludedFilesCountAsFailed(t *testing.T) {
	f := newJobServiceFixture()
	created, err := f.svc.CreateJob(context.Background(), "session-1", validCreateRequest())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	// Only the first file made it to storage; the client excludes the second.
	f.storage.Upload(context.Background(), created.UploadURLs[0].Key, strings.NewReader("bytes"), "image/png")

	excluded := created.UploadURLs[1].FileID
	if err := f.svc.StartJob(context.Background(), created.JobID, "session-1", []string{excluded}); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	if f.queue.count() != 1 {
		t.Errorf("enqueued %d tasks, want 1", f.queue.count())
	}
	file, _ := f.files.FindByID(context.Background(), excluded)
	if file.Status != model.FileStatusFailed {
		t.Errorf("excluded file status = %s, want failed", file.Status)
	}
	job, _ := f.jobs.FindByID(context.Background(), created.JobID)
	if job.FailedFiles != 1 {
		t.Errorf("failed counter = %d, want 1", job.FailedFiles)
	}
}

func TestStartJob_AllExcludedResolvesJob(t *testing.T) {
	f := newJobServiceFixture()
	created, err := f.svc.CreateJob(context.Background(), "session-1", validCreateRequest())
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	exclude := []string{created.UploadURLs[0].FileID, created.UploadURLs[1].FileID}
	if err := f.svc.StartJob(context.Background(), created.JobID, "session-1", exclude); err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	if f.queue.count() != 0 {
		t.Errorf("enqueued %d tasks, want 0", f.queue.count())
	}
	job, _ := f.jobs.FindByID(context.Background(), created.JobID)
	if job.Status != model.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", job.Status)
	}
	if job.FailedFiles != 2 {
		t.Errorf("failed counter = %d, want 2", job.FailedFiles)
	}
}

func TestStartJob_WrongSession(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")

	err := f.svc.StartJob(context.Background(), created.JobID, "other-session", nil)
	if !apperr.IsKind(err, apperr.KindNotFound) {
		t.Fatalf("expected not-found for foreign session, got %v", err)
	}
}

func TestStartJob_AlreadyStarted(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")

	if err := f.svc.StartJob(context.Background(), created.JobID, "session-1", nil); err != nil {
		t.Fatalf("first StartJob: %v", err)
	}
	err := f.svc.StartJob(context.Background(), created.JobID, "session-1", nil)
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error on restart, got %v", err)
	}
	if f.queue.count() != 2 {
		t.Errorf("restart enqueued extra tasks: %d", f.queue.count())
	}
}

func TestGetDownloadURL(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")
	fileID := created.UploadURLs[0].FileID

	// Not ready yet.
	if _, err := f.svc.GetDownloadURL(context.Background(), created.JobID, fileID, "session-1"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for pending file, got %v", err)
	}

	key := "outputs/" + created.JobID + "/cat.webp"
	f.files.MarkCompleted(context.Background(), fileID, key, 512)

	result, err := f.svc.GetDownloadURL(context.Background(), created.JobID, fileID, "session-1")
	if err != nil {
		t.Fatalf("GetDownloadURL: %v", err)
	}
	if result.URL != "https://storage.test/download/"+key {
		t.Errorf("unexpected url %q", result.URL)
	}
	if result.FileName != "cat.webp" {
		t.Errorf("file name = %q, want cat.webp", result.FileName)
	}
}

func TestGetStatus(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")

	status, err := f.svc.GetStatus(context.Background(), created.JobID, "session-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Job.ID != created.JobID || len(status.Files) != 2 {
		t.Errorf("unexpected status payload: job %s, %d files", status.Job.ID, len(status.Files))
	}

	if _, err := f.svc.GetStatus(context.Background(), "no-such-job", "session-1"); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestWriteArchive(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")

	// Settle both files and the job.
	for i, slot := range created.UploadURLs {
		key := "outputs/" + created.JobID + "/file" + string(rune('a'+i)) + ".webp"
		f.storage.Upload(context.Background(), key, strings.NewReader("converted-"+slot.FileID), "image/webp")
		f.files.MarkCompleted(context.Background(), slot.FileID, key, 10)
	}
	f.jobs.UpdateStatus(context.Background(), created.JobID, model.JobStatusCompleted)

	job, files, err := f.svc.PrepareArchive(context.Background(), created.JobID, "session-1")
	if err != nil {
		t.Fatalf("PrepareArchive: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 archive entries, got %d", len(files))
	}

	var buf bytes.Buffer
	if err := f.svc.WriteArchive(context.Background(), job, files, &buf); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive holds %d entries, want 2", len(zr.File))
	}
	names := map[string]bool{}
	for _, entry := range zr.File {
		names[entry.Name] = true
	}
	if !names["cat.webp"] || !names["dog.webp"] {
		t.Errorf("unexpected entry names %v", names)
	}
}

func TestPrepareArchive_RejectsUnfinishedJob(t *testing.T) {
	f := newJobServiceFixture()
	created := createAndUpload(t, f, "session-1")

	_, _, err := f.svc.PrepareArchive(context.Background(), created.JobID, "session-1")
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for pending job, got %v", err)
	}
}
