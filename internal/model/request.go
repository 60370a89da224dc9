package model

import "time"

// FileDescriptor is one entry of a job submission. The client declares the
// file; the bytes travel directly to storage via the presigned URL.
type FileDescriptor struct {
	Name string `json:"name" validate:"required,min=1,max=255"`
	Size int64  `json:"size" validate:"required,gt=0"`
	Type string `json:"type" validate:"required,min=1"`
}

// CreateJobRequest is the body of POST /api/jobs.
type CreateJobRequest struct {
	Files         []FileDescriptor `json:"files" validate:"required,min=1,dive"`
	OutputFormat  string           `json:"outputFormat" validate:"required"`
	Quality       *int             `json:"quality,omitempty" validate:"omitempty,min=1,max=100"`
	Lossless      bool             `json:"lossless,omitempty"`
	Width         *int             `json:"width,omitempty" validate:"omitempty,min=1,max=10000"`
	Height        *int             `json:"height,omitempty" validate:"omitempty,min=1,max=10000"`
	ResizePercent *int             `json:"resizePercent,omitempty" validate:"omitempty,min=1,max=100"`
}

// UploadSlot pairs a created JobFile with its presigned upload URL.
type UploadSlot struct {
	FileID    string `json:"fileId"`
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

// CreateJobResponse is returned from POST /api/jobs.
type CreateJobResponse struct {
	JobID      string       `json:"jobId"`
	UploadURLs []UploadSlot `json:"uploadUrls"`
	ExpiresAt  time.Time    `json:"expiresAt"`
}

// StartJobRequest is the optional body of POST /api/jobs/:id/start.
// ExcludeFileIDs lists files whose client-side upload failed.
type StartJobRequest struct {
	ExcludeFileIDs []string `json:"excludeFileIds,omitempty"`
}

// JobStatusResponse is returned from GET /api/jobs/:id.
type JobStatusResponse struct {
	Job   *Job       `json:"job"`
	Files []*JobFile `json:"files"`
}

// DownloadResponse is returned from GET /api/jobs/:id/download/:fileId.
type DownloadResponse struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

// LimitsResponse is returned from GET /api/limits.
type LimitsResponse struct {
	Used                 int   `json:"used"`
	MaxConversionsPerDay int   `json:"maxConversionsPerDay"`
	MaxFileSize          int64 `json:"maxFileSize"`
	MaxFilesPerJob       int   `json:"maxFilesPerJob"`
}

// ConversionEvent is the fire-and-forget analytics record written after a
// successful conversion.
type ConversionEvent struct {
	InputFormat    string  `json:"inputFormat"`
	OutputFormat   string  `json:"outputFormat"`
	InputSize      int64   `json:"inputSize"`
	OutputSize     int64   `json:"outputSize"`
	SavingsPercent float64 `json:"savingsPercent"`
	DurationMs     int64   `json:"durationMs"`
	Quality        int     `json:"quality"`
}

// StatsResponse aggregates conversion_events for the admin endpoint.
type StatsResponse struct {
	TotalConversions  int64            `json:"totalConversions"`
	TotalInputBytes   int64            `json:"totalInputBytes"`
	TotalOutputBytes  int64            `json:"totalOutputBytes"`
	AvgSavingsPercent float64          `json:"avgSavingsPercent"`
	ByOutputFormat    map[string]int64 `json:"byOutputFormat"`
}
