package model

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus tracks the batch lifecycle. A job leaves "pending" only through
// StartJob, and reaches "completed" only through the worker's counter
// resolution. "failed" doubles as the expired terminal state set by the reaper.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// FileStatus tracks a single file within a job.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
)

// Job is one user-submitted batch conversion request.
// Invariant: CompletedFiles+FailedFiles <= TotalFiles; the counters are
// mutated only through atomic increments in the repository.
type Job struct {
	ID             string       `json:"id"`
	SessionToken   string       `json:"-"`
	OutputFormat   OutputFormat `json:"outputFormat"`
	Quality        int          `json:"quality"`
	Lossless       bool         `json:"lossless,omitempty"`
	ResizeWidth    *int         `json:"resizeWidth,omitempty"`
	ResizeHeight   *int         `json:"resizeHeight,omitempty"`
	ResizePercent  *int         `json:"resizePercent,omitempty"`
	TotalFiles     int          `json:"totalFiles"`
	CompletedFiles int          `json:"completedFiles"`
	FailedFiles    int          `json:"failedFiles"`
	Status         JobStatus    `json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	ExpiresAt      time.Time    `json:"expiresAt"`
}

// Done reports whether every file has reached a terminal state.
func (j *Job) Done() bool {
	return j.CompletedFiles+j.FailedFiles >= j.TotalFiles
}

// JobFile is one input/output pair within a job.
type JobFile struct {
	ID             string     `json:"id"`
	JobID          string     `json:"jobId"`
	OriginalName   string     `json:"originalName"`
	OriginalKey    string     `json:"-"`
	OriginalSize   int64      `json:"originalSize"`
	OriginalFormat string     `json:"originalFormat"`
	Status         FileStatus `json:"status"`
	ConvertedKey   string     `json:"-"`
	ConvertedSize  int64      `json:"convertedSize,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// ConversionOptions travels inside the queue payload.
type ConversionOptions struct {
	Quality       int  `json:"quality"`
	Lossless      bool `json:"lossless,omitempty"`
	ResizeWidth   int  `json:"resizeWidth,omitempty"`
	ResizeHeight  int  `json:"resizeHeight,omitempty"`
	ResizePercent int  `json:"resizePercent,omitempty"`
}

// ConversionTaskPayload is the queue message for converting one file.
type ConversionTaskPayload struct {
	JobID        string            `json:"jobId"`
	FileID       string            `json:"fileId"`
	InputKey     string            `json:"inputKey"`
	OutputFormat OutputFormat      `json:"outputFormat"`
	Options      ConversionOptions `json:"options"`
}

// InputKey builds the storage key a client uploads to.
func InputKey(jobID, fileName string) string {
	return fmt.Sprintf("inputs/%s/%s", jobID, fileName)
}

// OutputKey builds the storage key a converted file is written to.
func OutputKey(jobID, originalName string, format OutputFormat) string {
	return fmt.Sprintf("outputs/%s/%s", jobID, ReplaceExtension(originalName, format))
}

// ReplaceExtension swaps a file name's extension for the output format's.
// Names without an extension keep their full name as the base.
func ReplaceExtension(fileName string, format OutputFormat) string {
	base := fileName
	if dot := strings.LastIndex(fileName, "."); dot > 0 {
		base = fileName[:dot]
	}
	return base + "." + string(format)
}
