package model

import "testing"

func TestParseOutputFormat(t *testing.T) {
	for _, valid := range []string{"webp", "jpg", "png", "avif", "WEBP", "Jpg"} {
		if _, err := ParseOutputFormat(valid); err != nil {
			t.Errorf("ParseOutputFormat(%q) failed: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "gif", "jpeg ", "tiff"} {
		if _, err := ParseOutputFormat(invalid); err == nil {
			t.Errorf("ParseOutputFormat(%q) should fail", invalid)
		}
	}
}

func TestOutputFormatSupportsAlpha(t *testing.T) {
	if !FormatWebP.SupportsAlpha() || !FormatPNG.SupportsAlpha() {
		t.Error("webp and png must carry alpha")
	}
	if FormatJPG.SupportsAlpha() || FormatAVIF.SupportsAlpha() {
		t.Error("jpg and avif must not carry alpha")
	}
}

func TestInputFormatFromMIME(t *testing.T) {
	tests := map[string]string{
		"image/png":  "png",
		"image/jpeg": "jpg",
		"image/webp": "webp",
		"image/gif":  "",
		"text/plain": "",
	}
	for mime, want := range tests {
		if got := InputFormatFromMIME(mime); got != want {
			t.Errorf("InputFormatFromMIME(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestReplaceExtension(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"photo.png", "photo.webp"},
		{"archive.tar.png", "archive.tar.webp"},
		{"noextension", "noextension.webp"},
		{"trailing.", "trailing.webp"},
	}
	for _, tt := range tests {
		if got := ReplaceExtension(tt.in, FormatWebP); got != tt.want {
			t.Errorf("ReplaceExtension(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStorageKeys(t *testing.T) {
	if got := InputKey("job-1", "cat.png"); got != "inputs/job-1/cat.png" {
		t.Errorf("InputKey = %q", got)
	}
	if got := OutputKey("job-1", "cat.png", FormatAVIF); got != "outputs/job-1/cat.avif" {
		t.Errorf("OutputKey = %q", got)
	}
}

func TestJobDone(t *testing.T) {
	job := &Job{TotalFiles: 3, CompletedFiles: 2, FailedFiles: 0}
	if job.Done() {
		t.Error("job with pending files reported done")
	}
	job.FailedFiles = 1
	if !job.Done() {
		t.Error("job with all files settled reported not done")
	}
}
