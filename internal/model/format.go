package model

import (
	"fmt"
	"strings"
)

// OutputFormat is the closed set of encodable target formats.
type OutputFormat string

const (
	FormatWebP OutputFormat = "webp"
	FormatJPG  OutputFormat = "jpg"
	FormatPNG  OutputFormat = "png"
	FormatAVIF OutputFormat = "avif"
)

var ValidOutputFormats = []OutputFormat{FormatWebP, FormatJPG, FormatPNG, FormatAVIF}

// ParseOutputFormat validates a requested format against the allow-list,
// case-insensitively.
func ParseOutputFormat(s string) (OutputFormat, error) {
	lower := strings.ToLower(s)
	for _, f := range ValidOutputFormats {
		if string(f) == lower {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// MIME returns the content type written alongside converted objects.
func (f OutputFormat) MIME() string {
	switch f {
	case FormatWebP:
		return "image/webp"
	case FormatJPG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatAVIF:
		return "image/avif"
	}
	return "application/octet-stream"
}

// SupportsAlpha reports whether the encoded format keeps an alpha channel.
// Sources with alpha are flattened onto a background before encoding to
// formats that return false here.
func (f OutputFormat) SupportsAlpha() bool {
	switch f {
	case FormatJPG, FormatAVIF:
		return false
	}
	return true
}

// InputFormatFromMIME maps an accepted upload content type to its short
// format name, or "" when the type is not accepted.
func InputFormatFromMIME(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	}
	return ""
}
