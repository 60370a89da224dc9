// Package convert is the pure conversion engine: bytes in, bytes out. It has
// no knowledge of jobs, storage or queues.
package convert

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/Kagami/go-avif"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // webp decode registration for image.Decode

	"github.com/vectaconvert/api/internal/apperr"
	"github.com/vectaconvert/api/internal/model"
)

const (
	DefaultQuality    = 82
	DefaultBackground = "#FFFFFF"
	WarningAlphaDrop  = "alphaDropped"
)

// Options controls a single conversion. Zero resize fields mean no resize.
type Options struct {
	Format        model.OutputFormat
	Quality       int
	Lossless      bool
	StripMetadata bool
	Background    string
	ResizeWidth   int
	ResizeHeight  int
	ResizePercent int
	AVIFSpeed     int
}

// Result carries the encoded bytes and the metadata reported back to the
// job store.
type Result struct {
	Data       []byte
	InputSize  int64
	OutputSize int64
	Width      int
	Height     int
	MIME       string
	Warnings   []string
}

// Image converts one image. Deterministic: identical input bytes and options
// produce identical output bytes.
//
// Metadata note: decoding and re-encoding through the stdlib image registry
// never carries EXIF/ICC payloads over, so StripMetadata is honored whether
// or not it is set; the flag exists for API symmetry.
func Image(input []byte, opts Options) (*Result, error) {
	img, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, apperr.Conversion("invalid image data", err)
	}

	if opts.Quality < 1 || opts.Quality > 100 {
		opts.Quality = DefaultQuality
	}

	hasAlpha := !isOpaque(img)

	if w, h, ok := targetSize(img.Bounds().Dx(), img.Bounds().Dy(), opts); ok {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var warnings []string
	if hasAlpha && !opts.Format.SupportsAlpha() {
		img = flatten(img, opts.Background)
		warnings = append(warnings, WarningAlphaDrop)
	}

	data, err := encode(img, opts)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &Result{
		Data:       data,
		InputSize:  int64(len(input)),
		OutputSize: int64(len(data)),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		MIME:       opts.Format.MIME(),
		Warnings:   warnings,
	}, nil
}

// targetSize computes the resized dimensions. Percent scales both axes,
// rounding to nearest; width/height fit within the bounds preserving aspect
// ratio. Neither mode ever enlarges.
func targetSize(w, h int, opts Options) (int, int, bool) {
	if opts.ResizePercent > 0 {
		if opts.ResizePercent >= 100 {
			return 0, 0, false
		}
		p := float64(opts.ResizePercent) / 100
		nw := int(math.Round(float64(w) * p))
		nh := int(math.Round(float64(h) * p))
		if nw < 1 {
			nw = 1
		}
		if nh < 1 {
			nh = 1
		}
		return nw, nh, true
	}

	if opts.ResizeWidth <= 0 && opts.ResizeHeight <= 0 {
		return 0, 0, false
	}

	scale := 1.0
	if opts.ResizeWidth > 0 {
		scale = math.Min(scale, float64(opts.ResizeWidth)/float64(w))
	}
	if opts.ResizeHeight > 0 {
		scale = math.Min(scale, float64(opts.ResizeHeight)/float64(h))
	}
	if scale >= 1 {
		return 0, 0, false
	}

	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh, true
}

// flatten composites the image over a solid background, dropping alpha.
func flatten(img image.Image, background string) image.Image {
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), parseHexColor(background))
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func parseHexColor(hex string) color.NRGBA {
	c := color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return c
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return c
	}
	return color.NRGBA{R: r, G: g, B: b, A: 0xFF}
}

// encode is the single dispatch point over the output format enum.
func encode(img image.Image, opts Options) ([]byte, error) {
	buf := new(bytes.Buffer)
	var err error

	switch opts.Format {
	case model.FormatWebP:
		err = webp.Encode(buf, img, &webp.Options{
			Lossless: opts.Lossless,
			Quality:  float32(opts.Quality),
		})
	case model.FormatJPG:
		err = jpeg.Encode(buf, img, &jpeg.Options{Quality: opts.Quality})
	case model.FormatPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(buf, img)
	case model.FormatAVIF:
		speed := opts.AVIFSpeed
		if speed < avif.MinSpeed || speed > avif.MaxSpeed {
			speed = 6
		}
		// go-avif quality is an inverted 0..63 quantizer scale.
		quantizer := (100 - opts.Quality) * avif.MaxQuality / 100
		err = avif.Encode(buf, img, &avif.Options{
			Quality: quantizer,
			Speed:   speed,
		})
	default:
		return nil, apperr.Conversion(fmt.Sprintf("unsupported output format %q", opts.Format), nil)
	}

	if err != nil {
		return nil, apperr.Conversion(fmt.Sprintf("%s encode failed", opts.Format), err)
	}
	return buf.Bytes(), nil
}

// isOpaque reports whether the image has no translucent pixel. All stdlib
// and imaging image types implement Opaque.
func isOpaque(img image.Image) bool {
	type opaquer interface{ Opaque() bool }
	if o, ok := img.(opaquer); ok {
		return o.Opaque()
	}
	return true
}
