package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/surajmurari02/ocr-card/model"
	"github.com/surajmurari02/ocr-card/pkg/logger"
)

const (
	MaxImageDimension = 10000
	// MaxImagePixels caps width*height; a decoded RGBA frame costs 4 bytes per pixel.
	MaxImagePixels = 25_000_000
	ProcessedFilename = "business_card.jpg"

	jpegQuality = 85
	darkMean    = 100
	brightMean  = 200
)

// ImageProcessor verifies that an upload really is an image and, when
// enabled, re-encodes it as a brightness-corrected JPEG for the OCR provider.
type ImageProcessor struct {
	enabled bool
}

func NewImageProcessor(enabled bool) *ImageProcessor {
	return &ImageProcessor{enabled: enabled}
}

// Prepare returns the candidate to submit. With preprocessing disabled the
// original bytes are passed through after the decode check.
func (p *ImageProcessor) Prepare(ctx context.Context, c *model.UploadCandidate) (*model.UploadCandidate, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(c.Data))
	if err != nil {
		return nil, model.NewScanError(model.CategoryValidation, model.ErrInvalidImage, "File is not a valid image", err)
	}
	if cfg.Width > MaxImageDimension || cfg.Height > MaxImageDimension || cfg.Width*cfg.Height > MaxImagePixels {
		return nil, model.ValidationError(model.ErrDimensionsTooLarge, "Image dimensions too large")
	}

	if !p.enabled {
		return c, nil
	}

	img, _, err := image.Decode(bytes.NewReader(c.Data))
	if err != nil {
		return nil, model.NewScanError(model.CategoryValidation, model.ErrInvalidImage, "File is not a valid image", err)
	}

	rgba := flatten(img)
	mean := meanLuminance(rgba)
	adjustment := "none"
	switch {
	case mean < darkMean:
		scaleAbs(rgba, 1.2, 20)
		adjustment = "brighten"
	case mean > brightMean:
		scaleAbs(rgba, 0.8, -10)
		adjustment = "darken"
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	logger.Debug(ctx, "image.preprocess",
		"format", format,
		"width", cfg.Width,
		"height", cfg.Height,
		"mean_luminance", math.Round(mean*10)/10,
		"adjustment", adjustment,
		"in_bytes", len(c.Data),
		"out_bytes", buf.Len(),
	)

	return &model.UploadCandidate{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Size:        int64(buf.Len()),
		Filename:    ProcessedFilename,
	}, nil
}

// flatten composites img over white into an 8-bit RGBA buffer. An opaque
// RGBA image is used in place.
func flatten(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Opaque() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

func meanLuminance(img *image.RGBA) float64 {
	n := len(img.Pix) / 4
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(img.Pix); i += 4 {
		sum += 0.299*float64(img.Pix[i]) + 0.587*float64(img.Pix[i+1]) + 0.114*float64(img.Pix[i+2])
	}
	return sum / float64(n)
}

// scaleAbs maps every colour channel through |alpha*v + beta|, saturated to a byte.
func scaleAbs(img *image.RGBA, alpha, beta float64) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := math.Abs(alpha*float64(img.Pix[i+c]) + beta)
			if v > 255 {
				v = 255
			}
			img.Pix[i+c] = uint8(math.Round(v))
		}
	}
}
