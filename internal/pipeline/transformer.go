package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dunamismax/pixelmask/internal/domain"
)

const (
	// OutputQuality is used for every JPEG the pipeline encodes.
	OutputQuality = 90

	FormatJPEG = "jpeg"
	FormatPNG  = "png"

	// DefaultMaxPixels matches libvips' default input limit of 0x3FFF x 0x3FFF.
	DefaultMaxPixels int64 = 0x3FFF * 0x3FFF
)

var (
	ErrInvalidDimensions = errors.New("image has invalid dimensions")
	ErrTooManyPixels     = errors.New("image exceeds pixel limit")
)

// Encoded is an encoded image plus the pixel size it decodes to.
type Encoded struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Transformer is the raster backend behind the pipeline stages. Inputs and
// outputs are encoded buffers so each stage owns exactly one image.
type Transformer interface {
	Obscure(ctx context.Context, input []byte, opts domain.ObscureOptions) (Encoded, error)
	PrepareLogo(ctx context.Context, logo []byte, mark domain.CompositeSpec) (Encoded, error)
	Composite(ctx context.Context, base, logo []byte) (Encoded, error)
}

// checkPixels rejects images whose decoded raster would exceed limit.
func checkPixels(width, height int, limit int64) error {
	if width <= 0 || height <= 0 {
		return ErrInvalidDimensions
	}
	if limit <= 0 {
		limit = DefaultMaxPixels
	}
	if int64(width)*int64(height) > limit {
		return fmt.Errorf("%w: %dx%d is more than %d pixels", ErrTooManyPixels, width, height, limit)
	}
	return nil
}

func contentTypeForFormat(format string) string {
	switch format {
	case FormatPNG:
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// mosaicSize is the grid both pixelation passes go through.
func mosaicSize(width, height, block int) (int, int) {
	if block < 1 {
		block = 1
	}
	w := int(math.Round(float64(width) / float64(block)))
	h := int(math.Round(float64(height) / float64(block)))
	return max(1, w), max(1, h)
}

// fitInside returns the largest size with the source aspect ratio that fits
// in a box x box square without growing past the source.
func fitInside(width, height, box int) (int, int) {
	if width <= box && height <= box {
		return width, height
	}
	ratio := math.Min(float64(box)/float64(width), float64(box)/float64(height))
	w := int(math.Round(float64(width) * ratio))
	h := int(math.Round(float64(height) * ratio))
	return max(1, w), max(1, h)
}

// centerOffset positions an inner box in the middle of an outer one.
func centerOffset(outerW, outerH, innerW, innerH int) (int, int) {
	return (outerW - innerW) / 2, (outerH - innerH) / 2
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
