package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelmask/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// imagingTransformer is the pure-Go backend. A zero maxPixels means
// DefaultMaxPixels.
type imagingTransformer struct {
	maxPixels int64
}

func (t imagingTransformer) Obscure(ctx context.Context, input []byte, opts domain.ObscureOptions) (Encoded, error) {
	if err := checkContext(ctx); err != nil {
		return Encoded{}, err
	}

	src, err := decodeImage(input, t.maxPixels)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode source image: %w", err)
	}

	var out image.Image
	switch opts.Variant {
	case domain.VariantPixelate:
		out = pixelate(src, opts.Block)
	case domain.VariantPassthrough:
		out = src
	default:
		out = imaging.Blur(src, math.Max(domain.MinSigma, opts.Sigma))
	}

	return encodeImage(out, FormatJPEG)
}

func (t imagingTransformer) PrepareLogo(ctx context.Context, input []byte, mark domain.CompositeSpec) (Encoded, error) {
	if err := checkContext(ctx); err != nil {
		return Encoded{}, err
	}

	logo, err := decodeImage(input, t.maxPixels)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode logo: %w", err)
	}

	prepared, err := prepareLogo(logo, mark)
	if err != nil {
		return Encoded{}, err
	}
	return encodeImage(prepared, FormatPNG)
}

func (t imagingTransformer) Composite(ctx context.Context, base, logo []byte) (Encoded, error) {
	if err := checkContext(ctx); err != nil {
		return Encoded{}, err
	}

	baseImg, err := decodeImage(base, t.maxPixels)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode base image: %w", err)
	}
	logoImg, err := decodeImage(logo, t.maxPixels)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode prepared logo: %w", err)
	}

	return encodeImage(compositeCenter(baseImg, logoImg), FormatJPEG)
}

// pixelate shrinks to the mosaic grid and grows back with nearest-neighbour
// sampling in both passes so cells stay hard-edged.
func pixelate(src image.Image, block int) *image.NRGBA {
	bounds := src.Bounds()
	w, h := mosaicSize(bounds.Dx(), bounds.Dy(), block)
	small := imaging.Resize(src, w, h, imaging.NearestNeighbor)
	return imaging.Resize(small, bounds.Dx(), bounds.Dy(), imaging.NearestNeighbor)
}

func prepareLogo(logo image.Image, mark domain.CompositeSpec) (*image.NRGBA, error) {
	bounds := logo.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}

	var fitted *image.NRGBA
	w, h := fitInside(bounds.Dx(), bounds.Dy(), mark.TargetSize)
	if w == bounds.Dx() && h == bounds.Dy() {
		fitted = imaging.Clone(logo)
	} else {
		fitted = imaging.Resize(logo, w, h, imaging.Lanczos)
	}

	scaleAlpha(fitted, mark.Opacity)
	return fitted, nil
}

// scaleAlpha multiplies every alpha sample by opacity. NRGBA colour samples
// are not premultiplied, so they are left alone.
func scaleAlpha(img *image.NRGBA, opacity float64) {
	opacity = math.Min(math.Max(opacity, 0), 1)
	if opacity == 1 {
		return
	}

	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		row := img.PixOffset(bounds.Min.X, y)
		for x := 0; x < bounds.Dx(); x++ {
			i := row + x*4 + 3
			img.Pix[i] = uint8(math.Round(float64(img.Pix[i]) * opacity))
		}
	}
}

// compositeCenter draws logo over base with plain source-over. Opacity is
// already baked into the logo alpha.
func compositeCenter(base, logo image.Image) *image.NRGBA {
	bb := base.Bounds()
	lb := logo.Bounds()
	x, y := centerOffset(bb.Dx(), bb.Dy(), lb.Dx(), lb.Dy())
	return imaging.Overlay(base, logo, image.Pt(x, y), 1.0)
}

// decodeImage reads the header first so oversized rasters are refused before
// any pixel memory is allocated.
func decodeImage(data []byte, maxPixels int64) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, ErrInvalidDimensions
	}
	return img, nil
}

func encodeImage(img image.Image, format string) (Encoded, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(OutputQuality)); err != nil {
			return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return Encoded{}, fmt.Errorf("encode png: %w", err)
		}
	default:
		return Encoded{}, fmt.Errorf("unsupported output format: %s", format)
	}

	bounds := img.Bounds()
	return Encoded{
		Data:   buf.Bytes(),
		Format: format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
