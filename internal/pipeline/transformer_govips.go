//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/pixelmask/internal/domain"
)

type govipsTransformer struct {
	maxPixels int64
}

func (t govipsTransformer) Obscure(ctx context.Context, input []byte, opts domain.ObscureOptions) (Encoded, error) {
	if err := checkContext(ctx); err != nil {
		return Encoded{}, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()
	if err := checkPixels(img.Width(), img.Height(), t.maxPixels); err != nil {
		return Encoded{}, fmt.Errorf("decode source image: %w", err)
	}

	if err := img.AutoRotate(); err != nil {
		return Encoded{}, fmt.Errorf("auto-rotate source image: %w", err)
	}

	switch opts.Variant {
	case domain.VariantPixelate:
		err = pixelateGovips(img, opts.Block)
	case domain.VariantPassthrough:
	default:
		if err = img.GaussianBlur(math.Max(domain.MinSigma, opts.Sigma)); err != nil {
			err = fmt.Errorf("blur image: %w", err)
		}
	}
	if err != nil {
		return Encoded{}, err
	}

	return exportGovipsImage(img, FormatJPEG)
}

func (t govipsTransformer) PrepareLogo(ctx context.Context, input []byte, mark domain.CompositeSpec) (Encoded, error) {
	if err := checkContext(ctx); err != nil {
		return Encoded{}, err
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode logo: %w", err)
	}
	defer img.Close()
	if err := checkPixels(img.Width(), img.Height(), t.maxPixels); err != nil {
		return Encoded{}, fmt.Errorf("decode logo: %w", err)
	}

	w, h := fitInside(img.Width(), img.Height(), mark.TargetSize)
	if w != img.Width() || h != img.Height() {
		hScale := float64(w) / float64(img.Width())
		vScale := float64(h) / float64(img.Height())
		if err := img.ResizeWithVScale(hScale, vScale, vips.KernelLanczos3); err != nil {
			return Encoded{}, fmt.Errorf("resize logo: %w", err)
		}
	}

	if err := img.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return Encoded{}, fmt.Errorf("convert logo to srgb: %w", err)
	}
	if !img.HasAlpha() {
		if err := img.AddAlpha(); err != nil {
			return Encoded{}, fmt.Errorf("add logo alpha: %w", err)
		}
	}

	opacity := math.Min(math.Max(mark.Opacity, 0), 1)
	if opacity < 1 {
		if err := img.Linear([]float64{1, 1, 1, opacity}, []float64{0, 0, 0, 0}); err != nil {
			return Encoded{}, fmt.Errorf("scale logo alpha: %w", err)
		}
		if err := img.Cast(vips.BandFormatUchar); err != nil {
			return Encoded{}, fmt.Errorf("cast logo: %w", err)
		}
	}

	return exportGovipsImage(img, FormatPNG)
}

func (t govipsTransformer) Composite(ctx context.Context, base, logo []byte) (Encoded, error) {
	if err := checkContext(ctx); err != nil {
		return Encoded{}, err
	}

	baseImg, err := vips.NewImageFromBuffer(base)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode base image: %w", err)
	}
	defer baseImg.Close()
	if err := checkPixels(baseImg.Width(), baseImg.Height(), t.maxPixels); err != nil {
		return Encoded{}, fmt.Errorf("decode base image: %w", err)
	}

	logoImg, err := vips.NewImageFromBuffer(logo)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode prepared logo: %w", err)
	}
	defer logoImg.Close()
	if err := checkPixels(logoImg.Width(), logoImg.Height(), t.maxPixels); err != nil {
		return Encoded{}, fmt.Errorf("decode prepared logo: %w", err)
	}

	x, y := centerOffset(baseImg.Width(), baseImg.Height(), logoImg.Width(), logoImg.Height())
	if err := baseImg.Composite(logoImg, vips.BlendModeOver, x, y); err != nil {
		return Encoded{}, fmt.Errorf("composite logo: %w", err)
	}

	return exportGovipsImage(baseImg, FormatJPEG)
}

func pixelateGovips(img *vips.ImageRef, block int) error {
	width, height := img.Width(), img.Height()
	if width <= 0 || height <= 0 {
		return ErrInvalidDimensions
	}

	w, h := mosaicSize(width, height, block)
	if err := img.ResizeWithVScale(float64(w)/float64(width), float64(h)/float64(height), vips.KernelNearest); err != nil {
		return fmt.Errorf("pixelate downsample: %w", err)
	}
	if err := img.ResizeWithVScale(float64(width)/float64(img.Width()), float64(height)/float64(img.Height()), vips.KernelNearest); err != nil {
		return fmt.Errorf("pixelate upsample: %w", err)
	}
	return nil
}

func exportGovipsImage(img *vips.ImageRef, format string) (Encoded, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatJPEG:
		params := vips.NewJpegExportParams()
		params.Quality = OutputQuality
		data, _, err = img.ExportJpeg(params)
		if err != nil {
			return Encoded{}, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		data, _, err = img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return Encoded{}, fmt.Errorf("encode png: %w", err)
		}
	default:
		return Encoded{}, fmt.Errorf("unsupported output format: %s", format)
	}

	return Encoded{
		Data:   data,
		Format: format,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}
