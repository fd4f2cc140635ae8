package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelmask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessorWatermarksSource(t *testing.T) {
	logoPath := writeLogo(t, 400, 200)
	source := &countingFetcher{data: encodePNG(t, gradientImage(1000, 800))}
	observer := &recordingObserver{}

	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: logoPath}}, WithObserver(observer))
	require.NoError(t, err)

	tests := []struct {
		name    string
		variant domain.Variant
	}{
		{name: "blur", variant: domain.VariantBlur},
		{name: "pixelate", variant: domain.VariantPixelate},
		{name: "passthrough", variant: domain.VariantPassthrough},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			params := domain.Params{
				URL:     "https://images.example.com/photo.png",
				Variant: tc.variant,
				Sigma:   30,
				Block:   50,
				Opacity: 0.1,
				Scale:   0.4,
			}

			result, err := processor.Process(context.Background(), Request{RequestID: "req-1", Params: params})
			require.NoError(t, err)

			assert.Equal(t, "image/jpeg", result.ContentType)
			assert.Equal(t, 1000, result.Width)
			assert.Equal(t, 800, result.Height)
			assert.Equal(t, 320, result.LogoWidth, "logo fits inside round(800*0.4)")
			assert.Equal(t, 160, result.LogoHeight)
			assert.Equal(t, len(source.data), result.SourceBytes)

			decoded, err := imaging.Decode(bytes.NewReader(result.Data))
			require.NoError(t, err)
			assert.Equal(t, 1000, decoded.Bounds().Dx())
			assert.Equal(t, 800, decoded.Bounds().Dy())
		})
	}

	assert.Equal(t, []string{
		StageFetchSource, StageObscure, StageResolveLogo, StagePrepareLogo, StageComposite,
	}, observer.stages[:5])
}

func TestProcessorRejectsInvalidURLWithoutFetching(t *testing.T) {
	source := &countingFetcher{}
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: "unused.png"}})
	require.NoError(t, err)

	for _, raw := range []string{"", "ftp://example.com/a.png", "example.com/a.png"} {
		_, err := processor.Process(context.Background(), Request{Params: domain.Params{URL: raw}})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrBadRequest)
	}
	assert.Zero(t, source.calls)
}

func TestProcessorWrapsDecodeFailure(t *testing.T) {
	source := &countingFetcher{data: []byte("not an image")}
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: "unused.png"}})
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{Params: validParams()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProcessing)

	var procErr *domain.ProcessingError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, StageObscure, procErr.Stage)
}

func TestProcessorEnforcesPixelLimit(t *testing.T) {
	source := &countingFetcher{data: encodePNG(t, gradientImage(64, 64))}
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: "unused.png"}}, WithMaxPixels(50*50))
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{Params: validParams()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProcessing)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	var procErr *domain.ProcessingError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, StageObscure, procErr.Stage)
}

func TestProcessorMissingLogoAsset(t *testing.T) {
	source := &countingFetcher{data: encodePNG(t, gradientImage(64, 64))}
	missing := filepath.Join(t.TempDir(), "nope.png")
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: missing}})
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{Params: validParams()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAssetMissing)
}

func TestProcessorPropagatesSourceFetchError(t *testing.T) {
	fetchErr := &domain.FetchError{Resource: domain.ResourceSource, URL: "https://x", StatusCode: 404}
	source := &countingFetcher{err: fetchErr}
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: "unused.png"}})
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{Params: validParams()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFetch)
}

func TestProcessorLogoDecodeFailure(t *testing.T) {
	dir := t.TempDir()
	logoPath := filepath.Join(dir, "logo.png")
	require.NoError(t, os.WriteFile(logoPath, []byte("garbage"), 0o644))

	source := &countingFetcher{data: encodePNG(t, gradientImage(64, 64))}
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: logoPath}})
	require.NoError(t, err)

	_, err = processor.Process(context.Background(), Request{Params: validParams()})
	var procErr *domain.ProcessingError
	require.True(t, errors.As(err, &procErr))
	assert.Equal(t, StagePrepareLogo, procErr.Stage)
}

func TestProcessorSmallBaseUsesMinimumLogoSize(t *testing.T) {
	logoPath := writeLogo(t, 200, 200)
	source := &countingFetcher{data: encodePNG(t, gradientImage(40, 30))}
	processor, err := NewProcessor(source, LogoSources{Default: FileAsset{Path: logoPath}})
	require.NoError(t, err)

	params := validParams()
	params.Scale = domain.MinScale
	result, err := processor.Process(context.Background(), Request{Params: params})
	require.NoError(t, err)
	assert.Equal(t, domain.MinLogoSize, result.LogoWidth)
	assert.Equal(t, domain.MinLogoSize, result.LogoHeight)
}

func TestNewProcessorRequiresCollaborators(t *testing.T) {
	_, err := NewProcessor(nil, LogoSources{})
	require.Error(t, err)

	_, err = NewProcessor(&countingFetcher{}, nil)
	require.Error(t, err)
}

func validParams() domain.Params {
	return domain.Params{
		URL:     "https://images.example.com/photo.png",
		Variant: domain.VariantBlur,
		Sigma:   domain.DefaultSigma,
		Block:   domain.DefaultBlock,
		Opacity: domain.DefaultOpacity,
		Scale:   domain.DefaultScale,
	}
}

func writeLogo(t *testing.T, w, h int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "logo.png")
	logo := imaging.New(w, h, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	if err := os.WriteFile(path, encodePNG(t, logo), 0o644); err != nil {
		t.Fatalf("write logo: %v", err)
	}
	return path
}

type countingFetcher struct {
	mu    sync.Mutex
	calls int
	data  []byte
	err   error
}

func (f *countingFetcher) FetchImage(_ context.Context, _ string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []string
}

func (o *recordingObserver) ObserveStage(stage string, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}
