package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/pixelmask/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelateCellsAndIdempotence(t *testing.T) {
	src := gradientImage(200, 100)

	once := pixelate(src, 25)
	require.Equal(t, 200, once.Bounds().Dx())
	require.Equal(t, 100, once.Bounds().Dy())
	assert.Equal(t, 8*4, countColors(once))

	twice := pixelate(once, 25)
	assert.Equal(t, once.Pix, twice.Pix, "second pass must not shift blocks")
}

func TestPixelateBlockLargerThanImage(t *testing.T) {
	out := pixelate(gradientImage(30, 20), 500)
	assert.Equal(t, 30, out.Bounds().Dx())
	assert.Equal(t, 20, out.Bounds().Dy())
	assert.Equal(t, 1, countColors(out))
}

func TestMosaicSize(t *testing.T) {
	tests := []struct {
		w, h, block  int
		wantW, wantH int
	}{
		{w: 1000, h: 800, block: 50, wantW: 20, wantH: 16},
		{w: 1000, h: 800, block: 25, wantW: 40, wantH: 32},
		{w: 101, h: 99, block: 10, wantW: 10, wantH: 10},
		{w: 10, h: 10, block: 100, wantW: 1, wantH: 1},
		{w: 10, h: 10, block: 0, wantW: 10, wantH: 10},
	}
	for _, tc := range tests {
		w, h := mosaicSize(tc.w, tc.h, tc.block)
		assert.Equal(t, tc.wantW, w)
		assert.Equal(t, tc.wantH, h)
	}
}

func TestPrepareLogoFitsInsideWithoutEnlarging(t *testing.T) {
	tests := []struct {
		name         string
		w, h, target int
		wantW, wantH int
	}{
		{name: "landscape shrinks", w: 400, h: 200, target: 100, wantW: 100, wantH: 50},
		{name: "portrait shrinks", w: 120, h: 480, target: 96, wantW: 24, wantH: 96},
		{name: "small logo kept", w: 50, h: 30, target: 100, wantW: 50, wantH: 30},
		{name: "exact fit kept", w: 64, h: 64, target: 64, wantW: 64, wantH: 64},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logo := imaging.New(tc.w, tc.h, color.NRGBA{R: 200, A: 255})
			out, err := prepareLogo(logo, domain.CompositeSpec{TargetSize: tc.target, Opacity: 1})
			require.NoError(t, err)
			assert.Equal(t, tc.wantW, out.Bounds().Dx())
			assert.Equal(t, tc.wantH, out.Bounds().Dy())
		})
	}
}

func TestPrepareLogoScalesAlpha(t *testing.T) {
	logo := imaging.New(10, 10, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	logo.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 100})

	out, err := prepareLogo(logo, domain.CompositeSpec{TargetSize: 24, Opacity: 0.5})
	require.NoError(t, err)

	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 50}, out.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 128}, out.NRGBAAt(5, 5))
}

func TestPrepareLogoAddsAlphaToOpaqueSource(t *testing.T) {
	logo := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range logo.Pix {
		logo.Pix[i] = 255
	}
	gray := image.NewGray(image.Rect(0, 0, 8, 8))

	for _, src := range []image.Image{logo, gray} {
		out, err := prepareLogo(src, domain.CompositeSpec{TargetSize: 24, Opacity: 0.25})
		require.NoError(t, err)
		assert.Equal(t, uint8(64), out.NRGBAAt(3, 3).A)
	}
}

func TestCompositeOpacityZeroLeavesBaseUntouched(t *testing.T) {
	base := gradientImage(120, 80)
	logo, err := prepareLogo(imaging.New(40, 40, color.NRGBA{R: 255, A: 255}), domain.CompositeSpec{TargetSize: 40, Opacity: 0})
	require.NoError(t, err)

	out := compositeCenter(base, logo)
	assert.Equal(t, base.Pix, out.Pix)
}

func TestCompositeOpacityOneReplacesBase(t *testing.T) {
	base := gradientImage(120, 80)
	red := color.NRGBA{R: 255, A: 255}
	logo, err := prepareLogo(imaging.New(40, 40, red), domain.CompositeSpec{TargetSize: 40, Opacity: 1})
	require.NoError(t, err)

	out := compositeCenter(base, logo)

	for y := 20; y < 60; y++ {
		for x := 40; x < 80; x++ {
			require.Equal(t, red, out.NRGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
	assert.Equal(t, base.NRGBAAt(39, 40), out.NRGBAAt(39, 40))
	assert.Equal(t, base.NRGBAAt(80, 40), out.NRGBAAt(80, 40))
}

func TestCompositeIsSourceOver(t *testing.T) {
	const opacity = 0.4
	base := imaging.New(60, 60, color.NRGBA{R: 20, G: 200, B: 100, A: 255})
	logoColor := color.NRGBA{R: 240, G: 10, B: 50, A: 200}
	logo, err := prepareLogo(imaging.New(20, 20, logoColor), domain.CompositeSpec{TargetSize: 20, Opacity: opacity})
	require.NoError(t, err)

	out := compositeCenter(base, logo)
	got := out.NRGBAAt(30, 30)

	srcAlpha := math.Round(float64(logoColor.A)*opacity) / 255
	want := func(src, dst uint8) float64 {
		return float64(src)*srcAlpha + float64(dst)*(1-srcAlpha)
	}
	assert.InDelta(t, want(logoColor.R, 20), float64(got.R), 1)
	assert.InDelta(t, want(logoColor.G, 200), float64(got.G), 1)
	assert.InDelta(t, want(logoColor.B, 100), float64(got.B), 1)
	assert.Equal(t, uint8(255), got.A)
}

func TestCenterOffset(t *testing.T) {
	x, y := centerOffset(1000, 800, 280, 140)
	assert.Equal(t, 360, x)
	assert.Equal(t, 330, y)
}

func TestImagingObscureKeepsDimensions(t *testing.T) {
	src := encodePNG(t, gradientImage(321, 123))
	transformer := imagingTransformer{}

	for _, variant := range []domain.Variant{domain.VariantBlur, domain.VariantPixelate, domain.VariantPassthrough} {
		t.Run(string(variant), func(t *testing.T) {
			out, err := transformer.Obscure(context.Background(), src, domain.ObscureOptions{Variant: variant, Sigma: 4, Block: 10})
			require.NoError(t, err)
			assert.Equal(t, FormatJPEG, out.Format)
			assert.Equal(t, 321, out.Width)
			assert.Equal(t, 123, out.Height)

			decoded, err := imaging.Decode(bytes.NewReader(out.Data))
			require.NoError(t, err)
			assert.Equal(t, 321, decoded.Bounds().Dx())
			assert.Equal(t, 123, decoded.Bounds().Dy())
		})
	}
}

func TestImagingObscureRejectsGarbage(t *testing.T) {
	_, err := imagingTransformer{}.Obscure(context.Background(), []byte("<html>nope</html>"), domain.ObscureOptions{Variant: domain.VariantBlur, Sigma: 24})
	require.Error(t, err)
}

func TestImagingRejectsOversizedImages(t *testing.T) {
	tests := []struct {
		name      string
		maxPixels int64
		input     []byte
		wantErr   bool
	}{
		{name: "header beyond default limit", input: pngHeader(20000, 20000), wantErr: true},
		{name: "just over default limit", input: pngHeader(0x3FFF, 0x3FFF+1), wantErr: true},
		{name: "over configured limit", maxPixels: 100 * 100, input: encodePNG(t, gradientImage(200, 200)), wantErr: true},
		{name: "at configured limit", maxPixels: 100 * 100, input: encodePNG(t, gradientImage(100, 100))},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transformer := imagingTransformer{maxPixels: tc.maxPixels}

			_, obscureErr := transformer.Obscure(context.Background(), tc.input, domain.ObscureOptions{Variant: domain.VariantBlur, Sigma: 1})
			_, logoErr := transformer.PrepareLogo(context.Background(), tc.input, domain.CompositeSpec{TargetSize: 50, Opacity: 0.5})
			_, compositeErr := transformer.Composite(context.Background(), tc.input, encodePNG(t, gradientImage(10, 10)))

			for _, err := range []error{obscureErr, logoErr, compositeErr} {
				if tc.wantErr {
					assert.ErrorIs(t, err, ErrTooManyPixels)
				} else {
					assert.NoError(t, err)
				}
			}
		})
	}
}

func TestCheckPixels(t *testing.T) {
	assert.NoError(t, checkPixels(0x3FFF, 0x3FFF, 0))
	assert.ErrorIs(t, checkPixels(0x3FFF+1, 0x3FFF, 0), ErrTooManyPixels)
	assert.ErrorIs(t, checkPixels(11, 10, 100), ErrTooManyPixels)
	assert.ErrorIs(t, checkPixels(0, 10, 100), ErrInvalidDimensions)
}

func TestImagingObscureHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := imagingTransformer{}.Obscure(ctx, encodePNG(t, gradientImage(10, 10)), domain.ObscureOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImagingPrepareLogoEncodesPNG(t *testing.T) {
	out, err := imagingTransformer{}.PrepareLogo(context.Background(), encodePNG(t, gradientImage(300, 150)), domain.CompositeSpec{TargetSize: 60, Opacity: 0.3})
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, out.Format)
	assert.Equal(t, 60, out.Width)
	assert.Equal(t, 30, out.Height)

	decoded, err := png.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	_, _, _, a := decoded.At(10, 10).RGBA()
	assert.InDelta(t, 0.3*0xffff, float64(a), 0xff)
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x % 256),
				G: uint8(y % 256),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func countColors(img *image.NRGBA) int {
	seen := make(map[color.NRGBA]struct{})
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			seen[img.NRGBAAt(x, y)] = struct{}{}
		}
	}
	return len(seen)
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// pngHeader is a grayscale PNG carrying only an IHDR chunk. It is enough for
// image.DecodeConfig but holds no pixel data.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}
