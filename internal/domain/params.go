package domain

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

type Variant string

const (
	VariantBlur        Variant = "blur"
	VariantPixelate    Variant = "pixelate"
	VariantPassthrough Variant = "none"
)

const (
	DefaultSigma   = 24.0
	DefaultBlock   = 25
	DefaultOpacity = 0.05
	DefaultScale   = 0.35

	// Blur cost grows linearly with sigma and the block is converted to int,
	// so both get a ceiling on top of the floor.
	MinSigma = 1.0
	MaxSigma = 100.0
	MinBlock = 1
	MaxBlock = 4096
	MinScale = 0.05
	MaxScale = 1.0
)

var httpURLPattern = regexp.MustCompile(`(?i)^https?://\S+$`)

// Params is the normalized form of the watermark query string. Numeric
// fields are always inside their valid range.
type Params struct {
	URL     string
	Variant Variant
	Sigma   float64
	Block   int
	LogoURL string
	Opacity float64
	Scale   float64
	Key     string
}

// ObscureOptions carries the subset of Params the base transformer needs.
type ObscureOptions struct {
	Variant Variant
	Sigma   float64
	Block   int
}

// ParseParams never fails: malformed numbers fall back to their defaults and
// an unusable logo URL is dropped. URL validation is left to Validate.
func ParseParams(q url.Values) Params {
	p := Params{
		URL:     strings.TrimSpace(q.Get("url")),
		Variant: ParseVariant(q.Get("type")),
		Sigma:   clampFloat(parseFloat(q.Get("sigma"), DefaultSigma), MinSigma, MaxSigma),
		Block:   int(math.Round(clampFloat(parseFloat(q.Get("block"), DefaultBlock), MinBlock, MaxBlock))),
		Opacity: clampFloat(parseFloat(q.Get("opacity"), DefaultOpacity), 0, 1),
		Scale:   clampFloat(parseFloat(q.Get("scale"), DefaultScale), MinScale, MaxScale),
		Key:     q.Get("key"),
	}

	if logo := strings.TrimSpace(q.Get("logo")); IsHTTPURL(logo) {
		p.LogoURL = logo
	}
	return p
}

func (p Params) Validate() error {
	if p.URL == "" {
		return fmt.Errorf("%w: missing 'url' parameter", ErrBadRequest)
	}
	if !IsHTTPURL(p.URL) {
		return fmt.Errorf("%w: invalid 'url' parameter", ErrBadRequest)
	}
	return nil
}

func (p Params) Obscure() ObscureOptions {
	return ObscureOptions{
		Variant: p.Variant,
		Sigma:   p.Sigma,
		Block:   p.Block,
	}
}

func ParseVariant(raw string) Variant {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pixelate", "pixel", "mosaic":
		return VariantPixelate
	case "none", "passthrough":
		return VariantPassthrough
	default:
		return VariantBlur
	}
}

// IsHTTPURL reports whether raw is an absolute http or https URL with a host.
func IsHTTPURL(raw string) bool {
	if !httpURLPattern.MatchString(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host != ""
}

func parseFloat(raw string, fallback float64) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
