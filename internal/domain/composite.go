package domain

import "math"

// MinLogoSize keeps the mark visible on tiny bases or tiny scales.
const MinLogoSize = 24

// CompositeSpec is derived once per request from Params and the base image.
type CompositeSpec struct {
	TargetSize int
	Opacity    float64
}

func NewCompositeSpec(p Params, shorterSide int) CompositeSpec {
	scale := clampFloat(p.Scale, MinScale, MaxScale)
	target := int(math.Round(float64(shorterSide) * scale))
	if target < MinLogoSize {
		target = MinLogoSize
	}

	return CompositeSpec{
		TargetSize: target,
		Opacity:    clampFloat(p.Opacity, 0, 1),
	}
}

// ShorterSide returns the smaller of width and height.
func ShorterSide(width, height int) int {
	if width < height {
		return width
	}
	return height
}
