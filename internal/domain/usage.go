package domain

import "time"

type UsageLog struct {
	RequestID       string
	Variant         Variant
	SourceBytes     int64
	OutputBytes     int64
	PixelsProcessed int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
