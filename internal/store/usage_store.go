package store

import (
	"context"

	"github.com/dunamismax/pixelmask/internal/domain"
)

// UsageStore records per-request accounting. Image content is never stored.
type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
