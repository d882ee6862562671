package store

import (
	"context"

	"github.com/rawer886/fake-ios-screenshot/internal/domain"
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
}

// UsageStore records per-job conversion accounting. The worker treats it as
// optional; a job store that also implements it gets discovered at startup.
type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
