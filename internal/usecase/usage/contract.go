package usage

import (
	"context"
	"time"

	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	domusage "github.com/agrisage-cloud/knowd/internal/domain/usage"
)

// Documents updates and reads per-document usage counters.
type Documents interface {
	IncrQueryCount(ctx context.Context, id string) error
	TouchAccessed(ctx context.Context, id string, at int64) error
	MostQueried(ctx context.Context, orgID string, limit int) ([]domdoc.Document, error)
}

// Store persists per-organization counters and the gap log.
type Store interface {
	RecordOutcome(ctx context.Context, orgID string, at time.Time, covered bool) error
	AppendGap(ctx context.Context, orgID string, entry domusage.GapEntry) error
	CountersRange(ctx context.Context, orgID string, from, to time.Time) (domusage.Counters, error)
	GapsSince(ctx context.Context, orgID string, since int64) ([]domusage.GapEntry, error)
}
