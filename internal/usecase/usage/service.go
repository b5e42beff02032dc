// Package usage aggregates retrieval outcomes into per-organization
// analytics: document popularity, coverage, and knowledge gaps. Recording is
// strictly an observer; it never fails the retrieval it observes.
package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	domusage "github.com/agrisage-cloud/knowd/internal/domain/usage"
	"github.com/agrisage-cloud/knowd/internal/usecase/retrieval"
)

const (
	// defaultRelevanceThreshold is the minimum best score counting a
	// retrieval as covered.
	defaultRelevanceThreshold = 0.35

	topDocumentsLimit = 10
)

// Service is the usage analytics collector.
type Service struct {
	docs      Documents
	store     Store
	threshold float64
	now       func() time.Time
	logger    *zap.Logger
}

// New creates a usage collector. threshold <= 0 falls back to the default.
func New(docs Documents, store Store, threshold float64, logger *zap.Logger) *Service {
	if threshold <= 0 {
		threshold = defaultRelevanceThreshold
	}
	return &Service{
		docs:      docs,
		store:     store,
		threshold: threshold,
		now:       time.Now,
		logger:    logger,
	}
}

// Record registers one retrieval outcome. A retrieval is covered when its
// best match clears the relevance threshold; anything else is a gap worth a
// log entry. Failures are logged and swallowed.
func (s *Service) Record(ctx context.Context, orgID, query string, setSize int, matches []retrieval.Match) {
	now := s.now()

	var best float64
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if m.Score > best {
			best = m.Score
		}
		if _, ok := seen[m.DocumentID]; ok {
			continue
		}
		seen[m.DocumentID] = struct{}{}

		if err := s.docs.IncrQueryCount(ctx, m.DocumentID); err != nil {
			s.logger.Warn("Failed to bump query count",
				zap.String("document_id", m.DocumentID), zap.Error(err))
		}
		if err := s.docs.TouchAccessed(ctx, m.DocumentID, now.UnixMilli()); err != nil {
			s.logger.Warn("Failed to touch last_accessed_at",
				zap.String("document_id", m.DocumentID), zap.Error(err))
		}
	}

	covered := len(matches) > 0 && best >= s.threshold
	if err := s.store.RecordOutcome(ctx, orgID, now, covered); err != nil {
		s.logger.Warn("Failed to record usage outcome",
			zap.String("org_id", orgID), zap.Error(err))
	}

	if !covered {
		entry := domusage.GapEntry{
			Query:           query,
			AccessibleCount: setSize,
			BestScore:       best,
			At:              now.UnixMilli(),
		}
		if err := s.store.AppendGap(ctx, orgID, entry); err != nil {
			s.logger.Warn("Failed to append gap entry",
				zap.String("org_id", orgID), zap.Error(err))
		}
	}
}

// Report assembles the usage report for the trailing window.
func (s *Service) Report(ctx context.Context, orgID string, window time.Duration) (domusage.Report, error) {
	end := s.now()
	start := end.Add(-window)

	counters, err := s.store.CountersRange(ctx, orgID, start, end)
	if err != nil {
		return domusage.Report{}, err
	}
	gaps, err := s.store.GapsSince(ctx, orgID, start.UnixMilli())
	if err != nil {
		return domusage.Report{}, err
	}
	docs, err := s.docs.MostQueried(ctx, orgID, topDocumentsLimit)
	if err != nil {
		return domusage.Report{}, err
	}

	top := make([]domusage.DocumentUsage, 0, len(docs))
	for _, d := range docs {
		top = append(top, domusage.DocumentUsage{
			DocumentID:     d.ID(),
			QueryCount:     d.QueryCount(),
			LastAccessedAt: d.LastAccessedAt(),
		})
	}

	return domusage.Report{
		OrganizationID: orgID,
		WindowStart:    start.UnixMilli(),
		WindowEnd:      end.UnixMilli(),
		Counters:       counters,
		CoveragePct:    domusage.Coverage(counters),
		TopDocuments:   top,
		Gaps:           gaps,
	}, nil
}
