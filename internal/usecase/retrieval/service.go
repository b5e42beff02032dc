// Package retrieval answers queries with chunks the caller is allowed to
// see. The accessible set restricts the index search, and every candidate is
// re-checked against it after the fact; a filter bug in the index layer must
// not leak a document.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	"github.com/agrisage-cloud/knowd/internal/domain/search/result"
)

const (
	defaultK = 10
	maxK     = 100
)

// Match is a scored chunk with its document's metadata joined in.
type Match struct {
	DocumentID string
	OwnerOrg   string
	Sequence   int
	Offset     int
	Score      float64
	Text       string
	UpdatedAt  int64
}

// Service is the filtered retrieval engine.
type Service struct {
	resolver  Resolver
	chunks    ChunkIndex
	docs      Documents
	embed     Embedder
	collector Collector

	leakDropped prometheus.Counter
	queries     *prometheus.CounterVec
	logger      *zap.Logger
}

// Options tune the engine. LeakDropped counts candidates dropped by the
// post-search access re-check; Queries counts retrievals by outcome. Both
// are passed explicitly.
type Options struct {
	LeakDropped prometheus.Counter
	Queries     *prometheus.CounterVec
}

// New creates a retrieval service.
func New(
	resolver Resolver, chunks ChunkIndex, docs Documents,
	embed Embedder, collector Collector,
	opts Options, logger *zap.Logger,
) *Service {
	return &Service{
		resolver:    resolver,
		chunks:      chunks,
		docs:        docs,
		embed:       embed,
		collector:   collector,
		leakDropped: opts.LeakDropped,
		queries:     opts.Queries,
		logger:      logger,
	}
}

// Retrieve returns up to k matches for the query, ordered by score with
// fresher documents winning ties. No access and no match both yield an empty
// result, never an error.
func (s *Service) Retrieve(ctx context.Context, query, userID, orgID string, k int) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrValidation)
	}
	if k <= 0 {
		k = defaultK
	}
	if k > maxK {
		k = maxK
	}

	set, err := s.resolver.Resolve(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("resolve access: %w", err)
	}
	if set.IsEmpty() {
		s.incQuery("no_access")
		s.collector.Record(ctx, orgID, query, 0, nil)
		return nil, nil
	}

	embRes, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	hits, err := s.chunks.SearchKNN(ctx, embRes.Embedding, set, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	// Independent re-check of every candidate against the resolved set.
	// The index filter already restricts the search; this guard exists so
	// the two mechanisms have to fail together before anything leaks.
	valid := hits[:0]
	for _, h := range hits {
		if !set.Contains(h.DocumentID()) {
			s.dropLeak(orgID, h.DocumentID())
			continue
		}
		valid = append(valid, h)
	}
	hits = valid

	docs, err := s.joinDocuments(ctx, hits)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.DocumentID()]
		if !ok || doc.State() != domdoc.StateCompleted {
			// Deleted or reclaimed between search and join.
			continue
		}
		matches = append(matches, Match{
			DocumentID: h.DocumentID(),
			OwnerOrg:   h.OrgID(),
			Sequence:   h.Sequence(),
			Offset:     h.Offset(),
			Score:      h.Score(),
			Text:       h.Text(),
			UpdatedAt:  doc.UpdatedAt(),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].UpdatedAt > matches[j].UpdatedAt
	})
	if len(matches) > k {
		matches = matches[:k]
	}

	if len(matches) > 0 {
		s.incQuery("matched")
	} else {
		s.incQuery("empty")
	}
	s.collector.Record(ctx, orgID, query, set.Len(), matches)
	return matches, nil
}

func (s *Service) incQuery(outcome string) {
	if s.queries != nil {
		s.queries.WithLabelValues(outcome).Inc()
	}
}

func (s *Service) joinDocuments(ctx context.Context, hits []result.Result) (map[string]domdoc.Document, error) {
	seen := make(map[string]struct{}, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.DocumentID()]; ok {
			continue
		}
		seen[h.DocumentID()] = struct{}{}
		ids = append(ids, h.DocumentID())
	}

	docs, err := s.docs.GetMulti(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("join documents: %w", err)
	}
	byID := make(map[string]domdoc.Document, len(docs))
	for _, d := range docs {
		byID[d.ID()] = d
	}
	return byID, nil
}

func (s *Service) dropLeak(orgID, documentID string) {
	if s.leakDropped != nil {
		s.leakDropped.Inc()
	}
	s.logger.Error("Dropped candidate outside the accessible set",
		zap.String("org_id", orgID),
		zap.String("document_id", documentID))
}
