// Package ingest runs the document ingestion pipeline: validate, claim,
// fetch, extract, split, embed, index, finalize. Every attempt either
// completes the document or rolls its chunks back before marking it failed.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domchunk "github.com/agrisage-cloud/knowd/internal/domain/chunk"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
)

const (
	// maxAttempts bounds ingestion retries before the document goes
	// terminally failed.
	maxAttempts = 3

	defaultQueueSize = 256
	defaultWorkers   = 4
)

// Service is the ingestion pipeline.
type Service struct {
	docs     Documents
	chunks   Chunks
	dir      Directory
	source   ContentSource
	embed    Embedder
	splitter domchunk.Splitter

	queue       chan string
	workers     int
	backoffBase time.Duration

	processedTotal *prometheus.CounterVec
	duration       prometheus.Histogram
	logger         *zap.Logger

	wg sync.WaitGroup
}

// Options tune the pipeline. Zero values fall back to defaults.
type Options struct {
	Workers     int
	QueueSize   int
	BackoffBase time.Duration
	// ProcessedTotal is a counter vec with label "result"
	// ("completed"/"failed"/"inconsistent"), passed explicitly.
	ProcessedTotal *prometheus.CounterVec
	// Duration observes one attempt end to end, claim to terminal state.
	Duration prometheus.Histogram
}

// New creates an ingestion service.
func New(
	docs Documents, chunks Chunks, dir Directory,
	source ContentSource, embed Embedder, splitter domchunk.Splitter,
	opts Options, logger *zap.Logger,
) *Service {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	backoff := opts.BackoffBase
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	return &Service{
		docs:           docs,
		chunks:         chunks,
		dir:            dir,
		source:         source,
		embed:          embed,
		splitter:       splitter,
		queue:          make(chan string, queueSize),
		workers:        workers,
		backoffBase:    backoff,
		processedTotal: opts.ProcessedTotal,
		duration:       opts.Duration,
		logger:         logger,
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is done.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-s.queue:
					if !ok {
						return
					}
					s.ProcessWithRetry(ctx, id)
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit validates the request, registers the document as pending and
// enqueues it for processing. Returns the new document id immediately.
func (s *Service) Submit(
	ctx context.Context, orgID, uploaderID, contentRef, declaredType string, visibility domdoc.Visibility,
) (string, error) {
	if !SupportedContentType(declaredType) {
		return "", fmt.Errorf("unsupported content type %q: %w", declaredType, domain.ErrValidation)
	}

	exists, err := s.dir.OrganizationExists(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("check organization: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("organization %s: %w", orgID, domain.ErrOrganizationNotFound)
	}

	doc, err := domdoc.New(uuid.NewString(), orgID, uploaderID, contentRef, declaredType, visibility)
	if err != nil {
		return "", err
	}
	if err := s.docs.Create(ctx, &doc); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}

	s.enqueue(ctx, doc.ID())
	return doc.ID(), nil
}

// Resubmit returns a failed document to the queue. Completed documents are
// reprocessed only when their content changed or force is set; an unchanged
// completed document is a no-op. A pending document is simply re-enqueued.
// Force also unblocks a document flagged by a failed rollback: the leftover
// chunks are removed and the document is processed from scratch.
func (s *Service) Resubmit(ctx context.Context, id string, force bool) error {
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Inconsistent() {
		if !force {
			return fmt.Errorf("document %s is blocked by a failed rollback: %w", id, domain.ErrConsistency)
		}
		// Finish the interrupted rollback before touching the state.
		if err := s.chunks.DeleteByDocument(ctx, id); err != nil {
			return fmt.Errorf("delete chunks of %s: %w", id, err)
		}
		won, err := s.docs.Requeue(ctx, id, doc.State())
		if err != nil {
			return err
		}
		if !won {
			return domain.NewClaimConflict(id, "contended")
		}
		s.enqueue(ctx, id)
		return nil
	}

	switch doc.State() {
	case domdoc.StateFailed:
		won, err := s.docs.Requeue(ctx, id, domdoc.StateFailed)
		if err != nil {
			return err
		}
		if !won {
			return domain.NewClaimConflict(id, "contended")
		}

	case domdoc.StateCompleted:
		if !force {
			data, err := s.source.Fetch(ctx, doc.ContentRef())
			if err != nil {
				return fmt.Errorf("fetch content: %w", err)
			}
			if contentHash(data) == doc.ContentHash() {
				return nil // unchanged content, nothing to do
			}
		}
		won, err := s.docs.Requeue(ctx, id, domdoc.StateCompleted)
		if err != nil {
			return err
		}
		if !won {
			return domain.NewClaimConflict(id, "contended")
		}
		// The document is pending again; its old chunks must not be
		// visible to retrieval.
		if err := s.chunks.DeleteByDocument(ctx, id); err != nil {
			return s.flagInconsistent(ctx, id, err)
		}

	case domdoc.StatePending:
		// The queue is an in-memory channel, so a pending document can be
		// stranded by a restart. Re-enqueueing is safe: a duplicate entry
		// loses the claim and is skipped.

	case domdoc.StateProcessing:
		return domain.NewClaimConflict(id, string(doc.State()))
	}

	s.enqueue(ctx, id)
	return nil
}

// RemoveDocument deletes a document and its chunks, chunks first so the
// referential invariant holds at every point.
func (s *Service) RemoveDocument(ctx context.Context, id string) error {
	if _, err := s.docs.Get(ctx, id); err != nil {
		return err
	}
	if err := s.chunks.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", id, err)
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// ProcessWithRetry runs ingestion attempts with bounded exponential backoff.
// Claim conflicts and consistency failures stop the loop immediately.
func (s *Service) ProcessWithRetry(ctx context.Context, id string) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last := attempt == maxAttempts
		err := s.process(ctx, id, last)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrClaimConflict) || errors.Is(err, domain.ErrConsistency) {
			s.logger.Warn("Ingestion stopped",
				zap.String("document_id", id), zap.Error(err))
			return
		}

		s.logger.Warn("Ingestion attempt failed",
			zap.String("document_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if last || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoffBase << (attempt - 1)):
		}
	}
}

// Process runs a single ingestion attempt; failure is terminal.
func (s *Service) Process(ctx context.Context, id string) error {
	return s.process(ctx, id, true)
}

// process runs one ingestion attempt end to end. On any failure after the
// claim, this attempt's chunks are rolled back; then the document goes back
// to pending for a retry, or terminally failed when last is set. A rollback
// failure flags the document inconsistent.
func (s *Service) process(ctx context.Context, id string, last bool) error {
	doc, err := s.docs.Claim(ctx, id)
	if err != nil {
		return err
	}
	if s.duration != nil {
		start := time.Now()
		defer func() { s.duration.Observe(time.Since(start).Seconds()) }()
	}

	data, err := s.source.Fetch(ctx, doc.ContentRef())
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("fetch content: %w", err), last)
	}

	text, err := extractText(doc.ContentType(), data)
	if err != nil {
		return s.fail(ctx, id, fmt.Errorf("extract text: %w", err), last)
	}

	chunks := s.splitter.Split(doc.ID(), doc.OwnerOrg(), text)

	if err := ctx.Err(); err != nil {
		// Cancellation rolls back like a failure, terminally: the
		// worker will not retry a dying context.
		return s.fail(ctx, id, err, true)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i := range chunks {
			texts[i] = chunks[i].Text()
		}
		emb, err := s.embed.BatchEmbed(ctx, texts)
		if err != nil {
			return s.fail(ctx, id, fmt.Errorf("embed chunks: %w", err), last)
		}
		if len(emb.Embeddings) != len(chunks) {
			return s.fail(ctx, id, fmt.Errorf(
				"embed chunks: got %d embeddings for %d chunks: %w",
				len(emb.Embeddings), len(chunks), domain.ErrIngestion), last)
		}
		for i := range chunks {
			chunks[i] = chunks[i].WithVector(emb.Embeddings[i])
		}

		if err := s.chunks.InsertBatch(ctx, chunks); err != nil {
			return s.fail(ctx, id, fmt.Errorf("insert chunks: %w", err), last)
		}
	}

	if err := s.docs.MarkCompleted(ctx, id, len(chunks), contentHash(data)); err != nil {
		return s.fail(ctx, id, fmt.Errorf("mark completed: %w", err), last)
	}

	s.incProcessed("completed")
	s.logger.Info("Document ingested",
		zap.String("document_id", id),
		zap.Int("chunks", len(chunks)))
	return nil
}

// fail rolls back this attempt's chunks, then either releases the document
// for a retry or marks it terminally failed. Rollback runs even when the
// request context is already dead.
func (s *Service) fail(ctx context.Context, id string, cause error, last bool) error {
	cleanupCtx := context.WithoutCancel(ctx)

	if err := s.chunks.DeleteByDocument(cleanupCtx, id); err != nil {
		return s.flagInconsistent(cleanupCtx, id, err)
	}

	if last {
		if err := s.docs.MarkFailed(cleanupCtx, id); err != nil {
			s.logger.Error("Failed to mark document failed",
				zap.String("document_id", id), zap.Error(err))
		}
		s.incProcessed("failed")
	} else {
		if _, err := s.docs.Release(cleanupCtx, id); err != nil {
			s.logger.Error("Failed to release document for retry",
				zap.String("document_id", id), zap.Error(err))
		}
	}
	return cause
}

func (s *Service) flagInconsistent(ctx context.Context, id string, rollbackErr error) error {
	consErr := domain.NewConsistencyError(id, rollbackErr)
	s.logger.Error("Chunk rollback failed, document blocked",
		zap.String("document_id", id), zap.Error(consErr))

	if err := s.docs.SetInconsistent(ctx, id); err != nil {
		s.logger.Error("Failed to flag document inconsistent",
			zap.String("document_id", id), zap.Error(err))
	}
	s.incProcessed("inconsistent")
	return consErr
}

func (s *Service) enqueue(ctx context.Context, id string) {
	select {
	case s.queue <- id:
	case <-ctx.Done():
	}
}

func (s *Service) incProcessed(result string) {
	if s.processedTotal != nil {
		s.processedTotal.WithLabelValues(result).Inc()
	}
}

func contentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
