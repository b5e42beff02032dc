package ingest

import (
	"context"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domchunk "github.com/agrisage-cloud/knowd/internal/domain/chunk"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
)

// Documents defines the storage contract for the ingestion lifecycle.
type Documents interface {
	Create(ctx context.Context, doc *domdoc.Document) error
	Get(ctx context.Context, id string) (domdoc.Document, error)
	Claim(ctx context.Context, id string) (domdoc.Document, error)
	MarkCompleted(ctx context.Context, id string, chunkCount int, contentHash string) error
	MarkFailed(ctx context.Context, id string) error
	SetInconsistent(ctx context.Context, id string) error
	Requeue(ctx context.Context, id string, from domdoc.State) (bool, error)
	Release(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Chunks defines the storage contract for indexed chunks.
type Chunks interface {
	InsertBatch(ctx context.Context, chunks []domchunk.Chunk) error
	DeleteByDocument(ctx context.Context, documentID string) error
}

// Directory checks organization existence before accepting a submission.
type Directory interface {
	OrganizationExists(ctx context.Context, id string) (bool, error)
}

// ContentSource fetches raw content behind a content reference.
type ContentSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Embedder vectorizes chunk texts in batch.
type Embedder interface {
	BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error)
}
