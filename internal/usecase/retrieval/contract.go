package retrieval

import (
	"context"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domaccess "github.com/agrisage-cloud/knowd/internal/domain/access"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	"github.com/agrisage-cloud/knowd/internal/domain/search/result"
)

// Resolver computes the accessible document set for an identity.
type Resolver interface {
	Resolve(ctx context.Context, userID, orgID string) (domaccess.Set, error)
}

// ChunkIndex runs similarity search restricted to an accessible set.
type ChunkIndex interface {
	SearchKNN(ctx context.Context, vector []float32, set domaccess.Set, k int) ([]result.Result, error)
}

// Documents reads document metadata for result assembly.
type Documents interface {
	GetMulti(ctx context.Context, ids []string) ([]domdoc.Document, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// Collector records retrieval outcomes for usage analytics. Recording must
// never fail a retrieval; implementations log and swallow their own errors.
type Collector interface {
	Record(ctx context.Context, orgID, query string, setSize int, matches []Match)
}
