// Package chunk persists document chunks with their embedding vectors and
// runs the permission-restricted KNN search behind retrieval.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/agrisage-cloud/knowd/internal/db"
	"github.com/agrisage-cloud/knowd/internal/domain"
	"github.com/agrisage-cloud/knowd/internal/domain/access"
	domchunk "github.com/agrisage-cloud/knowd/internal/domain/chunk"
	"github.com/agrisage-cloud/knowd/internal/domain/search/filter"
	"github.com/agrisage-cloud/knowd/internal/domain/search/result"
)

const (
	fieldDoc    = "doc"
	fieldOrg    = "org"
	fieldSeq    = "seq"
	fieldOffset = "offset"
	fieldText   = "text"
	fieldVector = "vector"
)

// HNSW build parameters for the chunk vector attribute.
const (
	hnswM           = 16
	hnswEFConstruct = 200
)

// store is the consumer interface for chunks (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, q *db.FilterQuery) (int, error)
}

// Repo implements chunk persistence and similarity search.
type Repo struct {
	store store
}

// New creates a chunk repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// EnsureIndex creates the chunk FT index with the given vector dimension.
func (r *Repo) EnsureIndex(ctx context.Context, dim int) error {
	def := db.NewIndex(indexName()).
		Prefix(keyPrefix()).
		Tag(fieldDoc).
		Tag(fieldOrg).
		Numeric(fieldSeq).
		Numeric(fieldOffset).
		VectorHNSW(fieldVector, dim, db.DistanceCosine, hnswM, hnswEFConstruct).
		MustBuild()

	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", indexName(), err)
	}
	return nil
}

// InsertBatch stores chunks in a single pipelined round-trip. Every chunk
// must already carry its vector.
func (r *Repo) InsertBatch(ctx context.Context, chunks []domchunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, 0, len(chunks))
	for i := range chunks {
		c := &chunks[i]
		if len(c.Vector()) == 0 {
			return fmt.Errorf("chunk %s/%d has no vector: %w", c.DocumentID(), c.Sequence(), domain.ErrValidation)
		}
		items = append(items, db.HashSetItem{
			Key: chunkKey(c.DocumentID(), c.Sequence()),
			Fields: map[string]string{
				fieldDoc:    c.DocumentID(),
				fieldOrg:    c.OrgID(),
				fieldSeq:    strconv.Itoa(c.Sequence()),
				fieldOffset: strconv.Itoa(c.Offset()),
				fieldText:   c.Text(),
				fieldVector: db.EncodeVector(c.Vector()),
			},
		})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

// DeleteByDocument removes every chunk of a document. Used by both rollback
// and document deletion; deleting chunks first keeps the referential rule
// that chunks only exist under their document.
func (r *Repo) DeleteByDocument(ctx context.Context, documentID string) error {
	keys, err := r.store.Scan(ctx, keyPrefix()+documentID+":*")
	if err != nil {
		return fmt.Errorf("scan chunks of %s: %w", documentID, err)
	}
	for _, key := range keys {
		if err := r.store.Del(ctx, key); err != nil {
			return fmt.Errorf("del %s: %w", key, err)
		}
	}
	return nil
}

// CountByDocument returns the number of indexed chunks of a document.
func (r *Repo) CountByDocument(ctx context.Context, documentID string) (int, error) {
	cond, err := filter.NewMatch(fieldDoc, documentID)
	if err != nil {
		return 0, fmt.Errorf("build doc condition: %w", err)
	}
	expr, err := filter.NewExpression([]filter.Condition{cond}, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("build expression: %w", err)
	}
	n, err := r.store.SearchCount(ctx, &db.FilterQuery{IndexName: indexName(), Filters: expr})
	if err != nil {
		return 0, fmt.Errorf("count chunks of %s: %w", documentID, err)
	}
	return n, nil
}

// SearchKNN runs a K nearest neighbour search restricted to documents in the
// accessible set. The set is compiled into the index predicate itself, so the
// search engine never scores an out-of-scope chunk.
func (r *Repo) SearchKNN(ctx context.Context, vector []float32, set access.Set, k int) ([]result.Result, error) {
	if set.IsEmpty() {
		return nil, nil
	}

	cond, err := filter.NewMatchAny(fieldDoc, set.IDs()...)
	if err != nil {
		return nil, fmt.Errorf("build access predicate: %w", err)
	}
	expr, err := filter.NewExpression([]filter.Condition{cond}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("build expression: %w", err)
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(),
		Filters:      expr,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{fieldDoc, fieldOrg, fieldSeq, fieldOffset, fieldText, "__vector_score"},
	})
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}

	results := make([]result.Result, 0, len(res.Entries))
	for _, entry := range res.Entries {
		seq, _ := strconv.Atoi(entry.Fields[fieldSeq])
		offset, _ := strconv.Atoi(entry.Fields[fieldOffset])
		results = append(results, result.New(
			entry.Fields[fieldDoc],
			entry.Fields[fieldOrg],
			seq,
			offset,
			entry.Score,
			entry.Fields[fieldText],
		))
	}
	return results, nil
}

func keyPrefix() string {
	return domain.KeyPrefix + "chunk:"
}

func chunkKey(documentID string, seq int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix(), documentID, seq)
}

func indexName() string {
	return domain.KeyPrefix + "chunk:idx"
}
