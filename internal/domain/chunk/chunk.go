package chunk

import (
	"fmt"

	"github.com/agrisage-cloud/knowd/internal/domain"
)

// Chunk is a bounded slice of a document's extracted text with its embedding
// and positional metadata. Chunks exist only for completed documents.
type Chunk struct {
	documentID string
	orgID      string
	sequence   int
	offset     int
	text       string
	vector     []float32
}

// New validates and creates a Chunk without a vector.
func New(documentID, orgID string, sequence, offset int, text string) (Chunk, error) {
	if !domain.IsValidID(documentID) {
		return Chunk{}, fmt.Errorf("invalid document id %q: %w", documentID, domain.ErrValidation)
	}
	if !domain.IsValidID(orgID) {
		return Chunk{}, fmt.Errorf("invalid organization id %q: %w", orgID, domain.ErrValidation)
	}
	if sequence < 0 || offset < 0 {
		return Chunk{}, fmt.Errorf("negative chunk position: %w", domain.ErrValidation)
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk text is required: %w", domain.ErrValidation)
	}
	return Chunk{documentID: documentID, orgID: orgID, sequence: sequence, offset: offset, text: text}, nil
}

// Reconstruct creates a Chunk without validation (storage hydration).
func Reconstruct(documentID, orgID string, sequence, offset int, text string, vector []float32) Chunk {
	return Chunk{
		documentID: documentID, orgID: orgID,
		sequence: sequence, offset: offset,
		text: text, vector: vector,
	}
}

// DocumentID returns the owning document identifier.
func (c *Chunk) DocumentID() string { return c.documentID }

// OrgID returns the owning organization identifier.
func (c *Chunk) OrgID() string { return c.orgID }

// Sequence returns the chunk's position in the document.
func (c *Chunk) Sequence() int { return c.sequence }

// Offset returns the rune offset of the chunk in the extracted text.
func (c *Chunk) Offset() int { return c.offset }

// Text returns the chunk text.
func (c *Chunk) Text() string { return c.text }

// Vector returns the embedding vector.
func (c *Chunk) Vector() []float32 { return c.vector }

// WithVector returns a copy with the given vector set.
func (c Chunk) WithVector(v []float32) Chunk {
	c.vector = v
	return c
}
