package result

// Result is a single chunk hit from a similarity search.
type Result struct {
	documentID string
	orgID      string
	sequence   int
	offset     int
	score      float64
	text       string
}

// New creates a search result.
func New(documentID, orgID string, sequence, offset int, score float64, text string) Result {
	return Result{
		documentID: documentID, orgID: orgID,
		sequence: sequence, offset: offset,
		score: score, text: text,
	}
}

// DocumentID returns the owning document identifier.
func (r *Result) DocumentID() string { return r.documentID }

// OrgID returns the owning organization identifier.
func (r *Result) OrgID() string { return r.orgID }

// Sequence returns the chunk's position in the document.
func (r *Result) Sequence() int { return r.sequence }

// Offset returns the rune offset of the chunk in the extracted text.
func (r *Result) Offset() int { return r.offset }

// Score returns the similarity score in [0, 1].
func (r *Result) Score() float64 { return r.score }

// Text returns the chunk text.
func (r *Result) Text() string { return r.text }
