package chunk

import (
	"fmt"
	"strings"

	"github.com/agrisage-cloud/knowd/internal/domain"
)

// Splitter cuts extracted text into fixed-size overlapping rune windows.
// Splitting is a pure function of its input: identical text always yields
// byte-identical chunk boundaries, which is what makes reprocessing idempotent.
type Splitter struct {
	window  int
	overlap int
}

// NewSplitter validates and creates a Splitter. window is the chunk size in
// runes; overlap is how many runes consecutive chunks share.
func NewSplitter(window, overlap int) (Splitter, error) {
	if window <= 0 {
		return Splitter{}, fmt.Errorf("window must be positive, got %d: %w", window, domain.ErrValidation)
	}
	if overlap < 0 || overlap >= window {
		return Splitter{}, fmt.Errorf("overlap must be in [0, window), got %d: %w", overlap, domain.ErrValidation)
	}
	return Splitter{window: window, overlap: overlap}, nil
}

// Window returns the chunk size in runes.
func (s Splitter) Window() int { return s.window }

// Overlap returns the overlap size in runes.
func (s Splitter) Overlap() int { return s.overlap }

// Split cuts text into chunks tagged with the document and organization ids,
// a sequence index and the rune offset of each window. Whitespace-only
// windows are skipped; their sequence numbers are not reused.
func (s Splitter) Split(documentID, orgID, text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.window - s.overlap
	var chunks []Chunk
	seq := 0

	for start := 0; start < len(runes); start += step {
		end := start + s.window
		if end > len(runes) {
			end = len(runes)
		}

		window := string(runes[start:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, Chunk{
				documentID: documentID,
				orgID:      orgID,
				sequence:   seq,
				offset:     start,
				text:       window,
			})
		}
		seq++

		if end == len(runes) {
			break
		}
	}

	return chunks
}
