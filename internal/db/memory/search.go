package memory

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/agrisage-cloud/knowd/internal/db"
	"github.com/agrisage-cloud/knowd/internal/domain/search/filter"
)

// --- IndexManager ---

// CreateIndex registers an index definition. Documents are matched against
// the definition's key prefixes at query time.
func (s *Store) CreateIndex(_ context.Context, def *db.IndexDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[def.Name]; ok {
		return db.ErrIndexExists
	}
	s.indexes[def.Name] = def
	return nil
}

// DropIndex removes an index definition.
func (s *Store) DropIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return db.ErrIndexNotFound
	}
	delete(s.indexes, name)
	return nil
}

// IndexExists reports whether an index is registered.
func (s *Store) IndexExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[name]
	return ok, nil
}

// --- Searcher ---

// SearchKNN runs a brute-force cosine similarity search over hashes covered
// by the index, restricted by the filter expression.
func (s *Store) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[q.IndexName]
	if !ok {
		return nil, db.ErrIndexNotFound
	}

	vectorField := vectorFieldName(idx)

	type scored struct {
		key    string
		fields map[string]string
		score  float64
	}
	var hits []scored

	for key, h := range s.hashes {
		if !matchesPrefixes(idx.Prefixes, key) {
			continue
		}
		if !evalExpression(idx, q.Filters, h) {
			continue
		}
		raw, ok := h[vectorField]
		if !ok {
			continue
		}
		vec := db.DecodeVector(raw)
		score := cosineSimilarity(q.Vector, vec)
		hits = append(hits, scored{key: key, fields: h, score: score})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].key < hits[j].key
	})
	if len(hits) > q.K {
		hits = hits[:q.K]
	}

	entries := make([]db.SearchEntry, 0, len(hits))
	for _, h := range hits {
		entries = append(entries, db.SearchEntry{
			Key:    h.key,
			Score:  h.score,
			Fields: returnFields(h.fields, q.ReturnFields, vectorField),
		})
	}
	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

// Search runs a filtered query over hashes covered by the index.
func (s *Store) Search(_ context.Context, q *db.FilterQuery) (*db.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[q.IndexName]
	if !ok {
		return nil, db.ErrIndexNotFound
	}

	matched := s.matchLocked(idx, q.Filters)

	if q.SortBy != "" {
		sort.Slice(matched, func(i, j int) bool {
			a, _ := strconv.ParseFloat(matched[i].fields[q.SortBy], 64)
			b, _ := strconv.ParseFloat(matched[j].fields[q.SortBy], 64)
			if a != b {
				if q.SortDesc {
					return a > b
				}
				return a < b
			}
			return matched[i].key < matched[j].key
		})
	} else {
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].key < matched[j].key
		})
	}

	total := len(matched)

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if q.Offset < len(matched) {
		matched = matched[q.Offset:]
	} else {
		matched = nil
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}

	entries := make([]db.SearchEntry, 0, len(matched))
	for _, m := range matched {
		entry := db.SearchEntry{Key: m.key}
		if !q.IDsOnly {
			entry.Fields = returnFields(m.fields, q.ReturnFields, vectorFieldName(idx))
		}
		entries = append(entries, entry)
	}
	return &db.SearchResult{Total: total, Entries: entries}, nil
}

// SearchCount returns the number of hashes matching the filter expression.
func (s *Store) SearchCount(_ context.Context, q *db.FilterQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[q.IndexName]
	if !ok {
		return 0, db.ErrIndexNotFound
	}
	return len(s.matchLocked(idx, q.Filters)), nil
}

type matchedHash struct {
	key    string
	fields map[string]string
}

func (s *Store) matchLocked(idx *db.IndexDefinition, expr filter.Expression) []matchedHash {
	var matched []matchedHash
	for key, h := range s.hashes {
		if !matchesPrefixes(idx.Prefixes, key) {
			continue
		}
		if !evalExpression(idx, expr, h) {
			continue
		}
		matched = append(matched, matchedHash{key: key, fields: h})
	}
	return matched
}

// --- expression evaluation ---

func evalExpression(idx *db.IndexDefinition, expr filter.Expression, fields map[string]string) bool {
	if expr.IsEmpty() {
		return true
	}

	for _, cond := range expr.Must() {
		if !evalCondition(idx, cond, fields) {
			return false
		}
	}

	if should := expr.Should(); len(should) > 0 {
		any := false
		for _, cond := range should {
			if evalCondition(idx, cond, fields) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	for _, cond := range expr.MustNot() {
		if evalCondition(idx, cond, fields) {
			return false
		}
	}

	return true
}

func evalCondition(idx *db.IndexDefinition, cond filter.Condition, fields map[string]string) bool {
	value, ok := fields[cond.Key()]
	if !ok {
		return false
	}

	switch {
	case cond.IsMatch():
		return tagContains(idx, cond.Key(), value, cond.Match())
	case cond.IsMatchAny():
		for _, want := range cond.MatchAny() {
			if tagContains(idx, cond.Key(), value, want) {
				return true
			}
		}
		return false
	case cond.IsRange():
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return false
		}
		return inRange(n, *cond.Range())
	}
	return false
}

// tagContains matches a stored tag value against a wanted tag, splitting
// multi-value fields on the schema's separator the way RediSearch does.
func tagContains(idx *db.IndexDefinition, fieldName, stored, want string) bool {
	sep := ""
	if f, ok := idx.FieldByName(fieldName); ok {
		sep = f.TagSeparator
	}
	if sep == "" {
		return stored == want
	}
	for _, part := range strings.Split(stored, sep) {
		if strings.TrimSpace(part) == want {
			return true
		}
	}
	return false
}

func inRange(n float64, r filter.Range) bool {
	if r.GT() != nil && !(n > *r.GT()) {
		return false
	}
	if r.GTE() != nil && !(n >= *r.GTE()) {
		return false
	}
	if r.LT() != nil && !(n < *r.LT()) {
		return false
	}
	if r.LTE() != nil && !(n <= *r.LTE()) {
		return false
	}
	return true
}

// --- helpers ---

func matchesPrefixes(prefixes []string, key string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func vectorFieldName(idx *db.IndexDefinition) string {
	for i := range idx.Fields {
		if idx.Fields[i].Type == db.IndexFieldVector {
			return idx.Fields[i].Name
		}
	}
	return "vector"
}

// returnFields copies the requested fields, always omitting the raw vector
// blob unless explicitly asked for.
func returnFields(fields map[string]string, want []string, vectorField string) map[string]string {
	if len(want) > 0 {
		out := make(map[string]string, len(want))
		for _, f := range want {
			if v, ok := fields[f]; ok {
				out[f] = v
			}
		}
		return out
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == vectorField {
			continue
		}
		out[k] = v
	}
	return out
}

// cosineSimilarity mirrors the score the Redis driver derives from cosine
// distance: similarity clamped to [0, 1].
func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(0, math.Min(1, sim))
}
