package usage

// Hit is the per-document evidence a retrieval produced, as seen by the
// analytics collector.
type Hit struct {
	DocumentID string
	Score      float64
}

// GapEntry records a query the knowledge base could not serve: the accessible
// set was empty, or no returned chunk met the relevance threshold.
type GapEntry struct {
	Query           string `json:"query"`
	AccessibleCount int    `json:"accessible_count"`
	BestScore       float64 `json:"best_score"`
	At              int64  `json:"at"` // unix millis
}

// Counters aggregates per-organization retrieval outcomes over a period.
type Counters struct {
	Queries int64
	Covered int64
	Gaps    int64
}

// DocumentUsage is a per-document usage line in a report.
type DocumentUsage struct {
	DocumentID     string
	QueryCount     int
	LastAccessedAt int64
}

// Report is the usage report for an organization over a time window.
type Report struct {
	OrganizationID string
	WindowStart    int64 // unix millis
	WindowEnd      int64 // unix millis
	Counters       Counters
	CoveragePct    float64
	TopDocuments   []DocumentUsage
	Gaps           []GapEntry
}

// Coverage computes the coverage percentage: queries with at least one
// relevant hit over total queries. Zero queries yields zero.
func Coverage(c Counters) float64 {
	if c.Queries == 0 {
		return 0
	}
	return float64(c.Covered) / float64(c.Queries) * 100
}
