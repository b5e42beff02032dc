package chi

import (
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	"github.com/agrisage-cloud/knowd/internal/domain/org"
	domusage "github.com/agrisage-cloud/knowd/internal/domain/usage"
	retrievaluc "github.com/agrisage-cloud/knowd/internal/usecase/retrieval"
)

// errorCode identifies an error class for API clients.
type errorCode string

const (
	codeBadRequest            errorCode = "bad_request"
	codeValidationFailed      errorCode = "validation_failed"
	codeUnauthorized          errorCode = "unauthorized"
	codeForbidden             errorCode = "forbidden"
	codeNotFound              errorCode = "not_found"
	codeDocumentNotFound      errorCode = "document_not_found"
	codeOrganizationNotFound  errorCode = "organization_not_found"
	codeAlreadyExists         errorCode = "already_exists"
	codeClaimConflict         errorCode = "claim_conflict"
	codeConsistencyViolation  errorCode = "consistency_violation"
	codeEmbeddingProviderDown errorCode = "embedding_provider_error"
	codeInternalError         errorCode = "internal_error"
)

type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

type submitDocumentRequest struct {
	ContentRef  string `json:"content_ref"`
	ContentType string `json:"content_type"`
	Visibility  string `json:"visibility"`
}

type submitDocumentResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type documentResponse struct {
	ID             string   `json:"id"`
	OwnerOrg       string   `json:"owner_org"`
	Uploader       string   `json:"uploader"`
	ContentRef     string   `json:"content_ref"`
	ContentType    string   `json:"content_type"`
	ContentHash    string   `json:"content_hash,omitempty"`
	Visibility     string   `json:"visibility"`
	SharedOrgs     []string `json:"shared_orgs,omitempty"`
	SharedUsers    []string `json:"shared_users,omitempty"`
	State          string   `json:"state"`
	Inconsistent   bool     `json:"inconsistent,omitempty"`
	Attempts       int      `json:"attempts"`
	ChunkCount     int      `json:"chunk_count"`
	QueryCount     int      `json:"query_count"`
	LastAccessedAt int64    `json:"last_accessed_at,omitempty"`
	UpdatedAt      int64    `json:"updated_at"`
	CreatedAt      int64    `json:"created_at"`
}

func documentToResponse(d *domdoc.Document) documentResponse {
	sharing := d.Sharing()
	return documentResponse{
		ID:             d.ID(),
		OwnerOrg:       d.OwnerOrg(),
		Uploader:       d.Uploader(),
		ContentRef:     d.ContentRef(),
		ContentType:    d.ContentType(),
		ContentHash:    d.ContentHash(),
		Visibility:     string(d.Visibility()),
		SharedOrgs:     sharing.Organizations(),
		SharedUsers:    sharing.Users(),
		State:          string(d.State()),
		Inconsistent:   d.Inconsistent(),
		Attempts:       d.Attempts(),
		ChunkCount:     d.ChunkCount(),
		QueryCount:     d.QueryCount(),
		LastAccessedAt: d.LastAccessedAt(),
		UpdatedAt:      d.UpdatedAt(),
		CreatedAt:      d.CreatedAt(),
	}
}

type updateSharingRequest struct {
	Visibility    string   `json:"visibility"`
	Organizations []string `json:"organizations,omitempty"`
	Users         []string `json:"users,omitempty"`
}

type updateSharingResponse struct {
	UpdatedAt int64 `json:"updated_at"`
}

type retrieveRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type matchResponse struct {
	DocumentID string  `json:"document_id"`
	OwnerOrg   string  `json:"owner_org"`
	Sequence   int     `json:"sequence"`
	Offset     int     `json:"offset"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	UpdatedAt  int64   `json:"updated_at"`
}

type retrieveResponse struct {
	Matches []matchResponse `json:"matches"`
	Total   int             `json:"total"`
}

func matchesToResponse(matches []retrievaluc.Match) retrieveResponse {
	items := make([]matchResponse, len(matches))
	for i, m := range matches {
		items[i] = matchResponse{
			DocumentID: m.DocumentID,
			OwnerOrg:   m.OwnerOrg,
			Sequence:   m.Sequence,
			Offset:     m.Offset,
			Score:      m.Score,
			Text:       m.Text,
			UpdatedAt:  m.UpdatedAt,
		}
	}
	return retrieveResponse{Matches: items, Total: len(items)}
}

type organizationRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type organizationResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

func organizationToResponse(o org.Organization) organizationResponse {
	return organizationResponse{ID: o.ID(), Name: o.Name(), CreatedAt: o.CreatedAt()}
}

type memberRequest struct {
	Role string `json:"role"`
}

type memberResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func membershipToResponse(m org.Membership) memberResponse {
	return memberResponse{UserID: m.UserID(), Role: string(m.Role())}
}

type grantRequest struct {
	Access string `json:"access"`
}

type grantResponse struct {
	ResourceID string `json:"resource_id"`
	Access     string `json:"access"`
}

func grantToResponse(g org.FarmAccessGrant) grantResponse {
	return grantResponse{ResourceID: g.ResourceID(), Access: string(g.Access())}
}

type resourcesResponse struct {
	Resources []grantResponse `json:"resources"`
}

type usageReportResponse struct {
	OrganizationID string              `json:"organization_id"`
	WindowStart    int64               `json:"window_start"`
	WindowEnd      int64               `json:"window_end"`
	Queries        int64               `json:"queries"`
	Covered        int64               `json:"covered"`
	Gaps           int64               `json:"gaps"`
	CoveragePct    float64             `json:"coverage_pct"`
	TopDocuments   []documentUsageLine `json:"top_documents"`
	GapEntries     []gapEntryLine      `json:"gap_entries"`
}

type documentUsageLine struct {
	DocumentID     string `json:"document_id"`
	QueryCount     int    `json:"query_count"`
	LastAccessedAt int64  `json:"last_accessed_at,omitempty"`
}

type gapEntryLine struct {
	Query           string  `json:"query"`
	AccessibleCount int     `json:"accessible_count"`
	BestScore       float64 `json:"best_score"`
	At              int64   `json:"at"`
}

func reportToResponse(r domusage.Report) usageReportResponse {
	top := make([]documentUsageLine, len(r.TopDocuments))
	for i, d := range r.TopDocuments {
		top[i] = documentUsageLine{
			DocumentID:     d.DocumentID,
			QueryCount:     d.QueryCount,
			LastAccessedAt: d.LastAccessedAt,
		}
	}
	gaps := make([]gapEntryLine, len(r.Gaps))
	for i, g := range r.Gaps {
		gaps[i] = gapEntryLine{
			Query:           g.Query,
			AccessibleCount: g.AccessibleCount,
			BestScore:       g.BestScore,
			At:              g.At,
		}
	}
	return usageReportResponse{
		OrganizationID: r.OrganizationID,
		WindowStart:    r.WindowStart,
		WindowEnd:      r.WindowEnd,
		Queries:        r.Counters.Queries,
		Covered:        r.Counters.Covered,
		Gaps:           r.Counters.Gaps,
		CoveragePct:    r.CoveragePct,
		TopDocuments:   top,
		GapEntries:     gaps,
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
