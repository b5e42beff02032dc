// Package chi is the HTTP surface of the knowledge service. Handlers decode,
// authorize against the directory, delegate to use cases and map domain
// errors to statuses. Identity arrives in trusted gateway headers; bearer
// API keys guard the service edge.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	chipkg "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agrisage-cloud/knowd/internal/domain"
	domdoc "github.com/agrisage-cloud/knowd/internal/domain/document"
	healthuc "github.com/agrisage-cloud/knowd/internal/usecase/health"
)

const defaultUsageWindow = 7 * 24 * time.Hour

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server wires the HTTP routes to the use case layer.
type Server struct {
	documents     Documents
	ingest        Ingestor
	retrieval     Retriever
	usage         UsageReporter
	access        AccessResolver
	directory     Directory
	health        Health
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	documents Documents,
	ingest Ingestor,
	retrieval Retriever,
	usage UsageReporter,
	access AccessResolver,
	directory Directory,
	health Health,
	logger *zap.Logger,
) *Server {
	s := &Server{
		documents: documents,
		ingest:    ingest,
		retrieval: retrieval,
		usage:     usage,
		access:    access,
		directory: directory,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		claimConflictHandler,
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrForbidden, http.StatusForbidden, codeForbidden),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrOrganizationNotFound, http.StatusNotFound, codeOrganizationNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, codeAlreadyExists),
		sentinelHandler(domain.ErrConsistency, http.StatusConflict, codeConsistencyViolation),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProviderDown),
	}
	return s
}

// Register mounts all routes on the router.
func (s *Server) Register(r chipkg.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Post("/documents", s.handleSubmitDocument)
	r.Get("/documents/{id}", s.handleGetDocument)
	r.Delete("/documents/{id}", s.handleDeleteDocument)
	r.Put("/documents/{id}/sharing", s.handleUpdateSharing)
	r.Post("/documents/{id}/resubmit", s.handleResubmit)

	r.Post("/retrieve", s.handleRetrieve)
	r.Get("/access/resources", s.handleAccessResources)

	r.Post("/organizations", s.handleCreateOrganization)
	r.Get("/organizations/{orgID}", s.handleGetOrganization)
	r.Delete("/organizations/{orgID}", s.handleDeleteOrganization)
	r.Get("/organizations/{orgID}/usage", s.handleUsage)
	r.Put("/organizations/{orgID}/members/{userID}", s.handleUpsertMember)
	r.Get("/organizations/{orgID}/members", s.handleListMembers)
	r.Delete("/organizations/{orgID}/members/{userID}", s.handleRemoveMember)
	r.Put("/organizations/{orgID}/grants/{resourceID}", s.handleGrantFarmAccess)
	r.Get("/organizations/{orgID}/grants", s.handleListGrants)
	r.Delete("/organizations/{orgID}/grants/{resourceID}", s.handleRevokeGrant)
}

// handleSubmitDocument handles POST /documents.
func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req submitDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	visibility, err := domdoc.ParseVisibility(req.Visibility)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if err := s.directory.AuthorizeWriter(r.Context(), id.OrgID, id.UserID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	docID, err := s.ingest.Submit(r.Context(), id.OrgID, id.UserID, req.ContentRef, req.ContentType, visibility)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, submitDocumentResponse{
		ID:    docID,
		State: string(domdoc.StatePending),
	})
}

// handleGetDocument handles GET /documents/{id}. Documents the caller cannot
// read answer 404, not 403, so existence is never disclosed.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	doc, err := s.documents.Get(r.Context(), chipkg.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if !doc.AccessibleBy(id.UserID, id.OrgID) {
		writeError(w, http.StatusNotFound, codeDocumentNotFound, domain.ErrDocumentNotFound.Error())
		return
	}

	writeJSON(w, http.StatusOK, documentToResponse(&doc))
}

// handleDeleteDocument handles DELETE /documents/{id}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	docID := chipkg.URLParam(r, "id")

	if !s.authorizeDocumentWriter(w, r, docID, id) {
		return
	}
	if err := s.ingest.RemoveDocument(r.Context(), docID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleUpdateSharing handles PUT /documents/{id}/sharing.
func (s *Server) handleUpdateSharing(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	docID := chipkg.URLParam(r, "id")

	var req updateSharingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	visibility, err := domdoc.ParseVisibility(req.Visibility)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	sharing, err := domdoc.NewSharing(visibility, req.Organizations, req.Users)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if !s.authorizeDocumentWriter(w, r, docID, id) {
		return
	}

	updatedAt, err := s.documents.UpdateSharing(r.Context(), docID, sharing)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updateSharingResponse{UpdatedAt: updatedAt})
}

// handleResubmit handles POST /documents/{id}/resubmit.
func (s *Server) handleResubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	docID := chipkg.URLParam(r, "id")
	force := r.URL.Query().Get("force") == "1"

	if !s.authorizeDocumentWriter(w, r, docID, id) {
		return
	}
	if err := s.ingest.Resubmit(r.Context(), docID, force); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// authorizeDocumentWriter loads the document and checks the caller holds a
// writer role in its owning organization. Writes the error response itself.
func (s *Server) authorizeDocumentWriter(
	w http.ResponseWriter, r *http.Request, docID string, id Identity,
) bool {
	doc, err := s.documents.Get(r.Context(), docID)
	if err != nil {
		s.handleDomainError(w, err)
		return false
	}
	if err := s.directory.AuthorizeWriter(r.Context(), doc.OwnerOrg(), id.UserID); err != nil {
		s.handleDomainError(w, err)
		return false
	}
	return true
}

// handleRetrieve handles POST /retrieve.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	matches, err := s.retrieval.Retrieve(r.Context(), req.Query, id.UserID, id.OrgID, req.K)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, matchesToResponse(matches))
}

// handleAccessResources handles GET /access/resources.
func (s *Server) handleAccessResources(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	set, err := s.access.ResolveResources(r.Context(), id.UserID, id.OrgID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	resources := make([]grantResponse, 0, set.Len())
	for _, rid := range set.Resources() {
		access, _ := set.Access(rid)
		resources = append(resources, grantResponse{ResourceID: rid, Access: string(access)})
	}

	writeJSON(w, http.StatusOK, resourcesResponse{Resources: resources})
}

// handleUsage handles GET /organizations/{orgID}/usage.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orgID := chipkg.URLParam(r, "orgID")

	window := defaultUsageWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, codeValidationFailed, "window must be a positive duration")
			return
		}
		window = parsed
	}

	if err := s.directory.AuthorizeMember(r.Context(), orgID, id.UserID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	report, err := s.usage.Report(r.Context(), orgID, window)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, reportToResponse(report))
}

// handleCreateOrganization handles POST /organizations.
func (s *Server) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req organizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	o, err := s.directory.CreateOrganization(r.Context(), req.ID, req.Name)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, organizationToResponse(o))
}

// handleGetOrganization handles GET /organizations/{orgID}.
func (s *Server) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := s.directory.GetOrganization(r.Context(), chipkg.URLParam(r, "orgID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, organizationToResponse(o))
}

// handleDeleteOrganization handles DELETE /organizations/{orgID}.
func (s *Server) handleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.DeleteOrganization(r.Context(), chipkg.URLParam(r, "orgID")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUpsertMember handles PUT /organizations/{orgID}/members/{userID}.
func (s *Server) handleUpsertMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := s.directory.UpsertMember(r.Context(),
		chipkg.URLParam(r, "orgID"), chipkg.URLParam(r, "userID"), req.Role)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, membershipToResponse(m))
}

// handleListMembers handles GET /organizations/{orgID}/members.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.directory.ListMembers(r.Context(), chipkg.URLParam(r, "orgID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]memberResponse, len(members))
	for i, m := range members {
		items[i] = membershipToResponse(m)
	}
	writeJSON(w, http.StatusOK, items)
}

// handleRemoveMember handles DELETE /organizations/{orgID}/members/{userID}.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	err := s.directory.RemoveMember(r.Context(), chipkg.URLParam(r, "orgID"), chipkg.URLParam(r, "userID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGrantFarmAccess handles PUT /organizations/{orgID}/grants/{resourceID}.
func (s *Server) handleGrantFarmAccess(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	g, err := s.directory.GrantFarmAccess(r.Context(),
		chipkg.URLParam(r, "orgID"), chipkg.URLParam(r, "resourceID"), req.Access)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grantToResponse(g))
}

// handleListGrants handles GET /organizations/{orgID}/grants.
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := s.directory.ListFarmGrants(r.Context(), chipkg.URLParam(r, "orgID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items := make([]grantResponse, len(grants))
	for i, g := range grants {
		items[i] = grantToResponse(g)
	}
	writeJSON(w, http.StatusOK, items)
}

// handleRevokeGrant handles DELETE /organizations/{orgID}/grants/{resourceID}.
func (s *Server) handleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	err := s.directory.RevokeFarmAccess(r.Context(), chipkg.URLParam(r, "orgID"), chipkg.URLParam(r, "resourceID"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrValidation,
		domain.ErrForbidden,
		domain.ErrDocumentNotFound,
		domain.ErrOrganizationNotFound,
		domain.ErrNotFound,
		domain.ErrAlreadyExists,
		domain.ErrClaimConflict,
		domain.ErrConsistency,
		domain.ErrEmbeddingProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// claimConflictHandler handles ErrClaimConflict with the blocking state.
func claimConflictHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrClaimConflict) {
		return false
	}
	var cce *domain.ClaimConflictError
	if errors.As(err, &cce) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"code":    codeClaimConflict,
			"message": msg,
			"state":   cce.State,
		})
		return true
	}
	writeError(w, http.StatusConflict, codeClaimConflict, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
