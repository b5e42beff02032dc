package document

import (
	"fmt"
	"slices"

	"github.com/agrisage-cloud/knowd/internal/domain"
)

// MaxContentSize is the maximum raw document content size in bytes.
const MaxContentSize = 1 << 20 // 1MB

// Visibility is a document's default access policy.
type Visibility string

const (
	// VisibilityInternal restricts the document to its owning organization.
	VisibilityInternal Visibility = "internal"
	// VisibilityShared adds the explicit grantees on top of the owning organization.
	VisibilityShared Visibility = "shared"
	// VisibilityPublic makes the document readable by every organization.
	VisibilityPublic Visibility = "public"
)

// ParseVisibility validates a visibility string.
func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityInternal, VisibilityShared, VisibilityPublic:
		return Visibility(s), nil
	}
	return "", fmt.Errorf("unknown visibility %q: %w", s, domain.ErrValidation)
}

// State is a document's processing state.
type State string

const (
	// StatePending awaits a worker claim.
	StatePending State = "pending"
	// StateProcessing is exclusively claimed by a worker.
	StateProcessing State = "processing"
	// StateCompleted has its chunks indexed.
	StateCompleted State = "completed"
	// StateFailed is terminal until manual resubmission.
	StateFailed State = "failed"
)

// ParseState validates a state string.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown state %q: %w", s, domain.ErrValidation)
}

// CanTransition reports whether from→to is a legal state transition.
// failed→pending is the manual resubmission path; completed→pending is the
// forced reprocessing path.
func CanTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateProcessing
	case StateProcessing:
		return to == StateCompleted || to == StateFailed
	case StateFailed:
		return to == StatePending
	case StateCompleted:
		return to == StatePending
	}
	return false
}

// Sharing is the mutable access policy of a document: visibility plus the
// explicit grant lists. Grant lists are normalized (sorted, deduplicated) so
// equal policies compare equal.
type Sharing struct {
	visibility Visibility
	orgs       []string
	users      []string
}

// NewSharing validates and creates a Sharing policy.
func NewSharing(visibility Visibility, orgs, users []string) (Sharing, error) {
	if _, err := ParseVisibility(string(visibility)); err != nil {
		return Sharing{}, err
	}
	normOrgs, err := normalizeIDs(orgs, "organization")
	if err != nil {
		return Sharing{}, err
	}
	normUsers, err := normalizeIDs(users, "user")
	if err != nil {
		return Sharing{}, err
	}
	return Sharing{visibility: visibility, orgs: normOrgs, users: normUsers}, nil
}

// Visibility returns the default access policy.
func (s *Sharing) Visibility() Visibility { return s.visibility }

// Organizations returns the granted organization ids, sorted.
func (s *Sharing) Organizations() []string { return s.orgs }

// Users returns the granted user ids, sorted.
func (s *Sharing) Users() []string { return s.users }

func normalizeIDs(ids []string, kind string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !domain.IsValidID(id) {
			return nil, fmt.Errorf("invalid %s id %q: %w", kind, id, domain.ErrValidation)
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// Document is a knowledge document record (immutable value object).
// Chunks derived from it live in the chunk index, keyed by the document id.
type Document struct {
	id               string
	ownerOrg         string
	uploader         string
	contentRef       string
	contentType      string
	contentHash      string
	sharing          Sharing
	platformProvided bool
	state            State
	inconsistent     bool
	attempts         int
	chunkCount       int
	queryCount       int
	lastAccessedAt   int64
	updatedAt        int64
	createdAt        int64
}

// New validates and creates a Document in state pending.
func New(id, ownerOrg, uploader, contentRef, contentType string, visibility Visibility) (Document, error) {
	if !domain.IsValidID(id) {
		return Document{}, fmt.Errorf("invalid document id %q: %w", id, domain.ErrValidation)
	}
	if !domain.IsValidID(ownerOrg) {
		return Document{}, fmt.Errorf("invalid owner organization id %q: %w", ownerOrg, domain.ErrValidation)
	}
	if !domain.IsValidID(uploader) {
		return Document{}, fmt.Errorf("invalid uploader id %q: %w", uploader, domain.ErrValidation)
	}
	if contentRef == "" {
		return Document{}, fmt.Errorf("content reference is required: %w", domain.ErrValidation)
	}
	sharing, err := NewSharing(visibility, nil, nil)
	if err != nil {
		return Document{}, err
	}
	return Document{
		id:          id,
		ownerOrg:    ownerOrg,
		uploader:    uploader,
		contentRef:  contentRef,
		contentType: contentType,
		sharing:     sharing,
		state:       StatePending,
	}, nil
}

// Fields is the full field set used to hydrate a Document from storage.
type Fields struct {
	ID               string
	OwnerOrg         string
	Uploader         string
	ContentRef       string
	ContentType      string
	ContentHash      string
	Visibility       Visibility
	SharedOrgs       []string
	SharedUsers      []string
	PlatformProvided bool
	State            State
	Inconsistent     bool
	Attempts         int
	ChunkCount       int
	QueryCount       int
	LastAccessedAt   int64
	UpdatedAt        int64
	CreatedAt        int64
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(f Fields) Document {
	return Document{
		id:               f.ID,
		ownerOrg:         f.OwnerOrg,
		uploader:         f.Uploader,
		contentRef:       f.ContentRef,
		contentType:      f.ContentType,
		contentHash:      f.ContentHash,
		sharing:          Sharing{visibility: f.Visibility, orgs: f.SharedOrgs, users: f.SharedUsers},
		platformProvided: f.PlatformProvided,
		state:            f.State,
		inconsistent:     f.Inconsistent,
		attempts:         f.Attempts,
		chunkCount:       f.ChunkCount,
		queryCount:       f.QueryCount,
		lastAccessedAt:   f.LastAccessedAt,
		updatedAt:        f.UpdatedAt,
		createdAt:        f.CreatedAt,
	}
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// OwnerOrg returns the owning organization identifier.
func (d *Document) OwnerOrg() string { return d.ownerOrg }

// Uploader returns the uploading user identifier.
func (d *Document) Uploader() string { return d.uploader }

// ContentRef returns the reference into the content store.
func (d *Document) ContentRef() string { return d.contentRef }

// ContentType returns the declared MIME type.
func (d *Document) ContentType() string { return d.contentType }

// ContentHash returns the hash of the last successfully ingested content.
func (d *Document) ContentHash() string { return d.contentHash }

// Sharing returns the current access policy.
func (d *Document) Sharing() Sharing { return d.sharing }

// Visibility returns the default access policy.
func (d *Document) Visibility() Visibility { return d.sharing.visibility }

// PlatformProvided reports whether the document ships with the platform.
func (d *Document) PlatformProvided() bool { return d.platformProvided }

// State returns the processing state.
func (d *Document) State() State { return d.state }

// Inconsistent reports whether a failed rollback left this document blocked.
func (d *Document) Inconsistent() bool { return d.inconsistent }

// Attempts returns the number of ingestion attempts spent.
func (d *Document) Attempts() int { return d.attempts }

// ChunkCount returns the number of indexed chunks.
func (d *Document) ChunkCount() int { return d.chunkCount }

// QueryCount returns the number of retrievals that returned this document.
func (d *Document) QueryCount() int { return d.queryCount }

// LastAccessedAt returns the last retrieval time in unix millis.
func (d *Document) LastAccessedAt() int64 { return d.lastAccessedAt }

// UpdatedAt returns the monotonic version marker in unix millis.
func (d *Document) UpdatedAt() int64 { return d.updatedAt }

// CreatedAt returns the creation time in unix millis.
func (d *Document) CreatedAt() int64 { return d.createdAt }

// AccessibleBy reports whether the (user, organization) pair may read this
// document. Sharing is single-hop: grants never propagate through a third
// organization. Processing state is not considered here; retrieval only ever
// surfaces completed documents because only those have chunks.
func (d *Document) AccessibleBy(userID, orgID string) bool {
	if orgID != "" && d.ownerOrg == orgID {
		return true
	}
	if d.sharing.visibility == VisibilityPublic {
		return true
	}
	if orgID != "" && slices.Contains(d.sharing.orgs, orgID) {
		return true
	}
	if userID != "" && slices.Contains(d.sharing.users, userID) {
		return true
	}
	return false
}
