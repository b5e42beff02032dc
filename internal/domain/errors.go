package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrOrganizationNotFound signals an unknown organization.
	ErrOrganizationNotFound = errors.New("organization not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrValidation signals malformed input, rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrClaimConflict signals a concurrent claim of a document already being processed.
	ErrClaimConflict = errors.New("document claim conflict")
	// ErrIngestion signals an extraction or embedding failure during ingestion.
	ErrIngestion = errors.New("ingestion failed")
	// ErrConsistency signals a failed rollback leaving orphaned chunks behind.
	ErrConsistency = errors.New("consistency violation")
	// ErrForbidden signals an operation denied by membership or role.
	ErrForbidden = errors.New("forbidden")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)

// ClaimConflictError wraps ErrClaimConflict with the state that blocked the claim.
type ClaimConflictError struct {
	DocumentID string
	State      string
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("%s: document %s is %s", ErrClaimConflict.Error(), e.DocumentID, e.State)
}

func (e *ClaimConflictError) Unwrap() error { return ErrClaimConflict }

// NewClaimConflict creates a claim conflict error.
func NewClaimConflict(documentID, state string) error {
	return &ClaimConflictError{DocumentID: documentID, State: state}
}

// ConsistencyError wraps ErrConsistency with the document whose rollback failed.
// Documents carrying this error are blocked from further processing until
// manually resolved.
type ConsistencyError struct {
	DocumentID string
	Err        error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: document %s: %v", ErrConsistency.Error(), e.DocumentID, e.Err)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// NewConsistencyError creates a consistency error for a failed rollback.
func NewConsistencyError(documentID string, err error) error {
	return &ConsistencyError{DocumentID: documentID, Err: err}
}
