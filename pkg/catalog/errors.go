package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoStableIdentity is wrapped by IdentityResolutionError.
var ErrNoStableIdentity = errors.New("no stable identity found for this external id")

// Rejection is a blocking validation failure for one card.
type Rejection struct {
	NmID   int64  `json:"nm_id"`
	Index  int    `json:"index"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (r Rejection) String() string {
	if r.NmID == 0 {
		return fmt.Sprintf("card[%d] field=%s: %s", r.Index, r.Field, r.Reason)
	}
	return fmt.Sprintf("nm_id=%d field=%s: %s", r.NmID, r.Field, r.Reason)
}

// Warning is a non-blocking normalization notice.
type Warning struct {
	NmID    int64  `json:"nm_id"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every rejected card of a batch.
type ValidationError struct {
	Rejections []Rejection
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Rejections))
	for i, r := range e.Rejections {
		parts[i] = r.String()
	}
	return fmt.Sprintf("catalog validation failed with %d rejection(s): %s", len(e.Rejections), strings.Join(parts, "; "))
}

// IdentityResolutionError means a product's stable id could not be resolved before its sizes were written.
type IdentityResolutionError struct {
	NmID int64
}

func (e *IdentityResolutionError) Error() string {
	return fmt.Sprintf("%s: nm_id=%d", ErrNoStableIdentity.Error(), e.NmID)
}

func (e *IdentityResolutionError) Unwrap() error {
	return ErrNoStableIdentity
}

// ConflictError means a secondary unique key is already owned by another row.
type ConflictError struct {
	NmID       int64
	Column     string
	Value      string
	Constraint string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("nm_id=%d: %s %q already belongs to another row (%s)", e.NmID, e.Column, e.Value, e.Constraint)
}
