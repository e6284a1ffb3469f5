package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CustodyAction is the closed set of actions a custody event can record.
// Unknown values are rejected at the boundary via ParseAction.
type CustodyAction string

const (
	ActionCollected       CustodyAction = "collected"
	ActionTransferred     CustodyAction = "transferred"
	ActionAnalysisStarted CustodyAction = "analysis_started"
	ActionAnalysisEnded   CustodyAction = "analysis_ended"
	ActionArchived        CustodyAction = "archived"
)

// ParseAction validates a wire-format action string against the closed set.
func ParseAction(s string) (CustodyAction, error) {
	switch a := CustodyAction(s); a {
	case ActionCollected, ActionTransferred, ActionAnalysisStarted,
		ActionAnalysisEnded, ActionArchived:
		return a, nil
	default:
		return "", &ErrValidation{Msg: fmt.Sprintf("unknown custody action %q", s)}
	}
}

// EvidenceItem is an immutable registration of a piece of evidence.
// It is created once, at collection, and only ever referenced afterwards.
type EvidenceItem struct {
	ID           string    `json:"id"            db:"id"`
	CaseID       string    `json:"case_id"       db:"case_id"`
	EvidenceType string    `json:"evidence_type" db:"evidence_type"`
	Description  string    `json:"description"   db:"description"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at"`
}

// CustodyEvent is one immutable record of evidence possession or handling.
//
// Sequence is strictly increasing per evidence item, starting at 0 for the
// collection event. PrevHash is the EntryHash of the previous event for the
// same item (GenesisHash for sequence 0), and EntryHash is the digest over
// all other fields including PrevHash, computed under FormatVersion.
// Signature, when present, is an Ed25519 signature over EntryHash made by the
// configured notary.
type CustodyEvent struct {
	EvidenceID    string        `json:"evidence_id"         db:"evidence_id"`
	Sequence      int           `json:"sequence"            db:"seq"`
	Action        CustodyAction `json:"action"              db:"action"`
	ActorID       string        `json:"actor_id"            db:"actor_id"`
	Location      string        `json:"location"            db:"location"`
	Timestamp     time.Time     `json:"timestamp"           db:"occurred_at"`
	PrevHash      string        `json:"prev_hash"           db:"prev_hash"`
	EntryHash     string        `json:"entry_hash"          db:"entry_hash"`
	FormatVersion int           `json:"format_version"      db:"format_version"`
	Signature     string        `json:"signature,omitempty" db:"signature"`
}

// TransferStatus is the closed set of transfer request states.
// Approved, Rejected, and Cancelled are terminal.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferApproved  TransferStatus = "approved"
	TransferRejected  TransferStatus = "rejected"
	TransferCancelled TransferStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s TransferStatus) Terminal() bool {
	return s == TransferApproved || s == TransferRejected || s == TransferCancelled
}

// TransferRequest is a proposed change of evidence custody. It is mutable only
// until it reaches a terminal state, and is retained forever for audit.
type TransferRequest struct {
	ID          uuid.UUID      `json:"id"                   db:"id"`
	EvidenceID  string         `json:"evidence_id"          db:"evidence_id"`
	RequestedBy string         `json:"requested_by"         db:"requested_by"`
	Recipient   string         `json:"recipient"            db:"recipient"`
	Purpose     string         `json:"purpose"              db:"purpose"`
	Notes       string         `json:"notes"                db:"notes"`
	Status      TransferStatus `json:"status"               db:"status"`
	DecidedBy   string         `json:"decided_by,omitempty" db:"decided_by"`
	CreatedAt   time.Time      `json:"created_at"           db:"created_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
}

// Actor is an identity reference owned by the external auth collaborator.
// The core stores and threads actor ids; it never authenticates.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// RegisterEvidenceRequest is the payload for registering a new evidence item.
type RegisterEvidenceRequest struct {
	EvidenceID   string `json:"evidence_id"   binding:"required"`
	CaseID       string `json:"case_id"       binding:"required"`
	EvidenceType string `json:"evidence_type" binding:"required"`
	Description  string `json:"description"`
}

// AppendEventRequest is the payload for appending a custody event.
type AppendEventRequest struct {
	Action   string `json:"action"   binding:"required"`
	Location string `json:"location" binding:"required"`
}

// CreateTransferRequest is the payload for opening a transfer request.
type CreateTransferRequest struct {
	EvidenceID string `json:"evidence_id" binding:"required"`
	Recipient  string `json:"recipient"   binding:"required"`
	Purpose    string `json:"purpose"`
	Notes      string `json:"notes"`
}

// DecideTransferRequest is the payload for reject, which carries a reason.
type DecideTransferRequest struct {
	Reason string `json:"reason"`
}
