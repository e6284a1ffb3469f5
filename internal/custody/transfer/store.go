package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// Store persists transfer requests. Both MemoryStore and PostgresStore
// implement this interface.
//
// Approve carries the workflow's atomicity contract: the request is marked
// approved and the "transferred" custody event is appended all-or-nothing.
// If the append fails for any reason, the request must remain pending.
type Store interface {
	// Create persists a new pending request. Fails with
	// model.ErrActiveTransferExists when the evidence item already has a
	// pending request.
	Create(ctx context.Context, req *model.TransferRequest) error

	// Get returns a request by id, or model.ErrRequestNotFound.
	Get(ctx context.Context, id uuid.UUID) (*model.TransferRequest, error)

	// ListByEvidence returns all requests for an evidence item, oldest first.
	ListByEvidence(ctx context.Context, evidenceID string) ([]*model.TransferRequest, error)

	// Approve atomically marks a pending request approved and appends exactly
	// one custody event recording the transfer. Fails with
	// model.ErrRequestNotFound or model.ErrRequestNotPending.
	Approve(ctx context.Context, id uuid.UUID, approverID string, at time.Time) (*model.TransferRequest, *model.CustodyEvent, error)

	// Finalize moves a pending request to a terminal non-approved state
	// (rejected or cancelled) without touching the ledger.
	Finalize(ctx context.Context, id uuid.UUID, status model.TransferStatus, deciderID, reason string, at time.Time) (*model.TransferRequest, error)
}
