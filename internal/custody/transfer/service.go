// Package transfer implements the custody transfer request workflow: a
// request/approve/reject/cancel state machine whose approval appends exactly
// one "transferred" event to the custody ledger, atomically.
package transfer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// Service contains the transfer workflow business logic.
//
// State machine: pending -> {approved, rejected, cancelled}; every terminal
// state is final and the request is retained forever as evidence of the
// decision. The appended custody event records the approver as the acting
// actor and the recipient as the new location.
type Service struct {
	store  Store
	ledger ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a transfer Service.
func NewService(store Store, l ledger.Ledger, logger *zap.Logger) *Service {
	return &Service{store: store, ledger: l, logger: logger, now: time.Now}
}

// SetClock replaces the wall-clock source. For tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Create opens a new pending transfer request for a registered evidence item.
func (s *Service) Create(ctx context.Context, req *model.CreateTransferRequest, requestedBy string) (*model.TransferRequest, error) {
	if requestedBy == "" {
		return nil, &model.ErrValidation{Msg: "requesting actor id is required"}
	}
	if _, err := s.ledger.Item(ctx, req.EvidenceID); err != nil {
		return nil, err
	}

	tr := &model.TransferRequest{
		ID:          uuid.New(),
		EvidenceID:  req.EvidenceID,
		RequestedBy: requestedBy,
		Recipient:   req.Recipient,
		Purpose:     req.Purpose,
		Notes:       req.Notes,
		Status:      model.TransferPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, tr); err != nil {
		return nil, err
	}

	s.logger.Info("transfer request created",
		zap.String("request_id", tr.ID.String()),
		zap.String("evidence_id", tr.EvidenceID),
		zap.String("requested_by", requestedBy),
		zap.String("recipient", tr.Recipient),
	)
	return tr, nil
}

// Approve decides a pending request and appends the transfer custody event.
// The two effects are indivisible: a failed append leaves the request pending.
func (s *Service) Approve(ctx context.Context, requestID uuid.UUID, approverID string) (*model.TransferRequest, *model.CustodyEvent, error) {
	if approverID == "" {
		return nil, nil, &model.ErrValidation{Msg: "approver actor id is required"}
	}

	req, event, err := s.store.Approve(ctx, requestID, approverID, s.now())
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("transfer approved",
		zap.String("request_id", requestID.String()),
		zap.String("evidence_id", req.EvidenceID),
		zap.String("approved_by", approverID),
		zap.Int("seq", event.Sequence),
	)
	return req, event, nil
}

// Reject decides a pending request negatively. No ledger mutation.
func (s *Service) Reject(ctx context.Context, requestID uuid.UUID, approverID, reason string) (*model.TransferRequest, error) {
	if approverID == "" {
		return nil, &model.ErrValidation{Msg: "deciding actor id is required"}
	}

	req, err := s.store.Finalize(ctx, requestID, model.TransferRejected, approverID, reason, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer rejected",
		zap.String("request_id", requestID.String()),
		zap.String("evidence_id", req.EvidenceID),
		zap.String("rejected_by", approverID),
	)
	return req, nil
}

// Cancel withdraws a pending request. Only the original requester may cancel.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID, requesterID string) (*model.TransferRequest, error) {
	if requesterID == "" {
		return nil, &model.ErrValidation{Msg: "requesting actor id is required"}
	}

	existing, err := s.store.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if existing.RequestedBy != requesterID {
		return nil, &model.ErrValidation{Msg: "only the original requester can cancel a transfer request"}
	}

	req, err := s.store.Finalize(ctx, requestID, model.TransferCancelled, requesterID, "", s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer cancelled",
		zap.String("request_id", requestID.String()),
		zap.String("evidence_id", req.EvidenceID),
	)
	return req, nil
}

// Get returns a single transfer request.
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*model.TransferRequest, error) {
	return s.store.Get(ctx, requestID)
}

// ListByEvidence returns the full request history for an evidence item.
func (s *Service) ListByEvidence(ctx context.Context, evidenceID string) ([]*model.TransferRequest, error) {
	if _, err := s.ledger.Item(ctx, evidenceID); err != nil {
		return nil, err
	}
	return s.store.ListByEvidence(ctx, evidenceID)
}
