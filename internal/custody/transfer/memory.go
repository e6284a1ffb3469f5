package transfer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*model.TransferRequest
	ledger   ledger.Ledger
}

// NewMemory creates a MemoryStore that appends approved transfers to l.
func NewMemory(l ledger.Ledger) *MemoryStore {
	return &MemoryStore{
		requests: make(map[uuid.UUID]*model.TransferRequest),
		ledger:   l,
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, req *model.TransferRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.requests {
		if existing.EvidenceID == req.EvidenceID && existing.Status == model.TransferPending {
			return model.ErrActiveTransferExists
		}
	}
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*model.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

// ListByEvidence implements Store.
func (s *MemoryStore) ListByEvidence(_ context.Context, evidenceID string) ([]*model.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.TransferRequest
	for _, req := range s.requests {
		if req.EvidenceID == evidenceID {
			cp := *req
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Approve implements Store. The ledger append happens before the status flip;
// an append failure leaves the request pending, so approval is never recorded
// without its custody event.
func (s *MemoryStore) Approve(ctx context.Context, id uuid.UUID, approverID string, at time.Time) (*model.TransferRequest, *model.CustodyEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, nil, model.ErrRequestNotFound
	}
	if req.Status != model.TransferPending {
		return nil, nil, model.ErrRequestNotPending
	}

	event, err := s.ledger.Append(ctx, req.EvidenceID, model.ActionTransferred, approverID, req.Recipient, at)
	if err != nil {
		return nil, nil, err
	}

	decided := at.UTC()
	req.Status = model.TransferApproved
	req.DecidedBy = approverID
	req.DecidedAt = &decided

	cp := *req
	return &cp, event, nil
}

// Finalize implements Store.
func (s *MemoryStore) Finalize(_ context.Context, id uuid.UUID, status model.TransferStatus, deciderID, reason string, at time.Time) (*model.TransferRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, model.ErrRequestNotFound
	}
	if req.Status != model.TransferPending {
		return nil, model.ErrRequestNotPending
	}

	decided := at.UTC()
	req.Status = status
	req.DecidedBy = deciderID
	req.DecidedAt = &decided
	if reason != "" {
		req.Notes = reason
	}

	cp := *req
	return &cp, nil
}
