package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// PostgresStore persists transfer requests to PostgreSQL. Approval runs in a
// single transaction together with the ledger append, sharing the ledger's
// per-item advisory lock, so the decision and the custody event commit or
// roll back as one.
type PostgresStore struct {
	pool   *pgxpool.Pool
	ledger *ledger.PostgresLedger
	logger *zap.Logger
}

// NewPostgres creates a PostgresStore. The ledger must be backed by the same
// database as pool, since Approve spans both in one transaction.
func NewPostgres(pool *pgxpool.Pool, l *ledger.PostgresLedger, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, ledger: l, logger: logger}
}

// Create implements Store. The partial unique index on
// transfer_requests (evidence_id) WHERE status = 'pending' enforces the
// one-pending-per-item invariant even under concurrent creates.
func (s *PostgresStore) Create(ctx context.Context, req *model.TransferRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transfer_requests
		   (id, evidence_id, requested_by, recipient, purpose, notes, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.EvidenceID, req.RequestedBy, req.Recipient,
		req.Purpose, req.Notes, req.Status, req.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrActiveTransferExists
		}
		return fmt.Errorf("insert transfer request: %w", err)
	}
	return nil
}

const requestColumns = `id, evidence_id, requested_by, recipient, purpose, notes, status, decided_by, decided_at, created_at`

func scanRequest(row pgx.Row) (*model.TransferRequest, error) {
	req := &model.TransferRequest{}
	var decidedBy *string
	if err := row.Scan(
		&req.ID, &req.EvidenceID, &req.RequestedBy, &req.Recipient,
		&req.Purpose, &req.Notes, &req.Status, &decidedBy, &req.DecidedAt, &req.CreatedAt,
	); err != nil {
		return nil, err
	}
	if decidedBy != nil {
		req.DecidedBy = *decidedBy
	}
	return req, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*model.TransferRequest, error) {
	req, err := scanRequest(s.pool.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM transfer_requests WHERE id = $1", id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transfer request: %w", err)
	}
	return req, nil
}

// ListByEvidence implements Store.
func (s *PostgresStore) ListByEvidence(ctx context.Context, evidenceID string) ([]*model.TransferRequest, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+requestColumns+" FROM transfer_requests WHERE evidence_id = $1 ORDER BY created_at ASC",
		evidenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transfer requests: %w", err)
	}
	defer rows.Close()

	var out []*model.TransferRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Approve implements Store.
func (s *PostgresStore) Approve(ctx context.Context, id uuid.UUID, approverID string, at time.Time) (*model.TransferRequest, *model.CustodyEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the request row for the duration of the decision.
	req, err := scanRequest(tx.QueryRow(ctx,
		"SELECT "+requestColumns+" FROM transfer_requests WHERE id = $1 FOR UPDATE", id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, model.ErrRequestNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("lock transfer request: %w", err)
	}
	if req.Status != model.TransferPending {
		return nil, nil, model.ErrRequestNotPending
	}

	event, err := s.ledger.AppendInTx(ctx, tx, req.EvidenceID, model.ActionTransferred, approverID, req.Recipient, at)
	if err != nil {
		return nil, nil, err
	}

	decided := at.UTC()
	if _, err := tx.Exec(ctx,
		"UPDATE transfer_requests SET status = $2, decided_by = $3, decided_at = $4 WHERE id = $1",
		id, model.TransferApproved, approverID, decided,
	); err != nil {
		return nil, nil, fmt.Errorf("mark request approved: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit approval: %w", err)
	}

	s.logger.Debug("transfer approved",
		zap.String("request_id", id.String()),
		zap.String("evidence_id", req.EvidenceID),
		zap.Int("seq", event.Sequence),
	)

	req.Status = model.TransferApproved
	req.DecidedBy = approverID
	req.DecidedAt = &decided
	return req, event, nil
}

// Finalize implements Store.
func (s *PostgresStore) Finalize(ctx context.Context, id uuid.UUID, status model.TransferStatus, deciderID, reason string, at time.Time) (*model.TransferRequest, error) {
	decided := at.UTC()

	query := `UPDATE transfer_requests
	          SET status = $2, decided_by = $3, decided_at = $4,
	              notes = CASE WHEN $5 <> '' THEN $5 ELSE notes END
	          WHERE id = $1 AND status = 'pending'`
	tag, err := s.pool.Exec(ctx, query, id, status, deciderID, decided, reason)
	if err != nil {
		return nil, fmt.Errorf("finalize transfer request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already-decided.
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, model.ErrRequestNotPending
	}
	return s.Get(ctx, id)
}
