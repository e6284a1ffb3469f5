package ledger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/hashchain"
)

// uniqueViolation is the PostgreSQL error code for unique_violation.
const uniqueViolation = "23505"

// PostgresLedger persists custody chains to PostgreSQL. It implements Ledger.
// A successful Append return means the event has been committed.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	signer Signer
	now    func() time.Time
}

// NewPostgres creates a PostgresLedger backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger, now: time.Now}
}

// SetSigner configures an optional signer for appended events.
func (l *PostgresLedger) SetSigner(s Signer) { l.signer = s }

// SetClock replaces the wall-clock source used to stamp events. For tests.
func (l *PostgresLedger) SetClock(now func() time.Time) { l.now = now }

// advisoryKey derives a per-evidence-item advisory lock key, so concurrent
// appends on the same item serialise while different items proceed in parallel.
func advisoryKey(evidenceID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("custody_events:" + evidenceID))
	return int64(h.Sum64())
}

// Register implements Ledger.
func (l *PostgresLedger) Register(ctx context.Context, item *model.EvidenceItem) error {
	registeredAt := item.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = l.now().UTC()
	}
	_, err := l.pool.Exec(ctx,
		`INSERT INTO evidence_items (id, case_id, evidence_type, description, registered_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		item.ID, item.CaseID, item.EvidenceType, item.Description, registeredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrDuplicateEvidence
		}
		return fmt.Errorf("insert evidence item: %w", err)
	}
	item.RegisteredAt = registeredAt
	return nil
}

// Append implements Ledger.
func (l *PostgresLedger) Append(ctx context.Context, evidenceID string, action model.CustodyAction, actorID, location string, at time.Time) (*model.CustodyEvent, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	event, err := l.AppendInTx(ctx, tx, evidenceID, action, actorID, location, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit custody event: %w", err)
	}

	l.logger.Debug("custody event appended",
		zap.String("evidence_id", event.EvidenceID),
		zap.Int("seq", event.Sequence),
		zap.String("action", string(event.Action)),
	)
	return event, nil
}

// AppendInTx performs the chained append inside a caller-owned transaction.
// The transfer workflow uses it so that "mark approved" and "append event"
// commit or roll back together. It acquires a per-item advisory lock scoped to
// the transaction, reads the chain tail, computes hashes, and inserts the row.
func (l *PostgresLedger) AppendInTx(ctx context.Context, tx pgx.Tx, evidenceID string, action model.CustodyAction, actorID, location string, at time.Time) (*model.CustodyEvent, error) {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryKey(evidenceID)); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM evidence_items WHERE id = $1)", evidenceID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check evidence registration: %w", err)
	}
	if !exists {
		return nil, model.ErrUnknownEvidence
	}

	// Read the current tail of this item's chain.
	seq := 0
	prevHash := hashchain.GenesisHash
	var tailSeq int
	var tailHash string
	err := tx.QueryRow(ctx,
		"SELECT seq, entry_hash FROM custody_events WHERE evidence_id = $1 ORDER BY seq DESC LIMIT 1",
		evidenceID,
	).Scan(&tailSeq, &tailHash)
	switch {
	case err == nil:
		seq = tailSeq + 1
		prevHash = tailHash
	case errors.Is(err, pgx.ErrNoRows):
		// First event: sequence 0, anchored on the genesis constant.
	default:
		return nil, fmt.Errorf("read chain tail: %w", err)
	}

	if at.IsZero() {
		at = l.now()
	}
	event := &model.CustodyEvent{
		EvidenceID:    evidenceID,
		Sequence:      seq,
		Action:        action,
		ActorID:       actorID,
		Location:      location,
		Timestamp:     at.UTC(),
		PrevHash:      prevHash,
		FormatVersion: hashchain.CurrentFormat,
	}
	hash, err := hashchain.ComputeHash(event.FormatVersion, HashFields(event))
	if err != nil {
		return nil, err
	}
	event.EntryHash = hash
	if l.signer != nil {
		event.Signature = l.signer.Sign(event.EntryHash)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO custody_events
		   (evidence_id, seq, action, actor_id, location, occurred_at, prev_hash, entry_hash, format_version, signature)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		event.EvidenceID, event.Sequence, event.Action, event.ActorID, event.Location,
		event.Timestamp, event.PrevHash, event.EntryHash, event.FormatVersion, event.Signature,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// The unique (evidence_id, seq) index is the compare-and-swap
			// backstop should the advisory lock ever be bypassed.
			return nil, model.ErrSequenceConflict
		}
		return nil, fmt.Errorf("insert custody event: %w", err)
	}
	return event, nil
}

const eventColumns = `evidence_id, seq, action, actor_id, location, occurred_at, prev_hash, entry_hash, format_version, signature`

func scanEvent(row pgx.Row) (*model.CustodyEvent, error) {
	e := &model.CustodyEvent{}
	if err := row.Scan(
		&e.EvidenceID, &e.Sequence, &e.Action, &e.ActorID, &e.Location,
		&e.Timestamp, &e.PrevHash, &e.EntryHash, &e.FormatVersion, &e.Signature,
	); err != nil {
		return nil, err
	}
	return e, nil
}

// History implements Ledger.
func (l *PostgresLedger) History(ctx context.Context, evidenceID string) ([]*model.CustodyEvent, error) {
	if _, err := l.Item(ctx, evidenceID); err != nil {
		return nil, err
	}

	rows, err := l.pool.Query(ctx,
		"SELECT "+eventColumns+" FROM custody_events WHERE evidence_id = $1 ORDER BY seq ASC",
		evidenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var events []*model.CustodyEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan custody event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Head implements Ledger.
func (l *PostgresLedger) Head(ctx context.Context, evidenceID string) (*model.CustodyEvent, error) {
	if _, err := l.Item(ctx, evidenceID); err != nil {
		return nil, err
	}

	e, err := scanEvent(l.pool.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM custody_events WHERE evidence_id = $1 ORDER BY seq DESC LIMIT 1",
		evidenceID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	return e, nil
}

// Item implements Ledger.
func (l *PostgresLedger) Item(ctx context.Context, evidenceID string) (*model.EvidenceItem, error) {
	item := &model.EvidenceItem{}
	err := l.pool.QueryRow(ctx,
		"SELECT id, case_id, evidence_type, description, registered_at FROM evidence_items WHERE id = $1",
		evidenceID,
	).Scan(&item.ID, &item.CaseID, &item.EvidenceType, &item.Description, &item.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUnknownEvidence
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence item: %w", err)
	}
	return item, nil
}

// Items implements Ledger.
func (l *PostgresLedger) Items(ctx context.Context) ([]*model.EvidenceItem, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT id, case_id, evidence_type, description, registered_at FROM evidence_items ORDER BY registered_at ASC, id ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("query evidence items: %w", err)
	}
	defer rows.Close()

	var items []*model.EvidenceItem
	for rows.Next() {
		item := &model.EvidenceItem{}
		if err := rows.Scan(&item.ID, &item.CaseID, &item.EvidenceType, &item.Description, &item.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan evidence item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
