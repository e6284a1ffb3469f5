package ledger

import (
	"context"
	"time"

	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/hashchain"
)

// Signer signs entry hashes for appended events. *notary.Notary satisfies it.
type Signer interface {
	Sign(entryHash string) string
}

// Ledger is the append-only store of custody events per evidence item.
// Both MemoryLedger and PostgresLedger implement this interface.
//
// Append is the only mutation path for history: events are never edited or
// deleted. Appends for the same evidence item are mutually exclusive so that
// sequence assignment and prev-hash computation are atomic; appends for
// different items proceed independently.
type Ledger interface {
	// Register records a new evidence item. It must precede any Append for
	// that id. Re-registering an existing id fails with ErrDuplicateEvidence.
	Register(ctx context.Context, item *model.EvidenceItem) error

	// Append chains a new custody event onto the item's history and returns it.
	// A zero `at` is stamped with the ledger clock. Fails with
	// ErrUnknownEvidence for unregistered ids and ErrSequenceConflict when a
	// concurrent append claimed the same sequence number.
	Append(ctx context.Context, evidenceID string, action model.CustodyAction, actorID, location string, at time.Time) (*model.CustodyEvent, error)

	// History returns all events for the item in sequence order.
	// Unknown ids fail with ErrUnknownEvidence rather than an empty slice, so
	// callers can distinguish "never registered" from "registered, no events".
	History(ctx context.Context, evidenceID string) ([]*model.CustodyEvent, error)

	// Head returns the latest event, or nil when the item is registered but
	// has no events yet.
	Head(ctx context.Context, evidenceID string) (*model.CustodyEvent, error)

	// Item returns a registered evidence item by id.
	Item(ctx context.Context, evidenceID string) (*model.EvidenceItem, error)

	// Items returns all registered evidence items, ordered by registration time.
	Items(ctx context.Context) ([]*model.EvidenceItem, error)
}

// HashFields maps a custody event onto the canonical hash input. The audit
// service uses the same mapping when recomputing historical hashes.
func HashFields(e *model.CustodyEvent) hashchain.Fields {
	return hashchain.Fields{
		EvidenceID: e.EvidenceID,
		Sequence:   e.Sequence,
		Action:     string(e.Action),
		ActorID:    e.ActorID,
		Location:   e.Location,
		Timestamp:  e.Timestamp,
		PrevHash:   e.PrevHash,
	}
}
