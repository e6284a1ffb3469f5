package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/hashchain"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu     sync.RWMutex // guards the items map itself
	items  map[string]*itemChain
	signer Signer
	now    func() time.Time
}

// itemChain holds one evidence item's chain. Its own lock serializes appends
// per item, so appends on different items never block each other.
type itemChain struct {
	mu     sync.RWMutex
	item   model.EvidenceItem
	events []*model.CustodyEvent
}

// NewMemory creates an empty MemoryLedger.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		items: make(map[string]*itemChain),
		now:   time.Now,
	}
}

// SetSigner configures an optional signer; appended events then carry a
// signature over their entry hash.
func (l *MemoryLedger) SetSigner(s Signer) { l.signer = s }

// SetClock replaces the wall-clock source used to stamp events. For tests.
func (l *MemoryLedger) SetClock(now func() time.Time) { l.now = now }

// Register implements Ledger.
func (l *MemoryLedger) Register(_ context.Context, item *model.EvidenceItem) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.items[item.ID]; ok {
		return model.ErrDuplicateEvidence
	}
	reg := *item
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = l.now().UTC()
	}
	l.items[item.ID] = &itemChain{item: reg}
	return nil
}

func (l *MemoryLedger) chain(evidenceID string) (*itemChain, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.items[evidenceID]
	if !ok {
		return nil, model.ErrUnknownEvidence
	}
	return c, nil
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, evidenceID string, action model.CustodyAction, actorID, location string, at time.Time) (*model.CustodyEvent, error) {
	c, err := l.chain(evidenceID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq := len(c.events)
	prevHash := hashchain.GenesisHash
	if seq > 0 {
		prevHash = c.events[seq-1].EntryHash
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

	c.events = append(c.events, event)
	cp := *event
	return &cp, nil
}

// History implements Ledger. The returned events are copies: callers can not
// reach into the stored chain.
func (l *MemoryLedger) History(_ context.Context, evidenceID string) ([]*model.CustodyEvent, error) {
	c, err := l.chain(evidenceID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*model.CustodyEvent, len(c.events))
	for i, e := range c.events {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// Head implements Ledger.
func (l *MemoryLedger) Head(_ context.Context, evidenceID string) (*model.CustodyEvent, error) {
	c, err := l.chain(evidenceID)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.events) == 0 {
		return nil, nil
	}
	cp := *c.events[len(c.events)-1]
	return &cp, nil
}

// Item implements Ledger.
func (l *MemoryLedger) Item(_ context.Context, evidenceID string) (*model.EvidenceItem, error) {
	c, err := l.chain(evidenceID)
	if err != nil {
		return nil, err
	}
	cp := c.item
	return &cp, nil
}

// Items implements Ledger.
func (l *MemoryLedger) Items(_ context.Context) ([]*model.EvidenceItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*model.EvidenceItem, 0, len(l.items))
	for _, c := range l.items {
		cp := c.item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out, nil
}

// Tamper overwrites a stored field of a historical event, bypassing the
// append-only contract. It exists only so integrity-detection tests can
// simulate out-of-band corruption.
func (l *MemoryLedger) Tamper(evidenceID string, seq int, mutate func(*model.CustodyEvent)) error {
	c, err := l.chain(evidenceID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq < 0 || seq >= len(c.events) {
		return model.ErrNotFound
	}
	mutate(c.events[seq])
	return nil
}
