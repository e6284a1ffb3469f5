package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/hashchain"
)

var ctx = context.Background()

func register(t *testing.T, l *ledger.MemoryLedger, id, caseID string) {
	t.Helper()
	err := l.Register(ctx, &model.EvidenceItem{
		ID:           id,
		CaseID:       caseID,
		EvidenceType: "physical",
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestRegister_duplicate(t *testing.T) {
	l := ledger.NewMemory()
	register(t, l, "E-100", "C-1")

	err := l.Register(ctx, &model.EvidenceItem{ID: "E-100", CaseID: "C-1"})
	if !errors.Is(err, model.ErrDuplicateEvidence) {
		t.Errorf("expected ErrDuplicateEvidence, got %v", err)
	}
	if !errors.Is(err, model.ErrConflict) {
		t.Errorf("duplicate registration must classify as a conflict")
	}
}

func TestAppend_unknownEvidence(t *testing.T) {
	l := ledger.NewMemory()
	_, err := l.Append(ctx, "E-404", model.ActionCollected, "officer-7", "Scene A", time.Time{})
	if !errors.Is(err, model.ErrUnknownEvidence) {
		t.Errorf("expected ErrUnknownEvidence, got %v", err)
	}
}

func TestAppend_chainsFromGenesis(t *testing.T) {
	l := ledger.NewMemory()
	register(t, l, "E-100", "C-1")

	e0, err := l.Append(ctx, "E-100", model.ActionCollected, "officer-7", "Scene A", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if e0.Sequence != 0 {
		t.Errorf("first event sequence: got %d, want 0", e0.Sequence)
	}
	if e0.PrevHash != hashchain.GenesisHash {
		t.Errorf("first event prev_hash: got %q, want genesis", e0.PrevHash)
	}

	e1, err := l.Append(ctx, "E-100", model.ActionAnalysisStarted, "analyst-2", "Lab-A", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if e1.Sequence != 1 {
		t.Errorf("second event sequence: got %d, want 1", e1.Sequence)
	}
	if e1.PrevHash != e0.EntryHash {
		t.Errorf("chain broken: e1.PrevHash=%q, want e0.EntryHash=%q", e1.PrevHash, e0.EntryHash)
	}

	// The stored entry hash must match a recomputation from the stored fields.
	ok, err := hashchain.VerifyEntry(e1.FormatVersion, ledger.HashFields(e1), e1.EntryHash)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("stored entry hash does not match recomputation")
	}
}

func TestAppend_usesInjectedClock(t *testing.T) {
	l := ledger.NewMemory()
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return fixed })
	register(t, l, "E-100", "C-1")

	e, err := l.Append(ctx, "E-100", model.ActionCollected, "officer-7", "Scene A", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !e.Timestamp.Equal(fixed) {
		t.Errorf("timestamp: got %v, want injected clock value %v", e.Timestamp, fixed)
	}
}

func TestHistory_sequencesContiguous(t *testing.T) {
	l := ledger.NewMemory()
	register(t, l, "E-100", "C-1")

	actions := []model.CustodyAction{
		model.ActionCollected,
		model.ActionTransferred,
		model.ActionAnalysisStarted,
		model.ActionAnalysisEnded,
		model.ActionArchived,
	}
	for _, a := range actions {
		if _, err := l.Append(ctx, "E-100", a, "actor", "loc", time.Time{}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := l.History(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(actions) {
		t.Fatalf("expected %d events, got %d", len(actions), len(events))
	}
	for i, e := range events {
		if e.Sequence != i {
			t.Errorf("events[%d].Sequence = %d, want %d", i, e.Sequence, i)
		}
		if i > 0 && e.PrevHash != events[i-1].EntryHash {
			t.Errorf("linkage broken at sequence %d", i)
		}
	}
}

func TestHistory_unknownEvidence(t *testing.T) {
	l := ledger.NewMemory()
	if _, err := l.History(ctx, "E-404"); !errors.Is(err, model.ErrUnknownEvidence) {
		t.Errorf("expected ErrUnknownEvidence, got %v", err)
	}
}

func TestHistory_returnsCopies(t *testing.T) {
	l := ledger.NewMemory()
	register(t, l, "E-100", "C-1")
	if _, err := l.Append(ctx, "E-100", model.ActionCollected, "officer-7", "Scene A", time.Time{}); err != nil {
		t.Fatal(err)
	}

	first, _ := l.History(ctx, "E-100")
	first[0].Location = "somewhere else"

	second, _ := l.History(ctx, "E-100")
	if second[0].Location != "Scene A" {
		t.Error("mutating a History result leaked into the ledger")
	}
}

func TestHead(t *testing.T) {
	l := ledger.NewMemory()
	register(t, l, "E-100", "C-1")

	head, err := l.Head(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if head != nil {
		t.Errorf("head of empty chain: got %+v, want nil", head)
	}

	e, _ := l.Append(ctx, "E-100", model.ActionCollected, "officer-7", "Scene A", time.Time{})
	head, err = l.Head(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if head == nil || head.EntryHash != e.EntryHash {
		t.Errorf("head: got %+v, want event %q", head, e.EntryHash)
	}

	if _, err := l.Head(ctx, "E-404"); !errors.Is(err, model.ErrUnknownEvidence) {
		t.Errorf("expected ErrUnknownEvidence, got %v", err)
	}
}

func TestAppend_concurrentSameItem(t *testing.T) {
	l := ledger.NewMemory()
	register(t, l, "E-100", "C-1")
	if _, err := l.Append(ctx, "E-100", model.ActionCollected, "officer-7", "Scene A", time.Time{}); err != nil {
		t.Fatal(err)
	}

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, "E-100", model.ActionAnalysisStarted, "analyst", "Lab-A", time.Time{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append failed: %v", err)
		}
	}

	events, err := l.History(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != n+1 {
		t.Fatalf("expected %d events, got %d", n+1, len(events))
	}
	// Sequences must be exactly {0..n} with intact linkage throughout.
	for i, e := range events {
		if e.Sequence != i {
			t.Fatalf("events[%d].Sequence = %d", i, e.Sequence)
		}
		if i > 0 && e.PrevHash != events[i-1].EntryHash {
			t.Fatalf("linkage broken at sequence %d under concurrency", i)
		}
	}
}

func TestAppend_concurrentDistinctItems(t *testing.T) {
	l := ledger.NewMemory()
	ids := []string{"E-1", "E-2", "E-3", "E-4"}
	for _, id := range ids {
		register(t, l, id, "C-1")
	}

	const perItem = 20
	var wg sync.WaitGroup
	for _, id := range ids {
		for i := 0; i < perItem; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := l.Append(ctx, id, model.ActionAnalysisStarted, "analyst", "Lab-A", time.Time{}); err != nil {
					t.Error(err)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range ids {
		events, err := l.History(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != perItem {
			t.Errorf("item %s: expected %d events, got %d", id, perItem, len(events))
		}
	}
}

func TestItems_sortedByRegistration(t *testing.T) {
	l := ledger.NewMemory()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"E-3", "E-1", "E-2"} {
		at := base.Add(time.Duration(i) * time.Hour)
		err := l.Register(ctx, &model.EvidenceItem{ID: id, CaseID: "C-1", RegisteredAt: at})
		if err != nil {
			t.Fatal(err)
		}
	}

	items, err := l.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"E-3", "E-1", "E-2"}
	for i, item := range items {
		if item.ID != want[i] {
			t.Errorf("items[%d] = %s, want %s", i, item.ID, want[i])
		}
	}
}
