package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/audit"
	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
	"github.com/custodia-forensics/custodia/internal/hashchain"
)

var ctx = context.Background()

func buildChain(t *testing.T, n int) *ledger.MemoryLedger {
	t.Helper()
	l := ledger.NewMemory()
	if err := l.Register(ctx, &model.EvidenceItem{ID: "E-100", CaseID: "C-1", EvidenceType: "physical"}); err != nil {
		t.Fatal(err)
	}
	actions := []model.CustodyAction{model.ActionCollected, model.ActionTransferred, model.ActionAnalysisStarted, model.ActionArchived}
	for i := 0; i < n; i++ {
		if _, err := l.Append(ctx, "E-100", actions[i%len(actions)], "actor", "loc", time.Time{}); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func TestVerify_intactChain(t *testing.T) {
	l := buildChain(t, 4)
	v := audit.NewVerifier(l, zap.NewNop())

	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Intact {
		t.Errorf("untouched chain reported broken at %v (%s)", res.BrokenAt, res.Kind)
	}
	if res.Recomputed != 4 {
		t.Errorf("recomputed: got %d, want 4", res.Recomputed)
	}
	if res.BrokenAt != nil {
		t.Error("BrokenAt must be nil for an intact chain")
	}
}

func TestVerify_unknownEvidence(t *testing.T) {
	v := audit.NewVerifier(ledger.NewMemory(), zap.NewNop())
	if _, err := v.Verify(ctx, "E-404"); !errors.Is(err, model.ErrUnknownEvidence) {
		t.Errorf("expected ErrUnknownEvidence, got %v", err)
	}
}

func TestVerify_emptyChainIsIntact(t *testing.T) {
	l := ledger.NewMemory()
	if err := l.Register(ctx, &model.EvidenceItem{ID: "E-100", CaseID: "C-1"}); err != nil {
		t.Fatal(err)
	}
	v := audit.NewVerifier(l, zap.NewNop())

	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Intact || res.Recomputed != 0 {
		t.Errorf("registered-but-uncollected item: intact=%v recomputed=%d", res.Intact, res.Recomputed)
	}
}

func TestVerify_fieldTamper(t *testing.T) {
	l := buildChain(t, 4)
	err := l.Tamper("E-100", 2, func(e *model.CustodyEvent) {
		e.Location = "unauthorised storage"
	})
	if err != nil {
		t.Fatal(err)
	}

	v := audit.NewVerifier(l, zap.NewNop())
	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if res.Intact {
		t.Fatal("tampered chain reported intact")
	}
	if *res.BrokenAt != 2 {
		t.Errorf("broken_at: got %d, want 2", *res.BrokenAt)
	}
	if res.Kind != audit.BreakHashMismatch {
		t.Errorf("kind: got %q, want hash_mismatch", res.Kind)
	}
	if res.Recomputed != 4 {
		t.Errorf("scan must not stop at the break: recomputed %d of 4", res.Recomputed)
	}
}

func TestVerify_hashOverwriteAtGenesis(t *testing.T) {
	l := buildChain(t, 2)
	err := l.Tamper("E-100", 0, func(e *model.CustodyEvent) {
		e.EntryHash = "deadbeef" + e.EntryHash[8:]
	})
	if err != nil {
		t.Fatal(err)
	}

	v := audit.NewVerifier(l, zap.NewNop())
	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if res.Intact {
		t.Fatal("chain with overwritten hash reported intact")
	}
	// The first break is the rewritten entry itself, not the orphaned successor.
	if *res.BrokenAt != 0 {
		t.Errorf("broken_at: got %d, want 0", *res.BrokenAt)
	}
	if res.Kind != audit.BreakHashMismatch {
		t.Errorf("kind: got %q, want hash_mismatch", res.Kind)
	}
}

func TestVerify_chainSplice(t *testing.T) {
	l := buildChain(t, 3)

	// Rewrite event 1's prev_hash and recompute its entry hash so the entry
	// itself is self-consistent but no longer points at its real predecessor.
	err := l.Tamper("E-100", 1, func(e *model.CustodyEvent) {
		e.PrevHash = hashchain.GenesisHash
		h, err := hashchain.ComputeHash(e.FormatVersion, ledger.HashFields(e))
		if err != nil {
			t.Fatal(err)
		}
		e.EntryHash = h
	})
	if err != nil {
		t.Fatal(err)
	}

	v := audit.NewVerifier(l, zap.NewNop())
	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if res.Intact {
		t.Fatal("spliced chain reported intact")
	}
	if *res.BrokenAt != 1 {
		t.Errorf("broken_at: got %d, want 1", *res.BrokenAt)
	}
	if res.Kind != audit.BreakChainSplice {
		t.Errorf("kind: got %q, want chain_splice (not hash_mismatch)", res.Kind)
	}
}

func TestVerify_sequenceGap(t *testing.T) {
	l := buildChain(t, 3)
	err := l.Tamper("E-100", 1, func(e *model.CustodyEvent) {
		e.Sequence = 5
	})
	if err != nil {
		t.Fatal(err)
	}

	v := audit.NewVerifier(l, zap.NewNop())
	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if res.Intact {
		t.Fatal("gapped chain reported intact")
	}
	if res.Kind != audit.BreakSequenceGap {
		t.Errorf("kind: got %q, want sequence_gap", res.Kind)
	}
}

func TestVerify_reportsFirstBreak(t *testing.T) {
	l := buildChain(t, 4)
	for _, seq := range []int{3, 1} {
		err := l.Tamper("E-100", seq, func(e *model.CustodyEvent) {
			e.ActorID = "intruder"
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	v := audit.NewVerifier(l, zap.NewNop())
	res, err := v.Verify(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if *res.BrokenAt != 1 {
		t.Errorf("broken_at: got %d, want the earliest break 1", *res.BrokenAt)
	}
}

func TestSweep(t *testing.T) {
	l := buildChain(t, 2)
	if err := l.Register(ctx, &model.EvidenceItem{ID: "E-200", CaseID: "C-2"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Append(ctx, "E-200", model.ActionCollected, "officer-9", "Scene B", time.Time{}); err != nil {
		t.Fatal(err)
	}
	if err := l.Tamper("E-200", 0, func(e *model.CustodyEvent) { e.Location = "x" }); err != nil {
		t.Fatal(err)
	}

	v := audit.NewVerifier(l, zap.NewNop())
	results, err := v.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	byID := map[string]bool{}
	for _, r := range results {
		byID[r.EvidenceID] = r.Intact
	}
	if !byID["E-100"] || byID["E-200"] {
		t.Errorf("sweep results wrong: %v", byID)
	}
}
