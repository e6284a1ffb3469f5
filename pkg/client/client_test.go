package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/custodia-forensics/custodia/pkg/client"
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubLedgerServer(t *testing.T, verifyCalls *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/evidence", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("X-Actor-ID") == "" && r.Header.Get("Authorization") == "" {
				http.Error(w, `{"error":"actor identity required"}`, http.StatusUnauthorized)
				return
			}
			var reg map[string]string
			json.NewDecoder(r.Body).Decode(&reg)
			if reg["evidence_id"] == "E-DUP" {
				http.Error(w, `{"error":"evidence already registered"}`, http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"id":            reg["evidence_id"],
				"case_id":       reg["case_id"],
				"evidence_type": reg["evidence_type"],
				"registered_at": time.Now().UTC(),
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"evidence": []map[string]any{{"id": "E-100", "case_id": "C-1", "evidence_type": "physical"}},
				"count":    1,
			})
		}
	})

	mux.HandleFunc("/api/v1/evidence/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		switch {
		case strings.HasSuffix(path, "/events"):
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"evidence_id": "E-100",
				"sequence":    0,
				"action":      "collected",
				"actor_id":    r.Header.Get("X-Actor-ID"),
				"location":    "Scene A",
				"prev_hash":   strings.Repeat("0", 64),
				"entry_hash":  "abc123",
			})
		case strings.HasSuffix(path, "/history"):
			json.NewEncoder(w).Encode(map[string]any{
				"events": []map[string]any{
					{"evidence_id": "E-100", "sequence": 0, "action": "collected"},
					{"evidence_id": "E-100", "sequence": 1, "action": "transferred"},
				},
				"count": 2,
			})
		case strings.HasSuffix(path, "/head"):
			json.NewEncoder(w).Encode(map[string]any{
				"head": map[string]any{"evidence_id": "E-100", "sequence": 1, "action": "transferred"},
			})
		case strings.HasSuffix(path, "/verify"):
			if verifyCalls != nil {
				verifyCalls.Add(1)
			}
			if strings.Contains(path, "E-BROKEN") {
				broken := 0
				json.NewEncoder(w).Encode(map[string]any{
					"evidence_id": "E-BROKEN", "intact": false,
					"broken_at": broken, "break_kind": "hash_mismatch", "recomputed_count": 3,
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"evidence_id": "E-100", "intact": true, "recomputed_count": 2,
			})
		case strings.HasSuffix(path, "/transfers"):
			json.NewEncoder(w).Encode(map[string]any{
				"requests": []map[string]any{{"id": "11111111-1111-4111-8111-111111111111", "status": "approved"}},
				"count":    1,
			})
		default:
			http.NotFound(w, r)
		}
	})

	mux.HandleFunc("/api/v1/transfers", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id": "11111111-1111-4111-8111-111111111111", "evidence_id": "E-100",
			"recipient": "Lab-B", "status": "pending",
		})
	})

	mux.HandleFunc("/api/v1/transfers/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/approve") {
			json.NewEncoder(w).Encode(map[string]any{
				"request": map[string]any{"id": "11111111-1111-4111-8111-111111111111", "evidence_id": "E-100", "status": "approved"},
				"event":   map[string]any{"evidence_id": "E-100", "sequence": 1, "action": "transferred"},
			})
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/api/v1/correlate", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "true" && r.URL.Query().Get("location") == "" && r.URL.Query().Get("within") == "" {
			http.Error(w, `{"error":"at least one matcher must be set"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []map[string]any{
				{"case_a": "C-1", "evidence_a": "E-1", "case_b": "C-2", "evidence_b": "E-2", "score": 1.0},
			},
			"count": 1,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestRegisterEvidence(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL, client.WithActorID("officer-7"))

	item, err := c.RegisterEvidence(context.Background(), client.RegisterEvidenceRequest{
		EvidenceID: "E-100", CaseID: "C-1", EvidenceType: "physical",
	})
	if err != nil {
		t.Fatal(err)
	}
	if item.ID != "E-100" || item.CaseID != "C-1" {
		t.Errorf("unexpected item: %+v", item)
	}
}

func TestRegisterEvidence_conflict(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL, client.WithActorID("officer-7"))

	_, err := c.RegisterEvidence(context.Background(), client.RegisterEvidenceRequest{
		EvidenceID: "E-DUP", CaseID: "C-1", EvidenceType: "physical",
	})
	if err == nil || !strings.Contains(err.Error(), "conflict") {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestRegisterEvidence_unauthorized(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL) // no identity

	_, err := c.RegisterEvidence(context.Background(), client.RegisterEvidenceRequest{
		EvidenceID: "E-100", CaseID: "C-1", EvidenceType: "physical",
	})
	if err == nil || !strings.Contains(err.Error(), "unauthorized") {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestAppendEventAndHistory(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL, client.WithActorID("officer-7"))
	ctx := context.Background()

	event, err := c.AppendEvent(ctx, "E-100", "collected", "Scene A")
	if err != nil {
		t.Fatal(err)
	}
	if event.Sequence != 0 || event.ActorID != "officer-7" {
		t.Errorf("unexpected event: %+v", event)
	}

	history, err := c.History(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Errorf("history length: got %d, want 2", len(history))
	}

	head, err := c.Head(ctx, "E-100")
	if err != nil {
		t.Fatal(err)
	}
	if head == nil || head.Sequence != 1 {
		t.Errorf("head: %+v", head)
	}
}

func TestVerify_cacheAndInvalidation(t *testing.T) {
	var calls atomic.Int64
	srv := stubLedgerServer(t, &calls)
	c := client.MustNew(srv.URL,
		client.WithActorID("auditor-1"),
		client.WithVerifyCacheTTL(time.Minute),
	)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Verify(ctx, "E-100"); err != nil {
			t.Fatal(err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("cached verify should hit the server once, got %d", calls.Load())
	}

	// Appending invalidates, so the next verify refetches.
	if _, err := c.AppendEvent(ctx, "E-100", "collected", "Scene A"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Verify(ctx, "E-100"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("verify after append should refetch, got %d calls", calls.Load())
	}
}

func TestMustBeIntact_broken(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL, client.WithActorID("auditor-1"))

	result, err := c.MustBeIntact(context.Background(), "E-BROKEN")
	if err == nil {
		t.Fatal("expected ErrChainBroken")
	}
	if result == nil || result.Intact {
		t.Errorf("result should carry the broken verification: %+v", result)
	}
	if !strings.Contains(err.Error(), "hash_mismatch") {
		t.Errorf("error should name the break kind: %v", err)
	}
}

func TestTransferLifecycle(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL, client.WithActorID("officer-7"))
	ctx := context.Background()

	tr, err := c.CreateTransfer(ctx, client.CreateTransferRequest{EvidenceID: "E-100", Recipient: "Lab-B"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != "pending" {
		t.Errorf("status: %s", tr.Status)
	}

	result, err := c.ApproveTransfer(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if result.Request.Status != "approved" || result.Event.Action != "transferred" {
		t.Errorf("unexpected approve result: %+v", result)
	}
}

func TestCorrelateCases(t *testing.T) {
	srv := stubLedgerServer(t, nil)
	c := client.MustNew(srv.URL, client.WithActorID("auditor-1"))

	matches, err := c.CorrelateCases(context.Background(), client.CorrelateQuery{ByType: true, TimeWindow: 48 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || matches[0].Score != 1.0 {
		t.Errorf("matches: %+v", matches)
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profile")
	creds := &client.Credentials{BaseURL: "http://localhost:8080", ActorID: "officer-7"}
	if err := creds.Save(dir); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, "credentials.json"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("credentials file mode: %v", info.Mode().Perm())
	}

	loaded, err := client.LoadCredentials(dir)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ActorID != "officer-7" || loaded.BaseURL != "http://localhost:8080" {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestLoadCredentials_missingBaseURL(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "credentials.json"), []byte(`{"actor_id":"x"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := client.LoadCredentials(dir); err == nil {
		t.Fatal("expected error for missing base_url")
	}
}
