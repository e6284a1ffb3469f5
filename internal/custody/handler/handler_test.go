package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/audit"
	"github.com/custodia-forensics/custodia/internal/custody/handler"
	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/query"
	"github.com/custodia-forensics/custodia/internal/custody/transfer"
	"github.com/custodia-forensics/custodia/internal/webhooks"
)

type fixture struct {
	router *gin.Engine
	ledger *ledger.MemoryLedger
	hooks  *webhooks.Service
}

// setup builds the full API surface over a memory ledger, with header-based
// actor resolution (nil verifier).
func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	l := ledger.NewMemory()
	transferSvc := transfer.NewService(transfer.NewMemory(l), l, logger)
	verifier := audit.NewVerifier(l, logger)
	projector := query.New(l, logger)

	hookSvc := webhooks.NewService(webhooks.NewMemory(), logger)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.Use(handler.RequireActor(nil, logger))

	evidenceH := handler.NewEvidenceHandler(l, logger)
	transferH := handler.NewTransferHandler(transferSvc, logger)
	auditH := handler.NewAuditHandler(verifier, projector, logger)
	evidenceH.SetDispatcher(hookSvc)
	transferH.SetDispatcher(hookSvc)
	auditH.SetDispatcher(hookSvc)

	evidenceH.Register(v1)
	transferH.Register(v1)
	auditH.Register(v1)
	handler.NewWebhookHandler(hookSvc, logger).Register(v1)

	return &fixture{router: r, ledger: l, hooks: hookSvc}
}

// do performs a request as the given actor and returns the recorder.
func (f *fixture) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func (f *fixture) registerEvidence(t *testing.T, id, caseID, typ string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/evidence", "officer-7", map[string]string{
		"evidence_id":   id,
		"case_id":       caseID,
		"evidence_type": typ,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register evidence: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func (f *fixture) appendEvent(t *testing.T, id, actor, action, location string) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/evidence/"+id+"/events", actor, map[string]string{
		"action":   action,
		"location": location,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("append event: expected 201, got %d: %s", w.Code, w.Body.String())
	}
}
