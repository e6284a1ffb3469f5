package handler_test

import (
	"net/http"
	"testing"
)

func (f *fixture) createTransfer(t *testing.T, evidenceID, actor, recipient string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/transfers", actor, map[string]string{
		"evidence_id": evidenceID,
		"recipient":   recipient,
		"purpose":     "analysis",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create transfer: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decode(t, w)["id"].(string)
}

func TestTransferLifecycle_approve(t *testing.T) {
	f := setup(t)
	f.registerEvidence(t, "E-100", "C-1", "physical")
	f.appendEvent(t, "E-100", "officer-7", "collected", "Scene A")

	id := f.createTransfer(t, "E-100", "officer-7", "Lab-B")

	w := f.do(t, http.MethodPost, "/api/v1/transfers/"+id+"/approve", "supervisor-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	event := resp["event"].(map[string]any)
	if event["action"] != "transferred" {
		t.Errorf("appended action: got %v", event["action"])
	}
	if int(event["sequence"].(float64)) != 1 {
		t.Errorf("appended sequence: got %v, want 1", event["sequence"])
	}

	// History now has collection + transfer.
	w = f.do(t, http.MethodGet, "/api/v1/evidence/E-100/history", "officer-7", nil)
	if int(decode(t, w)["count"].(float64)) != 2 {
		t.Errorf("history after approval: %s", w.Body.String())
	}

	// And the chain still verifies.
	w = f.do(t, http.MethodGet, "/api/v1/evidence/E-100/verify", "officer-7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", w.Code)
	}
	if decode(t, w)["intact"] != true {
		t.Errorf("chain broken after approval: %s", w.Body.String())
	}
}

func TestCreateTransfer_409_secondPending(t *testing.T) {
	f := setup(t)
	f.registerEvidence(t, "E-100", "C-1", "physical")
	f.appendEvent(t, "E-100", "officer-7", "collected", "Scene A")
	f.createTransfer(t, "E-100", "officer-7", "Lab-B")

	w := f.do(t, http.MethodPost, "/api/v1/transfers", "officer-8", map[string]string{
		"evidence_id": "E-100",
		"recipient":   "Lab-C",
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestApprove_409_alreadyDecided(t *testing.T) {
	f := setup(t)
	f.registerEvidence(t, "E-100", "C-1", "physical")
	f.appendEvent(t, "E-100", "officer-7", "collected", "Scene A")
	id := f.createTransfer(t, "E-100", "officer-7", "Lab-B")

	if w := f.do(t, http.MethodPost, "/api/v1/transfers/"+id+"/approve", "supervisor-1", nil); w.Code != http.StatusOK {
		t.Fatal(w.Body.String())
	}
	w := f.do(t, http.MethodPost, "/api/v1/transfers/"+id+"/approve", "supervisor-2", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestReject_200_noEventAppended(t *testing.T) {
	f := setup(t)
	f.registerEvidence(t, "E-100", "C-1", "physical")
	f.appendEvent(t, "E-100", "officer-7", "collected", "Scene A")
	id := f.createTransfer(t, "E-100", "officer-7", "Lab-B")

	w := f.do(t, http.MethodPost, "/api/v1/transfers/"+id+"/reject", "supervisor-1", map[string]string{
		"reason": "chain of custody concerns",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("reject: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["status"] != "rejected" {
		t.Errorf("status: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/v1/evidence/E-100/history", "officer-7", nil)
	if int(decode(t, w)["count"].(float64)) != 1 {
		t.Errorf("reject must not append custody events: %s", w.Body.String())
	}
}

func TestCancel_onlyRequester(t *testing.T) {
	f := setup(t)
	f.registerEvidence(t, "E-100", "C-1", "physical")
	f.appendEvent(t, "E-100", "officer-7", "collected", "Scene A")
	id := f.createTransfer(t, "E-100", "officer-7", "Lab-B")

	w := f.do(t, http.MethodPost, "/api/v1/transfers/"+id+"/cancel", "officer-8", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("cancel by non-requester: expected 400, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/transfers/"+id+"/cancel", "officer-7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransfer_404_unknownRequest(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/v1/transfers/2f9c9a52-0d0a-4c2b-b1a5-59a60b2f8a11/approve", "supervisor-1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestTransfer_400_badRequestID(t *testing.T) {
	f := setup(t)
	w := f.do(t, http.MethodPost, "/api/v1/transfers/not-a-uuid/approve", "supervisor-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
