// Package client provides the Custodia Go SDK for registering evidence,
// recording custody events, and running chain verification against a
// Custodia ledger service.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// ErrChainBroken is returned by MustBeIntact when verification finds a break
// in the custody chain.
var ErrChainBroken = errors.New("custody chain integrity check failed")

// EvidenceItem is the registered evidence record returned by the ledger.
type EvidenceItem struct {
	ID           string    `json:"id"`
	CaseID       string    `json:"case_id"`
	EvidenceType string    `json:"evidence_type"`
	Description  string    `json:"description,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// CustodyEvent is a single hash-chained entry in an item's custody history.
type CustodyEvent struct {
	EvidenceID    string    `json:"evidence_id"`
	Sequence      int       `json:"sequence"`
	Action        string    `json:"action"`
	ActorID       string    `json:"actor_id"`
	Location      string    `json:"location"`
	Timestamp     time.Time `json:"timestamp"`
	PrevHash      string    `json:"prev_hash"`
	EntryHash     string    `json:"entry_hash"`
	FormatVersion int       `json:"format_version"`
	Signature     string    `json:"signature,omitempty"`
}

// TransferRequest is a pending or decided custody transfer.
type TransferRequest struct {
	ID          string     `json:"id"`
	EvidenceID  string     `json:"evidence_id"`
	RequestedBy string     `json:"requested_by"`
	Recipient   string     `json:"recipient"`
	Purpose     string     `json:"purpose,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Status      string     `json:"status"`
	DecidedBy   string     `json:"decided_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`
}

// ApproveResult pairs the decided transfer with the custody event the
// approval appended to the chain.
type ApproveResult struct {
	Request *TransferRequest `json:"request"`
	Event   *CustodyEvent    `json:"event"`
}

// VerifyResult is the outcome of a chain integrity walk.
type VerifyResult struct {
	EvidenceID string    `json:"evidence_id"`
	Intact     bool      `json:"intact"`
	BrokenAt   *int      `json:"broken_at,omitempty"`
	BreakKind  string    `json:"break_kind,omitempty"`
	Recomputed int       `json:"recomputed_count"`
	CheckedAt  time.Time `json:"checked_at"`
}

// CorrelationMatch is a cross-case candidate pair from GET /correlate.
type CorrelationMatch struct {
	CaseA     string   `json:"case_a"`
	EvidenceA string   `json:"evidence_a"`
	CaseB     string   `json:"case_b"`
	EvidenceB string   `json:"evidence_b"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

// RegisterEvidenceRequest is the payload for RegisterEvidence.
type RegisterEvidenceRequest struct {
	EvidenceID   string `json:"evidence_id"`
	CaseID       string `json:"case_id"`
	EvidenceType string `json:"evidence_type"`
	Description  string `json:"description,omitempty"`
}

// CreateTransferRequest is the payload for CreateTransfer.
type CreateTransferRequest struct {
	EvidenceID string `json:"evidence_id"`
	Recipient  string `json:"recipient"`
	Purpose    string `json:"purpose,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// CorrelateQuery selects which criteria CorrelateCases matches on. Zero-value
// fields are disabled; at least one must be set.
type CorrelateQuery struct {
	ByType     bool
	Location   string
	TimeWindow time.Duration
}

// Client is the Custodia SDK entry point.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *verifyCache

	bearerToken string
	actorID     string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an externally issued access token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithActorID sets the X-Actor-ID header on every request. Only honored by
// servers running without token verification (development deployments).
func WithActorID(id string) Option {
	return func(c *Client) error {
		c.actorID = id
		return nil
	}
}

// WithVerifyCacheTTL caches verification results in memory for the given TTL.
// Useful for dashboards that poll integrity status across many items.
func WithVerifyCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newVerifyCache(ttl)
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development against a locally-generated certificate.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a new Custodia SDK Client connected to baseURL.
//
//	c, err := client.New("https://custodia.internal:8443",
//	    client.WithBearerToken(token),
//	    client.WithVerifyCacheTTL(30*time.Second),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// RegisterEvidence posts to /api/v1/evidence and returns the new item record.
func (c *Client) RegisterEvidence(ctx context.Context, reg RegisterEvidenceRequest) (*EvidenceItem, error) {
	var item EvidenceItem
	if err := c.postJSON(ctx, "/api/v1/evidence", reg, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListEvidence returns all registered evidence items.
func (c *Client) ListEvidence(ctx context.Context) ([]EvidenceItem, error) {
	var wrapper struct {
		Evidence []EvidenceItem `json:"evidence"`
	}
	if err := c.getJSON(ctx, "/api/v1/evidence", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Evidence, nil
}

// AppendEvent records a custody event for the item. The acting identity comes
// from the client's token or actor ID, not the payload.
func (c *Client) AppendEvent(ctx context.Context, evidenceID, action, location string) (*CustodyEvent, error) {
	payload := map[string]string{"action": action, "location": location}
	var event CustodyEvent
	if err := c.postJSON(ctx, "/api/v1/evidence/"+url.PathEscape(evidenceID)+"/events", payload, &event); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.invalidate(evidenceID)
	}
	return &event, nil
}

// History returns an item's full custody chain in sequence order.
func (c *Client) History(ctx context.Context, evidenceID string) ([]CustodyEvent, error) {
	var wrapper struct {
		Events []CustodyEvent `json:"events"`
	}
	if err := c.getJSON(ctx, "/api/v1/evidence/"+url.PathEscape(evidenceID)+"/history", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Events, nil
}

// Head returns the item's latest custody event, or nil for an empty chain.
func (c *Client) Head(ctx context.Context, evidenceID string) (*CustodyEvent, error) {
	var wrapper struct {
		Head *CustodyEvent `json:"head"`
	}
	if err := c.getJSON(ctx, "/api/v1/evidence/"+url.PathEscape(evidenceID)+"/head", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Head, nil
}

// Verify runs a full chain integrity walk for the item. A broken chain is a
// normal result, not an error — check VerifyResult.Intact.
func (c *Client) Verify(ctx context.Context, evidenceID string) (*VerifyResult, error) {
	if c.cache != nil {
		if result, ok := c.cache.get(evidenceID); ok {
			return result, nil
		}
	}

	var result VerifyResult
	if err := c.getJSON(ctx, "/api/v1/evidence/"+url.PathEscape(evidenceID)+"/verify", &result); err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.set(evidenceID, &result)
	}
	return &result, nil
}

// MustBeIntact verifies the item and returns ErrChainBroken unless the chain
// is intact. Gate for workflows that must refuse to touch compromised
// evidence.
func (c *Client) MustBeIntact(ctx context.Context, evidenceID string) (*VerifyResult, error) {
	result, err := c.Verify(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if !result.Intact {
		at := -1
		if result.BrokenAt != nil {
			at = *result.BrokenAt
		}
		return result, fmt.Errorf("%w: %s broken at sequence %d (%s)",
			ErrChainBroken, evidenceID, at, result.BreakKind)
	}
	return result, nil
}

// CreateTransfer posts to /api/v1/transfers and returns the pending request.
func (c *Client) CreateTransfer(ctx context.Context, req CreateTransferRequest) (*TransferRequest, error) {
	var tr TransferRequest
	if err := c.postJSON(ctx, "/api/v1/transfers", req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// GetTransfer fetches a transfer request by its UUID.
func (c *Client) GetTransfer(ctx context.Context, id string) (*TransferRequest, error) {
	var tr TransferRequest
	if err := c.getJSON(ctx, "/api/v1/transfers/"+url.PathEscape(id), &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// ListTransfers returns every transfer request for the item, decided ones
// included.
func (c *Client) ListTransfers(ctx context.Context, evidenceID string) ([]TransferRequest, error) {
	var wrapper struct {
		Requests []TransferRequest `json:"requests"`
	}
	if err := c.getJSON(ctx, "/api/v1/evidence/"+url.PathEscape(evidenceID)+"/transfers", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Requests, nil
}

// ApproveTransfer approves a pending request. The returned result carries the
// custody event the approval appended.
func (c *Client) ApproveTransfer(ctx context.Context, id string) (*ApproveResult, error) {
	var result ApproveResult
	if err := c.postJSON(ctx, "/api/v1/transfers/"+url.PathEscape(id)+"/approve", nil, &result); err != nil {
		return nil, err
	}
	if c.cache != nil && result.Request != nil {
		c.cache.invalidate(result.Request.EvidenceID)
	}
	return &result, nil
}

// RejectTransfer rejects a pending request with an optional reason.
func (c *Client) RejectTransfer(ctx context.Context, id, reason string) (*TransferRequest, error) {
	var payload any
	if reason != "" {
		payload = map[string]string{"reason": reason}
	}
	var tr TransferRequest
	if err := c.postJSON(ctx, "/api/v1/transfers/"+url.PathEscape(id)+"/reject", payload, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// CancelTransfer withdraws a pending request. Only the original requester
// may cancel.
func (c *Client) CancelTransfer(ctx context.Context, id string) (*TransferRequest, error) {
	var tr TransferRequest
	if err := c.postJSON(ctx, "/api/v1/transfers/"+url.PathEscape(id)+"/cancel", nil, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// CorrelateCases queries GET /api/v1/correlate for cross-case candidate
// pairs matching the given criteria.
func (c *Client) CorrelateCases(ctx context.Context, q CorrelateQuery) ([]CorrelationMatch, error) {
	params := url.Values{}
	if q.ByType {
		params.Set("type", "true")
	}
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	if q.TimeWindow > 0 {
		params.Set("within", q.TimeWindow.String())
	}

	var wrapper struct {
		Matches []CorrelationMatch `json:"matches"`
	}
	if err := c.getJSON(ctx, "/api/v1/correlate?"+params.Encode(), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Matches, nil
}

// getJSON performs an authenticated GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// postJSON performs an authenticated POST with a JSON payload (nil for an
// empty body) and decodes the response into out when out is non-nil.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// do executes an HTTP request, attaching the client's identity headers.
func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.actorID != "" {
		req.Header.Set("X-Actor-ID", c.actorID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("conflict: %s", string(body))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// --- simple in-memory verification cache ---

type verifyEntry struct {
	result    *VerifyResult
	expiresAt time.Time
}

type verifyCache struct {
	mu      sync.RWMutex
	entries map[string]*verifyEntry
	ttl     time.Duration
}

func newVerifyCache(ttl time.Duration) *verifyCache {
	return &verifyCache{entries: make(map[string]*verifyEntry), ttl: ttl}
}

func (vc *verifyCache) get(key string) (*VerifyResult, bool) {
	vc.mu.RLock()
	defer vc.mu.RUnlock()
	e, ok := vc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

func (vc *verifyCache) set(key string, result *VerifyResult) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.entries[key] = &verifyEntry{result: result, expiresAt: time.Now().Add(vc.ttl)}
}

func (vc *verifyCache) invalidate(key string) {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	delete(vc.entries, key)
}
