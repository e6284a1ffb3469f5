// Package webhooks notifies external systems — case management, SIEM,
// evidence room dashboards — about custody activity. Integrity breaks are the
// headline event: a chain.broken delivery is an incident trigger.
package webhooks

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// Event types dispatched by the ledger.
const (
	EventCustodyRecorded  = "custody.event_recorded"
	EventTransferApproved = "transfer.approved"
	EventTransferRejected = "transfer.rejected"
	EventChainBroken      = "chain.broken"
)

// ErrSubscriptionNotFound — no subscription with the given id.
var ErrSubscriptionNotFound = fmt.Errorf("webhook subscription %w", model.ErrNotFound)

// Subscription is a registered delivery target.
type Subscription struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	URL       string    `json:"url"        db:"url"`
	Events    []string  `json:"events"     db:"events"`
	Secret    string    `json:"-"          db:"secret"` // never returned in API responses
	Active    bool      `json:"active"     db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Event is the JSON body POSTed to matching subscriptions.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"              db:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id" db:"subscription_id"`
	EventType      string    `json:"event_type"      db:"event_type"`
	StatusCode     int       `json:"status_code"     db:"status_code"`
	Attempt        int       `json:"attempt"         db:"attempt"`
	Success        bool      `json:"success"         db:"success"`
	ErrorMessage   string    `json:"error_message"   db:"error_message"`
	DeliveredAt    time.Time `json:"delivered_at"    db:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required"`
}
