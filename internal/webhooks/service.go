package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Service manages subscriptions and fans out custody events.
type Service struct {
	store       Store
	httpClient  *http.Client
	onMetrics   MetricsRecorder
	retryDelays []time.Duration
	logger      *zap.Logger
}

// NewService creates a webhook Service over the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
		logger:      logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (s *Service) SetMetricsRecorder(fn MetricsRecorder) {
	s.onMetrics = fn
}

// SetRetryDelays overrides the backoff schedule between delivery attempts.
func (s *Service) SetRetryDelays(delays []time.Duration) {
	s.retryDelays = delays
}

// Subscribe creates a subscription with a generated HMAC secret. The secret
// is returned once on the created Subscription and never again.
func (s *Service) Subscribe(ctx context.Context, actorID string, req *CreateSubscriptionRequest) (*Subscription, error) {
	for _, e := range req.Events {
		if !knownEvent(e) {
			return nil, &model.ErrValidation{Msg: fmt.Sprintf("unknown event type %q", e)}
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	sub := &Subscription{
		CreatedBy: actorID,
		URL:       req.URL,
		Events:    req.Events,
		Secret:    secret,
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return sub, nil
}

// Unsubscribe deletes a subscription, checking ownership.
func (s *Service) Unsubscribe(ctx context.Context, actorID string, subID uuid.UUID) error {
	sub, err := s.store.Get(ctx, subID)
	if err != nil {
		return err
	}
	if sub.CreatedBy != actorID {
		return &model.ErrValidation{Msg: "only the creating actor may delete a subscription"}
	}
	return s.store.Delete(ctx, subID)
}

// ListByOwner returns all subscriptions created by the actor.
func (s *Service) ListByOwner(ctx context.Context, actorID string) ([]*Subscription, error) {
	return s.store.ListByOwner(ctx, actorID)
}

// Dispatch fans out an event to all matching subscriptions. Delivery happens
// asynchronously; Dispatch never blocks a custody operation on a slow
// subscriber.
func (s *Service) Dispatch(eventType string, payload map[string]string) {
	ctx := context.Background()
	subs, err := s.store.ListByEvent(ctx, eventType)
	if err != nil {
		s.logger.Error("webhook: list subscribers", zap.Error(err))
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	for _, sub := range subs {
		go s.deliver(ctx, sub, event)
	}
}

// deliver sends the event to a single subscription with retries.
func (s *Service) deliver(ctx context.Context, sub *Subscription, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}

	signature := signPayload(body, sub.Secret)

	for attempt := 1; attempt <= len(s.retryDelays)+1; attempt++ {
		if attempt > 1 {
			time.Sleep(s.retryDelays[attempt-2])
		}

		success, statusCode, errMsg := s.doDelivery(ctx, sub.URL, body, signature)

		delivery := &Delivery{
			SubscriptionID: sub.ID,
			EventType:      event.Type,
			StatusCode:     statusCode,
			Attempt:        attempt,
			Success:        success,
			ErrorMessage:   errMsg,
		}
		if recordErr := s.store.RecordDelivery(ctx, delivery); recordErr != nil {
			s.logger.Warn("webhook: record delivery", zap.Error(recordErr))
		}

		if s.onMetrics != nil {
			s.onMetrics(success)
		}

		if success {
			return
		}

		s.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("event", event.Type),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (s *Service) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, int, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, 0, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Custodia-Signature", signature)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, 0, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	errMsg := ""
	if !success {
		errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return success, resp.StatusCode, errMsg
}

func knownEvent(e string) bool {
	switch e {
	case EventCustodyRecorded, EventTransferApproved, EventTransferRejected, EventChainBroken:
		return true
	}
	return false
}

// signPayload computes an HMAC-SHA256 signature over the delivery body.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received X-Custodia-Signature header against the
// body. Exported for subscriber-side use.
func VerifySignature(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signPayload(body, secret)), []byte(signature))
}

// generateSecret creates a random 32-byte hex-encoded secret.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
