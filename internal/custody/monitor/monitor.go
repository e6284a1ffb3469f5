// Package monitor runs periodic ledger-wide integrity sweeps and raises
// alerts when a custody chain breaks between verifications.
package monitor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/audit"
	"github.com/custodia-forensics/custodia/internal/email"
	"github.com/custodia-forensics/custodia/internal/webhooks"
)

// Config holds integrity sweep configuration.
type Config struct {
	SweepInterval time.Duration
	SweepTimeout  time.Duration
}

// Sweeper re-verifies every chain in the ledger. *audit.Verifier satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context) ([]*audit.Result, error)
}

// AlertFunc is an optional callback for dispatching break alerts to webhook
// subscribers.
type AlertFunc func(eventType string, payload map[string]string)

// MetricsRecordFunc is an optional callback for recording sweep results.
type MetricsRecordFunc func(intact bool)

// Monitor re-verifies all custody chains on an interval. Alerts fire on the
// transition into the broken state, not on every sweep that sees it.
type Monitor struct {
	sweeper Sweeper
	mailer  email.Sender
	alertTo string

	mu     sync.Mutex
	broken map[string]bool

	cfg       Config
	onAlert   AlertFunc
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Monitor over the given sweeper.
func New(sweeper Sweeper, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.SweepTimeout == 0 {
		cfg.SweepTimeout = 60 * time.Second
	}

	return &Monitor{
		sweeper: sweeper,
		broken:  make(map[string]bool),
		cfg:     cfg,
		logger:  logger,
	}
}

// SetAlertDispatch configures the webhook dispatch callback.
func (m *Monitor) SetAlertDispatch(fn AlertFunc) {
	m.onAlert = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (m *Monitor) SetMetricsRecord(fn MetricsRecordFunc) {
	m.onMetrics = fn
}

// SetMailer configures mail alerts to the given address on new breaks.
func (m *Monitor) SetMailer(s email.Sender, to string) {
	m.mailer = s
	m.alertTo = to
}

// Start runs the sweep loop until quit is signalled.
func (m *Monitor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SweepTimeout)
			m.SweepOnce(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// SweepOnce runs a single full sweep and returns (items checked, broken).
func (m *Monitor) SweepOnce(ctx context.Context) (checked, brokenCount int) {
	results, err := m.sweeper.Sweep(ctx)
	if err != nil {
		m.logger.Error("integrity sweep failed", zap.Error(err))
		return 0, 0
	}

	for _, r := range results {
		if m.onMetrics != nil {
			m.onMetrics(r.Intact)
		}
		if !r.Intact {
			brokenCount++
		}

		m.mu.Lock()
		wasBroken := m.broken[r.EvidenceID]
		m.broken[r.EvidenceID] = !r.Intact
		m.mu.Unlock()

		switch {
		case !r.Intact && !wasBroken:
			m.raiseAlert(ctx, r)
		case r.Intact && wasBroken:
			m.logger.Info("custody chain restored", zap.String("evidence_id", r.EvidenceID))
		}
	}

	if brokenCount > 0 {
		m.logger.Error("integrity sweep found broken chains",
			zap.Int("items", len(results)),
			zap.Int("broken", brokenCount),
		)
	} else {
		m.logger.Info("integrity sweep clean", zap.Int("items", len(results)))
	}
	return len(results), brokenCount
}

func (m *Monitor) raiseAlert(ctx context.Context, r *audit.Result) {
	brokenAt := -1
	if r.BrokenAt != nil {
		brokenAt = *r.BrokenAt
	}

	m.logger.Error("custody chain broken",
		zap.String("evidence_id", r.EvidenceID),
		zap.Int("broken_at", brokenAt),
		zap.String("break_kind", string(r.Kind)),
	)

	if m.onAlert != nil {
		m.onAlert(webhooks.EventChainBroken, map[string]string{
			"evidence_id": r.EvidenceID,
			"broken_at":   strconv.Itoa(brokenAt),
			"break_kind":  string(r.Kind),
		})
	}

	if m.mailer != nil && m.alertTo != "" {
		subject := fmt.Sprintf("Custody chain broken: %s", r.EvidenceID)
		body := fmt.Sprintf(
			"Integrity sweep at %s found a break in the custody chain for evidence %s.\n\n"+
				"First bad entry: seq %d\nBreak kind: %s\n\n"+
				"The chain is append-only; this indicates tampering or storage corruption. "+
				"Preserve the database and investigate before any further handling.",
			r.CheckedAt.Format(time.RFC3339), r.EvidenceID, brokenAt, r.Kind,
		)
		if err := m.mailer.Send(ctx, m.alertTo, subject, body); err != nil {
			m.logger.Warn("alert mail failed", zap.Error(err))
		}
	}
}
