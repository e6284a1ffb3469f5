// Package query provides the read-side views over the custody ledger: the
// per-item timeline and best-effort cross-case correlation.
//
// Correlation is a heuristic index over evidence attributes (type, location,
// event-time proximity). It is explicitly non-authoritative: it suggests
// candidate links between cases for an investigator to review, and it never
// mutates ledger state.
package query

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-forensics/custodia/internal/custody/ledger"
	"github.com/custodia-forensics/custodia/internal/custody/model"
)

// Matchers declares the attributes to correlate on. Zero-valued fields are
// ignored; at least one must be set.
type Matchers struct {
	// EvidenceType matches items of the same type, case-insensitively.
	EvidenceType bool `json:"evidence_type"`

	// LocationPattern is a glob (path.Match syntax) or literal substring that
	// event locations of both items must match.
	LocationPattern string `json:"location_pattern"`

	// TimeWindow links items that have events within this duration of each
	// other. Zero disables the time criterion.
	TimeWindow time.Duration `json:"time_window"`
}

func (m Matchers) empty() bool {
	return !m.EvidenceType && m.LocationPattern == "" && m.TimeWindow == 0
}

// Match is one candidate cross-case link between two evidence items.
type Match struct {
	CaseA     string   `json:"case_a"`
	EvidenceA string   `json:"evidence_a"`
	CaseB     string   `json:"case_b"`
	EvidenceB string   `json:"evidence_b"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

// snapshot is an immutable view of the ledger taken at refresh time.
type snapshot struct {
	items  []*model.EvidenceItem
	events map[string][]*model.CustodyEvent
	taken  time.Time
}

// Projector builds read-side views by scanning the ledger. The correlation
// index is refreshed lazily on first use and, optionally, by a background
// loop that is best-effort and never blocks writers.
type Projector struct {
	ledger ledger.Ledger
	logger *zap.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// New creates a Projector over the given ledger.
func New(l ledger.Ledger, logger *zap.Logger) *Projector {
	return &Projector{ledger: l, logger: logger}
}

// TimelineFor returns the custody timeline for one evidence item, ascending by
// sequence. It is a pass-through to the ledger, which already guarantees order.
func (p *Projector) TimelineFor(ctx context.Context, evidenceID string) ([]*model.CustodyEvent, error) {
	return p.ledger.History(ctx, evidenceID)
}

// Refresh rebuilds the correlation snapshot from the ledger.
func (p *Projector) Refresh(ctx context.Context) error {
	items, err := p.ledger.Items(ctx)
	if err != nil {
		return fmt.Errorf("scan evidence items: %w", err)
	}

	events := make(map[string][]*model.CustodyEvent, len(items))
	for _, item := range items {
		history, err := p.ledger.History(ctx, item.ID)
		if err != nil {
			return fmt.Errorf("scan history for %s: %w", item.ID, err)
		}
		events[item.ID] = history
	}

	p.mu.Lock()
	p.snap = &snapshot{items: items, events: events, taken: time.Now().UTC()}
	p.mu.Unlock()
	return nil
}

// Start runs the background index refresh loop until quit is signalled.
func (p *Projector) Start(interval time.Duration, quit <-chan os.Signal) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("correlation index refresh failed (non-fatal)", zap.Error(err))
			}
			cancel()
		case <-quit:
			return
		}
	}
}

func (p *Projector) currentSnapshot(ctx context.Context) (*snapshot, error) {
	p.mu.RLock()
	snap := p.snap
	p.mu.RUnlock()
	if snap != nil {
		return snap, nil
	}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap, nil
}

// CorrelateCases scans the indexed snapshot and returns candidate matches
// between evidence items in different cases, highest score first. The score is
// the fraction of enabled criteria that matched; every returned match carries
// human-readable reasons.
func (p *Projector) CorrelateCases(ctx context.Context, m Matchers) ([]Match, error) {
	if m.empty() {
		return nil, &model.ErrValidation{Msg: "at least one matcher must be set"}
	}

	snap, err := p.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for i := 0; i < len(snap.items); i++ {
		for j := i + 1; j < len(snap.items); j++ {
			a, b := snap.items[i], snap.items[j]
			if a.CaseID == b.CaseID {
				continue
			}
			if match, ok := correlate(a, b, snap.events[a.ID], snap.events[b.ID], m); ok {
				matches = append(matches, match)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].EvidenceA < matches[j].EvidenceA
	})
	return matches, nil
}

func correlate(a, b *model.EvidenceItem, eventsA, eventsB []*model.CustodyEvent, m Matchers) (Match, bool) {
	var criteria, hits int
	var reasons []string

	if m.EvidenceType {
		criteria++
		if a.EvidenceType != "" && strings.EqualFold(a.EvidenceType, b.EvidenceType) {
			hits++
			reasons = append(reasons, fmt.Sprintf("same evidence type %q", strings.ToLower(a.EvidenceType)))
		}
	}

	if m.LocationPattern != "" {
		criteria++
		locA := matchedLocation(eventsA, m.LocationPattern)
		locB := matchedLocation(eventsB, m.LocationPattern)
		if locA != "" && locB != "" {
			hits++
			reasons = append(reasons, fmt.Sprintf("locations %q and %q match pattern %q", locA, locB, m.LocationPattern))
		}
	}

	if m.TimeWindow > 0 {
		criteria++
		if gap, ok := closestEventGap(eventsA, eventsB); ok && gap <= m.TimeWindow {
			hits++
			reasons = append(reasons, fmt.Sprintf("events within %s of each other", gap.Round(time.Second)))
		}
	}

	if hits == 0 {
		return Match{}, false
	}
	return Match{
		CaseA:     a.CaseID,
		EvidenceA: a.ID,
		CaseB:     b.CaseID,
		EvidenceB: b.ID,
		Score:     float64(hits) / float64(criteria),
		Reasons:   reasons,
	}, true
}

// matchedLocation returns the first event location matching the pattern,
// treating the pattern as a glob first and a case-insensitive substring second.
func matchedLocation(events []*model.CustodyEvent, pattern string) string {
	lower := strings.ToLower(pattern)
	for _, e := range events {
		if ok, err := path.Match(lower, strings.ToLower(e.Location)); err == nil && ok {
			return e.Location
		}
		if strings.Contains(strings.ToLower(e.Location), lower) {
			return e.Location
		}
	}
	return ""
}

// closestEventGap returns the smallest absolute time difference between any
// event of a and any event of b.
func closestEventGap(a, b []*model.CustodyEvent) (time.Duration, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	best := time.Duration(-1)
	for _, ea := range a {
		for _, eb := range b {
			gap := ea.Timestamp.Sub(eb.Timestamp)
			if gap < 0 {
				gap = -gap
			}
			if best < 0 || gap < best {
				best = gap
			}
		}
	}
	return best, true
}
