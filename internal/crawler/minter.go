package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/rules"
	"github.com/IshaanNene/goparl/internal/worker"
)

// emptyComboPauses stretches the idle pause when no new work exists.
const emptyComboPauses = 10

// Minter expands confirmed session days into concrete document URLs: for
// every active rule and every confirmed day that lacks a URL, it derives
// the address, persists it, and feeds its id to the downloaders. Minting
// costs no token; only the download does.
type Minter struct {
	urlQ     *queue.Queue[int64]
	urls     URLStore
	registry *rules.Registry
	metrics  *observability.Metrics
	prefetch int

	// buffered combinations, consumed from the back
	combos []db.Combo

	// minted url waiting for queue space
	pendingID  int64
	pendingURL string

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewMinter creates the URL generator.
func NewMinter(cfg config.DateUrlGeneratorConfig, urlQ *queue.Queue[int64], registry *rules.Registry, stores Stores, metrics *observability.Metrics) *Minter {
	return &Minter{
		urlQ:     urlQ,
		urls:     stores.URLs,
		registry: registry,
		metrics:  metrics,
		prefetch: cfg.PrefetchLimit,
	}
}

func (m *Minter) Startup(ctx context.Context, rt *worker.Runtime) error {
	m.rt = rt
	m.logger = rt.Logger
	return nil
}

func (m *Minter) Teardown() {}

// Step mints one URL and hands it to the downloaders. A full url queue
// keeps the minted id around instead of dropping it; with the row already
// persisted, re-minting after a restart resolves to the same id anyway.
func (m *Minter) Step(ctx context.Context) time.Duration {
	if m.pendingID == 0 {
		if len(m.combos) == 0 {
			combos, err := m.urls.TodoCombos(ctx, m.prefetch, rules.ProbeRuleName)
			if err != nil {
				m.logger.Error("querying rule and day combinations failed", "error", err)
				return m.rt.Poll
			}
			if len(combos) == 0 {
				return time.Duration(emptyComboPauses) * m.rt.Poll
			}
			m.logger.Info("got new rule and day combinations", "count", len(combos))
			m.combos = combos
		}

		combo := m.combos[len(m.combos)-1]
		m.combos = m.combos[:len(m.combos)-1]
		if !m.mint(ctx, combo) {
			return m.rt.Poll
		}
	}

	if err := m.urlQ.Put(m.pendingID, m.rt.Poll); err != nil {
		return 0
	}
	m.logger.Debug("queued url", "url", m.pendingURL, "url_id", m.pendingID)
	m.pendingID, m.pendingURL = 0, ""
	return 0
}

// mint applies the combination's rule to its day and persists the result.
// A combination naming an unknown rule is logged and skipped; the rules
// table should never contain one.
func (m *Minter) mint(ctx context.Context, combo db.Combo) bool {
	rule, err := m.registry.Get(combo.Rulename)
	if err != nil {
		m.logger.Error("combination names unknown rule", "rule", combo.Rulename, "error", err)
		return false
	}

	url := rule.URL(combo.Date)
	m.logger.Debug("applying rule", "rule", combo.Rulename, "date", combo.Date.Format(rules.DateFormat))

	id, err := m.urls.Save(ctx, combo.DateID, combo.RuleID, url)
	if err != nil {
		m.logger.Error("saving minted url failed", "url", url, "error", err)
		return false
	}

	m.metrics.URLsMinted.Add(1)
	m.pendingID, m.pendingURL = id, url
	return true
}
