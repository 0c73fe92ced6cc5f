package crawler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/fetcher"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/rules"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Probe walks the calendar and asks the server which days actually hosted a
// sitting. Each token buys one HEAD request against the probe rule's URL for
// an unchecked day; the answer lands in the request log, where a 200 marks
// the day confirmed and a 404 marks it checked without a session. Transport
// failures keep the minted URL around so the day is retried on a later
// token instead of being dropped.
type Probe struct {
	tokens   *queue.Queue[string]
	client   HeadClient
	registry *rules.Registry
	days     DayStore
	urls     URLStore
	ruleRows RuleStore
	requests RequestLog
	metrics  *observability.Metrics

	prefetch   int
	offset     time.Duration
	startDate  time.Time
	emptySleep time.Duration

	// buffered candidate days, consumed from the back
	pending []time.Time

	// in-flight probe target, kept across transport failures
	urlID int64
	url   string
	date  time.Time

	probeRuleID int64
	sleepUntil  time.Time

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewProbe creates the session-day checker.
func NewProbe(cfg config.SessionDayCheckerConfig, tokens *queue.Queue[string], client HeadClient, registry *rules.Registry, stores Stores, metrics *observability.Metrics) *Probe {
	return &Probe{
		tokens:     tokens,
		client:     client,
		registry:   registry,
		days:       stores.Days,
		urls:       stores.URLs,
		ruleRows:   stores.Rules,
		requests:   stores.Requests,
		metrics:    metrics,
		prefetch:   cfg.PrefetchLimit,
		offset:     cfg.TodayOffset,
		startDate:  cfg.StartTime(),
		emptySleep: cfg.EmptySleep,
	}
}

// Startup resolves the probe rule's row id. The rule must have been
// registered before the pipeline starts.
func (p *Probe) Startup(ctx context.Context, rt *worker.Runtime) error {
	p.rt = rt
	p.logger = rt.Logger
	row, err := p.ruleRows.Get(ctx, rules.ProbeRuleName)
	if err != nil {
		return err
	}
	p.probeRuleID = row.ID
	return nil
}

func (p *Probe) Teardown() {}

// Handle spends one token on one probe. While the checker is sleeping off
// an empty calendar the token goes back into the bucket so the downloaders
// can use the request budget instead.
func (p *Probe) Handle(ctx context.Context, token string) {
	if time.Now().UTC().Before(p.sleepUntil) {
		if err := p.tokens.Put(token, p.rt.Poll); err == nil {
			p.logger.Debug("sleeping, returned token to bucket", "token", token)
		}
		p.rt.Sleep(p.rt.Poll)
		return
	}

	if p.urlID == 0 {
		date, ok := p.nextDate(ctx)
		if !ok {
			return
		}
		if !p.mintProbeURL(ctx, date) {
			return
		}
	}

	p.probe(ctx)
}

// nextDate pops the next candidate day, refilling the buffer from the store
// when it runs dry. An empty calendar puts the checker to sleep.
func (p *Probe) nextDate(ctx context.Context) (time.Time, bool) {
	if len(p.pending) == 0 {
		dates, err := p.days.UncheckedDays(ctx, p.prefetch, p.offset, p.startDate, rules.ProbeRuleName)
		if err != nil {
			p.logger.Error("querying unchecked days failed", "error", err)
			p.rt.Sleep(p.rt.Poll)
			return time.Time{}, false
		}
		if len(dates) == 0 {
			p.logger.Debug("no unchecked days, sleeping", "sleep", p.emptySleep)
			p.sleepUntil = time.Now().UTC().Add(p.emptySleep)
			return time.Time{}, false
		}
		p.logger.Debug("prefetched unchecked days", "count", len(dates))
		p.pending = dates
	}

	date := p.pending[len(p.pending)-1]
	p.pending = p.pending[:len(p.pending)-1]
	return date, true
}

// mintProbeURL records the day as a candidate and mints the probe URL for
// it. On failure the day is dropped; it resurfaces on a later prefetch.
func (p *Probe) mintProbeURL(ctx context.Context, date time.Time) bool {
	dateID, err := p.days.InsertDate(ctx, date)
	if err != nil {
		p.logger.Error("storing candidate day failed", "date", date.Format(rules.DateFormat), "error", err)
		return false
	}

	url := p.registry.Probe().URL(date)
	id, err := p.urls.Save(ctx, dateID, p.probeRuleID, url)
	if err != nil {
		p.logger.Error("saving probe url failed", "url", url, "error", err)
		return false
	}

	p.urlID, p.url, p.date = id, url, date
	return true
}

// probe issues the HEAD request for the in-flight target and records the
// outcome. Only a real server answer resolves the target; transport
// failures log a synthetic status and keep it for the next token.
func (p *Probe) probe(ctx context.Context) {
	day := p.date.Format(rules.DateFormat)
	p.logger.Debug("probing day", "date", day, "url", p.url)
	p.metrics.ProbesTotal.Add(1)

	res, err := p.client.Head(ctx, p.url)
	if err != nil {
		status := fetcher.SyntheticStatus(err)
		p.logger.Warn("probe transport failure", "date", day, "status", status, "error", err)
		if _, lerr := p.requests.MarkRequested(ctx, p.urlID, status, p.url, nil); lerr != nil {
			p.logger.Error("recording probe attempt failed", "error", lerr)
		}
		p.metrics.ObserveStatus(status)
		p.metrics.ProbeRetries.Add(1)
		p.rt.Sleep(p.rt.Poll)
		return
	}

	if _, lerr := p.requests.MarkRequested(ctx, p.urlID, res.StatusCode, res.FinalURL, nil); lerr != nil {
		// Unrecorded probes look unchecked, so retry rather than lose
		// the answer.
		p.logger.Error("recording probe result failed", "error", lerr)
		return
	}
	p.metrics.ObserveStatus(res.StatusCode)

	switch res.StatusCode {
	case http.StatusOK:
		p.logger.Info("identified session", "date", day)
		p.metrics.SessionsFound.Add(1)
	case http.StatusNotFound:
		p.logger.Info("no session", "date", day)
		p.metrics.SessionsAbsent.Add(1)
	default:
		// Neither confirmation nor denial. The day stays unresolved and
		// resurfaces on a later prefetch.
		p.logger.Warn("inconclusive probe", "date", day, "status", res.StatusCode)
	}

	p.urlID, p.url, p.date = 0, "", time.Time{}
}
