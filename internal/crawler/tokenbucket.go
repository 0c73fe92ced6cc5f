package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/worker"
)

// maxIntervalFactor caps throttling at minInterval << 16.
const maxIntervalFactor = 1 << 16

// tokenSeqWrap keeps token labels at four digits.
const tokenSeqWrap = 1000

// TokenBucket paces every outbound request the pipeline makes. It emits one
// token per interval into the token queue; holders of a token may issue one
// request. The interval adapts to the status codes observed in the request
// log: rate-limit and server-error responses double it (and empty the
// bucket, so pre-accumulated budget cannot be spent against an unhappy
// server), a clean window halves it back toward the minimum.
type TokenBucket struct {
	tokens   *queue.Queue[string]
	requests RequestLog
	metrics  *observability.Metrics

	minInterval time.Duration
	window      time.Duration

	interval  time.Duration
	seq       int
	lastCheck time.Time
	nextCheck time.Time

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewTokenBucket creates the rate regulator. Emission starts at the
// configured minimum interval.
func NewTokenBucket(cfg config.TokenBucketConfig, tokens *queue.Queue[string], stores Stores, metrics *observability.Metrics) *TokenBucket {
	return &TokenBucket{
		tokens:      tokens,
		requests:    stores.Requests,
		metrics:     metrics,
		minInterval: cfg.MinInterval,
		window:      cfg.ThrottleWindow,
		interval:    cfg.MinInterval,
	}
}

// Startup primes the throttling window.
func (tb *TokenBucket) Startup(ctx context.Context, rt *worker.Runtime) error {
	tb.rt = rt
	tb.logger = rt.Logger
	now := time.Now().UTC()
	tb.lastCheck = now
	tb.nextCheck = now.Add(tb.window)
	tb.metrics.SetTokenInterval(tb.interval)
	return nil
}

// Teardown is a no-op; the bucket owns no external resources.
func (tb *TokenBucket) Teardown() {}

// Interval returns the current emission interval. The worker loop consults
// it after every tick, so throttling takes effect on the next emission.
func (tb *TokenBucket) Interval() time.Duration {
	return tb.interval
}

// Tick emits one token. A full queue discards the token instead of
// blocking: the bucket capacity is the burst budget.
func (tb *TokenBucket) Tick(ctx context.Context) {
	token := fmt.Sprintf("%s:%04d", tb.rt.Name, tb.seq)
	tb.logger.Debug("created token", "token", token)

	if err := tb.tokens.Put(token, tb.rt.Poll); err != nil {
		tb.logger.Debug("bucket full, discarding token", "token", token)
		tb.metrics.TokensDropped.Add(1)
		return
	}
	tb.metrics.TokensEmitted.Add(1)

	tb.checkThrottling(ctx, time.Now().UTC())

	if tb.seq >= tokenSeqWrap {
		tb.seq = 0
	} else {
		tb.seq++
	}
}

// checkThrottling runs the adaptive law once per window: summarize the
// request log since the last check and throttle or unthrottle accordingly.
func (tb *TokenBucket) checkThrottling(ctx context.Context, now time.Time) {
	if now.Before(tb.nextCheck) {
		return
	}

	summary, err := tb.requests.StatusCodeSummary(ctx, tb.lastCheck, now)
	if err != nil {
		// Store unavailable: keep the current pace and fold this window
		// into the next check.
		tb.logger.Warn("status summary unavailable, keeping interval", "error", err)
		tb.nextCheck = now.Add(tb.window)
		return
	}

	tb.lastCheck = now
	tb.nextCheck = now.Add(tb.window)
	tb.applyThrottling(summary)
}

// applyThrottling matches the window's status codes against the throttling
// rules. Rate limiting weighs heavier than server errors; both weigh
// heavier than a clean window.
func (tb *TokenBucket) applyThrottling(summary map[int]int) {
	if summary[408] > 0 || summary[429] > 0 {
		tb.logger.Info("throttling, observed server rate limiting")
		tb.throttle()
		return
	}
	for code := range summary {
		if code >= 500 && code <= 599 {
			tb.logger.Info("throttling, observed server errors")
			tb.throttle()
			return
		}
	}
	tb.unthrottle()
}

// throttle drains the bucket and doubles the emission interval. Draining
// starves consumers immediately; the doubled interval slows refills.
func (tb *TokenBucket) throttle() {
	drained := tb.tokens.Drain()
	tb.metrics.TokensDrained.Add(int64(drained))
	tb.logger.Debug("drained tokens from bucket", "count", drained)

	if tb.interval < tb.minInterval*maxIntervalFactor {
		tb.interval *= 2
		tb.metrics.Throttles.Add(1)
		tb.metrics.SetTokenInterval(tb.interval)
		tb.logger.Info("throttled token emission", "interval", tb.interval)
	}
}

// unthrottle halves the emission interval down to the minimum. The bucket
// is left untouched.
func (tb *TokenBucket) unthrottle() {
	if tb.interval > tb.minInterval {
		tb.interval /= 2
		tb.metrics.Unthrottles.Add(1)
		tb.metrics.SetTokenInterval(tb.interval)
		tb.logger.Info("unthrottled token emission", "interval", tb.interval)
	}
}
