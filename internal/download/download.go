// Package download fetches plenary documents straight to disk, without
// the database. It drives the same rule registry as the crawl pipeline
// and exists for backfills, spot checks and offline reading.
package download

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/IshaanNene/goparl/internal/fetcher"
	"github.com/IshaanNene/goparl/internal/rules"
)

// LedgerName is the per-directory record of dates already backfilled.
const LedgerName = "backfilled_dates.txt"

// backfillFloor is the earliest date worth probing; the first directly
// elected Parliament convened in July 1979.
var backfillFloor = time.Date(1979, time.July, 1, 0, 0, 0, 0, time.UTC)

// UnviewedDate walks backwards from date and returns the newest day not
// yet recorded in the directory's backfill ledger. The boolean is false
// once every day back to July 1979 has been seen. A missing ledger is
// created empty.
func UnviewedDate(dir string, date time.Time) (time.Time, bool, error) {
	seen, err := readLedger(dir)
	if err != nil {
		return time.Time{}, false, err
	}
	for day := date; !day.Before(backfillFloor); day = day.AddDate(0, 0, -1) {
		if !seen[day.Format(rules.DateFormat)] {
			return day, true, nil
		}
	}
	return time.Time{}, false, nil
}

// RecordBackfilled appends the date to the directory's backfill ledger
// unless it is already listed.
func RecordBackfilled(dir string, date time.Time) error {
	seen, err := readLedger(dir)
	if err != nil {
		return err
	}
	day := date.Format(rules.DateFormat)
	if seen[day] {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, LedgerName), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, day); err != nil {
		return fmt.Errorf("appending to ledger: %w", err)
	}
	return nil
}

func readLedger(dir string) (map[string]bool, error) {
	f, err := os.OpenFile(filepath.Join(dir, LedgerName), os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			seen[line] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	return seen, nil
}

// SpacedOutDates expands a date into a look-back grid that thins out
// with age: every day for two weeks, every second day to four weeks,
// every fifth to twelve weeks, every tenth within the year, plus 100,
// 200 and 300 days back.
func SpacedOutDates(date time.Time) []time.Time {
	groups := []struct {
		from, to int // day offsets, to exclusive
		step     int
	}{
		{0, 14, 1},
		{14, 28, 2},
		{28, 84, 5},
		{84, 365, 10},
	}

	var dates []time.Time
	for _, g := range groups {
		for i := g.from; i < g.to; i++ {
			if i%g.step == 0 {
				dates = append(dates, date.AddDate(0, 0, -i))
			}
		}
	}
	for i := 1; i <= 3; i++ {
		dates = append(dates, date.AddDate(0, 0, -i*100))
	}
	return dates
}

// Scraper downloads the session documents of single sitting dates.
type Scraper struct {
	client   *fetcher.Client
	registry *rules.Registry
	dir      string
	retry    int
	sleep    time.Duration
	logger   *slog.Logger
}

// NewScraper wires a scraper storing below dir. sleep doubles as the
// politeness delay between documents and the per-request timeout budget
// the caller should configure the client with.
func NewScraper(dir string, client *fetcher.Client, registry *rules.Registry, retry int, sleep time.Duration, logger *slog.Logger) *Scraper {
	return &Scraper{
		client:   client,
		registry: registry,
		dir:      dir,
		retry:    retry,
		sleep:    sleep,
		logger:   logger,
	}
}

// DownloadDay fetches every requested rule's document for one sitting
// date. The session-day URL is probed first; a 404 means no sitting took
// place and the whole date is skipped.
func (s *Scraper) DownloadDay(ctx context.Context, date time.Time, rulenames []string) error {
	day := date.Format(rules.DateFormat)

	probeURL := s.registry.Probe().URL(date)
	res, err := s.client.Get(ctx, probeURL)
	if err != nil {
		return fmt.Errorf("probing %s: %w", probeURL, err)
	}
	if res.StatusCode == http.StatusNotFound {
		s.logger.Info("no sitting on this date, skipping", "date", day)
		s.pause(ctx)
		return nil
	}

	for _, name := range rulenames {
		rule, err := s.registry.Get(name)
		if err != nil {
			return err
		}
		if rule.IsProbe() {
			continue
		}
		if err := s.scrape(ctx, rule, date); err != nil {
			return err
		}
	}
	return nil
}

// scrape fetches one document with retries and stores it below
// dir/rulename. HTML gets its relative links rewritten first so the
// stored page keeps working offline.
func (s *Scraper) scrape(ctx context.Context, rule rules.Rule, date time.Time) error {
	day := date.Format(rules.DateFormat)
	url := rule.URL(date)
	s.logger.Debug("scraping document", "date", day, "rule", rule.Name, "url", url)

	var body []byte
	found := false
	for attempt := 0; attempt < s.retry; attempt++ {
		res, err := s.client.Get(ctx, url)
		if err != nil {
			s.logger.Debug("attempt failed", "date", day, "attempt", attempt, "error", err)
			if !s.pause(ctx) {
				return ctx.Err()
			}
			continue
		}
		if res.StatusCode == http.StatusOK {
			body = res.Body
			found = true
			break
		}
		s.logger.Debug("unexpected status", "date", day, "attempt", attempt, "status", res.StatusCode)
		if !s.pause(ctx) {
			return ctx.Err()
		}
	}
	if !found {
		return fmt.Errorf("giving up on %s after %d attempts", url, s.retry)
	}

	if rule.Format == ".html" {
		rewritten, err := RewriteLinks(body, rules.BaseURL)
		if err != nil {
			return fmt.Errorf("rewriting links in %s: %w", url, err)
		}
		body = rewritten
		s.logger.Debug("links rewritten", "date", day, "rule", rule.Name)
	}
	return s.store(ctx, rule, day, body)
}

func (s *Scraper) store(ctx context.Context, rule rules.Rule, day string, body []byte) error {
	ruleDir := filepath.Join(s.dir, rule.Name)
	if err := os.MkdirAll(ruleDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", ruleDir, err)
	}
	path := filepath.Join(ruleDir, day+rule.Format)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("storing %s: %w", path, err)
	}
	s.logger.Debug("stored document", "date", day, "file", path)
	s.pause(ctx)
	return nil
}

// pause sleeps the politeness delay, cut short by cancellation. It
// reports whether the full pause elapsed.
func (s *Scraper) pause(ctx context.Context) bool {
	t := time.NewTimer(s.sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
