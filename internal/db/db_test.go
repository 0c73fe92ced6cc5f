package db

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/rules"
)

// The tests in this file need a running PostgreSQL instance. Set
// GOPARL_TEST_DATABASE to the name of a scratch database to enable them;
// user, password, host and port come from GOPARL_TEST_DB_* or fall back to
// the defaults. Tables are truncated between tests.

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func testDB(t *testing.T) *DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test")
	}
	dbname := os.Getenv("GOPARL_TEST_DATABASE")
	if dbname == "" {
		t.Skip("set GOPARL_TEST_DATABASE to run database tests")
	}

	cfg := config.DefaultConfig().General
	cfg.DBName = dbname
	if v := os.Getenv("GOPARL_TEST_DB_USER"); v != "" {
		cfg.DBUser = v
	}
	if v := os.Getenv("GOPARL_TEST_DB_PASSWORD"); v != "" {
		cfg.DBPassword = v
	}
	if v := os.Getenv("GOPARL_TEST_DB_HOST"); v != "" {
		cfg.DBHost = v
	}
	if v := os.Getenv("GOPARL_TEST_DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			t.Fatalf("bad GOPARL_TEST_DB_PORT: %v", err)
		}
		cfg.DBPort = port
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := Connect(ctx, cfg, "goparl-test", testLogger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(d.Close)

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err = d.pool.Exec(ctx,
		`TRUNCATE requests, documents, urls, session_days, rules RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return d
}

func TestRuleRegistration(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	store := NewRules(d)
	reg := rules.NewRegistry()

	ids, err := store.RegisterAll(ctx, reg)
	if err != nil {
		t.Fatalf("register all: %v", err)
	}
	if len(ids) != reg.Len() {
		t.Fatalf("expected %d registered rules, got %d", reg.Len(), len(ids))
	}

	probe, err := store.Get(ctx, rules.ProbeRuleName)
	if err != nil {
		t.Fatalf("get probe rule: %v", err)
	}
	if !probe.Active {
		t.Error("probe rule should start active")
	}

	doc, err := store.Get(ctx, "protocol_en_pdf")
	if err != nil {
		t.Fatalf("get document rule: %v", err)
	}
	if doc.Active {
		t.Error("document rules should start inactive")
	}
	if doc.Language != "EN" || doc.Filetype != ".pdf" {
		t.Errorf("unexpected rule row: %+v", doc)
	}

	// Activation must survive re-registration.
	if err := store.SetActive(ctx, "protocol_en_pdf", true); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := store.RegisterAll(ctx, reg); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	doc, err = store.Get(ctx, "protocol_en_pdf")
	if err != nil {
		t.Fatalf("get after re-register: %v", err)
	}
	if !doc.Active {
		t.Error("re-registration reset the active flag")
	}

	if err := store.SetActive(ctx, "no_such_rule", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown rule, got %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != reg.Len() {
		t.Errorf("expected %d listed rules, got %d", reg.Len(), len(list))
	}
}

func TestSessionDayAndURLMinting(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	store := NewRules(d)

	reg := rules.NewRegistry()
	ruleIDs, err := store.RegisterAll(ctx, reg)
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}

	date := time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC)
	dateID, err := days.InsertDate(ctx, date)
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}
	again, err := days.InsertDate(ctx, date)
	if err != nil {
		t.Fatalf("re-insert date: %v", err)
	}
	if again != dateID {
		t.Errorf("duplicate date insert changed id: %d != %d", again, dateID)
	}

	row, err := days.GetDate(ctx, dateID)
	if err != nil {
		t.Fatalf("get date: %v", err)
	}
	if !row.Date.Equal(date) {
		t.Errorf("stored date %v, want %v", row.Date, date)
	}

	rule, _ := reg.Get("protocol_en_pdf")
	minted := rule.URL(date)
	urlID, err := urls.Save(ctx, dateID, ruleIDs["protocol_en_pdf"], minted)
	if err != nil {
		t.Fatalf("save url: %v", err)
	}
	sameID, err := urls.Save(ctx, dateID, ruleIDs["protocol_en_pdf"], minted)
	if err != nil {
		t.Fatalf("re-save url: %v", err)
	}
	if sameID != urlID {
		t.Errorf("re-minting the same url changed id: %d != %d", sameID, urlID)
	}

	target, err := urls.Get(ctx, urlID)
	if err != nil {
		t.Fatalf("get url: %v", err)
	}
	if target.URL != minted || target.Rulename != "protocol_en_pdf" || target.Filetype != ".pdf" {
		t.Errorf("unexpected download target: %+v", target)
	}

	// The probe rule minting the identical url keeps its own row.
	probeID, err := urls.Save(ctx, dateID, ruleIDs[rules.ProbeRuleName], minted)
	if err != nil {
		t.Fatalf("save probe url: %v", err)
	}
	if probeID == urlID {
		t.Error("probe rule url should not collide with the document rule row")
	}
}

func TestUncheckedDays(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	requests := NewRequests(d)
	store := NewRules(d)

	reg := rules.NewRegistry()
	ruleIDs, err := store.RegisterAll(ctx, reg)
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}
	probeRuleID := ruleIDs[rules.ProbeRuleName]

	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -6)
	offset := 24 * time.Hour

	// Nothing probed yet: newest-first series, one slot reserved for retries.
	got, err := days.UncheckedDays(ctx, 4, offset, start, rules.ProbeRuleName)
	if err != nil {
		t.Fatalf("unchecked days: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 unchecked days, got %d: %v", len(got), got)
	}
	for i, want := range []time.Time{
		today.AddDate(0, 0, -1),
		today.AddDate(0, 0, -2),
		today.AddDate(0, 0, -3),
	} {
		if !got[i].Equal(want) {
			t.Errorf("day %d: got %v, want %v", i, got[i], want)
		}
	}

	// A probed day with only a transient failure comes back through the
	// retry branch while the series skips it.
	retryDay := today.AddDate(0, 0, -1)
	dateID, err := days.InsertDate(ctx, retryDay)
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}
	probe := reg.Probe()
	urlID, err := urls.Save(ctx, dateID, probeRuleID, probe.URL(retryDay))
	if err != nil {
		t.Fatalf("save probe url: %v", err)
	}
	if _, err := requests.MarkRequested(ctx, urlID, 408, "", nil); err != nil {
		t.Fatalf("mark requested: %v", err)
	}

	got, err = days.UncheckedDays(ctx, 4, offset, start, rules.ProbeRuleName)
	if err != nil {
		t.Fatalf("unchecked days: %v", err)
	}
	found := false
	for _, day := range got {
		if day.Equal(retryDay) {
			found = true
		}
	}
	if !found {
		t.Errorf("timed-out day %v missing from %v", retryDay, got)
	}

	// A definitive answer retires the day entirely.
	if _, err := requests.MarkRequested(ctx, urlID, 200, "", nil); err != nil {
		t.Fatalf("mark requested: %v", err)
	}
	got, err = days.UncheckedDays(ctx, 10, offset, start, rules.ProbeRuleName)
	if err != nil {
		t.Fatalf("unchecked days: %v", err)
	}
	for _, day := range got {
		if day.Equal(retryDay) {
			t.Errorf("answered day %v still reported unchecked", retryDay)
		}
	}
}

func TestStatusCodeSummary(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	requests := NewRequests(d)
	store := NewRules(d)

	ruleIDs, err := store.RegisterAll(ctx, rules.NewRegistry())
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}
	dateID, err := days.InsertDate(ctx, time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}
	urlID, err := urls.Save(ctx, dateID, ruleIDs[rules.ProbeRuleName], "https://example.org/a")
	if err != nil {
		t.Fatalf("save url: %v", err)
	}

	for _, code := range []int{200, 200, 404, 429, 503} {
		if _, err := requests.MarkRequested(ctx, urlID, code, "", nil); err != nil {
			t.Fatalf("mark requested %d: %v", code, err)
		}
	}

	now := time.Now().UTC()
	summary, err := requests.StatusCodeSummary(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	want := map[int]int{200: 2, 404: 1, 429: 1, 503: 1}
	for code, count := range want {
		if summary[code] != count {
			t.Errorf("status %d: got %d, want %d", code, summary[code], count)
		}
	}

	// An empty window reports nothing.
	summary, err = requests.StatusCodeSummary(ctx, now.Add(-2*time.Hour), now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 0 {
		t.Errorf("expected empty summary, got %v", summary)
	}
}

func TestRequestTimestampsTakenPerCall(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	requests := NewRequests(d)
	store := NewRules(d)

	ruleIDs, err := store.RegisterAll(ctx, rules.NewRegistry())
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}
	dateID, err := days.InsertDate(ctx, time.Date(2022, 5, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}
	urlID, err := urls.Save(ctx, dateID, ruleIDs[rules.ProbeRuleName], "https://example.org/b")
	if err != nil {
		t.Fatalf("save url: %v", err)
	}

	first, err := requests.MarkRequested(ctx, urlID, 200, "", nil)
	if err != nil {
		t.Fatalf("mark requested: %v", err)
	}
	second, err := requests.MarkRequested(ctx, urlID, 200, "", nil)
	if err != nil {
		t.Fatalf("mark requested: %v", err)
	}

	a, err := requests.Get(ctx, first)
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	b, err := requests.Get(ctx, second)
	if err != nil {
		t.Fatalf("get second: %v", err)
	}
	// Each insert stamps its own clock reading; a shared timestamp would
	// collapse the throttling window's view of the request order.
	if !b.RequestedAt.After(a.RequestedAt) {
		t.Errorf("second request not after first: %v vs %v", b.RequestedAt, a.RequestedAt)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	requests := NewRequests(d)
	docs := NewDocuments(d)
	store := NewRules(d)

	reg := rules.NewRegistry()
	ruleIDs, err := store.RegisterAll(ctx, reg)
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}
	if err := store.SetActive(ctx, "protocol_en_pdf", true); err != nil {
		t.Fatalf("activate rule: %v", err)
	}

	date := time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC)
	dateID, err := days.InsertDate(ctx, date)
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}
	rule, _ := reg.Get("protocol_en_pdf")
	urlID, err := urls.Save(ctx, dateID, ruleIDs["protocol_en_pdf"], rule.URL(date))
	if err != nil {
		t.Fatalf("save url: %v", err)
	}

	name := uuid.NewString()
	docID, err := docs.Register(ctx, "/var/lib/goparl/"+name+".pdf", name)
	if err != nil {
		t.Fatalf("register document: %v", err)
	}
	if _, err := requests.MarkRequested(ctx, urlID, 200, rule.URL(date), &docID); err != nil {
		t.Fatalf("mark requested: %v", err)
	}

	work, err := docs.Unprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	if len(work) != 1 {
		t.Fatalf("expected 1 unprocessed document, got %d", len(work))
	}
	if work[0].DocumentID != docID || work[0].Rulename != "protocol_en_pdf" {
		t.Errorf("unexpected work item: %+v", work[0])
	}

	if err := docs.MarkEnqueued(ctx, docID); err != nil {
		t.Fatalf("mark enqueued: %v", err)
	}
	work, err = docs.Unprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("unprocessed: %v", err)
	}
	if len(work) != 0 {
		t.Errorf("enqueued document still reported unprocessed")
	}

	// An interrupted run releases the latch.
	if n, err := docs.ResetEnqueued(ctx); err != nil || n != 1 {
		t.Fatalf("reset enqueued: n=%d err=%v", n, err)
	}
	if err := docs.MarkEnqueued(ctx, docID); err != nil {
		t.Fatalf("re-enqueue: %v", err)
	}

	if err := docs.SetData(ctx, docID, map[string]any{"content": "Sitting of Thursday", "filesize": 1234}); err != nil {
		t.Fatalf("set data: %v", err)
	}
	row, err := docs.Get(ctx, docID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if row.Data["content"] != "Sitting of Thursday" {
		t.Errorf("stored data mismatch: %v", row.Data)
	}

	// With data present the latch no longer resets.
	if n, err := docs.ResetEnqueued(ctx); err != nil || n != 0 {
		t.Errorf("reset enqueued after data: n=%d err=%v", n, err)
	}

	unindexed, err := docs.UnindexedData(ctx, 10)
	if err != nil {
		t.Fatalf("unindexed data: %v", err)
	}
	if len(unindexed) != 1 || unindexed[0].ID != docID {
		t.Fatalf("expected document %d unindexed, got %v", docID, unindexed)
	}

	if err := docs.SetIndexed(ctx, []int64{docID}); err != nil {
		t.Fatalf("set indexed: %v", err)
	}
	unindexed, err = docs.UnindexedData(ctx, 10)
	if err != nil {
		t.Fatalf("unindexed data: %v", err)
	}
	if len(unindexed) != 0 {
		t.Errorf("indexed document still reported unindexed")
	}

	meta, err := docs.Metadata(ctx, docID)
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Rulename != "protocol_en_pdf" || meta.Language != "EN" || !meta.Date.Equal(date) {
		t.Errorf("unexpected metadata: %+v", meta)
	}

	// Resetting by rule clears data and flags the indexed copy for removal.
	if n, err := docs.ResetPostprocessingByRule(ctx, "protocol_en_pdf"); err != nil || n != 1 {
		t.Fatalf("reset by rule: n=%d err=%v", n, err)
	}
	row, err = docs.Get(ctx, docID)
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if row.Data != nil || row.Enqueued || !row.Unindex {
		t.Errorf("unexpected state after reset: %+v", row)
	}

	ids, err := docs.ToUnindex(ctx)
	if err != nil {
		t.Fatalf("to unindex: %v", err)
	}
	if len(ids) != 1 || ids[0] != docID {
		t.Fatalf("expected document %d to unindex, got %v", docID, ids)
	}
	if err := docs.ResetUnindex(ctx, ids); err != nil {
		t.Fatalf("reset unindex: %v", err)
	}
	row, err = docs.Get(ctx, docID)
	if err != nil {
		t.Fatalf("get after unindex: %v", err)
	}
	if row.Unindex || row.Indexed {
		t.Errorf("unindex flags not cleared: %+v", row)
	}
}

func TestDropURLsWithoutRequests(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	requests := NewRequests(d)
	store := NewRules(d)

	ruleIDs, err := store.RegisterAll(ctx, rules.NewRegistry())
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}
	dateID, err := days.InsertDate(ctx, time.Date(2021, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}

	visited, err := urls.Save(ctx, dateID, ruleIDs[rules.ProbeRuleName], "https://example.org/visited")
	if err != nil {
		t.Fatalf("save url: %v", err)
	}
	if _, err := requests.MarkRequested(ctx, visited, 200, "", nil); err != nil {
		t.Fatalf("mark requested: %v", err)
	}
	if _, err := urls.Save(ctx, dateID, ruleIDs["protocol_en_pdf"], "https://example.org/stale"); err != nil {
		t.Fatalf("save url: %v", err)
	}

	dropped, err := urls.DropWithoutRequests(ctx)
	if err != nil {
		t.Fatalf("drop: %v", err)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped url, got %d", dropped)
	}
	if _, err := urls.Get(ctx, visited); err != nil {
		t.Errorf("visited url should survive cleanup: %v", err)
	}
}

func TestTodoCombos(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	days := NewSessionDays(d)
	urls := NewURLs(d)
	requests := NewRequests(d)
	store := NewRules(d)

	reg := rules.NewRegistry()
	ruleIDs, err := store.RegisterAll(ctx, reg)
	if err != nil {
		t.Fatalf("register rules: %v", err)
	}
	for _, name := range []string{"protocol_en_pdf", "agenda_en_html"} {
		if err := store.SetActive(ctx, name, true); err != nil {
			t.Fatalf("activate %s: %v", name, err)
		}
	}

	probe := reg.Probe()
	confirm := func(date time.Time, status int) int64 {
		t.Helper()
		dateID, err := days.InsertDate(ctx, date)
		if err != nil {
			t.Fatalf("insert date: %v", err)
		}
		urlID, err := urls.Save(ctx, dateID, ruleIDs[rules.ProbeRuleName], probe.URL(date))
		if err != nil {
			t.Fatalf("save probe url: %v", err)
		}
		if _, err := requests.MarkRequested(ctx, urlID, status, "", nil); err != nil {
			t.Fatalf("mark requested: %v", err)
		}
		return dateID
	}

	sessionDate := time.Date(2019, 8, 1, 0, 0, 0, 0, time.UTC)
	confirm(sessionDate, 200)
	confirm(time.Date(2019, 8, 2, 0, 0, 0, 0, time.UTC), 404)

	combos, err := urls.TodoCombos(ctx, 50, rules.ProbeRuleName)
	if err != nil {
		t.Fatalf("todo combos: %v", err)
	}
	// Two active rules, one confirmed session day.
	if len(combos) != 2 {
		t.Fatalf("expected 2 combos, got %d: %+v", len(combos), combos)
	}
	seen := map[string]bool{}
	for _, c := range combos {
		if !c.Date.Equal(sessionDate) {
			t.Errorf("combo for wrong date: %+v", c)
		}
		seen[c.Rulename] = true
	}
	if !seen["protocol_en_pdf"] || !seen["agenda_en_html"] {
		t.Errorf("missing expected rules in combos: %v", seen)
	}

	// Minting a url consumes the combo.
	rule, _ := reg.Get("protocol_en_pdf")
	dateID, err := days.InsertDate(ctx, sessionDate)
	if err != nil {
		t.Fatalf("insert date: %v", err)
	}
	if _, err := urls.Save(ctx, dateID, ruleIDs["protocol_en_pdf"], rule.URL(sessionDate)); err != nil {
		t.Fatalf("save url: %v", err)
	}
	combos, err = urls.TodoCombos(ctx, 50, rules.ProbeRuleName)
	if err != nil {
		t.Fatalf("todo combos: %v", err)
	}
	if len(combos) != 1 || combos[0].Rulename != "agenda_en_html" {
		t.Errorf("expected only agenda_en_html combo, got %+v", combos)
	}
}
