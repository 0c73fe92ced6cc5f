package crawler

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/fetcher"
	"github.com/IshaanNene/goparl/internal/rules"
	"github.com/IshaanNene/goparl/internal/worker"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// testRuntime builds the per-worker runtime the procs expect, without a
// supervisor behind it.
func testRuntime(name string) *worker.Runtime {
	return &worker.Runtime{
		Name:     name,
		Logger:   testLogger,
		Shutdown: worker.NewFlag(),
		Poll:     5 * time.Millisecond,
	}
}

type fakeDays struct {
	batches  [][]time.Time
	queryErr error
	inserted []time.Time
	nextID   int64
}

func (f *fakeDays) InsertDate(ctx context.Context, date time.Time) (int64, error) {
	f.inserted = append(f.inserted, date)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeDays) UncheckedDays(ctx context.Context, limit int, offset time.Duration, startDate time.Time, probeRule string) ([]time.Time, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

type savedURL struct {
	dateID int64
	ruleID int64
	url    string
}

type fakeURLs struct {
	saved    []savedURL
	saveErr  error
	nextID   int64
	targets  map[int64]db.DownloadTarget
	getCalls int
	combos   [][]db.Combo
	comboErr error
}

func (f *fakeURLs) Save(ctx context.Context, dateID, ruleID int64, rawURL string) (int64, error) {
	if f.saveErr != nil {
		return 0, f.saveErr
	}
	f.saved = append(f.saved, savedURL{dateID: dateID, ruleID: ruleID, url: rawURL})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeURLs) Get(ctx context.Context, id int64) (db.DownloadTarget, error) {
	f.getCalls++
	target, ok := f.targets[id]
	if !ok {
		return db.DownloadTarget{}, db.ErrNotFound
	}
	return target, nil
}

func (f *fakeURLs) TodoCombos(ctx context.Context, limit int, probeRule string) ([]db.Combo, error) {
	if f.comboErr != nil {
		return nil, f.comboErr
	}
	if len(f.combos) == 0 {
		return nil, nil
	}
	batch := f.combos[0]
	f.combos = f.combos[1:]
	return batch, nil
}

type fakeRules struct {
	rows map[string]db.RuleRow
}

func (f *fakeRules) Get(ctx context.Context, name string) (db.RuleRow, error) {
	row, ok := f.rows[name]
	if !ok {
		return db.RuleRow{}, db.ErrNotFound
	}
	return row, nil
}

func probeRuleRows() *fakeRules {
	return &fakeRules{rows: map[string]db.RuleRow{
		rules.ProbeRuleName: {ID: 1, Name: rules.ProbeRuleName, Active: true},
	}}
}

type requestRow struct {
	urlID  int64
	status int
	url    string
	docID  *int64
}

type fakeRequests struct {
	rows       []requestRow
	markErr    error
	summary    map[int]int
	summaryErr error
	windows    [][2]time.Time
	nextID     int64
}

func (f *fakeRequests) MarkRequested(ctx context.Context, urlID int64, statusCode int, redirectedURL string, documentID *int64) (int64, error) {
	if f.markErr != nil {
		return 0, f.markErr
	}
	f.rows = append(f.rows, requestRow{urlID: urlID, status: statusCode, url: redirectedURL, docID: documentID})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeRequests) StatusCodeSummary(ctx context.Context, start, end time.Time) (map[int]int, error) {
	if f.summaryErr != nil {
		return nil, f.summaryErr
	}
	f.windows = append(f.windows, [2]time.Time{start, end})
	if f.summary == nil {
		return map[int]int{}, nil
	}
	return f.summary, nil
}

type registeredDoc struct {
	filepath string
	filename string
}

type fakeDocs struct {
	registered []registeredDoc
	regErr     error
	nextID     int64
}

func (f *fakeDocs) Register(ctx context.Context, filepath, filename string) (int64, error) {
	if f.regErr != nil {
		return 0, f.regErr
	}
	f.registered = append(f.registered, registeredDoc{filepath: filepath, filename: filename})
	f.nextID++
	return f.nextID, nil
}

// fakeHTTP serves as both HeadClient and GetClient.
type fakeHTTP struct {
	calls int
	fn    func(url string) (fetcher.Result, error)
}

func (f *fakeHTTP) Head(ctx context.Context, url string) (fetcher.Result, error) {
	f.calls++
	return f.fn(url)
}

func (f *fakeHTTP) Get(ctx context.Context, url string) (fetcher.Result, error) {
	f.calls++
	return f.fn(url)
}
