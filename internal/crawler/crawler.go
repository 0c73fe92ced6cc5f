// Package crawler implements the crawl pipeline: an adaptive token bucket
// paces all outbound traffic, a probe discovers which calendar days actually
// hosted a sitting, a minter expands confirmed days into concrete document
// URLs, and downloaders fetch and persist the documents. The workers are
// joined by bounded queues and coordinate exclusively through the store and
// the supervisor's shutdown flag.
package crawler

import (
	"context"
	"time"

	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/fetcher"
)

// Queue capacities. The token queue doubles as the burst budget: draining
// it on throttle takes away everything consumers pre-accumulated.
const (
	TokenQueueCap = 100
	URLQueueCap   = 10
)

// RequestLog is the slice of the request store the pipeline writes and the
// token bucket reads.
type RequestLog interface {
	MarkRequested(ctx context.Context, urlID int64, statusCode int, redirectedURL string, documentID *int64) (int64, error)
	StatusCodeSummary(ctx context.Context, start, end time.Time) (map[int]int, error)
}

// DayStore is the slice of the session-day store the probe needs.
type DayStore interface {
	InsertDate(ctx context.Context, date time.Time) (int64, error)
	UncheckedDays(ctx context.Context, limit int, offset time.Duration, startDate time.Time, probeRule string) ([]time.Time, error)
}

// URLStore is the slice of the url store shared by probe, minter and
// downloader.
type URLStore interface {
	Save(ctx context.Context, dateID, ruleID int64, rawURL string) (int64, error)
	Get(ctx context.Context, id int64) (db.DownloadTarget, error)
	TodoCombos(ctx context.Context, limit int, probeRule string) ([]db.Combo, error)
}

// RuleStore resolves registered rule rows by name.
type RuleStore interface {
	Get(ctx context.Context, name string) (db.RuleRow, error)
}

// DocumentStore registers downloaded files.
type DocumentStore interface {
	Register(ctx context.Context, filepath, filename string) (int64, error)
}

// HeadClient issues the probe's HEAD requests.
type HeadClient interface {
	Head(ctx context.Context, url string) (fetcher.Result, error)
}

// GetClient issues the downloader's GET requests.
type GetClient interface {
	Get(ctx context.Context, url string) (fetcher.Result, error)
}

// Stores bundles the data-access objects the pipeline workers share.
type Stores struct {
	Days     DayStore
	URLs     URLStore
	Rules    RuleStore
	Requests RequestLog
	Docs     DocumentStore
}
