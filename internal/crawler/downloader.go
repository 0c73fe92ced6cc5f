package crawler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/fetcher"
	"github.com/IshaanNene/goparl/internal/observability"
	"github.com/IshaanNene/goparl/internal/queue"
	"github.com/IshaanNene/goparl/internal/worker"
)

// Downloader turns minted URLs into stored documents. Each token buys one
// GET; the response status always lands in the request log, and a 200
// additionally produces a file on disk, a document row, and a second
// request row binding the document to its URL. A URL whose download failed
// on the wire stays with the worker and is retried on the next token.
type Downloader struct {
	tokens   *queue.Queue[string]
	urlQ     *queue.Queue[int64]
	client   GetClient
	urls     URLStore
	requests RequestLog
	docs     DocumentStore
	metrics  *observability.Metrics

	dataDir string
	target  db.DownloadTarget

	rt     *worker.Runtime
	logger *slog.Logger
}

// NewDownloader creates a document downloader writing into cfg.Path.
func NewDownloader(cfg config.DownloaderConfig, tokens *queue.Queue[string], urlQ *queue.Queue[int64], client GetClient, stores Stores, metrics *observability.Metrics) *Downloader {
	return &Downloader{
		tokens:   tokens,
		urlQ:     urlQ,
		client:   client,
		urls:     stores.URLs,
		requests: stores.Requests,
		docs:     stores.Docs,
		metrics:  metrics,
		dataDir:  cfg.Path,
	}
}

// Startup makes sure the document directory exists.
func (d *Downloader) Startup(ctx context.Context, rt *worker.Runtime) error {
	d.rt = rt
	d.logger = rt.Logger

	dir, err := filepath.Abs(d.dataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	d.dataDir = dir
	return nil
}

func (d *Downloader) Teardown() {}

// Handle spends one token on one download. With no URL waiting the token
// goes back into the bucket; idle downloaders must not burn the request
// budget.
func (d *Downloader) Handle(ctx context.Context, token string) {
	if d.target.ID == 0 {
		id, err := d.urlQ.TryGet()
		if err != nil {
			if perr := d.tokens.Put(token, d.rt.Poll); perr == nil {
				d.logger.Debug("no urls queued, returned token to bucket", "token", token)
			}
			d.rt.Sleep(d.rt.Poll)
			return
		}
		target, err := d.urls.Get(ctx, id)
		if err != nil {
			d.logger.Error("loading url failed", "url_id", id, "error", err)
			return
		}
		d.target = target
	}

	d.logger.Debug("downloading", "url", d.target.URL)
	d.metrics.DownloadsTotal.Add(1)

	res, err := d.client.Get(ctx, d.target.URL)
	if err != nil {
		status := fetcher.SyntheticStatus(err)
		d.logger.Warn("download transport failure", "url", d.target.URL, "status", status, "error", err)
		if _, lerr := d.requests.MarkRequested(ctx, d.target.ID, status, d.target.URL, nil); lerr != nil {
			d.logger.Error("recording download attempt failed", "error", lerr)
		}
		d.metrics.ObserveStatus(status)
		d.rt.Sleep(d.rt.Poll)
		return
	}

	if _, lerr := d.requests.MarkRequested(ctx, d.target.ID, res.StatusCode, res.FinalURL, nil); lerr != nil {
		// An unrecorded download would leave the URL looking untried, so
		// retry rather than store a file nothing accounts for.
		d.logger.Error("recording download result failed", "error", lerr)
		return
	}
	d.metrics.ObserveStatus(res.StatusCode)

	if res.StatusCode == http.StatusOK {
		if !d.store(ctx, res) {
			d.target = db.DownloadTarget{}
			return
		}
	}

	d.logger.Info("crawled url", "url", d.target.URL, "status", res.StatusCode)
	d.target = db.DownloadTarget{}
}

// store writes the body to disk, registers the document, and appends the
// request row binding the document to its URL. The file is written first
// so a document row never points at a missing file; a crash in between
// leaves an orphan file to be reconciled offline.
func (d *Downloader) store(ctx context.Context, res fetcher.Result) bool {
	name := uuid.NewString()
	path := filepath.Join(d.dataDir, name+d.target.Filetype)

	if err := os.WriteFile(path, res.Body, 0o644); err != nil {
		d.logger.Error("writing document file failed", "path", path, "error", err)
		return false
	}

	docID, err := d.docs.Register(ctx, path, name)
	if err != nil {
		d.logger.Error("registering document failed", "path", path, "error", err)
		return false
	}

	if _, err := d.requests.MarkRequested(ctx, d.target.ID, res.StatusCode, res.FinalURL, &docID); err != nil {
		d.logger.Error("binding document to url failed", "document_id", docID, "error", err)
		return false
	}

	d.metrics.DocumentsStored.Add(1)
	d.metrics.BytesDownloaded.Add(int64(len(res.Body)))
	d.logger.Info("stored document", "url", d.target.URL, "path", path)
	return true
}
