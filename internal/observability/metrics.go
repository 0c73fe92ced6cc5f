package observability

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics tracks operational metrics for the crawl pipeline.
type Metrics struct {
	// Token bucket metrics
	TokensEmitted atomic.Int64
	TokensDropped atomic.Int64
	TokensDrained atomic.Int64
	Throttles     atomic.Int64
	Unthrottles   atomic.Int64
	TokenInterval atomic.Int64 // current emission interval in milliseconds

	// Probe metrics
	ProbesTotal    atomic.Int64
	SessionsFound  atomic.Int64
	SessionsAbsent atomic.Int64
	ProbeRetries   atomic.Int64

	// Download metrics
	URLsMinted      atomic.Int64
	DownloadsTotal  atomic.Int64
	DocumentsStored atomic.Int64
	BytesDownloaded atomic.Int64

	// Response metrics
	Responses2xx    atomic.Int64
	Responses3xx    atomic.Int64
	Responses4xx    atomic.Int64
	Responses5xx    atomic.Int64
	TransportErrors atomic.Int64

	// Postprocessing metrics
	DocumentsProcessed atomic.Int64
	DocumentsSkipped   atomic.Int64
	ExtractFailures    atomic.Int64

	// Indexing metrics
	DocumentsIndexed atomic.Int64
	IndexFailures    atomic.Int64

	logger *slog.Logger
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(logger *slog.Logger) *Metrics {
	return &Metrics{
		logger: logger.With("component", "metrics"),
	}
}

// ObserveStatus counts a logged status code into its response class.
// Synthetic transport codes land in TransportErrors.
func (m *Metrics) ObserveStatus(code int) {
	switch {
	case code >= 200 && code < 300:
		m.Responses2xx.Add(1)
	case code >= 300 && code < 400:
		m.Responses3xx.Add(1)
	case code == 408 || code == 460:
		m.TransportErrors.Add(1)
	case code >= 400 && code < 500:
		m.Responses4xx.Add(1)
	case code >= 500 && code < 600:
		m.Responses5xx.Add(1)
	}
}

// SetTokenInterval records the current token emission interval.
func (m *Metrics) SetTokenInterval(d time.Duration) {
	m.TokenInterval.Store(d.Milliseconds())
}

// ServeHTTP serves metrics in Prometheus text exposition format.
func (m *Metrics) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	counters := []struct {
		name  string
		help  string
		value int64
	}{
		{"goparl_tokens_emitted_total", "Tokens handed to request workers", m.TokensEmitted.Load()},
		{"goparl_tokens_dropped_total", "Tokens discarded because the bucket was full", m.TokensDropped.Load()},
		{"goparl_tokens_drained_total", "Tokens flushed by throttling", m.TokensDrained.Load()},
		{"goparl_throttles_total", "Times the emission interval was doubled", m.Throttles.Load()},
		{"goparl_unthrottles_total", "Times the emission interval was halved", m.Unthrottles.Load()},
		{"goparl_probes_total", "Session day probes issued", m.ProbesTotal.Load()},
		{"goparl_sessions_found_total", "Probes that confirmed a session day", m.SessionsFound.Load()},
		{"goparl_sessions_absent_total", "Probes that ruled out a session day", m.SessionsAbsent.Load()},
		{"goparl_probe_retries_total", "Probes kept for retry after transport failures", m.ProbeRetries.Load()},
		{"goparl_urls_minted_total", "Document URLs minted", m.URLsMinted.Load()},
		{"goparl_downloads_total", "Download attempts", m.DownloadsTotal.Load()},
		{"goparl_documents_stored_total", "Documents written to disk", m.DocumentsStored.Load()},
		{"goparl_bytes_downloaded_total", "Total bytes downloaded", m.BytesDownloaded.Load()},
		{"goparl_responses_2xx_total", "Total 2xx responses", m.Responses2xx.Load()},
		{"goparl_responses_3xx_total", "Total 3xx responses", m.Responses3xx.Load()},
		{"goparl_responses_4xx_total", "Total 4xx responses", m.Responses4xx.Load()},
		{"goparl_responses_5xx_total", "Total 5xx responses", m.Responses5xx.Load()},
		{"goparl_transport_errors_total", "Requests without an HTTP response", m.TransportErrors.Load()},
		{"goparl_documents_processed_total", "Documents postprocessed", m.DocumentsProcessed.Load()},
		{"goparl_documents_skipped_total", "Documents skipped by their rule", m.DocumentsSkipped.Load()},
		{"goparl_extract_failures_total", "Postprocessing failures", m.ExtractFailures.Load()},
		{"goparl_documents_indexed_total", "Documents shipped to the search index", m.DocumentsIndexed.Load()},
		{"goparl_index_failures_total", "Indexing failures", m.IndexFailures.Load()},
	}

	for _, metric := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", metric.name, metric.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", metric.name)
		fmt.Fprintf(w, "%s %d\n", metric.name, metric.value)
	}

	fmt.Fprintf(w, "# HELP goparl_token_interval_ms Current token emission interval\n")
	fmt.Fprintf(w, "# TYPE goparl_token_interval_ms gauge\n")
	fmt.Fprintf(w, "goparl_token_interval_ms %d\n", m.TokenInterval.Load())
}

// StartServer starts the metrics HTTP server.
func (m *Metrics) StartServer(port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	m.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			m.logger.Error("metrics server error", "error", err)
		}
	}()

	return nil
}

// Snapshot returns the headline metrics as a map, for shutdown logging.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"tokens_emitted":      m.TokensEmitted.Load(),
		"throttles":           m.Throttles.Load(),
		"probes":              m.ProbesTotal.Load(),
		"sessions_found":      m.SessionsFound.Load(),
		"urls_minted":         m.URLsMinted.Load(),
		"documents_stored":    m.DocumentsStored.Load(),
		"bytes_downloaded":    m.BytesDownloaded.Load(),
		"documents_processed": m.DocumentsProcessed.Load(),
		"documents_indexed":   m.DocumentsIndexed.Load(),
		"transport_errors":    m.TransportErrors.Load(),
	}
}
