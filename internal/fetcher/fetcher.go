// Package fetcher provides the HTTP client the crawler workers use for
// session-day probes and document downloads. Served status codes are data
// for the request log, never errors; only transport failures error out.
package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

// Synthetic status codes recorded for requests that never produced an HTTP
// response: timeouts log as 408, every other transport failure as 460.
const (
	StatusTimeout        = http.StatusRequestTimeout
	StatusTransportError = 460
)

const maxRedirects = 10

// FetchError wraps a transport-level failure for a single request.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result is the outcome of a completed HTTP exchange.
type Result struct {
	StatusCode int
	FinalURL   string
	Body       []byte
}

// Client issues probe and download requests with a fixed timeout.
type Client struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

// New creates a client. Workers pass their own timeout: probes run on the
// session-day checker's budget, downloads on the downloader's.
func New(timeout time.Duration, userAgent string, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		DisableCompression:  true, // We handle decompression ourselves (including brotli)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("max redirects (%d) reached", maxRedirects)
			}
			return nil
		},
	}

	return &Client{
		client:    client,
		userAgent: userAgent,
		logger:    logger.With("component", "fetcher"),
	}
}

// Head probes url and reports the status code after following redirects.
func (c *Client) Head(ctx context.Context, url string) (Result, error) {
	return c.do(ctx, http.MethodHead, url, false)
}

// Get downloads url and returns the decompressed body.
func (c *Client) Get(ctx context.Context, url string) (Result, error) {
	return c.do(ctx, http.MethodGet, url, true)
}

func (c *Client) do(ctx context.Context, method, url string, readBody bool) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Result{}, &FetchError{URL: url, Err: err}
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,de;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if u := req.URL; u.Scheme != "" && u.Host != "" {
		req.Header.Set("Referer", u.Scheme+"://"+u.Host+"/")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	result := Result{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
	}

	if readBody {
		reader, err := decompressReader(resp)
		if err != nil {
			return Result{}, &FetchError{URL: url, Err: err}
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return Result{}, &FetchError{URL: url, Err: err}
		}
		result.Body = body
	}

	c.logger.Debug("fetch complete",
		"method", method,
		"url", url,
		"status", result.StatusCode,
		"size", len(result.Body),
		"duration", time.Since(start),
	)

	return result, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// decompressReader wraps the response body with the decompressor matching
// its Content-Encoding. Handles gzip, deflate, and brotli (br).
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

// SyntheticStatus maps a transport failure to the status code recorded in
// the request log: timeouts become 408, everything else 460.
func SyntheticStatus(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}
	return StatusTransportError
}
