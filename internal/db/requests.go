package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// RequestRow is one entry of the append-only request log.
type RequestRow struct {
	ID            int64
	URLID         *int64
	DocumentID    *int64
	RequestedAt   time.Time
	StatusCode    int
	RedirectedURL string
}

// Requests appends to and reads the request log. Rows are never updated;
// the log is the ground truth for throttling decisions and probe results.
type Requests struct {
	db     *DB
	logger *slog.Logger
}

// NewRequests creates the requests data-access object.
func NewRequests(d *DB) *Requests {
	return &Requests{db: d, logger: d.logger.With("component", "request_store")}
}

// MarkRequested appends a log row for an attempt on urlID. documentID is
// nil unless the attempt produced a stored document. The timestamp is
// taken here, at call time, not at commit time, so the throttling window
// sees attempts in the order they were made.
func (r *Requests) MarkRequested(ctx context.Context, urlID int64, statusCode int, redirectedURL string, documentID *int64) (int64, error) {
	query := `
		INSERT INTO requests (url_id, document_id, requested_at, status_code, redirected_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	var id int64
	err := r.db.pool.QueryRow(ctx, query,
		urlID, documentID, time.Now().UTC(), statusCode, redirectedURL,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("mark url %d as requested: %w", urlID, err)
	}
	return id, nil
}

// Get returns one request log row by id.
func (r *Requests) Get(ctx context.Context, id int64) (RequestRow, error) {
	query := `
		SELECT id, url_id, document_id, requested_at, status_code, COALESCE(redirected_url, '')
		FROM requests
		WHERE id = $1`

	var row RequestRow
	err := r.db.pool.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.URLID, &row.DocumentID, &row.RequestedAt, &row.StatusCode, &row.RedirectedURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return RequestRow{}, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return RequestRow{}, fmt.Errorf("get request %d: %w", id, err)
	}
	return row, nil
}

// StatusCodeSummary counts log rows per status code in [start, end].
func (r *Requests) StatusCodeSummary(ctx context.Context, start, end time.Time) (map[int]int, error) {
	query := `
		SELECT status_code, COUNT(*)
		FROM requests
		WHERE requested_at >= $1 AND requested_at <= $2
		GROUP BY status_code`

	rows, err := r.db.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query status code summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[int]int)
	for rows.Next() {
		var code, count int
		if err := rows.Scan(&code, &count); err != nil {
			return nil, fmt.Errorf("scan status code summary: %w", err)
		}
		summary[code] = count
	}
	return summary, rows.Err()
}
