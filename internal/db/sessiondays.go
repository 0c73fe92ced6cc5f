package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// SessionDayRow is one calendar day the parliament may have met on.
type SessionDayRow struct {
	ID   int64
	Date time.Time
}

// SessionDays persists candidate sitting days. Whether a day actually had a
// sitting is recorded indirectly, through the request log of its probe URL.
type SessionDays struct {
	db     *DB
	logger *slog.Logger
}

// NewSessionDays creates the session-days data-access object.
func NewSessionDays(d *DB) *SessionDays {
	return &SessionDays{db: d, logger: d.logger.With("component", "sessionday_store")}
}

// InsertDate upserts a calendar day and returns its id.
func (s *SessionDays) InsertDate(ctx context.Context, date time.Time) (int64, error) {
	query := `
		INSERT INTO session_days (dates)
		VALUES ($1)
		ON CONFLICT (dates)
		DO UPDATE SET dates = EXCLUDED.dates
		RETURNING id`

	var id int64
	if err := s.db.pool.QueryRow(ctx, query, date).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert session day %s: %w", date.Format("2006-01-02"), err)
	}
	return id, nil
}

// GetDate returns a session day by id.
func (s *SessionDays) GetDate(ctx context.Context, id int64) (SessionDayRow, error) {
	var row SessionDayRow
	err := s.db.pool.QueryRow(ctx,
		`SELECT id, dates FROM session_days WHERE id = $1`, id).Scan(&row.ID, &row.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionDayRow{}, fmt.Errorf("session day %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return SessionDayRow{}, fmt.Errorf("get session day %d: %w", id, err)
	}
	return row, nil
}

// UncheckedDays returns up to limit candidate dates needing a probe.
//
// Two sources feed the result: fresh calendar days between startDate and
// today minus offset that were never probed, newest first, and days whose
// probe requests all came back inconclusive (neither 200 nor 404). One
// slot of the limit is reserved for the retry branch so unresolved days
// keep getting a chance even when fresh days abound.
func (s *SessionDays) UncheckedDays(ctx context.Context, limit int, offset time.Duration, startDate time.Time, probeRule string) ([]time.Time, error) {
	query := `
		(SELECT days
		 FROM (
		     SELECT days::date
		     FROM generate_series($1::timestamp, $2::timestamp, interval '1 day') AS days
		 ) s
		 LEFT JOIN (
		     SELECT session_days.dates
		     FROM session_days
		     LEFT JOIN urls ON session_days.id = urls.date_id
		     WHERE urls.rule_id = (SELECT id FROM rules WHERE rulename = $3)
		 ) stored ON s.days = stored.dates
		 WHERE stored.dates IS NULL
		 ORDER BY s.days DESC
		 LIMIT $4)

		UNION ALL

		(SELECT session_days.dates
		 FROM urls
		 LEFT JOIN session_days ON session_days.id = urls.date_id
		 LEFT JOIN requests ON requests.url_id = urls.id
		 LEFT JOIN rules ON urls.rule_id = rules.id
		 WHERE rules.rulename = $3
		   AND session_days.dates NOT IN (
		       SELECT session_days.dates
		       FROM urls
		       LEFT JOIN session_days ON session_days.id = urls.date_id
		       LEFT JOIN requests ON requests.url_id = urls.id
		       LEFT JOIN rules ON urls.rule_id = rules.id
		       WHERE rules.rulename = $3
		         AND requests.status_code IN (200, 404))
		 LIMIT $5)
		LIMIT $5`

	end := time.Now().UTC().Add(-offset)
	rows, err := s.db.pool.Query(ctx, query, startDate, end, probeRule, limit-1, limit)
	if err != nil {
		return nil, fmt.Errorf("query unchecked days: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan unchecked day: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}
