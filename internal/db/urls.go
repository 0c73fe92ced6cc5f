package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// DownloadTarget is a minted URL joined with the rule metadata a
// downloader needs to store the resulting file.
type DownloadTarget struct {
	ID       int64
	URL      string
	Rulename string
	Filetype string
}

// Combo is an (active rule, confirmed session day) pair that has no minted
// URL yet.
type Combo struct {
	DateID   int64
	Date     time.Time
	RuleID   int64
	Rulename string
}

// URLs persists minted document URLs.
type URLs struct {
	db     *DB
	logger *slog.Logger
}

// NewURLs creates the urls data-access object.
func NewURLs(d *DB) *URLs {
	return &URLs{db: d, logger: d.logger.With("component", "url_store")}
}

// Save upserts a minted URL and returns its id. Uniqueness is scoped to
// (rule_id, url): the probe rule and a document rule may legitimately mint
// the same URL string, and each keeps its own row. Re-minting refreshes
// created_at, so the operation is idempotent apart from the timestamp.
func (u *URLs) Save(ctx context.Context, dateID, ruleID int64, rawURL string) (int64, error) {
	query := `
		INSERT INTO urls (date_id, rule_id, url, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rule_id, url)
		DO UPDATE SET date_id = EXCLUDED.date_id, created_at = EXCLUDED.created_at
		RETURNING id`

	var id int64
	err := u.db.pool.QueryRow(ctx, query, dateID, ruleID, rawURL, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save url %s: %w", rawURL, err)
	}
	return id, nil
}

// Get returns the download target for a minted URL id.
func (u *URLs) Get(ctx context.Context, id int64) (DownloadTarget, error) {
	query := `
		SELECT urls.id, urls.url, rules.rulename, COALESCE(rules.filetype, '')
		FROM urls
		JOIN rules ON rules.id = urls.rule_id
		WHERE urls.id = $1`

	var t DownloadTarget
	err := u.db.pool.QueryRow(ctx, query, id).Scan(&t.ID, &t.URL, &t.Rulename, &t.Filetype)
	if errors.Is(err, pgx.ErrNoRows) {
		return DownloadTarget{}, fmt.Errorf("url %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return DownloadTarget{}, fmt.Errorf("get url %d: %w", id, err)
	}
	return t, nil
}

// TodoCombos returns up to limit (active rule, session day) pairs without a
// minted URL, newest days first. A session day qualifies once any of its
// probe requests returned 200.
func (u *URLs) TodoCombos(ctx context.Context, limit int, probeRule string) ([]Combo, error) {
	query := `
		SELECT days.id, days.dates, rules.id, rules.rulename
		FROM rules
		CROSS JOIN (
		    SELECT DISTINCT session_days.id, session_days.dates
		    FROM session_days
		    JOIN urls ON urls.date_id = session_days.id
		    JOIN requests ON requests.url_id = urls.id
		    JOIN rules pr ON pr.id = urls.rule_id
		    WHERE pr.rulename = $1 AND requests.status_code = 200
		) days
		LEFT JOIN urls ON urls.rule_id = rules.id AND urls.date_id = days.id
		WHERE rules.active = TRUE AND urls.id IS NULL
		ORDER BY days.dates DESC
		LIMIT $2`

	rows, err := u.db.pool.Query(ctx, query, probeRule, limit)
	if err != nil {
		return nil, fmt.Errorf("query todo combos: %w", err)
	}
	defer rows.Close()

	var combos []Combo
	for rows.Next() {
		var c Combo
		if err := rows.Scan(&c.DateID, &c.Date, &c.RuleID, &c.Rulename); err != nil {
			return nil, fmt.Errorf("scan todo combo: %w", err)
		}
		combos = append(combos, c)
	}
	return combos, rows.Err()
}

// DropWithoutRequests deletes minted URLs that were never attempted. Runs
// during crawler shutdown, after all workers have stopped, so a concurrent
// downloader cannot be holding one of the deleted ids.
func (u *URLs) DropWithoutRequests(ctx context.Context) (int64, error) {
	tag, err := u.db.pool.Exec(ctx, `
		DELETE FROM urls
		WHERE NOT EXISTS (
		    SELECT 1 FROM requests WHERE requests.url_id = urls.id
		)`)
	if err != nil {
		return 0, fmt.Errorf("drop urls without requests: %w", err)
	}
	return tag.RowsAffected(), nil
}
