package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/IshaanNene/goparl/internal/rules"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("db: not found")

// RuleRow is one registered rule.
type RuleRow struct {
	ID       int64
	Name     string
	Language string
	Filetype string
	Active   bool
}

// Rules persists the rule catalogue. Rules start inactive and are switched
// on explicitly; only the session-day probe rule is activated on
// registration because discovery cannot run without it.
type Rules struct {
	db     *DB
	logger *slog.Logger
}

// NewRules creates the rules data-access object.
func NewRules(d *DB) *Rules {
	return &Rules{db: d, logger: d.logger.With("component", "rules_store")}
}

// Register upserts a single rule by name and returns its id.
func (r *Rules) Register(ctx context.Context, rule rules.Rule) (int64, error) {
	query := `
		INSERT INTO rules (rulename, language, filetype, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (rulename)
		DO UPDATE SET language = EXCLUDED.language, filetype = EXCLUDED.filetype
		RETURNING id`

	var id int64
	err := r.db.pool.QueryRow(ctx, query,
		rule.Name, rule.Language, rule.Format, rule.IsProbe(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("register rule %s: %w", rule.Name, err)
	}
	return id, nil
}

// RegisterAll upserts the whole catalogue, returning ids keyed by name.
func (r *Rules) RegisterAll(ctx context.Context, reg *rules.Registry) (map[string]int64, error) {
	ids := make(map[string]int64, reg.Len())
	for _, rule := range reg.All() {
		id, err := r.Register(ctx, rule)
		if err != nil {
			return nil, err
		}
		ids[rule.Name] = id
	}
	r.logger.Debug("registered rules", "count", len(ids))
	return ids, nil
}

// Get returns a rule by name.
func (r *Rules) Get(ctx context.Context, name string) (RuleRow, error) {
	query := `
		SELECT id, rulename, COALESCE(language, ''), COALESCE(filetype, ''), active
		FROM rules
		WHERE rulename = $1`

	var row RuleRow
	err := r.db.pool.QueryRow(ctx, query, name).Scan(
		&row.ID, &row.Name, &row.Language, &row.Filetype, &row.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return RuleRow{}, fmt.Errorf("rule %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return RuleRow{}, fmt.Errorf("get rule %q: %w", name, err)
	}
	return row, nil
}

// SetActive flips a rule's active flag by name.
func (r *Rules) SetActive(ctx context.Context, name string, active bool) error {
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE rules SET active = $2 WHERE rulename = $1`, name, active)
	if err != nil {
		return fmt.Errorf("set rule %q active=%t: %w", name, active, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rule %q: %w", name, ErrNotFound)
	}
	return nil
}

// List returns all rules ordered by id.
func (r *Rules) List(ctx context.Context) ([]RuleRow, error) {
	query := `
		SELECT id, rulename, COALESCE(language, ''), COALESCE(filetype, ''), active
		FROM rules
		ORDER BY id`

	rows, err := r.db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []RuleRow
	for rows.Next() {
		var row RuleRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Language, &row.Filetype, &row.Active); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
