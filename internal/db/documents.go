package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// DocumentRow is one stored document with its postprocessing state.
type DocumentRow struct {
	ID           int64
	Filepath     string
	Filename     string
	DownloadedAt time.Time
	Enqueued     bool
	Data         map[string]any
	Indexed      bool
	Unindex      bool
}

// WorkDoc is the unit of postprocessing work handed through the document
// queue: which file to process and which rule governs it.
type WorkDoc struct {
	DocumentID int64
	Rulename   string
	Filepath   string
}

// DocData pairs a document id with its extracted data for indexing.
type DocData struct {
	ID   int64
	Data map[string]any
}

// DocMetadata is the crawl provenance of a document.
type DocMetadata struct {
	DocumentID int64
	Filepath   string
	URL        string
	Date       time.Time
	Rulename   string
	Language   string
	Filetype   string
}

// Documents persists downloaded files and their postprocessing state.
type Documents struct {
	db     *DB
	logger *slog.Logger
}

// NewDocuments creates the documents data-access object.
func NewDocuments(d *DB) *Documents {
	return &Documents{db: d, logger: d.logger.With("component", "document_store")}
}

// Register inserts a freshly downloaded file and returns the document id.
// filename is the bare UUID; filepath the absolute location on disk.
func (d *Documents) Register(ctx context.Context, filepath, filename string) (int64, error) {
	query := `
		INSERT INTO documents (filepath, filename, downloaded_at)
		VALUES ($1, $2, $3)
		RETURNING id`

	var id int64
	err := d.db.pool.QueryRow(ctx, query, filepath, filename, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("register document %s: %w", filename, err)
	}
	return id, nil
}

// Get returns one document by id.
func (d *Documents) Get(ctx context.Context, id int64) (DocumentRow, error) {
	query := `
		SELECT id, COALESCE(filepath, ''), COALESCE(filename::text, ''),
		       downloaded_at, enqueued, data, indexed, unindex
		FROM documents
		WHERE id = $1`

	var row DocumentRow
	var raw []byte
	err := d.db.pool.QueryRow(ctx, query, id).Scan(
		&row.ID, &row.Filepath, &row.Filename, &row.DownloadedAt,
		&row.Enqueued, &raw, &row.Indexed, &row.Unindex)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentRow{}, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return DocumentRow{}, fmt.Errorf("get document %d: %w", id, err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &row.Data); err != nil {
			return DocumentRow{}, fmt.Errorf("decode document %d data: %w", id, err)
		}
	}
	return row, nil
}

// Unprocessed returns up to limit documents awaiting postprocessing:
// not enqueued, no extracted data yet, and governed by an active rule.
// Oldest downloads come first.
func (d *Documents) Unprocessed(ctx context.Context, limit int) ([]WorkDoc, error) {
	query := `
		SELECT documents.id, rules.rulename, COALESCE(documents.filepath, '')
		FROM documents
		JOIN requests ON requests.document_id = documents.id
		JOIN urls ON urls.id = requests.url_id
		JOIN rules ON rules.id = urls.rule_id
		WHERE documents.enqueued = FALSE
		  AND documents.data IS NULL
		  AND rules.active = TRUE
		ORDER BY requests.requested_at ASC
		LIMIT $1`

	rows, err := d.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed documents: %w", err)
	}
	defer rows.Close()

	var docs []WorkDoc
	for rows.Next() {
		var w WorkDoc
		if err := rows.Scan(&w.DocumentID, &w.Rulename, &w.Filepath); err != nil {
			return nil, fmt.Errorf("scan unprocessed document: %w", err)
		}
		docs = append(docs, w)
	}
	return docs, rows.Err()
}

// MarkEnqueued latches a document as handed to the postprocessing queue so
// the scheduler does not fetch it twice.
func (d *Documents) MarkEnqueued(ctx context.Context, id int64) error {
	tag, err := d.db.pool.Exec(ctx,
		`UPDATE documents SET enqueued = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark document %d enqueued: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetData stores the extraction result for a document.
func (d *Documents) SetData(ctx context.Context, id int64, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document %d data: %w", id, err)
	}
	tag, err := d.db.pool.Exec(ctx,
		`UPDATE documents SET data = $2 WHERE id = $1`, id, raw)
	if err != nil {
		return fmt.Errorf("set document %d data: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	return nil
}

// ResetEnqueued releases documents that were latched for postprocessing but
// never finished. Runs at postprocessing shutdown so interrupted work is
// retried on the next start.
func (d *Documents) ResetEnqueued(ctx context.Context) (int64, error) {
	tag, err := d.db.pool.Exec(ctx, `
		UPDATE documents
		SET enqueued = FALSE
		WHERE enqueued = TRUE AND data IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("reset enqueued documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetPostprocessingByRule clears extraction results for documents
// governed by the named rule so they are processed again. Documents already
// shipped to the search index are flagged for unindexing first.
func (d *Documents) ResetPostprocessingByRule(ctx context.Context, rulename string) (int64, error) {
	query := `
		UPDATE documents
		SET data = NULL, enqueued = FALSE, unindex = indexed
		WHERE id IN (
		    SELECT documents.id
		    FROM documents
		    JOIN requests ON requests.document_id = documents.id
		    JOIN urls ON urls.id = requests.url_id
		    JOIN rules ON rules.id = urls.rule_id
		    WHERE rules.rulename = $1
		)`

	tag, err := d.db.pool.Exec(ctx, query, rulename)
	if err != nil {
		return 0, fmt.Errorf("reset postprocessing for rule %q: %w", rulename, err)
	}
	return tag.RowsAffected(), nil
}

// ResetAllPostprocessing clears extraction results for every document.
func (d *Documents) ResetAllPostprocessing(ctx context.Context) (int64, error) {
	tag, err := d.db.pool.Exec(ctx, `
		UPDATE documents
		SET data = NULL, enqueued = FALSE, unindex = indexed`)
	if err != nil {
		return 0, fmt.Errorf("reset all postprocessing: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ToUnindex returns the ids of documents flagged for removal from the
// search index.
func (d *Documents) ToUnindex(ctx context.Context) ([]int64, error) {
	rows, err := d.db.pool.Query(ctx,
		`SELECT id FROM documents WHERE unindex = TRUE ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query documents to unindex: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetUnindex clears the unindex flag for the given documents. The rows
// also lose their indexed flag: they have just been removed from the index.
func (d *Documents) ResetUnindex(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := d.db.pool.Exec(ctx, `
		UPDATE documents
		SET unindex = FALSE, indexed = FALSE
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("reset unindex flags: %w", err)
	}
	return nil
}

// SetIndexed marks documents as present in the search index.
func (d *Documents) SetIndexed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := d.db.pool.Exec(ctx, `
		UPDATE documents
		SET indexed = TRUE, unindex = FALSE
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("set indexed flags: %w", err)
	}
	return nil
}

// UnindexedData returns up to limit documents whose extracted data is
// missing from the search index, either because they were never shipped or
// because they are flagged for replacement.
func (d *Documents) UnindexedData(ctx context.Context, limit int) ([]DocData, error) {
	query := `
		SELECT id, data
		FROM documents
		WHERE data IS NOT NULL AND (indexed = FALSE OR unindex = TRUE)
		ORDER BY id
		LIMIT $1`

	rows, err := d.db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unindexed data: %w", err)
	}
	defer rows.Close()

	var docs []DocData
	for rows.Next() {
		var doc DocData
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw); err != nil {
			return nil, fmt.Errorf("scan unindexed data: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &doc.Data); err != nil {
				return nil, fmt.Errorf("decode document %d data: %w", doc.ID, err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Metadata returns the crawl provenance of a document: where it came from,
// which rule minted the URL and for which sitting date.
func (d *Documents) Metadata(ctx context.Context, id int64) (DocMetadata, error) {
	query := `
		SELECT documents.id, COALESCE(documents.filepath, ''), urls.url,
		       session_days.dates, rules.rulename,
		       COALESCE(rules.language, ''), COALESCE(rules.filetype, '')
		FROM documents
		JOIN requests ON requests.document_id = documents.id
		JOIN urls ON urls.id = requests.url_id
		JOIN rules ON rules.id = urls.rule_id
		JOIN session_days ON session_days.id = urls.date_id
		WHERE documents.id = $1`

	var m DocMetadata
	err := d.db.pool.QueryRow(ctx, query, id).Scan(
		&m.DocumentID, &m.Filepath, &m.URL, &m.Date,
		&m.Rulename, &m.Language, &m.Filetype)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocMetadata{}, fmt.Errorf("document %d metadata: %w", id, ErrNotFound)
	}
	if err != nil {
		return DocMetadata{}, fmt.Errorf("get document %d metadata: %w", id, err)
	}
	return m, nil
}
