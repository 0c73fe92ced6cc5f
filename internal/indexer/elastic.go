// Package indexer ships postprocessed documents into Elasticsearch. Indices
// are versioned as <name>-NNNNN; the highest-numbered one is the live index
// and every shipment resolves it anew, so an operator can cut over to a
// fresh index without restarting the job.
package indexer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
)

//go:embed mapping.json
var defaultMapping string

// ErrNoIndex is returned when no versioned index exists yet.
var ErrNoIndex = errors.New("indexer: no index exists")

// Client talks to the Elasticsearch cluster holding the document index.
type Client struct {
	es     *elasticsearch.Client
	name   string
	logger *slog.Logger
}

// NewClient connects to the cluster named in the config.
func NewClient(cfg config.IndexerConfig, logger *slog.Logger) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Connection},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &Client{
		es:     es,
		name:   cfg.IndexName,
		logger: logger.With("component", "elastic"),
	}, nil
}

func indexName(base string, n int) string {
	return fmt.Sprintf("%s-%05d", base, n)
}

func indexNumber(base, full string) (int, bool) {
	suffix, ok := strings.CutPrefix(full, base+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CurrentIndex resolves the live index: the highest-numbered version of the
// configured name. ErrNoIndex when none exists.
func (c *Client) CurrentIndex(ctx context.Context) (string, error) {
	res, err := c.es.Indices.Get([]string{c.name + "-*"},
		c.es.Indices.Get.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("resolve index %s: %w", c.name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		if res.StatusCode == http.StatusNotFound {
			return "", ErrNoIndex
		}
		return "", fmt.Errorf("resolve index %s: %s", c.name, res.Status())
	}

	var indices map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&indices); err != nil {
		return "", fmt.Errorf("decode index listing: %w", err)
	}

	best := -1
	for full := range indices {
		if n, ok := indexNumber(c.name, full); ok && n > best {
			best = n
		}
	}
	if best < 0 {
		return "", ErrNoIndex
	}
	return indexName(c.name, best), nil
}

// CreateIndex creates the next version of the index, with the given mapping
// or the embedded default when mapping is empty. Returns the new index's
// name.
func (c *Client) CreateIndex(ctx context.Context, mapping string) (string, error) {
	next := 0
	current, err := c.CurrentIndex(ctx)
	switch {
	case err == nil:
		n, _ := indexNumber(c.name, current)
		next = n + 1
	case errors.Is(err, ErrNoIndex):
	default:
		return "", err
	}

	name := indexName(c.name, next)
	if mapping == "" {
		mapping = defaultMapping
	}

	res, err := c.es.Indices.Create(name,
		c.es.Indices.Create.WithBody(strings.NewReader(mapping)),
		c.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("create index %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", fmt.Errorf("create index %s: %s", name, res.Status())
	}

	c.logger.Info("created index", "index", name)
	return name, nil
}

// EnsureIndex returns the live index, creating the first version with the
// default mapping when the cluster has none.
func (c *Client) EnsureIndex(ctx context.Context) (string, error) {
	current, err := c.CurrentIndex(ctx)
	if errors.Is(err, ErrNoIndex) {
		return c.CreateIndex(ctx, "")
	}
	if err != nil {
		return "", err
	}
	return current, nil
}

// BulkDelete removes the given documents from the live index. Returns the
// ids that were actually deleted; an id that was never indexed is not an
// error, it just does not count.
func (c *Client) BulkDelete(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	index, err := c.CurrentIndex(ctx)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	for _, id := range ids {
		fmt.Fprintf(&body, `{"delete":{"_index":%q,"_id":"%d"}}`+"\n", index, id)
	}
	return c.bulk(ctx, &body, "delete")
}

// BulkIndex ships the documents' extracted data to the live index, one
// Elasticsearch document per database id. Returns the accepted ids.
func (c *Client) BulkIndex(ctx context.Context, docs []db.DocData) ([]int64, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	index, err := c.CurrentIndex(ctx)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, doc := range docs {
		fmt.Fprintf(&body, `{"index":{"_index":%q,"_id":"%d"}}`+"\n", index, doc.ID)
		if err := enc.Encode(doc.Data); err != nil {
			return nil, fmt.Errorf("encode document %d: %w", doc.ID, err)
		}
	}
	return c.bulk(ctx, &body, "index")
}

type bulkItem struct {
	ID     string          `json:"_id"`
	Status int             `json:"status"`
	Error  json.RawMessage `json:"error"`
}

// bulk executes one bulk request and returns the database ids of the items
// the cluster acknowledged with a 2xx.
func (c *Client) bulk(ctx context.Context, body io.Reader, action string) ([]int64, error) {
	res, err := c.es.Bulk(body, c.es.Bulk.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bulk %s: %w", action, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("bulk %s: %s", action, res.Status())
	}

	var parsed struct {
		Errors bool                  `json:"errors"`
		Items  []map[string]bulkItem `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode bulk %s response: %w", action, err)
	}

	var ok []int64
	for _, item := range parsed.Items {
		result, found := item[action]
		if !found {
			continue
		}
		if result.Status < 200 || result.Status >= 300 {
			c.logger.Debug("bulk item not applied", "action", action, "id", result.ID, "status", result.Status)
			continue
		}
		id, err := strconv.ParseInt(result.ID, 10, 64)
		if err != nil {
			continue
		}
		ok = append(ok, id)
	}
	return ok, nil
}

// Reindex copies every document from src into dst as a cluster-side
// background task.
func (c *Client) Reindex(ctx context.Context, src, dst string) error {
	body, err := json.Marshal(map[string]any{
		"source": map[string]any{"index": src},
		"dest":   map[string]any{"index": dst},
	})
	if err != nil {
		return fmt.Errorf("encode reindex body: %w", err)
	}

	res, err := c.es.Reindex(bytes.NewReader(body),
		c.es.Reindex.WithContext(ctx),
		c.es.Reindex.WithRefresh(true),
		c.es.Reindex.WithWaitForCompletion(false))
	if err != nil {
		return fmt.Errorf("reindex %s to %s: %w", src, dst, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("reindex %s to %s: %s", src, dst, res.Status())
	}
	return nil
}
