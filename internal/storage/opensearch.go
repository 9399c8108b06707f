// Package storage is the document store client: an OpenSearch cluster
// receiving event documents keyed by their identity.
package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
	"github.com/telhawk-systems/homehawk/internal/config"
)

// ErrUnavailable marks connectivity failures. Callers treat it as fatal.
var ErrUnavailable = errors.New("document store unavailable")

// DefaultErrorSampleSize bounds BulkResult.Errors when no size is configured.
const DefaultErrorSampleSize = 10

// Document is one (index, id, body) triple.
type Document struct {
	Index string
	ID    string
	Body  any
}

// BulkResult reports per-item outcomes of a bulk upsert. Errors holds at most
// the configured sample size of failure reasons.
type BulkResult struct {
	Indexed int
	Failed  int
	Errors  []string
}

// Client wraps the opensearch-go client.
type Client struct {
	client          *opensearch.Client
	errorSampleSize int
}

// Option configures a Client.
type Option func(*Client)

// WithErrorSampleSize sets how many failure reasons a BulkResult keeps.
func WithErrorSampleSize(n int) Option {
	return func(c *Client) { c.errorSampleSize = n }
}

// NewClient builds a client for cfg. It does not contact the cluster; call
// Ping for that.
func NewClient(cfg config.OpenSearchConfig, opts ...Option) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.Insecure,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	c := &Client{client: client, errorSampleSize: DefaultErrorSampleSize}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ping verifies the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	info, err := c.client.Info(c.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer info.Body.Close()

	if info.IsError() {
		return fmt.Errorf("%w: opensearch returned %s", ErrUnavailable, info.Status())
	}
	return nil
}

// BulkUpsert indexes docs, replacing any existing document with the same id.
// Per-item failures are counted in the result; a transport failure aborts
// with ErrUnavailable.
func (c *Client) BulkUpsert(ctx context.Context, docs []Document) (*BulkResult, error) {
	resp := &BulkResult{}
	if len(docs) == 0 {
		return resp, nil
	}

	var (
		mu           sync.Mutex
		transportErr error
	)

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     c.client,
		NumWorkers: 1,
		OnError: func(ctx context.Context, err error) {
			mu.Lock()
			defer mu.Unlock()
			if transportErr == nil {
				transportErr = err
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	fail := func(reason string) {
		mu.Lock()
		defer mu.Unlock()
		resp.Failed++
		if len(resp.Errors) < c.errorSampleSize {
			resp.Errors = append(resp.Errors, reason)
		}
	}

	for _, doc := range docs {
		data, err := json.Marshal(doc.Body)
		if err != nil {
			fail(fmt.Sprintf("%s: marshal: %v", doc.ID, err))
			continue
		}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Index:      doc.Index,
			Action:     "index",
			DocumentID: doc.ID,
			Body:       bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				mu.Lock()
				defer mu.Unlock()
				resp.Indexed++
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					fail(fmt.Sprintf("%s: %v", item.DocumentID, err))
					return
				}
				fail(fmt.Sprintf("%s: %s: %s", item.DocumentID, res.Error.Type, res.Error.Reason))
			},
		})
		if err != nil {
			fail(fmt.Sprintf("%s: add to bulk indexer: %v", doc.ID, err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		return resp, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if transportErr != nil {
		return resp, fmt.Errorf("%w: %v", ErrUnavailable, transportErr)
	}
	return resp, nil
}

// Upsert indexes a single document under its id.
func (c *Client) Upsert(ctx context.Context, doc Document) error {
	data, err := json.Marshal(doc.Body)
	if err != nil {
		return fmt.Errorf("marshal document %s: %w", doc.ID, err)
	}

	req := opensearchapi.IndexRequest{
		Index:      doc.Index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(data),
	}
	res, err := req.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index %s/%s: %s - %s", doc.Index, doc.ID, res.Status(), string(body))
	}
	return nil
}

// PutPipeline creates or replaces an ingest pipeline.
func (c *Client) PutPipeline(ctx context.Context, name string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	res, err := c.client.Ingest.PutPipeline(
		name,
		bytes.NewReader(data),
		c.client.Ingest.PutPipeline.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to put pipeline %s: %s - %s", name, res.Status(), string(bodyBytes))
	}
	return nil
}

// PutIndexTemplate creates or replaces a composable index template.
func (c *Client) PutIndexTemplate(ctx context.Context, name string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	res, err := c.client.Indices.PutIndexTemplate(
		name,
		bytes.NewReader(data),
		c.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to put index template %s: %s - %s", name, res.Status(), string(bodyBytes))
	}
	return nil
}

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 10 * time.Second

// Connect builds a client and pings the cluster.
func Connect(ctx context.Context, cfg config.OpenSearchConfig, opts ...Option) (*Client, error) {
	c, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
