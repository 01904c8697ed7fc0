// Package elasticsearch wraps the official client with the typed document
// operations the detection engine needs: review aggregations, incident
// lifecycle writes, business patches, and the bulk review-hold transition.
package elasticsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/reviewguard/reviewguard/internal/config"
)

// Client wraps the Elasticsearch client.
type Client struct {
	esClient *es.Client
	config   *config.ElasticsearchConfig
}

// NewClient creates a new Elasticsearch client and verifies the connection.
func NewClient(cfg *config.ElasticsearchConfig) (*Client, error) {
	addresses := []string{cfg.URL}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		addresses = []string{"http://" + cfg.URL}
	}

	clientConfig := es.Config{
		Addresses:  addresses,
		MaxRetries: cfg.MaxRetries,
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Timeout.Std(),
		},
	}
	if cfg.Username != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	esClient, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	client := &Client{
		esClient: esClient,
		config:   cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping elasticsearch: %w", err)
	}

	return client, nil
}

// Ping verifies the Elasticsearch connection.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.esClient.Ping(c.esClient.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch ping failed: %s", string(body))
	}

	return nil
}

// HealthCheck checks Elasticsearch cluster health.
func (c *Client) HealthCheck(ctx context.Context) error {
	res, err := c.esClient.Cluster.Health(
		c.esClient.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster unhealthy [%d]: %s", res.StatusCode, string(body))
	}

	return nil
}

// IndexExists checks if an index exists.
func (c *Client) IndexExists(ctx context.Context, indexName string) (bool, error) {
	res, err := c.esClient.Indices.Exists([]string{indexName},
		c.esClient.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to check index existence: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, fmt.Errorf("error checking index existence: %s", res.String())
	}

	return true, nil
}

// EnsureIndex creates an index with the given mapping if it does not exist.
// Creating an index that appeared concurrently is treated as success.
func (c *Client) EnsureIndex(ctx context.Context, indexName string, mapping map[string]any) error {
	exists, err := c.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var body io.Reader
	if mapping != nil {
		data, marshalErr := json.Marshal(mapping)
		if marshalErr != nil {
			return fmt.Errorf("failed to marshal mapping: %w", marshalErr)
		}
		body = strings.NewReader(string(data))
	}

	res, err := c.esClient.Indices.Create(indexName,
		c.esClient.Indices.Create.WithBody(body),
		c.esClient.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", indexName, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if strings.Contains(string(raw), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("error creating index %s: %s", indexName, string(raw))
	}

	return nil
}

// GetESClient returns the underlying Elasticsearch client.
func (c *Client) GetESClient() *es.Client {
	return c.esClient
}

// GetConfig returns the Elasticsearch configuration.
func (c *Client) GetConfig() *config.ElasticsearchConfig {
	return c.config
}

// encodeBody marshals a query map into a reader for request bodies.
func encodeBody(query map[string]any) (io.Reader, error) {
	data, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	return strings.NewReader(string(data)), nil
}

// isNotFoundBody reports whether an error response is an index-not-found.
func isNotFoundBody(body []byte) bool {
	return strings.Contains(string(body), "index_not_found_exception")
}

// errIndexMissing marks a search against an index that does not exist yet.
var errIndexMissing = errors.New("index not found")

func isIndexMissing(err error) bool {
	return errors.Is(err, errIndexMissing)
}
