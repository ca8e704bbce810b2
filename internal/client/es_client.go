package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"hongson-portal/internal/config"
	"hongson-portal/internal/models"
	"hongson-portal/internal/util"
)

const appIndexMapping = `{
  "mappings": {
    "properties": {
      "id":        {"type": "keyword"},
      "name":      {"type": "text", "fields": {"raw": {"type": "keyword"}}},
      "url":       {"type": "text"},
      "iconUrl":   {"type": "keyword", "index": false},
      "zone":      {"type": "keyword"},
      "color":     {"type": "keyword", "index": false},
      "isEnabled": {"type": "boolean"},
      "order":     {"type": "integer"},
      "createdAt": {"type": "date"},
      "updatedAt": {"type": "date"}
    }
  }
}`

// ESClient keeps the app link search index.
type ESClient struct {
	Client *elasticsearch.Client
	config *config.ElasticsearchConfig
	index  string
}

func NewElasticsearchClient(cfg *config.Config, logger *zap.Logger) (*ESClient, error) {
	esConfig := cfg.Elasticsearch

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(), // Skip verify in dev only
		},
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esConfig.URL},
		Username:  esConfig.Username,
		Password:  esConfig.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	esClient := &ESClient{
		Client: client,
		config: &esConfig,
		index:  esConfig.Index,
	}

	ctx := context.Background()
	if err := esClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("elasticsearch connection test failed: %w", err)
	}
	if err := esClient.ensureIndex(ctx); err != nil {
		return nil, err
	}

	logger.Info("Elasticsearch client initialized",
		zap.String("url", esConfig.URL),
		zap.String("index", esConfig.Index),
	)

	return esClient, nil
}

func (e *ESClient) Close() {
	util.Info("Elasticsearch client shutdown")
}

func (e *ESClient) HealthCheck(ctx context.Context) error {
	res, err := e.Client.Info(e.Client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to get cluster info: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}

	util.Debug("Elasticsearch health check passed")
	return nil
}

func (e *ESClient) ensureIndex(ctx context.Context) error {
	res, err := e.Client.Indices.Exists([]string{e.index}, e.Client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", e.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.Client.Indices.Create(e.index,
		e.Client.Indices.Create.WithContext(ctx),
		e.Client.Indices.Create.WithBody(strings.NewReader(appIndexMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", e.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("failed to create index %s: %s", e.index, res.String())
	}

	util.Info("Elasticsearch index created", zap.String("index", e.index))
	return nil
}

// IndexApp upserts app as a document keyed by its id.
func (e *ESClient) IndexApp(ctx context.Context, app *models.AppLink) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(app); err != nil {
		return fmt.Errorf("error encoding document: %w", err)
	}

	res, err := e.Client.Index(
		e.index,
		&buf,
		e.Client.Index.WithContext(ctx),
		e.Client.Index.WithDocumentID(app.ID),
		e.Client.Index.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("error indexing document: %w", err)
	}
	return e.checkResponse(res)
}

// DeleteApp removes a document. A missing document is not an error.
func (e *ESClient) DeleteApp(ctx context.Context, id string) error {
	res, err := e.Client.Delete(e.index, id,
		e.Client.Delete.WithContext(ctx),
		e.Client.Delete.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("error deleting document: %w", err)
	}
	if res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil
	}
	return e.checkResponse(res)
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.AppLink `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchApps runs a fuzzy match on name and url, restricted to enabled apps
// visible in zone when zone is set.
func (e *ESClient) SearchApps(ctx context.Context, query string, zone models.Zone, limit int) ([]*models.AppLink, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildSearchQuery(query, zone, limit)); err != nil {
		return nil, fmt.Errorf("error encoding query: %w", err)
	}

	res, err := e.Client.Search(
		e.Client.Search.WithContext(ctx),
		e.Client.Search.WithIndex(e.index),
		e.Client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("error executing search: %w", err)
	}

	var parsed searchResponse
	if err := e.parseResponse(res, &parsed); err != nil {
		return nil, err
	}

	apps := make([]*models.AppLink, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		app := parsed.Hits.Hits[i].Source
		apps = append(apps, &app)
	}
	return apps, nil
}

func buildSearchQuery(query string, zone models.Zone, limit int) map[string]interface{} {
	filter := []interface{}{
		map[string]interface{}{
			"bool": map[string]interface{}{
				"must_not": map[string]interface{}{
					"term": map[string]interface{}{"isEnabled": false},
				},
			},
		},
	}
	if zone != "" {
		filter = append(filter, map[string]interface{}{
			"terms": map[string]interface{}{"zone": []string{string(zone), string(models.ZoneBoth)}},
		})
	}

	return map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":     query,
						"fields":    []string{"name^3", "url"},
						"fuzziness": "AUTO",
					},
				},
				"filter": filter,
			},
		},
	}
}

func (e *ESClient) checkResponse(res *esapi.Response) error {
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch error: %s", res.String())
	}
	return nil
}

func (e *ESClient) parseResponse(res *esapi.Response, target interface{}) error {
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch error: [%s]", res.Status())
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("error unmarshaling response: %w", err)
	}

	return nil
}
