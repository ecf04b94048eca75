package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Distance metrics understood by Qdrant.
const (
	DistanceCosine = "Cosine"
	DistanceDot    = "Dot"
	DistanceEuclid = "Euclid"
)

// Payload is the metadata stored alongside each vector.
type Payload struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Source     string `json:"source"`
}

// Point is one stored vector with its payload.
type Point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload"`
}

// ScoredPoint is a search hit, ordered descending by score.
type ScoredPoint struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// PointID derives the deterministic point id for a document chunk. Using a
// UUIDv5 of (document id, chunk index) makes re-ingestion of the same
// document overwrite its own points instead of duplicating them, and keeps
// point id spaces of different documents disjoint.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}

// Client is a minimal REST client to Qdrant.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config carries the Qdrant connection settings.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// NewClient builds a Qdrant client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// EnsureCollection creates the collection with the given vector dimension
// and distance metric if it does not exist. It is idempotent: a collection
// that already exists, including one created by a racing worker between the
// check and the create, is success.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int, distance string) error {
	if dimension <= 0 {
		return fmt.Errorf("qdrant: invalid dimension %d", dimension)
	}
	status, _, err := c.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return fmt.Errorf("qdrant: check collection %s: %w", name, err)
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("qdrant: check collection %s: unexpected status %d", name, status)
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimension,
			"distance": distance,
		},
	}
	status, respBody, err := c.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", name, err)
	}
	if status < 300 {
		return nil
	}
	// Another worker won the create race; that is the expected outcome of
	// check-then-create, not a failure.
	if status == http.StatusConflict || strings.Contains(strings.ToLower(string(respBody)), "already exists") {
		return nil
	}
	return fmt.Errorf("qdrant: create collection %s: status %d: %s", name, status, truncateBody(respBody))
}

// Upsert writes points into the collection. With wait set, Qdrant
// acknowledges only after the write is durable, so returning nil implies the
// points are searchable.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point, wait bool) error {
	if len(points) == 0 {
		return nil
	}
	path := fmt.Sprintf("/collections/%s/points", collection)
	if wait {
		path += "?wait=true"
	}
	body := map[string]interface{}{"points": points}
	status, respBody, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return fmt.Errorf("qdrant: upsert %d points into %s: %w", len(points), collection, err)
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: upsert into %s: status %d: %s", collection, status, truncateBody(respBody))
	}
	return nil
}

// Search returns the topK nearest points by the collection's distance
// metric, descending by score, with payloads included when requested.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, withPayload bool) ([]ScoredPoint, error) {
	if topK <= 0 {
		topK = 5
	}
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": withPayload,
	}
	status, respBody, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", collection), body)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search %s: %w", collection, err)
	}
	// The collection only exists once the first document was ingested;
	// searching before that is an empty corpus, not a failure.
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 300 {
		return nil, fmt.Errorf("qdrant: search %s: status %d: %s", collection, status, truncateBody(respBody))
	}
	var parsed struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("qdrant: parse search response: %w", err)
	}
	return parsed.Result, nil
}

// DeleteByDocument removes every point whose payload references the given
// document id. Used by the retention sweep.
func (c *Client) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	body := map[string]interface{}{
		"filter": map[string]interface{}{
			"must": []map[string]interface{}{
				{"key": "document_id", "match": map[string]string{"value": documentID}},
			},
		},
	}
	status, respBody, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/delete?wait=true", collection), body)
	if err != nil {
		return fmt.Errorf("qdrant: delete points of %s: %w", documentID, err)
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: delete points of %s: status %d: %s", documentID, status, truncateBody(respBody))
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
