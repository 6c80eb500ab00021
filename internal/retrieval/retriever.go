// internal/retrieval/retriever.go
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Chunk is one retrieved slice of a bot's knowledge corpus. Chunks live for
// the duration of a single turn and are never persisted by this service.
type Chunk struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
	Index  int     `json:"index"`
}

// Retriever wraps the external vector-search collaborator. An empty result
// means the bot has no usable knowledge for the query; the orchestrator
// decides what that means for the turn. Transient failures propagate as-is;
// no retries happen at this layer.
type Retriever interface {
	Retrieve(ctx context.Context, botID, query string, k int) ([]Chunk, error)
}

// Ingestor is the document ingestion collaborator (extraction, chunking,
// embedding, index upsert all happen on the other side of this call).
type Ingestor interface {
	Ingest(ctx context.Context, botID, text, filename string) error
}

// HTTP calls the vector-search service.
type HTTP struct {
	base   string
	client *http.Client
}

func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (h *HTTP) Retrieve(ctx context.Context, botID, query string, k int) ([]Chunk, error) {
	body, _ := json.Marshal(map[string]any{"tenant_id": botID, "query": query, "k": k})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/v1/retrieve", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("retriever status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Chunks []Chunk `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Chunks, nil
}

// HTTPIngestor forwards raw document text to the ingestion service.
type HTTPIngestor struct {
	base   string
	client *http.Client
}

func NewHTTPIngestor(baseURL string) *HTTPIngestor {
	return &HTTPIngestor{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (h *HTTPIngestor) Ingest(ctx context.Context, botID, text, filename string) error {
	body, _ := json.Marshal(map[string]any{"tenant_id": botID, "text": text, "filename": filename})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/v1/ingest", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("ingest status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}
