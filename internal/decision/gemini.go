// internal/decision/gemini.go
package decision

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

// Gemini implements Generator against the Generative Language REST API using
// JSON-constrained output. Generation is near-deterministic on purpose: the
// output is machine-parsed.
type Gemini struct {
	base   string
	model  string
	apiKey string
	client *http.Client
}

func NewGemini(baseURL, model, apiKey string) *Gemini {
	return &Gemini{
		base:   strings.TrimRight(baseURL, "/"),
		model:  model,
		apiKey: apiKey,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (g *Gemini) GenerateStructured(ctx context.Context, system, user string, schema map[string]any) ([]byte, error) {
	reqBody := map[string]any{
		"system_instruction": map[string]any{
			"parts": []map[string]any{{"text": system}},
		},
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]any{{"text": user}}},
		},
		"generationConfig": map[string]any{
			"temperature":      0.1,
			"responseMimeType": "application/json",
			"responseSchema":   schema,
		},
	}
	raw, _ := json.Marshal(reqBody)
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.base, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("x-goog-api-key", g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("model status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("model returned no candidates")
	}
	return []byte(out.Candidates[0].Content.Parts[0].Text), nil
}
