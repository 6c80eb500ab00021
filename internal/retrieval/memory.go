// internal/retrieval/memory.go
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// Embedder turns text into a vector. The dev embedder below is a cheap
// bag-of-words hash; a real deployment points Memory at a proper embedding
// client or uses the HTTP retriever instead.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Memory keeps per-bot chunk vectors in process and ranks by cosine
// similarity client-side. Used for dev bring-up and tests.
type Memory struct {
	embed Embedder
	mu    sync.RWMutex
	docs  map[string][]memChunk // botID -> chunks
}

type memChunk struct {
	chunk Chunk
	vec   []float64
}

func NewMemory(embed Embedder) *Memory {
	if embed == nil {
		embed = hashEmbedder{}
	}
	return &Memory{embed: embed, docs: map[string][]memChunk{}}
}

// Ingest splits text into paragraph chunks and indexes them for botID.
func (m *Memory) Ingest(ctx context.Context, botID, text, filename string) error {
	parts := splitChunks(text)
	indexed := make([]memChunk, 0, len(parts))
	for i, p := range parts {
		v, err := m.embed.Embed(ctx, p)
		if err != nil {
			return err
		}
		indexed = append(indexed, memChunk{
			chunk: Chunk{Text: p, Source: filename, Index: i},
			vec:   v,
		})
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[botID] = append(m.docs[botID], indexed...)
	return nil
}

func (m *Memory) Retrieve(ctx context.Context, botID, query string, k int) ([]Chunk, error) {
	qv, err := m.embed.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	indexed := m.docs[botID]
	m.mu.RUnlock()
	scored := make([]Chunk, 0, len(indexed))
	for _, mc := range indexed {
		c := mc.chunk
		c.Score = cosine(qv, mc.vec)
		scored = append(scored, c)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func splitChunks(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// hashEmbedder buckets lower-cased terms into a fixed-width vector.
type hashEmbedder struct{}

const hashDim = 256

func (hashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v := make([]float64, hashDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		var h uint32 = 2166136261
		for i := 0; i < len(w); i++ {
			h ^= uint32(w[i])
			h *= 16777619
		}
		v[h%hashDim]++
	}
	return v, nil
}
