package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder generates a fixed-dimension vector for a piece of text. The
// scheme prefix on a generator name (`openai:*`, `local:*`, `mock:*`)
// selects the implementation; everything downstream only depends on this
// interface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// NewEmbedder builds the embedder named by generator, e.g.
// "openai:text-embedding-3-small", "local:384", or "mock:16".
func NewEmbedder(generator, apiKey string) (Embedder, error) {
	scheme, rest, ok := strings.Cut(generator, ":")
	if !ok {
		return nil, fmt.Errorf("memory: malformed embedding generator %q", generator)
	}
	switch scheme {
	case "openai":
		return newOpenAIEmbedder(apiKey, rest)
	case "local":
		return newLocalEmbedder(rest)
	case "mock":
		return newMockEmbedder(rest)
	default:
		return nil, fmt.Errorf("memory: unknown embedding scheme %q", scheme)
	}
}

// openAIEmbedder wraps the OpenAI embeddings endpoint.
type openAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func newOpenAIEmbedder(apiKey, model string) (*openAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("memory: openai embedder requires an api key")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim := 1536
	if model == "text-embedding-3-large" {
		dim = 3072
	}
	return &openAIEmbedder{
		client: openai.NewClient(apiKey),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("memory: openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("memory: openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (e *openAIEmbedder) Dimension() int { return e.dim }
func (e *openAIEmbedder) Name() string   { return "openai:" + e.model }

// localEmbedder is a deterministic bag-of-words hashing embedder for
// installations without a remote embedding provider; it never calls out
// over the network, keeping episodic writes usable offline.
type localEmbedder struct {
	dim int
}

func newLocalEmbedder(dims string) (*localEmbedder, error) {
	d := parseDim(dims, 384)
	return &localEmbedder{dim: d}, nil
}

func (e *localEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return hashEmbed(text, e.dim), nil
}

func (e *localEmbedder) Dimension() int { return e.dim }
func (e *localEmbedder) Name() string   { return "local" }

// mockEmbedder is the deterministic generator used by tests: identical
// text always yields an identical vector, and the dimension is fixed and
// small so similarity tests run instantly.
type mockEmbedder struct {
	dim int
}

func newMockEmbedder(dims string) (*mockEmbedder, error) {
	d := parseDim(dims, 16)
	return &mockEmbedder{dim: d}, nil
}

func (e *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return hashEmbed(text, e.dim), nil
}

func (e *mockEmbedder) Dimension() int { return e.dim }
func (e *mockEmbedder) Name() string   { return "mock" }

func parseDim(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return fallback
	}
	return n
}

// hashEmbed derives a deterministic unit-ish vector from text by hashing
// a sliding window of tokens into buckets, the same bag-of-hashes trick
// used for cheap local embeddings.
func hashEmbed(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		words = []string{text}
	}
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		bucket := int(h.Sum32()) % dim
		if bucket < 0 {
			bucket += dim
		}
		vec[bucket]++
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = sqrtApprox(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func sqrtApprox(x float32) float32 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 12; i++ {
		z = (z + x/z) / 2
	}
	return z
}
