// Package embedding turns text into vectors for the document index.
package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"google.golang.org/genai"
)

// Task types understood by the Gemini embedding models.
const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// DefaultModel is the Gemini embedding model.
const DefaultModel = "gemini-embedding-001"

// Embedder produces vectors for documents and queries. Documents and queries
// may use different task types; vectors from both are comparable.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// GenAIConfig configures the Gemini embedder.
type GenAIConfig struct {
	APIKey string
	Model  string
	// Dimensions truncates output vectors when positive.
	Dimensions int32
	// BaseURL overrides the API endpoint (for testing).
	BaseURL string
}

// GenAI embeds text with the Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
	dims   *int32
}

// NewGenAI creates a Gemini embedder.
func NewGenAI(ctx context.Context, cfg GenAIConfig) (*GenAI, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("embedding: genai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "embedding: create genai client")
	}

	g := &GenAI{client: client, model: cfg.Model}
	if cfg.Dimensions > 0 {
		d := cfg.Dimensions
		g.dims = &d
	}
	return g, nil
}

// Name returns the engine name.
func (g *GenAI) Name() string { return "genai:" + g.model }

// EmbedDocuments embeds texts in one batch request.
func (g *GenAI) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return g.embed(ctx, texts, TaskRetrievalDocument)
}

// EmbedQuery embeds a single search query.
func (g *GenAI) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.embed(ctx, []string{text}, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (g *GenAI) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, &genai.EmbedContentConfig{
		TaskType:             task,
		OutputDimensionality: g.dims,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "embedding: embed %d texts", len(texts))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, eris.Errorf("embedding: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, eris.Errorf("embedding: empty vector at index %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// Hashing is an offline embedder that hashes folded word tokens into a
// fixed number of buckets. It needs no network access.
type Hashing struct {
	dims int
}

// NewHashing creates a hashing embedder. dims defaults to 512.
func NewHashing(dims int) *Hashing {
	if dims <= 0 {
		dims = 512
	}
	return &Hashing{dims: dims}
}

// Name returns the engine name.
func (h *Hashing) Name() string { return "hashing" }

// EmbedDocuments implements Embedder.
func (h *Hashing) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	return out, nil
}

// EmbedQuery implements Embedder.
func (h *Hashing) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.vector(text), nil
}

func (h *Hashing) vector(text string) []float32 {
	vec := make([]float32, h.dims)
	folded := cases.Lower(language.French).String(text)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		f := fnv.New32a()
		_, _ = f.Write([]byte(w))
		vec[f.Sum32()%uint32(h.dims)]++
	}
	Normalize(vec)
	return vec
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// Cosine returns the cosine similarity of a and b, 0 when either is zero or
// the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
