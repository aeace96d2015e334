package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/doc-rag-assistant/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
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

// countingClient 记录调用次数的测试客户端
type countingClient struct {
	inner Client
	calls atomic.Int32
	texts atomic.Int32
	fail  bool
}

func (c *countingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	c.texts.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.texts.Add(int32(len(texts)))
	if c.fail {
		return nil, errors.New("backend unavailable")
	}
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingClient) Name() string { return "counting" }

func newLocal(t *testing.T) Client {
	client, err := NewClient("local")
	require.NoError(t, err)
	return client
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"paris", "capital", "france"}, Tokenize("Paris is the capital of France."))
	assert.Equal(t, []string{"average", "rainfall", "sahara", "desert"},
		Tokenize("What is the average rainfall in the Sahara desert?"))
	assert.Equal(t, []string{"city", "car"}, Tokenize("Cities; cars!"))
	assert.Equal(t, []string{"中", "文"}, Tokenize("中文"))
	assert.Empty(t, Tokenize("a, the, of ..."))
}

func TestLocalClient(t *testing.T) {
	ctx := context.Background()
	client := newLocal(t)
	assert.Equal(t, "local-hash-1024", client.Name())

	doc, err := client.Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)
	assert.Len(t, doc, DefaultLocalDimensions)

	same, err := client.Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)
	assert.Equal(t, doc, same)
	assert.InDelta(t, 1.0, cosine(doc, same), 1e-6)

	related, err := client.Embed(ctx, "What is the capital of France?")
	require.NoError(t, err)
	unrelated, err := client.Embed(ctx, "What is the average rainfall in the Sahara desert?")
	require.NoError(t, err)
	assert.Greater(t, cosine(doc, related), 0.5)
	assert.Greater(t, cosine(doc, related), cosine(doc, unrelated))

	// 只有停用词的文本得到零向量
	zero, err := client.Embed(ctx, "the of and")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cosine(zero, doc))

	_, err = client.Embed(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyText)

	vectors, err := client.EmbedBatch(ctx, []string{"one document", "another document"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
}

func TestNewClientUnknown(t *testing.T) {
	_, err := NewClient("nope")
	var embErr EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, ErrCodeInvalidRequest, embErr.Code)
}

func TestBatchProcessorKeepsOrder(t *testing.T) {
	ctx := context.Background()
	local := newLocal(t)
	counting := &countingClient{inner: local}

	texts := make([]string, 23)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk number %d about topic%d", i, i)
	}

	processor := NewBatchProcessor(counting, 5, 3)
	vectors, err := processor.Process(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	assert.Equal(t, int32(5), counting.calls.Load())

	for i, text := range texts {
		expected, err := local.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, expected, vectors[i], "vector %d out of order", i)
	}

	empty, err := processor.Process(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBatchProcessorError(t *testing.T) {
	processor := NewBatchProcessor(&countingClient{inner: newLocal(t), fail: true}, 2, 2)
	_, err := processor.Process(context.Background(), []string{"a1", "b2", "c3"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewBatchProcessor(newLocal(t), 2, 2).Process(ctx, []string{"x1", "y2"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCachedClient(t *testing.T) {
	ctx := context.Background()
	memory, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	counting := &countingClient{inner: newLocal(t)}
	client := NewCachedClient(counting, memory, time.Minute, nil)

	first, err := client.Embed(ctx, "cached text")
	require.NoError(t, err)
	second, err := client.Embed(ctx, "cached text")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), counting.texts.Load())

	vectors, err := client.EmbedBatch(ctx, []string{"cached text", "fresh text"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, first, vectors[0])
	// 只有未命中的文本会请求底层客户端
	assert.Equal(t, int32(2), counting.texts.Load())
	assert.Equal(t, "counting", client.Name())
}

func newFakeEmbeddingServer(t *testing.T, status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"denied","type":"invalid_request_error"}}`))
			return
		}

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// 倒序返回，验证按index还原
		data := make([]map[string]interface{}, 0, len(req.Input))
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestOpenAIClient(t *testing.T) {
	server := newFakeEmbeddingServer(t, http.StatusOK)
	defer server.Close()

	client, err := NewClient("openai",
		WithAPIKey("test-key"),
		WithBaseURL(server.URL+"/v1"),
		WithTimeout(5*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, client.Name())

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vectors)

	vec, err := client.Embed(context.Background(), "single")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, vec)
}

func TestOpenAIClientErrors(t *testing.T) {
	_, err := NewOpenAIClient()
	assert.Error(t, err)

	server := newFakeEmbeddingServer(t, http.StatusUnauthorized)
	defer server.Close()

	client, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "text")
	var embErr EmbeddingError
	require.True(t, errors.As(err, &embErr))
	assert.Equal(t, ErrCodeInvalidAPIKey, embErr.Code)
}
