package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/fyerfyer/doc-rag-assistant/internal/cache"
	"github.com/sirupsen/logrus"
)

// CachedClient 带缓存的嵌入客户端
// 缓存读写失败只记录日志，不影响嵌入结果
type CachedClient struct {
	client Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewCachedClient 用缓存包装嵌入客户端
func NewCachedClient(client Client, c cache.Cache, ttl time.Duration, logger *logrus.Logger) *CachedClient {
	if logger == nil {
		logger = logrus.New()
	}
	return &CachedClient{client: client, cache: c, ttl: ttl, logger: logger}
}

func (c *CachedClient) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return cache.GenerateCacheKey("embedding", c.client.Name(), hex.EncodeToString(sum[:]))
}

func (c *CachedClient) lookup(ctx context.Context, text string) ([]float32, bool) {
	raw, found, err := c.cache.Get(ctx, c.cacheKey(text))
	if err != nil {
		c.logger.WithError(err).Warn("embedding cache read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		c.logger.WithError(err).Warn("embedding cache entry is corrupt")
		return nil, false
	}
	return vec, true
}

func (c *CachedClient) store(ctx context.Context, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, c.cacheKey(text), string(data), c.ttl); err != nil {
		c.logger.WithError(err).Warn("embedding cache write failed")
	}
}

// Embed 优先从缓存读取向量
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if vec, ok := c.lookup(ctx, text); ok {
		return vec, nil
	}

	vec, err := c.client.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, vec)
	return vec, nil
}

// EmbedBatch 只对未命中的文本调用底层客户端
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.lookup(ctx, text); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vectors, err := c.client.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missTexts) {
			return nil, NewEmbeddingError(ErrCodeBadResponse, "embedding count does not match input")
		}
		for j, vec := range vectors {
			out[missIdx[j]] = vec
			c.store(ctx, missTexts[j], vec)
		}
	}
	return out, nil
}

// Name 返回底层模型名称
func (c *CachedClient) Name() string {
	return c.client.Name()
}
