package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// DefaultLocalDimensions 本地哈希嵌入的默认维度
const DefaultLocalDimensions = 1024

// LocalClient 基于特征哈希的本地嵌入客户端
// 结果只依赖文本内容，不需要网络访问
type LocalClient struct {
	dimensions int
}

// NewLocalClient 创建本地嵌入客户端
func NewLocalClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultLocalDimensions
	}
	if cfg.Dimensions < 0 {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("invalid dimensions: %d", cfg.Dimensions))
	}
	return &LocalClient{dimensions: cfg.Dimensions}, nil
}

// Embed 生成单条文本的向量
// 没有有效词元的文本得到零向量
func (c *LocalClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tf := make(map[string]int)
	for _, tok := range Tokenize(text) {
		tf[tok]++
	}

	vec := make([]float64, c.dimensions)
	for tok, count := range tf {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		idx := int(sum % uint64(c.dimensions))
		weight := 1 + math.Log(float64(count))
		if sum>>63 == 1 {
			weight = -weight
		}
		vec[idx] += weight
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, c.dimensions)
	if norm == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// EmbedBatch 批量生成向量
func (c *LocalClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Name 返回模型名称
func (c *LocalClient) Name() string {
	return fmt.Sprintf("local-hash-%d", c.dimensions)
}

func init() {
	RegisterClient("local", NewLocalClient)
}
