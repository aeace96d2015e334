package vectordb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyerfyer/doc-rag-assistant/internal/embedding"
)

// collection 一次构建的不可变结果
type collection struct {
	records   []Record
	dimension int
}

// MemoryIndex 内存向量索引
// 集合构建完成后只读，重复构建同一集合时整体替换
type MemoryIndex struct {
	embedder  embedding.Client
	processor *embedding.BatchProcessor
	config    Config

	mu          sync.RWMutex
	collections map[string]*collection
	buildLocks  map[string]*sync.Mutex
}

// NewMemoryIndex 创建内存向量索引
func NewMemoryIndex(embedder embedding.Client, config Config) (*MemoryIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if config.Distance == "" {
		config.Distance = Cosine
	}
	switch config.Distance {
	case Cosine, DotProduct, Euclidean:
	default:
		return nil, fmt.Errorf("unsupported distance type: %s", config.Distance)
	}

	return &MemoryIndex{
		embedder:    embedder,
		processor:   embedding.NewBatchProcessor(embedder, config.BatchSize, config.MaxWorkers),
		config:      config,
		collections: make(map[string]*collection),
		buildLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// buildLock 返回集合对应的构建锁
func (m *MemoryIndex) buildLock(collectionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.buildLocks[collectionID]
	if !ok {
		lock = &sync.Mutex{}
		m.buildLocks[collectionID] = lock
	}
	return lock
}

// Build 嵌入全部条目并以集合ID发布
// 记录ID按输入顺序从0编号，失败时不影响已有集合
func (m *MemoryIndex) Build(ctx context.Context, collectionID string, entries []Entry) error {
	if strings.TrimSpace(collectionID) == "" {
		return ErrEmptyCollectionID
	}

	lock := m.buildLock(collectionID)
	lock.Lock()
	defer lock.Unlock()

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}

	vectors, err := m.processor.Process(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed entries: %w", err)
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("expected %d vectors, got %d", len(entries), len(vectors))
	}

	coll := &collection{records: make([]Record, len(entries))}
	for i, e := range entries {
		if err := ValidateVector(vectors[i], coll.dimension); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		coll.dimension = len(vectors[i])

		vec := vectors[i]
		if m.config.Distance == Cosine || m.config.Distance == DotProduct {
			vec = normalizeVector(vec)
		}
		coll.records[i] = Record{
			ID:       i,
			Text:     e.Text,
			Metadata: copyMetadata(e.Metadata),
			Vector:   vec,
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.collections[collectionID] = coll
	m.mu.Unlock()
	return nil
}

// Query 返回与查询文本最相似的topK条记录，topK<=0时返回全部
func (m *MemoryIndex) Query(ctx context.Context, collectionID, queryText string, topK int) ([]Hit, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, ErrEmptyQuery
	}

	m.mu.RLock()
	coll, ok := m.collections[collectionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}

	hits := make([]Hit, 0, len(coll.records))
	if len(coll.records) == 0 {
		return hits, nil
	}

	qvec, err := m.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := ValidateVector(qvec, coll.dimension); err != nil {
		return nil, err
	}
	if m.config.Distance == Cosine || m.config.Distance == DotProduct {
		qvec = normalizeVector(qvec)
	}

	for _, rec := range coll.records {
		dist, err := ComputeDistance(qvec, rec.Vector, m.config.Distance)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			ID:       rec.ID,
			Text:     rec.Text,
			Score:    DistanceToScore(dist, m.config.Distance),
			Metadata: rec.Metadata,
		})
	}

	SortHits(hits)
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Drop 删除集合，返回集合是否存在
func (m *MemoryIndex) Drop(collectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.collections[collectionID]
	delete(m.collections, collectionID)
	return ok
}

// Count 返回集合中的记录数
func (m *MemoryIndex) Count(collectionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	coll, ok := m.collections[collectionID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collectionID)
	}
	return len(coll.records), nil
}

// Collections 返回已发布的集合ID，按字典序排列
func (m *MemoryIndex) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.collections))
	for id := range m.collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyMetadata(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
