package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-assistant/internal/document"
	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
)

// 分块元数据键
const (
	MetadataSource = "source"
	MetadataChunk  = "chunk"
)

// Index 检索服务依赖的向量索引
type Index interface {
	Build(ctx context.Context, collectionID string, entries []vectordb.Entry) error
	Query(ctx context.Context, collectionID, queryText string, topK int) ([]vectordb.Hit, error)
	Drop(collectionID string) bool
}

// Session 一次文档准备的结果，作为后续检索的句柄
type Session struct {
	ID           string    // 会话ID
	CollectionID string    // 向量集合ID，由文档内容决定
	Document     string    // 文档名称
	Chunks       int       // 分块数量
	CreatedAt    time.Time // 创建时间
}

// RetrievalConfig 检索服务配置
type RetrievalConfig struct {
	Splitter        document.SplitterConfig // 分块参数
	TopK            int                     // 每次检索返回的片段数
	SessionTTL      time.Duration           // 会话闲置超过该时长后自动释放，0表示不过期
	CleanupInterval time.Duration           // 过期会话的清理周期
}

// DefaultRetrievalConfig 返回默认配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Splitter:        document.DefaultSplitterConfig(),
		TopK:            5,
		SessionTTL:      30 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// RetrievalService 检索服务
// 负责文档的提取、切分、索引，以及基于会话的相似度检索
type RetrievalService struct {
	index    Index
	splitter *document.RecursiveSplitter
	topK     int
	logger   *logrus.Logger

	sessions *gocache.Cache // 会话按闲置时间过期，过期或删除时释放集合引用

	mu   sync.Mutex
	refs map[string]int // 每个集合被多少个会话引用
}

// RetrievalOption 检索服务配置选项
type RetrievalOption func(*RetrievalService)

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) RetrievalOption {
	return func(s *RetrievalService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRetrievalService 创建检索服务
func NewRetrievalService(index Index, config RetrievalConfig, opts ...RetrievalOption) (*RetrievalService, error) {
	if index == nil {
		return nil, errors.New("vector index is required")
	}
	if config.TopK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", config.TopK)
	}
	if config.SessionTTL < 0 {
		return nil, fmt.Errorf("session ttl must not be negative, got %s", config.SessionTTL)
	}

	splitter, err := document.NewRecursiveSplitter(config.Splitter)
	if err != nil {
		return nil, err
	}

	s := &RetrievalService{
		index:    index,
		splitter: splitter,
		topK:     config.TopK,
		logger:   logrus.New(),
		refs:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	cleanup := config.CleanupInterval
	if config.SessionTTL > 0 && cleanup <= 0 {
		cleanup = time.Minute
	}
	if config.SessionTTL == 0 {
		cleanup = 0
	}
	s.sessions = gocache.New(config.SessionTTL, cleanup)
	s.sessions.OnEvicted(s.onSessionEvicted)

	return s, nil
}

// CollectionID 根据文档内容计算集合ID，相同内容得到相同ID
func CollectionID(data []byte) string {
	sum := sha256.Sum256(data)
	return "doc_" + hex.EncodeToString(sum[:])[:16]
}

// Prepare 提取文档文本、切分并构建索引，返回可检索的会话
// 任何失败都以*IngestionError返回
func (s *RetrievalService) Prepare(ctx context.Context, doc document.Document) (*Session, error) {
	name := doc.DisplayName()
	start := time.Now()

	data, err := doc.Bytes()
	if err != nil {
		return nil, &IngestionError{
			Stage:    StageExtract,
			Document: name,
			Err:      &document.ExtractionError{Document: name, Err: err},
		}
	}
	doc.Data = data

	text, err := document.Extract(doc)
	if err != nil {
		return nil, &IngestionError{Stage: StageExtract, Document: name, Err: err}
	}

	chunks, err := s.splitter.Split(text)
	if err != nil {
		return nil, &IngestionError{Stage: StageSplit, Document: name, Err: err}
	}
	if len(chunks) == 0 {
		return nil, &IngestionError{Stage: StageSplit, Document: name, Err: ErrNoChunks}
	}

	entries := make([]vectordb.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vectordb.Entry{
			Text: c.Text,
			Metadata: map[string]string{
				MetadataSource: name,
				MetadataChunk:  strconv.Itoa(c.Index),
			},
		}
	}

	collectionID := CollectionID(data)

	// 先登记引用，避免构建期间集合被其他会话的释放操作删除
	s.mu.Lock()
	s.refs[collectionID]++
	s.mu.Unlock()

	if err := s.index.Build(ctx, collectionID, entries); err != nil {
		s.unref(collectionID)
		return nil, &IngestionError{Stage: StageIndex, Document: name, Err: err}
	}

	session := &Session{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		Document:     name,
		Chunks:       len(chunks),
		CreatedAt:    time.Now(),
	}

	s.sessions.Set(session.ID, session, gocache.DefaultExpiration)

	s.logger.WithFields(logrus.Fields{
		"session_id":    session.ID,
		"document":      name,
		"collection_id": collectionID,
		"chars":         len([]rune(text)),
		"chunks":        len(chunks),
		"elapsed":       time.Since(start).String(),
	}).Info("Document prepared")

	return session, nil
}

// Session 根据ID查找会话，已过期的会话视为不存在
func (s *RetrievalService) Session(id string) (*Session, bool) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	session, ok := v.(*Session)
	return session, ok
}

// touch 重新开始会话的闲置计时
func (s *RetrievalService) touch(id string) bool {
	v, ok := s.sessions.Get(id)
	if !ok {
		return false
	}
	return s.sessions.Replace(id, v, gocache.DefaultExpiration) == nil
}

// Search 返回与查询最相关的分块文本，按相关度从高到低排列
func (s *RetrievalService) Search(ctx context.Context, session *Session, query string) ([]string, error) {
	hits, err := s.SearchHits(ctx, session, query, s.topK)
	if err != nil {
		return nil, err
	}
	return vectordb.Texts(hits), nil
}

// SearchHits 返回带得分的检索结果，topK<=0时使用配置值
func (s *RetrievalService) SearchHits(ctx context.Context, session *Session, query string, topK int) ([]vectordb.Hit, error) {
	var sessionID string
	if session != nil {
		sessionID = session.ID
	}

	if strings.TrimSpace(query) == "" {
		return nil, &SearchError{SessionID: sessionID, Err: vectordb.ErrEmptyQuery}
	}
	if session == nil {
		return nil, &SearchError{Err: ErrSessionNotPrepared}
	}
	if !s.touch(session.ID) {
		return nil, &SearchError{SessionID: sessionID, Err: ErrSessionNotPrepared}
	}
	if topK <= 0 {
		topK = s.topK
	}

	start := time.Now()
	hits, err := s.index.Query(ctx, session.CollectionID, query, topK)
	if err != nil {
		return nil, &SearchError{SessionID: sessionID, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"top_k":      topK,
		"hits":       len(hits),
		"elapsed":    time.Since(start).String(),
	}).Debug("Search completed")

	return hits, nil
}

// Release 释放会话，集合不再被引用时从索引中删除
func (s *RetrievalService) Release(session *Session) bool {
	if session == nil {
		return false
	}
	if _, ok := s.sessions.Get(session.ID); !ok {
		return false
	}
	// 引用计数由onSessionEvicted处理
	s.sessions.Delete(session.ID)
	return true
}

// onSessionEvicted 会话被删除或过期清理时调用
func (s *RetrievalService) onSessionEvicted(id string, value interface{}) {
	session, ok := value.(*Session)
	if !ok {
		return
	}
	s.unref(session.CollectionID)

	s.logger.WithFields(logrus.Fields{
		"session_id":    id,
		"collection_id": session.CollectionID,
		"age":           time.Since(session.CreatedAt).String(),
	}).Info("Session released")
}

// unref 减少集合引用计数，归零时删除集合
func (s *RetrievalService) unref(collectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[collectionID]--
	if s.refs[collectionID] <= 0 {
		delete(s.refs, collectionID)
		s.index.Drop(collectionID)
	}
}

// SessionCount 返回当前会话数，包含已过期但尚未清理的会话
func (s *RetrievalService) SessionCount() int {
	return s.sessions.ItemCount()
}
