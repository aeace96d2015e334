package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-assistant/config"
	"github.com/fyerfyer/doc-rag-assistant/internal/cache"
	"github.com/fyerfyer/doc-rag-assistant/internal/document"
	"github.com/fyerfyer/doc-rag-assistant/internal/embedding"
	"github.com/fyerfyer/doc-rag-assistant/internal/llm"
	"github.com/fyerfyer/doc-rag-assistant/internal/services"
	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
	"github.com/fyerfyer/doc-rag-assistant/pkg/storage"
)

// application 由配置组装出的服务集合
type application struct {
	retrieval *services.RetrievalService
	answer    *services.AnswerService
	closers   []io.Closer
}

// newApplication 按配置创建检索和问答服务
func newApplication(cfg *config.Config, logger *logrus.Logger) (*application, error) {
	app := &application{}

	embedder, err := setupEmbedding(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}

	if cfg.Cache.Enable {
		c, err := setupCache(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
		if closer, ok := c.(io.Closer); ok {
			app.closers = append(app.closers, closer)
		}
		embedder = embedding.NewCachedClient(embedder, c, cfg.Cache.TTL, logger)
	}

	index, err := vectordb.NewMemoryIndex(embedder, vectordb.Config{
		Distance:   vectordb.DistanceType(cfg.Index.Distance),
		BatchSize:  cfg.Embed.BatchSize,
		MaxWorkers: cfg.Index.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	app.retrieval, err = services.NewRetrievalService(index, services.RetrievalConfig{
		Splitter: document.SplitterConfig{
			MaxSize:    cfg.Chunk.MaxSize,
			Overlap:    cfg.Chunk.Overlap,
			Separators: document.DefaultSeparators,
		},
		TopK:            cfg.Search.TopK,
		SessionTTL:      cfg.Session.IdleTTL,
		CleanupInterval: cfg.Session.CleanupInterval,
	}, services.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	llmClient, err := setupLLM(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	workflow := llm.NewWorkflow(llmClient,
		llm.WithWorkflowTemperature(cfg.LLM.Temperature),
		llm.WithWorkflowLogger(logger),
	)
	app.answer, err = services.NewAnswerService(app.retrieval, workflow,
		services.WithMinScore(cfg.Search.MinScore),
		services.WithAnswerLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"embedder":  embedder.Name(),
		"llm":       llmClient.Name(),
		"max_size":  cfg.Chunk.MaxSize,
		"overlap":   cfg.Chunk.Overlap,
		"top_k":     cfg.Search.TopK,
		"min_score": cfg.Search.MinScore,
	}).Info("Pipeline initialized")

	return app, nil
}

// Close 释放外部连接
func (a *application) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

// setupEmbedding 初始化嵌入客户端
func setupEmbedding(cfg *config.Config) (embedding.Client, error) {
	opts := []embedding.Option{
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
		embedding.WithTimeout(cfg.Embed.Timeout),
	}
	if cfg.Embed.APIKey != "" {
		opts = append(opts, embedding.WithAPIKey(cfg.Embed.APIKey))
	}
	if cfg.Embed.BaseURL != "" {
		opts = append(opts, embedding.WithBaseURL(cfg.Embed.BaseURL))
	}
	if cfg.Embed.Model != "" {
		opts = append(opts, embedding.WithModel(cfg.Embed.Model))
	}
	return embedding.NewClient(cfg.Embed.Provider, opts...)
}

// setupLLM 初始化大模型客户端
func setupLLM(cfg *config.Config) (llm.Client, error) {
	opts := []llm.Option{
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithModel(cfg.LLM.ModelID),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout),
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	return llm.NewClient(cfg.LLM.Provider, opts...)
}

// setupCache 初始化嵌入缓存
func setupCache(cfg *config.Config) (cache.Cache, error) {
	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Cache.Type
	cacheConfig.RedisAddr = cfg.Cache.Address
	cacheConfig.RedisPassword = cfg.Cache.Password
	cacheConfig.RedisDB = cfg.Cache.DB
	cacheConfig.KeyPrefix = cfg.Cache.Prefix
	if cfg.Cache.TTL > 0 {
		cacheConfig.DefaultTTL = cfg.Cache.TTL
	}
	return cache.NewCache(cacheConfig)
}

// setupStorage 初始化上传文件暂存
func setupStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.New(storage.Config{
		Type:  cfg.Storage.Type,
		Local: storage.LocalConfig{Path: cfg.Storage.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		},
	})
}
