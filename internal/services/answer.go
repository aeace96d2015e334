package services

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-assistant/internal/llm"
	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
)

// AnswerResult 回答及其依据
type AnswerResult struct {
	Query    string         // 用户问题
	Answer   string         // 最终回答
	Found    bool           // 是否在文档中找到了答案
	Passages []vectordb.Hit // 交给模型的相关片段
	Tokens   int            // 模型消耗的token数
}

// AnswerService 问答服务
// 在会话对应的文档上检索相关片段，再由两阶段工作流生成回答
type AnswerService struct {
	retrieval *RetrievalService
	workflow  *llm.Workflow
	minScore  float32
	logger    *logrus.Logger
}

// AnswerOption 问答服务配置选项
type AnswerOption func(*AnswerService)

// WithMinScore 设置视为相关的最低相似度得分
func WithMinScore(score float32) AnswerOption {
	return func(s *AnswerService) {
		s.minScore = score
	}
}

// WithAnswerLogger 设置日志记录器
func WithAnswerLogger(logger *logrus.Logger) AnswerOption {
	return func(s *AnswerService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewAnswerService 创建问答服务实例
func NewAnswerService(retrieval *RetrievalService, workflow *llm.Workflow, opts ...AnswerOption) (*AnswerService, error) {
	if retrieval == nil {
		return nil, errors.New("retrieval service is required")
	}
	if workflow == nil {
		return nil, errors.New("generation workflow is required")
	}

	s := &AnswerService{
		retrieval: retrieval,
		workflow:  workflow,
		minScore:  0.05,
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Answer 回答关于会话文档的问题
// 文档中没有相关信息时返回llm.NotFoundAnswer而不是错误
func (s *AnswerService) Answer(ctx context.Context, session *Session, query string) (string, error) {
	result, err := s.AnswerDetail(ctx, session, query)
	if err != nil {
		return "", err
	}
	return result.Answer, nil
}

// AnswerDetail 与Answer相同，额外返回使用的片段和是否命中
func (s *AnswerService) AnswerDetail(ctx context.Context, session *Session, query string) (*AnswerResult, error) {
	start := time.Now()

	hits, err := s.retrieval.SearchHits(ctx, session, query, 0)
	if err != nil {
		return nil, &AnswerError{Stage: llm.StageRetrieve, Err: err}
	}

	relevant := s.filterRelevant(hits)
	result := &AnswerResult{Query: query, Passages: relevant}

	if len(relevant) == 0 {
		result.Answer = llm.NotFoundAnswer
		s.logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"hits":       len(hits),
		}).Info("No relevant passages found")
		return result, nil
	}

	out, err := s.workflow.Run(ctx, query, vectordb.Texts(relevant))
	if err != nil {
		var stageErr *llm.StageError
		if errors.As(err, &stageErr) {
			return nil, &AnswerError{Stage: stageErr.Stage, Err: stageErr.Err}
		}
		return nil, &AnswerError{Stage: llm.StageSynthesize, Err: err}
	}

	result.Answer = out.Answer
	result.Found = out.Found
	result.Tokens = out.Tokens

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"passages":   len(relevant),
		"found":      out.Found,
		"tokens":     out.Tokens,
		"elapsed":    time.Since(start).String(),
	}).Info("Question answered")

	return result, nil
}

// filterRelevant 过滤得分低于阈值的片段，保持原有顺序
func (s *AnswerService) filterRelevant(hits []vectordb.Hit) []vectordb.Hit {
	relevant := make([]vectordb.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= s.minScore {
			relevant = append(relevant, h)
		}
	}
	return relevant
}
