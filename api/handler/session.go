package handler

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/doc-rag-assistant/api/middleware"
	"github.com/fyerfyer/doc-rag-assistant/api/model"
	"github.com/fyerfyer/doc-rag-assistant/internal/document"
	"github.com/fyerfyer/doc-rag-assistant/internal/services"
	"github.com/fyerfyer/doc-rag-assistant/pkg/storage"
)

// multipartOverhead 上传请求体中表单头部和边界的预留空间
const multipartOverhead = 64 << 10

// SessionHandler 处理会话相关的API请求
type SessionHandler struct {
	retrieval      *services.RetrievalService
	answer         *services.AnswerService
	fileStorage    storage.Storage
	metrics        *middleware.Metrics
	maxUploadBytes int64
	logger         *logrus.Logger
}

// NewSessionHandler 创建会话处理器
func NewSessionHandler(
	retrieval *services.RetrievalService,
	answer *services.AnswerService,
	fileStorage storage.Storage,
	metrics *middleware.Metrics,
	maxUploadBytes int64,
) *SessionHandler {
	return &SessionHandler{
		retrieval:      retrieval,
		answer:         answer,
		fileStorage:    fileStorage,
		metrics:        metrics,
		maxUploadBytes: maxUploadBytes,
		logger:         middleware.GetLogger(),
	}
}

// CreateSession 上传文档并准备会话
// POST /api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	// 在解析表单前限制请求体大小，超限的上传不会被完整读入
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	var req model.SessionCreateRequest
	if err := c.ShouldBind(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.HandleError(c, middleware.NewTooLargeError("request body exceeds upload limit"))
			return
		}
		middleware.HandleError(c, middleware.NewValidationError("file is required", err.Error()))
		return
	}

	filename := filepath.Base(req.File.Filename)
	if _, err := document.ParserFactory(filename); err != nil {
		middleware.HandleError(c, middleware.NewValidationError(
			"unsupported file type, only .pdf, .md, .markdown and .txt are accepted"))
		return
	}
	if h.maxUploadBytes > 0 && req.File.Size > h.maxUploadBytes {
		middleware.HandleError(c, middleware.NewTooLargeError("file exceeds upload limit"))
		return
	}

	file, err := req.File.Open()
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to open uploaded file", err.Error()))
		return
	}
	defer file.Close()

	ctx := c.Request.Context()

	// 暂存上传文件，准备完成后删除
	info, err := h.fileStorage.Save(ctx, file, filename)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to store file", err.Error()))
		return
	}
	defer func() {
		if err := h.fileStorage.Delete(ctx, info.ID); err != nil {
			h.logger.WithError(err).WithField("file_id", info.ID).Warn("Failed to remove staged file")
		}
	}()

	data, err := storage.ReadFile(ctx, h.fileStorage, info.ID)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to read stored file", err.Error()))
		return
	}

	session, err := h.retrieval.Prepare(ctx, document.Document{Name: filename, Data: data})
	h.metrics.ObserveDocument(err)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"filename":   filename,
		"size":       info.Size,
		"chunks":     session.Chunks,
	}).Info("Session created")

	c.JSON(http.StatusCreated, model.NewSuccessResponse(model.SessionResponse{
		SessionID: session.ID,
		Document:  session.Document,
		Chunks:    session.Chunks,
		CreatedAt: session.CreatedAt,
	}))
}

// Answer 回答关于会话文档的问题
// POST /api/sessions/:id/answer
func (h *SessionHandler) Answer(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req model.AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("query is required", err.Error()))
		return
	}

	result, err := h.answer.AnswerDetail(c.Request.Context(), session, req.Query)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	h.metrics.ObserveAnswer(result.Found)

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.AnswerResponse{
		Query:   req.Query,
		Answer:  result.Answer,
		Found:   result.Found,
		Sources: model.ConvertToSourceInfo(result.Passages),
	}))
}

// Search 返回会话文档中与查询最相关的片段
// POST /api/sessions/:id/search
func (h *SessionHandler) Search(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid search request", err.Error()))
		return
	}

	hits, err := h.retrieval.SearchHits(c.Request.Context(), session, req.Query, req.TopK)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.SearchResponse{
		Query:   req.Query,
		Results: model.ConvertToSourceInfo(hits),
	}))
}

// DeleteSession 释放会话
// DELETE /api/sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	session, ok := h.lookup(c)
	if !ok {
		return
	}

	released := h.retrieval.Release(session)

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ReleaseResponse{
		SessionID: session.ID,
		Released:  released,
	}))
}

// lookup 解析路径中的会话ID并查找会话
func (h *SessionHandler) lookup(c *gin.Context) (*services.Session, bool) {
	var uri model.SessionURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewNotFoundError("session not found"))
		return nil, false
	}

	session, ok := h.retrieval.Session(uri.ID)
	if !ok {
		middleware.HandleError(c, services.ErrSessionNotPrepared)
		return nil, false
	}
	return session, true
}
