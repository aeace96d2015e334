package model

import (
	"strconv"
	"time"

	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// SessionResponse 会话创建响应
type SessionResponse struct {
	SessionID string    `json:"session_id"` // 会话ID
	Document  string    `json:"document"`   // 文档名称
	Chunks    int       `json:"chunks"`     // 分块数量
	CreatedAt time.Time `json:"created_at"` // 创建时间
}

// AnswerResponse 问答响应
type AnswerResponse struct {
	Query   string       `json:"query"`             // 用户问题
	Answer  string       `json:"answer"`            // 生成的回答
	Found   bool         `json:"found"`             // 文档中是否有相关信息
	Sources []SourceInfo `json:"sources,omitempty"` // 回答依据的片段
}

// SearchResponse 检索响应
type SearchResponse struct {
	Query   string       `json:"query"`   // 查询内容
	Results []SourceInfo `json:"results"` // 按相关度排序的片段
}

// SourceInfo 片段信息
type SourceInfo struct {
	Text     string  `json:"text"`     // 片段文本
	Score    float32 `json:"score"`    // 相似度得分
	Source   string  `json:"source"`   // 来源文档
	Position int     `json:"position"` // 片段序号
}

// ReleaseResponse 会话释放响应
type ReleaseResponse struct {
	SessionID string `json:"session_id"`
	Released  bool   `json:"released"`
}

// ConvertToSourceInfo 将检索结果转换为片段信息
func ConvertToSourceInfo(hits []vectordb.Hit) []SourceInfo {
	sources := make([]SourceInfo, len(hits))
	for i, h := range hits {
		position, err := strconv.Atoi(h.Metadata["chunk"])
		if err != nil {
			position = h.ID
		}
		sources[i] = SourceInfo{
			Text:     h.Text,
			Score:    h.Score,
			Source:   h.Metadata["source"],
			Position: position,
		}
	}
	return sources
}
