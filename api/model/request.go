package model

import (
	"mime/multipart"
)

// SessionCreateRequest 上传文档创建会话的请求
type SessionCreateRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"` // 文件对象
}

// SessionURI 路径中的会话ID
type SessionURI struct {
	ID string `uri:"id" binding:"required,uuid"` // 会话ID
}

// AnswerRequest 问答请求
type AnswerRequest struct {
	Query string `json:"query" binding:"required"` // 问题内容
}

// SearchRequest 检索请求
type SearchRequest struct {
	Query string `json:"query" binding:"required"`              // 查询内容
	TopK  int    `json:"top_k" binding:"omitempty,min=1,max=50"` // 可选的返回数量
}
