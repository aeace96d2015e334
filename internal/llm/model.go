package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`    // 角色
	Content string      `json:"content"` // 内容
}

// Response 统一的响应结构
type Response struct {
	Text         string    // 生成的文本
	FinishReason string    // 结束原因
	TokenCount   int       // 使用的token数
	ModelName    string    // 使用的模型名称
	FinishTime   time.Time // 完成时间
}

// GeminiOpenAIBaseURL Gemini的OpenAI兼容接口地址
const GeminiOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Model 常用模型名称
const (
	ModelGeminiFlash = "gemini-2.0-flash" // 默认模型
	ModelGPT4oMini   = "gpt-4o-mini"
)
