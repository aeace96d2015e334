package services

import (
	"errors"
	"fmt"
)

// 摄取阶段名称
const (
	StageExtract = "extract"
	StageSplit   = "split"
	StageIndex   = "index"
)

var (
	// ErrSessionNotPrepared 会话不存在或已释放
	ErrSessionNotPrepared = errors.New("session not prepared")
	// ErrNoChunks 文档切分后没有分块
	ErrNoChunks = errors.New("document produced no chunks")
)

// IngestionError 文档准备失败
type IngestionError struct {
	Stage    string // 失败的阶段：extract、split或index
	Document string // 文档名称
	Err      error  // 底层原因
}

// Error 实现error接口
func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %q failed at %s: %v", e.Document, e.Stage, e.Err)
}

// Unwrap 返回底层错误
func (e *IngestionError) Unwrap() error {
	return e.Err
}

// SearchError 检索失败
type SearchError struct {
	SessionID string
	Err       error
}

// Error 实现error接口
func (e *SearchError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("search failed: %v", e.Err)
	}
	return fmt.Sprintf("search in session %s failed: %v", e.SessionID, e.Err)
}

// Unwrap 返回底层错误
func (e *SearchError) Unwrap() error {
	return e.Err
}

// AnswerError 回答生成失败
type AnswerError struct {
	Stage string // 失败阶段：retrieve或synthesize，检索失败也归入retrieve
	Err   error
}

// Error 实现error接口
func (e *AnswerError) Error() string {
	return fmt.Sprintf("answer failed at %s: %v", e.Stage, e.Err)
}

// Unwrap 返回底层错误
func (e *AnswerError) Unwrap() error {
	return e.Err
}
