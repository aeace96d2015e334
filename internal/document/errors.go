package document

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction 所有提取失败的共同标记
	ErrExtraction = errors.New("text extraction failed")
	// ErrEmptyDocument 文档没有内容
	ErrEmptyDocument = errors.New("document is empty")
	// ErrNoText 文档解析后没有可用文本
	ErrNoText = errors.New("no text content found in document")
	// ErrUnsupportedFormat 不支持的文档格式
	ErrUnsupportedFormat = errors.New("unsupported document type")
	// ErrInvalidSplitterConfig 分段器参数非法
	ErrInvalidSplitterConfig = errors.New("invalid splitter config")
)

// ExtractionError 文本提取错误
type ExtractionError struct {
	Document string // 出错的文档名
	Err      error  // 底层原因
}

func newExtractionError(name string, err error) *ExtractionError {
	return &ExtractionError{Document: name, Err: err}
}

// Error 实现error接口
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q: %v", e.Document, e.Err)
}

// Unwrap 返回底层错误
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is 使errors.Is(err, ErrExtraction)成立
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtraction
}
