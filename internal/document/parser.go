package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Parser 文档解析器接口
// 负责将不同格式的文档解析为纯文本
type Parser interface {
	// Parse 解析文档，返回文本内容
	Parse(filePath string) (string, error)

	// ParseReader 从Reader解析文档，返回文本内容
	// filename用于确定文档类型
	ParseReader(r io.Reader, filename string) (string, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
func ParserFactory(filePath string) (Parser, error) {
	switch DetectContentType(filePath) {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filePath))
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt":
		return PlainText
	default:
		return Unknown
	}
}

// Document 待处理的源文档
// Data为空时从Path读取
type Document struct {
	Name string // 文档名称，用于判断格式
	Path string // 本地路径（可选）
	Data []byte // 文档原始字节
}

// Bytes 返回文档内容，必要时从磁盘读取
func (d Document) Bytes() ([]byte, error) {
	if len(d.Data) > 0 {
		return d.Data, nil
	}
	if d.Path == "" {
		return nil, ErrEmptyDocument
	}
	data, err := os.ReadFile(d.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// DisplayName 返回用于展示和格式判断的文件名
func (d Document) DisplayName() string {
	if d.Name != "" {
		return filepath.Base(d.Name)
	}
	return filepath.Base(d.Path)
}

// Extract 将文档转换为纯文本
// 任何失败都以*ExtractionError返回，不会返回部分结果
func Extract(doc Document) (string, error) {
	name := doc.DisplayName()

	data, err := doc.Bytes()
	if err != nil {
		return "", newExtractionError(name, err)
	}
	if len(data) == 0 {
		return "", newExtractionError(name, ErrEmptyDocument)
	}

	parser, err := ParserFactory(name)
	if err != nil {
		return "", newExtractionError(name, err)
	}

	text, err := parser.ParseReader(bytes.NewReader(data), name)
	if err != nil {
		return "", newExtractionError(name, err)
	}

	text = normalizeNewlines(text)
	if text == "" {
		return "", newExtractionError(name, ErrNoText)
	}
	return text, nil
}

// normalizeNewlines 统一换行符并去掉首尾空白
func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}
