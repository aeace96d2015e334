package document

import (
	"fmt"
)

// Chunk 文本分块
// Start/End为在原文中的字符（rune）偏移，左闭右开
type Chunk struct {
	Index int    // 分块序号，从0开始
	Text  string // 分块文本
	Start int    // 起始偏移
	End   int    // 结束偏移
}

// Splitter 文本分段器接口
// 负责将长文本分割成适合向量化的小段
type Splitter interface {
	// Split 将文本分割成分块
	Split(text string) ([]Chunk, error)
}

// SplitterConfig 分段器配置
type SplitterConfig struct {
	MaxSize    int      // 分块最大长度（字符数）
	Overlap    int      // 相邻分块重叠长度（字符数）
	Separators []string // 切分点优先级，空字符串表示直接截断
}

// DefaultSeparators 默认切分点：段落、换行、空格、直接截断
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		MaxSize:    512,
		Overlap:    50,
		Separators: DefaultSeparators,
	}
}

// Validate 校验分段器参数
func (c SplitterConfig) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("%w: max_size must be positive, got %d", ErrInvalidSplitterConfig, c.MaxSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxSize {
		return fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidSplitterConfig, c.MaxSize, c.Overlap)
	}
	return nil
}

// RecursiveSplitter 按切分点优先级递进的定长分段器
type RecursiveSplitter struct {
	config     SplitterConfig
	separators [][]rune
}

// NewRecursiveSplitter 创建分段器，参数非法时返回错误
func NewRecursiveSplitter(config SplitterConfig) (*RecursiveSplitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Separators == nil {
		config.Separators = DefaultSeparators
	}

	seps := make([][]rune, 0, len(config.Separators))
	for _, s := range config.Separators {
		seps = append(seps, []rune(s))
	}
	return &RecursiveSplitter{config: config, separators: seps}, nil
}

// Config 返回分段器配置
func (s *RecursiveSplitter) Config() SplitterConfig {
	return s.config
}

// Split 将文本切分为有序分块
// 第i块从上一块结束位置回退Overlap处开始，长度不超过MaxSize，
// 在窗口内优先选择最靠后的高优先级切分点结束
func (s *RecursiveSplitter) Split(text string) ([]Chunk, error) {
	chunks := []Chunk{}
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return chunks, nil
	}

	prevEnd := 0
	for prevEnd < n {
		start := 0
		if len(chunks) > 0 {
			start = prevEnd - s.config.Overlap
		}

		limit := start + s.config.MaxSize
		if limit > n {
			limit = n
		}

		end := limit
		if limit < n {
			end = s.cutPoint(runes, prevEnd, limit)
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		prevEnd = end
	}

	return chunks, nil
}

// cutPoint 在(lower, limit]中寻找切分位置
// 切分点落在分隔符起始处，分隔符归入下一块
func (s *RecursiveSplitter) cutPoint(runes []rune, lower, limit int) int {
	for _, sep := range s.separators {
		if len(sep) == 0 {
			return limit
		}
		for p := limit; p > lower; p-- {
			if hasRunePrefix(runes[p:], sep) {
				return p
			}
		}
	}
	return limit
}

func hasRunePrefix(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if s[i] != r {
			return false
		}
	}
	return true
}

// ChunkTexts 返回分块文本列表
func ChunkTexts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
