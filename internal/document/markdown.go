package document

import (
	"fmt"
	stdhtml "html"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

var (
	htmlTagPattern   = regexp.MustCompile(`<[^>]*>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern  = regexp.MustCompile(`[ \t]+`)
	blockTagReplacer = strings.NewReplacer(
		"<br>", "\n", "<br/>", "\n", "<br />", "\n",
		"</p>", "\n\n", "<li>", "- ", "</li>", "\n",
		"<ul>", "\n", "</ul>", "\n", "<ol>", "\n", "</ol>", "\n",
		"</pre>", "\n\n", "</blockquote>", "\n\n",
		"<h1", "\n\n<h1", "</h1>", "\n\n",
		"<h2", "\n\n<h2", "</h2>", "\n\n",
		"<h3", "\n\n<h3", "</h3>", "\n\n",
		"<h4", "\n\n<h4", "</h4>", "\n\n",
		"<h5", "\n\n<h5", "</h5>", "\n\n",
		"<h6", "\n\n<h6", "</h6>", "\n\n",
		"</tr>", "\n", "</td>", " ", "</th>", " ",
	)
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open markdown file: %w", err)
	}
	defer file.Close()

	return p.ParseReader(file, filePath)
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read markdown content: %w", err)
	}

	// 解析器不可复用，每次新建
	mdParser := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := mdParser.Parse(content)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	htmlContent := markdown.Render(doc, renderer)

	return extractTextFromHTML(string(htmlContent)), nil
}

// extractTextFromHTML 从渲染后的HTML中提取纯文本，保留段落结构
func extractTextFromHTML(src string) string {
	text := blockTagReplacer.Replace(src)
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = stdhtml.UnescapeString(text)
	return normalizeWhitespace(text)
}

// normalizeWhitespace 合并行内空白，最多保留一个空行
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
