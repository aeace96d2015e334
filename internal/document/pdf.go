package document

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrUndecodableFont 复合字体缺少ToUnicode映射，无法还原文本
var ErrUndecodableFont = errors.New("font has no unicode mapping")

// PDFParser PDF文档解析器
type PDFParser struct{}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	return &PDFParser{}
}

// Parse 解析PDF文件并提取其文本内容
func (p *PDFParser) Parse(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf file: %w", err)
	}
	defer f.Close()

	return p.ParseReader(f, filePath)
}

// ParseReader 从Reader解析PDF内容
// 先用pdfcpu校验文档结构，再按页解释内容流并通过字体编码还原文本
func (p *PDFParser) ParseReader(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read pdf content: %w", err)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return "", fmt.Errorf("invalid pdf: %w", err)
	}

	text, err := extractPDFText(data)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// extractPDFText 依次提取每一页的文本，页与页之间以空行分隔
func extractPDFText(data []byte) (text string, err error) {
	// pdf包遇到损坏的对象时会panic
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := extractPageText(page)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

// extractPageText 解释页面内容流中的文本操作符
// 换行依据T*、'、"、ET、Tm以及带纵向位移的Td/TD
func extractPageText(page pdf.Page) (string, error) {
	encoders := make(map[string]pdf.TextEncoding)
	var fontErr error
	for _, name := range page.Fonts() {
		enc, err := fontEncoding(page.Font(name))
		if err != nil {
			// 只有页面实际使用该字体时才算失败
			encoders[name] = nil
			fontErr = fmt.Errorf("font %s: %w", name, err)
			continue
		}
		encoders[name] = enc
	}

	var (
		enc     pdf.TextEncoding = latin1Encoding{}
		tw      = &textWriter{}
		usedErr error
	)
	show := func(v pdf.Value) {
		if v.Kind() == pdf.String {
			tw.write(enc.Decode(v.RawString()))
		}
	}

	for _, strm := range contentStreams(page.V.Key("Contents")) {
		pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
			n := stk.Len()
			args := make([]pdf.Value, n)
			for i := n - 1; i >= 0; i-- {
				args[i] = stk.Pop()
			}

			switch op {
			case "Tf":
				if n < 2 {
					return
				}
				e, ok := encoders[args[0].Name()]
				switch {
				case ok && e == nil:
					usedErr = fontErr
					enc = latin1Encoding{}
				case ok:
					enc = e
				default:
					enc = latin1Encoding{}
				}
			case "Tj":
				if n > 0 {
					show(args[n-1])
				}
			case "'", "\"":
				tw.newline()
				if n > 0 {
					show(args[n-1])
				}
			case "TJ":
				if n == 0 || args[n-1].Kind() != pdf.Array {
					return
				}
				arr := args[n-1]
				for i := 0; i < arr.Len(); i++ {
					item := arr.Index(i)
					switch item.Kind() {
					case pdf.String:
						show(item)
					case pdf.Integer, pdf.Real:
						// 较大的负位移通常表示单词间隔
						if item.Float64() < -200 {
							tw.space()
						}
					}
				}
			case "T*", "ET", "Tm":
				tw.newline()
			case "Td", "TD":
				if n >= 2 && args[1].Float64() != 0 {
					tw.newline()
				}
			}
		})
	}
	tw.newline()

	if usedErr != nil {
		return "", usedErr
	}
	return strings.Join(tw.lines, "\n"), nil
}

// contentStreams 页面的Contents可以是单个流或流数组
func contentStreams(contents pdf.Value) []pdf.Value {
	switch contents.Kind() {
	case pdf.Stream:
		return []pdf.Value{contents}
	case pdf.Array:
		streams := make([]pdf.Value, 0, contents.Len())
		for i := 0; i < contents.Len(); i++ {
			if s := contents.Index(i); s.Kind() == pdf.Stream {
				streams = append(streams, s)
			}
		}
		return streams
	}
	return nil
}

// fontEncoding 选择字体的解码方式
// 有ToUnicode时优先使用，简单字体退回到其内置编码，复合字体缺少映射时报错
func fontEncoding(font pdf.Font) (pdf.TextEncoding, error) {
	if toUnicode := font.V.Key("ToUnicode"); toUnicode.Kind() == pdf.Stream {
		if m := parseToUnicode(toUnicode); m != nil {
			return m, nil
		}
	}
	if font.V.Key("Subtype").Name() == "Type0" {
		return nil, ErrUndecodableFont
	}
	return font.Encoder(), nil
}

// latin1Encoding 未声明字体时按单字节解码
type latin1Encoding struct{}

func (latin1Encoding) Decode(raw string) string {
	runes := make([]rune, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		runes = append(runes, rune(raw[i]))
	}
	return string(runes)
}

// textWriter 按行累积文本
type textWriter struct {
	lines []string
	cur   strings.Builder
}

func (w *textWriter) write(s string) {
	w.cur.WriteString(s)
}

func (w *textWriter) space() {
	s := w.cur.String()
	if s != "" && !strings.HasSuffix(s, " ") {
		w.cur.WriteByte(' ')
	}
}

func (w *textWriter) newline() {
	line := strings.TrimRight(w.cur.String(), " \t")
	w.cur.Reset()
	if strings.TrimSpace(line) == "" {
		return
	}
	w.lines = append(w.lines, line)
}
