package document

import (
	"encoding/hex"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/ledongthuc/pdf"
)

// codeRange 编码空间中的一段
type codeRange struct {
	lo, hi []byte
}

// unicodeRange bfrange条目，dst与items二选一
type unicodeRange struct {
	lo, hi uint32
	width  int
	dst    []uint16
	items  []string
}

// toUnicodeMap 字体ToUnicode CMap，实现pdf.TextEncoding
type toUnicodeMap struct {
	space  []codeRange
	chars  map[string]string
	ranges []unicodeRange
}

// parseToUnicode 读取字体的ToUnicode流，没有可用映射时返回nil
func parseToUnicode(stream pdf.Value) *toUnicodeMap {
	rc := stream.Reader()
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil
	}
	return parseCMap(data)
}

// cmapToken CMap中的操作数
type cmapToken struct {
	keyword string
	hex     []byte
	items   [][]byte
	isArray bool
}

// parseCMap 解析CMap中的codespacerange、bfchar和bfrange段
func parseCMap(data []byte) *toUnicodeMap {
	m := &toUnicodeMap{chars: make(map[string]string)}
	var operands []cmapToken

	lx := &cmapLexer{data: data}
	for {
		tok, ok := lx.next()
		if !ok {
			break
		}
		if tok.keyword == "" {
			operands = append(operands, tok)
			continue
		}

		switch tok.keyword {
		case "endcodespacerange":
			for i := 0; i+1 < len(operands); i += 2 {
				lo, hi := operands[i].hex, operands[i+1].hex
				if len(lo) > 0 && len(lo) == len(hi) {
					m.space = append(m.space, codeRange{lo: lo, hi: hi})
				}
			}
		case "endbfchar":
			for i := 0; i+1 < len(operands); i += 2 {
				src, dst := operands[i].hex, operands[i+1].hex
				if len(src) > 0 && dst != nil {
					m.chars[string(src)] = decodeUTF16(bytesToUnits(dst))
				}
			}
		case "endbfrange":
			for i := 0; i+2 < len(operands); i += 3 {
				lo, hi, dst := operands[i].hex, operands[i+1].hex, operands[i+2]
				if len(lo) == 0 || len(lo) != len(hi) || len(lo) > 4 {
					continue
				}
				r := unicodeRange{lo: codeValue(lo), hi: codeValue(hi), width: len(lo)}
				if dst.isArray {
					for _, item := range dst.items {
						r.items = append(r.items, decodeUTF16(bytesToUnits(item)))
					}
				} else if dst.hex != nil {
					r.dst = bytesToUnits(dst.hex)
				} else {
					continue
				}
				m.ranges = append(m.ranges, r)
			}
		}
		operands = operands[:0]
	}

	if len(m.chars) == 0 && len(m.ranges) == 0 {
		return nil
	}
	return m
}

// Decode 将字体编码转换为UTF-8文本
func (m *toUnicodeMap) Decode(raw string) string {
	var sb strings.Builder
	for len(raw) > 0 {
		n := m.codeLength(raw)
		if n > len(raw) {
			n = len(raw)
		}
		if s, ok := m.lookup(raw[:n]); ok {
			sb.WriteString(s)
		}
		raw = raw[n:]
	}
	return sb.String()
}

// codeLength 按编码空间判断下一个字符码占用的字节数
func (m *toUnicodeMap) codeLength(raw string) int {
	shortest := 0
	for _, r := range m.space {
		n := len(r.lo)
		if shortest == 0 || n < shortest {
			shortest = n
		}
		if n > len(raw) {
			continue
		}
		inside := true
		for i := 0; i < n; i++ {
			if raw[i] < r.lo[i] || raw[i] > r.hi[i] {
				inside = false
				break
			}
		}
		if inside {
			return n
		}
	}
	if shortest == 0 {
		// 没有编码空间时沿用映射表中字符码的宽度
		for code := range m.chars {
			return len(code)
		}
		if len(m.ranges) > 0 {
			return m.ranges[0].width
		}
		return 1
	}
	return shortest
}

func (m *toUnicodeMap) lookup(code string) (string, bool) {
	if s, ok := m.chars[code]; ok {
		return s, true
	}
	v := codeValue([]byte(code))
	for _, r := range m.ranges {
		if r.width != len(code) || v < r.lo || v > r.hi {
			continue
		}
		offset := v - r.lo
		if r.items != nil {
			if int(offset) < len(r.items) {
				return r.items[offset], true
			}
			return "", false
		}
		// 偏移加在目标UTF-16序列的最后一个码元上
		units := append([]uint16(nil), r.dst...)
		if len(units) == 0 {
			return "", false
		}
		units[len(units)-1] += uint16(offset)
		return decodeUTF16(units), true
	}
	return "", false
}

func codeValue(b []byte) uint32 {
	var v uint32
	for _, c := range b {
		v = v<<8 | uint32(c)
	}
	return v
}

func bytesToUnits(b []byte) []uint16 {
	if len(b)%2 == 1 {
		b = append([]byte{0}, b...)
	}
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return units
}

func decodeUTF16(units []uint16) string {
	return string(utf16.Decode(units))
}

// cmapLexer CMap词法分析，只识别十六进制串、数组和关键字
type cmapLexer struct {
	data []byte
	pos  int
}

func (l *cmapLexer) next() (cmapToken, bool) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFWhitespace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '<':
			if l.peek(1) == '<' {
				l.pos += 2
				continue
			}
			return cmapToken{hex: l.readHex()}, true
		case c == '>':
			l.pos++
		case c == '[':
			l.pos++
			return l.readArray(), true
		case c == '(':
			l.skipLiteral()
		case c == '/':
			l.pos++
			l.readWord()
			return cmapToken{hex: nil}, true
		default:
			word := l.readWord()
			if word == "" {
				l.pos++
				continue
			}
			if _, err := strconv.ParseFloat(word, 64); err == nil {
				return cmapToken{}, true
			}
			return cmapToken{keyword: word}, true
		}
	}
	return cmapToken{}, false
}

func (l *cmapLexer) peek(offset int) byte {
	if l.pos+offset < len(l.data) {
		return l.data[l.pos+offset]
	}
	return 0
}

func (l *cmapLexer) readWord() string {
	start := l.pos
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		if isPDFWhitespace(c) || strings.IndexByte("()<>[]{}/%", c) >= 0 {
			break
		}
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func (l *cmapLexer) readHex() []byte {
	l.pos++
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if c := l.data[l.pos]; !isPDFWhitespace(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, hex.DecodedLen(len(digits)))
	if _, err := hex.Decode(out, digits); err != nil {
		return []byte{}
	}
	return out
}

func (l *cmapLexer) readArray() cmapToken {
	tok := cmapToken{isArray: true}
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case c == ']':
			l.pos++
			return tok
		case c == '<':
			tok.items = append(tok.items, l.readHex())
		default:
			l.pos++
		}
	}
	return tok
}

func (l *cmapLexer) skipLiteral() {
	depth := 0
	for l.pos < len(l.data) {
		switch l.data[l.pos] {
		case '\\':
			l.pos++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				l.pos++
				return
			}
		}
		l.pos++
	}
}

func isPDFWhitespace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', 0:
		return true
	}
	return false
}
