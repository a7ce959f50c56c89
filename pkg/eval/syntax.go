package eval

import (
	"errors"
	"strings"
)

type segment struct {
	text string
	expr bool
}

// split cuts a template into literal text and {{ }} expression bodies.
// {# #} comments are dropped; {% %} statements are rejected.
func split(tmpl string) ([]segment, error) {
	var segs []segment
	rest := tmpl
	for len(rest) > 0 {
		open := strings.Index(rest, "{{")
		if c := strings.Index(rest, "{#"); c >= 0 && (open < 0 || c < open) {
			end := strings.Index(rest[c:], "#}")
			if end < 0 {
				return nil, errors.New("unclosed {# comment")
			}
			if c > 0 {
				segs = append(segs, segment{text: rest[:c]})
			}
			rest = rest[c+end+2:]
			continue
		}
		if s := strings.Index(rest, "{%"); s >= 0 && (open < 0 || s < open) {
			return nil, errors.New("statement blocks ({% %}) are not supported")
		}
		if open < 0 {
			segs = append(segs, segment{text: rest})
			break
		}
		if open > 0 {
			segs = append(segs, segment{text: rest[:open]})
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			return nil, errors.New("unclosed {{ expression")
		}
		body := strings.TrimSpace(rest[open+2 : open+2+end])
		if body == "" {
			return nil, errors.New("empty {{ }} expression")
		}
		segs = append(segs, segment{text: body, expr: true})
		rest = rest[open+2+end+2:]
	}
	return segs, nil
}

// rewriteFilters turns bare Jinja filters ("x | float") into expr pipe
// calls ("x | float()"). Logical "||" and string literals are untouched.
func rewriteFilters(src string) string {
	var b strings.Builder
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				b.WriteByte(src[i])
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '|' && i+1 < len(src) && src[i+1] == '|':
			b.WriteString("||")
			i++
		case c == '|':
			j := i + 1
			for j < len(src) && src[j] == ' ' {
				j++
			}
			k := j
			for k < len(src) && isIdentByte(src[k]) {
				k++
			}
			b.WriteString(src[i:k])
			next := k
			for next < len(src) && src[next] == ' ' {
				next++
			}
			if k > j && (next >= len(src) || src[next] != '(') {
				b.WriteString("()")
			}
			i = k - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
