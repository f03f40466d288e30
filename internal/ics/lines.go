package ics

import (
	"encoding/json"
	"strings"
)

// Param is one content-line parameter. A single value is the scalar form;
// more than one value is the list form ("MEMBER=a,b").
type Param struct {
	Name   string
	Values []string
}

// Value returns the scalar value, or the values joined by "," for a list.
func (p Param) Value() string {
	return strings.Join(p.Values, ",")
}

// IsList reports whether the parameter carried more than one value.
func (p Param) IsList() bool { return len(p.Values) > 1 }

// MarshalJSON renders the scalar form as a string and the list form as an
// array, like [name, value] pairs.
func (p Param) MarshalJSON() ([]byte, error) {
	if len(p.Values) == 1 {
		return json.Marshal([2]any{p.Name, p.Values[0]})
	}
	return json.Marshal([2]any{p.Name, p.Values})
}

// ContentLine is a single logical line: name *(";" param) ":" value.
type ContentLine struct {
	Name   string  `json:"name"`
	Params []Param `json:"params,omitempty"`
	Value  string  `json:"value"`
	// Line is the 1-based logical line number in the unfolded input.
	Line int `json:"-"`
}

// Param returns the first parameter with the given (lower-case) name.
func (l ContentLine) Param(name string) (Param, bool) {
	for _, p := range l.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

const crlf = "\r\n"

// Unfold splits text on CRLF and splices every continuation line (one
// leading SPACE or HTAB) onto the line before it. A single trailing empty
// line is dropped.
func Unfold(text string) []string {
	seq := strings.Split(text, crlf)
	folded := make([]bool, len(seq))

	// Bottom-up, so chains of continuation lines collapse into their head.
	for i := len(seq) - 1; i > 0; i-- {
		line := seq[i]
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			seq[i-1] += line[1:]
			folded[i] = true
		}
	}

	out := make([]string, 0, len(seq))
	for i, line := range seq {
		if !folded[i] {
			out = append(out, line)
		}
	}
	if n := len(out); n > 0 && out[n-1] == "" {
		out = out[:n-1]
	}
	return out
}

// ContentLines unfolds and tokenizes a calendar document. Any malformed
// line aborts the whole document with a *ParseError.
func ContentLines(text string) ([]ContentLine, error) {
	logical := Unfold(text)
	lines := make([]ContentLine, 0, len(logical))
	for i, raw := range logical {
		cl, err := parseContentLine(raw)
		if err != nil {
			err.Line = i + 1
			return nil, err
		}
		cl.Line = i + 1
		lines = append(lines, cl)
	}
	return lines, nil
}

// contentline   = name *(";" param ) ":" value CRLF
// param         = param-name "=" param-value *("," param-value)
// param-value   = paramtext / quoted-string
func parseContentLine(line string) (ContentLine, *ParseError) {
	var cl ContentLine

	name := leadingName(line)
	if name == "" {
		return cl, &ParseError{Msg: "can't find name in " + quoteShort(line)}
	}
	cl.Name = strings.ToLower(name)
	rest := line[len(name):]

	for strings.HasPrefix(rest, ";") {
		rest = rest[1:]

		paramName := leadingName(rest)
		if paramName == "" {
			return cl, &ParseError{Msg: "can't find parameter name in " + quoteShort(rest)}
		}
		pos := len(paramName)
		if pos >= len(rest) || rest[pos] != '=' {
			return cl, &ParseError{Msg: "expected '=' after parameter " + paramName}
		}
		pos++

		var values []string
		for {
			if pos < len(rest) && rest[pos] == '"' {
				end := strings.IndexByte(rest[pos+1:], '"')
				if end == -1 {
					return cl, &ParseError{Msg: "EOL unexpected while parsing a quoted string"}
				}
				values = append(values, rest[pos+1:pos+1+end])
				pos += end + 2
			} else {
				end := strings.IndexAny(rest[pos:], ":,;")
				if end == -1 {
					return cl, &ParseError{Msg: "EOL unexpected while parsing paramtext"}
				}
				values = append(values, rest[pos:pos+end])
				pos += end
			}
			if pos < len(rest) && rest[pos] == ',' {
				pos++
				continue
			}
			break
		}

		cl.Params = append(cl.Params, Param{Name: strings.ToLower(paramName), Values: values})
		rest = rest[pos:]
	}

	if !strings.HasPrefix(rest, ":") {
		return cl, &ParseError{Msg: "expected ':' before value in " + quoteShort(line)}
	}
	cl.Value = rest[1:]
	return cl, nil
}

// leadingName returns the longest prefix of s made of [A-Za-z0-9-].
func leadingName(s string) string {
	i := 0
	for i < len(s) && isNameByte(s[i]) {
		i++
	}
	return s[:i]
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-'
}

func quoteShort(s string) string {
	const max = 40
	if len(s) > max {
		s = s[:max] + "..."
	}
	return `"` + s + `"`
}
