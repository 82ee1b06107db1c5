package router

import "strings"

// tokenize splits command text into tokens while supporting quotes, so slot
// display names with spaces survive:
//
//	slot add f4 "Fortress 4" 1
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
