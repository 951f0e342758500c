package chat

import "strings"

// StripTags removes <...> markup from s. Line breaks written as <br> become a
// single space so adjacent words stay apart. An unterminated '<' is kept as
// literal text.
func StripTags(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for {
		open := strings.IndexByte(s, '<')
		if open < 0 {
			b.WriteString(s)
			break
		}

		end := strings.IndexByte(s[open:], '>')
		if end < 0 {
			b.WriteString(s)
			break
		}

		b.WriteString(s[:open])
		if strings.EqualFold(s[open:open+end+1], "<br>") {
			b.WriteByte(' ')
		}
		s = s[open+end+1:]
	}

	return b.String()
}
