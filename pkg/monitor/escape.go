package monitor

const esc = '\033'

// StripEscapes removes ANSI terminal escape sequences from s so that colored
// program output can be parsed as chat. CSI sequences ("\033[...X"), OSC
// sequences ("\033]...BEL" or "\033]...\033\\") and two-byte escapes such as
// "\033c" are removed. A trailing incomplete sequence is dropped.
func StripEscapes(s string) string {
	// Fast path for plain lines.
	hasEsc := false
	for i := 0; i < len(s); i++ {
		if s[i] == esc {
			hasEsc = true
			break
		}
	}
	if !hasEsc {
		return s
	}

	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != esc {
			out = append(out, s[i])
			continue
		}

		if i+1 >= len(s) {
			break
		}

		switch s[i+1] {
		case '[':
			i = skipCSI(s, i+2)
		case ']':
			i = skipOSC(s, i+2)
		default:
			i++
		}
	}

	return string(out)
}

// skipCSI returns the index of the final byte of a CSI sequence whose
// parameters start at i.
func skipCSI(s string, i int) int {
	for ; i < len(s); i++ {
		if c := s[i]; c >= 0x40 && c <= 0x7e {
			return i
		}
	}
	return len(s)
}

// skipOSC returns the index of the last byte of the OSC terminator.
func skipOSC(s string, i int) int {
	for ; i < len(s); i++ {
		switch s[i] {
		case '\a':
			return i
		case esc:
			if i+1 < len(s) && s[i+1] == '\\' {
				return i + 1
			}
		}
	}
	return len(s)
}
