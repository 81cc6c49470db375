package adapter

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage breaks text into chunks of at most maxLen bytes, preferring
// newline breaks, then spaces, then a hard cut on a rune boundary.
func SplitMessage(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cut := text[:maxLen]
		pos := strings.LastIndex(cut, "\n")
		if pos <= 0 {
			pos = strings.LastIndex(cut, " ")
		}
		if pos <= 0 {
			pos = maxLen
			for pos > 0 && !utf8.RuneStart(text[pos]) {
				pos--
			}
			if pos == 0 {
				pos = maxLen
			}
		}
		chunks = append(chunks, text[:pos])
		text = strings.TrimLeft(text[pos:], " \t\n")
	}
	return chunks
}
