// Package addressing extracts mentions, citations and assistant invocation
// from free chat text.
package addressing

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var emailPattern = regexp.MustCompile(`\b[\w._%+-]+@[\w.-]+\.[A-Za-z]{2,}\b`)

type Result struct {
	Mentions              []string `json:"mentions"`
	Citations             []string `json:"citations"`
	ShouldInvokeAssistant bool     `json:"should_invoke_assistant"`
	IsComment             bool     `json:"is_comment"`
}

// Parse never fails. A bare "@" at a word boundary that is not followed by a
// word character invokes the assistant.
func Parse(text string) Result {
	res := Result{Mentions: []string{}, Citations: []string{}}
	cleaned := emailPattern.ReplaceAllString(text, "")

	for i := 0; i < len(cleaned); i++ {
		c := cleaned[i]
		if (c != '@' && c != '/') || !atBoundary(cleaned, i) {
			continue
		}
		rest := cleaned[i+1:]
		switch c {
		case '@':
			n := wordLen(rest)
			if n == 0 {
				res.ShouldInvokeAssistant = true
				continue
			}
			if mentionTerminated(rest[n:]) {
				res.Mentions = append(res.Mentions, rest[:n])
			}
			i += n
		case '/':
			n := strings.IndexFunc(rest, unicode.IsSpace)
			if n < 0 {
				n = len(rest)
			}
			if n > 0 {
				res.Citations = append(res.Citations, rest[:n])
			}
			i += n
		}
	}

	res.IsComment = !res.ShouldInvokeAssistant && len(res.Mentions) == 0
	return res
}

func atBoundary(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsSpace(r)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func wordLen(s string) int {
	n := 0
	for n < len(s) && isWordByte(s[n]) {
		n++
	}
	return n
}

// A name followed by '@' or '.' is part of something else, like a handle or a domain.
func mentionTerminated(after string) bool {
	if after == "" {
		return true
	}
	return after[0] != '@' && after[0] != '.'
}
