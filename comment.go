package xmlmode

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	doctypeToken = "DOCTYPE"
	startComment = "<!--"
	endComment   = "-->"
)

// scanState is owned by a single scan and threaded through the line
// helpers. Nested comments are not tracked; XML forbids them.
type scanState struct {
	inComment bool
}

// consumeCommentTokens strips comment content from line and returns what
// is left. ok is false when the rest of the line belongs to a comment.
func (s *scanState) consumeCommentTokens(line string) (text string, ok bool) {
	start := strings.Index(line, startComment)
	if start == -1 && !strings.Contains(line, endComment) {
		return line, true
	}

	prefix, rest := "", line
	if start >= 0 {
		prefix, rest = line[:start], line[start:]
	}

	for {
		rest, ok = s.consume(rest)
		if !ok {
			return "", false
		}
		if !s.inComment && !strings.HasPrefix(strings.TrimSpace(rest), startComment) {
			return prefix + rest, true
		}
	}
}

// consume moves past the next token of the kind the state expects and
// flips the state. ok is false when that token is absent.
func (s *scanState) consume(line string) (string, bool) {
	token, next := startComment, true
	if s.inComment {
		token, next = endComment, false
	}
	idx := strings.Index(line, token)
	if idx == -1 {
		return "", false
	}
	s.inComment = next
	return line[idx+len(token):], true
}

func hasDoctype(content string) bool {
	return strings.Contains(content, doctypeToken)
}

// hasOpeningTag reports whether the first '<' in content is followed by a
// letter.
func hasOpeningTag(content string) bool {
	idx := strings.IndexByte(content, '<')
	if idx == -1 || idx+1 >= len(content) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(content[idx+1:])
	return unicode.IsLetter(r)
}

func hasText(content string) bool {
	return strings.IndexFunc(content, func(r rune) bool { return !unicode.IsSpace(r) }) >= 0
}
