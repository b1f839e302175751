package session

import "strings"

// DefaultFillerTokens are the whole-chunk outputs whisper produces for
// silence or noise that are not speech.
var DefaultFillerTokens = []string{"you"}

// Filter decides which transcribed chunk texts reach the document.
//
// A text is dropped when it is empty after trimming, when it equals one of
// the filler tokens (case-insensitively, ignoring trailing punctuation), or
// when it is wholly wrapped in [...] or (...), the convention engines use
// for annotations such as [BLANK_AUDIO] or (music).
type Filter struct {
	tokens map[string]struct{}
}

// NewFilter returns a Filter dropping the given filler tokens. A nil or empty
// slice disables token matching; the other rules still apply.
func NewFilter(tokens []string) *Filter {
	f := &Filter{tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		if n := normaliseToken(t); n != "" {
			f.tokens[n] = struct{}{}
		}
	}
	return f
}

// Apply returns the trimmed text and whether it should be inserted.
func (f *Filter) Apply(text string) (string, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	if isAnnotation(t) {
		return "", false
	}
	if f != nil {
		if _, ok := f.tokens[normaliseToken(t)]; ok {
			return "", false
		}
	}
	return t, true
}

// isAnnotation reports whether t is a single bracketed group such as
// "[BLANK_AUDIO]" or "(music)". The group opened by the first byte must close
// at the last one, so "[Music] hello [Music]" is speech.
func isAnnotation(t string) bool {
	if len(t) < 2 {
		return false
	}
	var closer byte
	switch t[0] {
	case '[':
		closer = ']'
	case '(':
		closer = ')'
	default:
		return false
	}
	depth := 0
	for i := 0; i < len(t); i++ {
		switch t[i] {
		case t[0]:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i == len(t)-1
			}
		}
	}
	return false
}

func normaliseToken(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), ".!?,;:"))
}
