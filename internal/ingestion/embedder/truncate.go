package embedder

import "strings"

var sentenceEnders = map[rune]bool{
	'.':  true,
	'!':  true,
	'?':  true,
	'。': true,
	'\n': true,
}

// SmartTruncate cuts s to at most max runes, preferring a sentence
// boundary and then a word boundary in the back half of the budget so
// the embedding input does not end mid-thought.
func SmartTruncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}

	window := runes[:max]
	floor := max / 2

	for i := len(window) - 1; i >= floor; i-- {
		if sentenceEnders[window[i]] {
			return strings.TrimSpace(string(window[:i+1]))
		}
	}
	for i := len(window) - 1; i >= floor; i-- {
		if window[i] == ' ' {
			return strings.TrimSpace(string(window[:i]))
		}
	}
	return strings.TrimSpace(string(window))
}
