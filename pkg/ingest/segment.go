package ingest

import "strings"

// segmentDelimiters are the characters that split user text into candidate
// entity segments: Chinese punctuation, ASCII punctuation and whitespace.
var segmentDelimiters = map[rune]struct{}{
	'，': {}, '。': {}, '！': {}, '？': {}, '、': {}, '；': {}, '：': {},
	'“': {}, '”': {}, '（': {}, '）': {}, '《': {}, '》': {},
	'\n': {}, '\r': {}, '\t': {}, ' ': {},
	',': {}, '.': {}, '!': {}, '?': {}, ':': {}, ';': {},
	'"': {}, '\'': {}, '(': {}, ')': {},
}

// SimpleSegment splits text on punctuation and whitespace, returning the
// trimmed non-empty segments in order. This is deliberately not a
// tokenizer: segments are phrases between punctuation marks, which is
// granular enough for keyword-based entity spotting.
func SimpleSegment(text string) []string {
	var segments []string
	var current strings.Builder

	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			segments = append(segments, trimmed)
		}
		current.Reset()
	}

	for _, ch := range text {
		if _, isDelim := segmentDelimiters[ch]; isDelim {
			flush()
		} else {
			current.WriteRune(ch)
		}
	}
	flush()

	return segments
}
