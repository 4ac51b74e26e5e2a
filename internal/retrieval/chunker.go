package retrieval

import (
	"strings"
	"unicode/utf8"
)

const (
	// MinSentenceLen is the shortest sentence (in characters) kept by Chunk.
	MinSentenceLen = 20
	// MaxChunkLen is the soft cap on chunk size in characters. A single
	// sentence longer than this becomes its own chunk.
	MaxChunkLen = 500
)

// Chunk splits text into retrievable units. Sentences end at '.', '!' or
// '?'; fragments shorter than MinSentenceLen are dropped; the rest are
// packed greedily into chunks of at most MaxChunkLen characters, joined
// by single spaces. When nothing survives, the trimmed input is returned
// as the only chunk.
func Chunk(text string) []string {
	var chunks []string
	var cur strings.Builder
	curLen := 0

	for _, s := range splitSentences(text) {
		n := utf8.RuneCountInString(s)
		if curLen > 0 && curLen+1+n > MaxChunkLen {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(s)
		curLen += n
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}

	if len(chunks) == 0 {
		if raw := strings.TrimSpace(text); raw != "" {
			return []string{raw}
		}
	}
	return chunks
}

// splitSentences returns the trimmed sentences of text that are at least
// MinSentenceLen characters long, terminators included.
func splitSentences(text string) []string {
	var out []string
	start := 0
	emit := func(end int) {
		s := strings.TrimSpace(text[start:end])
		if utf8.RuneCountInString(s) >= MinSentenceLen {
			out = append(out, s)
		}
		start = end
	}
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			emit(i + 1)
		}
	}
	emit(len(text))
	return out
}
