package chunks

import (
	"strings"
	"unicode"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 100
)

// Split cuts text into pieces of at most size characters, each starting
// overlap characters before the previous one ended. A cut prefers the end
// of a sentence in the second half of the window, then whitespace, and
// falls back to a hard cut. Sizes count runes.
func Split(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var out []string
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = cutPoint(runes, start, end)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func cutPoint(runes []rune, start, end int) int {
	floor := start + (end-start)/2
	for i := end - 1; i > floor; i-- {
		if runes[i-1] == '.' && unicode.IsSpace(runes[i]) {
			return i
		}
	}
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}
