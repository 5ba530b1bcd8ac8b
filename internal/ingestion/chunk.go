package ingestion

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize is the maximum chunk length in characters.
const DefaultChunkSize = 500

// chunkWords splits text on whitespace and packs words into chunks of at
// most size characters, joined by single spaces. A single word longer than
// size is cut into size-long pieces.
func chunkWords(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, word := range strings.Fields(text) {
		n := utf8.RuneCountInString(word)
		if n > size {
			flush()
			r := []rune(word)
			for len(r) > size {
				chunks = append(chunks, string(r[:size]))
				r = r[size:]
			}
			word, n = string(r), len(r)
		}
		extra := n
		if curLen > 0 {
			extra++ // separator
		}
		if curLen+extra > size {
			flush()
			extra = n
		}
		if curLen > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		curLen += extra
	}
	flush()
	return chunks
}
