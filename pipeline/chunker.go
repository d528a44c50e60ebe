package pipeline

import (
	"strings"
)

// ChunkWords splits text into groups of at most unitSize whitespace-delimited
// words. Deterministic and stateless: the same text and unit size always
// produce the same sequence, and joining the chunks with single spaces
// reproduces the whitespace-normalized input.
func ChunkWords(text string, unitSize int) []string {
	if unitSize <= 0 {
		unitSize = 200
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	chunks := make([]string, 0, (len(words)+unitSize-1)/unitSize)
	for i := 0; i < len(words); i += unitSize {
		end := i + unitSize
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.TrimSpace(strings.Join(words[i:end], " "))
		if chunk == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// ChunkChars slices text into fixed-width segments by raw character offset.
// Used for regulation ingestion, where passage boundaries matter less than
// uniform retrieval units.
func ChunkChars(text string, width int) []string {
	if width <= 0 {
		width = 1200
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+width-1)/width)
	for i := 0; i < len(runes); i += width {
		end := i + width
		if end > len(runes) {
			end = len(runes)
		}
		chunk := string(runes[i:end])
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}
