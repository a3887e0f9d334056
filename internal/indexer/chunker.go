package indexer

import "strings"

// splitSentences breaks text into sentence-ish units on terminal
// punctuation. Whitespace-only units are dropped.
func splitSentences(text string) []string {
	var sentences []string
	var sb strings.Builder
	for _, r := range text {
		sb.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(sb.String()); s != "" {
				sentences = append(sentences, s)
			}
			sb.Reset()
		}
	}
	if s := strings.TrimSpace(sb.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Chunk splits a transcript into overlapping word-bounded chunks aligned
// on sentence boundaries. A chunk closes once it reaches size words; the
// trailing sentences covering roughly overlap words seed the next chunk so
// context carries across the cut. A sentence longer than size becomes its
// own chunk rather than being split mid-sentence.
func Chunk(text string, size, overlap int) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))

		// Carry trailing sentences up to the overlap budget.
		var carried []string
		carriedWords := 0
		for i := len(current) - 1; i >= 0; i-- {
			w := wordCount(current[i])
			if carriedWords+w > overlap {
				break
			}
			carried = append([]string{current[i]}, carried...)
			carriedWords += w
		}
		current = carried
		currentWords = carriedWords
	}

	for _, s := range sentences {
		w := wordCount(s)
		if currentWords > 0 && currentWords+w > size {
			flush()
		}
		current = append(current, s)
		currentWords += w
		if currentWords >= size {
			flush()
		}
	}
	// Flush the remainder, but only if it adds sentences beyond the carried
	// overlap of the previous chunk.
	if len(current) > 0 && (len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], current[len(current)-1])) {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}
