package knowledge

import (
	"strings"
	"unicode/utf8"
)

const defaultChunkSize = 1200

// Chunk splits document text into indexable pieces. Paragraph boundaries
// are preferred; paragraphs larger than maxLen are split on sentence ends,
// and as a last resort on rune boundaries.
func Chunk(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = defaultChunkSize
	}

	chunks := []string{}
	var current strings.Builder

	flush := func() {
		if chunk := strings.TrimSpace(current.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}

		if utf8.RuneCountInString(paragraph) > maxLen {
			flush()
			for _, piece := range splitOversized(paragraph, maxLen) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(paragraph)+2 > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	flush()

	return chunks
}

// splitOversized breaks a paragraph on sentence boundaries, falling back to
// hard rune splits for sentences that are still too long.
func splitOversized(paragraph string, maxLen int) []string {
	var pieces []string
	var current strings.Builder

	flush := func() {
		if piece := strings.TrimSpace(current.String()); piece != "" {
			pieces = append(pieces, piece)
		}
		current.Reset()
	}

	for _, sentence := range splitSentences(paragraph) {
		if utf8.RuneCountInString(sentence) > maxLen {
			flush()
			runes := []rune(sentence)
			for len(runes) > maxLen {
				pieces = append(pieces, strings.TrimSpace(string(runes[:maxLen])))
				runes = runes[maxLen:]
			}
			if len(runes) > 0 {
				current.WriteString(string(runes))
			}
			continue
		}
		if utf8.RuneCountInString(current.String())+utf8.RuneCountInString(sentence)+1 > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}
	flush()

	return pieces
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if sentence := strings.TrimSpace(current.String()); sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}
	if sentence := strings.TrimSpace(current.String()); sentence != "" {
		sentences = append(sentences, sentence)
	}
	return sentences
}
