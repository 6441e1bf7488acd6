// Package chunking slices normalized chapter text into bounded-length
// chunks sized for one synthesis call. Boundaries fall on sentence or
// clause boundaries, never mid-word, and the chunks joined by single
// spaces reconstruct the input up to whitespace collapsing.
package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/book-expert/audiobook-service/internal/core"
)

// DefaultMaxChunkRunes is the default per-chunk budget. Synthesis engines
// degrade on long inputs well before any hard API limit, so the default
// stays conservative.
const DefaultMaxChunkRunes = 1200

// Chunker splits text under a rune budget.
type Chunker struct {
	maxRunes int
}

// New builds a Chunker. A non-positive budget falls back to the default.
func New(maxRunes int) *Chunker {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxChunkRunes
	}

	return &Chunker{maxRunes: maxRunes}
}

// Split partitions a chapter's normalized text into ordered chunks.
func (c *Chunker) Split(chapterIndex int, text string) []core.TextChunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	pieces := c.pack(splitSentences(trimmed))

	chunks := make([]core.TextChunk, 0, len(pieces))

	for i, piece := range pieces {
		chunks = append(chunks, core.TextChunk{
			ChapterIndex: chapterIndex,
			ChunkIndex:   i,
			Text:         piece,
		})
	}

	return chunks
}

// pack greedily fills chunks with whole sentences. A single sentence over
// budget is split again on clause boundaries, and as a last resort on
// word boundaries; a word is never split.
func (c *Chunker) pack(sentences []string) []string {
	var (
		chunks  []string
		current strings.Builder
		runes   int
	)

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()

			runes = 0
		}
	}

	appendPiece := func(piece string) {
		length := utf8.RuneCountInString(piece)

		if runes > 0 && runes+length+1 > c.maxRunes {
			flush()
		}

		if current.Len() > 0 {
			current.WriteByte(' ')

			runes++
		}

		current.WriteString(piece)

		runes += length
	}

	for _, sentence := range sentences {
		if utf8.RuneCountInString(sentence) <= c.maxRunes {
			appendPiece(sentence)

			continue
		}

		for _, clause := range c.splitOversized(sentence) {
			appendPiece(clause)
		}
	}

	flush()

	return chunks
}

func (c *Chunker) splitOversized(sentence string) []string {
	clauses := splitClauses(sentence)

	var pieces []string

	for _, clause := range clauses {
		if utf8.RuneCountInString(clause) <= c.maxRunes {
			pieces = append(pieces, clause)

			continue
		}

		pieces = append(pieces, c.splitByWords(clause)...)
	}

	return pieces
}

func (c *Chunker) splitByWords(clause string) []string {
	words := strings.Fields(clause)

	var (
		pieces  []string
		current strings.Builder
		runes   int
	)

	for _, word := range words {
		length := utf8.RuneCountInString(word)

		if runes > 0 && runes+length+1 > c.maxRunes {
			pieces = append(pieces, current.String())
			current.Reset()

			runes = 0
		}

		if current.Len() > 0 {
			current.WriteByte(' ')

			runes++
		}

		current.WriteString(word)

		runes += length
	}

	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}

	return pieces
}

// splitSentences breaks text after sentence-ending punctuation followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var sentences []string

	start := 0
	ending := false

	for i, r := range text {
		switch r {
		case '.', '!', '?':
			ending = true
		case ' ', '\t', '\n':
			if ending {
				sentence := strings.TrimSpace(text[start:i])
				if sentence != "" {
					sentences = append(sentences, sentence)
				}

				start = i + 1
			}

			ending = false
		default:
			ending = false
		}
	}

	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}

// splitClauses breaks a sentence after commas and semicolons.
func splitClauses(sentence string) []string {
	var clauses []string

	start := 0

	for i, r := range sentence {
		if r != ',' && r != ';' {
			continue
		}

		clause := strings.TrimSpace(sentence[start : i+1])
		if clause != "" {
			clauses = append(clauses, clause)
		}

		start = i + 1
	}

	if tail := strings.TrimSpace(sentence[start:]); tail != "" {
		clauses = append(clauses, tail)
	}

	return clauses
}
