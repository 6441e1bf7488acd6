// Package chunking_test tests chunk boundary selection.
package chunking_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/book-expert/audiobook-service/internal/chunking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	t.Parallel()

	chunker := chunking.New(100)

	chunks := chunker.Split(3, "One sentence. Another sentence.")

	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].ChapterIndex)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "One sentence. Another sentence.", chunks[0].Text)
}

func TestSplit_BreaksOnSentenceBoundaries(t *testing.T) {
	t.Parallel()

	chunker := chunking.New(25)

	chunks := chunker.Split(0, "First sentence here. Second sentence here.")

	require.Len(t, chunks, 2)
	assert.Equal(t, "First sentence here.", chunks[0].Text)
	assert.Equal(t, "Second sentence here.", chunks[1].Text)
}

func TestSplit_OversizedSentenceBreaksOnClauses(t *testing.T) {
	t.Parallel()

	chunker := chunking.New(30)

	chunks := chunker.Split(0, "A long opening clause here, then a closing clause here.")

	require.Len(t, chunks, 2)
	assert.Equal(t, "A long opening clause here,", chunks[0].Text)
	assert.Equal(t, "then a closing clause here.", chunks[1].Text)
}

func TestSplit_NeverSplitsAWord(t *testing.T) {
	t.Parallel()

	chunker := chunking.New(10)

	text := "alpha bravo charlie delta echo foxtrot golf hotel"

	chunks := chunker.Split(0, text)
	require.NotEmpty(t, chunks)

	words := map[string]bool{}
	for _, word := range strings.Fields(text) {
		words[word] = true
	}

	for _, chunk := range chunks {
		for _, word := range strings.Fields(chunk.Text) {
			assert.True(t, words[word], "word %q was split or mangled", word)
		}
	}
}

func TestSplit_RoundTripJoin(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"First sentence here. Second sentence here. Third one follows, with a clause.",
		"alpha bravo charlie delta echo foxtrot golf hotel india juliet",
		"One short sentence.",
	}

	chunker := chunking.New(24)

	for _, input := range inputs {
		chunks := chunker.Split(0, input)
		require.NotEmpty(t, chunks)

		parts := make([]string, 0, len(chunks))
		for _, chunk := range chunks {
			parts = append(parts, chunk.Text)
		}

		joined := strings.Join(parts, " ")
		want := strings.Join(strings.Fields(input), " ")

		assert.Equal(t, want, joined)
	}
}

func TestSplit_RespectsRuneBudget(t *testing.T) {
	t.Parallel()

	const budget = 30

	chunker := chunking.New(budget)

	text := strings.Repeat("Short words go here. ", 20)

	for _, chunk := range chunker.Split(0, text) {
		assert.LessOrEqual(t, utf8.RuneCountInString(chunk.Text), budget)
	}
}

func TestSplit_ChunkIndicesAreOrdered(t *testing.T) {
	t.Parallel()

	chunker := chunking.New(16)

	chunks := chunker.Split(2, "One two three. Four five six. Seven eight nine.")
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		assert.Equal(t, 2, chunk.ChapterIndex)
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	t.Parallel()

	chunker := chunking.New(0)

	assert.Nil(t, chunker.Split(0, "   "))
	assert.Nil(t, chunker.Split(0, ""))
}
