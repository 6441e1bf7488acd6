// Package extract_test tests plain-text extraction and metadata
// heuristics.
package extract_test

import (
	"context"
	"testing"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_PlainText(t *testing.T) {
	t.Parallel()

	extractor := extract.New()

	result, err := extractor.Extract(context.Background(), []byte("Hello world."), core.FormatText)
	require.NoError(t, err)

	assert.Equal(t, "Hello world.", result.Text)
	assert.Empty(t, result.Hints)
}

func TestExtract_RejectsOtherFormats(t *testing.T) {
	t.Parallel()

	extractor := extract.New()

	for _, format := range []core.DocumentFormat{core.FormatPDF, core.FormatDOCX, core.FormatEPUB} {
		_, err := extractor.Extract(context.Background(), []byte("data"), format)
		require.ErrorIs(t, err, core.ErrExtraction)
	}
}

func TestExtract_RejectsEmptyAndBinary(t *testing.T) {
	t.Parallel()

	extractor := extract.New()

	_, err := extractor.Extract(context.Background(), nil, core.FormatText)
	require.ErrorIs(t, err, core.ErrExtraction)

	_, err = extractor.Extract(context.Background(), []byte{0xff, 0xfe, 0x80}, core.FormatText)
	require.ErrorIs(t, err, core.ErrExtraction)
}

func TestExtract_MarkdownHeadingHints(t *testing.T) {
	t.Parallel()

	extractor := extract.New()

	text := "# The Book\n\nIntro text.\n\n## Chapter 1\n\nBody text.\n"

	result, err := extractor.Extract(context.Background(), []byte(text), core.FormatText)
	require.NoError(t, err)

	require.Len(t, result.Hints, 2)

	assert.Equal(t, "The Book", result.Hints[0].Title)
	assert.Equal(t, 1, result.Hints[0].Level)
	assert.Equal(t, 0, result.Hints[0].Offset)

	assert.Equal(t, "Chapter 1", result.Hints[1].Title)
	assert.Equal(t, 2, result.Hints[1].Level)
	assert.Positive(t, result.Hints[1].Offset)
}

func TestParseMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantTitle  string
		wantAuthor string
	}{
		{
			name:       "title and author",
			text:       "THE GREAT ADVENTURE\nby Jane Morris\n\nChapter 1\nIt began at dawn.",
			wantTitle:  "THE GREAT ADVENTURE",
			wantAuthor: "Jane Morris",
		},
		{
			name:       "no author line",
			text:       "A Quiet Evening\n\nSome opening narrative follows here with many more words than a heading could plausibly carry.",
			wantTitle:  "A Quiet Evening",
			wantAuthor: "",
		},
		{
			name:       "author too long is ignored",
			text:       "SHORT TALES\nby An Impossibly Long Author Name That Goes On And On Far Beyond Any Plausible Name",
			wantTitle:  "SHORT TALES",
			wantAuthor: "",
		},
		{
			name:       "no metadata in plain narrative",
			text:       "it was a dark and stormy night and the rain fell in torrents except at occasional intervals",
			wantTitle:  "",
			wantAuthor: "",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			meta := extract.ParseMetadata(testCase.text)

			assert.Equal(t, testCase.wantTitle, meta.Title)
			assert.Equal(t, testCase.wantAuthor, meta.Author)
		})
	}
}
