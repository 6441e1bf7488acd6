// Package extract provides the plain-text Extractor adapter. Rich formats
// (PDF, DOCX, EPUB) are parsed by collaborator services; this adapter
// covers text uploads and is the reference for the Extractor contract.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Metadata heuristics over the opening of the document.
const (
	metadataSearchBytes = 4000
	metadataTitleLines  = 15
	minAuthorLen        = 3
	maxAuthorLen        = 60
	minTitleWords       = 2
	maxTitleWords       = 12
	upperCaseTitleBonus = 20
)

const markdownHeadingPattern = `(?m)^(#{1,3})\s+(.+)$`

// TextExtractor handles FormatText documents: UTF-8 validation, heading
// hints from markdown-style headings, and title/author heuristics from
// the opening lines.
type TextExtractor struct {
	headingRe *regexp.Regexp
}

// New creates a TextExtractor.
func New() *TextExtractor {
	return &TextExtractor{
		headingRe: regexp.MustCompile(markdownHeadingPattern),
	}
}

// Extract implements core.Extractor for plain text. Any other declared
// format is an extraction error here; those documents belong to the
// format-specific collaborator services.
func (e *TextExtractor) Extract(
	_ context.Context,
	data []byte,
	format core.DocumentFormat,
) (core.ExtractResult, error) {
	if format != core.FormatText {
		return core.ExtractResult{}, fmt.Errorf(
			"%w: format %q requires an external extractor", core.ErrExtraction, format,
		)
	}

	if len(data) == 0 {
		return core.ExtractResult{}, fmt.Errorf("%w: document is empty", core.ErrExtraction)
	}

	if !utf8.Valid(data) {
		return core.ExtractResult{}, fmt.Errorf("%w: document is not valid UTF-8", core.ErrExtraction)
	}

	text := string(data)

	return core.ExtractResult{
		Text:     text,
		Hints:    e.headingHints(text),
		Metadata: ParseMetadata(text),
	}, nil
}

// headingHints reports markdown-style headings as structural hints, with
// the hint offset at the heading line so segmentation keeps the title.
func (e *TextExtractor) headingHints(text string) []core.HeadingHint {
	matches := e.headingRe.FindAllStringSubmatchIndex(text, -1)

	hints := make([]core.HeadingHint, 0, len(matches))

	for _, match := range matches {
		level := match[3] - match[2]
		title := strings.TrimSpace(text[match[4]:match[5]])

		hints = append(hints, core.HeadingHint{
			Offset: match[0],
			Title:  title,
			Level:  level,
		})
	}

	return hints
}

// ParseMetadata recovers a likely title and author from the opening text:
// a "by ..." line names the author, and the highest-scoring short line
// (upper-case lines score higher) becomes the title.
func ParseMetadata(text string) core.DocumentMetadata {
	var meta core.DocumentMetadata

	searchArea := text
	if len(searchArea) > metadataSearchBytes {
		searchArea = searchArea[:metadataSearchBytes]
	}

	var lines []string

	for _, line := range strings.Split(searchArea, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}

	for _, line := range lines {
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, "by ") {
			continue
		}

		author := strings.TrimSpace(line[3:])
		if len(author) > minAuthorLen-1 && len(author) < maxAuthorLen {
			meta.Author = author

			break
		}
	}

	bestScore := 0

	limit := len(lines)
	if limit > metadataTitleLines {
		limit = metadataTitleLines
	}

	for _, line := range lines[:limit] {
		if meta.Author != "" && strings.Contains(line, meta.Author) {
			continue
		}

		words := len(strings.Fields(line))
		if words < minTitleWords || words > maxTitleWords {
			continue
		}

		score := len(line)
		if line == strings.ToUpper(line) {
			score += upperCaseTitleBonus
		}

		if score > bestScore {
			bestScore = score
			meta.Title = line
		}
	}

	return meta
}
