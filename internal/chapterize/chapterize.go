// Package chapterize partitions extracted document text into an ordered
// list of titled chapters. Structural hints from the extractor are the
// primary signal; heading heuristics are the fallback for plain text.
package chapterize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/book-expert/audiobook-service/internal/core"
)

// Heading patterns. The keyword pattern is the strong signal ("Chapter 7",
// "Part II"); named sections cover front-matter headings worth narrating.
const (
	chapterHeadingPattern = `(?im)^\s*(chapter|chap|book|part)\b[\s.\-:]*([0-9]+|[ivxlcdm]+)\b.*$`
	namedSectionPattern   = `(?im)^\s*(title\s*page|preface|foreword|introduction|prologue|epilogue)\b[:\s\-]*.*$`
	disallowedPattern     = `(?i)\btable\s+of\s+contents\b|\bcontents\b|\bappendix\b|\breferences\b|\bbibliography\b|\bindex\b|\bcopyright\b|\bpermissions\b|\bglossary\b|\backnowledg|\bcolophon\b`
	footnotePattern       = `\[\d+\]|\s*\(\d+\)`
	bareNumberLinePattern = `(?m)^\s*\d+\s*$`
)

// Default policy constants, exposed rather than hard-coded at call sites
// because the heuristics are approximate and deployments tune them.
const (
	DefaultMinChapterWords   = 150
	DefaultMaxHeadingLen     = 80
	DefaultMaxHeadingWords   = 12
	DefaultHeaderMinRepeat   = 4
	DefaultHeaderMaxLineLen  = 75
	DefaultHeaderMaxWords    = 10
	DefaultFallbackTitle     = "Full Document"
)

// Policy holds the tunable segmentation thresholds.
type Policy struct {
	// MinChapterWords is the tie-break threshold: a candidate boundary is
	// accepted only once the preceding chapter has at least this many
	// words, which keeps short false headings from fragmenting a chapter.
	MinChapterWords int

	// AutoBookMode makes detection stricter: only the explicit keyword
	// pattern opens a chapter, so long narrative texts are not over-split.
	AutoBookMode bool

	// MaxHeadingLen and MaxHeadingWords bound what a heuristic heading
	// line may look like.
	MaxHeadingLen   int
	MaxHeadingWords int

	// Header/footer frequency removal (repeated running heads in page-
	// oriented extractions).
	HeaderMinRepeat  int
	HeaderMaxLineLen int
	HeaderMaxWords   int
}

// DefaultPolicy returns the thresholds used when none are configured.
func DefaultPolicy() Policy {
	return Policy{
		MinChapterWords:  DefaultMinChapterWords,
		AutoBookMode:     false,
		MaxHeadingLen:    DefaultMaxHeadingLen,
		MaxHeadingWords:  DefaultMaxHeadingWords,
		HeaderMinRepeat:  DefaultHeaderMinRepeat,
		HeaderMaxLineLen: DefaultHeaderMaxLineLen,
		HeaderMaxWords:   DefaultHeaderMaxWords,
	}
}

// Chapterizer is a stateless segmenter; one instance can serve all jobs.
type Chapterizer struct {
	policy Policy

	chapterRe    *regexp.Regexp
	namedRe      *regexp.Regexp
	disallowedRe *regexp.Regexp
	footnoteRe   *regexp.Regexp
	bareNumberRe *regexp.Regexp
}

// New builds a Chapterizer with the given policy.
func New(policy Policy) *Chapterizer {
	return &Chapterizer{
		policy:       policy,
		chapterRe:    regexp.MustCompile(chapterHeadingPattern),
		namedRe:      regexp.MustCompile(namedSectionPattern),
		disallowedRe: regexp.MustCompile(disallowedPattern),
		footnoteRe:   regexp.MustCompile(footnotePattern),
		bareNumberRe: regexp.MustCompile(bareNumberLinePattern),
	}
}

// Segment partitions extracted text into ordered chapters. Hints win when
// present; otherwise heading heuristics run. Zero detected boundaries
// yield a single chapter titled from the document metadata. Indices in
// the result are contiguous and 0-based, and no chapter is empty.
func (c *Chapterizer) Segment(extracted core.ExtractResult) []core.Chapter {
	text := c.scrub(extracted.Text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var sections []section

	if len(extracted.Hints) > 0 {
		sections = c.splitByHints(text, extracted.Hints)
	} else {
		sections = c.splitByHeadings(text)
	}

	sections = c.pruneDisallowed(sections)

	if len(sections) == 0 {
		return []core.Chapter{{Index: 0, Title: fallbackTitle(extracted.Metadata), RawText: text}}
	}

	chapters := make([]core.Chapter, 0, len(sections))

	for _, sec := range sections {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}

		chapters = append(chapters, core.Chapter{
			Index:   len(chapters),
			Title:   normalizeTitle(sec.title),
			RawText: body,
		})
	}

	if len(chapters) == 0 {
		return []core.Chapter{{Index: 0, Title: fallbackTitle(extracted.Metadata), RawText: text}}
	}

	// A whole document that never split still needs a speakable title.
	if len(chapters) == 1 && chapters[0].Title == "" {
		chapters[0].Title = fallbackTitle(extracted.Metadata)
	}

	return chapters
}

// fallbackTitle names a single-chapter document from its metadata, or
// DefaultFallbackTitle when extraction found none.
func fallbackTitle(meta core.DocumentMetadata) string {
	title := strings.TrimSpace(meta.Title)
	if title == "" {
		return DefaultFallbackTitle
	}

	return title
}

type section struct {
	title string
	body  string
}

// scrub normalizes line endings, strips footnote markers and bare page
// numbers, removes repeated running heads, and collapses blank runs.
func (c *Chapterizer) scrub(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = c.footnoteRe.ReplaceAllString(text, "")
	text = c.bareNumberRe.ReplaceAllString(text, "")
	text = c.removeRepeatedHeaders(text)

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}

// removeRepeatedHeaders drops short lines that recur often enough to be
// running heads or footers, using frequency analysis over the whole text.
func (c *Chapterizer) removeRepeatedHeaders(text string) string {
	lines := strings.Split(text, "\n")

	counts := make(map[string]int)

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			counts[trimmed]++
		}
	}

	repeated := make(map[string]bool)

	for line, count := range counts {
		if count < c.policy.HeaderMinRepeat {
			continue
		}

		if len(line) > c.policy.HeaderMaxLineLen || len(strings.Fields(line)) > c.policy.HeaderMaxWords {
			continue
		}

		if c.chapterRe.MatchString(line) {
			continue
		}

		repeated[line] = true
	}

	if len(repeated) == 0 {
		return text
	}

	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if repeated[strings.TrimSpace(line)] {
			continue
		}

		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

func (c *Chapterizer) splitByHints(text string, hints []core.HeadingHint) []section {
	ordered := make([]core.HeadingHint, len(hints))
	copy(ordered, hints)
	sort.Slice(ordered, func(a, b int) bool { return ordered[a].Offset < ordered[b].Offset })

	sections := make([]section, 0, len(ordered))

	for i, hint := range ordered {
		start := hint.Offset
		if start < 0 {
			start = 0
		}

		if start > len(text) {
			break
		}

		end := len(text)
		if i+1 < len(ordered) && ordered[i+1].Offset < end {
			end = ordered[i+1].Offset
		}

		sections = append(sections, section{title: hint.Title, body: text[start:end]})
	}

	return sections
}

// splitByHeadings is the plain-text fallback: every keyword heading opens
// a chapter; in normal mode a short isolated line preceded by a blank gap
// can too, but only once the running chapter has MinChapterWords words.
func (c *Chapterizer) splitByHeadings(text string) []section {
	lines := strings.Split(text, "\n")

	var (
		sections     []section
		currentTitle string
		currentBody  []string
		currentWords int
	)

	flush := func() {
		if len(currentBody) == 0 {
			return
		}

		sections = append(sections, section{
			title: currentTitle,
			body:  strings.Join(currentBody, "\n"),
		})
		currentBody = nil
		currentWords = 0
	}

	for i, line := range lines {
		if c.isBoundary(lines, i, currentWords, len(sections) > 0 || len(currentBody) > 0) {
			flush()

			currentTitle = strings.TrimSpace(line)

			continue
		}

		currentBody = append(currentBody, line)
		currentWords += len(strings.Fields(line))
	}

	flush()

	return sections
}

func (c *Chapterizer) isBoundary(lines []string, i, precedingWords int, hasContent bool) bool {
	line := strings.TrimSpace(lines[i])
	if line == "" {
		return false
	}

	if c.chapterRe.MatchString(line) || c.namedRe.MatchString(line) {
		return true
	}

	if c.policy.AutoBookMode {
		// Strict mode: keyword headings only.
		return false
	}

	// Heuristic heading: short line in isolation after a blank gap, and
	// only once the running chapter is already non-trivial.
	if !hasContent || precedingWords < c.policy.MinChapterWords {
		return false
	}

	if len(line) > c.policy.MaxHeadingLen || len(strings.Fields(line)) > c.policy.MaxHeadingWords {
		return false
	}

	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}

	precededByGap := i > 0 && strings.TrimSpace(lines[i-1]) == ""
	followedByGap := i+1 < len(lines) && strings.TrimSpace(lines[i+1]) == ""

	return precededByGap && followedByGap
}

// pruneDisallowed drops non-narrative front and back matter: tables of
// contents, indexes, bibliographies, and the like.
func (c *Chapterizer) pruneDisallowed(sections []section) []section {
	kept := make([]section, 0, len(sections))

	for _, sec := range sections {
		if sec.title != "" && c.disallowedRe.MatchString(sec.title) {
			continue
		}

		kept = append(kept, sec)
	}

	return kept
}

var titleEdgeRe = regexp.MustCompile(`^[\-:.\s]+|[\-:.\s]+$`)

func normalizeTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")

	return titleEdgeRe.ReplaceAllString(title, "")
}
