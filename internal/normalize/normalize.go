// Package normalize rewrites extracted document text into pronounceable,
// TTS-safe form. The pipeline is a pure function of (input, rule set):
// a fixed scrub pass, then the data-driven rules in ascending order, then
// numeric expansion. Re-running the pipeline on its own output is a
// no-op, which callers rely on for caching and resume.
package normalize

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Characters stripped or rewritten by the scrub pass.
const (
	softHyphen     = "­"
	zeroWidthSpace = "​"
	zeroWidthNonJn = "‌"
	zeroWidthJn    = "‍"
	byteOrderMark  = "\uFEFF"
	emDash         = "—"
	enDash         = "–"
	figureDash     = "‒"
	ellipsisChar   = "…"
)

// Numeric token patterns, applied after the rule pipeline.
const (
	currencyPattern   = `\$(\d+(?:,\d{3})*)(?:\.(\d{2}))?`
	ordinalPattern    = `\b(\d+)(?:st|nd|rd|th)\b`
	decimalPattern    = `\b(\d+)\.(\d+)\b`
	yearCuePattern    = `(?i)\b(in|year|since|until|circa|copyright|by)\s+(1[1-9]\d{2}|20\d{2})\b`
	integerPattern    = `\b\d+\b`
	commaGroupPattern = `(\d),(\d{3})\b`
	whitespacePattern = `\s+`

	// Markdown heading markers survive extraction; the hash marks must
	// never reach the synthesis engine.
	headingMarkPattern = `(?m)^#{1,6}[ \t]+`
)

// Normalizer applies a validated rule set plus the built-in scrub and
// numeric passes. It is safe for concurrent use.
type Normalizer struct {
	rules *RuleSet

	currencyRe   *regexp.Regexp
	ordinalRe    *regexp.Regexp
	decimalRe    *regexp.Regexp
	yearCueRe    *regexp.Regexp
	integerRe    *regexp.Regexp
	commaGroupRe *regexp.Regexp
	whitespaceRe *regexp.Regexp
	headingRe    *regexp.Regexp

	quoteReplacer *strings.Replacer
}

// New builds a Normalizer around a compiled rule set.
func New(rules *RuleSet) *Normalizer {
	return &Normalizer{
		rules:        rules,
		currencyRe:   regexp.MustCompile(currencyPattern),
		ordinalRe:    regexp.MustCompile(ordinalPattern),
		decimalRe:    regexp.MustCompile(decimalPattern),
		yearCueRe:    regexp.MustCompile(yearCuePattern),
		integerRe:    regexp.MustCompile(integerPattern),
		commaGroupRe: regexp.MustCompile(commaGroupPattern),
		whitespaceRe: regexp.MustCompile(whitespacePattern),
		headingRe:    regexp.MustCompile(headingMarkPattern),
		quoteReplacer: strings.NewReplacer(
			emDash, " - ",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			softHyphen, "",
			zeroWidthSpace, "",
			zeroWidthNonJn, "",
			zeroWidthJn, "",
			byteOrderMark, "",
		),
	}
}

// Normalize runs the full pipeline. Same input and rule set always yield
// the same output, and Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	cleaned := n.scrub(text)
	cleaned = n.applyRules(cleaned)
	cleaned = n.expandNumbers(cleaned)
	cleaned = n.whitespaceRe.ReplaceAllString(cleaned, " ")

	return n.ensureSentenceEnding(strings.TrimSpace(cleaned))
}

// scrub decodes entities and removes markup residue before any rule runs:
// HTML entities, soft hyphens, zero-width characters, control characters,
// and typographic quotes/dashes the synthesis engine cannot speak.
func (n *Normalizer) scrub(text string) string {
	decoded := html.UnescapeString(text)
	decoded = n.quoteReplacer.Replace(decoded)
	decoded = n.headingRe.ReplaceAllString(decoded, "")

	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}

		if unicode.IsControl(r) {
			return -1
		}

		return r
	}, decoded)
}

func (n *Normalizer) applyRules(text string) string {
	for _, rule := range n.rules.rules {
		if rule.sentence {
			text = applyPerSentence(text, func(sentence string) string {
				return rule.pattern.ReplaceAllString(sentence, rule.replacement)
			})

			continue
		}

		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}

	return text
}

// expandNumbers rewrites numeric tokens into spoken words. Currency,
// ordinals, and decimals go first so the plain-integer pass never sees
// their digits; years are recognized only next to a cue word, and the
// documented fallback for a bare number is the cardinal reading.
func (n *Normalizer) expandNumbers(text string) string {
	text = n.currencyRe.ReplaceAllStringFunc(text, n.expandCurrency)

	text = n.ordinalRe.ReplaceAllStringFunc(text, func(match string) string {
		digits := strings.TrimRight(match, "sthndr")

		value, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return match
		}

		return ordinalToWords(value)
	})

	text = n.decimalRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.decimalRe.FindStringSubmatch(match)

		whole, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return match
		}

		return integerToWords(whole) + " point " + digitsToWords(parts[2])
	})

	text = n.yearCueRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := n.yearCueRe.FindStringSubmatch(match)

		year, err := strconv.Atoi(parts[2])
		if err != nil || year < minYear || year > maxYear {
			return match
		}

		return parts[1] + " " + yearToWords(year)
	})

	// Drop thousands separators so "1,000" reads as one number.
	for n.commaGroupRe.MatchString(text) {
		text = n.commaGroupRe.ReplaceAllString(text, "$1$2")
	}

	return n.integerRe.ReplaceAllStringFunc(text, func(match string) string {
		value, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			return match
		}

		return integerToWords(value)
	})
}

func (n *Normalizer) expandCurrency(match string) string {
	parts := n.currencyRe.FindStringSubmatch(match)

	dollars, err := strconv.ParseInt(strings.ReplaceAll(parts[1], ",", ""), 10, 64)
	if err != nil {
		return match
	}

	dollarWord := "dollars"
	if dollars == 1 {
		dollarWord = "dollar"
	}

	if parts[2] == "" || parts[2] == "00" {
		return integerToWords(dollars) + " " + dollarWord
	}

	cents, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return match
	}

	centWord := "cents"
	if cents == 1 {
		centWord = "cent"
	}

	if dollars == 0 {
		return integerToWords(cents) + " " + centWord
	}

	return integerToWords(dollars) + " " + dollarWord + " and " + integerToWords(cents) + " " + centWord
}

func (n *Normalizer) ensureSentenceEnding(text string) string {
	if text == "" {
		return ""
	}

	lastRune, _ := utf8.DecodeLastRuneInString(text)

	switch lastRune {
	case '.', '!', '?', '"', '\'':
		return text
	default:
		return text + "."
	}
}

// applyPerSentence splits text on sentence-ending punctuation, applies fn
// to each sentence, and reassembles the result in place.
func applyPerSentence(text string, fn func(string) string) string {
	var builder strings.Builder

	start := 0

	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		builder.WriteString(fn(text[start:i]))
		builder.WriteRune(r)

		start = i + utf8.RuneLen(r)
	}

	if start < len(text) {
		builder.WriteString(fn(text[start:]))
	}

	return builder.String()
}
