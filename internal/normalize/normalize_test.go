// Package normalize_test tests the text normalization pipeline.
package normalize_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()

	rules, err := normalize.CompileRules("test", normalize.DefaultRules())
	require.NoError(t, err)

	return normalize.New(rules)
}

func TestNormalize_AbbreviationsAndCurrency(t *testing.T) {
	t.Parallel()

	normalizer := newTestNormalizer(t)

	got := normalizer.Normalize("Dr. Smith paid $5.50 on Jan 3rd.")

	assert.Equal(t, "Doctor Smith paid five dollars and fifty cents on Jan third.", got)
}

func TestNormalize_NumberExpansion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "ordinals",
			input: "He finished 1st and 22nd.",
			want:  "He finished first and twenty second.",
		},
		{
			name:  "decimal read digit by digit",
			input: "Pi is 3.14.",
			want:  "Pi is three point one four.",
		},
		{
			name:  "year after cue word",
			input: "It was published in 1984.",
			want:  "It was published in nineteen eighty four.",
		},
		{
			name:  "two thousands era year",
			input: "Copyright 2007.",
			want:  "Copyright two thousand seven.",
		},
		{
			name:  "year with oh reading",
			input: "Nothing changed since 1905.",
			want:  "Nothing changed since nineteen oh five.",
		},
		{
			name:  "round century year",
			input: "Built in 1900 by masons.",
			want:  "Built in nineteen hundred by masons.",
		},
		{
			name:  "four digit number without cue reads as cardinal",
			input: "He bought 1984 widgets.",
			want:  "He bought one thousand nine hundred eighty four widgets.",
		},
		{
			name:  "thousands separator",
			input: "There are 1,000 ways.",
			want:  "There are one thousand ways.",
		},
		{
			name:  "plain integer",
			input: "Chapter 7.",
			want:  "Chapter seven.",
		},
		{
			name:  "single dollar",
			input: "It cost $1.",
			want:  "It cost one dollar.",
		},
		{
			name:  "cents only",
			input: "It cost $0.99.",
			want:  "It cost ninety nine cents.",
		},
		{
			name:  "whole dollars",
			input: "It cost $12.",
			want:  "It cost twelve dollars.",
		},
		{
			name:  "currency with separator",
			input: "She won $1,500.",
			want:  "She won one thousand five hundred dollars.",
		},
	}

	normalizer := newTestNormalizer(t)

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, normalizer.Normalize(testCase.input))
		})
	}
}

func TestNormalize_Scrub(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "html entity then symbol rule",
			input: "He said &amp; waved.",
			want:  "He said and waved.",
		},
		{
			name:  "smart quotes become plain",
			input: "“Hello,” she said.",
			want:  "\"Hello,\" she said.",
		},
		{
			name:  "soft hyphen removed",
			input: "cof­fee is ready.",
			want:  "coffee is ready.",
		},
		{
			name:  "newlines collapse to spaces",
			input: "one\ntwo\tthree.",
			want:  "one two three.",
		},
		{
			name:  "ellipsis character",
			input: "Well… maybe.",
			want:  "Well... maybe.",
		},
		{
			name:  "byte order mark removed",
			input: "\uFEFFHello there.",
			want:  "Hello there.",
		},
		{
			name:  "markdown heading markers stripped",
			input: "## The Journey\nIt began at dawn.",
			want:  "The Journey It began at dawn.",
		},
	}

	normalizer := newTestNormalizer(t)

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.want, normalizer.Normalize(testCase.input))
		})
	}
}

func TestNormalize_SentenceScopeRules(t *testing.T) {
	t.Parallel()

	normalizer := newTestNormalizer(t)

	got := normalizer.Normalize("Wait: here; now.")

	assert.Equal(t, "Wait, here, now.", got)
}

func TestNormalize_EnsuresSentenceEnding(t *testing.T) {
	t.Parallel()

	normalizer := newTestNormalizer(t)

	assert.Equal(t, "hello.", normalizer.Normalize("hello"))
	assert.Equal(t, "done!", normalizer.Normalize("done!"))
	assert.Equal(t, "", normalizer.Normalize(""))
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"Dr. Smith paid $5.50 on Jan 3rd.",
		"It was published in 1984, reprinted in 2007.",
		"Mr. Jones &amp; Co. held 1,250 shares.",
		"Pi is 3.14. He finished 2nd.",
		"“Quotes” and—dashes…",
	}

	normalizer := newTestNormalizer(t)

	for _, input := range inputs {
		once := normalizer.Normalize(input)
		twice := normalizer.Normalize(once)

		assert.Equal(t, once, twice, "normalization must be idempotent for %q", input)
	}
}

func TestCompileRules_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule normalize.Rule
	}{
		{
			name: "empty pattern",
			rule: normalize.Rule{Pattern: "", Replacement: "x", Order: 1, Scope: ""},
		},
		{
			name: "malformed regexp",
			rule: normalize.Rule{Pattern: "[unclosed", Replacement: "x", Order: 1, Scope: ""},
		},
		{
			name: "unknown scope",
			rule: normalize.Rule{Pattern: "a", Replacement: "b", Order: 1, Scope: "paragraph"},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := normalize.CompileRules("test", []normalize.Rule{testCase.rule})
			require.ErrorIs(t, err, core.ErrRuleSetInvalid)
		})
	}
}

func TestCompileRules_OrderIsApplied(t *testing.T) {
	t.Parallel()

	// The second rule rewrites the first rule's output; ordering decides
	// the final text.
	rules := []normalize.Rule{
		{Pattern: "bbb", Replacement: "ccc", Order: 20, Scope: ""},
		{Pattern: "aaa", Replacement: "bbb", Order: 10, Scope: ""},
	}

	compiled, err := normalize.CompileRules("test", rules)
	require.NoError(t, err)

	normalizer := normalize.New(compiled)

	assert.Equal(t, "ccc.", normalizer.Normalize("aaa"))
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	tomlData := `
version = "1"

[[rules]]
pattern = '\bSgt\.'
replacement = "Sergeant"
order = 10

[[rules]]
pattern = ':'
replacement = ','
order = 30
scope = "sentence"
`

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(tomlData), 0o600))

	rules, err := normalize.LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, "1", rules.Version())
	assert.Equal(t, 2, rules.Len())

	normalizer := normalize.New(rules)
	assert.Equal(t, "Sergeant Pepper.", normalizer.Normalize("Sgt. Pepper"))
}

func TestLoadRules_InvalidFileFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = [broken"), 0o600))

	_, err := normalize.LoadRules(path)
	require.ErrorIs(t, err, core.ErrRuleSetInvalid)

	_, err = normalize.LoadRules(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, core.ErrRuleSetInvalid)
}
