// Package assemble merges finished chapter audio artifacts into a single
// audiobook container with embedded chapter marks. It is agnostic to how
// the inputs were produced; any ordered list of readable audio files
// with known durations can be assembled.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/audiobook-service/internal/audiofile"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/logger"
)

const (
	// DefaultFFmpegPath is used when configuration names no binary.
	DefaultFFmpegPath = "ffmpeg"
	// DefaultFFprobePath is used when configuration names no prober.
	DefaultFFprobePath = "ffprobe"

	// Output duration may drift from the input sum by encoder padding;
	// anything beyond this tolerance indicates a broken merge.
	durationTolerancePercent = 0.02
	durationToleranceFloor   = 500 * time.Millisecond

	maxFilenamePartLen = 80

	fallbackTitle  = "Audiobook"
	fallbackAuthor = "Unknown Author"
)

// ErrDurationMismatch indicates an assembled file whose play time does
// not match the sum of its inputs.
var ErrDurationMismatch = errors.New("assembled duration does not match inputs")

// CommandRunner executes an external command and returns its stdout.
// Tests substitute a stub so no FFmpeg binary is required.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Assembler builds audiobook files with the FFmpeg toolchain.
type Assembler struct {
	runner      CommandRunner
	ffmpegPath  string
	ffprobePath string
	outputDir   string
	log         *logger.Logger
}

// Option adjusts an Assembler.
type Option func(*Assembler)

// WithRunner replaces the external command runner.
func WithRunner(runner CommandRunner) Option {
	return func(a *Assembler) { a.runner = runner }
}

// WithTools overrides the ffmpeg and ffprobe binary paths.
func WithTools(ffmpegPath, ffprobePath string) Option {
	return func(a *Assembler) {
		if ffmpegPath != "" {
			a.ffmpegPath = ffmpegPath
		}

		if ffprobePath != "" {
			a.ffprobePath = ffprobePath
		}
	}
}

// New creates an Assembler writing audiobooks into outputDir.
func New(outputDir string, log *logger.Logger, opts ...Option) *Assembler {
	assembler := &Assembler{
		runner:      runCommand,
		ffmpegPath:  DefaultFFmpegPath,
		ffprobePath: DefaultFFprobePath,
		outputDir:   outputDir,
		log:         log,
	}

	for _, opt := range opts {
		opt(assembler)
	}

	return assembler
}

// Assemble merges the artifacts, in the given order, into one M4B file
// with a chapter mark per input. Title and author fall back to the first
// artifact's document metadata when the request leaves them blank.
func (a *Assembler) Assemble(
	ctx context.Context,
	artifacts []core.AudioArtifact,
	request core.AudiobookRequest,
) (core.AudiobookResult, error) {
	if len(artifacts) == 0 {
		return core.AudiobookResult{}, fmt.Errorf("%w: no input artifacts", core.ErrAssemblyInput)
	}

	durations, total, err := a.validateInputs(ctx, artifacts)
	if err != nil {
		return core.AudiobookResult{}, err
	}

	title, author := a.resolveMetadata(artifacts, request)

	marks := chapterMarks(artifacts, durations)

	workDir, err := os.MkdirTemp("", "assemble-*")
	if err != nil {
		return core.AudiobookResult{}, fmt.Errorf("create assembly work directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(workDir)
		if removeErr != nil {
			a.log.Warn("Failed to remove assembly work directory '%s': %v", workDir, removeErr)
		}
	}()

	listPath := filepath.Join(workDir, "inputs.txt")

	err = writeConcatList(listPath, artifacts)
	if err != nil {
		return core.AudiobookResult{}, err
	}

	metadataPath := filepath.Join(workDir, "metadata.txt")

	err = writeFFMetadata(metadataPath, title, author, marks)
	if err != nil {
		return core.AudiobookResult{}, err
	}

	outPath := filepath.Join(a.outputDir, CleanFilenamePart(title)+".m4b")

	err = os.MkdirAll(a.outputDir, 0o750)
	if err != nil {
		return core.AudiobookResult{}, fmt.Errorf("create output directory '%s': %w", a.outputDir, err)
	}

	output, err := a.runner(ctx, a.ffmpegPath,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-i", metadataPath,
		"-map_metadata", "1",
		"-c:a", "aac",
		"-b:a", "128k",
		outPath,
	)
	if err != nil {
		return core.AudiobookResult{}, fmt.Errorf("ffmpeg merge failed: %w - output: %s", err, string(output))
	}

	err = a.validateOutput(ctx, outPath, total)
	if err != nil {
		return core.AudiobookResult{}, err
	}

	a.log.Info("Assembled audiobook '%s' (%d chapters, %s)", outPath, len(marks), total)

	return core.AudiobookResult{
		Path:     outPath,
		Title:    title,
		Author:   author,
		Duration: total,
		Marks:    marks,
	}, nil
}

// validateInputs checks every artifact is present and non-empty and
// returns their durations plus the expected total.
func (a *Assembler) validateInputs(
	ctx context.Context,
	artifacts []core.AudioArtifact,
) ([]time.Duration, time.Duration, error) {
	durations := make([]time.Duration, len(artifacts))

	var total time.Duration

	for i, artifact := range artifacts {
		info, err := os.Stat(artifact.Path)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: artifact '%s' is missing: %v", core.ErrAssemblyInput, artifact.Key, err)
		}

		if info.Size() == 0 {
			return nil, 0, fmt.Errorf("%w: artifact '%s' is empty", core.ErrAssemblyInput, artifact.Key)
		}

		duration := artifact.Duration
		if duration <= 0 {
			duration, err = a.probeDuration(ctx, artifact.Path)
			if err != nil {
				return nil, 0, fmt.Errorf(
					"%w: artifact '%s' has unreadable audio: %v",
					core.ErrAssemblyInput, artifact.Key, err,
				)
			}
		}

		durations[i] = duration
		total += duration
	}

	return durations, total, nil
}

// probeDuration reads a file's play time, decoding WAV directly and
// deferring everything else to ffprobe.
func (a *Assembler) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	duration, err := audiofile.DurationOfFile(path)
	if err == nil {
		return duration, nil
	}

	output, err := a.runner(ctx, a.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("probe '%s': %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse probed duration of '%s': %w", path, err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

func (a *Assembler) validateOutput(ctx context.Context, path string, expected time.Duration) error {
	actual, err := a.probeDuration(ctx, path)
	if err != nil {
		return fmt.Errorf("probe assembled file '%s': %w", path, err)
	}

	tolerance := time.Duration(float64(expected) * durationTolerancePercent)
	if tolerance < durationToleranceFloor {
		tolerance = durationToleranceFloor
	}

	drift := actual - expected
	if drift < 0 {
		drift = -drift
	}

	if drift > tolerance {
		return fmt.Errorf("%w: expected %s, got %s", ErrDurationMismatch, expected, actual)
	}

	return nil
}

func (a *Assembler) resolveMetadata(
	artifacts []core.AudioArtifact,
	request core.AudiobookRequest,
) (string, string) {
	title := strings.TrimSpace(request.Title)
	author := strings.TrimSpace(request.Author)

	first := artifacts[0].Metadata

	if title == "" && first.Title != "" {
		title = first.Title

		a.log.Info("No title requested, using document title '%s'", title)
	}

	if author == "" && first.Author != "" {
		author = first.Author

		a.log.Info("No author requested, using document author '%s'", author)
	}

	if title == "" {
		title = fallbackTitle
	}

	if author == "" {
		author = fallbackAuthor
	}

	return title, author
}

// chapterMarks lays the inputs end to end: the first mark starts at
// zero, each subsequent mark at the cumulative duration of everything
// before it.
func chapterMarks(artifacts []core.AudioArtifact, durations []time.Duration) []core.ChapterMark {
	marks := make([]core.ChapterMark, len(artifacts))

	var offset time.Duration

	for i, artifact := range artifacts {
		title := artifact.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", i+1)
		}

		marks[i] = core.ChapterMark{
			Title: title,
			Start: offset,
			End:   offset + durations[i],
		}

		offset += durations[i]
	}

	return marks
}

func writeConcatList(path string, artifacts []core.AudioArtifact) error {
	var builder strings.Builder

	for _, artifact := range artifacts {
		escaped := strings.ReplaceAll(artifact.Path, "'", `'\''`)
		fmt.Fprintf(&builder, "file '%s'\n", escaped)
	}

	err := os.WriteFile(path, []byte(builder.String()), 0o600)
	if err != nil {
		return fmt.Errorf("write concat list '%s': %w", path, err)
	}

	return nil
}

// writeFFMetadata emits the FFMETADATA1 document FFmpeg reads chapter
// marks from. Timestamps use a millisecond timebase.
func writeFFMetadata(path, title, author string, marks []core.ChapterMark) error {
	var builder strings.Builder

	builder.WriteString(";FFMETADATA1\n")
	fmt.Fprintf(&builder, "title=%s\n", escapeMetadata(title))
	fmt.Fprintf(&builder, "artist=%s\n", escapeMetadata(author))

	for _, mark := range marks {
		builder.WriteString("\n[CHAPTER]\n")
		builder.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&builder, "START=%d\n", mark.Start.Milliseconds())
		fmt.Fprintf(&builder, "END=%d\n", mark.End.Milliseconds())
		fmt.Fprintf(&builder, "title=%s\n", escapeMetadata(mark.Title))
	}

	err := os.WriteFile(path, []byte(builder.String()), 0o600)
	if err != nil {
		return fmt.Errorf("write metadata file '%s': %w", path, err)
	}

	return nil
}

func escapeMetadata(value string) string {
	replacer := strings.NewReplacer(
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
		"\\", `\\`,
		"\n", `\`+"\n",
	)

	return replacer.Replace(value)
}

// CleanFilenamePart reduces arbitrary text to a safe filename fragment:
// alphanumerics, spaces, dashes, and underscores survive, everything
// else collapses away.
func CleanFilenamePart(value string) string {
	var builder strings.Builder

	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			builder.WriteRune(r)
		}
	}

	cleaned := strings.Join(strings.Fields(builder.String()), " ")
	if cleaned == "" {
		cleaned = "untitled"
	}

	if len(cleaned) > maxFilenamePartLen {
		cleaned = strings.TrimSpace(cleaned[:maxFilenamePartLen])
	}

	return cleaned
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- tool paths come from validated service configuration
	cmd := exec.CommandContext(ctx, name, args...)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, fmt.Errorf("%s exited with error: %w - stderr: %s", name, err, string(exitErr.Stderr))
		}

		return output, fmt.Errorf("run %s: %w", name, err)
	}

	return output, nil
}
