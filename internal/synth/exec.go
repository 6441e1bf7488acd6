// Package synth shells out to the external speech-synthesis and encoding
// toolchain. Both adapters run a configured command with an enforced
// deadline; an external process is never allowed to block a worker
// indefinitely.
package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/logger"
	shellwords "github.com/mattn/go-shellwords"
)

// Placeholders substituted into the configured command line.
const (
	placeholderText   = "{text}"
	placeholderVoice  = "{voice}"
	placeholderOutput = "{output}"
	placeholderInput  = "{input}"
)

const tempFilePattern = "synth-*.wav"

// ErrEmptyCommand indicates a blank synthesis or encode command.
var ErrEmptyCommand = errors.New("command cannot be empty")

// ExecSynthesizer implements core.Synthesizer by invoking an external
// engine binary once per chunk.
type ExecSynthesizer struct {
	command       []string
	allowedVoices map[string]struct{}
	log           *logger.Logger
}

// NewExecSynthesizer parses the command line once, up front. The command
// may reference {text}, {voice}, and {output}; {output} names the WAV
// file the engine must write. An empty voice list allows any voice.
func NewExecSynthesizer(command string, voices []string, log *logger.Logger) (*ExecSynthesizer, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("%w: synthesis", ErrEmptyCommand)
	}

	var allowed map[string]struct{}

	if len(voices) > 0 {
		allowed = make(map[string]struct{}, len(voices))
		for _, voice := range voices {
			allowed[voice] = struct{}{}
		}
	}

	return &ExecSynthesizer{command: args, allowedVoices: allowed, log: log}, nil
}

// Synthesize runs the engine for one chunk and returns the raw audio.
// Timeouts and non-zero exits come back as core.ErrSynthesisTransient;
// bad input (empty chunk, unsupported voice) as core.ErrSynthesisFatal.
func (e *ExecSynthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty chunk", core.ErrSynthesisFatal)
	}

	if e.allowedVoices != nil {
		if _, ok := e.allowedVoices[voice]; !ok {
			return nil, fmt.Errorf("%w: unsupported voice '%s'", core.ErrSynthesisFatal, voice)
		}
	}

	tempFile, err := os.CreateTemp("", tempFilePattern)
	if err != nil {
		return nil, fmt.Errorf("create temp file for synthesis output: %w", err)
	}

	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			e.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	args := e.expandArgs(text, voice, tempFile.Name())

	// #nosec G204 -- the command template comes from validated service configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: engine timed out: %v", core.ErrSynthesisTransient, ctx.Err())
		}

		return nil, fmt.Errorf(
			"%w: engine exited with error: %v - output: %s",
			core.ErrSynthesisTransient, err, string(output),
		)
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: read engine output: %v", core.ErrSynthesisTransient, err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("%w: engine produced empty audio", core.ErrSynthesisTransient)
	}

	return audioData, nil
}

func (e *ExecSynthesizer) expandArgs(text, voice, outputPath string) []string {
	args := make([]string, len(e.command))

	for i, arg := range e.command {
		arg = strings.ReplaceAll(arg, placeholderText, text)
		arg = strings.ReplaceAll(arg, placeholderVoice, voice)
		arg = strings.ReplaceAll(arg, placeholderOutput, outputPath)
		args[i] = arg
	}

	return args
}

// ExecEncoder implements core.Encoder by invoking the external encoding
// toolchain (typically FFmpeg) on a raw audio file.
type ExecEncoder struct {
	command []string
	log     *logger.Logger
}

// NewExecEncoder parses the encode command line. The command may
// reference {input} and {output}.
func NewExecEncoder(command string, log *logger.Logger) (*ExecEncoder, error) {
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse encode command: %w", err)
	}

	if len(args) == 0 {
		return nil, fmt.Errorf("%w: encode", ErrEmptyCommand)
	}

	return &ExecEncoder{command: args, log: log}, nil
}

// Encode compresses rawPath into outPath.
func (e *ExecEncoder) Encode(ctx context.Context, rawPath, outPath string) error {
	args := make([]string, len(e.command))

	for i, arg := range e.command {
		arg = strings.ReplaceAll(arg, placeholderInput, rawPath)
		arg = strings.ReplaceAll(arg, placeholderOutput, outPath)
		args[i] = arg
	}

	// #nosec G204 -- the command template comes from validated service configuration
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("encoder failed for '%s': %w - output: %s", rawPath, err, string(output))
	}

	return nil
}
