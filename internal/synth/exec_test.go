// Package synth_test tests the external-command synthesis adapters.
package synth_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/synth"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "synth-test.log")
	require.NoError(t, err)

	return log
}

func TestNewExecSynthesizer_RejectsBadCommands(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	_, err := synth.NewExecSynthesizer("", nil, log)
	require.ErrorIs(t, err, synth.ErrEmptyCommand)

	_, err = synth.NewExecSynthesizer("engine 'unterminated", nil, log)
	require.Error(t, err)
}

func TestSynthesize_WritesEngineOutput(t *testing.T) {
	t.Parallel()

	// A stand-in engine that writes its input text to the output file.
	command := `sh -c "printf %s {text} > {output}"`

	synthesizer, err := synth.NewExecSynthesizer(command, nil, newTestLogger(t))
	require.NoError(t, err)

	audio, err := synthesizer.Synthesize(context.Background(), "hello", "narrator")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), audio)
}

func TestSynthesize_FatalInputs(t *testing.T) {
	t.Parallel()

	synthesizer, err := synth.NewExecSynthesizer("true", []string{"narrator"}, newTestLogger(t))
	require.NoError(t, err)

	_, err = synthesizer.Synthesize(context.Background(), "   ", "narrator")
	require.ErrorIs(t, err, core.ErrSynthesisFatal)

	_, err = synthesizer.Synthesize(context.Background(), "text", "imposter")
	require.ErrorIs(t, err, core.ErrSynthesisFatal)
}

func TestSynthesize_EngineFailureIsTransient(t *testing.T) {
	t.Parallel()

	synthesizer, err := synth.NewExecSynthesizer("false", nil, newTestLogger(t))
	require.NoError(t, err)

	_, err = synthesizer.Synthesize(context.Background(), "text", "any")
	require.ErrorIs(t, err, core.ErrSynthesisTransient)
}

func TestSynthesize_EmptyOutputIsTransient(t *testing.T) {
	t.Parallel()

	synthesizer, err := synth.NewExecSynthesizer("true", nil, newTestLogger(t))
	require.NoError(t, err)

	_, err = synthesizer.Synthesize(context.Background(), "text", "any")
	require.ErrorIs(t, err, core.ErrSynthesisTransient)
}

func TestSynthesize_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	synthesizer, err := synth.NewExecSynthesizer("sleep 5", nil, newTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = synthesizer.Synthesize(ctx, "text", "any")
	require.ErrorIs(t, err, core.ErrSynthesisTransient)
}

func TestEncode_RunsConfiguredCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	encoder, err := synth.NewExecEncoder("cp {input} {output}", newTestLogger(t))
	require.NoError(t, err)

	rawPath := filepath.Join(dir, "raw.wav")
	outPath := filepath.Join(dir, "out.mp3")

	require.NoError(t, os.WriteFile(rawPath, []byte("raw-audio"), 0o600))
	require.NoError(t, encoder.Encode(context.Background(), rawPath, outPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-audio"), data)
}

func TestEncode_FailureSurfacesOutput(t *testing.T) {
	t.Parallel()

	encoder, err := synth.NewExecEncoder("false", newTestLogger(t))
	require.NoError(t, err)

	err = encoder.Encode(context.Background(), "in", "out")
	require.Error(t, err)
}
