package core

import "errors"

// Error taxonomy for the pipeline. Sentinels are matched with errors.Is;
// call sites wrap them with context using %w.
var (
	// ErrExtraction marks an unreadable or corrupt document. Fatal to the
	// job, never retried.
	ErrExtraction = errors.New("extraction failed")

	// ErrRuleSetInvalid marks a malformed normalization rule set. Fatal at
	// process start-up, never surfaced per document.
	ErrRuleSetInvalid = errors.New("invalid normalization rule set")

	// ErrSynthesisTransient marks a synthesis failure worth retrying:
	// external-process non-zero exit or timeout.
	ErrSynthesisTransient = errors.New("transient synthesis failure")

	// ErrSynthesisFatal marks a synthesis failure that retrying cannot
	// fix: unsupported voice, malformed chunk.
	ErrSynthesisFatal = errors.New("fatal synthesis failure")

	// ErrAssemblyInput marks a missing, empty, or inconsistent assembly
	// input, or a duration mismatch in the merged output.
	ErrAssemblyInput = errors.New("invalid assembly input")

	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrStaleTransition is returned by compare-and-set store updates when
	// the record is no longer in the expected state.
	ErrStaleTransition = errors.New("stale state transition")

	// ErrJobNotCancelable is returned when cancellation targets a job that
	// already reached a terminal state.
	ErrJobNotCancelable = errors.New("job is not cancelable")
)
