package core

import "context"

// Extractor turns raw document bytes into text, structural hints, and
// document-level metadata. Format-specific parsing beyond plain text is a
// collaborator concern; implementations live behind this interface.
type Extractor interface {
	Extract(ctx context.Context, data []byte, format DocumentFormat) (ExtractResult, error)
}

// Synthesizer converts one normalized text chunk into raw audio samples
// using the named voice. Implementations must honor ctx cancellation;
// the orchestrator enforces a wall-clock timeout per call.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// Encoder compresses a raw audio file into the delivery format.
type Encoder interface {
	Encode(ctx context.Context, rawPath, outPath string) error
}

// ObjectStore is a key-addressable blob store for artifacts. Exists must
// be atomic with respect to Upload so resume logic can trust it.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Exists(ctx context.Context, key string) (bool, error)
}

// JobStore is the only mutable shared state in the core. Transition
// methods use compare-and-set semantics keyed by job id (and chapter
// index) so concurrent chapter completions cannot lose updates.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)

	// TransitionJob moves a job from one state to another. It returns
	// ErrStaleTransition when the job is no longer in the expected state.
	TransitionJob(ctx context.Context, jobID string, from, to JobState) error
	SetJobError(ctx context.Context, jobID, message string) error
	SetJobMetadata(ctx context.Context, jobID string, meta DocumentMetadata) error

	PutChapters(ctx context.Context, jobID string, chapters []ChapterResult) error

	// TransitionChapter moves one chapter result between states, keyed by
	// (job id, chapter index, expected state).
	TransitionChapter(ctx context.Context, jobID string, chapterIndex int, from, to ChapterState) error
	FinishChapter(ctx context.Context, jobID string, chapterIndex int, audioKey string, retryCount int) error
	FailChapter(ctx context.Context, jobID string, chapterIndex int, retryCount int, message string) error
}
