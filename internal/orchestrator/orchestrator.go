// Package orchestrator drives the document-to-audio pipeline: extraction,
// chaptering, normalization, chunked synthesis, and chapter assembly. It
// owns the job state machine and is the only writer of job state.
//
// A bounded pool of workers consumes a shared task queue. Job-level and
// chapter-level work are independent queue entries, so chapters from
// different jobs interleave fairly instead of serializing whole
// documents.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/audiobook-service/internal/chapterize"
	"github.com/book-expert/audiobook-service/internal/chunking"
	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/normalize"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
)

// Defaults for the scheduling and retry policy.
const (
	DefaultWorkers          = 4
	DefaultQueueDepth       = 64
	DefaultMaxRetries       = 3
	DefaultRetryBaseDelay   = 2 * time.Second
	DefaultSynthesisTimeout = 2 * time.Minute

	dirPermissions = 0o750

	chapterAudioKeyFormat = "%s/chapter_%03d.mp3"
	chapterTextKeyFormat  = "%s/chapter_%03d.txt"
)

// ErrNotRunning is returned by Submit after shutdown.
var ErrNotRunning = errors.New("orchestrator is not running")

// Config is the orchestrator policy surface.
type Config struct {
	// Workers is the size of the bounded executor pool.
	Workers int
	// QueueDepth bounds the shared task queue.
	QueueDepth int
	// MaxRetries is how many times a transient synthesis failure is
	// retried after the first attempt.
	MaxRetries int
	// RetryBaseDelay seeds the exponential backoff between retries.
	RetryBaseDelay time.Duration
	// SynthesisTimeout is the wall-clock limit for one synthesis call.
	SynthesisTimeout time.Duration
	// GeneratedDir receives chapter audio artifacts.
	GeneratedDir string
	// DefaultVoice is used when a submission names none.
	DefaultVoice string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}

	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}

	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}

	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = DefaultSynthesisTimeout
	}
}

// Orchestrator wires the pure transforms to the external adapters and the
// job store.
type Orchestrator struct {
	cfg Config

	jobs        core.JobStore
	objects     core.ObjectStore
	extractor   core.Extractor
	synthesizer core.Synthesizer
	encoder     core.Encoder

	normalizer  *normalize.Normalizer
	chapterizer *chapterize.Chapterizer
	chunker     *chunking.Chunker

	log *logger.Logger

	tasks     chan func(ctx context.Context)
	runCtx    context.Context //nolint:containedctx // set once in Start, read by overflow sends
	startOnce sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup
}

// New assembles an Orchestrator. Call Start before Submit.
func New(
	cfg Config,
	jobs core.JobStore,
	objects core.ObjectStore,
	extractor core.Extractor,
	synthesizer core.Synthesizer,
	encoder core.Encoder,
	normalizer *normalize.Normalizer,
	chapterizer *chapterize.Chapterizer,
	chunker *chunking.Chunker,
	log *logger.Logger,
) *Orchestrator {
	cfg.applyDefaults()

	return &Orchestrator{
		cfg:         cfg,
		jobs:        jobs,
		objects:     objects,
		extractor:   extractor,
		synthesizer: synthesizer,
		encoder:     encoder,
		normalizer:  normalizer,
		chapterizer: chapterizer,
		chunker:     chunker,
		log:         log,
		tasks:       make(chan func(ctx context.Context), cfg.QueueDepth),
	}
}

// Start launches the worker pool. Workers exit when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		o.runCtx = ctx

		for i := 0; i < o.cfg.Workers; i++ {
			o.wg.Add(1)

			go func() {
				defer o.wg.Done()

				for {
					select {
					case <-ctx.Done():
						return
					case task := <-o.tasks:
						task(ctx)
					}
				}
			}()
		}

		o.started.Store(true)
	})
}

// Wait blocks until every worker has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Submit registers a conversion job for the document and queues it. The
// returned job id can be polled with Status.
func (o *Orchestrator) Submit(ctx context.Context, doc core.Document, voice string) (string, error) {
	if !o.started.Load() {
		return "", ErrNotRunning
	}

	if voice == "" {
		voice = o.cfg.DefaultVoice
	}

	job := core.Job{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		State:      core.JobQueued,
		Voice:      voice,
	}

	err := o.jobs.CreateJob(ctx, job)
	if err != nil {
		return "", fmt.Errorf("create job for document %s: %w", doc.ID, err)
	}

	o.enqueue(func(taskCtx context.Context) {
		o.runJob(taskCtx, job.ID, doc, voice)
	})

	o.log.Info("Job %s queued for document %s", job.ID, doc.ID)

	return job.ID, nil
}

// Status returns a read-only snapshot with per-state chapter counts.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (core.JobSnapshot, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return core.JobSnapshot{}, err
	}

	return core.SnapshotOf(job), nil
}

// Cancel marks a job canceled. In-flight workers for the job discard
// their results instead of writing them; artifacts already completed are
// left for the cleanup collaborator.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", core.ErrJobNotCancelable, jobID, job.State)
	}

	err = o.jobs.TransitionJob(ctx, jobID, job.State, core.JobCanceled)
	if err != nil {
		// The job moved under us; report the current reality.
		if errors.Is(err, core.ErrStaleTransition) {
			return fmt.Errorf("%w: %s", core.ErrJobNotCancelable, jobID)
		}

		return err
	}

	o.log.Info("Job %s canceled", jobID)

	return nil
}

// Resume re-queues only the failed chapters of a failed job, keeping all
// completed chapter artifacts.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if job.State != core.JobFailed {
		return fmt.Errorf("%w: job %s is %s, only failed jobs resume", core.ErrStaleTransition, jobID, job.State)
	}

	err = o.jobs.TransitionJob(ctx, jobID, core.JobFailed, core.JobSynthesizing)
	if err != nil {
		return err
	}

	err = o.jobs.SetJobError(ctx, jobID, "")
	if err != nil {
		return err
	}

	requeued := 0

	for _, chapter := range job.Chapters {
		if chapter.State != core.ChapterFailed {
			continue
		}

		err = o.jobs.TransitionChapter(ctx, jobID, chapter.ChapterIndex, core.ChapterFailed, core.ChapterPending)
		if err != nil {
			return err
		}

		o.enqueue(o.chapterTaskFromStore(jobID, chapter.ChapterIndex))

		requeued++
	}

	o.log.Info("Job %s resumed, %d chapters re-queued", jobID, requeued)

	return nil
}

// enqueue hands a task to the pool without blocking the caller. Chapter
// fan-out runs on pool workers themselves; a worker blocked sending into
// a full queue would starve the queue of its only consumers, so overflow
// spills to a goroutine that waits alongside the pool.
func (o *Orchestrator) enqueue(task func(ctx context.Context)) {
	select {
	case o.tasks <- task:
	default:
		o.wg.Add(1)

		go func() {
			defer o.wg.Done()

			select {
			case o.tasks <- task:
			case <-o.runCtx.Done():
			}
		}()
	}
}
