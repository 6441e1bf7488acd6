package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	retry "github.com/avast/retry-go/v4"
	"github.com/book-expert/audiobook-service/internal/audiofile"
	"github.com/book-expert/audiobook-service/internal/core"
)

// runJob carries a freshly submitted job from queued through chapter
// fan-out. Chapter synthesis itself happens in separate tasks so that a
// long document cannot monopolize the pool.
func (o *Orchestrator) runJob(ctx context.Context, jobID string, doc core.Document, voice string) {
	err := o.jobs.TransitionJob(ctx, jobID, core.JobQueued, core.JobExtracting)
	if err != nil {
		// Canceled before work started, or already picked up.
		o.log.Warn("Job %s not started: %v", jobID, err)

		return
	}

	extracted, err := o.extractor.Extract(ctx, doc.Data, doc.Format)
	if err != nil {
		o.failJob(ctx, jobID, core.JobExtracting, fmt.Sprintf("extraction failed: %v", err))

		return
	}

	err = o.jobs.SetJobMetadata(ctx, jobID, extracted.Metadata)
	if err != nil {
		o.log.Warn("Job %s: failed to record metadata: %v", jobID, err)
	}

	err = o.jobs.TransitionJob(ctx, jobID, core.JobExtracting, core.JobChaptering)
	if err != nil {
		o.log.Warn("Job %s left extraction unexpectedly: %v", jobID, err)

		return
	}

	chapters := o.chapterizer.Segment(extracted)

	if announcement := titleAnnouncement(extracted.Metadata); announcement != "" && len(chapters) > 0 {
		chapters[0].RawText = announcement + "\n\n" + chapters[0].RawText
	}

	results := make([]core.ChapterResult, 0, len(chapters))

	for _, chapter := range chapters {
		normalized := o.normalizer.Normalize(chapter.RawText)

		textKey := fmt.Sprintf(chapterTextKeyFormat, jobID, chapter.Index)

		err = o.objects.Upload(ctx, textKey, []byte(normalized))
		if err != nil {
			o.failJob(ctx, jobID, core.JobChaptering,
				fmt.Sprintf("store chapter %d text: %v", chapter.Index, err))

			return
		}

		results = append(results, core.ChapterResult{
			ChapterIndex: chapter.Index,
			Title:        chapter.Title,
			State:        core.ChapterPending,
		})
	}

	err = o.jobs.PutChapters(ctx, jobID, results)
	if err != nil {
		o.failJob(ctx, jobID, core.JobChaptering, fmt.Sprintf("record chapters: %v", err))

		return
	}

	err = o.jobs.TransitionJob(ctx, jobID, core.JobChaptering, core.JobSynthesizing)
	if err != nil {
		o.log.Warn("Job %s left chaptering unexpectedly: %v", jobID, err)

		return
	}

	o.log.Info("Job %s: %d chapters queued for voice '%s'", jobID, len(results), voice)

	for _, result := range results {
		o.enqueue(o.chapterTaskFromStore(jobID, result.ChapterIndex))
	}
}

// chapterTaskFromStore builds a chapter task that rehydrates its text
// from the object store. Resume uses the same path as first-run
// fan-out, so a re-queued chapter behaves identically.
func (o *Orchestrator) chapterTaskFromStore(jobID string, chapterIndex int) func(ctx context.Context) {
	return func(ctx context.Context) {
		o.runChapter(ctx, jobID, chapterIndex)
	}
}

func (o *Orchestrator) runChapter(ctx context.Context, jobID string, chapterIndex int) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		o.log.Error("Chapter %d of job %s: load job: %v", chapterIndex, jobID, err)

		return
	}

	if job.State != core.JobSynthesizing {
		// Canceled or failed while this task sat in the queue.
		o.log.Info("Chapter %d of job %s discarded, job is %s", chapterIndex, jobID, job.State)

		return
	}

	audioKey := fmt.Sprintf(chapterAudioKeyFormat, jobID, chapterIndex)

	// A completed artifact from an earlier run means this chapter only
	// needs its bookkeeping finished.
	exists, err := o.objects.Exists(ctx, audioKey)
	if err != nil {
		o.log.Warn("Chapter %d of job %s: artifact lookup failed: %v", chapterIndex, jobID, err)
	}

	err = o.jobs.TransitionChapter(ctx, jobID, chapterIndex, core.ChapterPending, core.ChapterSynthesizing)
	if err != nil {
		// Losing the claim is normal: another worker owns it, or the job
		// was torn down. Anything else is a store failure and the chapter
		// must not be stranded in pending.
		if errors.Is(err, core.ErrStaleTransition) || errors.Is(err, core.ErrJobNotFound) {
			o.log.Info("Chapter %d of job %s skipped: %v", chapterIndex, jobID, err)

			return
		}

		o.failChapter(ctx, jobID, chapterIndex, 0, fmt.Sprintf("claim chapter: %v", err))

		return
	}

	if exists {
		o.finishChapter(ctx, jobID, chapterIndex, audioKey, retryCountOf(job, chapterIndex))

		return
	}

	textKey := fmt.Sprintf(chapterTextKeyFormat, jobID, chapterIndex)

	text, err := o.objects.Download(ctx, textKey)
	if err != nil {
		o.failChapter(ctx, jobID, chapterIndex, 0, fmt.Sprintf("load chapter text: %v", err))

		return
	}

	chunks := o.chunker.Split(chapterIndex, string(text))

	audioChunks, retries, err := o.synthesizeChunks(ctx, chunks, job.Voice)
	if err != nil {
		o.failChapter(ctx, jobID, chapterIndex, retries, err.Error())

		return
	}

	localPath, err := o.assembleChapter(ctx, jobID, chapterIndex, audioChunks)
	if err != nil {
		o.failChapter(ctx, jobID, chapterIndex, retries, err.Error())

		return
	}

	encoded, err := os.ReadFile(localPath)
	if err != nil {
		o.failChapter(ctx, jobID, chapterIndex, retries, fmt.Sprintf("read chapter audio: %v", err))

		return
	}

	// Results of a canceled job are discarded, not uploaded.
	current, err := o.jobs.GetJob(ctx, jobID)
	if err == nil && current.State != core.JobSynthesizing {
		o.log.Info("Chapter %d of job %s finished after %s, result discarded",
			chapterIndex, jobID, current.State)

		return
	}

	err = o.objects.Upload(ctx, audioKey, encoded)
	if err != nil {
		o.failChapter(ctx, jobID, chapterIndex, retries, fmt.Sprintf("upload chapter audio: %v", err))

		return
	}

	o.finishChapter(ctx, jobID, chapterIndex, audioKey, retries)
}

// synthesizeChunks runs every chunk of a chapter concurrently, retrying
// transient failures with exponential backoff. The result slice is
// addressed by chunk index, so concurrent completion cannot reorder
// audio. The returned count is the total number of retries across all
// chunks of the chapter.
func (o *Orchestrator) synthesizeChunks(
	ctx context.Context,
	chunks []core.TextChunk,
	voice string,
) ([][]byte, int, error) {
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("%w: chapter has no synthesizable text", core.ErrSynthesisFatal)
	}

	results := make([][]byte, len(chunks))
	errs := make([]error, len(chunks))

	var (
		waitGroup  sync.WaitGroup
		retryCount atomic.Int64
	)

	chunkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, chunk := range chunks {
		waitGroup.Add(1)

		go func(index int, chunk core.TextChunk) {
			defer waitGroup.Done()

			audio, err := o.synthesizeChunk(chunkCtx, chunk.Text, voice, &retryCount)
			if err != nil {
				errs[index] = fmt.Errorf("chunk %d: %w", chunk.ChunkIndex, err)

				cancel()

				return
			}

			results[index] = audio
		}(i, chunk)
	}

	waitGroup.Wait()

	retries := int(retryCount.Load())

	// Sibling chunks canceled by the first failure report context.Canceled;
	// the chapter error must name the failure that triggered the cancel.
	var firstErr error

	for _, err := range errs {
		if err == nil {
			continue
		}

		if firstErr == nil {
			firstErr = err
		}

		if !errors.Is(err, context.Canceled) {
			firstErr = err

			break
		}
	}

	if firstErr != nil {
		return nil, retries, firstErr
	}

	return results, retries, nil
}

func (o *Orchestrator) synthesizeChunk(
	ctx context.Context,
	text, voice string,
	retryCount *atomic.Int64,
) ([]byte, error) {
	attempts := 0

	audio, err := retry.DoWithData(
		func() ([]byte, error) {
			attempts++

			callCtx, cancel := context.WithTimeout(ctx, o.cfg.SynthesisTimeout)
			defer cancel()

			return o.synthesizer.Synthesize(callCtx, text, voice)
		},
		retry.Context(ctx),
		retry.Attempts(uint(o.cfg.MaxRetries)+1),
		retry.Delay(o.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, core.ErrSynthesisTransient)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			o.log.Warn("Synthesis attempt %d failed: %v", attempt+1, err)
		}),
	)

	if attempts > 1 {
		retryCount.Add(int64(attempts - 1))
	}

	if err != nil {
		return nil, fmt.Errorf("synthesis failed after %d attempts: %w", attempts, err)
	}

	return audio, nil
}

// assembleChapter joins the chunk audio in order and encodes it into the
// chapter's deliverable artifact under the generated directory.
func (o *Orchestrator) assembleChapter(
	ctx context.Context,
	jobID string,
	chapterIndex int,
	audioChunks [][]byte,
) (string, error) {
	jobDir := filepath.Join(o.cfg.GeneratedDir, jobID)

	err := os.MkdirAll(jobDir, dirPermissions)
	if err != nil {
		return "", fmt.Errorf("create job directory '%s': %w", jobDir, err)
	}

	rawPath := filepath.Join(jobDir, fmt.Sprintf("chapter_%03d.wav", chapterIndex))
	outPath := filepath.Join(jobDir, fmt.Sprintf("chapter_%03d.mp3", chapterIndex))

	err = audiofile.Concat(audioChunks, rawPath)
	if err != nil {
		return "", fmt.Errorf("concatenate chapter %d audio: %w", chapterIndex, err)
	}

	defer func() {
		removeErr := os.Remove(rawPath)
		if removeErr != nil {
			o.log.Warn("Failed to remove intermediate WAV '%s': %v", rawPath, removeErr)
		}
	}()

	err = o.encoder.Encode(ctx, rawPath, outPath)
	if err != nil {
		return "", fmt.Errorf("encode chapter %d audio: %w", chapterIndex, err)
	}

	return outPath, nil
}

func (o *Orchestrator) finishChapter(ctx context.Context, jobID string, chapterIndex int, audioKey string, retries int) {
	err := o.jobs.FinishChapter(ctx, jobID, chapterIndex, audioKey, retries)
	if err != nil {
		o.log.Error("Chapter %d of job %s: record completion: %v", chapterIndex, jobID, err)

		return
	}

	o.log.Info("Chapter %d of job %s done (%d retries)", chapterIndex, jobID, retries)

	o.settleJob(ctx, jobID)
}

func (o *Orchestrator) failChapter(ctx context.Context, jobID string, chapterIndex, retries int, message string) {
	err := o.jobs.FailChapter(ctx, jobID, chapterIndex, retries, message)
	if err != nil {
		o.log.Error("Chapter %d of job %s: record failure: %v", chapterIndex, jobID, err)

		return
	}

	o.log.Error("Chapter %d of job %s failed: %s", chapterIndex, jobID, message)

	o.settleJob(ctx, jobID)
}

// settleJob moves a job to its terminal state once every chapter is
// terminal. Multiple workers can race here; the compare-and-swap in the
// store lets exactly one of them win.
func (o *Orchestrator) settleJob(ctx context.Context, jobID string) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		o.log.Error("Settle job %s: %v", jobID, err)

		return
	}

	if job.State != core.JobSynthesizing {
		return
	}

	failed := 0

	for _, chapter := range job.Chapters {
		switch chapter.State {
		case core.ChapterPending, core.ChapterSynthesizing:
			return
		case core.ChapterFailed:
			failed++
		case core.ChapterDone:
		}
	}

	if failed > 0 {
		message := fmt.Sprintf("%d of %d chapters failed", failed, len(job.Chapters))
		o.failJob(ctx, jobID, core.JobSynthesizing, message)

		return
	}

	err = o.jobs.TransitionJob(ctx, jobID, core.JobSynthesizing, core.JobAssemblingChapters)
	if err != nil {
		if !errors.Is(err, core.ErrStaleTransition) {
			o.log.Error("Settle job %s: %v", jobID, err)
		}

		return
	}

	// Every chapter artifact must be present before the job is declared
	// complete.
	for _, chapter := range job.Chapters {
		exists, existsErr := o.objects.Exists(ctx, chapter.AudioKey)
		if existsErr != nil || !exists {
			o.failJob(ctx, jobID, core.JobAssemblingChapters,
				fmt.Sprintf("chapter %d artifact missing after synthesis", chapter.ChapterIndex))

			return
		}
	}

	err = o.jobs.TransitionJob(ctx, jobID, core.JobAssemblingChapters, core.JobDone)
	if err != nil {
		o.log.Error("Complete job %s: %v", jobID, err)

		return
	}

	o.log.Info("Job %s done, %d chapters", jobID, len(job.Chapters))
}

func (o *Orchestrator) failJob(ctx context.Context, jobID string, from core.JobState, message string) {
	err := o.jobs.TransitionJob(ctx, jobID, from, core.JobFailed)
	if err != nil {
		o.log.Warn("Job %s: could not mark failed from %s: %v", jobID, from, err)

		return
	}

	err = o.jobs.SetJobError(ctx, jobID, message)
	if err != nil {
		o.log.Error("Job %s: record error message: %v", jobID, err)
	}

	o.log.Error("Job %s failed: %s", jobID, message)
}

func retryCountOf(job core.Job, chapterIndex int) int {
	for _, chapter := range job.Chapters {
		if chapter.ChapterIndex == chapterIndex {
			return chapter.RetryCount
		}
	}

	return 0
}

// titleAnnouncement builds the spoken title-page line read before the
// first chapter.
func titleAnnouncement(meta core.DocumentMetadata) string {
	title := strings.TrimSpace(meta.Title)
	author := strings.TrimSpace(meta.Author)

	switch {
	case title != "" && author != "":
		return fmt.Sprintf("%s. Written by %s.", title, author)
	case title != "":
		return title + "."
	default:
		return ""
	}
}
