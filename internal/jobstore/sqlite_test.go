// Package jobstore_test tests the SQLite job store.
package jobstore_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/audiobook-service/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(context.Background(), filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func newTestJob(id string) core.Job {
	return core.Job{
		ID:         id,
		DocumentID: "doc-" + id,
		State:      core.JobQueued,
		Voice:      "narrator",
	}
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	job := newTestJob("job-1")
	job.Chapters = []core.ChapterResult{
		{ChapterIndex: 0, Title: "Chapter 1", State: core.ChapterPending},
		{ChapterIndex: 1, Title: "Chapter 2", State: core.ChapterPending},
	}

	require.NoError(t, store.CreateJob(ctx, job))

	loaded, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)

	assert.Equal(t, "doc-job-1", loaded.DocumentID)
	assert.Equal(t, core.JobQueued, loaded.State)
	assert.Equal(t, "narrator", loaded.Voice)
	require.Len(t, loaded.Chapters, 2)
	assert.Equal(t, "Chapter 1", loaded.Chapters[0].Title)
}

func TestGetJob_NotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	_, err := store.GetJob(context.Background(), "no-such-job")
	require.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestTransitionJob_CompareAndSet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newTestJob("job-2")))

	require.NoError(t, store.TransitionJob(ctx, "job-2", core.JobQueued, core.JobExtracting))

	// A second transition from the old state must observe the conflict.
	err := store.TransitionJob(ctx, "job-2", core.JobQueued, core.JobExtracting)
	require.ErrorIs(t, err, core.ErrStaleTransition)

	err = store.TransitionJob(ctx, "missing", core.JobQueued, core.JobExtracting)
	require.ErrorIs(t, err, core.ErrJobNotFound)

	loaded, err := store.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, core.JobExtracting, loaded.State)
}

func TestChapterLifecycle(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newTestJob("job-3")))
	require.NoError(t, store.PutChapters(ctx, "job-3", []core.ChapterResult{
		{ChapterIndex: 0, Title: "Intro", State: core.ChapterPending},
		{ChapterIndex: 1, Title: "Body", State: core.ChapterPending},
	}))

	require.NoError(t, store.TransitionChapter(ctx, "job-3", 0, core.ChapterPending, core.ChapterSynthesizing))

	// Only one worker can claim a pending chapter.
	err := store.TransitionChapter(ctx, "job-3", 0, core.ChapterPending, core.ChapterSynthesizing)
	require.ErrorIs(t, err, core.ErrStaleTransition)

	require.NoError(t, store.FinishChapter(ctx, "job-3", 0, "job-3/chapter_000.mp3", 2))

	require.NoError(t, store.TransitionChapter(ctx, "job-3", 1, core.ChapterPending, core.ChapterSynthesizing))
	require.NoError(t, store.FailChapter(ctx, "job-3", 1, 3, "engine exploded"))

	loaded, err := store.GetJob(ctx, "job-3")
	require.NoError(t, err)
	require.Len(t, loaded.Chapters, 2)

	assert.Equal(t, core.ChapterDone, loaded.Chapters[0].State)
	assert.Equal(t, "job-3/chapter_000.mp3", loaded.Chapters[0].AudioKey)
	assert.Equal(t, 2, loaded.Chapters[0].RetryCount)

	assert.Equal(t, core.ChapterFailed, loaded.Chapters[1].State)
	assert.Equal(t, "engine exploded", loaded.Chapters[1].Error)
	assert.Equal(t, 3, loaded.Chapters[1].RetryCount)
}

func TestFinishChapter_RequiresSynthesizingState(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newTestJob("job-4")))
	require.NoError(t, store.PutChapters(ctx, "job-4", []core.ChapterResult{
		{ChapterIndex: 0, Title: "Only", State: core.ChapterPending},
	}))

	err := store.FinishChapter(ctx, "job-4", 0, "key", 0)
	require.ErrorIs(t, err, core.ErrStaleTransition)
}

func TestFailChapter_FromPending(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newTestJob("job-6")))
	require.NoError(t, store.PutChapters(ctx, "job-6", []core.ChapterResult{
		{ChapterIndex: 0, Title: "Only", State: core.ChapterPending},
	}))

	// A chapter that was never claimed still fails cleanly.
	require.NoError(t, store.FailChapter(ctx, "job-6", 0, 0, "claim chapter: store unavailable"))

	loaded, err := store.GetJob(ctx, "job-6")
	require.NoError(t, err)
	require.Len(t, loaded.Chapters, 1)
	assert.Equal(t, core.ChapterFailed, loaded.Chapters[0].State)
	assert.Equal(t, "claim chapter: store unavailable", loaded.Chapters[0].Error)
}

func TestConcurrentChapterTransitions(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	const chapterCount = 8

	chapters := make([]core.ChapterResult, 0, chapterCount)
	for i := range chapterCount {
		chapters = append(chapters, core.ChapterResult{ChapterIndex: i, State: core.ChapterPending})
	}

	job := newTestJob("job-7")
	job.Chapters = chapters
	require.NoError(t, store.CreateJob(ctx, job))

	// Parallel workers claiming and finishing chapters must never see a
	// busy database, only clean CAS outcomes.
	errs := make(chan error, chapterCount*2)

	var waitGroup sync.WaitGroup

	for i := range chapterCount {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			errs <- store.TransitionChapter(ctx, "job-7", index, core.ChapterPending, core.ChapterSynthesizing)
			errs <- store.FinishChapter(ctx, "job-7", index, fmt.Sprintf("job-7/chapter_%03d.mp3", index), 0)
		}(i)
	}

	waitGroup.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := store.GetJob(ctx, "job-7")
	require.NoError(t, err)
	require.Len(t, loaded.Chapters, chapterCount)

	for _, chapter := range loaded.Chapters {
		assert.Equal(t, core.ChapterDone, chapter.State)
	}
}

func TestSetJobErrorAndMetadata(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newTestJob("job-5")))

	require.NoError(t, store.SetJobError(ctx, "job-5", "2 of 3 chapters failed"))
	require.NoError(t, store.SetJobMetadata(ctx, "job-5", core.DocumentMetadata{
		Title:  "The Title",
		Author: "The Author",
	}))

	loaded, err := store.GetJob(ctx, "job-5")
	require.NoError(t, err)

	assert.Equal(t, "2 of 3 chapters failed", loaded.Error)
	assert.Equal(t, "The Title", loaded.Metadata.Title)
	assert.Equal(t, "The Author", loaded.Metadata.Author)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newTestJob("job-a")))
	require.NoError(t, store.CreateJob(ctx, newTestJob("job-b")))

	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestDeleteBefore_RemovesOnlyTerminalJobs(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	done := newTestJob("job-done")
	done.State = core.JobDone
	require.NoError(t, store.CreateJob(ctx, done))

	active := newTestJob("job-active")
	active.State = core.JobSynthesizing
	require.NoError(t, store.CreateJob(ctx, active))

	deleted, err := store.DeleteBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetJob(ctx, "job-done")
	require.ErrorIs(t, err, core.ErrJobNotFound)

	_, err = store.GetJob(ctx, "job-active")
	require.NoError(t, err)
}
