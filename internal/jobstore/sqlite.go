// Package jobstore persists job and chapter state in SQLite. All state
// transitions are compare-and-set: an UPDATE is keyed by the expected
// current state, so two chapter workers finishing at once cannot lose an
// update.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	_ "modernc.org/sqlite"
)

const dirPermissions = 0o750

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id      TEXT PRIMARY KEY,
    document_id TEXT NOT NULL,
    state       TEXT NOT NULL,
    title       TEXT NOT NULL DEFAULT '',
    author      TEXT NOT NULL DEFAULT '',
    voice       TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chapters (
    job_id        TEXT NOT NULL,
    chapter_index INTEGER NOT NULL,
    title         TEXT NOT NULL DEFAULT '',
    state         TEXT NOT NULL,
    audio_key     TEXT NOT NULL DEFAULT '',
    retry_count   INTEGER NOT NULL DEFAULT 0,
    error         TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (job_id, chapter_index),
    FOREIGN KEY (job_id) REFERENCES jobs(job_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
`

// Store is a SQLite-backed core.JobStore.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates (or opens) the job database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		err := os.MkdirAll(dir, dirPermissions)
		if err != nil {
			return nil, fmt.Errorf("create job store dir: %w", err)
		}
	}

	// busy_timeout makes concurrent chapter writers queue on the write
	// lock instead of surfacing SQLITE_BUSY.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply job store schema: %w", err)
	}

	return &Store{db: db, clock: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("close job store: %w", err)
	}

	return nil
}

// CreateJob inserts a new job record with its chapter rows, if any.
func (s *Store) CreateJob(ctx context.Context, job core.Job) error {
	now := s.clock().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, document_id, state, title, author, voice, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, string(job.State),
		job.Metadata.Title, job.Metadata.Author, job.Voice, job.Error, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}

	if len(job.Chapters) > 0 {
		return s.PutChapters(ctx, job.ID, job.Chapters)
	}

	return nil
}

// GetJob loads one job with its chapter results in index order.
func (s *Store) GetJob(ctx context.Context, jobID string) (core.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, document_id, state, title, author, voice, error, created_at, updated_at
		 FROM jobs WHERE job_id = ?`, jobID,
	)

	var job core.Job

	var state string

	err := row.Scan(
		&job.ID, &job.DocumentID, &state,
		&job.Metadata.Title, &job.Metadata.Author, &job.Voice, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Job{}, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
		}

		return core.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}

	job.State = core.JobState(state)

	job.Chapters, err = s.loadChapters(ctx, jobID)
	if err != nil {
		return core.Job{}, err
	}

	return job, nil
}

// ListJobs returns all jobs, newest first, without chapter detail.
func (s *Store) ListJobs(ctx context.Context) ([]core.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, document_id, state, title, author, voice, error, created_at, updated_at
		 FROM jobs ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []core.Job

	for rows.Next() {
		var job core.Job

		var state string

		err = rows.Scan(
			&job.ID, &job.DocumentID, &state,
			&job.Metadata.Title, &job.Metadata.Author, &job.Voice, &job.Error,
			&job.CreatedAt, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}

		job.State = core.JobState(state)
		jobs = append(jobs, job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}

	return jobs, nil
}

// TransitionJob moves a job between states with compare-and-set semantics.
func (s *Store) TransitionJob(ctx context.Context, jobID string, from, to core.JobState) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE job_id = ? AND state = ?`,
		string(to), s.clock().UTC(), jobID, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition job %s %s->%s: %w", jobID, from, to, err)
	}

	return s.checkAffected(ctx, result, jobID,
		fmt.Sprintf("%s -> %s", from, to))
}

// SetJobError records a human-readable failure summary on a job.
func (s *Store) SetJobError(ctx context.Context, jobID, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET error = ?, updated_at = ? WHERE job_id = ?`,
		message, s.clock().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("set error on job %s: %w", jobID, err)
	}

	return nil
}

// SetJobMetadata records the title/author discovered during extraction.
func (s *Store) SetJobMetadata(ctx context.Context, jobID string, meta core.DocumentMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET title = ?, author = ?, updated_at = ? WHERE job_id = ?`,
		meta.Title, meta.Author, s.clock().UTC(), jobID,
	)
	if err != nil {
		return fmt.Errorf("set metadata on job %s: %w", jobID, err)
	}

	return nil
}

// PutChapters replaces the chapter rows for a job.
func (s *Store) PutChapters(ctx context.Context, jobID string, chapters []core.ChapterResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chapter insert for job %s: %w", jobID, err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM chapters WHERE job_id = ?`, jobID)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("clear chapters for job %s: %w", jobID, err)
	}

	for _, chapter := range chapters {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chapters (job_id, chapter_index, title, state, audio_key, retry_count, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			jobID, chapter.ChapterIndex, chapter.Title, string(chapter.State),
			chapter.AudioKey, chapter.RetryCount, chapter.Error,
		)
		if err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("insert chapter %d for job %s: %w", chapter.ChapterIndex, jobID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit chapters for job %s: %w", jobID, err)
	}

	return nil
}

// TransitionChapter moves one chapter result between states, keyed by
// (job id, chapter index, expected state).
func (s *Store) TransitionChapter(
	ctx context.Context,
	jobID string,
	chapterIndex int,
	from, to core.ChapterState,
) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET state = ? WHERE job_id = ? AND chapter_index = ? AND state = ?`,
		string(to), jobID, chapterIndex, string(from),
	)
	if err != nil {
		return fmt.Errorf("transition chapter %d of job %s: %w", chapterIndex, jobID, err)
	}

	return s.checkAffected(ctx, result, jobID,
		fmt.Sprintf("chapter %d %s -> %s", chapterIndex, from, to))
}

// FinishChapter marks a chapter done with its artifact key.
func (s *Store) FinishChapter(
	ctx context.Context,
	jobID string,
	chapterIndex int,
	audioKey string,
	retryCount int,
) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET state = ?, audio_key = ?, retry_count = ?, error = ''
		 WHERE job_id = ? AND chapter_index = ? AND state = ?`,
		string(core.ChapterDone), audioKey, retryCount,
		jobID, chapterIndex, string(core.ChapterSynthesizing),
	)
	if err != nil {
		return fmt.Errorf("finish chapter %d of job %s: %w", chapterIndex, jobID, err)
	}

	return s.checkAffected(ctx, result, jobID,
		fmt.Sprintf("finish chapter %d", chapterIndex))
}

// FailChapter marks a chapter failed with its error summary. A chapter
// fails out of synthesizing, or straight out of pending when it could
// not even be claimed.
func (s *Store) FailChapter(
	ctx context.Context,
	jobID string,
	chapterIndex, retryCount int,
	message string,
) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chapters SET state = ?, retry_count = ?, error = ?
		 WHERE job_id = ? AND chapter_index = ? AND state IN (?, ?)`,
		string(core.ChapterFailed), retryCount, message,
		jobID, chapterIndex, string(core.ChapterSynthesizing), string(core.ChapterPending),
	)
	if err != nil {
		return fmt.Errorf("fail chapter %d of job %s: %w", chapterIndex, jobID, err)
	}

	return s.checkAffected(ctx, result, jobID,
		fmt.Sprintf("fail chapter %d", chapterIndex))
}

// DeleteBefore removes terminal jobs older than the cutoff. Retention
// scheduling belongs to a collaborator cleanup process.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE updated_at < ? AND state IN (?, ?, ?)`,
		cutoff.UTC(), string(core.JobDone), string(core.JobFailed), string(core.JobCanceled),
	)
	if err != nil {
		return 0, fmt.Errorf("delete jobs before %s: %w", cutoff, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted jobs: %w", err)
	}

	return affected, nil
}

func (s *Store) loadChapters(ctx context.Context, jobID string) ([]core.ChapterResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chapter_index, title, state, audio_key, retry_count, error
		 FROM chapters WHERE job_id = ? ORDER BY chapter_index`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("load chapters for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var chapters []core.ChapterResult

	for rows.Next() {
		var chapter core.ChapterResult

		var state string

		err = rows.Scan(
			&chapter.ChapterIndex, &chapter.Title, &state,
			&chapter.AudioKey, &chapter.RetryCount, &chapter.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan chapter row: %w", err)
		}

		chapter.State = core.ChapterState(state)
		chapters = append(chapters, chapter)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate chapter rows: %w", err)
	}

	return chapters, nil
}

func (s *Store) checkAffected(ctx context.Context, result sql.Result, jobID, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for job %s: %w", jobID, err)
	}

	if affected > 0 {
		return nil
	}

	var exists int

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE job_id = ?`, jobID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job %s: %w", jobID, err)
	}

	if exists == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}

	return fmt.Errorf("%w: job %s, %s", core.ErrStaleTransition, jobID, op)
}
