// Package core defines the domain types, adapter interfaces, and error
// taxonomy shared by every component of the audiobook service.
package core

import "time"

// DocumentFormat is the declared format of an uploaded document.
type DocumentFormat string

const (
	FormatText DocumentFormat = "text"
	FormatPDF  DocumentFormat = "pdf"
	FormatDOCX DocumentFormat = "docx"
	FormatEPUB DocumentFormat = "epub"
)

// Document is the immutable input identity for one conversion request.
// It is created at upload time and never mutated afterwards.
type Document struct {
	ID     string         `json:"id"`
	Format DocumentFormat `json:"format"`
	Data   []byte         `json:"-"`
}

// DocumentMetadata is title/author information recovered at extraction time.
type DocumentMetadata struct {
	Title  string `json:"title"`
	Author string `json:"author"`
}

// HeadingHint marks a structural boundary reported by an extractor.
// Offset is a byte offset into the extracted text.
type HeadingHint struct {
	Offset int    `json:"offset"`
	Title  string `json:"title"`
	Level  int    `json:"level"`
}

// ExtractResult is what an Extractor returns for a document.
type ExtractResult struct {
	Text     string           `json:"text"`
	Hints    []HeadingHint    `json:"hints,omitempty"`
	Metadata DocumentMetadata `json:"metadata"`
}

// Chapter is a titled, ordered unit of a document's text. Indices are
// 0-based and contiguous; RawText is never empty after trimming.
type Chapter struct {
	Index   int    `json:"index"`
	Title   string `json:"title,omitempty"`
	RawText string `json:"rawText"`
}

// TextChunk is a bounded-length slice of a chapter's normalized text,
// sized for a single synthesis call. Concatenating a chapter's chunks in
// chunk order reconstructs the normalized text up to whitespace.
type TextChunk struct {
	ChapterIndex int    `json:"chapterIndex"`
	ChunkIndex   int    `json:"chunkIndex"`
	Text         string `json:"text"`
}

// JobState is the lifecycle stage of a conversion job.
type JobState string

const (
	JobQueued             JobState = "queued"
	JobExtracting         JobState = "extracting"
	JobChaptering         JobState = "chaptering"
	JobSynthesizing       JobState = "synthesizing"
	JobAssemblingChapters JobState = "assembling_chapters"
	JobDone               JobState = "done"
	JobFailed             JobState = "failed"
	JobCanceled           JobState = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCanceled
}

// ChapterState is the lifecycle stage of one chapter within a job.
type ChapterState string

const (
	ChapterPending      ChapterState = "pending"
	ChapterSynthesizing ChapterState = "synthesizing"
	ChapterDone         ChapterState = "done"
	ChapterFailed       ChapterState = "failed"
)

// ChapterResult is the per-chapter progress record owned by the job store.
type ChapterResult struct {
	ChapterIndex int          `json:"chapterIndex"`
	Title        string       `json:"title,omitempty"`
	State        ChapterState `json:"state"`
	AudioKey     string       `json:"audioKey,omitempty"`
	RetryCount   int          `json:"retryCount"`
	Error        string       `json:"error,omitempty"`
}

// Job is the unit of asynchronous work for one document.
type Job struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"documentId"`
	State      JobState         `json:"state"`
	Metadata   DocumentMetadata `json:"metadata"`
	Voice      string           `json:"voice"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
	Chapters   []ChapterResult  `json:"chapters"`
	Error      string           `json:"error,omitempty"`
}

// Progress summarises per-chapter states so callers can render
// determinate progress rather than a binary pending/complete flag.
type Progress struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Synthesizing int `json:"synthesizing"`
	Done         int `json:"done"`
	Failed       int `json:"failed"`
}

// JobSnapshot is the read-only view returned to callers.
type JobSnapshot struct {
	Job      Job      `json:"job"`
	Progress Progress `json:"progress"`
}

// SnapshotOf derives a snapshot from a job record.
func SnapshotOf(job Job) JobSnapshot {
	progress := Progress{Total: len(job.Chapters)}

	for _, chapter := range job.Chapters {
		switch chapter.State {
		case ChapterPending:
			progress.Pending++
		case ChapterSynthesizing:
			progress.Synthesizing++
		case ChapterDone:
			progress.Done++
		case ChapterFailed:
			progress.Failed++
		}
	}

	return JobSnapshot{Job: job, Progress: progress}
}

// AudioArtifact is a completed on-disk audio file plus derived attributes.
type AudioArtifact struct {
	Key      string           `json:"key"`
	Path     string           `json:"path"`
	Title    string           `json:"title,omitempty"`
	Metadata DocumentMetadata `json:"metadata"`
	Duration time.Duration    `json:"duration"`
	Bytes    int64            `json:"bytes"`
}

// AudiobookRequest selects artifacts, in caller order, to merge into one
// chaptered container.
type AudiobookRequest struct {
	ArtifactKeys []string `json:"artifactKeys"`
	Title        string   `json:"title,omitempty"`
	Author       string   `json:"author,omitempty"`
}

// ChapterMark is one chapter boundary in an assembled audiobook.
type ChapterMark struct {
	Title string        `json:"title"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// AudiobookResult describes the merged container produced by the assembler.
type AudiobookResult struct {
	Path     string        `json:"path"`
	Title    string        `json:"title"`
	Author   string        `json:"author"`
	Duration time.Duration `json:"duration"`
	Marks    []ChapterMark `json:"marks"`
}
