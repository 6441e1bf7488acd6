// Package worker exposes the conversion pipeline over NATS. Each control
// operation is a request/reply subject: submit a document, poll job
// status, cancel, resume, and assemble finished chapters into an
// audiobook.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/book-expert/audiobook-service/internal/core"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	controlTimeout  = 30 * time.Second
	assemblyTimeout = 10 * time.Minute

	chapterFileFormat = "chapter_%03d.mp3"
)

// ErrUnknownFormat indicates a submission naming a document format the
// extractor does not recognize.
var ErrUnknownFormat = errors.New("unknown document format")

// DocumentUploadedEvent asks the service to convert a stored document.
type DocumentUploadedEvent struct {
	Header      events.EventHeader `json:"header"`
	DocumentKey string             `json:"document_key"`
	Format      string             `json:"format"`
	Voice       string             `json:"voice,omitempty"`
}

// JobAcceptedEvent is the reply to a successful submission.
type JobAcceptedEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
}

// JobStatusRequest polls the state of a job.
type JobStatusRequest struct {
	JobID string `json:"job_id"`
}

// JobControlRequest cancels or resumes a job.
type JobControlRequest struct {
	JobID string `json:"job_id"`
}

// AssembleRequest merges a finished job's chapters into one audiobook.
type AssembleRequest struct {
	JobID  string `json:"job_id"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
}

// ErrorReply carries a failure back to the requester.
type ErrorReply struct {
	Error string `json:"error"`
}

// Pipeline is the slice of the orchestrator the worker drives.
type Pipeline interface {
	Submit(ctx context.Context, doc core.Document, voice string) (string, error)
	Status(ctx context.Context, jobID string) (core.JobSnapshot, error)
	Cancel(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) error
}

// JobReader is the read-only slice of the job store the worker needs.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (core.Job, error)
}

// Bookbinder merges chapter artifacts into an audiobook file.
type Bookbinder interface {
	Assemble(
		ctx context.Context,
		artifacts []core.AudioArtifact,
		request core.AudiobookRequest,
	) (core.AudiobookResult, error)
}

// Subjects names the NATS subjects the worker listens on.
type Subjects struct {
	Submit   string
	Status   string
	Cancel   string
	Resume   string
	Assemble string
}

// NatsWorker bridges NATS control messages to the pipeline.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	store          core.ObjectStore
	pipeline       Pipeline
	binder         Bookbinder
	jobs           JobReader
	generatedDir   string
	log            *logger.Logger
}

// NewNatsWorker creates a worker. Run must be called to start serving.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	store core.ObjectStore,
	pipeline Pipeline,
	binder Bookbinder,
	jobs JobReader,
	generatedDir string,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		store:          store,
		pipeline:       pipeline,
		binder:         binder,
		jobs:           jobs,
		generatedDir:   generatedDir,
		log:            log,
	}
}

// Run subscribes every control subject and blocks until ctx is done,
// then drains the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		w.subjects.Submit:   w.handleSubmit,
		w.subjects.Status:   w.handleStatus,
		w.subjects.Cancel:   w.handleCancel,
		w.subjects.Resume:   w.handleResume,
		w.subjects.Assemble: w.handleAssemble,
	}

	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	for subject, handler := range handlers {
		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	<-ctx.Done()

	for _, sub := range subscriptions {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription: %w", drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleSubmit(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var event DocumentUploadedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.replyError(msg, fmt.Errorf("failed to unmarshal event: %w", err))

		return
	}

	format, err := parseFormat(event.Format)
	if err != nil {
		w.replyError(msg, err)

		return
	}

	data, err := w.store.Download(ctx, event.DocumentKey)
	if err != nil {
		w.replyError(msg, fmt.Errorf("failed to download document '%s': %w", event.DocumentKey, err))

		return
	}

	doc := core.Document{
		ID:     event.DocumentKey,
		Format: format,
		Data:   data,
	}

	jobID, err := w.pipeline.Submit(ctx, doc, event.Voice)
	if err != nil {
		w.replyError(msg, fmt.Errorf("failed to submit document '%s': %w", event.DocumentKey, err))

		return
	}

	header := event.Header
	if header.EventID == "" {
		header.EventID = uuid.NewString()
	}

	w.reply(msg, JobAcceptedEvent{Header: header, JobID: jobID})
}

func (w *NatsWorker) handleStatus(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var request JobStatusRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.replyError(msg, fmt.Errorf("failed to unmarshal status request: %w", err))

		return
	}

	snapshot, err := w.pipeline.Status(ctx, request.JobID)
	if err != nil {
		w.replyError(msg, err)

		return
	}

	w.reply(msg, snapshot)
}

func (w *NatsWorker) handleCancel(msg *nats.Msg) {
	w.handleControl(msg, "cancel", w.pipeline.Cancel)
}

func (w *NatsWorker) handleResume(msg *nats.Msg) {
	w.handleControl(msg, "resume", w.pipeline.Resume)
}

func (w *NatsWorker) handleControl(msg *nats.Msg, verb string, action func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	var request JobControlRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.replyError(msg, fmt.Errorf("failed to unmarshal %s request: %w", verb, err))

		return
	}

	err = action(ctx, request.JobID)
	if err != nil {
		w.replyError(msg, err)

		return
	}

	snapshot, err := w.pipeline.Status(ctx, request.JobID)
	if err != nil {
		w.replyError(msg, err)

		return
	}

	w.reply(msg, snapshot)
}

func (w *NatsWorker) handleAssemble(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), assemblyTimeout)
	defer cancel()

	var request AssembleRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.replyError(msg, fmt.Errorf("failed to unmarshal assemble request: %w", err))

		return
	}

	job, err := w.jobs.GetJob(ctx, request.JobID)
	if err != nil {
		w.replyError(msg, err)

		return
	}

	if job.State != core.JobDone {
		w.replyError(msg, fmt.Errorf("%w: job %s is %s, not done", core.ErrAssemblyInput, job.ID, job.State))

		return
	}

	artifacts := w.artifactsOf(job)

	keys := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		keys = append(keys, artifact.Key)
	}

	result, err := w.binder.Assemble(ctx, artifacts, core.AudiobookRequest{
		ArtifactKeys: keys,
		Title:        request.Title,
		Author:       request.Author,
	})
	if err != nil {
		w.replyError(msg, err)

		return
	}

	w.reply(msg, result)
}

// artifactsOf maps a job's chapter records to their local artifact
// files, in chapter order.
func (w *NatsWorker) artifactsOf(job core.Job) []core.AudioArtifact {
	artifacts := make([]core.AudioArtifact, 0, len(job.Chapters))

	for _, chapter := range job.Chapters {
		artifacts = append(artifacts, core.AudioArtifact{
			Key:      chapter.AudioKey,
			Path:     filepath.Join(w.generatedDir, job.ID, fmt.Sprintf(chapterFileFormat, chapter.ChapterIndex)),
			Title:    chapter.Title,
			Metadata: job.Metadata,
		})
	}

	return artifacts
}

func (w *NatsWorker) reply(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish reply: %v", err)
	}
}

func (w *NatsWorker) replyError(msg *nats.Msg, cause error) {
	w.log.Error("Request on subject %s failed: %v", msg.Subject, cause)

	data, err := json.Marshal(ErrorReply{Error: cause.Error()})
	if err != nil {
		return
	}

	_ = msg.Respond(data)
}

func parseFormat(value string) (core.DocumentFormat, error) {
	switch value {
	case string(core.FormatText), "":
		return core.FormatText, nil
	case string(core.FormatPDF):
		return core.FormatPDF, nil
	case string(core.FormatDOCX):
		return core.FormatDOCX, nil
	case string(core.FormatEPUB):
		return core.FormatEPUB, nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrUnknownFormat, value)
	}
}
