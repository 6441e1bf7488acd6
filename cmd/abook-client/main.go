// abook-client is a command-line client for the audiobook-service
// control subjects: submit a stored document, poll job status, cancel,
// resume, and assemble finished chapters into an audiobook.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/book-expert/audiobook-service/internal/config"
	"github.com/book-expert/audiobook-service/internal/worker"
	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagSubmitDesc   = "Object-store key of the document to convert"
	flagFormatDesc   = "Document format (text, pdf, docx, epub)"
	flagVoiceDesc    = "Voice to synthesize with"
	flagStatusDesc   = "Job ID to query"
	flagCancelDesc   = "Job ID to cancel"
	flagResumeDesc   = "Job ID to resume"
	flagAssembleDesc = "Job ID to assemble into an audiobook"
	flagTitleDesc    = "Audiobook title (assemble only)"
	flagAuthorDesc   = "Audiobook author (assemble only)"
	flagTimeoutDesc  = "Reply timeout"
)

const defaultRequestTimeout = 30 * time.Second

var errNoAction = errors.New(
	"exactly one of --submit, --status, --cancel, --resume, or --assemble must be provided",
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	submit   string
	format   string
	voice    string
	status   string
	cancel   string
	resume   string
	assemble string
	title    string
	author   string
	timeout  time.Duration
}

func main() {
	err := run()
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()

	bootstrapLog, err := logger.New(os.TempDir(), "abook-client.log")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = bootstrapLog.Close() }()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	subject, payload, err := buildRequest(cfg, flags)
	if err != nil {
		return err
	}

	reply, err := natsConnection.Request(subject, payload, flags.timeout)
	if err != nil {
		return fmt.Errorf("request on subject '%s' failed: %w", subject, err)
	}

	return printReply(reply.Data)
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.submit, "submit", "", flagSubmitDesc)
	flag.StringVar(&flags.format, "format", "text", flagFormatDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.status, "status", "", flagStatusDesc)
	flag.StringVar(&flags.cancel, "cancel", "", flagCancelDesc)
	flag.StringVar(&flags.resume, "resume", "", flagResumeDesc)
	flag.StringVar(&flags.assemble, "assemble", "", flagAssembleDesc)
	flag.StringVar(&flags.title, "title", "", flagTitleDesc)
	flag.StringVar(&flags.author, "author", "", flagAuthorDesc)
	flag.DurationVar(&flags.timeout, "timeout", defaultRequestTimeout, flagTimeoutDesc)
	flag.Parse()

	return flags
}

// buildRequest maps the single selected action flag to its subject and
// JSON payload.
func buildRequest(cfg *config.Config, flags appFlags) (string, []byte, error) {
	type action struct {
		subject string
		payload any
	}

	actions := make([]action, 0, 1)

	if flags.submit != "" {
		actions = append(actions, action{cfg.NATS.SubmitSubject, worker.DocumentUploadedEvent{
			Header:      events.EventHeader{EventID: uuid.NewString(), Timestamp: time.Now().UTC()},
			DocumentKey: flags.submit,
			Format:      flags.format,
			Voice:       flags.voice,
		}})
	}

	if flags.status != "" {
		actions = append(actions, action{cfg.NATS.StatusSubject, worker.JobStatusRequest{JobID: flags.status}})
	}

	if flags.cancel != "" {
		actions = append(actions, action{cfg.NATS.CancelSubject, worker.JobControlRequest{JobID: flags.cancel}})
	}

	if flags.resume != "" {
		actions = append(actions, action{cfg.NATS.ResumeSubject, worker.JobControlRequest{JobID: flags.resume}})
	}

	if flags.assemble != "" {
		actions = append(actions, action{cfg.NATS.AssembleSubject, worker.AssembleRequest{
			JobID:  flags.assemble,
			Title:  flags.title,
			Author: flags.author,
		}})
	}

	if len(actions) != 1 {
		flag.Usage()

		return "", nil, errNoAction
	}

	payload, err := json.Marshal(actions[0].payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return actions[0].subject, payload, nil
}

// printReply re-indents the service's JSON reply for the terminal.
func printReply(data []byte) error {
	var pretty any

	err := json.Unmarshal(data, &pretty)
	if err != nil {
		fmt.Println(string(data))

		return nil
	}

	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format reply: %w", err)
	}

	fmt.Println(string(out))

	return nil
}
