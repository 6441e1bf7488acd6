// main package for the audiobook-service
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/audiobook-service/internal/assemble"
	"github.com/book-expert/audiobook-service/internal/chapterize"
	"github.com/book-expert/audiobook-service/internal/chunking"
	"github.com/book-expert/audiobook-service/internal/config"
	"github.com/book-expert/audiobook-service/internal/extract"
	"github.com/book-expert/audiobook-service/internal/jobstore"
	"github.com/book-expert/audiobook-service/internal/normalize"
	"github.com/book-expert/audiobook-service/internal/objectstore"
	"github.com/book-expert/audiobook-service/internal/orchestrator"
	"github.com/book-expert/audiobook-service/internal/synth"
	"github.com/book-expert/audiobook-service/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "audiobook-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

// serve wires every component together and blocks until shutdown.
func serve(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A bad rule file must stop the service before any document is
	// touched.
	rules, err := loadRules(cfg.Paths.RulesPath, log)
	if err != nil {
		return err
	}

	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at '%s': %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	artifacts, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactBucket)
	if err != nil {
		return fmt.Errorf("failed to open artifact bucket: %w", err)
	}

	documents, err := objectstore.New(jetstreamContext, cfg.NATS.DocumentBucket)
	if err != nil {
		return fmt.Errorf("failed to open document bucket: %w", err)
	}

	jobs, err := jobstore.Open(ctx, cfg.Paths.JobStorePath)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer func() {
		closeErr := jobs.Close()
		if closeErr != nil {
			log.Error("Failed to close job store: %v", closeErr)
		}
	}()

	synthesizer, err := synth.NewExecSynthesizer(cfg.Synthesis.Command, cfg.Synthesis.Voices, log)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}

	encoder, err := synth.NewExecEncoder(cfg.Synthesis.EncodeCommand, log)
	if err != nil {
		return fmt.Errorf("failed to build encoder: %w", err)
	}

	policy := chapterize.DefaultPolicy()
	if cfg.Chapterizer.MinChapterWords > 0 {
		policy.MinChapterWords = cfg.Chapterizer.MinChapterWords
	}

	policy.AutoBookMode = cfg.Chapterizer.AutoBookMode

	pipeline := orchestrator.New(
		orchestrator.Config{
			Workers:          cfg.Pipeline.Workers,
			QueueDepth:       cfg.Pipeline.QueueDepth,
			MaxRetries:       cfg.Pipeline.MaxRetries,
			RetryBaseDelay:   time.Duration(cfg.Pipeline.RetryBaseDelaySeconds) * time.Second,
			SynthesisTimeout: time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second,
			GeneratedDir:     cfg.Paths.GeneratedDir,
			DefaultVoice:     cfg.Synthesis.DefaultVoice,
		},
		jobs,
		artifacts,
		extract.New(),
		synthesizer,
		encoder,
		normalize.New(rules),
		chapterize.New(policy),
		chunking.New(cfg.Pipeline.MaxChunkRunes),
		log,
	)

	pipeline.Start(ctx)

	assembler := assemble.New(
		cfg.Paths.AudiobookDir,
		log,
		assemble.WithTools(cfg.Assembly.FFmpegPath, cfg.Assembly.FFprobePath),
	)

	natsWorker := worker.NewNatsWorker(
		natsConnection,
		worker.Subjects{
			Submit:   cfg.NATS.SubmitSubject,
			Status:   cfg.NATS.StatusSubject,
			Cancel:   cfg.NATS.CancelSubject,
			Resume:   cfg.NATS.ResumeSubject,
			Assemble: cfg.NATS.AssembleSubject,
		},
		documents,
		pipeline,
		assembler,
		jobs,
		cfg.Paths.GeneratedDir,
		log,
	)

	log.System("Audiobook-Service initialized. Listening for submissions on subject: %s", cfg.NATS.SubmitSubject)

	err = natsWorker.Run(ctx)

	pipeline.Wait()

	if err != nil {
		return fmt.Errorf("worker stopped with error: %w", err)
	}

	return nil
}

func loadRules(path string, log *logger.Logger) (*normalize.RuleSet, error) {
	if path == "" {
		log.Info("No rule file configured, using built-in rules")

		return normalize.CompileRules("builtin", normalize.DefaultRules())
	}

	rules, err := normalize.LoadRules(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule file '%s': %w", path, err)
	}

	log.Info("Loaded %d rules from '%s' (version %s)", rules.Len(), path, rules.Version())

	return rules, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
