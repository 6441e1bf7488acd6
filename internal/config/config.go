// Package config provides the configuration structure for the
// audiobook-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL             string `toml:"url"`
	SubmitSubject   string `toml:"submit_subject"`
	StatusSubject   string `toml:"status_subject"`
	CancelSubject   string `toml:"cancel_subject"`
	ResumeSubject   string `toml:"resume_subject"`
	AssembleSubject string `toml:"assemble_subject"`
	ArtifactBucket  string `toml:"artifact_bucket"`
	DocumentBucket  string `toml:"document_bucket"`
}

// SynthesisConfig holds the external engine settings.
type SynthesisConfig struct {
	Command        string   `toml:"command"`
	EncodeCommand  string   `toml:"encode_command"`
	Voices         []string `toml:"voices"`
	DefaultVoice   string   `toml:"default_voice"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// PipelineConfig tunes the orchestrator pool and retry policy.
type PipelineConfig struct {
	Workers               int `toml:"workers"`
	QueueDepth            int `toml:"queue_depth"`
	MaxRetries            int `toml:"max_retries"`
	RetryBaseDelaySeconds int `toml:"retry_base_delay_seconds"`
	MaxChunkRunes         int `toml:"max_chunk_runes"`
}

// ChapterizerConfig tunes chapter boundary detection.
type ChapterizerConfig struct {
	MinChapterWords int  `toml:"min_chapter_words"`
	AutoBookMode    bool `toml:"auto_book_mode"`
}

// AssemblyConfig holds the audiobook merge settings.
type AssemblyConfig struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir  string `toml:"base_logs_dir"`
	GeneratedDir string `toml:"generated_dir"`
	AudiobookDir string `toml:"audiobook_dir"`
	JobStorePath string `toml:"job_store_path"`
	RulesPath    string `toml:"rules_path"`
}

// Config is the root configuration structure.
type Config struct {
	NATS        NATSConfig        `toml:"nats"`
	Synthesis   SynthesisConfig   `toml:"synthesis"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Chapterizer ChapterizerConfig `toml:"chapterizer"`
	Assembly    AssemblyConfig    `toml:"assembly"`
	Paths       PathsConfig       `toml:"paths"`
}

// Load loads the configuration for the audiobook-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
