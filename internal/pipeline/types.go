package pipeline

import (
	"time"

	"github.com/procintel/sinoscan/internal/checkpoint"
)

// Shard is one independently processable unit of the input corpus: one
// source file, streamed and checkpointed in isolation.
type Shard struct {
	Name     string
	Path     string
	FormatID string
}

// Config contains pipeline orchestration configuration
type Config struct {
	WorkerCount        int           `yaml:"worker_count" mapstructure:"worker_count"`
	SinkBatchSize      int           `yaml:"sink_batch_size" mapstructure:"sink_batch_size"`
	CheckpointEvery    int           `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" mapstructure:"checkpoint_interval"`
	ProgressReport     int           `yaml:"progress_report" mapstructure:"progress_report"`
	DryRun             bool          `yaml:"dry_run" mapstructure:"dry_run"`
}

// RunResult summarizes one pipeline run across all shards.
type RunResult struct {
	RunID        string
	Reports      []*checkpoint.Report
	FailedShards int
	Duration     time.Duration
}
