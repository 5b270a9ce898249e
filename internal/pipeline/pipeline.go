package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/procintel/sinoscan/internal/checkpoint"
	"github.com/procintel/sinoscan/internal/classify"
	"github.com/procintel/sinoscan/internal/logger"
	"github.com/procintel/sinoscan/internal/match"
	"github.com/procintel/sinoscan/internal/pattern"
	"github.com/procintel/sinoscan/internal/rules"
	"github.com/procintel/sinoscan/internal/schema"
	"github.com/procintel/sinoscan/internal/sink"
)

// Pipeline runs the Adapter -> Matcher -> Filter -> Classifier -> Writer
// chain over shards. PatternSet and RuleSet are loaded once and shared
// read-only across workers; everything mutable is shard-local.
type Pipeline struct {
	registry    *schema.Registry
	patterns    *pattern.Set
	rules       *rules.RuleSet
	sink        sink.Writer
	checkpoints checkpoint.Store
	config      *Config
	logger      *logger.Logger
	runID       string

	mu      sync.RWMutex
	reports map[string]*checkpoint.Report
}

// New creates a pipeline for one run. A fresh run gets a new run id; pass
// resumeRunID to continue a checkpointed run instead.
func New(
	registry *schema.Registry,
	patterns *pattern.Set,
	ruleSet *rules.RuleSet,
	sinkWriter sink.Writer,
	checkpoints checkpoint.Store,
	config *Config,
	log *logger.Logger,
	resumeRunID string,
) *Pipeline {
	runID := resumeRunID
	if runID == "" {
		runID = uuid.NewString()
	}

	return &Pipeline{
		registry:    registry,
		patterns:    patterns,
		rules:       ruleSet,
		sink:        sinkWriter,
		checkpoints: checkpoints,
		config:      config,
		logger:      log.WithRun(runID),
		runID:       runID,
		reports:     make(map[string]*checkpoint.Report),
	}
}

// RunID returns the run identifier stamped on every sink row.
func (p *Pipeline) RunID() string { return p.runID }

// Snapshot returns a copy of the current per-shard reports, for the status
// endpoint.
func (p *Pipeline) Snapshot() []*checkpoint.Report {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reports := make([]*checkpoint.Report, 0, len(p.reports))
	for _, r := range p.reports {
		clone := *r
		reports = append(reports, &clone)
	}
	return reports
}

// Run processes all shards with a fixed-size worker pool, one worker per
// shard. A failed shard does not stop the others; the run result reports
// every shard's final state.
func (p *Pipeline) Run(ctx context.Context, shards []Shard) (*RunResult, error) {
	start := time.Now()

	p.logger.Info("Starting detection run",
		zap.Int("shards", len(shards)),
		zap.Int("workers", p.config.WorkerCount),
		zap.Int("patterns", p.patterns.Len()),
		zap.Int("rules", p.rules.Len()),
		zap.Bool("dry_run", p.config.DryRun))

	for _, shard := range shards {
		p.setReport(&checkpoint.Report{Shard: shard.Name, State: checkpoint.StatePending, LastOffset: checkpoint.NoOffset})
	}

	var group errgroup.Group
	group.SetLimit(p.config.WorkerCount)

	for _, shard := range shards {
		shard := shard
		group.Go(func() error {
			// Shard failures are recorded in the report, not propagated:
			// sibling shards keep streaming.
			p.processShard(ctx, shard)
			return nil
		})
	}
	_ = group.Wait()

	result := &RunResult{
		RunID:    p.runID,
		Reports:  p.Snapshot(),
		Duration: time.Since(start),
	}
	for _, report := range result.Reports {
		if report.State == checkpoint.StateFailed {
			result.FailedShards++
		}
	}

	p.logger.Info("Detection run finished",
		zap.Int("shards", len(shards)),
		zap.Int("failed_shards", result.FailedShards),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// shardRun is the mutable per-shard processing state.
type shardRun struct {
	shard  Shard
	report *checkpoint.Report
	log    *logger.Logger

	pending       []*classify.DetectionResult
	durableOffset int64 // last offset whose emissions are durably upserted
	readOffset    int64 // last offset read from the source

	sinceCheckpoint int
	lastCheckpoint  time.Time
}

func (p *Pipeline) processShard(ctx context.Context, shard Shard) {
	log := p.logger.WithShard(shard.Name)

	report := &checkpoint.Report{Shard: shard.Name, State: checkpoint.StatePending, LastOffset: checkpoint.NoOffset}

	resume, err := p.checkpoints.Last(ctx, p.runID, shard.Name)
	if err != nil {
		log.Error("Failed to read checkpoint", zap.Error(err))
		p.failShard(ctx, &shardRun{shard: shard, report: report, log: log}, err)
		return
	}

	run := &shardRun{
		shard:          shard,
		report:         report,
		log:            log,
		durableOffset:  resume,
		readOffset:     resume,
		lastCheckpoint: time.Now(),
	}
	run.report.State = checkpoint.StateStreaming
	run.report.LastOffset = resume
	p.setReport(run.report)

	if resume > checkpoint.NoOffset {
		log.Info("Resuming shard from checkpoint", zap.Int64("offset", resume))
	}

	source, err := openSource(shard, p.registry)
	if err != nil {
		log.Error("Failed to open shard", zap.Error(err))
		p.failShard(ctx, run, err)
		return
	}
	defer source.Close()

	for {
		select {
		case <-ctx.Done():
			// Flush what we can, checkpoint, and leave the shard resumable.
			if err := p.flush(ctx, run); err == nil {
				p.commit(run)
			}
			p.failShard(ctx, run, ctx.Err())
			return
		default:
		}

		offset, record, err := source.Next()
		if err != nil {
			var schemaErr *schema.SchemaError
			switch {
			case errors.Is(err, io.EOF):
				p.finishShard(ctx, run)
				return
			case errors.As(err, &schemaErr):
				if offset <= run.durableOffset {
					continue // already accounted for before the checkpoint
				}
				// Malformed row: skip, count, keep streaming.
				run.report.Skipped++
				run.readOffset = offset
				log.Debug("Record skipped", zap.Int64("offset", offset), zap.String("reason", schemaErr.Reason))
				continue
			default:
				log.Error("Shard read failed", zap.Int64("offset", run.readOffset), zap.Error(err))
				p.failShard(ctx, run, err)
				return
			}
		}

		// Resumption: records at or before the committed checkpoint were
		// already durably emitted in a previous attempt.
		if offset <= run.durableOffset {
			continue
		}
		run.readOffset = offset
		run.report.Records++
		run.sinceCheckpoint++

		p.processRecord(run, record)

		if len(run.pending) >= p.config.SinkBatchSize {
			if err := p.flush(ctx, run); err != nil {
				p.failShard(ctx, run, err)
				return
			}
		}

		if run.sinceCheckpoint >= p.config.CheckpointEvery ||
			time.Since(run.lastCheckpoint) >= p.config.CheckpointInterval {
			if err := p.flush(ctx, run); err != nil {
				p.failShard(ctx, run, err)
				return
			}
			p.commit(run)
		}

		if p.config.ProgressReport > 0 && run.report.Records%int64(p.config.ProgressReport) == 0 {
			log.Info("Shard progress",
				zap.Int64("records", run.report.Records),
				zap.Int64("emitted", run.report.Emitted),
				zap.Int64("skipped", run.report.Skipped),
				zap.Int64("offset", run.readOffset))
		}
	}
}

// processRecord runs the pure classification stages for one record.
func (p *Pipeline) processRecord(run *shardRun, record *schema.CandidateRecord) {
	matches := match.FindMatches(record, p.patterns)
	if len(matches) == 0 {
		return
	}

	survivors, suppressions := rules.Filter(matches, record, p.rules)
	run.report.Suppressed += int64(len(suppressions))

	result := classify.Classify(record, survivors, suppressions)
	if result == nil {
		// Tier NONE: not persisted, sink volume stays bounded to positives.
		return
	}

	run.pending = append(run.pending, result)
	run.report.Emitted++
}

// flush upserts pending results. After a successful flush every record read
// so far is durable, so the checkpoint may advance to readOffset.
func (p *Pipeline) flush(ctx context.Context, run *shardRun) error {
	if len(run.pending) > 0 && !p.config.DryRun {
		if _, err := p.sink.WriteBatch(ctx, p.runID, run.pending); err != nil {
			run.log.Error("Sink batch failed", zap.Int("batch", len(run.pending)), zap.Error(err))
			return err
		}
	}
	run.pending = run.pending[:0]
	run.durableOffset = run.readOffset
	return nil
}

// commit persists the durable offset and refreshes the shard report.
func (p *Pipeline) commit(run *shardRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.checkpoints.Commit(ctx, p.runID, run.shard.Name, run.durableOffset); err != nil {
		// A missed checkpoint only costs replay distance; the upsert key
		// keeps the replay idempotent.
		run.log.Warn("Checkpoint commit failed", zap.Error(err))
	}
	run.sinceCheckpoint = 0
	run.lastCheckpoint = time.Now()

	run.report.LastOffset = run.durableOffset
	p.setReport(run.report)
	if err := p.checkpoints.SetReport(ctx, p.runID, run.report); err != nil {
		run.log.Warn("Report persist failed", zap.Error(err))
	}
}

func (p *Pipeline) finishShard(ctx context.Context, run *shardRun) {
	if err := p.flush(ctx, run); err != nil {
		p.failShard(ctx, run, err)
		return
	}

	run.report.State = checkpoint.StateCompleted
	run.report.Resumable = false
	run.report.Error = ""
	p.commit(run)

	run.log.Info("Shard completed",
		zap.Int64("records", run.report.Records),
		zap.Int64("emitted", run.report.Emitted),
		zap.Int64("skipped", run.report.Skipped),
		zap.Int64("suppressed", run.report.Suppressed))
}

func (p *Pipeline) failShard(ctx context.Context, run *shardRun, cause error) {
	run.report.State = checkpoint.StateFailed
	run.report.Resumable = true
	if cause != nil {
		run.report.Error = cause.Error()
	}
	p.commit(run)

	run.log.Error("Shard failed, resumable from checkpoint",
		zap.Int64("last_offset", run.report.LastOffset),
		zap.Int64("records", run.report.Records),
		zap.Int64("skipped", run.report.Skipped),
		zap.Error(cause))
}

// setReport publishes an immutable snapshot of a shard report. Workers keep
// mutating their own copy; readers only ever see published clones.
func (p *Pipeline) setReport(report *checkpoint.Report) {
	clone := *report
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reports[report.Shard] = &clone
}
