package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/procintel/sinoscan/internal/checkpoint"
	"github.com/procintel/sinoscan/internal/config"
	"github.com/procintel/sinoscan/internal/logger"
	"github.com/procintel/sinoscan/internal/pattern"
	"github.com/procintel/sinoscan/internal/pipeline"
	"github.com/procintel/sinoscan/internal/rules"
	"github.com/procintel/sinoscan/internal/schema"
	"github.com/procintel/sinoscan/internal/sink"
	"github.com/procintel/sinoscan/internal/status"
)

func main() {
	var (
		configPath   = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputPath    = flag.String("input", "", "Input shard file or directory")
		formatID     = flag.String("format", schema.FormatUSASpending305, "Source format id for the input shards")
		workers      = flag.Int("workers", 0, "Worker count override (one worker per shard)")
		batchSize    = flag.Int("batch-size", 0, "Sink batch size override")
		ckptEvery    = flag.Int("checkpoint-every", 0, "Checkpoint record interval override")
		ckptInterval = flag.Duration("checkpoint-interval", 0, "Checkpoint wall-clock interval override")
		resumeRun    = flag.String("resume", "", "Resume a previous run by id from its checkpoints")
		validateOnly = flag.Bool("validate-only", false, "Only load and validate patterns and rules, then exit")
		dryRun       = flag.Bool("dry-run", false, "Full pipeline without sink writes")
		showStats    = flag.Bool("stats", false, "Show sink statistics and exit")
	)
	flag.Parse()

	if *inputPath == "" && !*showStats && !*validateOnly {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input shards/ --format usaspending_305 --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input ted_2025_12.xml.gz --format ted_xml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input shards/ --resume 6f1c0c1e-...\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *workers, *batchSize, *ckptEvery, *ckptInterval)

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sinoscan detection engine",
		zap.String("version", "0.3.0"),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, checkpointing and stopping...")
		cancel()
	}()

	// Pattern library and false-positive rules are all-or-nothing: a
	// malformed or ambiguous set refuses to run.
	patterns, err := pattern.Load(log.WithComponent("pattern").Logger, cfg.Detection.PatternFiles...)
	if err != nil {
		log.Fatal("Pattern load failed", zap.Error(err))
	}

	policies := map[string]bool{
		"hong_kong": cfg.Detection.TreatHongKongAsExcluded,
	}
	ruleSet, err := rules.Load(log.WithComponent("rules").Logger, policies, cfg.Detection.RuleFiles...)
	if err != nil {
		log.Fatal("Rule load failed", zap.Error(err))
	}

	if *validateOnly {
		log.Info("Pattern and rule sets are valid",
			zap.Int("patterns", patterns.Len()),
			zap.Int("rules", ruleSet.Len()))
		return
	}

	registry := schema.NewRegistry()
	for id, format := range cfg.Formats {
		registry.Register(id, format.Columns, schema.ColumnMap(format.ColumnMap))
	}

	// Initialize stores
	services, err := initializeServices(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	if *showStats {
		if err := showSinkStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	shards, err := pipeline.DiscoverShards(*inputPath, *formatID)
	if err != nil {
		log.Fatal("Shard discovery failed", zap.Error(err))
	}

	pipeConfig := &pipeline.Config{
		WorkerCount:        cfg.Pipeline.WorkerCount,
		SinkBatchSize:      cfg.Sink.BatchSize,
		CheckpointEvery:    cfg.Pipeline.CheckpointEvery,
		CheckpointInterval: cfg.Pipeline.CheckpointInterval,
		ProgressReport:     cfg.Pipeline.ProgressReport,
		DryRun:             *dryRun,
	}

	pipe := pipeline.New(registry, patterns, ruleSet, services.sink, services.checkpoints, pipeConfig, log, *resumeRun)

	if cfg.Status.Enabled {
		statusServer := status.New(&status.Config{
			Enabled:      cfg.Status.Enabled,
			Port:         cfg.Status.Port,
			ReadTimeout:  cfg.Status.ReadTimeout,
			WriteTimeout: cfg.Status.WriteTimeout,
		}, pipe.RunID(), pipe.Snapshot, log.WithComponent("status").Logger)
		statusServer.Start()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			statusServer.Stop(shutdownCtx)
		}()
	}

	result, err := pipe.Run(ctx, shards)
	if err != nil {
		log.Fatal("Run failed", zap.Error(err))
	}

	printRunSummary(result)
	if result.FailedShards > 0 {
		os.Exit(1)
	}
}

// services holds all initialized stores
type services struct {
	sink        *sink.Store
	checkpoints checkpoint.Store
}

func (s *services) cleanup() {
	if s.sink != nil {
		s.sink.Close()
	}
	if s.checkpoints != nil {
		s.checkpoints.Close()
	}
}

// initializeServices initializes the sink and checkpoint stores
func initializeServices(cfg *config.Config, log *logger.Logger) (*services, error) {
	services := &services{}

	log.Info("Initializing detection sink...")
	sinkStore, err := sink.NewStore(&sink.Config{
		DatabaseURL:     cfg.Sink.DatabaseURL,
		MaxOpenConns:    cfg.Sink.MaxOpenConns,
		MaxIdleConns:    cfg.Sink.MaxIdleConns,
		ConnMaxLifetime: cfg.Sink.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Sink.ConnMaxIdleTime,
		MaxRetries:      cfg.Sink.MaxRetries,
		RetryDelay:      cfg.Sink.RetryDelay,
		WritesPerSecond: cfg.Sink.WritesPerSecond,
	}, log.WithComponent("sink").Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sink: %w", err)
	}
	services.sink = sinkStore

	log.Info("Initializing checkpoint store...")
	checkpointStore, err := checkpoint.NewRedisStore(&checkpoint.Config{
		RedisURL:       cfg.Checkpoint.RedisURL,
		MaxConnections: cfg.Checkpoint.MaxConnections,
		MinIdleConns:   cfg.Checkpoint.MinIdleConns,
		TTL:            cfg.Checkpoint.TTL,
	}, log.WithComponent("checkpoint").Logger)
	if err != nil {
		services.cleanup()
		return nil, fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}
	services.checkpoints = checkpointStore

	return services, nil
}

func applyOverrides(cfg *config.Config, workers, batchSize, ckptEvery int, ckptInterval time.Duration) {
	if workers > 0 {
		cfg.Pipeline.WorkerCount = workers
	}
	if batchSize > 0 {
		cfg.Sink.BatchSize = batchSize
	}
	if ckptEvery > 0 {
		cfg.Pipeline.CheckpointEvery = ckptEvery
	}
	if ckptInterval > 0 {
		cfg.Pipeline.CheckpointInterval = ckptInterval
	}
}

// showSinkStats displays current sink statistics
func showSinkStats(ctx context.Context, services *services) error {
	counts, err := services.sink.TierCounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get sink stats: %w", err)
	}

	var total int64
	for _, count := range counts {
		total += count
	}

	fmt.Printf("\n=== Detection Sink Statistics ===\n")
	fmt.Printf("Total Detections:   %d\n", total)
	fmt.Printf("TIER_1 Detections:  %d\n", counts["TIER_1"])
	fmt.Printf("TIER_2 Detections:  %d\n", counts["TIER_2"])

	return nil
}

func printRunSummary(result *pipeline.RunResult) {
	fmt.Printf("\n=== Run %s ===\n", result.RunID)
	for _, report := range result.Reports {
		fmt.Printf("%-40s %-10s records=%d emitted=%d skipped=%d suppressed=%d last_offset=%d",
			report.Shard, report.State, report.Records, report.Emitted,
			report.Skipped, report.Suppressed, report.LastOffset)
		if report.Resumable {
			fmt.Printf(" (resumable)")
		}
		if report.Error != "" {
			fmt.Printf(" error=%s", report.Error)
		}
		fmt.Println()
	}
	fmt.Printf("Duration: %s  Failed shards: %d\n", result.Duration, result.FailedShards)
}
