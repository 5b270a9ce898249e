package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/procintel/sinoscan/internal/checkpoint"
)

// Config contains status endpoint configuration
type Config struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// SnapshotFunc supplies the current per-shard reports. Read-only: the
// status surface observes a run, it never controls one.
type SnapshotFunc func() []*checkpoint.Report

// Server exposes run progress over HTTP for operators watching a long run.
type Server struct {
	config   *Config
	runID    string
	snapshot SnapshotFunc
	router   *mux.Router
	server   *http.Server
	logger   *zap.Logger
}

// New creates a status server instance
func New(cfg *Config, runID string, snapshot SnapshotFunc, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:   cfg,
		runID:    runID,
		snapshot: snapshot,
		router:   router,
		logger:   logger,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/progress", s.handleProgress).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() {
	s.logger.Info("Starting status endpoint", zap.Int("port", s.config.Port))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Status endpoint failed", zap.Error(err))
		}
	}()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping status endpoint")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleProgress returns the per-shard state machine snapshot.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	reports := s.snapshot()

	var completed, failed int
	for _, report := range reports {
		switch report.State {
		case checkpoint.StateCompleted:
			completed++
		case checkpoint.StateFailed:
			failed++
		}
	}

	payload := struct {
		RunID     string               `json:"run_id"`
		Shards    int                  `json:"shards"`
		Completed int                  `json:"completed"`
		Failed    int                  `json:"failed"`
		Reports   []*checkpoint.Report `json:"reports"`
	}{
		RunID:     s.runID,
		Shards:    len(reports),
		Completed: completed,
		Failed:    failed,
		Reports:   reports,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("Failed to encode progress payload", zap.Error(err))
	}
}
