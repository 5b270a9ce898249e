package checkpoint

import (
	"context"
	"time"
)

// ShardState is the per-shard state machine. Normal flow is
// pending -> streaming -> completed; an I/O failure mid-shard moves to
// failed with Resumable set, and resumption re-enters streaming at the last
// committed offset.
type ShardState string

const (
	StatePending   ShardState = "pending"
	StateStreaming ShardState = "streaming"
	StateCompleted ShardState = "completed"
	StateFailed    ShardState = "failed"
)

// NoOffset is returned by Last when a shard has no committed checkpoint yet.
const NoOffset int64 = -1

// Report is the per-shard progress/failure report persisted alongside the
// offset checkpoint and exposed by the status endpoint.
type Report struct {
	Shard      string     `json:"shard"`
	State      ShardState `json:"state"`
	LastOffset int64      `json:"last_offset"`
	Records    int64      `json:"records"`
	Emitted    int64      `json:"emitted"`
	Skipped    int64      `json:"skipped"`
	Suppressed int64      `json:"suppressed"`
	Resumable  bool       `json:"resumable"`
	Error      string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Store is the checkpoint contract the pipeline depends on. The Redis
// implementation is production; tests substitute an in-memory one.
type Store interface {
	// Commit durably records the offset of the last record whose covering
	// sink batch succeeded.
	Commit(ctx context.Context, runID, shard string, offset int64) error

	// Last returns the committed offset for a shard, or NoOffset.
	Last(ctx context.Context, runID, shard string) (int64, error)

	// SetReport persists the shard report.
	SetReport(ctx context.Context, runID string, report *Report) error

	// Reports returns all shard reports for a run.
	Reports(ctx context.Context, runID string) ([]*Report, error)

	Close() error
}
