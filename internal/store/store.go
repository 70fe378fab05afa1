// Package store persists the knowledge index and the audit history of
// report runs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/market-study-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status         model.RunStatus `json:"status,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	Offset         int             `json:"offset,omitempty"`
}

// Store defines the persistence interface. Runs are written for history
// only; nothing reads them back to resume work.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, conversationID string, mission model.MissionParams) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, report *model.Report) error
	FailRun(ctx context.Context, runID string, message string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Knowledge index
	ListIndexedFiles(ctx context.Context) ([]model.IndexedFile, error)
	ReplaceFileChunks(ctx context.Context, file model.IndexedFile, chunks []model.Chunk) error
	DeleteIndexedFile(ctx context.Context, path string) error
	LoadChunks(ctx context.Context) ([]model.Chunk, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a store backend.
type Config struct {
	Driver      string
	DatabaseURL string
	Pool        *PoolConfig
}

// Open creates the store named by cfg.Driver ("sqlite" or "postgres").
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "market-study.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

const defaultListLimit = 100
