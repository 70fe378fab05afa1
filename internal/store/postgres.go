package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-study-cli/internal/db"
	"github.com/sells-group/market-study-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run":    `INSERT INTO runs (id, conversation_id, mission, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"complete_run":  `UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"fail_run":      `UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":       `SELECT id, conversation_id, mission, status, report, error, created_at, updated_at FROM runs WHERE id = $1`,
	"list_files":    `SELECT path, hash, chunks, indexed_at FROM index_files ORDER BY path`,
	"load_chunks":   `SELECT id, path, source, ordinal, text, embedding FROM chunks ORDER BY path, ordinal`,
	"delete_file":   `DELETE FROM index_files WHERE path = $1`,
	"delete_chunks": `DELETE FROM chunks WHERE path = $1`,
}

var chunkColumns = []string{"id", "path", "source", "ordinal", "text", "embedding"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Close does not close it.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	conversation_id TEXT NOT NULL,
	mission         JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	report          JSONB,
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS index_files (
	path       TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	chunks     INTEGER NOT NULL DEFAULT 0,
	indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id        TEXT PRIMARY KEY,
	path      TEXT NOT NULL REFERENCES index_files(path) ON DELETE CASCADE,
	source    TEXT NOT NULL,
	ordinal   INTEGER NOT NULL,
	text      TEXT NOT NULL,
	embedding BYTEA NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool when this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, conversationID string, mission model.MissionParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	missionJSON, err := json.Marshal(mission)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal mission")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, conversation_id, mission, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, conversationID, missionJSON, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:             id,
		ConversationID: conversationID,
		Mission:        mission,
		Status:         model.RunStatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, report *model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		message, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, conversation_id, mission, status, report, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, conversation_id, mission, status, report, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.ConversationID != "" {
		query += fmt.Sprintf(` AND conversation_id = $%d`, argIdx)
		args = append(args, filter.ConversationID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var missionJSON []byte
	var reportJSON *[]byte
	var errText *string

	if err := row.Scan(&r.ID, &r.ConversationID, &missionJSON, &r.Status, &reportJSON, &errText, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(missionJSON, &r.Mission); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal mission")
	}
	if reportJSON != nil {
		r.Report = &model.Report{}
		if err := json.Unmarshal(*reportJSON, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	if errText != nil {
		r.Error = *errText
	}
	return &r, nil
}

func (s *PostgresStore) ListIndexedFiles(ctx context.Context) ([]model.IndexedFile, error) {
	rows, err := s.pool.Query(ctx, `SELECT path, hash, chunks, indexed_at FROM index_files ORDER BY path`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indexed files")
	}
	defer rows.Close()

	var files []model.IndexedFile
	for rows.Next() {
		var f model.IndexedFile
		if err := rows.Scan(&f.Path, &f.Hash, &f.Chunks, &f.IndexedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan indexed file")
		}
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "postgres: list indexed files iterate")
}

// ReplaceFileChunks upserts the file hash, drops its old chunks and copies
// the new ones in one transaction.
func (s *PostgresStore) ReplaceFileChunks(ctx context.Context, file model.IndexedFile, chunks []model.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace chunks")
	}

	if err := replaceChunks(ctx, tx, file, chunks); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace chunks")
}

func replaceChunks(ctx context.Context, tx pgx.Tx, file model.IndexedFile, chunks []model.Chunk) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO index_files (path, hash, chunks, indexed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path) DO UPDATE SET hash = EXCLUDED.hash, chunks = EXCLUDED.chunks, indexed_at = EXCLUDED.indexed_at`,
		file.Path, file.Hash, file.Chunks, file.IndexedAt,
	); err != nil {
		return eris.Wrapf(err, "postgres: upsert index file %s", file.Path)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE path = $1`, file.Path); err != nil {
		return eris.Wrapf(err, "postgres: delete chunks %s", file.Path)
	}

	rows := make([][]any, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, []any{c.ID, file.Path, c.Source, c.Ordinal, c.Text, encodeVector(c.Embedding)})
	}
	if _, err := db.CopyFrom(ctx, tx, "chunks", chunkColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy chunks %s", file.Path)
	}
	return nil
}

func (s *PostgresStore) DeleteIndexedFile(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM index_files WHERE path = $1`, path)
	return eris.Wrapf(err, "postgres: delete index file %s", path)
}

func (s *PostgresStore) LoadChunks(ctx context.Context) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, path, source, ordinal, text, embedding FROM chunks ORDER BY path, ordinal`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load chunks")
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.Ordinal, &c.Text, &blob); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		if c.Embedding, err = decodeVector(blob); err != nil {
			return nil, eris.Wrapf(err, "postgres: chunk %s", c.ID)
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: load chunks iterate")
}
