package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/market-study-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	mission         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	report          TEXT,
	error           TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS index_files (
	path       TEXT PRIMARY KEY,
	hash       TEXT NOT NULL,
	chunks     INTEGER NOT NULL DEFAULT 0,
	indexed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS chunks (
	id        TEXT PRIMARY KEY,
	path      TEXT NOT NULL,
	source    TEXT NOT NULL,
	ordinal   INTEGER NOT NULL,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_conversation ON runs(conversation_id);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, conversationID string, mission model.MissionParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	missionJSON, err := json.Marshal(mission)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal mission")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, conversation_id, mission, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, conversationID, string(missionJSON), string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, report *model.Report) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		message, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, mission, status, report, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, conversation_id, mission, status, report, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ConversationID != "" {
		query += ` AND conversation_id = ?`
		args = append(args, filter.ConversationID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) ListIndexedFiles(ctx context.Context) ([]model.IndexedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, hash, chunks, indexed_at FROM index_files ORDER BY path`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indexed files")
	}
	defer rows.Close() //nolint:errcheck

	var files []model.IndexedFile
	for rows.Next() {
		var f model.IndexedFile
		if err := rows.Scan(&f.Path, &f.Hash, &f.Chunks, &f.IndexedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan indexed file")
		}
		files = append(files, f)
	}
	return files, eris.Wrap(rows.Err(), "sqlite: list indexed files iterate")
}

// ReplaceFileChunks swaps the chunks of one file and records its hash in a
// single transaction.
func (s *SQLiteStore) ReplaceFileChunks(ctx context.Context, file model.IndexedFile, chunks []model.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace chunks")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_files (path, hash, chunks, indexed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET hash = excluded.hash, chunks = excluded.chunks, indexed_at = excluded.indexed_at`,
		file.Path, file.Hash, file.Chunks, file.IndexedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: upsert index file %s", file.Path)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, file.Path); err != nil {
		return eris.Wrapf(err, "sqlite: delete chunks %s", file.Path)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, path, source, ordinal, text, embedding) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare chunk insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, file.Path, c.Source, c.Ordinal, c.Text, encodeVector(c.Embedding)); err != nil {
			return eris.Wrapf(err, "sqlite: insert chunk %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace chunks")
}

func (s *SQLiteStore) DeleteIndexedFile(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin delete index file")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return eris.Wrapf(err, "sqlite: delete chunks %s", path)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM index_files WHERE path = ?`, path); err != nil {
		return eris.Wrapf(err, "sqlite: delete index file %s", path)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit delete index file")
}

func (s *SQLiteStore) LoadChunks(ctx context.Context) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, source, ordinal, text, embedding FROM chunks ORDER BY path, ordinal`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load chunks")
	}
	defer rows.Close() //nolint:errcheck

	var chunks []model.Chunk
	for rows.Next() {
		var c model.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Path, &c.Source, &c.Ordinal, &c.Text, &blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		if c.Embedding, err = decodeVector(blob); err != nil {
			return nil, eris.Wrapf(err, "sqlite: chunk %s", c.ID)
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: load chunks iterate")
}

// helpers

func checkRowsAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var missionJSON string
	var reportJSON, errText sql.NullString

	err := row.Scan(&r.ID, &r.ConversationID, &missionJSON, &r.Status, &reportJSON, &errText, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(missionJSON), &r.Mission); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal mission")
	}
	if reportJSON.Valid {
		r.Report = &model.Report{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	r.Error = errText.String
	return &r, nil
}
