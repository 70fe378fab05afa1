package model

import "time"

// RunStatus represents the lifecycle state of a recorded report run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the audit record of one report generation. It is written for
// history only and never used to resume work.
type Run struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Mission        MissionParams `json:"mission"`
	Status         RunStatus     `json:"status"`
	Report         *Report       `json:"report,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IndexedFile tracks the content hash of a document in the knowledge index.
type IndexedFile struct {
	Path      string    `json:"path"`
	Hash      string    `json:"hash"`
	Chunks    int       `json:"chunks"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Chunk is one embedded slice of an indexed document.
type Chunk struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Source    string    `json:"source"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}
