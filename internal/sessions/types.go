// Package sessions implements the per-session append-only message log
// (spec §4.9, C9): one JSONL file per session, writer-side redaction via
// the secret detector, and state/sort/offset/limit listing.
package sessions

import "time"

// State is a session's lifecycle stage.
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Totals accumulates a session's usage for cost reporting.
type Totals struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Session is the metadata header stored as a session file's first line.
type Session struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	State            State     `json:"state"`
	Model            string    `json:"model"`
	WorkDir          string    `json:"workDir"`
	GrantedApprovals []string  `json:"grantedApprovals,omitempty"`
	Totals           Totals    `json:"totals"`
}

// Message is one append-only conversation entry.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Redacted  bool      `json:"redacted,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// SortField selects the List ordering column.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortUpdatedAt SortField = "updatedAt"
)

// ListFilter configures Store.List.
type ListFilter struct {
	State  State
	Sort   SortField
	Offset int
	Limit  int
}

// line is the tagged-union record written to a session's JSONL file: the
// first line in every file is a metadata record, every line after it is
// a message record.
type line struct {
	Type    string   `json:"type"`
	Session *Session `json:"session,omitempty"`
	Message *Message `json:"message,omitempty"`
}
