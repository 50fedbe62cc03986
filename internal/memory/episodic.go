package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo

	"github.com/nexuscore/core/internal/labels"
	"github.com/nexuscore/core/internal/secrets"
)

// EpisodicAddRequest is a single turn's candidate for episodic storage.
type EpisodicAddRequest struct {
	UserID       string
	SessionID    string
	TurnNumber   int
	Content      string
	Participants []string
	Category     Category
	CreatedBy    string
}

// EpisodicEntry is a durable, embedded conversational memory.
type EpisodicEntry struct {
	Entry
	SessionID    string
	TurnNumber   int
	Participants []string
	Embedding    []float32
}

// EpisodicResult pairs an entry with its similarity score.
type EpisodicResult struct {
	Entry EpisodicEntry
	Score float32
}

// EpisodicStore is the durable vector-backed episodic memory tier (spec
// §4.8). It brute-force scans a user's rows and ranks by cosine
// similarity; at the scale of one user's conversation history this beats
// standing up a real vector index.
type EpisodicStore struct {
	db         *sql.DB
	embedder   Embedder
	detector   *secrets.Detector
	maxEntries int
}

// NewEpisodicStore opens (or creates) the episodic table at path. Use
// ":memory:" for ephemeral/test stores. maxEntries bounds how many rows
// are retained per user; 0 disables the cap.
func NewEpisodicStore(path string, embedder Embedder, detector *secrets.Detector, maxEntries int) (*EpisodicStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open episodic store: %w", err)
	}
	s := &EpisodicStore{db: db, embedder: embedder, detector: detector, maxEntries: maxEntries}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EpisodicStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS episodic_memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT,
			turn_number INTEGER,
			content TEXT NOT NULL,
			participants TEXT,
			category TEXT,
			created_by TEXT,
			redacted INTEGER NOT NULL DEFAULT 0,
			embedding TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("memory: create episodic table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_episodic_user ON episodic_memories(user_id, created_at)`)
	return err
}

// Add stores one episodic entry, passing content through the secret
// detector first (I-E1): any finding causes the redacted text to be
// stored with metadata.redacted = true instead of rejecting the write.
func (s *EpisodicStore) Add(ctx context.Context, req EpisodicAddRequest) (EpisodicEntry, error) {
	if req.UserID == "" {
		return EpisodicEntry{}, fmt.Errorf("memory: episodic add requires a non-empty userId (I-M2)")
	}

	redactResult := s.detector.Redact(req.Content)
	content := req.Content
	redacted := false
	if len(redactResult.Findings) > 0 {
		content = redactResult.Redacted
		redacted = true
	}

	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return EpisodicEntry{}, fmt.Errorf("memory: embed episodic content: %w", err)
	}

	entry := EpisodicEntry{
		Entry: Entry{
			ID:         uuid.New().String(),
			UserID:     req.UserID,
			Category:   req.Category,
			Content:    content,
			CreatedBy:  req.CreatedBy,
			Visibility: DefaultVisibility(req.Category, req.Participants, req.UserID),
			CreatedAt:  time.Now(),
			Metadata:   map[string]any{"redacted": redacted},
		},
		SessionID:    req.SessionID,
		TurnNumber:   req.TurnNumber,
		Participants: req.Participants,
		Embedding:    embedding,
	}

	participantsJSON, _ := json.Marshal(entry.Participants)
	embeddingJSON, _ := json.Marshal(entry.Embedding)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodic_memories
			(id, user_id, session_id, turn_number, content, participants, category, created_by, redacted, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.SessionID, entry.TurnNumber, entry.Content,
		string(participantsJSON), string(entry.Category), entry.CreatedBy, boolToInt(redacted),
		string(embeddingJSON), entry.CreatedAt,
	)
	if err != nil {
		return EpisodicEntry{}, fmt.Errorf("memory: insert episodic entry: %w", err)
	}

	if s.maxEntries > 0 {
		if err := s.evict(ctx, req.UserID); err != nil {
			return EpisodicEntry{}, err
		}
	}

	return entry, nil
}

// Search finds entries for userID whose content is semantically close to
// query, filtered by a similarity floor and the requester's visibility
// (I-M1). A non-empty userID is mandatory (I-M2/P-ISOLATION): this never
// returns an entry belonging to any user but the one asked about.
func (s *EpisodicStore) Search(ctx context.Context, query, requesterID, userID string, limit int, minSimilarity float32) ([]EpisodicResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("memory: episodic search requires a non-empty userId (I-M2)")
	}
	if limit <= 0 {
		limit = 10
	}

	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, turn_number, content, participants, category, created_by, redacted, embedding, created_at
		FROM episodic_memories WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("memory: query episodic memories: %w", err)
	}
	defer rows.Close()

	var results []EpisodicResult
	for rows.Next() {
		entry, err := scanEpisodic(rows)
		if err != nil {
			return nil, err
		}
		if !Visible(entry.Visibility, entry.UserID, requesterID) {
			continue
		}
		score := cosineSimilarity(queryEmbedding, entry.Embedding)
		if score < minSimilarity {
			continue
		}
		results = append(results, EpisodicResult{Entry: entry, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes episodic entries by id.
func (s *EpisodicStore) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM episodic_memories WHERE id = ?`, id); err != nil {
			return fmt.Errorf("memory: delete episodic entry %s: %w", id, err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *EpisodicStore) Close() error { return s.db.Close() }

// evict drops the oldest rows for userID beyond maxEntries.
func (s *EpisodicStore) evict(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM episodic_memories
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM episodic_memories WHERE user_id = ? ORDER BY created_at DESC LIMIT ?
		)`, userID, userID, s.maxEntries)
	if err != nil {
		return fmt.Errorf("memory: evict episodic entries: %w", err)
	}
	return nil
}

func scanEpisodic(rows *sql.Rows) (EpisodicEntry, error) {
	var e EpisodicEntry
	var sessionID, participantsJSON, category, createdBy, embeddingJSON sql.NullString
	var redactedInt int
	err := rows.Scan(&e.ID, &e.UserID, &sessionID, &e.TurnNumber, &e.Content,
		&participantsJSON, &category, &createdBy, &redactedInt, &embeddingJSON, &e.CreatedAt)
	if err != nil {
		return e, fmt.Errorf("memory: scan episodic row: %w", err)
	}
	e.SessionID = sessionID.String
	e.Category = Category(category.String)
	e.CreatedBy = createdBy.String
	e.Metadata = map[string]any{"redacted": redactedInt != 0}
	if participantsJSON.Valid {
		_ = json.Unmarshal([]byte(participantsJSON.String), &e.Participants)
	}
	if embeddingJSON.Valid {
		_ = json.Unmarshal([]byte(embeddingJSON.String), &e.Embedding)
	}
	e.Visibility = DefaultVisibility(e.Category, e.Participants, e.UserID)
	e.Label = labels.New(labels.User, labels.Internal, "episodic")
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrtApprox(normA) * sqrtApprox(normB))
}
