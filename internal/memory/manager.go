package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/labels"
	"github.com/nexuscore/core/internal/secrets"
)

// Config configures the memory facade. CustomRules lets a deployment
// narrow FC-2/FC-3 beyond the hard-coded defaults via labels.Engine; it
// can only make a write stricter, never looser.
type Config struct {
	EpisodicPath       string
	SemanticPath       string
	EmbeddingGenerator string
	EmbeddingAPIKey    string
	EpisodicMaxEntries int
	WorkingMaxMessages int
	WorkingMaxTokens   int
	MinSimilarity      float32
	CustomRules        []labels.CustomRule
}

// DefaultConfig returns sane defaults for a single-node deployment.
func DefaultConfig() Config {
	return Config{
		EpisodicPath:       "./memory-episodic.db",
		SemanticPath:       "./memory-semantic.db",
		EmbeddingGenerator: "local:384",
		EpisodicMaxEntries: 5000,
		WorkingMaxMessages: 50,
		WorkingMaxTokens:   8000,
		MinSimilarity:      0.3,
	}
}

// Manager is the single facade over working, episodic, and semantic
// memory (spec §4.8, C8).
type Manager struct {
	cfg      Config
	episodic *EpisodicStore
	semantic *SemanticStore
	engine   *labels.Engine

	mu      sync.Mutex
	working map[string]*WorkingMemory
}

// NewManager wires the three tiers together, compiling cfg.CustomRules
// (if any) into the FC-2/FC-3 tightening engine shared by the semantic
// store and every session's working memory.
func NewManager(cfg Config, auditor *audit.Logger) (*Manager, error) {
	embedder, err := NewEmbedder(cfg.EmbeddingGenerator, cfg.EmbeddingAPIKey)
	if err != nil {
		return nil, fmt.Errorf("memory: new manager: %w", err)
	}
	episodic, err := NewEpisodicStore(cfg.EpisodicPath, embedder, secrets.NewDetector(), cfg.EpisodicMaxEntries)
	if err != nil {
		return nil, err
	}

	var engine *labels.Engine
	if len(cfg.CustomRules) > 0 {
		engine, err = labels.NewEngine()
		if err != nil {
			episodic.Close()
			return nil, fmt.Errorf("memory: new manager: %w", err)
		}
		for _, r := range cfg.CustomRules {
			if err := engine.AddRule(r); err != nil {
				episodic.Close()
				return nil, fmt.Errorf("memory: new manager: %w", err)
			}
		}
	}

	semantic, err := NewSemanticStore(cfg.SemanticPath, auditor, engine)
	if err != nil {
		episodic.Close()
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		episodic: episodic,
		semantic: semantic,
		engine:   engine,
		working:  make(map[string]*WorkingMemory),
	}, nil
}

// Working returns (creating if needed) the working-memory store for a
// session.
func (m *Manager) Working(sessionID string) *WorkingMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.working[sessionID]
	if !ok {
		w = NewWorkingMemory(m.cfg.WorkingMaxMessages, m.cfg.WorkingMaxTokens, m.engine)
		m.working[sessionID] = w
	}
	return w
}

// DropWorking discards a session's working memory once it ends.
func (m *Manager) DropWorking(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.working, sessionID)
}

// Episodic exposes the episodic store for direct Add/Search calls.
func (m *Manager) Episodic() *EpisodicStore { return m.episodic }

// Semantic exposes the semantic store for direct Add/Query calls.
func (m *Manager) Semantic() *SemanticStore { return m.semantic }

// Query answers a combined read across episodic and semantic memory,
// applying the visibility filter to every candidate entry (I-M1) and
// rejecting requests without both a requester and a target user (I-M2).
func (m *Manager) Query(ctx context.Context, req Request) ([]Entry, error) {
	if req.RequesterID == "" {
		return nil, fmt.Errorf("memory: query requires a non-empty requesterId (I-M1)")
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("memory: query requires a non-empty userId (I-M2)")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}

	var entries []Entry

	episodicResults, err := m.episodic.Search(ctx, req.Query, req.RequesterID, req.UserID, limit, m.cfg.MinSimilarity)
	if err != nil {
		return nil, err
	}
	for _, r := range episodicResults {
		entries = append(entries, r.Entry.Entry)
	}

	facts, err := m.semantic.Query(ctx, req.RequesterID, req.UserID, "", limit)
	if err != nil {
		return nil, err
	}
	for _, f := range facts {
		entries = append(entries, f.Entry)
	}

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Close releases the durable stores' resources.
func (m *Manager) Close() error {
	if err := m.episodic.Close(); err != nil {
		return err
	}
	return m.semantic.Close()
}
