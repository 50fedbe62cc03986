package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/labels"
)

// FactType classifies a semantic fact (spec §3).
type FactType string

const (
	FactPreference  FactType = "preference"
	FactEntity      FactType = "entity"
	FactRelationship FactType = "relationship"
	FactInstruction FactType = "instruction"
)

// ErrConfirmationRequired is returned when a semantic write needs the
// caller to set UserConfirmed before it will proceed (FC-2).
var ErrConfirmationRequired = errors.New("memory: semantic write requires user confirmation")

// SemanticWriteRequest is a candidate (subject, predicate, object) fact.
type SemanticWriteRequest struct {
	UserID        string
	FactType      FactType
	Subject       string
	Predicate     string
	Object        string
	Confidence    float64
	Source        string
	Label         labels.Label
	UserConfirmed bool
	AuthorizedBy  string
	CreatedBy     string
}

// SemanticFact is a durable structured memory triple.
type SemanticFact struct {
	Entry
	FactType  FactType
	Subject   string
	Predicate string
	Object    string
}

// SemanticStore is the durable structured-fact tier (spec §4.8). Writes
// are gated by FC-2: untrusted content is rejected unless the caller
// explicitly confirms it, in which case the label is promoted to `user`
// and the promotion is audited (I-SEM1).
type SemanticStore struct {
	db      *sql.DB
	auditor *audit.Logger
	engine  *labels.Engine
}

// NewSemanticStore opens (or creates) the semantic-fact table at path.
// engine may be nil to run FC-2 with no deployment-specific tightening.
func NewSemanticStore(path string, auditor *audit.Logger, engine *labels.Engine) (*SemanticStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open semantic store: %w", err)
	}
	s := &SemanticStore{db: db, auditor: auditor, engine: engine}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SemanticStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS semantic_facts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			predicate TEXT NOT NULL,
			object TEXT NOT NULL,
			confidence REAL,
			source TEXT,
			trust_level INTEGER,
			created_by TEXT,
			created_at DATETIME NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("memory: create semantic table: %w", err)
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_semantic_user ON semantic_facts(user_id, subject)`)
	return err
}

// Add writes a semantic fact, applying FC-2. If the label's trust level
// doesn't already allow the write and the caller hasn't set
// UserConfirmed, ErrConfirmationRequired is returned (wrapping the flow
// decision's reason) without touching storage.
func (s *SemanticStore) Add(ctx context.Context, req SemanticWriteRequest) (SemanticFact, error) {
	if req.UserID == "" {
		return SemanticFact{}, fmt.Errorf("memory: semantic add requires a non-empty userId (I-M2)")
	}

	decision := labels.SemanticWriteCheck(req.Label, s.engine)
	label := req.Label

	if decision.Allow != labels.AllowYes {
		if !req.UserConfirmed {
			return SemanticFact{}, fmt.Errorf("%w: %s", ErrConfirmationRequired, decision.Reason)
		}
		if label.TrustLevel == labels.Untrusted {
			promoted := labels.Promote(label, labels.User, "user_confirmed_semantic_write", req.AuthorizedBy)
			s.auditPromotion(req, promoted)
			label = promoted
		}
	}

	fact := SemanticFact{
		Entry: Entry{
			ID:         uuid.New().String(),
			UserID:     req.UserID,
			Category:   CategoryOther,
			Content:    req.Subject + " " + req.Predicate + " " + req.Object,
			Label:      label,
			Visibility: DefaultVisibility(CategoryOther, []string{req.Subject}, req.UserID),
			CreatedBy:  req.CreatedBy,
			Confidence: req.Confidence,
			Source:     req.Source,
			CreatedAt:  time.Now(),
		},
		FactType:  req.FactType,
		Subject:   req.Subject,
		Predicate: req.Predicate,
		Object:    req.Object,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO semantic_facts
			(id, user_id, fact_type, subject, predicate, object, confidence, source, trust_level, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.UserID, string(fact.FactType), fact.Subject, fact.Predicate, fact.Object,
		fact.Confidence, fact.Source, int(label.TrustLevel), fact.CreatedBy, fact.CreatedAt,
	)
	if err != nil {
		return SemanticFact{}, fmt.Errorf("memory: insert semantic fact: %w", err)
	}
	return fact, nil
}

// Query returns facts about subject visible to requesterID, scoped to
// userID (I-M1/I-M2).
func (s *SemanticStore) Query(ctx context.Context, requesterID, userID, subject string, limit int) ([]SemanticFact, error) {
	if userID == "" {
		return nil, fmt.Errorf("memory: semantic query requires a non-empty userId (I-M2)")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, user_id, fact_type, subject, predicate, object, confidence, source, trust_level, created_by, created_at
		FROM semantic_facts WHERE user_id = ?`
	args := []any{userID}
	if subject != "" {
		query += " AND subject = ?"
		args = append(args, subject)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query semantic facts: %w", err)
	}
	defer rows.Close()

	var facts []SemanticFact
	for rows.Next() {
		f, err := scanSemantic(rows)
		if err != nil {
			return nil, err
		}
		if !Visible(f.Visibility, f.UserID, requesterID) {
			continue
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Close releases the underlying database handle.
func (s *SemanticStore) Close() error { return s.db.Close() }

func (s *SemanticStore) auditPromotion(req SemanticWriteRequest, promoted labels.Label) {
	if s.auditor == nil {
		return
	}
	s.auditor.Log(audit.Entry{
		Category: "memory",
		Action:   "semantic_memory_write_confirmed",
		Severity: audit.SeverityWarn,
		Metadata: map[string]any{
			"originalLevel":  promoted.Promotion.OriginalTrustLevel.String(),
			"promotedLevel":  promoted.Promotion.PromotedTo.String(),
			"reason":         promoted.Promotion.Reason,
			"authorizedBy":   promoted.Promotion.AuthorizedBy,
			"factSubject":    req.Subject,
			"factPredicate":  req.Predicate,
		},
	})
}

func scanSemantic(rows *sql.Rows) (SemanticFact, error) {
	var f SemanticFact
	var factType, createdBy string
	var trustLevel int
	err := rows.Scan(&f.ID, &f.UserID, &factType, &f.Subject, &f.Predicate, &f.Object,
		&f.Confidence, &f.Source, &trustLevel, &createdBy, &f.CreatedAt)
	if err != nil {
		return f, fmt.Errorf("memory: scan semantic row: %w", err)
	}
	f.FactType = FactType(factType)
	f.CreatedBy = createdBy
	f.Label = labels.Label{TrustLevel: labels.TrustLevel(trustLevel)}
	f.Visibility = DefaultVisibility(CategoryOther, []string{f.Subject}, f.UserID)
	f.Content = f.Subject + " " + f.Predicate + " " + f.Object
	return f, nil
}
