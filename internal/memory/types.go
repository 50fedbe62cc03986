// Package memory implements the three-tier memory facade (spec §4.8,
// C8): an in-process working store, a durable episodic vector store, and
// a durable semantic fact store, unified behind one Query surface that
// enforces visibility and user isolation on every read.
package memory

import (
	"time"

	"github.com/nexuscore/core/internal/labels"
)

// Visibility controls who may read an entry back.
type Visibility string

const (
	VisibilityOwner  Visibility = "owner"
	VisibilityFamily Visibility = "family"
	VisibilityAgent  Visibility = "agent"
)

// visibilityUser builds the `user:<id>` visibility value.
func visibilityUser(id string) Visibility {
	return Visibility("user:" + id)
}

// Category classifies a memory entry for default-visibility purposes.
type Category string

const (
	CategoryHealth    Category = "health"
	CategoryFinancial Category = "financial"
	CategoryFamily    Category = "family"
	CategoryOther     Category = "other"
)

// DefaultVisibility implements the category-driven default from spec
// §4.8: health/financial facts default to owner-only, family facts
// default to family-wide, a single-subject fact about someone other than
// the requester defaults to that subject's own visibility, and
// everything else defaults to owner.
func DefaultVisibility(cat Category, subjects []string, requesterID string) Visibility {
	switch cat {
	case CategoryHealth, CategoryFinancial:
		return VisibilityOwner
	case CategoryFamily:
		return VisibilityFamily
	}
	if len(subjects) == 1 && subjects[0] != "" && subjects[0] != requesterID {
		return visibilityUser(subjects[0])
	}
	return VisibilityOwner
}

// Visible reports whether an entry owned by ownerID with the given
// visibility may be returned to requesterID (I-M1).
func Visible(vis Visibility, ownerID, requesterID string) bool {
	if ownerID == requesterID {
		return true
	}
	switch vis {
	case VisibilityFamily, VisibilityAgent:
		return true
	}
	return vis == visibilityUser(requesterID)
}

// Entry is the common envelope every memory record carries (spec §3).
type Entry struct {
	ID             string         `json:"id"`
	Namespace      string         `json:"namespace"`
	UserID         string         `json:"userId"`
	Category       Category       `json:"category"`
	Content        string         `json:"content"`
	Label          labels.Label   `json:"label"`
	Visibility     Visibility     `json:"visibility"`
	CreatedBy      string         `json:"createdBy"`
	Subjects       []string       `json:"subjects,omitempty"`
	Confidence     float64        `json:"confidence,omitempty"`
	Source         string         `json:"source,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Request is a read query against any of the three stores (I-M1/I-M2).
type Request struct {
	RequesterID string
	UserID      string
	Query       string
	Category    Category
	Limit       int
}
