package memory

import (
	"sync"
	"time"

	"github.com/nexuscore/core/internal/labels"
)

// WorkingMessage is one entry in a session's in-process working memory.
type WorkingMessage struct {
	Role      string
	Content   string
	Label     labels.Label
	System    bool
	CreatedAt time.Time
}

// WorkingMemory holds a single session's conversational scratch space. It
// is not durable: it lives for the process lifetime of the owning
// session, matching the orchestrator's session lifecycle.
type WorkingMemory struct {
	mu          sync.Mutex
	messages    []WorkingMessage
	maxMessages int
	maxTokens   int
	engine      *labels.Engine
}

// NewWorkingMemory builds a working-memory store evicting beyond
// maxMessages entries or an approximate maxTokens budget, whichever is
// hit first. A zero value disables that particular cap. engine may be
// nil to run FC-3 with no deployment-specific tightening.
func NewWorkingMemory(maxMessages, maxTokens int, engine *labels.Engine) *WorkingMemory {
	return &WorkingMemory{maxMessages: maxMessages, maxTokens: maxTokens, engine: engine}
}

// Append adds a message, running FC-3 (secret content must be redacted
// before entering working memory) and then evicting the oldest
// non-system entries until the store is back within its caps.
func (w *WorkingMemory) Append(msg WorkingMessage) labels.Decision {
	decision := labels.WorkingMemoryWriteCheck(msg.Label, w.engine)
	if decision.Allow != labels.AllowYes {
		return decision
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	w.messages = append(w.messages, msg)
	w.evictLocked()
	return decision
}

// Messages returns a copy of the current message list.
func (w *WorkingMemory) Messages() []WorkingMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]WorkingMessage, len(w.messages))
	copy(out, w.messages)
	return out
}

// CombinedLabel folds every message's label via labels.Combine, the
// session's aggregate trust/sensitivity (P-LABEL-COMBINE).
func (w *WorkingMemory) CombinedLabel() labels.Label {
	w.mu.Lock()
	defer w.mu.Unlock()
	ls := make([]labels.Label, len(w.messages))
	for i, m := range w.messages {
		ls[i] = m.Label
	}
	return labels.CombineAll(ls)
}

func (w *WorkingMemory) evictLocked() {
	if w.maxMessages > 0 {
		for w.countNonSystemLocked() > w.maxMessages {
			if !w.evictOldestNonSystemLocked() {
				break
			}
		}
	}
	if w.maxTokens > 0 {
		for w.approxTokensLocked() > w.maxTokens {
			if !w.evictOldestNonSystemLocked() {
				break
			}
		}
	}
}

func (w *WorkingMemory) countNonSystemLocked() int {
	n := 0
	for _, m := range w.messages {
		if !m.System {
			n++
		}
	}
	return n
}

// approxTokensLocked estimates token count as one token per four bytes
// of content, a coarse approximation sufficient for eviction timing.
func (w *WorkingMemory) approxTokensLocked() int {
	total := 0
	for _, m := range w.messages {
		total += len(m.Content)/4 + 1
	}
	return total
}

func (w *WorkingMemory) evictOldestNonSystemLocked() bool {
	for i, m := range w.messages {
		if m.System {
			continue
		}
		w.messages = append(w.messages[:i], w.messages[i+1:]...)
		return true
	}
	return false
}
