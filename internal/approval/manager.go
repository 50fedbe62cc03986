package approval

import (
	"context"
	"sync"
	"time"

	"github.com/nexuscore/core/internal/audit"
)

// Prompter dispatches a request to whatever channel is bound to this
// session (an interactive CLI prompt, or a chat-channel element) and
// returns the human's decision or an error if dispatch itself failed.
type Prompter interface {
	RequestApproval(ctx context.Context, req Request) (Decision, error)
}

const defaultDeadline = 60 * time.Second

// Manager implements request/grant/deny/timeout with per-session dedup.
type Manager struct {
	mu       sync.Mutex
	grants   map[string]map[string]Grant // sessionID -> canonical id -> grant
	inflight map[string]chan Decision    // sessionID+":"+id -> waiters

	prompter Prompter
	auditor  *audit.Logger
}

// NewManager builds a Manager. auditor may be nil in tests.
func NewManager(prompter Prompter, auditor *audit.Logger) *Manager {
	return &Manager{
		grants:   make(map[string]map[string]Grant),
		inflight: make(map[string]chan Decision),
		prompter: prompter,
		auditor:  auditor,
	}
}

// Request resolves req.ID, reusing an existing session grant when present
// (P-APPROVAL-DEDUP), otherwise dispatching to the bound channel and
// blocking until a decision or the deadline passes.
func (m *Manager) Request(ctx context.Context, req Request) (Decision, error) {
	key := req.SessionID + ":" + req.ID

	m.mu.Lock()
	if g, ok := m.grants[req.SessionID][req.ID]; ok {
		m.mu.Unlock()
		return g.Decision, nil
	}
	if ch, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		select {
		case d := <-ch:
			return d, nil
		case <-ctx.Done():
			return Timeout, ctx.Err()
		}
	}

	ch := make(chan Decision, 1)
	m.inflight[key] = ch
	m.mu.Unlock()

	m.audit("approval_requested", req, "")

	deadline := req.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	decision, err := m.dispatch(reqCtx, req)

	m.mu.Lock()
	delete(m.inflight, key)
	if decision == Granted {
		if m.grants[req.SessionID] == nil {
			m.grants[req.SessionID] = make(map[string]Grant)
		}
		// `always` grants are one-shot by construction: the caller mints a
		// fresh id per call, so there is nothing useful to cache here.
		if req.Level != LevelAlways {
			m.grants[req.SessionID][req.ID] = Grant{
				ID:            req.ID,
				Decision:      Granted,
				SessionScoped: true,
				GrantedAt:     time.Now(),
			}
		}
	}
	m.mu.Unlock()

	select {
	case ch <- decision:
	default:
	}

	switch decision {
	case Granted:
		m.audit("approval_granted", req, "")
	case Timeout:
		m.audit("approval_timeout", req, "")
	default:
		m.audit("approval_denied", req, "")
	}

	return decision, err
}

func (m *Manager) dispatch(ctx context.Context, req Request) (Decision, error) {
	if m.prompter == nil {
		return Timeout, nil
	}
	type outcome struct {
		d   Decision
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := m.prompter.RequestApproval(ctx, req)
		done <- outcome{d, err}
	}()

	select {
	case o := <-done:
		return o.d, o.err
	case <-ctx.Done():
		return Timeout, nil
	}
}

// audit emits an approval event. Payloads never include tool output or
// file contents — just identifying fields (spec §4.7).
func (m *Manager) audit(action string, req Request, extra string) {
	if m.auditor == nil {
		return
	}
	meta := map[string]any{
		"approvalId": req.ID,
		"tool":       req.Tool,
		"action":     req.Action,
		"level":      string(req.Level),
	}
	if extra != "" {
		meta["note"] = extra
	}
	m.auditor.Log(audit.Entry{
		Category: "approval",
		Action:   action,
		Severity: audit.SeverityInfo,
		Metadata: meta,
	})
}
