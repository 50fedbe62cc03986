package scout

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nexuscore/core/internal/audit"
)

// EscalationManager delivers a high-urgency, escalating finding to every
// bound channel, best-effort: a channel that fails to deliver is audited
// but never blocks or cancels delivery to its siblings (spec §4.12).
type EscalationManager struct {
	auditor *audit.Logger

	mu    sync.RWMutex
	sinks []ChannelSink
}

// NewEscalationManager builds an EscalationManager. auditor may be nil
// in tests.
func NewEscalationManager(auditor *audit.Logger) *EscalationManager {
	return &EscalationManager{auditor: auditor}
}

// Register adds a channel sink to the escalation fan-out set.
func (m *EscalationManager) Register(sink ChannelSink) {
	if sink == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, sink)
	m.mu.Unlock()
}

// Escalate notifies every registered sink in parallel. It always
// returns nil: per-channel failures are audited, never propagated,
// since one channel being down must not stop the others or the caller.
func (m *EscalationManager) Escalate(ctx context.Context, f Finding) error {
	m.mu.RLock()
	sinks := make([]ChannelSink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.RUnlock()

	var g errgroup.Group
	for _, sink := range sinks {
		sink := sink
		g.Go(func() error {
			if err := sink.Notify(ctx, f); err != nil {
				m.auditFailure(sink.Name(), f, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

func (m *EscalationManager) auditFailure(channel string, f Finding, err error) {
	if m.auditor == nil {
		return
	}
	m.auditor.Log(audit.Entry{
		Category: "scout", Action: "escalation_failed", Severity: audit.SeverityWarn,
		Metadata: map[string]any{"scout": f.Scout, "channel": channel, "error": err.Error()},
	})
}
