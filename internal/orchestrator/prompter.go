package orchestrator

import (
	"context"

	"github.com/nexuscore/core/internal/approval"
	"github.com/nexuscore/core/internal/channel"
)

// sessionPrompter bridges approval.Manager's synchronous Request call to
// the orchestrator's outbound channel.Outbound stream: it emits
// approval_required and blocks until a matching approval_response
// inbound event resolves it, or the request's deadline expires.
type sessionPrompter struct {
	o *Orchestrator
}

var _ approval.Prompter = (*sessionPrompter)(nil)

func (p *sessionPrompter) RequestApproval(ctx context.Context, req approval.Request) (approval.Decision, error) {
	o := p.o
	ch := make(chan approval.Decision, 1)

	o.mu.Lock()
	o.approvalWaiters[req.ID] = ch
	o.state = StateWaitingApproval
	o.mu.Unlock()

	o.emit(channel.Outbound{
		Type:        channel.OutboundApprovalRequired,
		ApprovalID:  req.ID,
		Tool:        req.Tool,
		Action:      req.Action,
		Target:      req.Target,
		Reason:      req.Reason,
		IsDangerous: req.Level == approval.LevelAlways,
	})

	defer func() {
		o.mu.Lock()
		if o.state == StateWaitingApproval {
			o.state = StateExecutingTool
		}
		o.mu.Unlock()
	}()

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		o.mu.Lock()
		delete(o.approvalWaiters, req.ID)
		o.mu.Unlock()
		return approval.Timeout, ctx.Err()
	}
}

// resolveApproval delivers an inbound approval_response to whichever
// RequestApproval call is waiting on it, if any; a response with no
// matching waiter (already timed out, or unknown id) is a no-op.
func (o *Orchestrator) resolveApproval(ev channel.Inbound) {
	o.mu.Lock()
	ch, ok := o.approvalWaiters[ev.ApprovalID]
	if ok {
		delete(o.approvalWaiters, ev.ApprovalID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	decision := approval.Denied
	if ev.Granted {
		decision = approval.Granted
	}
	select {
	case ch <- decision:
	default:
	}
}
