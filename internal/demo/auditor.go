// ABOUTME: Agent that audits completed orders through a broadcast subscription
// ABOUTME: The subscription is persisted so a restarted auditor resumes it

package demo

import (
	"context"
	"fmt"

	"github.com/aevatarAI/aevatar-station-sub002/internal/agent"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// AuditorType is the agent type of auditors.
const AuditorType = "auditor"

// AuditState counts audited orders.
type AuditState struct {
	Orders   int
	Tasks    int
	Failures int
	Last     string
}

// Auditor records every OrderCompleted seen on a watched channel.
type Auditor struct {
	*agent.Base[AuditState]
}

// NewAuditor builds an auditor at auditor/key. onChange, when set, receives
// each new state version.
func NewAuditor(key string, opts agent.Options, onChange func(ctx context.Context, version int64, state AuditState) error) (*Auditor, error) {
	a := &Auditor{}
	base, err := agent.NewBase(a, envelope.NewAddress(AuditorType, key), agent.Behavior[AuditState]{
		Transition: func(s AuditState, ev envelope.Event) AuditState {
			if e, ok := ev.(*OrderAudited); ok {
				s.Orders++
				s.Tasks += e.Tasks
				s.Failures += e.Failed
				s.Last = e.OrderID
			}
			return s
		},
		OnStateChanged: onChange,
	}, opts)
	if err != nil {
		return nil, err
	}
	a.Base = base
	return a, nil
}

// Watch subscribes the auditor to OrderCompleted on channel.
func (a *Auditor) Watch(ctx context.Context, channel string) error {
	subs := a.Broadcasts()
	if err := subs.BeginBatch(ctx); err != nil {
		return fmt.Errorf("watching %s: %w", channel, err)
	}
	if _, err := agent.Listen(ctx, a.Core, channel, a.onOrderCompleted); err != nil {
		return fmt.Errorf("watching %s: %w", channel, err)
	}
	if _, err := subs.CommitBatch(ctx); err != nil {
		return fmt.Errorf("watching %s: %w", channel, err)
	}
	return nil
}

func (a *Auditor) onOrderCompleted(ctx context.Context, ev *OrderCompleted) error {
	return a.RaiseEvent(ctx, &OrderAudited{
		OrderID: ev.OrderID,
		Tasks:   len(ev.Completed) + len(ev.Failed),
		Failed:  len(ev.Failed),
	})
}
