// ABOUTME: Root agent of the demo tree, fans work out and collects results
// ABOUTME: Publishes OrderCompleted on its own channel when the order is done

package demo

import (
	"context"
	"fmt"

	"github.com/aevatarAI/aevatar-station-sub002/internal/agent"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/registry"
)

// CoordinatorType is the agent type of coordinators.
const CoordinatorType = "coordinator"

// CoordinatorState tracks the current order.
type CoordinatorState struct {
	OrderID   string
	Expected  int
	Completed []string
	Failed    []string
}

// Done reports whether every expected task has reported.
func (s CoordinatorState) Done() bool {
	return s.Expected > 0 && len(s.Completed)+len(s.Failed) >= s.Expected
}

// Coordinator is the root of a task tree.
type Coordinator struct {
	*agent.Base[CoordinatorState]
}

// NewCoordinator builds a coordinator at coordinator/key.
func NewCoordinator(key string, opts agent.Options) (*Coordinator, error) {
	c := &Coordinator{}
	base, err := agent.NewBase(c, envelope.NewAddress(CoordinatorType, key), agent.Behavior[CoordinatorState]{
		Transition: coordinatorTransition,
	}, opts)
	if err != nil {
		return nil, err
	}
	c.Base = base
	return c, nil
}

func (c *Coordinator) RegisterHandlers(b *registry.Builder) {
	registry.OnEnvelope(b, "Fanout", (*Coordinator).Fanout)
	registry.On(b, "OnTaskCompleted", (*Coordinator).OnTaskCompleted)
	registry.OnResponse(b, "OnStatus", (*Coordinator).OnStatus)
}

// Fanout accepts work orders and forwards the envelope to every child.
func (c *Coordinator) Fanout(ctx context.Context, env *envelope.Envelope) error {
	order, ok := env.Payload.(*WorkOrder)
	if !ok {
		return nil
	}
	if err := c.RaiseEvent(ctx, &OrderAccepted{OrderID: order.OrderID, Tasks: len(order.Assignments)}); err != nil {
		return fmt.Errorf("accepting order %s: %w", order.OrderID, err)
	}
	return c.SendDownward(ctx, env)
}

func (c *Coordinator) OnTaskCompleted(ctx context.Context, ev *TaskCompleted) error {
	if ev.OrderID != c.State().OrderID {
		c.Logger().Warn("ignoring report for another order", "order_id", ev.OrderID, "worker", ev.Worker)
		return nil
	}

	if err := c.RaiseEvent(ctx, &TaskFinished{Worker: ev.Worker, Task: ev.Task, Failed: ev.Err != ""}); err != nil {
		return fmt.Errorf("recording task %s: %w", ev.Task, err)
	}

	state := c.State()
	if !state.Done() {
		return nil
	}
	c.Logger().Info("order completed",
		"order_id", state.OrderID,
		"completed", len(state.Completed),
		"failed", len(state.Failed),
	)
	_, err := c.Publish(ctx, &OrderCompleted{
		OrderID:   state.OrderID,
		Completed: state.Completed,
		Failed:    state.Failed,
	})
	return err
}

func (c *Coordinator) OnStatus(ctx context.Context, _ *StatusQuery) (*StatusReport, error) {
	state := c.State()
	return &StatusReport{
		OrderID:   state.OrderID,
		Expected:  state.Expected,
		Completed: state.Completed,
		Failed:    state.Failed,
		Version:   c.Version(),
	}, nil
}

func coordinatorTransition(s CoordinatorState, ev envelope.Event) CoordinatorState {
	switch e := ev.(type) {
	case *OrderAccepted:
		return CoordinatorState{OrderID: e.OrderID, Expected: e.Tasks}
	case *TaskFinished:
		if e.Failed {
			s.Failed = append(s.Failed, e.Task)
		} else {
			s.Completed = append(s.Completed, e.Task)
		}
	}
	return s
}
