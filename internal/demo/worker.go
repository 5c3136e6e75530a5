// ABOUTME: Leaf agent of the demo tree, processes its assigned task
// ABOUTME: Reports results upward and fails tasks named with a fail prefix

package demo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aevatarAI/aevatar-station-sub002/internal/agent"
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/registry"
)

// WorkerType is the agent type of workers.
const WorkerType = "worker"

// WorkerState lists processed tasks.
type WorkerState struct {
	Processed []string
}

// Worker processes the task assigned to its key.
type Worker struct {
	*agent.Base[WorkerState]

	// set by Configure, read inside turns
	prefix string
}

// NewWorker builds a worker at worker/key.
func NewWorker(key string, opts agent.Options) (*Worker, error) {
	w := &Worker{}
	base, err := agent.NewBase(w, envelope.NewAddress(WorkerType, key), agent.Behavior[WorkerState]{
		Transition: func(s WorkerState, ev envelope.Event) WorkerState {
			if e, ok := ev.(*TaskProcessed); ok {
				s.Processed = append(s.Processed, e.Result)
			}
			return s
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	w.Base = base
	return w, nil
}

func (w *Worker) RegisterHandlers(b *registry.Builder) {
	registry.On(b, "OnWorkOrder", (*Worker).OnWorkOrder)
	registry.OnConfig(b, "Setup", (*Worker).Setup)
}

func (w *Worker) Setup(ctx context.Context, cfg *WorkerConfig) error {
	w.prefix = cfg.Prefix
	return nil
}

// OnWorkOrder processes this worker's task from the order, if any.
func (w *Worker) OnWorkOrder(ctx context.Context, order *WorkOrder) error {
	key := w.Address().Key
	task, ok := order.Assignments[key]
	if !ok {
		return nil
	}

	report := &TaskCompleted{OrderID: order.OrderID, Worker: key, Task: task}
	var taskErr error
	if strings.HasPrefix(task, "fail") {
		taskErr = fmt.Errorf("task %q refused by %s", task, key)
		report.Err = taskErr.Error()
	} else {
		report.Result = w.prefix + strings.ToUpper(task)
		if err := w.RaiseEvent(ctx, &TaskProcessed{Task: task, Result: report.Result}); err != nil {
			return fmt.Errorf("recording task %s: %w", task, err)
		}
	}

	if _, err := w.Publish(ctx, report); err != nil {
		return err
	}
	return taskErr
}
