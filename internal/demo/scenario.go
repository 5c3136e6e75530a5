// ABOUTME: Wires a coordinator, workers and an auditor on a host and runs one order
// ABOUTME: An outside caller collects the status response and any handler faults

package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
	"github.com/aevatarAI/aevatar-station-sub002/internal/runtime"
)

// Caller is the address the scenario sends from.
var Caller = envelope.NewAddress("caller", "cli")

// Scenario describes one order run.
type Scenario struct {
	Key    string   // coordinator and auditor key
	Tasks  []string // one worker per task
	Prefix string   // worker result prefix
}

// Report is what the caller observed.
type Report struct {
	OrderID string
	Status  *StatusReport
	Faults  []*envelope.HandlerException
	Audit   AuditState
}

// Run activates the tree for s on host, sends one WorkOrder and waits until
// the order is audited and the caller holds the status and every fault.
func Run(ctx context.Context, host *runtime.Host, s Scenario, logger *slog.Logger) (*Report, error) {
	if len(s.Tasks) == 0 {
		return nil, errors.New("scenario has no tasks")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "demo")

	opts := host.Options()
	audited := make(chan AuditState, 16)
	auditor, err := NewAuditor(s.Key, opts, func(ctx context.Context, version int64, state AuditState) error {
		select {
		case audited <- state:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	coordinator, err := NewCoordinator(s.Key, opts)
	if err != nil {
		return nil, err
	}

	if err := host.Activate(ctx, coordinator); err != nil {
		return nil, err
	}
	if err := host.Activate(ctx, auditor); err != nil {
		return nil, err
	}
	if err := auditor.Watch(ctx, coordinator.Address().Channel()); err != nil {
		return nil, err
	}

	order := &WorkOrder{OrderID: uuid.NewString(), Assignments: make(map[string]string, len(s.Tasks))}
	for i, task := range s.Tasks {
		worker, err := NewWorker(fmt.Sprintf("%s-%d", s.Key, i), opts)
		if err != nil {
			return nil, err
		}
		if err := host.Activate(ctx, worker); err != nil {
			return nil, err
		}
		if err := worker.Configure(ctx, &WorkerConfig{Prefix: s.Prefix}); err != nil {
			return nil, err
		}
		if err := coordinator.Register(ctx, worker.Address()); err != nil {
			return nil, err
		}
		order.Assignments[worker.Address().Key] = task
	}

	statuses := make(chan *StatusReport, 1)
	faults := make(chan *envelope.HandlerException, len(s.Tasks))
	inbox, err := opts.Transport.Subscribe(ctx, Caller.Channel(), func(ctx context.Context, env *envelope.Envelope) error {
		switch msg := env.Payload.(type) {
		case *StatusReport:
			statuses <- msg
		case *envelope.HandlerException:
			faults <- msg
		default:
			logger.Debug("caller ignoring envelope", "shape", env.Shape())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing caller: %w", err)
	}
	defer opts.Transport.Unsubscribe(context.WithoutCancel(ctx), inbox)

	correlation := uuid.New()
	if err := opts.Transport.Send(ctx, coordinator.Address().Channel(), envelope.New(order, Caller, Caller, correlation)); err != nil {
		return nil, fmt.Errorf("sending order: %w", err)
	}
	logger.Info("order sent",
		"order_id", order.OrderID,
		"workers", len(s.Tasks),
		"correlation_id", correlation,
	)

	report := &Report{OrderID: order.OrderID}
	for {
		select {
		case audit := <-audited:
			if audit.Last != order.OrderID {
				continue
			}
			report.Audit = audit
			if err := opts.Transport.Send(ctx, coordinator.Address().Channel(), envelope.New(&StatusQuery{}, Caller, Caller, correlation)); err != nil {
				return nil, fmt.Errorf("querying status: %w", err)
			}
		case status := <-statuses:
			report.Status = status
		case fault := <-faults:
			report.Faults = append(report.Faults, fault)
		case <-ctx.Done():
			return report, fmt.Errorf("waiting for order %s: %w", order.OrderID, ctx.Err())
		}

		if report.Status != nil && len(report.Faults) >= len(report.Status.Failed) {
			return report, nil
		}
	}
}
