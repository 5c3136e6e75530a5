// ABOUTME: Messages and domain events exchanged by the demo task tree
// ABOUTME: Names are registered so the events survive the persisted log

package demo

import (
	"github.com/aevatarAI/aevatar-station-sub002/internal/envelope"
)

// WorkOrder assigns one task to each worker key.
type WorkOrder struct {
	envelope.Meta
	OrderID     string
	Assignments map[string]string
}

// TaskCompleted is published by a worker to its parent.
type TaskCompleted struct {
	envelope.Meta
	OrderID string
	Worker  string
	Task    string
	Result  string
	Err     string
}

// OrderCompleted is published by the coordinator once every task reported.
type OrderCompleted struct {
	envelope.Meta
	OrderID   string
	Completed []string
	Failed    []string
}

// StatusQuery asks the coordinator for a StatusReport.
type StatusQuery struct {
	envelope.Meta
}

// StatusReport answers a StatusQuery.
type StatusReport struct {
	envelope.Meta
	OrderID   string
	Expected  int
	Completed []string
	Failed    []string
	Version   int64
}

// WorkerConfig configures a worker.
type WorkerConfig struct {
	envelope.Meta
	Prefix string
}

// Domain events

type OrderAccepted struct {
	envelope.Meta
	OrderID string
	Tasks   int
}

type TaskFinished struct {
	envelope.Meta
	Worker string
	Task   string
	Failed bool
}

type TaskProcessed struct {
	envelope.Meta
	Task   string
	Result string
}

type OrderAudited struct {
	envelope.Meta
	OrderID string
	Tasks   int
	Failed  int
}

func init() {
	envelope.RegisterName("demo.WorkOrder", &WorkOrder{})
	envelope.RegisterName("demo.TaskCompleted", &TaskCompleted{})
	envelope.RegisterName("demo.OrderCompleted", &OrderCompleted{})
	envelope.RegisterName("demo.StatusQuery", &StatusQuery{})
	envelope.RegisterName("demo.StatusReport", &StatusReport{})
	envelope.RegisterName("demo.WorkerConfig", &WorkerConfig{})
	envelope.RegisterName("demo.OrderAccepted", &OrderAccepted{})
	envelope.RegisterName("demo.TaskFinished", &TaskFinished{})
	envelope.RegisterName("demo.TaskProcessed", &TaskProcessed{})
	envelope.RegisterName("demo.OrderAudited", &OrderAudited{})
}
