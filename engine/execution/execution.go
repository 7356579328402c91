package execution

import (
	"time"
)

// Status represents the lifecycle state of an execution.
// Transitions are monotonic: pending -> running -> {completed|failed|cancelled}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a terminal state
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// rank orders statuses along the allowed lattice for monotonic checks
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// NodeStatus is the outcome of one node attempt
type NodeStatus string

const (
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
	NodeCancelled NodeStatus = "cancelled"
)

// Execution is the durable record of a single flow run
type Execution struct {
	ID         string                 `json:"id"`
	FlowID     string                 `json:"flow_id"`
	OwnerID    string                 `json:"owner_id"`
	Trigger    map[string]interface{} `json:"trigger,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Status     Status                 `json:"status"`
	Error      string                 `json:"error,omitempty"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Records    []NodeRecord           `json:"node_records"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// NodeRecord captures one node attempt. A node may appear multiple times
// (retries, loop iterations).
type NodeRecord struct {
	NodeID     string      `json:"node_id"`
	NodeType   string      `json:"node_type"`
	Status     NodeStatus  `json:"status"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  string      `json:"error_kind,omitempty"`
	Attempt    int         `json:"attempt"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}
