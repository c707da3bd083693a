package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SagaStatus is the lifecycle state of a SagaRun.
type SagaStatus string

const (
	SagaStatusRunning            SagaStatus = "running"
	SagaStatusAwaitingApproval   SagaStatus = "awaiting_approval"
	SagaStatusCompleted          SagaStatus = "completed"
	SagaStatusFailed             SagaStatus = "failed"
	SagaStatusCompensating       SagaStatus = "compensating"
	SagaStatusCompensated        SagaStatus = "compensated"
	SagaStatusCompensationFailed SagaStatus = "compensation_failed"
	SagaStatusTimedOut           SagaStatus = "timed_out"
)

// IsTerminal reports whether the status can no longer change.
func (s SagaStatus) IsTerminal() bool {
	switch s {
	case SagaStatusCompleted, SagaStatusFailed, SagaStatusCompensated,
		SagaStatusCompensationFailed, SagaStatusTimedOut:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s SagaStatus) Valid() bool {
	switch s {
	case SagaStatusRunning, SagaStatusAwaitingApproval, SagaStatusCompensating:
		return true
	}
	return s.IsTerminal()
}

// StepKind distinguishes automatic steps from human approval gates.
type StepKind string

const (
	StepKindNormal   StepKind = "normal"
	StepKindApproval StepKind = "approval"
)

// ApprovalTimeoutAction is applied when an approval is not resolved in time.
type ApprovalTimeoutAction string

const (
	ApprovalTimeoutEscalate ApprovalTimeoutAction = "escalate"
	ApprovalTimeoutReject   ApprovalTimeoutAction = "reject"
)

// SagaContext is the accumulated key/value state of a run.
type SagaContext map[string]any

// Merge returns a new context with partial shallow-merged over sc.
func (sc SagaContext) Merge(partial SagaContext) SagaContext {
	out := make(SagaContext, len(sc)+len(partial))
	for k, v := range sc {
		out[k] = v
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// String returns the value at key when it is a string.
func (sc SagaContext) String(key string) string {
	s, _ := sc[key].(string)
	return s
}

// StepFunc executes a step and returns the partial context to merge.
type StepFunc func(ctx context.Context, sc SagaContext, trigger DomainEvent) (SagaContext, error)

// CompensateFunc undoes the effect of a completed step.
type CompensateFunc func(ctx context.Context, sc SagaContext) error

// Step is one unit of a saga. A nil Compensate marks the step forward-only.
// For approval steps Execute is optional and runs when the gate opens.
type Step struct {
	Name                  string
	Kind                  StepKind
	Execute               StepFunc
	Compensate            CompensateFunc
	ApprovalTimeout       time.Duration
	ApprovalTimeoutAction ApprovalTimeoutAction
}

// SagaDefinition is the static description of a multi-step transaction.
type SagaDefinition struct {
	Name         string
	TriggerEvent string
	Timeout      time.Duration
	Steps        []Step
}

// StepStatus is the outcome recorded for a step in a run's history.
type StepStatus string

const (
	StepStatusCompleted          StepStatus = "completed"
	StepStatusFailed             StepStatus = "failed"
	StepStatusAwaitingApproval   StepStatus = "awaiting_approval"
	StepStatusApproved           StepStatus = "approved"
	StepStatusRejected           StepStatus = "rejected"
	StepStatusEscalated          StepStatus = "escalated"
	StepStatusCompensated        StepStatus = "compensated"
	StepStatusCompensationFailed StepStatus = "compensation_failed"
	StepStatusSkipped            StepStatus = "skipped"
)

// StepRecord is one entry of a run's append-only step history.
type StepRecord struct {
	Step      string     `json:"step"`
	Index     int        `json:"index"`
	Status    StepStatus `json:"status"`
	Actor     string     `json:"actor,omitempty"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SagaRun is a mutable instance of a SagaDefinition.
type SagaRun struct {
	ID               uuid.UUID    `json:"id"`
	SagaName         string       `json:"saga_name"`
	TenantID         string       `json:"tenant_id"`
	TriggerEventID   string       `json:"trigger_event_id"`
	Trigger          DomainEvent  `json:"trigger"`
	Status           SagaStatus   `json:"status"`
	CurrentStepIndex int          `json:"current_step_index"`
	Context          SagaContext  `json:"context"`
	StartedAt        time.Time    `json:"started_at"`
	Deadline         time.Time    `json:"deadline"`
	ApprovalDeadline *time.Time   `json:"approval_deadline,omitempty"`
	Escalated        bool         `json:"escalated"`
	Error            string       `json:"error,omitempty"`
	StepHistory      []StepRecord `json:"step_history"`
	UpdatedAt        time.Time    `json:"updated_at"`
	FinishedAt       *time.Time   `json:"finished_at,omitempty"`
}

// Record appends a history entry.
func (r *SagaRun) Record(rec StepRecord) {
	r.StepHistory = append(r.StepHistory, rec)
}

// CompletedSteps returns the indexes of steps whose forward action finished,
// in execution order.
func (r *SagaRun) CompletedSteps() []int {
	var out []int
	seen := make(map[int]bool)
	for _, rec := range r.StepHistory {
		if rec.Status != StepStatusCompleted && rec.Status != StepStatusApproved {
			continue
		}
		if !seen[rec.Index] {
			seen[rec.Index] = true
			out = append(out, rec.Index)
		}
	}
	return out
}

// Compensated reports whether step index already has a compensation record.
func (r *SagaRun) Compensated(index int) bool {
	for _, rec := range r.StepHistory {
		if rec.Index == index && rec.Status == StepStatusCompensated {
			return true
		}
	}
	return false
}

// Snapshot returns a copy safe to hand to callers outside the step loop.
func (r *SagaRun) Snapshot() *SagaRun {
	cp := *r
	cp.Context = SagaContext(Payload(r.Context).Clone())
	cp.StepHistory = append([]StepRecord(nil), r.StepHistory...)
	return &cp
}
