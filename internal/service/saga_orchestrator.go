package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/eventbus"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// Lifecycle event types published by the orchestrator.
const (
	EventSagaStarted            = "saga.started"
	EventSagaCompleted          = "saga.completed"
	EventSagaCompensated        = "saga.compensated"
	EventSagaCompensationFailed = "saga.compensation_failed"
	EventSagaTimedOut           = "saga.timed_out"
	EventSagaFailed             = "saga.failed"
	EventApprovalRequested      = "saga.approval.requested"
	EventApprovalEscalated      = "saga.approval.escalated"
)

// ReservedSagaNamespace cannot be used as a saga trigger.
const ReservedSagaNamespace = "saga."

// System actors recorded in step history.
const (
	ActorSystemTimeout = "system:timeout"
	ActorSystemRecover = "system:recover"
)

// Orchestrator defaults.
const (
	DefaultSagaTimeout       = 24 * time.Hour
	DefaultSweepInterval     = 5 * time.Second
	DefaultApprovalTimeout   = 48 * time.Hour
	lifecycleSource          = "saga-orchestrator"
	triggerSubscriberPrefix  = "saga:"
	interruptedByRestartText = "interrupted before completion"
)

var (
	errSagaTimeout = errors.New("saga deadline exceeded")
	errSagaAborted = errors.New("saga aborted")
)

// SagaOrchestratorConfig tunes the orchestrator.
type SagaOrchestratorConfig struct {
	DefaultTimeout time.Duration
	SweepInterval  time.Duration
}

// SagaOrchestrator runs saga definitions triggered by domain events. Each
// run is driven by a single step loop guarded by a per-run lock; different
// runs proceed in parallel. It implements ports.SagaService.
type SagaOrchestrator struct {
	store   ports.SagaRunStore
	bus     *eventbus.Bus
	clock   clock.Clock
	metrics *metrics.Metrics
	cfg     SagaOrchestratorConfig
	log     zerolog.Logger

	defsMu sync.RWMutex
	defs   map[string]*domain.SagaDefinition

	locksMu sync.Mutex
	locks   map[uuid.UUID]*runLock

	activeMu sync.Mutex
	active   map[uuid.UUID]context.CancelCauseFunc

	wg sync.WaitGroup
}

// NewSagaOrchestrator creates an orchestrator. bus may be nil, in which case
// triggers must be delivered through HandleTrigger and no lifecycle events
// are published.
func NewSagaOrchestrator(store ports.SagaRunStore, bus *eventbus.Bus, clk clock.Clock, m *metrics.Metrics, cfg SagaOrchestratorConfig, log zerolog.Logger) *SagaOrchestrator {
	if clk == nil {
		clk = clock.WallClock
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultSagaTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &SagaOrchestrator{
		store:   store,
		bus:     bus,
		clock:   clk,
		metrics: m,
		cfg:     cfg,
		log:     logger.Component(log, "saga-orchestrator"),
		defs:    make(map[string]*domain.SagaDefinition),
		locks:   make(map[uuid.UUID]*runLock),
		active:  make(map[uuid.UUID]context.CancelCauseFunc),
	}
}

// RegisterSaga validates def and subscribes its trigger on the bus.
// Registering a name twice is a no-op.
func (o *SagaOrchestrator) RegisterSaga(def domain.SagaDefinition) error {
	if err := o.validate(&def); err != nil {
		return err
	}

	o.defsMu.Lock()
	if _, ok := o.defs[def.Name]; ok {
		o.defsMu.Unlock()
		o.log.Debug().Str("saga", def.Name).Msg("saga: already registered")
		return nil
	}
	d := def
	d.Steps = append([]domain.Step(nil), def.Steps...)
	o.defs[def.Name] = &d
	o.defsMu.Unlock()

	if o.bus != nil {
		handler := func(ctx context.Context, evt domain.DomainEvent) error {
			return o.HandleTrigger(ctx, d.Name, evt)
		}
		if _, err := o.bus.Subscribe(d.TriggerEvent, triggerSubscriberPrefix+d.Name, handler); err != nil {
			o.defsMu.Lock()
			delete(o.defs, d.Name)
			o.defsMu.Unlock()
			return apperror.ErrInvalidSagaDefinition(err.Error())
		}
	}

	o.log.Info().
		Str("saga", d.Name).
		Str("trigger", d.TriggerEvent).
		Int("steps", len(d.Steps)).
		Dur("timeout", d.Timeout).
		Msg("saga: registered")
	return nil
}

func (o *SagaOrchestrator) validate(def *domain.SagaDefinition) error {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		return apperror.ErrInvalidSagaDefinition("name is required")
	}
	if !eventbus.ValidType(def.TriggerEvent) {
		return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("trigger %q is not a valid event type", def.TriggerEvent))
	}
	if strings.HasPrefix(def.TriggerEvent, ReservedSagaNamespace) {
		return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("trigger %q uses the reserved saga namespace", def.TriggerEvent))
	}
	if len(def.Steps) == 0 {
		return apperror.ErrInvalidSagaDefinition("at least one step is required")
	}
	if def.Timeout <= 0 {
		def.Timeout = o.cfg.DefaultTimeout
	}

	seen := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		s := &def.Steps[i]
		if s.Name == "" {
			return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("step %d has no name", i))
		}
		if seen[s.Name] {
			return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("duplicate step %q", s.Name))
		}
		seen[s.Name] = true

		switch s.Kind {
		case "", domain.StepKindNormal:
			s.Kind = domain.StepKindNormal
			if s.Execute == nil {
				return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("step %q has no execute function", s.Name))
			}
		case domain.StepKindApproval:
			switch s.ApprovalTimeoutAction {
			case "":
				s.ApprovalTimeoutAction = domain.ApprovalTimeoutEscalate
			case domain.ApprovalTimeoutEscalate, domain.ApprovalTimeoutReject:
			default:
				return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("step %q has unknown approval timeout action %q", s.Name, s.ApprovalTimeoutAction))
			}
			if s.ApprovalTimeout <= 0 {
				s.ApprovalTimeout = DefaultApprovalTimeout
			}
		default:
			return apperror.ErrInvalidSagaDefinition(fmt.Sprintf("step %q has unknown kind %q", s.Name, s.Kind))
		}
	}
	return nil
}

// Definitions returns the registered saga names.
func (o *SagaOrchestrator) Definitions() []string {
	o.defsMu.RLock()
	defer o.defsMu.RUnlock()
	out := make([]string, 0, len(o.defs))
	for name := range o.defs {
		out = append(out, name)
	}
	return out
}

func (o *SagaOrchestrator) definition(name string) (*domain.SagaDefinition, bool) {
	o.defsMu.RLock()
	defer o.defsMu.RUnlock()
	d, ok := o.defs[name]
	return d, ok
}

// HandleTrigger starts a run of sagaName for evt unless one already exists
// for the same trigger event. The step loop runs in its own goroutine.
func (o *SagaOrchestrator) HandleTrigger(ctx context.Context, sagaName string, evt domain.DomainEvent) error {
	def, ok := o.definition(sagaName)
	if !ok {
		return apperror.ErrUnknownSaga(sagaName)
	}

	existing, err := o.store.FindByTrigger(ctx, def.Name, evt.ID)
	if err != nil {
		return fmt.Errorf("finding run for trigger %s: %w", evt.ID, err)
	}
	if existing != nil {
		o.log.Debug().Str("saga", def.Name).Str("event_id", evt.ID).Msg("saga: trigger already handled")
		return nil
	}

	now := o.clock.Now().UTC()
	run := &domain.SagaRun{
		ID:             uuid.New(),
		SagaName:       def.Name,
		TenantID:       evt.TenantID,
		TriggerEventID: evt.ID,
		Trigger:        evt,
		Status:         domain.SagaStatusRunning,
		Context:        domain.SagaContext{},
		StartedAt:      now,
		Deadline:       now.Add(def.Timeout),
		UpdatedAt:      now,
	}
	if err := o.store.Create(ctx, run); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("creating saga run: %w", err)
	}

	o.metrics.SagaRun(def.Name, "started")
	o.runLogger(run).Info().Str("event_id", evt.ID).Msg("saga: started")
	o.publish(ctx, EventSagaStarted, run, nil)

	o.startLoop(context.WithoutCancel(ctx), run.ID)
	return nil
}

// Get returns a run by id.
func (o *SagaOrchestrator) Get(ctx context.Context, id uuid.UUID) (*domain.SagaRun, error) {
	run, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if run == nil {
		return nil, apperror.ErrNotFound("Saga run")
	}
	return run, nil
}

// List returns runs matching filter.
func (o *SagaOrchestrator) List(ctx context.Context, filter ports.SagaRunFilter) ([]domain.SagaRun, error) {
	runs, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return runs, nil
}

// Approve resolves the pending approval gate and resumes the run.
func (o *SagaOrchestrator) Approve(ctx context.Context, id uuid.UUID, actor string) (*domain.SagaRun, error) {
	unlock := o.lockRun(id)
	run, def, err := o.loadForTransition(ctx, id, "approve", domain.SagaStatusAwaitingApproval)
	if err != nil {
		unlock()
		return nil, err
	}

	now := o.clock.Now().UTC()
	step := def.Steps[run.CurrentStepIndex]
	run.Record(domain.StepRecord{Step: step.Name, Index: run.CurrentStepIndex, Status: domain.StepStatusApproved, Actor: actor, Timestamp: now})
	run.CurrentStepIndex++
	run.Status = domain.SagaStatusRunning
	run.ApprovalDeadline = nil
	run.Escalated = false
	o.persist(ctx, run)
	snapshot := run.Snapshot()
	unlock()

	o.runLogger(run).Info().Str("step", step.Name).Str("actor", actor).Msg("saga: approved")
	o.startLoop(context.WithoutCancel(ctx), id)
	return snapshot, nil
}

// Reject resolves the pending approval gate negatively and compensates.
func (o *SagaOrchestrator) Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.SagaRun, error) {
	unlock := o.lockRun(id)
	defer unlock()

	run, def, err := o.loadForTransition(ctx, id, "reject", domain.SagaStatusAwaitingApproval)
	if err != nil {
		return nil, err
	}
	o.reject(context.WithoutCancel(ctx), run, def, actor, reason)
	return run.Snapshot(), nil
}

// Abort stops a non-terminal run, compensates completed steps and marks the
// run failed.
func (o *SagaOrchestrator) Abort(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.SagaRun, error) {
	// An active step loop is interrupted first; it compensates on its own.
	interrupted := o.cancelActive(id, abortCause{actor: actor, reason: reason})

	unlock := o.lockRun(id)
	defer unlock()

	run, def, err := o.loadForTransition(ctx, id, "abort", domain.SagaStatusRunning, domain.SagaStatusAwaitingApproval)
	if err != nil {
		if interrupted && apperror.HasCode(err, "SAGA_003") {
			if current, gerr := o.store.Get(ctx, id); gerr == nil && current != nil && current.Status == domain.SagaStatusFailed {
				// The interrupted loop already finished the abort.
				return current, nil
			}
		}
		return nil, err
	}

	o.abort(context.WithoutCancel(ctx), run, def, actor, reason)
	return run.Snapshot(), nil
}

type abortCause struct {
	actor  string
	reason string
}

func (a abortCause) Error() string { return errSagaAborted.Error() + ": " + a.reason }
func (a abortCause) Unwrap() error { return errSagaAborted }

// loadForTransition loads a run and its definition and checks its status.
// The caller must hold the run lock.
func (o *SagaOrchestrator) loadForTransition(ctx context.Context, id uuid.UUID, action string, allowed ...domain.SagaStatus) (*domain.SagaRun, *domain.SagaDefinition, error) {
	run, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(err)
	}
	if run == nil {
		return nil, nil, apperror.ErrNotFound("Saga run")
	}
	ok := false
	for _, s := range allowed {
		if run.Status == s {
			ok = true
			break
		}
	}
	if !ok {
		return nil, nil, apperror.ErrInvalidTransition(string(run.Status), action)
	}
	def, found := o.definition(run.SagaName)
	if !found {
		return nil, nil, apperror.ErrUnknownSaga(run.SagaName)
	}
	return run, def, nil
}

// Wait blocks until every in-flight step loop has returned.
func (o *SagaOrchestrator) Wait() {
	o.wg.Wait()
}

// RunSweeper calls Sweep every sweep interval until ctx is cancelled.
func (o *SagaOrchestrator) RunSweeper(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.clock.After(o.cfg.SweepInterval):
		}
		if _, err := o.Sweep(ctx); err != nil {
			o.log.Error().Err(err).Msg("saga: sweep failed")
		}
	}
}

// Sweep enforces saga deadlines and approval timeouts. It returns the number
// of runs it acted on.
func (o *SagaOrchestrator) Sweep(ctx context.Context) (int, error) {
	runs, err := o.store.List(ctx, ports.SagaRunFilter{
		Statuses: []domain.SagaStatus{domain.SagaStatusRunning, domain.SagaStatusAwaitingApproval},
	})
	if err != nil {
		return 0, fmt.Errorf("listing open saga runs: %w", err)
	}

	acted := 0
	for i := range runs {
		if ctx.Err() != nil {
			break
		}
		if o.sweepRun(ctx, runs[i].ID) {
			acted++
		}
	}
	return acted, nil
}

func (o *SagaOrchestrator) sweepRun(ctx context.Context, id uuid.UUID) bool {
	now := o.clock.Now()

	if o.isActive(id) {
		run, err := o.store.Get(ctx, id)
		if err == nil && run != nil && !now.Before(run.Deadline) {
			o.cancelActive(id, errSagaTimeout)
			return true
		}
		return false
	}

	unlock := o.lockRun(id)
	defer unlock()

	run, err := o.store.Get(ctx, id)
	if err != nil || run == nil || run.Status.IsTerminal() {
		return false
	}
	def, ok := o.definition(run.SagaName)
	if !ok {
		o.runLogger(run).Warn().Msg("saga: open run for unregistered saga")
		return false
	}

	if !now.Before(run.Deadline) {
		o.timeout(ctx, run, def)
		return true
	}

	if run.Status != domain.SagaStatusAwaitingApproval || run.ApprovalDeadline == nil || now.Before(*run.ApprovalDeadline) {
		return false
	}

	step := def.Steps[run.CurrentStepIndex]
	switch step.ApprovalTimeoutAction {
	case domain.ApprovalTimeoutReject:
		o.reject(ctx, run, def, ActorSystemTimeout, "approval timed out")
		return true
	default:
		if run.Escalated {
			return false
		}
		run.Escalated = true
		run.Record(domain.StepRecord{Step: step.Name, Index: run.CurrentStepIndex, Status: domain.StepStatusEscalated, Actor: ActorSystemTimeout, Timestamp: now.UTC()})
		o.persist(ctx, run)
		o.runLogger(run).Warn().Str("step", step.Name).Msg("saga: approval overdue, escalated")
		o.publish(ctx, EventApprovalEscalated, run, map[string]any{"step": step.Name})
		return true
	}
}

// Recover fails runs that were left mid-flight by a previous process. Their
// completed steps are compensated. Runs awaiting approval are left to the
// sweeper.
func (o *SagaOrchestrator) Recover(ctx context.Context) (int, error) {
	runs, err := o.store.List(ctx, ports.SagaRunFilter{
		Statuses: []domain.SagaStatus{domain.SagaStatusRunning, domain.SagaStatusCompensating},
	})
	if err != nil {
		return 0, fmt.Errorf("listing interrupted saga runs: %w", err)
	}

	recovered := 0
	for i := range runs {
		id := runs[i].ID
		if o.isActive(id) {
			continue
		}
		unlock := o.lockRun(id)
		run, err := o.store.Get(ctx, id)
		if err == nil && run != nil && (run.Status == domain.SagaStatusRunning || run.Status == domain.SagaStatusCompensating) {
			if def, ok := o.definition(run.SagaName); ok {
				o.abort(ctx, run, def, ActorSystemRecover, interruptedByRestartText)
				recovered++
			} else {
				o.runLogger(run).Warn().Msg("saga: cannot recover run of unregistered saga")
			}
		}
		unlock()
	}
	return recovered, nil
}

// startLoop drives run id in a new goroutine.
func (o *SagaOrchestrator) startLoop(ctx context.Context, id uuid.UUID) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Str("saga_run_id", id.String()).Interface("panic", r).Msg("saga: step loop panicked")
			}
		}()
		o.drive(ctx, id)
	}()
}

func (o *SagaOrchestrator) drive(parent context.Context, id uuid.UUID) {
	unlock := o.lockRun(id)
	defer unlock()

	run, err := o.store.Get(parent, id)
	if err != nil || run == nil {
		o.log.Error().Err(err).Str("saga_run_id", id.String()).Msg("saga: failed to load run")
		return
	}
	if run.Status != domain.SagaStatusRunning {
		return
	}
	def, ok := o.definition(run.SagaName)
	if !ok {
		o.runLogger(run).Error().Msg("saga: definition missing for run")
		return
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	o.setActive(id, cancel)
	defer o.clearActive(id)

	remaining := run.Deadline.Sub(o.clock.Now())
	if remaining <= 0 {
		o.timeout(parent, run, def)
		return
	}
	timer := o.clock.AfterFunc(remaining, func() { cancel(errSagaTimeout) })
	defer timer.Stop()

	o.execute(ctx, run, def)
}

// execute runs steps from run.CurrentStepIndex until the run completes,
// pauses for approval or fails. The caller holds the run lock.
func (o *SagaOrchestrator) execute(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition) {
	bg := context.WithoutCancel(ctx)
	l := o.runLogger(run)

	for run.CurrentStepIndex < len(def.Steps) {
		if o.stopRequested(ctx, run, def) {
			return
		}
		if !o.clock.Now().Before(run.Deadline) {
			o.timeout(bg, run, def)
			return
		}

		idx := run.CurrentStepIndex
		step := def.Steps[idx]

		if step.Kind == domain.StepKindApproval {
			if step.Execute != nil {
				partial, err := invokeStep(ctx, step, run)
				if err != nil {
					o.stepFailed(ctx, run, def, step, err)
					return
				}
				run.Context = run.Context.Merge(partial)
				run.Record(domain.StepRecord{Step: step.Name, Index: idx, Status: domain.StepStatusCompleted, Timestamp: o.clock.Now().UTC()})
			}
			now := o.clock.Now().UTC()
			deadline := now.Add(step.ApprovalTimeout)
			run.Status = domain.SagaStatusAwaitingApproval
			run.ApprovalDeadline = &deadline
			run.Escalated = false
			run.Record(domain.StepRecord{Step: step.Name, Index: idx, Status: domain.StepStatusAwaitingApproval, Timestamp: now})
			o.persist(bg, run)
			l.Info().Str("step", step.Name).Time("approval_deadline", deadline).Msg("saga: awaiting approval")
			o.publish(bg, EventApprovalRequested, run, map[string]any{
				"step":              step.Name,
				"approval_deadline": deadline.Format(time.RFC3339),
			})
			return
		}

		partial, err := invokeStep(ctx, step, run)
		if err != nil {
			o.stepFailed(ctx, run, def, step, err)
			return
		}

		run.Context = run.Context.Merge(partial)
		run.Record(domain.StepRecord{Step: step.Name, Index: idx, Status: domain.StepStatusCompleted, Timestamp: o.clock.Now().UTC()})
		run.CurrentStepIndex++
		o.persist(bg, run)
		l.Debug().Str("step", step.Name).Msg("saga: step completed")
	}

	now := o.clock.Now().UTC()
	run.Status = domain.SagaStatusCompleted
	run.FinishedAt = &now
	o.persist(bg, run)
	o.metrics.SagaRun(run.SagaName, string(run.Status))
	l.Info().Msg("saga: completed")
	o.publish(bg, EventSagaCompleted, run, nil)
}

// stopRequested handles an abort or deadline signalled between steps.
func (o *SagaOrchestrator) stopRequested(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition) bool {
	if ctx.Err() == nil {
		return false
	}
	bg := context.WithoutCancel(ctx)
	cause := context.Cause(ctx)
	var ab abortCause
	switch {
	case errors.As(cause, &ab):
		o.abort(bg, run, def, ab.actor, ab.reason)
	case errors.Is(cause, errSagaTimeout):
		o.timeout(bg, run, def)
	default:
		o.abort(bg, run, def, ActorSystemRecover, cause.Error())
	}
	return true
}

func (o *SagaOrchestrator) stepFailed(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition, step domain.Step, err error) {
	// A step cut short by abort or deadline is handled as such.
	if ctx.Err() != nil && o.stopRequested(ctx, run, def) {
		return
	}
	bg := context.WithoutCancel(ctx)
	run.Record(domain.StepRecord{Step: step.Name, Index: run.CurrentStepIndex, Status: domain.StepStatusFailed, Error: err.Error(), Timestamp: o.clock.Now().UTC()})
	run.Error = fmt.Sprintf("step %s failed: %v", step.Name, err)
	o.runLogger(run).Warn().Err(err).Str("step", step.Name).Msg("saga: step failed, compensating")
	o.compensate(bg, run, def, domain.SagaStatusCompensated)
}

func (o *SagaOrchestrator) reject(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition, actor, reason string) {
	step := def.Steps[run.CurrentStepIndex]
	run.Record(domain.StepRecord{Step: step.Name, Index: run.CurrentStepIndex, Status: domain.StepStatusRejected, Actor: actor, Error: reason, Timestamp: o.clock.Now().UTC()})
	run.ApprovalDeadline = nil
	run.Error = "approval rejected"
	if reason != "" {
		run.Error += ": " + reason
	}
	o.runLogger(run).Info().Str("step", step.Name).Str("actor", actor).Msg("saga: approval rejected, compensating")
	o.compensate(ctx, run, def, domain.SagaStatusCompensated)
}

func (o *SagaOrchestrator) timeout(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition) {
	run.Error = errSagaTimeout.Error()
	run.ApprovalDeadline = nil
	o.runLogger(run).Warn().Time("deadline", run.Deadline).Msg("saga: timed out, compensating")
	o.compensate(ctx, run, def, domain.SagaStatusTimedOut)
}

func (o *SagaOrchestrator) abort(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition, actor, reason string) {
	run.Error = "aborted"
	if reason != "" {
		run.Error += ": " + reason
	}
	run.ApprovalDeadline = nil
	if run.CurrentStepIndex < len(def.Steps) {
		run.Record(domain.StepRecord{Step: def.Steps[run.CurrentStepIndex].Name, Index: run.CurrentStepIndex, Status: domain.StepStatusFailed, Actor: actor, Error: run.Error, Timestamp: o.clock.Now().UTC()})
	}
	o.runLogger(run).Warn().Str("actor", actor).Str("reason", reason).Msg("saga: aborted, compensating")
	o.compensate(ctx, run, def, domain.SagaStatusFailed)
}

// compensate undoes completed steps in reverse order, then moves the run to
// final. A failing compensator stops the walk and leaves the run in
// compensation_failed for an operator.
func (o *SagaOrchestrator) compensate(ctx context.Context, run *domain.SagaRun, def *domain.SagaDefinition, final domain.SagaStatus) {
	l := o.runLogger(run)
	run.Status = domain.SagaStatusCompensating
	o.persist(ctx, run)

	completed := run.CompletedSteps()
	for i := len(completed) - 1; i >= 0; i-- {
		idx := completed[i]
		if idx >= len(def.Steps) || run.Compensated(idx) {
			continue
		}
		step := def.Steps[idx]
		if step.Compensate == nil {
			run.Record(domain.StepRecord{Step: step.Name, Index: idx, Status: domain.StepStatusSkipped, Timestamp: o.clock.Now().UTC()})
			continue
		}

		if err := invokeCompensation(ctx, step, run); err != nil {
			now := o.clock.Now().UTC()
			run.Record(domain.StepRecord{Step: step.Name, Index: idx, Status: domain.StepStatusCompensationFailed, Error: err.Error(), Timestamp: now})
			run.Status = domain.SagaStatusCompensationFailed
			run.Error = fmt.Sprintf("%s; compensation of %s failed: %v", run.Error, step.Name, err)
			run.FinishedAt = &now
			o.persist(ctx, run)
			o.metrics.SagaRun(run.SagaName, string(run.Status))
			l.Error().Err(err).Str("step", step.Name).Msg("saga: compensation failed, operator action required")
			o.publish(ctx, EventSagaCompensationFailed, run, map[string]any{"step": step.Name})
			return
		}
		run.Record(domain.StepRecord{Step: step.Name, Index: idx, Status: domain.StepStatusCompensated, Timestamp: o.clock.Now().UTC()})
		o.persist(ctx, run)
		l.Debug().Str("step", step.Name).Msg("saga: step compensated")
	}

	now := o.clock.Now().UTC()
	run.Status = final
	run.FinishedAt = &now
	o.persist(ctx, run)
	o.metrics.SagaRun(run.SagaName, string(final))
	l.Info().Str("status", string(final)).Msg("saga: compensation finished")

	switch final {
	case domain.SagaStatusTimedOut:
		o.publish(ctx, EventSagaTimedOut, run, nil)
	case domain.SagaStatusFailed:
		o.publish(ctx, EventSagaFailed, run, nil)
	default:
		o.publish(ctx, EventSagaCompensated, run, nil)
	}
}

func invokeStep(ctx context.Context, step domain.Step, run *domain.SagaRun) (partial domain.SagaContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Name, r)
		}
	}()
	return step.Execute(ctx, run.Context.Merge(nil), run.Trigger)
}

func invokeCompensation(ctx context.Context, step domain.Step, run *domain.SagaRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation %s panicked: %v", step.Name, r)
		}
	}()
	return step.Compensate(ctx, run.Context.Merge(nil))
}

func (o *SagaOrchestrator) persist(ctx context.Context, run *domain.SagaRun) {
	run.UpdatedAt = o.clock.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		o.runLogger(run).Error().Err(err).Str("status", string(run.Status)).Msg("saga: failed to persist run")
	}
}

func (o *SagaOrchestrator) publish(ctx context.Context, eventType string, run *domain.SagaRun, extra map[string]any) {
	if o.bus == nil {
		return
	}
	payload := domain.Payload{
		"saga_run_id":      run.ID.String(),
		"saga_name":        run.SagaName,
		"trigger_event_id": run.TriggerEventID,
		"status":           string(run.Status),
	}
	if run.Error != "" {
		payload["error"] = run.Error
	}
	for k, v := range extra {
		payload[k] = v
	}
	_, err := o.bus.Publish(ctx, ports.PublishInput{
		Type:     eventType,
		TenantID: run.TenantID,
		Payload:  payload,
		Metadata: domain.EventMetadata{
			Source:        lifecycleSource,
			CorrelationID: run.ID.String(),
		},
	})
	if err != nil {
		o.runLogger(run).Error().Err(err).Str("event_type", eventType).Msg("saga: failed to publish lifecycle event")
	}
}

func (o *SagaOrchestrator) runLogger(run *domain.SagaRun) *zerolog.Logger {
	l := o.log.With().
		Str("saga", run.SagaName).
		Str("saga_run_id", run.ID.String()).
		Str("tenant_id", run.TenantID).
		Logger()
	return &l
}

// runLock is reference counted so the entry is dropped once nobody holds or
// waits on it.
type runLock struct {
	mu   sync.Mutex
	refs int
}

// lockRun serialises everything that mutates one run.
func (o *SagaOrchestrator) lockRun(id uuid.UUID) func() {
	o.locksMu.Lock()
	rl, ok := o.locks[id]
	if !ok {
		rl = &runLock{}
		o.locks[id] = rl
	}
	rl.refs++
	o.locksMu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		o.locksMu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(o.locks, id)
		}
		o.locksMu.Unlock()
	}
}

func (o *SagaOrchestrator) setActive(id uuid.UUID, cancel context.CancelCauseFunc) {
	o.activeMu.Lock()
	o.active[id] = cancel
	o.activeMu.Unlock()
}

func (o *SagaOrchestrator) clearActive(id uuid.UUID) {
	o.activeMu.Lock()
	delete(o.active, id)
	o.activeMu.Unlock()
}

func (o *SagaOrchestrator) isActive(id uuid.UUID) bool {
	o.activeMu.Lock()
	defer o.activeMu.Unlock()
	_, ok := o.active[id]
	return ok
}

func (o *SagaOrchestrator) cancelActive(id uuid.UUID, cause error) bool {
	o.activeMu.Lock()
	cancel, ok := o.active[id]
	o.activeMu.Unlock()
	if ok {
		cancel(cause)
	}
	return ok
}
