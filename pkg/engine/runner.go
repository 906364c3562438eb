package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// GraphRunner executes a plan level by level, running independent units in
// parallel within each level. Outputs of applied units (identity principal
// ID, client ID, vault URI) are collected and handed to dependent units as
// inputs.
type GraphRunner struct {
	// maxParallel is the maximum number of concurrent workers
	maxParallel int

	// registry resolves the provider for each unit
	registry ProviderRegistry

	// eventPublisher publishes execution events
	eventPublisher EventPublisher

	// state persists run progress and resource state
	state StateManager

	// mu protects shared state during execution
	mu sync.RWMutex

	// unitStatus tracks the current status of each unit
	unitStatus map[string]PlanStatus

	// outputs maps resource IDs to the outputs their apply produced
	outputs map[string]map[string]string
}

// NewGraphRunner creates a new runner.
func NewGraphRunner(
	maxParallel int,
	registry ProviderRegistry,
	eventPublisher EventPublisher,
	state StateManager,
) *GraphRunner {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	return &GraphRunner{
		maxParallel:    maxParallel,
		registry:       registry,
		eventPublisher: eventPublisher,
		state:          state,
		unitStatus:     make(map[string]PlanStatus),
		outputs:        make(map[string]map[string]string),
	}
}

// Execute runs the plan to completion and returns the finished run.
// A failed unit skips its dependents; already-applied resources stay in
// place so a re-run converges the remainder.
func (r *GraphRunner) Execute(ctx context.Context, plan *Plan, opts RunOptions) (*Run, error) {
	if plan == nil {
		return nil, NewPermanentError("plan is nil", nil).WithCode(ErrCodeValidation)
	}
	if plan.Graph == nil {
		return nil, NewPermanentError("plan has no execution graph", nil).
			WithCode(ErrCodeValidation)
	}

	run := &Run{
		ID:          uuid.New().String(),
		PlanID:      plan.ID,
		Environment: plan.Environment,
		Phase:       plan.Phase,
		Status:      RunStatusRunning,
		StartedAt:   time.Now(),
		User:        opts.User,
		Summary: RunSummary{
			Total:   len(plan.Units),
			Pending: len(plan.Units),
		},
	}

	if err := r.state.SaveRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	r.mu.Lock()
	for _, unit := range plan.Units {
		r.unitStatus[unit.ID] = PlanStatusPending
	}
	r.mu.Unlock()

	r.publishEvent(ctx, run.ID, "", "", EventTypeRunStarted, "run started", "info")

	execErr := r.executeLevels(ctx, run, plan, opts)

	r.mu.RLock()
	run.Summary = r.summarize(plan.Units)
	r.mu.RUnlock()

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)

	switch {
	case errors.Is(execErr, context.Canceled):
		run.Status = RunStatusCancelled
	case run.Summary.Failed > 0 && run.Summary.Succeeded > 0:
		run.Status = RunStatusPartial
	case run.Summary.Failed > 0:
		run.Status = RunStatusFailed
	case run.Summary.Skipped > 0:
		run.Status = RunStatusPartial
	default:
		run.Status = RunStatusSucceeded
	}

	if err := r.state.SaveRun(ctx, run); err != nil {
		return run, fmt.Errorf("failed to save final run state: %w", err)
	}

	if run.Status == RunStatusSucceeded {
		r.publishEvent(ctx, run.ID, "", "", EventTypeRunCompleted, "run completed successfully", "info")
	} else {
		r.publishEvent(ctx, run.ID, "", "", EventTypeRunFailed,
			fmt.Sprintf("run completed with status: %s", run.Status), "error")
	}

	return run, execErr
}

// Outputs returns the outputs collected during the last Execute, keyed by
// resource ID then output name.
func (r *GraphRunner) Outputs() map[string]map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]map[string]string, len(r.outputs))
	for id, vals := range r.outputs {
		copied := make(map[string]string, len(vals))
		for k, v := range vals {
			copied[k] = v
		}
		out[id] = copied
	}
	return out
}

// executeLevels walks the graph depth by depth.
func (r *GraphRunner) executeLevels(ctx context.Context, run *Run, plan *Plan, opts RunOptions) error {
	unitMap := make(map[string]*PlanUnit, len(plan.Units))
	for i := range plan.Units {
		unitMap[plan.Units[i].ID] = &plan.Units[i]
	}

	for level := 0; level < plan.Graph.Depth; level++ {
		levelUnits := unitsAtLevel(plan.Graph, level, unitMap)
		if len(levelUnits) == 0 {
			continue
		}

		if err := r.executeLevel(ctx, run, levelUnits, unitMap, opts); err != nil {
			if opts.FailFast {
				r.skipRemaining(plan.Units, level+1, plan.Graph)
				return fmt.Errorf("level %d failed: %w", level, err)
			}
		}

		select {
		case <-ctx.Done():
			r.cancelPending(plan.Units)
			return ctx.Err()
		default:
		}
	}

	return nil
}

// unitsAtLevel returns all plan units at the specified execution level.
func unitsAtLevel(graph *ExecutionGraph, level int, unitMap map[string]*PlanUnit) []*PlanUnit {
	units := make([]*PlanUnit, 0)
	for _, node := range graph.Nodes {
		if node.Level == level {
			if unit, exists := unitMap[node.ID]; exists {
				units = append(units, unit)
			}
		}
	}
	return units
}

// executeLevel executes all units at a level using a bounded worker pool.
func (r *GraphRunner) executeLevel(
	ctx context.Context,
	run *Run,
	units []*PlanUnit,
	unitMap map[string]*PlanUnit,
	opts RunOptions,
) error {
	workerCount := r.maxParallel
	if opts.MaxParallel > 0 && opts.MaxParallel < workerCount {
		workerCount = opts.MaxParallel
	}
	if len(units) < workerCount {
		workerCount = len(units)
	}

	workQueue := make(chan *PlanUnit, len(units))
	for _, unit := range units {
		workQueue <- unit
	}
	close(workQueue)

	var wg sync.WaitGroup
	errChan := make(chan error, len(units))

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for unit := range workQueue {
				if !r.dependenciesSatisfied(unit) {
					r.markSkipped(unit, "dependency did not succeed")
					r.publishEvent(ctx, run.ID, unit.ID, unit.ResourceID, EventTypeWarning,
						fmt.Sprintf("skipped %s: dependency did not succeed", unit.ResourceID), "warning")
					continue
				}

				if err := r.executeUnit(ctx, run, unit, unitMap, opts); err != nil {
					errChan <- fmt.Errorf("unit %s failed: %w", unit.ResourceID, err)
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}

	wg.Wait()
	close(errChan)

	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// executeUnit executes a single plan unit with retry on retryable failures.
func (r *GraphRunner) executeUnit(
	ctx context.Context,
	run *Run,
	unit *PlanUnit,
	unitMap map[string]*PlanUnit,
	opts RunOptions,
) error {
	r.setStatus(unit.ID, PlanStatusRunning)
	r.publishEvent(ctx, run.ID, unit.ID, unit.ResourceID, EventTypePlanUnitStarted,
		fmt.Sprintf("started %s of %s", unit.Operation, unit.ResourceID), "info")

	startTime := time.Now()

	var result *ExecutionResult
	var err error

	for attempt := 0; attempt <= unit.MaxRetries; attempt++ {
		execCtx, cancel := context.WithTimeout(ctx, unit.Timeout)

		if opts.DryRun {
			result, err = r.simulate(unit), nil
		} else {
			result, err = r.applyUnit(execCtx, unit, unitMap)
		}

		cancel()

		if err == nil && result != nil && result.Status == PlanStatusSucceeded {
			break
		}

		if err != nil && !IsRetryable(err) {
			break
		}

		if attempt >= unit.MaxRetries {
			break
		}

		backoff := retryBackoff(attempt, err)
		r.publishEvent(ctx, run.ID, unit.ID, unit.ResourceID, EventTypeWarning,
			fmt.Sprintf("retrying %s after failure (attempt %d/%d)", unit.ResourceID, attempt+1, unit.MaxRetries+1),
			"warning")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if result == nil {
		result = &ExecutionResult{
			PlanUnitID:  unit.ID,
			Status:      PlanStatusFailed,
			StartedAt:   startTime,
			CompletedAt: time.Now(),
			Duration:    time.Since(startTime),
		}
	}

	if err != nil {
		result.Status = PlanStatusFailed
		var engineErr *Error
		if errors.As(err, &engineErr) {
			result.Error = engineErr
		} else {
			result.Error = NewPermanentError("execution failed", err).
				WithCode(ErrCodeProviderFailed).
				WithResource(unit.ResourceID)
		}
	}

	unit.Result = result

	if result.Status == PlanStatusSucceeded {
		r.setStatus(unit.ID, PlanStatusSucceeded)
		if len(result.Outputs) > 0 {
			r.mu.Lock()
			r.outputs[unit.ResourceID] = result.Outputs
			r.mu.Unlock()
		}
		r.publishEvent(ctx, run.ID, unit.ID, unit.ResourceID, EventTypePlanUnitCompleted,
			fmt.Sprintf("completed %s of %s", unit.Operation, unit.ResourceID), "info")
		return nil
	}

	r.setStatus(unit.ID, PlanStatusFailed)
	r.publishEvent(ctx, run.ID, unit.ID, unit.ResourceID, EventTypePlanUnitFailed,
		fmt.Sprintf("failed %s of %s: %v", unit.Operation, unit.ResourceID, err), "error")
	return err
}

// applyUnit invokes the provider for the unit's operation and persists the
// resulting resource state.
func (r *GraphRunner) applyUnit(
	ctx context.Context,
	unit *PlanUnit,
	unitMap map[string]*PlanUnit,
) (*ExecutionResult, error) {
	startTime := time.Now()

	provider, err := r.registry.Get(unit.ProviderName)
	if err != nil {
		return nil, NewPermanentError("provider not registered", err).
			WithCode(ErrCodeProviderFailed).
			WithResource(unit.ResourceID)
	}

	result := &ExecutionResult{
		PlanUnitID: unit.ID,
		StartedAt:  startTime,
	}

	switch unit.Operation {
	case OperationNoop, OperationRead:
		result.Status = PlanStatusSucceeded
		result.NewState = unit.ActualState
		// Dependents of a converged unit must see the same inputs a
		// fresh apply would have produced.
		result.Outputs = outputsFromState(unit.ActualState)

	case OperationDelete:
		resp, derr := provider.Destroy(ctx, DestroyRequest{
			ResourceID:   unit.ResourceID,
			ResourceType: unit.ResourceType,
			State:        unit.ActualState,
		})
		if derr != nil {
			return nil, derr
		}
		if !resp.Success {
			return nil, NewPermanentError("destroy reported failure", nil).
				WithCode(ErrCodeProviderFailed).
				WithResource(unit.ResourceID)
		}
		if serr := r.state.DeleteResource(ctx, unit.ResourceID); serr != nil {
			return nil, fmt.Errorf("failed to delete resource state: %w", serr)
		}
		result.Status = PlanStatusSucceeded

	default:
		resp, aerr := provider.Apply(ctx, ApplyRequest{
			ResourceID:   unit.ResourceID,
			ResourceType: unit.ResourceType,
			DesiredState: unit.DesiredState,
			ActualState:  unit.ActualState,
			Operation:    unit.Operation,
			Inputs:       r.inputsFor(unit, unitMap),
		})
		if aerr != nil {
			return nil, aerr
		}

		result.Status = PlanStatusSucceeded
		result.NewState = resp.NewState
		result.Outputs = resp.Outputs

		if serr := r.saveResourceState(ctx, unit, resp.NewState); serr != nil {
			return nil, serr
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(startTime)
	return result, nil
}

// inputsFor gathers the collected outputs of the unit's dependencies.
func (r *GraphRunner) inputsFor(unit *PlanUnit, unitMap map[string]*PlanUnit) map[string]map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inputs := make(map[string]map[string]string)
	for _, dep := range unit.Dependencies {
		target, ok := unitMap[dep.TargetID]
		if !ok {
			continue
		}
		if vals, ok := r.outputs[target.ResourceID]; ok {
			inputs[target.ResourceID] = vals
		}
	}
	if len(inputs) == 0 {
		return nil
	}
	return inputs
}

// outputsFromState republishes the scalar fields of a recorded resource
// state as outputs, so dependents can consume them when the unit itself
// did not run.
func outputsFromState(state json.RawMessage) map[string]string {
	if len(state) == 0 {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(state, &fields); err != nil {
		return nil
	}
	outputs := make(map[string]string)
	for key, value := range fields {
		if s, ok := value.(string); ok && s != "" {
			outputs[key] = s
		}
	}
	if len(outputs) == 0 {
		return nil
	}
	return outputs
}

// saveResourceState persists the post-apply state of the unit's resource.
func (r *GraphRunner) saveResourceState(ctx context.Context, unit *PlanUnit, newState json.RawMessage) error {
	now := time.Now()

	res, err := r.state.GetResource(ctx, unit.ResourceID)
	if err != nil || res == nil {
		res = &Resource{
			ID:        unit.ResourceID,
			Type:      unit.ResourceType,
			Phase:     unit.Phase,
			CreatedAt: now,
		}
	}

	res.Config = unit.DesiredState
	res.State = newState
	res.Status = ResourceStatusReady
	res.UpdatedAt = now
	res.Version++

	if err := r.state.SaveResource(ctx, res); err != nil {
		return fmt.Errorf("failed to save resource state: %w", err)
	}
	return nil
}

// dependenciesSatisfied verifies that all required dependencies succeeded.
func (r *GraphRunner) dependenciesSatisfied(unit *PlanUnit) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, dep := range unit.Dependencies {
		status, exists := r.unitStatus[dep.TargetID]
		if !exists {
			return false
		}

		switch dep.Type {
		case DependencyRequire:
			if status != PlanStatusSucceeded {
				return false
			}
		case DependencyOrder:
			if !status.IsTerminal() {
				return false
			}
		}
	}

	return true
}

// retryBackoff calculates exponential backoff with jitter. Throttled
// failures back off harder than plain transient ones.
func retryBackoff(attempt int, err error) time.Duration {
	baseDelay := 1 * time.Second
	if IsThrottled(err) {
		baseDelay = 5 * time.Second
	} else if IsConflict(err) {
		baseDelay = 2 * time.Second
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > time.Minute {
		delay = time.Minute
	}

	// jitter up to 25%
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// simulate produces a successful dry-run result without touching Azure.
func (r *GraphRunner) simulate(unit *PlanUnit) *ExecutionResult {
	now := time.Now()
	return &ExecutionResult{
		PlanUnitID:  unit.ID,
		Status:      PlanStatusSucceeded,
		StartedAt:   now,
		CompletedAt: now,
		NewState:    unit.DesiredState,
	}
}

// markSkipped marks a unit as skipped because a dependency did not succeed.
func (r *GraphRunner) markSkipped(unit *PlanUnit, reason string) {
	r.setStatus(unit.ID, PlanStatusSkipped)

	now := time.Now()
	unit.Result = &ExecutionResult{
		PlanUnitID:  unit.ID,
		Status:      PlanStatusSkipped,
		StartedAt:   now,
		CompletedAt: now,
		Error: NewPermanentError(reason, nil).
			WithCode(ErrCodeDependencyFailed).
			WithResource(unit.ResourceID),
	}
}

// skipRemaining marks all units at or beyond the given level as skipped.
func (r *GraphRunner) skipRemaining(units []PlanUnit, fromLevel int, graph *ExecutionGraph) {
	for i := range units {
		unit := &units[i]
		node, ok := graph.Nodes[unit.ID]
		if !ok || node.Level < fromLevel {
			continue
		}
		r.mu.RLock()
		status := r.unitStatus[unit.ID]
		r.mu.RUnlock()
		if status == PlanStatusPending || status == PlanStatusBlocked {
			r.markSkipped(unit, "run stopped after earlier failure")
		}
	}
}

// cancelPending marks all pending and blocked units as cancelled.
func (r *GraphRunner) cancelPending(units []PlanUnit) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, unit := range units {
		status := r.unitStatus[unit.ID]
		if status == PlanStatusPending || status == PlanStatusBlocked {
			r.unitStatus[unit.ID] = PlanStatusCancelled
		}
	}
}

func (r *GraphRunner) setStatus(unitID string, status PlanStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unitStatus[unitID] = status
}

// summarize calculates the final run summary statistics.
func (r *GraphRunner) summarize(units []PlanUnit) RunSummary {
	summary := RunSummary{Total: len(units)}

	for _, unit := range units {
		switch r.unitStatus[unit.ID] {
		case PlanStatusSucceeded:
			summary.Succeeded++
		case PlanStatusFailed:
			summary.Failed++
		case PlanStatusSkipped, PlanStatusCancelled:
			summary.Skipped++
		case PlanStatusPending, PlanStatusBlocked:
			summary.Pending++
		case PlanStatusRunning:
			summary.Running++
		}
	}

	return summary
}

// publishEvent publishes an execution event, if a publisher is wired.
func (r *GraphRunner) publishEvent(
	ctx context.Context,
	runID, planUnitID, resourceID string,
	eventType EventType,
	message, level string,
) {
	if r.eventPublisher == nil {
		return
	}

	event := &Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now(),
		RunID:      runID,
		PlanUnitID: planUnitID,
		ResourceID: resourceID,
		Message:    message,
		Level:      level,
	}

	_ = r.eventPublisher.Publish(ctx, event)

	if r.state != nil {
		_ = r.state.AppendEvent(ctx, event)
	}
}
