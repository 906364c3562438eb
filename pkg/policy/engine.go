package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// Engine evaluates guardrail policies. It implements engine.PolicyGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	logger   zerolog.Logger
}

// NewEngine creates a new policy engine with the built-in guardrails
// loaded and enabled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range GetBuiltinPolicies() {
		policy := p
		if err := e.compileCheck(&policy); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", policy.Name, err)
		}
		e.policies[policy.Name] = &policy
	}

	e.logger.Info().Int("count", len(e.policies)).Msg("Built-in policies loaded")

	return e, nil
}

// EvaluatePlan evaluates policies against a plan. Each plan unit is also
// projected as a resource input so resource guardrails gate the apply.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan) (*engine.PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []engine.PolicyViolation
	var warnings []string

	for _, p := range e.policies {
		if !p.Enabled {
			continue
		}

		planInput := &PolicyInput{
			Plan: plan,
			Context: &PolicyContext{
				Environment: plan.Environment,
				Timestamp:   time.Now(),
				Operation:   "plan",
			},
		}

		vs, err := e.evaluatePolicy(ctx, p, planInput)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Str("plan", plan.ID).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", p.Name, err))
			continue
		}
		violations = append(violations, vs...)

		for i := range plan.Units {
			unit := &plan.Units[i]
			if unit.Operation == engine.OperationNoop || unit.Operation == engine.OperationDelete {
				continue
			}

			input := &PolicyInput{
				Resource: &inputResource{
					ID:     unit.ResourceID,
					Type:   unit.ResourceType,
					Phase:  string(unit.Phase),
					Config: unit.DesiredState,
				},
				Context: &PolicyContext{
					Environment: plan.Environment,
					Timestamp:   time.Now(),
					Operation:   string(unit.Operation),
				},
			}

			vs, err := e.evaluatePolicy(ctx, p, input)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed on %s: %v",
					p.Name, unit.ResourceID, err))
				continue
			}
			violations = append(violations, vs...)
		}
	}

	result := &engine.PolicyResult{
		Allowed:     allowed(violations),
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Int("violations", len(violations)).
		Dur("duration", time.Since(startTime)).
		Bool("allowed", result.Allowed).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// EvaluateResource evaluates policies against a single resource.
func (e *Engine) EvaluateResource(ctx context.Context, resource *engine.Resource) (*engine.PolicyResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []engine.PolicyViolation
	var warnings []string

	input := &PolicyInput{
		Resource: &inputResource{
			ID:     resource.ID,
			Type:   resource.Type,
			Name:   resource.Name,
			Phase:  string(resource.Phase),
			Config: resource.Config,
			Labels: resource.Labels,
		},
		Context: &PolicyContext{
			Timestamp: time.Now(),
			Operation: "validate",
		},
	}

	for _, p := range e.policies {
		if !p.Enabled {
			continue
		}

		vs, err := e.evaluatePolicy(ctx, p, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", p.Name).Str("resource", resource.ID).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", p.Name, err))
			continue
		}
		violations = append(violations, vs...)
	}

	return &engine.PolicyResult{
		Allowed:     allowed(violations),
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// LoadPolicies loads additional policy files from the given paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileCheck(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		e.policies[policies[i].Name] = &policies[i]
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")

	return nil
}

// ReplacePolicies swaps in a freshly loaded policy set while keeping the
// built-ins. Used by the hot-reload path.
func (e *Engine) ReplacePolicies(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*Policy)
	for _, p := range GetBuiltinPolicies() {
		policy := p
		next[policy.Name] = &policy
	}
	for i := range policies {
		if err := e.compileCheck(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
		next[policies[i].Name] = &policies[i]
	}

	e.policies = next
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return p, nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, *p)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	p.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}

// evaluatePolicy queries the policy's deny set against the input.
func (e *Engine) evaluatePolicy(ctx context.Context, p *Policy, input *PolicyInput) ([]engine.PolicyViolation, error) {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.toViolation(p, d, input))
		}
	}

	return violations, nil
}

// compileCheck verifies the policy's deny query prepares cleanly.
func (e *Engine) compileCheck(p *Policy) error {
	query := fmt.Sprintf("data.%s.deny", extractPackageName(p.Rego))

	r := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Query(query),
	)

	if _, err := r.PrepareForEval(context.Background()); err != nil {
		return err
	}
	return nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "ticketbridge.policies"
}

// toViolation converts a deny result into an engine.PolicyViolation.
func (e *Engine) toViolation(p *Policy, result interface{}, input *PolicyInput) engine.PolicyViolation {
	violation := engine.PolicyViolation{
		Policy:   p.Name,
		Severity: string(p.Severity),
	}

	if input.Resource != nil {
		violation.ResourceID = input.Resource.ID
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = sev
		}
		if res, ok := v["resource"].(string); ok {
			violation.ResourceID = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// allowed reports whether no blocking violations are present.
func allowed(violations []engine.PolicyViolation) bool {
	for i := range violations {
		if violations[i].Severity == string(SeverityError) || violations[i].Severity == string(SeverityCritical) {
			return false
		}
	}
	return true
}
