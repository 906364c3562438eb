package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// fakeProvider is an in-memory Provider for engine tests. Resources exist
// once applied; Read/Plan/Apply behavior can be overridden per test.
type fakeProvider struct {
	mu      sync.Mutex
	applied map[string]json.RawMessage
	// applyErrs returns an error for the nth apply of a resource ID.
	applyErrs map[string][]error
	applyLog  []string
	inputsLog map[string]map[string]map[string]string
	outputs   map[string]map[string]string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		applied:   make(map[string]json.RawMessage),
		applyErrs: make(map[string][]error),
		inputsLog: make(map[string]map[string]map[string]string),
		outputs:   make(map[string]map[string]string),
	}
}

func (p *fakeProvider) Init(ctx context.Context, config ProviderConfig) error { return nil }

func (p *fakeProvider) Read(ctx context.Context, req ReadRequest) (*ReadResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.applied[req.ResourceID]
	return &ReadResponse{State: state, Exists: ok}, nil
}

func (p *fakeProvider) Plan(ctx context.Context, req PlanRequest) (*PlanResponse, error) {
	if req.ActualState == nil {
		return &PlanResponse{Operation: OperationCreate}, nil
	}
	if string(req.ActualState) == string(req.DesiredState) {
		return &PlanResponse{Operation: OperationNoop}, nil
	}
	return &PlanResponse{Operation: OperationUpdate}, nil
}

func (p *fakeProvider) Apply(ctx context.Context, req ApplyRequest) (*ApplyResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if errs := p.applyErrs[req.ResourceID]; len(errs) > 0 {
		err := errs[0]
		p.applyErrs[req.ResourceID] = errs[1:]
		if err != nil {
			return nil, err
		}
	}

	p.applied[req.ResourceID] = req.DesiredState
	p.applyLog = append(p.applyLog, req.ResourceID)
	p.inputsLog[req.ResourceID] = req.Inputs

	return &ApplyResponse{
		NewState: req.DesiredState,
		Outputs:  p.outputs[req.ResourceID],
	}, nil
}

func (p *fakeProvider) Destroy(ctx context.Context, req DestroyRequest) (*DestroyResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.applied, req.ResourceID)
	p.applyLog = append(p.applyLog, "destroy:"+req.ResourceID)
	return &DestroyResponse{Success: true}, nil
}

func (p *fakeProvider) Validate(ctx context.Context, resourceType string, config json.RawMessage) error {
	return nil
}

func (p *fakeProvider) Metadata() ProviderMetadata {
	return ProviderMetadata{Name: "fake", Version: "0.0.1"}
}

// fakeRegistry resolves every name to the same fake provider.
type fakeRegistry struct {
	provider Provider
}

func (r *fakeRegistry) Register(name string, provider Provider) error { return nil }

func (r *fakeRegistry) Get(name string) (Provider, error) {
	if r.provider == nil {
		return nil, fmt.Errorf("provider %s not registered", name)
	}
	return r.provider, nil
}

func (r *fakeRegistry) List() []ProviderMetadata { return nil }

// memoryState is an in-memory StateManager for engine tests.
type memoryState struct {
	mu        sync.Mutex
	resources map[string]*Resource
	plans     map[string]*Plan
	runs      map[string]*Run
	events    map[string][]Event
	outputs   map[string]json.RawMessage
}

func newMemoryState() *memoryState {
	return &memoryState{
		resources: make(map[string]*Resource),
		plans:     make(map[string]*Plan),
		runs:      make(map[string]*Run),
		events:    make(map[string][]Event),
		outputs:   make(map[string]json.RawMessage),
	}
}

func (s *memoryState) GetResource(ctx context.Context, resourceID string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.resources[resourceID]
	if !ok {
		return nil, NewPermanentError("resource not found", nil).WithCode(ErrCodeNotFound)
	}
	copied := *res
	return &copied, nil
}

func (s *memoryState) SaveResource(ctx context.Context, resource *Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *resource
	s.resources[resource.ID] = &copied
	return nil
}

func (s *memoryState) DeleteResource(ctx context.Context, resourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, resourceID)
	return nil
}

func (s *memoryState) ListResources(ctx context.Context, selector map[string]string) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Resource, 0, len(s.resources))
	for _, res := range s.resources {
		out = append(out, *res)
	}
	return out, nil
}

func (s *memoryState) GetPlan(ctx context.Context, planID string) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[planID]
	if !ok {
		return nil, NewPermanentError("plan not found", nil).WithCode(ErrCodeNotFound)
	}
	return plan, nil
}

func (s *memoryState) SavePlan(ctx context.Context, plan *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = plan
	return nil
}

func (s *memoryState) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, NewPermanentError("run not found", nil).WithCode(ErrCodeNotFound)
	}
	copied := *run
	return &copied, nil
}

func (s *memoryState) SaveRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *run
	s.runs[run.ID] = &copied
	return nil
}

func (s *memoryState) ListRuns(ctx context.Context, environment string, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (s *memoryState) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RunID] = append(s.events[event.RunID], *event)
	return nil
}

func (s *memoryState) GetEvents(ctx context.Context, runID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[runID], nil
}

func (s *memoryState) SavePhaseOutputs(ctx context.Context, environment string, phase Phase, outputs json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[environment+"/"+string(phase)] = outputs
	return nil
}

func (s *memoryState) GetPhaseOutputs(ctx context.Context, environment string, phase Phase) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.outputs[environment+"/"+string(phase)]
	if !ok {
		return nil, NewPermanentError("phase outputs not found", nil).WithCode(ErrCodeNotFound)
	}
	return out, nil
}
