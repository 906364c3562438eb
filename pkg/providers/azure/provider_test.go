package azure

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

func TestDiffStatesNoChanges(t *testing.T) {
	desired := json.RawMessage(`{"name":"jirastprod","httpsOnly":true,"scale":{"minReplicas":0,"maxReplicas":3}}`)
	actual := json.RawMessage(`{"name":"jirastprod","httpsOnly":true,"scale":{"minReplicas":0,"maxReplicas":3},"id":"/subscriptions/x"}`)

	changes, err := diffStates(desired, actual)
	if err != nil {
		t.Fatalf("diffStates failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes, got %+v", changes)
	}
}

func TestDiffStatesDetectsDivergence(t *testing.T) {
	desired := json.RawMessage(`{"httpsOnly":true,"minimumTlsVersion":"TLS1_2","scale":{"maxReplicas":5}}`)
	actual := json.RawMessage(`{"httpsOnly":false,"minimumTlsVersion":"TLS1_2","scale":{"maxReplicas":3}}`)

	changes, err := diffStates(desired, actual)
	if err != nil {
		t.Fatalf("diffStates failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}

	paths := map[string]bool{}
	for _, c := range changes {
		paths[c.Path] = true
		if c.Action != engine.ChangeActionModify {
			t.Errorf("expected modify action, got %s", c.Action)
		}
	}
	if !paths[".httpsOnly"] || !paths[".scale.maxReplicas"] {
		t.Errorf("unexpected change paths: %v", paths)
	}
}

func TestDiffStatesIgnoresApplyOnlyFields(t *testing.T) {
	// principalSource is an apply input the actual state never echoes.
	desired := json.RawMessage(`{"scope":"/subscriptions/x","principalSource":"application.identity"}`)
	actual := json.RawMessage(`{"scope":"/subscriptions/x","assignmentName":"abc"}`)

	changes, err := diffStates(desired, actual)
	if err != nil {
		t.Fatalf("diffStates failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("fields absent from actual state should be ignored, got %+v", changes)
	}
}

func TestPlanOperations(t *testing.T) {
	p := NewProvider(zerolog.Nop())
	// Plan only needs the dispatch table, not live clients.
	p.handlers = map[string]resourceHandler{
		"azure.storage_account": &storageAccountHandler{},
		"azure.rbac_wait":       &rbacWaitHandler{},
	}
	p.initialized = true

	tests := []struct {
		name    string
		req     engine.PlanRequest
		wantOp  engine.OperationType
		changes int
	}{
		{
			name: "missing resource is created",
			req: engine.PlanRequest{
				ResourceID:   "foundation.storage",
				ResourceType: "azure.storage_account",
				DesiredState: json.RawMessage(`{"name":"jirastprod"}`),
			},
			wantOp: engine.OperationCreate,
		},
		{
			name: "missing wait becomes a wait operation",
			req: engine.PlanRequest{
				ResourceID:   "application.rbac_wait",
				ResourceType: "azure.rbac_wait",
				DesiredState: json.RawMessage(`{"scope":"/subscriptions/x"}`),
			},
			wantOp: engine.OperationWait,
		},
		{
			name: "converged resource is a noop",
			req: engine.PlanRequest{
				ResourceID:   "foundation.storage",
				ResourceType: "azure.storage_account",
				DesiredState: json.RawMessage(`{"name":"jirastprod","httpsOnly":true}`),
				ActualState:  json.RawMessage(`{"name":"jirastprod","httpsOnly":true,"id":"x"}`),
			},
			wantOp: engine.OperationNoop,
		},
		{
			name: "diverged resource is updated",
			req: engine.PlanRequest{
				ResourceID:   "foundation.storage",
				ResourceType: "azure.storage_account",
				DesiredState: json.RawMessage(`{"name":"jirastprod","httpsOnly":true}`),
				ActualState:  json.RawMessage(`{"name":"jirastprod","httpsOnly":false}`),
			},
			wantOp:  engine.OperationUpdate,
			changes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := p.Plan(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Plan failed: %v", err)
			}
			if resp.Operation != tt.wantOp {
				t.Errorf("expected operation %s, got %s", tt.wantOp, resp.Operation)
			}
			if len(resp.Changes) != tt.changes {
				t.Errorf("expected %d changes, got %d", tt.changes, len(resp.Changes))
			}
		})
	}
}

func TestUninitializedProviderRejectsOperations(t *testing.T) {
	p := NewProvider(zerolog.Nop())

	_, err := p.Read(context.Background(), engine.ReadRequest{
		ResourceID:   "foundation.storage",
		ResourceType: "azure.storage_account",
	})
	if err == nil {
		t.Fatal("expected error from uninitialized provider")
	}

	var engineErr *engine.Error
	if !errors.As(err, &engineErr) || engineErr.Code != engine.ErrCodeProviderFailed {
		t.Errorf("expected PROVIDER_FAILED, got %v", err)
	}
}

func TestUnsupportedResourceType(t *testing.T) {
	p := NewProvider(zerolog.Nop())
	p.handlers = map[string]resourceHandler{}
	p.initialized = true

	_, err := p.Plan(context.Background(), engine.PlanRequest{
		ResourceID:   "foundation.mystery",
		ResourceType: "azure.mystery_box",
	})
	if err == nil {
		t.Fatal("expected error for unknown resource type")
	}
}

type stubProvider struct {
	name string
}

func (s *stubProvider) Init(context.Context, engine.ProviderConfig) error { return nil }
func (s *stubProvider) Read(context.Context, engine.ReadRequest) (*engine.ReadResponse, error) {
	return &engine.ReadResponse{}, nil
}
func (s *stubProvider) Plan(context.Context, engine.PlanRequest) (*engine.PlanResponse, error) {
	return &engine.PlanResponse{}, nil
}
func (s *stubProvider) Apply(context.Context, engine.ApplyRequest) (*engine.ApplyResponse, error) {
	return &engine.ApplyResponse{}, nil
}
func (s *stubProvider) Destroy(context.Context, engine.DestroyRequest) (*engine.DestroyResponse, error) {
	return &engine.DestroyResponse{Success: true}, nil
}
func (s *stubProvider) Validate(context.Context, string, json.RawMessage) error { return nil }
func (s *stubProvider) Metadata() engine.ProviderMetadata {
	return engine.ProviderMetadata{Name: s.name}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("azure", &stubProvider{name: "azure"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("azure", &stubProvider{name: "azure"}); err == nil {
		t.Error("expected error on duplicate registration")
	}

	p, err := r.Get("azure")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Metadata().Name != "azure" {
		t.Errorf("unexpected provider %q", p.Metadata().Name)
	}

	if _, err := r.Get("gcp"); err == nil {
		t.Error("expected error for unregistered provider")
	}

	if got := len(r.List()); got != 1 {
		t.Errorf("expected 1 registered provider, got %d", got)
	}
}
