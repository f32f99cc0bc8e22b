package gate

import (
	"context"
	"errors"
	"time"
)

// BackendParams is the uniform parameter bundle every backend receives.
// Args is the opaque operation parameter map produced upstream.
type BackendParams struct {
	Workspace string
	Args      map[string]any
	Env       []string
	Timeout   time.Duration
	// OnLine receives output lines as the underlying tool emits them,
	// per-stream ordered.
	OnLine func(string)
}

// Backend is one adapter over a family of external tooling. A backend
// trusts it is only invoked post-approval; approval checks are exclusively
// the gateway's job.
type Backend interface {
	Name() string
	// Plan returns a dry-run preview, or ErrPlanUnsupported when the tool
	// family has no preview capability.
	Plan(ctx context.Context, p BackendParams) (*Plan, error)
	Apply(ctx context.Context, p BackendParams) (*ExecutionResult, error)
	Destroy(ctx context.Context, p BackendParams) (*ExecutionResult, error)
}

// BackendResolver picks the backend for a workspace by marker-file
// detection. Resolution is deterministic: a fixed priority order decides
// when several families could match.
type BackendResolver interface {
	Resolve(workspace string) (Backend, error)
}

// ErrPlanUnsupported is returned instead of a silently empty plan.
var ErrPlanUnsupported = errors.New("backend does not support plan preview")
