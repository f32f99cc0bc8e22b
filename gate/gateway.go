package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Gateway is the single entry point collaborators call: it classifies risk,
// gates execution behind the approval registry, dispatches approved work to
// the detected backend, and mirrors every transition to the audit sink.
type Gateway struct {
	registry *Registry
	resolver BackendResolver
	redactor *Redactor
	audit    AuditSink
	log      *slog.Logger

	execTimeout time.Duration
}

type GatewayOption func(*Gateway)

func WithAuditSink(sink AuditSink) GatewayOption {
	return func(g *Gateway) { g.audit = sink }
}

func WithRedactor(r *Redactor) GatewayOption {
	return func(g *Gateway) {
		if r != nil {
			g.redactor = r
		}
	}
}

func WithExecTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.execTimeout = d
		}
	}
}

func WithGatewayLogger(log *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

func NewGateway(registry *Registry, resolver BackendResolver, opts ...GatewayOption) (*Gateway, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil registry")
	}
	g := &Gateway{
		registry:    registry,
		resolver:    resolver,
		redactor:    NewRedactor(RedactionConfig{}),
		log:         slog.Default(),
		execTimeout: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Request creates a pending execution request for an upstream-supplied
// operation name, parameter map and environment.
func (g *Gateway) Request(ctx context.Context, p CreateParams) (*ExecutionRequest, error) {
	req, err := g.registry.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	g.emit(ctx, req, AuditCreated, "", "")
	return req, nil
}

func (g *Gateway) Approve(ctx context.Context, id, approver, confirmationInput string) error {
	req, getErr := g.registry.Get(id)
	err := g.registry.Approve(ctx, id, approver, confirmationInput)
	if err != nil {
		if errors.Is(err, ErrRequestExpired) && getErr == nil {
			g.emit(ctx, req, AuditExpired, approver, "")
		}
		return err
	}
	if req != nil {
		g.emit(ctx, req, AuditApproved, approver, "")
	}
	return nil
}

func (g *Gateway) Reject(ctx context.Context, id, approver, reason string) error {
	req, getErr := g.registry.Get(id)
	if err := g.registry.Reject(ctx, id, approver, reason); err != nil {
		return err
	}
	if getErr == nil {
		g.emit(ctx, req, AuditRejected, approver, reason)
	}
	return nil
}

// Execute runs one approved request against the backend detected in
// workspace. Destructive operations route to Destroy, everything else to
// Apply; backends never re-check approval state themselves. Every failure
// mode of the execution phase comes back inside the result.
func (g *Gateway) Execute(ctx context.Context, id, workspace string, onLine func(string)) (*ExecutionResult, error) {
	backend, err := g.resolveBackend(workspace)
	if err != nil {
		return nil, err
	}

	req, getErr := g.registry.Get(id)
	result, err := g.registry.Execute(ctx, id, func(ctx context.Context, req ExecutionRequest, onLine func(string)) (*ExecutionResult, error) {
		p := BackendParams{
			Workspace: workspace,
			Args:      req.Parameters,
			Timeout:   g.execTimeout,
			OnLine:    onLine,
		}
		if destructiveOperation(req.Operation) {
			return backend.Destroy(ctx, p)
		}
		return backend.Apply(ctx, p)
	}, onLine)
	if err != nil {
		return nil, err
	}

	if getErr == nil {
		e := g.event(req, AuditExecuted, req.ApprovedBy, "")
		e.Success = &result.Success
		e.Duration = result.Duration.String()
		g.emitEvent(ctx, e)
	}
	return result, nil
}

// Plan previews changes without an approval cycle; it is read-only from
// the gateway's point of view.
func (g *Gateway) Plan(ctx context.Context, workspace string, args map[string]any, onLine func(string)) (*Plan, error) {
	backend, err := g.resolveBackend(workspace)
	if err != nil {
		return nil, err
	}
	return backend.Plan(ctx, BackendParams{
		Workspace: workspace,
		Args:      args,
		Timeout:   g.execTimeout,
		OnLine:    onLine,
	})
}

func (g *Gateway) Pending() []ExecutionRequest {
	return g.registry.ListPending()
}

func (g *Gateway) History(ctx context.Context, limit int, operation string) ([]ExecutionRequest, error) {
	return g.registry.ListHistory(ctx, limit, operation)
}

// View returns the UI projection for one pending request.
func (g *Gateway) View(id string) (*RequestView, error) {
	req, err := g.registry.Get(id)
	if err != nil {
		return nil, err
	}
	v := FormatRequestForUI(req, g.redactor)
	return &v, nil
}

func (g *Gateway) resolveBackend(workspace string) (Backend, error) {
	if g.resolver == nil {
		return nil, ErrUnsupportedOperation
	}
	backend, err := g.resolver.Resolve(workspace)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, err.Error())
	}
	return backend, nil
}

func (g *Gateway) emit(ctx context.Context, req *ExecutionRequest, action AuditAction, actor, reason string) {
	if g.audit == nil || req == nil {
		return
	}
	g.emitEvent(ctx, g.event(req, action, actor, reason))
}

func (g *Gateway) event(req *ExecutionRequest, action AuditAction, actor, reason string) AuditEvent {
	ts := time.Now().UTC()
	hash, err := RequestHash(req.Operation, req.Environment, req.Parameters)
	if err != nil {
		hash = ""
	}
	return AuditEvent{
		EventID:         newEventID(req.ID, action, ts),
		RequestID:       req.ID,
		Timestamp:       ts,
		Action:          action,
		Operation:       req.Operation,
		Category:        req.Category,
		Environment:     req.Environment,
		Risk:            req.Risk,
		Actor:           strings.TrimSpace(actor),
		Reason:          strings.TrimSpace(reason),
		ParamsHash:      hash,
		SummaryRedacted: g.redactor.SummarizeParams(req.Operation, req.Parameters),
	}
}

func (g *Gateway) emitEvent(ctx context.Context, e AuditEvent) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Emit(ctx, e); err != nil {
		g.log.Warn("audit_emit_error", "request_id", e.RequestID, "error", err.Error())
	}
}

// destructiveOperation routes delete-flavored operations to the backend's
// Destroy verb. rollback_migration is included because a migration
// rollback is the tool's down command, unlike a deployment rollback which
// re-applies an earlier state.
func destructiveOperation(operation string) bool {
	op := normalizeOperation(operation)
	if op == "rollback_migration" {
		return true
	}
	for _, needle := range []string{"destroy", "delete", "uninstall", "teardown"} {
		if strings.Contains(op, needle) {
			return true
		}
	}
	return false
}
