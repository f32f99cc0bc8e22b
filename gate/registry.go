package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const DefaultApprovalTTL = 30 * time.Minute

// ExecutorFunc performs the real work for one approved request. The
// registry guarantees at most one invocation per request id. A returned
// error is folded into a failed ExecutionResult; it never aborts the
// state transition.
type ExecutorFunc func(ctx context.Context, req ExecutionRequest, onLine func(string)) (*ExecutionResult, error)

// Registry owns the approval state machine:
//
//	CREATED -> {APPROVED, REJECTED, EXPIRED} -> EXECUTED
//
// Requests live in an in-memory pending map while undecided; terminal
// records move to History. The TTL governs only the unapproved window.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest

	classifier *Classifier
	history    History
	now        func() time.Time
	ttl        time.Duration
	log        *slog.Logger
}

type pendingRequest struct {
	req *ExecutionRequest
	// executing is flipped under the registry mutex before the executor
	// fn runs, so a concurrent Execute on the same id loses immediately.
	executing bool
}

type RegistryOption func(*Registry)

// WithClock injects the time source, for deterministic expiry tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

func NewRegistry(classifier *Classifier, history History, opts ...RegistryOption) (*Registry, error) {
	if classifier == nil {
		return nil, fmt.Errorf("nil classifier")
	}
	if history == nil {
		history = NewMemoryHistory()
	}
	r := &Registry{
		pending:    make(map[string]*pendingRequest),
		classifier: classifier,
		history:    history,
		now:        time.Now,
		ttl:        DefaultApprovalTTL,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateParams carries the caller-supplied fields for a new request; the
// registry fills in everything risk-derived.
type CreateParams struct {
	Operation         string
	Description       string
	Parameters        map[string]any
	Environment       string
	AffectedResources []string
	DurationEstimate  time.Duration
}

// Create builds a new pending request from classifier output. A
// confirmation phrase is attached only when the classified risk is
// critical.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*ExecutionRequest, error) {
	_ = ctx
	op := strings.TrimSpace(p.Operation)
	if op == "" {
		return nil, fmt.Errorf("missing operation name")
	}

	now := r.now()
	req := &ExecutionRequest{
		ID:                NewRequestID(),
		Operation:         op,
		Category:          r.classifier.Category(op),
		Risk:              r.classifier.Classify(op, p.Parameters, p.Environment),
		Description:       strings.TrimSpace(p.Description),
		Warnings:          r.classifier.Warnings(op, p.Parameters, p.Environment),
		Parameters:        p.Parameters,
		Environment:       strings.TrimSpace(p.Environment),
		DurationEstimate:  p.DurationEstimate,
		AffectedResources: append([]string(nil), p.AffectedResources...),
		CreatedAt:         now,
		ExpiresAt:         now.Add(r.ttl),
	}
	if phrase, ok := r.classifier.ConfirmationPhrase(op, p.Environment); ok {
		req.RequiresConfirmation = true
		req.ConfirmationPhrase = phrase
	}
	if rb := r.classifier.RollbackInfo(op); rb.Available {
		req.RollbackPlan = rb.Instructions
	}

	r.mu.Lock()
	r.pending[req.ID] = &pendingRequest{req: req}
	r.mu.Unlock()

	r.log.Info("request_created",
		"id", req.ID,
		"operation", req.Operation,
		"risk", req.Risk.String(),
		"environment", req.Environment,
	)
	return req.clone(), nil
}

// Get returns a copy of one pending request.
func (r *Registry) Get(id string) (*ExecutionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return p.req.clone(), nil
}

// Approve marks a pending request as approved. Approval and execution are
// deliberately separate phases so a caller can show "approved, about to
// run" before anything happens.
func (r *Registry) Approve(ctx context.Context, id, approver, confirmationInput string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return ErrRequestNotFound
	}
	if r.expiredLocked(p.req) {
		r.evictExpiredLocked(p.req)
		return ErrRequestExpired
	}
	if p.req.Approved {
		return ErrAlreadyApproved
	}
	if p.req.RequiresConfirmation {
		supplied := normalizePhrase(confirmationInput)
		if supplied == "" {
			return fmt.Errorf("%w: type %q to approve", ErrConfirmationRequired, p.req.ConfirmationPhrase)
		}
		if supplied != normalizePhrase(p.req.ConfirmationPhrase) {
			return fmt.Errorf("%w: expected %q", ErrConfirmationMismatch, p.req.ConfirmationPhrase)
		}
	}

	now := r.now()
	p.req.Approved = true
	p.req.ApprovedAt = &now
	p.req.ApprovedBy = strings.TrimSpace(approver)

	r.log.Info("request_approved", "id", id, "approver", p.req.ApprovedBy)
	return nil
}

// Reject removes a pending request. The terminal record is kept in
// history for audit.
func (r *Registry) Reject(ctx context.Context, id, approver, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return ErrRequestNotFound
	}
	if p.executing || p.req.Executed {
		return ErrAlreadyExecuted
	}

	p.req.Status = StatusRejected
	p.req.RejectedBy = strings.TrimSpace(approver)
	p.req.RejectedReason = strings.TrimSpace(reason)
	delete(r.pending, id)

	if err := r.history.Append(ctx, *p.req.clone()); err != nil {
		r.log.Warn("history_append_error", "id", id, "error", err.Error())
	}
	r.log.Info("request_rejected", "id", id, "approver", p.req.RejectedBy)
	return nil
}

// Execute runs fn for an approved request, exactly once per id even under
// concurrent callers. The executing flag flips under the mutex before fn
// is invoked; the loser of a race observes ErrAlreadyExecuted. On return
// the terminal record has moved to history and left the pending set.
func (r *Registry) Execute(ctx context.Context, id string, fn ExecutorFunc, onLine func(string)) (*ExecutionResult, error) {
	if fn == nil {
		return nil, fmt.Errorf("nil executor fn")
	}

	r.mu.Lock()
	p, ok := r.pending[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRequestNotFound
	}
	if !p.req.Approved {
		r.mu.Unlock()
		return nil, ErrNotApproved
	}
	if p.executing || p.req.Executed {
		r.mu.Unlock()
		return nil, ErrAlreadyExecuted
	}
	p.executing = true
	snapshot := *p.req.clone()
	r.mu.Unlock()

	started := r.now()
	result, err := fn(ctx, snapshot, onLine)
	if result == nil {
		result = &ExecutionResult{}
	}
	if err != nil {
		// Launch failures become a failed result, never a raw fault.
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
	if result.Duration == 0 {
		result.Duration = r.now().Sub(started)
	}

	r.mu.Lock()
	p.req.Executed = true
	p.req.Result = result
	p.req.Status = StatusExecuted
	delete(r.pending, id)
	terminal := *p.req.clone()
	r.mu.Unlock()

	if err := r.history.Append(ctx, terminal); err != nil {
		r.log.Warn("history_append_error", "id", id, "error", err.Error())
	}
	r.log.Info("request_executed",
		"id", id,
		"operation", terminal.Operation,
		"success", result.Success,
		"duration", result.Duration.String(),
	)
	return result, nil
}

// ListPending lazily evicts expired unapproved requests and returns the
// remainder, oldest first.
func (r *Registry) ListPending() []ExecutionRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ExecutionRequest
	for _, p := range r.pending {
		if r.expiredLocked(p.req) {
			r.evictExpiredLocked(p.req)
			continue
		}
		out = append(out, *p.req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListHistory returns a bounded, most-recent tail of the terminal log.
func (r *Registry) ListHistory(ctx context.Context, limit int, operation string) ([]ExecutionRequest, error) {
	return r.history.List(ctx, limit, operation)
}

// expiredLocked: the TTL only governs the unapproved window; approved
// requests wait for Execute regardless of the deadline.
func (r *Registry) expiredLocked(req *ExecutionRequest) bool {
	return !req.Approved && r.now().After(req.ExpiresAt)
}

func (r *Registry) evictExpiredLocked(req *ExecutionRequest) {
	req.Status = StatusExpired
	delete(r.pending, req.ID)
	if err := r.history.Append(context.Background(), *req.clone()); err != nil {
		r.log.Warn("history_append_error", "id", req.ID, "error", err.Error())
	}
	r.log.Info("request_expired", "id", req.ID, "operation", req.Operation)
}

func (req *ExecutionRequest) clone() *ExecutionRequest {
	cp := *req
	cp.Warnings = append([]Warning(nil), req.Warnings...)
	cp.AffectedResources = append([]string(nil), req.AffectedResources...)
	if req.Parameters != nil {
		params := make(map[string]any, len(req.Parameters))
		for k, v := range req.Parameters {
			params[k] = v
		}
		cp.Parameters = params
	}
	if req.Result != nil {
		res := *req.Result
		res.AffectedResources = append([]string(nil), req.Result.AffectedResources...)
		res.Logs = append([]string(nil), req.Result.Logs...)
		cp.Result = &res
	}
	return &cp
}

// normalizePhrase compares confirmation input case-insensitively with
// collapsed whitespace.
func normalizePhrase(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
