package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	r, err := NewRegistry(newTestClassifier(t), NewMemoryHistory(), opts...)
	if err != nil {
		t.Fatalf("NewRegistry error: %v", err)
	}
	return r
}

func okResult() *ExecutionResult {
	return &ExecutionResult{Success: true, Duration: time.Second}
}

func TestRegistry_CreateFillsRiskFields(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, err := r.Create(ctx, CreateParams{
		Operation:   "destroy_infrastructure",
		Environment: "production",
		Parameters:  map[string]any{"workspace": "core"},
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if req.ID == "" {
		t.Fatal("missing request id")
	}
	if req.Risk != RiskCritical {
		t.Fatalf("risk = %v, want critical", req.Risk)
	}
	if !req.RequiresConfirmation || req.ConfirmationPhrase != "DESTROY PRODUCTION" {
		t.Fatalf("confirmation = %v %q", req.RequiresConfirmation, req.ConfirmationPhrase)
	}
	if len(req.Warnings) == 0 {
		t.Fatal("expected warnings")
	}
	if !req.ExpiresAt.Equal(req.CreatedAt.Add(DefaultApprovalTTL)) {
		t.Fatalf("expiry = %v, want created+%v", req.ExpiresAt, DefaultApprovalTTL)
	}
}

func TestRegistry_CreateRejectsEmptyOperation(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Create(context.Background(), CreateParams{Operation: "  "}); err == nil {
		t.Fatal("expected error for empty operation")
	}
}

func TestRegistry_ApproveTwice(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, err := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := r.Approve(ctx, req.ID, "alice", ""); err != nil {
		t.Fatalf("first Approve error: %v", err)
	}
	if err := r.Approve(ctx, req.ID, "bob", ""); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("second Approve = %v, want ErrAlreadyApproved", err)
	}

	got, err := r.Get(req.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ApprovedBy != "alice" {
		t.Fatalf("approver = %q, want alice", got.ApprovedBy)
	}
}

func TestRegistry_ApproveUnknownID(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Approve(context.Background(), "req_missing", "alice", ""); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("Approve = %v, want ErrRequestNotFound", err)
	}
}

func TestRegistry_ConfirmationPhrase(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, err := r.Create(ctx, CreateParams{Operation: "destroy_infrastructure", Environment: "production"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := r.Approve(ctx, req.ID, "alice", ""); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("empty input = %v, want ErrConfirmationRequired", err)
	}
	if err := r.Approve(ctx, req.ID, "alice", "DESTROY STAGING"); !errors.Is(err, ErrConfirmationMismatch) {
		t.Fatalf("wrong phrase = %v, want ErrConfirmationMismatch", err)
	}
	// Case and whitespace are forgiven.
	if err := r.Approve(ctx, req.ID, "alice", "  destroy   Production "); err != nil {
		t.Fatalf("normalized phrase rejected: %v", err)
	}
}

func TestRegistry_ExecuteRequiresApproval(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, _ := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})
	_, err := r.Execute(ctx, req.ID, func(context.Context, ExecutionRequest, func(string)) (*ExecutionResult, error) {
		return okResult(), nil
	}, nil)
	if !errors.Is(err, ErrNotApproved) {
		t.Fatalf("Execute = %v, want ErrNotApproved", err)
	}
}

func TestRegistry_ExecuteExactlyOnce(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, _ := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})
	if err := r.Approve(ctx, req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	var runs int32
	fn := func(context.Context, ExecutionRequest, func(string)) (*ExecutionResult, error) {
		atomic.AddInt32(&runs, 1)
		time.Sleep(10 * time.Millisecond)
		return okResult(), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Execute(ctx, req.ID, fn, nil)
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("executor ran %d times, want 1", got)
	}
	var ok int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyExecuted) || errors.Is(err, ErrRequestNotFound):
		default:
			t.Fatalf("unexpected Execute error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d callers succeeded, want exactly 1", ok)
	}
}

func TestRegistry_ExecuteFoldsFnError(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, _ := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})
	if err := r.Approve(ctx, req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve error: %v", err)
	}

	res, err := r.Execute(ctx, req.ID, func(context.Context, ExecutionRequest, func(string)) (*ExecutionResult, error) {
		return nil, errors.New("binary not found")
	}, nil)
	if err != nil {
		t.Fatalf("Execute error = %v, want nil (failure folded into result)", err)
	}
	if res.Success {
		t.Fatal("result should not be successful")
	}
	if res.Error != "binary not found" {
		t.Fatalf("result error = %q", res.Error)
	}

	// The request is terminal either way.
	if _, err := r.Get(req.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("Get after execute = %v, want ErrRequestNotFound", err)
	}
	hist, err := r.ListHistory(ctx, 0, "")
	if err != nil {
		t.Fatalf("ListHistory error: %v", err)
	}
	if len(hist) != 1 || hist[0].Status != StatusExecuted {
		t.Fatalf("history = %+v, want one executed record", hist)
	}
}

func TestRegistry_TTLExpiry(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start
	r := newTestRegistry(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	req, _ := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})

	// At exactly 30 minutes the request is still approvable.
	now = start.Add(30 * time.Minute)
	reqB, _ := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})

	if err := r.Approve(ctx, req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve at deadline = %v, want nil", err)
	}

	// One minute later the second, unapproved request has expired.
	now = start.Add(31 * time.Minute)
	if err := r.Approve(ctx, reqB.ID, "alice", ""); !errors.Is(err, ErrRequestExpired) {
		t.Fatalf("Approve after expiry = %v, want ErrRequestExpired", err)
	}

	// The approved request survives past the deadline.
	now = start.Add(24 * time.Hour)
	res, err := r.Execute(ctx, req.ID, func(context.Context, ExecutionRequest, func(string)) (*ExecutionResult, error) {
		return okResult(), nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute of approved request after TTL: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}

	hist, err := r.ListHistory(ctx, 0, "")
	if err != nil {
		t.Fatalf("ListHistory error: %v", err)
	}
	var expired, executed int
	for _, h := range hist {
		switch h.Status {
		case StatusExpired:
			expired++
		case StatusExecuted:
			executed++
		}
	}
	if expired != 1 || executed != 1 {
		t.Fatalf("history statuses: expired=%d executed=%d, want 1/1", expired, executed)
	}
}

func TestRegistry_RejectRecordsHistory(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, _ := r.Create(ctx, CreateParams{Operation: "run_migration", Environment: "dev"})
	if err := r.Reject(ctx, req.ID, "bob", "wrong window"); err != nil {
		t.Fatalf("Reject error: %v", err)
	}
	if _, err := r.Get(req.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("Get after reject = %v, want ErrRequestNotFound", err)
	}

	hist, err := r.ListHistory(ctx, 0, "")
	if err != nil {
		t.Fatalf("ListHistory error: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("history len = %d, want 1", len(hist))
	}
	h := hist[0]
	if h.Status != StatusRejected || h.RejectedBy != "bob" || h.RejectedReason != "wrong window" {
		t.Fatalf("rejected record = %+v", h)
	}
}

func TestRegistry_ListPendingEvictsExpired(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start
	r := newTestRegistry(t, WithClock(func() time.Time { return now }), WithTTL(10*time.Minute))
	ctx := context.Background()

	old, _ := r.Create(ctx, CreateParams{Operation: "deploy_application", Environment: "dev"})

	now = start.Add(5 * time.Minute)
	fresh, _ := r.Create(ctx, CreateParams{Operation: "restart_service", Environment: "dev"})

	now = start.Add(11 * time.Minute)
	pending := r.ListPending()
	if len(pending) != 1 {
		t.Fatalf("pending len = %d, want 1", len(pending))
	}
	if pending[0].ID != fresh.ID {
		t.Fatalf("pending id = %s, want %s", pending[0].ID, fresh.ID)
	}
	if _, err := r.Get(old.ID); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expired request still retrievable: %v", err)
	}
}

func TestRegistry_CloneIsolation(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	req, _ := r.Create(ctx, CreateParams{
		Operation:   "deploy_application",
		Environment: "dev",
		Parameters:  map[string]any{"image": "app:v1"},
	})
	req.Parameters["image"] = "tampered"
	req.Operation = "tampered"

	got, err := r.Get(req.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Operation != "deploy_application" || got.Parameters["image"] != "app:v1" {
		t.Fatalf("registry state mutated through returned copy: %+v", got)
	}
}
